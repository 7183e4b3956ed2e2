package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskforge/internal/model"
)

func scheduleGroupMember(t *testing.T, s *Scheduler, group string) *model.Task {
	t.Helper()

	task, err := s.Schedule(context.Background(), TaskSpec{
		Name:       "member",
		HandlerRef: "noop",
		Type:       model.TaskTypeOneTime,
		StartTime:  time.Now().Add(time.Hour),
		Group:      group,
	})
	require.NoError(t, err)
	return task
}

func TestGroups(t *testing.T) {
	s, _, _ := newTestScheduler(t, fastOptions())
	ctx := context.Background()

	t.Run("CreateAndList", func(t *testing.T) {
		require.NoError(t, s.CreateGroup(ctx, "reports"))
		assert.ErrorIs(t, s.CreateGroup(ctx, "reports"), ErrGroupExists)

		groups := s.ListGroups()
		require.Len(t, groups, 1)
		assert.Equal(t, "reports", groups[0].Name)
	})

	t.Run("AutoCreateOnFirstReference", func(t *testing.T) {
		task := scheduleGroupMember(t, s, "nightly")

		groups := s.ListGroups()
		var nightly *model.Group
		for _, g := range groups {
			if g.Name == "nightly" {
				nightly = g
			}
		}
		require.NotNil(t, nightly)
		assert.Equal(t, []string{task.ID}, nightly.TaskIDs)
	})

	t.Run("CancelGroup", func(t *testing.T) {
		a := scheduleGroupMember(t, s, "batch")
		b := scheduleGroupMember(t, s, "batch")
		c := scheduleGroupMember(t, s, "batch")

		require.NoError(t, s.CancelGroup(ctx, "batch"))

		for _, task := range []*model.Task{a, b, c} {
			got, err := s.Get(task.ID)
			require.NoError(t, err)
			assert.Equal(t, model.TaskStatusCancelled, got.Status)
		}
	})

	t.Run("CancelGroupCollectsPartialFailures", func(t *testing.T) {
		a := scheduleGroupMember(t, s, "mixed")
		b := scheduleGroupMember(t, s, "mixed")
		require.NoError(t, s.Cancel(ctx, a.ID))

		// a is already terminal, so the group cancel reports it but still
		// cancels b
		err := s.CancelGroup(ctx, "mixed")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidState)

		got, gerr := s.Get(b.ID)
		require.NoError(t, gerr)
		assert.Equal(t, model.TaskStatusCancelled, got.Status)
	})

	t.Run("DeleteGroupDetachesMembers", func(t *testing.T) {
		task := scheduleGroupMember(t, s, "transient")

		require.NoError(t, s.DeleteGroup(ctx, "transient"))
		assert.ErrorIs(t, s.DeleteGroup(ctx, "transient"), ErrGroupNotFound)

		// The member survives, just detached
		got, err := s.Get(task.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Group)
		assert.Equal(t, model.TaskStatusScheduled, got.Status)
	})

	t.Run("StatisticsAggregateMembers", func(t *testing.T) {
		a := scheduleGroupMember(t, s, "aggregated")
		b := scheduleGroupMember(t, s, "aggregated")

		_, err := s.store.Update(a.ID, func(task *model.Task) error {
			task.Statistics.Record(100*time.Millisecond, true)
			task.Statistics.Record(200*time.Millisecond, true)
			return nil
		})
		require.NoError(t, err)
		_, err = s.store.Update(b.ID, func(task *model.Task) error {
			task.Statistics.Record(300*time.Millisecond, false)
			return nil
		})
		require.NoError(t, err)

		stats, err := s.GroupStatistics("aggregated")
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TaskCount)
		assert.Equal(t, 3, stats.TotalRuns)
		assert.Equal(t, 2, stats.SuccessCount)
		assert.Equal(t, 1, stats.FailureCount)
		assert.Equal(t, 200*time.Millisecond, stats.AverageDuration)
	})

	t.Run("StatisticsUnknownGroup", func(t *testing.T) {
		_, err := s.GroupStatistics("missing")
		assert.ErrorIs(t, err, ErrGroupNotFound)
	})
}
