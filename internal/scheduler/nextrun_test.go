package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskforge/internal/model"
)

func TestNextRun(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	t.Run("OneTimeFutureStart", func(t *testing.T) {
		start := now.Add(2 * time.Hour)
		next, err := NextRun(model.TaskTypeOneTime, "", start, now)
		require.NoError(t, err)
		assert.Equal(t, start, next)
	})

	t.Run("OneTimePastStart", func(t *testing.T) {
		start := now.Add(-2 * time.Hour)
		next, err := NextRun(model.TaskTypeOneTime, "", start, now)
		require.NoError(t, err)
		assert.Equal(t, now, next)
	})

	t.Run("PeriodicLaterToday", func(t *testing.T) {
		next, err := NextRun(model.TaskTypePeriodic, "18:45", now, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 10, 18, 45, 0, 0, time.UTC), next)
	})

	t.Run("PeriodicAlreadyPassedRollsToTomorrow", func(t *testing.T) {
		next, err := NextRun(model.TaskTypePeriodic, "09:00", now, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), next)
	})

	t.Run("PeriodicExactlyNowRollsToTomorrow", func(t *testing.T) {
		next, err := NextRun(model.TaskTypePeriodic, "14:30", now, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 11, 14, 30, 0, 0, time.UTC), next)
	})

	t.Run("PeriodicInvalidSpec", func(t *testing.T) {
		_, err := NextRun(model.TaskTypePeriodic, "25:99", now, now)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrScheduleComputation)
	})

	t.Run("CronEveryFiveMinutes", func(t *testing.T) {
		next, err := NextRun(model.TaskTypeCron, "*/5 * * * *", now, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 10, 14, 35, 0, 0, time.UTC), next)
	})

	t.Run("CronDailyAtMidnight", func(t *testing.T) {
		next, err := NextRun(model.TaskTypeCron, "0 0 * * *", now, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("CronInvalidExpression", func(t *testing.T) {
		_, err := NextRun(model.TaskTypeCron, "not a cron spec", now, now)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrScheduleComputation)
	})

	t.Run("IntervalSeconds", func(t *testing.T) {
		next, err := NextRun(model.TaskTypeInterval, "90", now, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(90*time.Second), next)
	})

	t.Run("IntervalNotANumber", func(t *testing.T) {
		_, err := NextRun(model.TaskTypeInterval, "ninety", now, now)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrScheduleComputation)
	})

	t.Run("IntervalNonPositive", func(t *testing.T) {
		_, err := NextRun(model.TaskTypeInterval, "0", now, now)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrScheduleComputation)

		_, err = NextRun(model.TaskTypeInterval, "-5", now, now)
		assert.ErrorIs(t, err, ErrScheduleComputation)
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := NextRun(model.TaskType("weekly"), "", now, now)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrScheduleComputation)
	})
}
