package scheduler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t77yq/taskforge/internal/model"
)

// NextRun computes when a task becomes due. It is a pure function of the
// task's type, schedule spec, start time and the supplied clock reading.
//
//   - one_time: the start time, or now when the start time has passed
//   - periodic: the next "HH:MM" wall-clock occurrence strictly after now
//   - cron: the next instant of a 5-field cron expression strictly after now
//   - interval: now plus the spec's whole number of seconds
func NextRun(taskType model.TaskType, spec string, startTime, now time.Time) (time.Time, error) {
	switch taskType {
	case model.TaskTypeOneTime:
		if startTime.After(now) {
			return startTime, nil
		}
		return now, nil

	case model.TaskTypePeriodic:
		at, err := time.Parse("15:04", spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid time of day %q: %v", ErrScheduleComputation, spec, err)
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case model.TaskTypeCron:
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid cron expression %q: %v", ErrScheduleComputation, spec, err)
		}
		return schedule.Next(now), nil

	case model.TaskTypeInterval:
		seconds, err := strconv.Atoi(spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid interval %q: %v", ErrScheduleComputation, spec, err)
		}
		if seconds <= 0 {
			return time.Time{}, fmt.Errorf("%w: interval must be positive, got %d", ErrScheduleComputation, seconds)
		}
		return now.Add(time.Duration(seconds) * time.Second), nil

	default:
		return time.Time{}, fmt.Errorf("%w: unknown task type %q", ErrScheduleComputation, taskType)
	}
}
