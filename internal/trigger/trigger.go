// Package trigger computes fire times for one-time and periodic jobs.
// It is pure: no I/O, no clock access, every function takes its reference
// time as an argument.
package trigger

import (
	"errors"
	"net/url"
	"time"

	"github.com/gettalent/scheduler-service/internal/domain"
)

// ErrExhausted means no further valid fire time exists for the job; the
// caller is expected to retire it.
var ErrExhausted = errors.New("trigger exhausted")

// Validate enforces every construction invariant of a job definition.
// minLead is the minimum distance into the future a one-time run must be,
// to avoid racing the immediate tick.
func Validate(job *domain.Job, now time.Time, minLead time.Duration) error {
	if job.TargetURL == "" {
		return domain.NewValidationError("url", "is required")
	}
	u, err := url.Parse(job.TargetURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return domain.NewValidationError("url", "must be an absolute URL")
	}

	switch job.TriggerKind {
	case domain.TriggerOneTime:
		if job.Interval != 0 || !job.StartAt.IsZero() || !job.EndAt.IsZero() {
			return domain.NewValidationError("task_type", "one_time job must not carry periodic fields")
		}
		if job.RunAt.IsZero() {
			return domain.NewValidationError("run_datetime", "is required")
		}
		if !job.RunAt.After(now.Add(minLead)) {
			return domain.NewValidationError("run_datetime", "must be in the future")
		}
	case domain.TriggerPeriodic:
		if !job.RunAt.IsZero() {
			return domain.NewValidationError("task_type", "periodic job must not carry run_datetime")
		}
		if job.Interval <= 0 {
			return domain.NewValidationError("frequency", "must be a positive interval")
		}
		if job.StartAt.IsZero() {
			return domain.NewValidationError("start_datetime", "is required")
		}
		if job.EndAt.IsZero() {
			return domain.NewValidationError("end_datetime", "is required")
		}
		if !job.EndAt.After(job.StartAt) {
			return domain.NewValidationError("end_datetime", "must be after start_datetime")
		}
		if job.EndAt.Sub(job.StartAt) < job.Interval {
			return domain.NewValidationError("end_datetime", "window is shorter than one interval")
		}
		if !job.EndAt.After(now) {
			return domain.NewValidationError("end_datetime", "must be in the future")
		}
	default:
		return domain.NewValidationError("task_type", "must be one_time or periodic")
	}
	return nil
}

// FirstFire returns the first fire time at or after now.
//
// A one-time job fires at RunAt. A periodic job fires at StartAt when that
// is still ahead, otherwise at the smallest StartAt + n*Interval >= now.
// ErrExhausted is returned when that value would pass EndAt.
func FirstFire(job *domain.Job, now time.Time) (time.Time, error) {
	switch job.TriggerKind {
	case domain.TriggerOneTime:
		if job.RunAt.Before(now) {
			return time.Time{}, ErrExhausted
		}
		return job.RunAt, nil
	case domain.TriggerPeriodic:
		at := job.StartAt
		if at.Before(now) {
			elapsed := now.Sub(job.StartAt)
			steps := elapsed / job.Interval
			if elapsed%job.Interval != 0 {
				steps++
			}
			at = job.StartAt.Add(steps * job.Interval)
		}
		if at.After(job.EndAt) {
			return time.Time{}, ErrExhausted
		}
		return at, nil
	}
	return time.Time{}, ErrExhausted
}

// NextFire returns the fire time following lastFired. One-time jobs fire
// exactly once, so it always reports ErrExhausted for them.
func NextFire(job *domain.Job, lastFired time.Time) (time.Time, error) {
	if job.TriggerKind != domain.TriggerPeriodic {
		return time.Time{}, ErrExhausted
	}
	next := lastFired.Add(job.Interval)
	if next.After(job.EndAt) {
		return time.Time{}, ErrExhausted
	}
	return next, nil
}
