// Package store persists job definitions and their mutable scheduling
// state. The scheduler core only depends on the Store interface; Postgres
// backs production and Memory backs development and tests.
package store

import (
	"context"
	"time"

	"github.com/gettalent/scheduler-service/internal/domain"
)

// Cursor marks a position in the (created_at, job_id) ordering used for
// list pagination.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListFilter narrows and pages a List call.
type ListFilter struct {
	OwnerID  string
	PageSize int
	Cursor   *Cursor
}

// Store is the persistence contract for job records.
type Store interface {
	// Create inserts a new job record. The job id must be unique.
	Create(ctx context.Context, job *domain.Job) error

	// Get returns the job with the given id, or domain.ErrJobNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Delete removes the job record, or returns domain.ErrJobNotFound.
	Delete(ctx context.Context, id string) error

	// List returns jobs matching the filter, newest first. When PageSize
	// is positive it returns at most PageSize+1 rows so the caller can
	// detect a further page.
	List(ctx context.Context, filter ListFilter) ([]domain.Job, error)

	// ListAll returns every job record; used to reload the scheduler at
	// startup.
	ListAll(ctx context.Context) ([]domain.Job, error)

	// UpdateSchedule writes the mutable scheduling fields of a single job.
	// nextFireAt is nil for paused or exhausted jobs.
	UpdateSchedule(ctx context.Context, id string, nextFireAt *time.Time, active bool) error
}
