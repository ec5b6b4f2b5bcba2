package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gettalent/scheduler-service/internal/domain"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]domain.Job)}
}

func (m *Memory) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := job
	return &cp, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) List(_ context.Context, filter ListFilter) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, job)
	}

	// newest first, id as tiebreaker, matching the Postgres ordering
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if filter.Cursor != nil {
		idx := 0
		for idx < len(out) {
			j := out[idx]
			if j.CreatedAt.Before(filter.Cursor.CreatedAt) ||
				(j.CreatedAt.Equal(filter.Cursor.CreatedAt) && j.ID < filter.Cursor.JobID) {
				break
			}
			idx++
		}
		out = out[idx:]
	}

	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func (m *Memory) ListAll(_ context.Context) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (m *Memory) UpdateSchedule(_ context.Context, id string, nextFireAt *time.Time, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if nextFireAt != nil {
		t := *nextFireAt
		job.NextFireAt = &t
	} else {
		job.NextFireAt = nil
	}
	job.Active = active
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return nil
}
