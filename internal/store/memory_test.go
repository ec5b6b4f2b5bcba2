package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gettalent/scheduler-service/internal/domain"
)

func seedJob(t *testing.T, m *Memory, id, owner string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, m.Create(context.Background(), &domain.Job{
		ID:          id,
		OwnerID:     owner,
		TriggerKind: domain.TriggerOneTime,
		TargetURL:   "http://localhost:9/callback",
		Active:      true,
		CreatedAt:   createdAt,
	}))
}

func TestMemory_CreateGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	seedJob(t, m, "a", "user-1", time.Now().UTC())

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	// the returned job is a copy, mutating it does not touch the store
	got.OwnerID = "someone-else"
	again, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "user-1", again.OwnerID)

	require.NoError(t, m.Delete(ctx, "a"))
	assert.ErrorIs(t, m.Delete(ctx, "a"), domain.ErrJobNotFound)

	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemory_UpdateSchedule(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedJob(t, m, "a", "user-1", time.Now().UTC())

	next := time.Now().UTC().Add(time.Hour)
	require.NoError(t, m.UpdateSchedule(ctx, "a", &next, true))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got.NextFireAt)
	assert.True(t, got.NextFireAt.Equal(next))
	assert.True(t, got.Active)

	require.NoError(t, m.UpdateSchedule(ctx, "a", nil, false))
	got, err = m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got.NextFireAt)
	assert.False(t, got.Active)

	assert.ErrorIs(t, m.UpdateSchedule(ctx, "missing", nil, false), domain.ErrJobNotFound)
}

func TestMemory_ListOrderingAndFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		seedJob(t, m, fmt.Sprintf("job-%d", i), "user-1", base.Add(time.Duration(i)*time.Minute))
	}
	seedJob(t, m, "job-other", "user-2", base.Add(time.Hour))

	t.Run("newest first", func(t *testing.T) {
		jobs, err := m.List(ctx, ListFilter{OwnerID: "user-1"})
		require.NoError(t, err)
		require.Len(t, jobs, 4)
		assert.Equal(t, "job-3", jobs[0].ID)
		assert.Equal(t, "job-0", jobs[3].ID)
	})

	t.Run("owner filter", func(t *testing.T) {
		jobs, err := m.List(ctx, ListFilter{OwnerID: "user-2"})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "job-other", jobs[0].ID)
	})

	t.Run("page size returns one extra row for has-more detection", func(t *testing.T) {
		jobs, err := m.List(ctx, ListFilter{OwnerID: "user-1", PageSize: 2})
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
	})

	t.Run("cursor resumes after the given row", func(t *testing.T) {
		jobs, err := m.List(ctx, ListFilter{
			OwnerID: "user-1",
			Cursor:  &Cursor{CreatedAt: base.Add(2 * time.Minute), JobID: "job-2"},
		})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "job-1", jobs[0].ID)
		assert.Equal(t, "job-0", jobs[1].ID)
	})
}

func TestMemory_ListAll(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	seedJob(t, m, "a", "user-1", now)
	seedJob(t, m, "b", "user-2", now)

	jobs, err := m.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
