package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gettalent/scheduler-service/internal/domain"
	"github.com/gettalent/scheduler-service/internal/store"
)

// fakeDispatcher records every hand-off; Enqueue can be told to fail.
type fakeDispatcher struct {
	mu         sync.Mutex
	reqs       []domain.DispatchRequest
	enqueueErr error
	results    chan domain.DispatchResult
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{results: make(chan domain.DispatchResult, 16)}
}

func (d *fakeDispatcher) Enqueue(req domain.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	return d.enqueueErr
}

func (d *fakeDispatcher) Results() <-chan domain.DispatchResult { return d.results }

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reqs)
}

func (d *fakeDispatcher) last() domain.DispatchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reqs[len(d.reqs)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCore(t *testing.T, st store.Store, d Dispatcher) *Core {
	t.Helper()
	core := New(Config{
		Logger:      discardLogger(),
		Store:       st,
		Dispatcher:  d,
		MinLeadTime: time.Millisecond,
	})
	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(core.Shutdown)
	return core
}

func oneTimeJob(owner string, runAt time.Time) *domain.Job {
	return &domain.Job{
		OwnerID:     owner,
		TriggerKind: domain.TriggerOneTime,
		TargetURL:   "http://localhost:9/callback",
		Payload:     []byte(`{"k":"v"}`),
		RunAt:       runAt,
	}
}

func periodicJob(owner string, interval time.Duration, startAt, endAt time.Time) *domain.Job {
	return &domain.Job{
		OwnerID:     owner,
		TriggerKind: domain.TriggerPeriodic,
		TargetURL:   "http://localhost:9/callback",
		Interval:    interval,
		StartAt:     startAt,
		EndAt:       endAt,
	}
}

func TestCore_OneTimeFiresOnceAndRetires(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)

	job := oneTimeJob("user-1", time.Now().UTC().Add(50*time.Millisecond))
	job.BearerToken = "Bearer tok-123"
	job.SecretRef = "secret-9"
	id, err := core.Create(context.Background(), job)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return disp.count() == 1 }, 3*time.Second, 10*time.Millisecond)

	req := disp.last()
	assert.Equal(t, id, req.JobID)
	assert.Equal(t, "user-1", req.OwnerID)
	assert.Equal(t, "Bearer tok-123", req.AuthHeader)
	assert.Equal(t, "secret-9", req.SecretRef)
	assert.JSONEq(t, `{"k":"v"}`, string(req.Payload))

	// fired exactly once, and the record is gone
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, disp.count())
	_, err = st.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCore_PeriodicFiresOncePerGridPoint(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)

	// start, +50ms, +100ms and +150ms fit inside the 175ms window
	start := time.Now().UTC().Add(50 * time.Millisecond)
	job := periodicJob("user-1", 50*time.Millisecond, start, start.Add(175*time.Millisecond))
	id, err := core.Create(context.Background(), job)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return disp.count() == 4 }, 3*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 4, disp.count())
	_, err = st.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCore_PauseStopsFiringAndResumeRestarts(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)
	owner := Requester{UserID: "user-1"}

	start := time.Now().UTC().Add(250 * time.Millisecond)
	job := periodicJob("user-1", 50*time.Millisecond, start, start.Add(time.Hour))
	id, err := core.Create(context.Background(), job)
	require.NoError(t, err)

	require.NoError(t, core.Pause(context.Background(), id, owner))

	stored, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Nil(t, stored.NextFireAt)

	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, disp.count(), "paused job must not fire")

	require.NoError(t, core.Resume(context.Background(), id, owner))
	require.Eventually(t, func() bool { return disp.count() >= 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestCore_PauseResumeConflicts(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)
	owner := Requester{UserID: "user-1"}

	start := time.Now().UTC().Add(time.Hour)
	id, err := core.Create(context.Background(), periodicJob("user-1", time.Minute, start, start.Add(time.Hour)))
	require.NoError(t, err)

	assert.ErrorIs(t, core.Resume(context.Background(), id, owner), domain.ErrAlreadyRunning)

	require.NoError(t, core.Pause(context.Background(), id, owner))
	assert.ErrorIs(t, core.Pause(context.Background(), id, owner), domain.ErrAlreadyPaused)
}

func TestCore_ResumeAfterWindowPassedRetires(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)

	// a paused job whose whole window elapsed while it was off the clock
	now := time.Now().UTC()
	job := periodicJob("user-1", time.Minute, now.Add(-time.Hour), now.Add(-30*time.Minute))
	job.ID = uuid.New().String()
	job.Active = false
	require.NoError(t, st.Create(context.Background(), job))

	err := core.Resume(context.Background(), job.ID, Requester{UserID: "user-1"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = st.Get(context.Background(), job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCore_OwnershipChecks(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)

	id, err := core.Create(context.Background(), oneTimeJob("user-1", time.Now().UTC().Add(time.Hour)))
	require.NoError(t, err)

	stranger := Requester{UserID: "user-2"}
	system := Requester{UserID: "svc", System: true}
	ctx := context.Background()

	_, err = core.Get(ctx, id, stranger)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.ErrorIs(t, core.Pause(ctx, id, stranger), domain.ErrForbidden)
	assert.ErrorIs(t, core.Remove(ctx, id, stranger), domain.ErrForbidden)

	got, err := core.Get(ctx, id, system)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.NoError(t, core.Remove(ctx, id, system))
}

func TestCore_RemoveBatchPartitionsOutcomes(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)
	ctx := context.Background()

	runAt := time.Now().UTC().Add(time.Hour)
	mine1, err := core.Create(ctx, oneTimeJob("user-1", runAt))
	require.NoError(t, err)
	mine2, err := core.Create(ctx, oneTimeJob("user-1", runAt))
	require.NoError(t, err)
	theirs, err := core.Create(ctx, oneTimeJob("user-2", runAt))
	require.NoError(t, err)

	res := core.RemoveBatch(ctx, []string{mine1, mine2, theirs, "missing-id"}, Requester{UserID: "user-1"})

	assert.ElementsMatch(t, []string{mine1, mine2}, res.Succeeded)
	assert.Equal(t, []string{theirs}, res.Forbidden)
	assert.Equal(t, []string{"missing-id"}, res.NotFound)
	assert.True(t, res.Partial())

	// the foreign job survived
	_, err = st.Get(ctx, theirs)
	assert.NoError(t, err)
}

func TestCore_PauseBatchReportsConflicts(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)
	ctx := context.Background()
	owner := Requester{UserID: "user-1"}

	runAt := time.Now().UTC().Add(time.Hour)
	running, err := core.Create(ctx, oneTimeJob("user-1", runAt))
	require.NoError(t, err)
	paused, err := core.Create(ctx, oneTimeJob("user-1", runAt))
	require.NoError(t, err)
	require.NoError(t, core.Pause(ctx, paused, owner))

	res := core.PauseBatch(ctx, []string{running, paused}, owner)

	assert.Equal(t, []string{running}, res.Succeeded)
	assert.Equal(t, []string{paused}, res.Conflicts)
	assert.True(t, res.Partial())

	all := core.ResumeBatch(ctx, []string{running, paused}, owner)
	assert.ElementsMatch(t, []string{running, paused}, all.Succeeded)
	assert.False(t, all.Partial())
}

func TestCore_CreateRejectsInvalidWithoutPersisting(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)

	job := periodicJob("user-1", time.Hour, time.Now().UTC(), time.Now().UTC().Add(30*time.Minute))
	_, err := core.Create(context.Background(), job)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	all, err := st.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCore_ListScopesToRequester(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	core := newTestCore(t, st, disp)
	ctx := context.Background()

	runAt := time.Now().UTC().Add(time.Hour)
	_, err := core.Create(ctx, oneTimeJob("user-1", runAt))
	require.NoError(t, err)
	_, err = core.Create(ctx, oneTimeJob("user-2", runAt))
	require.NoError(t, err)

	mine, err := core.List(ctx, Requester{UserID: "user-1"}, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "user-1", mine[0].OwnerID)

	// a non-system caller cannot widen the filter to someone else's jobs
	sneaky, err := core.List(ctx, Requester{UserID: "user-1"}, store.ListFilter{OwnerID: "user-2"})
	require.NoError(t, err)
	require.Len(t, sneaky, 1)
	assert.Equal(t, "user-1", sneaky[0].OwnerID)

	all, err := core.List(ctx, Requester{UserID: "svc", System: true}, store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCore_EnqueueFailureDoesNotStallSchedule(t *testing.T) {
	st := store.NewMemory()
	disp := newFakeDispatcher()
	disp.enqueueErr = errors.New("queue full")
	core := newTestCore(t, st, disp)

	start := time.Now().UTC().Add(50 * time.Millisecond)
	_, err := core.Create(context.Background(), periodicJob("user-1", 50*time.Millisecond, start, start.Add(time.Hour)))
	require.NoError(t, err)

	// later grid points keep firing even though every hand-off fails
	require.Eventually(t, func() bool { return disp.count() >= 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestCore_StartReloadsAndRetires(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	live := oneTimeJob("user-1", now.Add(time.Hour))
	live.ID = uuid.New().String()
	live.Active = true
	require.NoError(t, st.Create(ctx, live))

	paused := oneTimeJob("user-1", now.Add(time.Hour))
	paused.ID = uuid.New().String()
	paused.Active = false
	require.NoError(t, st.Create(ctx, paused))

	expired := oneTimeJob("user-1", now.Add(-time.Hour))
	expired.ID = uuid.New().String()
	expired.Active = true
	require.NoError(t, st.Create(ctx, expired))

	disp := newFakeDispatcher()
	newTestCore(t, st, disp)

	// the expired job was retired, the others survived the restart
	_, err := st.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	got, err := st.Get(ctx, live.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextFireAt)
	assert.True(t, got.Active)

	stillPaused, err := st.Get(ctx, paused.ID)
	require.NoError(t, err)
	assert.False(t, stillPaused.Active)
}
