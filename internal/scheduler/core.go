// Package scheduler owns the authoritative set of active jobs and the
// single clock goroutine that fires them. API operations and the clock
// serialize through one mutex, so a removal either cleanly wins (the job
// never fires again) or cleanly loses (it fires once more, then goes).
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gettalent/scheduler-service/internal/domain"
	"github.com/gettalent/scheduler-service/internal/store"
	"github.com/gettalent/scheduler-service/internal/trigger"
)

// Dispatcher is the hand-off point for fired jobs. Enqueue must return
// without blocking; outcomes come back on the Results channel.
type Dispatcher interface {
	Enqueue(req domain.DispatchRequest) error
	Results() <-chan domain.DispatchResult
}

// Requester identifies the caller of a mutating operation. System callers
// bypass ownership checks.
type Requester struct {
	UserID string
	System bool
}

func (r Requester) owns(job *domain.Job) bool {
	return r.System || r.UserID == job.OwnerID
}

// BatchResult partitions the per-id outcomes of a batch operation. A batch
// never aborts on one failing id.
type BatchResult struct {
	Succeeded []string `json:"succeeded"`
	NotFound  []string `json:"not_found"`
	Forbidden []string `json:"forbidden"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// Partial reports whether any id failed.
func (r BatchResult) Partial() bool {
	return len(r.NotFound)+len(r.Forbidden)+len(r.Conflicts) > 0
}

// Config configures a Core.
type Config struct {
	Logger     *slog.Logger
	Store      store.Store
	Dispatcher Dispatcher

	// MinLeadTime is the minimum distance into the future a one-time run
	// must be at creation. Defaults to 3s.
	MinLeadTime time.Duration

	// Now overrides the clock source; tests only.
	Now func() time.Time
}

// Core is the scheduling engine. Construct with New, then Start; every
// public operation is safe for concurrent use.
type Core struct {
	logger     *slog.Logger
	store      store.Store
	dispatcher Dispatcher
	minLead    time.Duration
	now        func() time.Time

	mu     sync.Mutex
	jobs   map[string]*domain.Job // active jobs only, keyed by id
	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	runCtx context.Context
}

// New creates a stopped Core.
func New(cfg Config) *Core {
	minLead := cfg.MinLeadTime
	if minLead <= 0 {
		minLead = 3 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Core{
		logger:     cfg.Logger,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		minLead:    minLead,
		now:        now,
		jobs:       make(map[string]*domain.Job),
		wakeCh:     make(chan struct{}, 1),
	}
}

// Start reloads persisted jobs into the live set and launches the clock
// goroutine. Paused jobs stay out of the live set; active jobs whose
// window already closed are retired on the spot.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		return nil
	}

	jobs, err := c.store.ListAll(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	reloaded, retired := 0, 0
	for i := range jobs {
		job := jobs[i]
		if !job.Active {
			continue
		}
		first, err := trigger.FirstFire(&job, now)
		if err != nil {
			if delErr := c.store.Delete(ctx, job.ID); delErr != nil {
				c.logger.Error("Failed to retire exhausted job at startup",
					slog.String("job_id", job.ID), slog.Any("error", delErr))
			}
			retired++
			continue
		}
		job.NextFireAt = &first
		if err := c.store.UpdateSchedule(ctx, job.ID, &first, true); err != nil {
			c.logger.Error("Failed to persist recomputed fire time",
				slog.String("job_id", job.ID), slog.Any("error", err))
		}
		c.jobs[job.ID] = &job
		reloaded++
	}

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.runCtx = ctx
	go c.run()

	c.logger.Info("Scheduler started",
		slog.Int("reloaded", reloaded),
		slog.Int("retired", retired),
	)
	return nil
}

// Shutdown stops the clock goroutine. Job definitions stay persisted.
func (c *Core) Shutdown() {
	c.mu.Lock()
	if c.stopCh == nil {
		c.mu.Unlock()
		return
	}
	stop := c.stopCh
	done := c.doneCh
	c.stopCh = nil
	c.mu.Unlock()

	close(stop)
	<-done
	c.logger.Info("Scheduler stopped")
}

// Create validates and persists a new job and arms its first fire.
// The returned id is the job's permanent identifier.
func (c *Core) Create(ctx context.Context, job *domain.Job) (string, error) {
	now := c.now()
	if job.ContentType == "" {
		job.ContentType = domain.DefaultContentType
	}
	if err := trigger.Validate(job, now, c.minLead); err != nil {
		return "", err
	}
	first, err := trigger.FirstFire(job, now)
	if err != nil {
		return "", domain.NewValidationError("end_datetime", "no valid fire time remains")
	}

	job.ID = uuid.New().String()
	job.Active = true
	job.NextFireAt = &first
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := c.store.Create(ctx, job); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.stopCh != nil {
		cp := *job
		c.jobs[job.ID] = &cp
	}
	c.mu.Unlock()
	c.wake()

	c.logger.Info("Job scheduled",
		slog.String("job_id", job.ID),
		slog.String("trigger", job.TriggerKind),
		slog.Time("first_fire_at", first),
	)
	return job.ID, nil
}

// Pause takes an active job off the clock, keeping its definition.
func (c *Core) Pause(ctx context.Context, id string, req Requester) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !req.owns(job) {
		return domain.ErrForbidden
	}
	if !job.Active {
		return domain.ErrAlreadyPaused
	}

	if err := c.store.UpdateSchedule(ctx, id, nil, false); err != nil {
		return err
	}
	delete(c.jobs, id)
	c.wakeLocked()

	c.logger.Info("Job paused", slog.String("job_id", id))
	return nil
}

// Resume recomputes the next fire time with "now" as the floor and puts
// the job back on the clock. A paused job whose window fully elapsed is
// retired instead.
func (c *Core) Resume(ctx context.Context, id string, req Requester) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !req.owns(job) {
		return domain.ErrForbidden
	}
	if job.Active {
		return domain.ErrAlreadyRunning
	}

	first, err := trigger.FirstFire(job, c.now())
	if err != nil {
		if delErr := c.store.Delete(ctx, id); delErr != nil {
			c.logger.Error("Failed to retire expired job on resume",
				slog.String("job_id", id), slog.Any("error", delErr))
		}
		delete(c.jobs, id)
		return domain.NewValidationError("end_datetime", "job window has already passed")
	}

	if err := c.store.UpdateSchedule(ctx, id, &first, true); err != nil {
		return err
	}
	job.Active = true
	job.NextFireAt = &first
	if c.stopCh != nil {
		c.jobs[id] = job
	}
	c.wakeLocked()

	c.logger.Info("Job resumed",
		slog.String("job_id", id),
		slog.Time("next_fire_at", first),
	)
	return nil
}

// Remove deletes the job record and deregisters its timer.
func (c *Core) Remove(ctx context.Context, id string, req Requester) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(ctx, id, req)
}

func (c *Core) removeLocked(ctx context.Context, id string, req Requester) error {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !req.owns(job) {
		return domain.ErrForbidden
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	delete(c.jobs, id)
	c.wakeLocked()

	c.logger.Info("Job removed", slog.String("job_id", id))
	return nil
}

// RemoveBatch removes each id independently, partitioning the outcomes.
func (c *Core) RemoveBatch(ctx context.Context, ids []string, req Requester) BatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res BatchResult
	for _, id := range ids {
		switch err := c.removeLocked(ctx, id, req); {
		case err == nil:
			res.Succeeded = append(res.Succeeded, id)
		case errors.Is(err, domain.ErrForbidden):
			res.Forbidden = append(res.Forbidden, id)
		default:
			res.NotFound = append(res.NotFound, id)
		}
	}
	return res
}

// PauseBatch pauses each id independently.
func (c *Core) PauseBatch(ctx context.Context, ids []string, req Requester) BatchResult {
	return c.batch(ids, func(id string) error { return c.Pause(ctx, id, req) })
}

// ResumeBatch resumes each id independently.
func (c *Core) ResumeBatch(ctx context.Context, ids []string, req Requester) BatchResult {
	return c.batch(ids, func(id string) error { return c.Resume(ctx, id, req) })
}

func (c *Core) batch(ids []string, op func(id string) error) BatchResult {
	var res BatchResult
	for _, id := range ids {
		switch err := op(id); {
		case err == nil:
			res.Succeeded = append(res.Succeeded, id)
		case errors.Is(err, domain.ErrForbidden):
			res.Forbidden = append(res.Forbidden, id)
		case errors.Is(err, domain.ErrAlreadyPaused), errors.Is(err, domain.ErrAlreadyRunning):
			res.Conflicts = append(res.Conflicts, id)
		default:
			res.NotFound = append(res.NotFound, id)
		}
	}
	return res
}

// Get returns a job visible to the requester.
func (c *Core) Get(ctx context.Context, id string, req Requester) (*domain.Job, error) {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.owns(job) {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

// List returns the requester's jobs; system callers see everything.
func (c *Core) List(ctx context.Context, req Requester, filter store.ListFilter) ([]domain.Job, error) {
	if !req.System {
		filter.OwnerID = req.UserID
	}
	return c.store.List(ctx, filter)
}

func (c *Core) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// wakeLocked exists for call sites already holding the mutex; the channel
// send itself never blocks either way.
func (c *Core) wakeLocked() { c.wake() }

// run is the clock loop: sleep until the earliest next_fire_at, fire the
// due jobs, re-arm. Mutations nudge it through wakeCh.
func (c *Core) run() {
	defer close(c.doneCh)

	for {
		var timerC <-chan time.Time
		var timer *time.Timer

		c.mu.Lock()
		next, armed := c.earliestLocked()
		stop := c.stopCh
		c.mu.Unlock()

		if stop == nil {
			return
		}
		if armed {
			d := next.Sub(c.now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-c.wakeCh:
		case res := <-c.dispatcher.Results():
			c.observe(res)
		case <-timerC:
			c.fireDue()
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

func (c *Core) earliestLocked() (time.Time, bool) {
	var min time.Time
	found := false
	for _, job := range c.jobs {
		if job.NextFireAt == nil {
			continue
		}
		if !found || job.NextFireAt.Before(min) {
			min = *job.NextFireAt
			found = true
		}
	}
	return min, found
}

// fireDue dispatches every job whose fire time has arrived, then either
// reschedules it or retires it. The dispatcher hand-off cannot block, so a
// slow target never delays other jobs.
func (c *Core) fireDue() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, job := range c.jobs {
		if job.NextFireAt == nil || job.NextFireAt.After(now) {
			continue
		}
		firedAt := *job.NextFireAt

		req := domain.DispatchRequest{
			JobID:       id,
			OwnerID:     job.OwnerID,
			TargetURL:   job.TargetURL,
			ContentType: job.ContentType,
			Payload:     job.Payload,
			SecretRef:   job.SecretRef,
			AuthHeader:  job.BearerToken,
			FiredAt:     firedAt,
		}
		if err := c.dispatcher.Enqueue(req); err != nil {
			// the job is still rescheduled below; a failed hand-off never
			// stalls the clock or drops future firings
			c.logger.Error("Dispatch hand-off failed",
				slog.String("job_id", id), slog.Any("error", err))
		}

		next, err := trigger.NextFire(job, firedAt)
		if err != nil {
			delete(c.jobs, id)
			if delErr := c.store.Delete(c.runCtx, id); delErr != nil && !errors.Is(delErr, domain.ErrJobNotFound) {
				c.logger.Error("Failed to retire exhausted job",
					slog.String("job_id", id), slog.Any("error", delErr))
			}
			c.logger.Info("Job exhausted and retired", slog.String("job_id", id))
			continue
		}

		job.NextFireAt = &next
		if err := c.store.UpdateSchedule(c.runCtx, id, &next, true); err != nil {
			c.logger.Error("Failed to persist next fire time",
				slog.String("job_id", id), slog.Any("error", err))
		}
	}
}

func (c *Core) observe(res domain.DispatchResult) {
	if res.Err != nil {
		c.logger.Warn("Dispatch reported failure",
			slog.String("job_id", res.JobID),
			slog.String("url", res.TargetURL),
			slog.Int("status", res.StatusCode),
			slog.Any("error", res.Err),
		)
		return
	}
	c.logger.Debug("Dispatch reported success",
		slog.String("job_id", res.JobID),
		slog.Int("status", res.StatusCode),
	)
}
