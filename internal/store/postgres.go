package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gettalent/scheduler-service/internal/domain"
)

// Postgres stores job records in the scheduler_jobs table.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres creates a Postgres-backed store on an open sqlx handle.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// jobRow maps the scheduler_jobs table. Interval granularity is seconds;
// the API layer only accepts whole-second frequencies.
type jobRow struct {
	JobID           string         `db:"job_id"`
	OwnerID         string         `db:"owner_id"`
	TriggerKind     string         `db:"trigger_kind"`
	RunAt           sql.NullTime   `db:"run_at"`
	IntervalSeconds sql.NullInt64  `db:"interval_seconds"`
	StartAt         sql.NullTime   `db:"start_at"`
	EndAt           sql.NullTime   `db:"end_at"`
	TargetURL       string         `db:"target_url"`
	ContentType     string         `db:"content_type"`
	Payload         []byte         `db:"payload"`
	SecretRef       sql.NullString `db:"secret_ref"`
	BearerToken     sql.NullString `db:"bearer_token"`
	Active          bool           `db:"active"`
	NextFireAt      sql.NullTime   `db:"next_fire_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		ID:          r.JobID,
		OwnerID:     r.OwnerID,
		TriggerKind: r.TriggerKind,
		TargetURL:   r.TargetURL,
		ContentType: r.ContentType,
		Payload:     json.RawMessage(r.Payload),
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.RunAt.Valid {
		job.RunAt = r.RunAt.Time.UTC()
	}
	if r.IntervalSeconds.Valid {
		job.Interval = time.Duration(r.IntervalSeconds.Int64) * time.Second
	}
	if r.StartAt.Valid {
		job.StartAt = r.StartAt.Time.UTC()
	}
	if r.EndAt.Valid {
		job.EndAt = r.EndAt.Time.UTC()
	}
	if r.SecretRef.Valid {
		job.SecretRef = r.SecretRef.String
	}
	if r.BearerToken.Valid {
		job.BearerToken = r.BearerToken.String
	}
	if r.NextFireAt.Valid {
		t := r.NextFireAt.Time.UTC()
		job.NextFireAt = &t
	}
	return job
}

const jobColumns = `
	job_id, owner_id, trigger_kind, run_at, interval_seconds, start_at, end_at,
	target_url, content_type, payload, secret_ref, bearer_token, active,
	next_fire_at, created_at, updated_at
`

func (p *Postgres) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO scheduler_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	var runAt, startAt, endAt, nextFire sql.NullTime
	if !job.RunAt.IsZero() {
		runAt = sql.NullTime{Time: job.RunAt, Valid: true}
	}
	if !job.StartAt.IsZero() {
		startAt = sql.NullTime{Time: job.StartAt, Valid: true}
	}
	if !job.EndAt.IsZero() {
		endAt = sql.NullTime{Time: job.EndAt, Valid: true}
	}
	if job.NextFireAt != nil {
		nextFire = sql.NullTime{Time: *job.NextFireAt, Valid: true}
	}
	var interval sql.NullInt64
	if job.Interval > 0 {
		interval = sql.NullInt64{Int64: int64(job.Interval / time.Second), Valid: true}
	}
	var secretRef, bearer sql.NullString
	if job.SecretRef != "" {
		secretRef = sql.NullString{String: job.SecretRef, Valid: true}
	}
	if job.BearerToken != "" {
		bearer = sql.NullString{String: job.BearerToken, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, query,
		job.ID, job.OwnerID, job.TriggerKind, runAt, interval, startAt, endAt,
		job.TargetURL, job.ContentType, []byte(job.Payload), secretRef, bearer,
		job.Active, nextFire, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduler_jobs WHERE job_id = $1`

	var row jobRow
	if err := p.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain(), nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE job_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, filter ListFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduler_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	if filter.PageSize > 0 {
		// one extra row so the caller can tell whether more pages exist
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var rows []jobRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, len(rows))
	for i := range rows {
		jobs[i] = *rows[i].toDomain()
	}
	return jobs, nil
}

func (p *Postgres) ListAll(ctx context.Context) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduler_jobs ORDER BY created_at ASC`

	var rows []jobRow
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, len(rows))
	for i := range rows {
		jobs[i] = *rows[i].toDomain()
	}
	return jobs, nil
}

func (p *Postgres) UpdateSchedule(ctx context.Context, id string, nextFireAt *time.Time, active bool) error {
	query := `
		UPDATE scheduler_jobs
		SET next_fire_at = $1,
		    active = $2,
		    updated_at = NOW()
		WHERE job_id = $3
	`

	var next sql.NullTime
	if nextFireAt != nil {
		next = sql.NullTime{Time: *nextFireAt, Valid: true}
	}

	res, err := p.db.ExecContext(ctx, query, next, active, id)
	if err != nil {
		return fmt.Errorf("failed to update job schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}
