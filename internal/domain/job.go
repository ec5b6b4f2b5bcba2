package domain

import (
	"encoding/json"
	"time"
)

// Trigger kinds
const (
	TriggerOneTime  = "one_time"
	TriggerPeriodic = "periodic"
)

// DefaultContentType is used when a task is created without an explicit one.
const DefaultContentType = "application/json"

// Frequency is the user-facing interval of a periodic task. At least one
// field must be positive; negative fields are rejected outright.
type Frequency struct {
	Seconds int `json:"seconds,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Days    int `json:"days,omitempty"`
	Weeks   int `json:"weeks,omitempty"`
}

// Duration collapses the frequency into a single time.Duration.
func (f Frequency) Duration() time.Duration {
	return time.Duration(f.Seconds)*time.Second +
		time.Duration(f.Minutes)*time.Minute +
		time.Duration(f.Hours)*time.Hour +
		time.Duration(f.Days)*24*time.Hour +
		time.Duration(f.Weeks)*7*24*time.Hour
}

// FrequencyFromDuration splits a duration back into days/seconds, the same
// two-field shape the original wire format reported.
func FrequencyFromDuration(d time.Duration) Frequency {
	days := int(d / (24 * time.Hour))
	rem := d - time.Duration(days)*24*time.Hour
	return Frequency{Days: days, Seconds: int(rem / time.Second)}
}

// Job is the persisted definition of a one-time or periodic dispatch.
// Exactly one of the RunAt / (Interval, StartAt, EndAt) field groups is
// meaningful, selected by TriggerKind.
type Job struct {
	ID          string
	OwnerID     string
	TriggerKind string

	// one_time
	RunAt time.Time

	// periodic
	Interval time.Duration
	StartAt  time.Time
	EndAt    time.Time

	TargetURL   string
	ContentType string
	Payload     json.RawMessage
	SecretRef   string

	// BearerToken is the credential captured at creation time and replayed
	// as the Authorization header of every dispatch callback.
	BearerToken string

	Active     bool
	NextFireAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DispatchRequest is the immutable snapshot of a job handed to the
// dispatcher when its fire time arrives.
type DispatchRequest struct {
	JobID       string          `json:"job_id"`
	OwnerID     string          `json:"owner_id"`
	TargetURL   string          `json:"target_url"`
	ContentType string          `json:"content_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SecretRef   string          `json:"secret_ref,omitempty"`
	AuthHeader  string          `json:"auth_header,omitempty"`
	FiredAt     time.Time       `json:"fired_at"`
}

// DispatchResult is reported back to the scheduler core once a dispatch
// attempt finishes (or is dropped before it could start).
type DispatchResult struct {
	JobID      string
	TargetURL  string
	StatusCode int
	Err        error
}
