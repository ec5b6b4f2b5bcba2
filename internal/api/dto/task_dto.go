package dto

import (
	"encoding/json"
	"time"

	"github.com/gettalent/scheduler-service/internal/domain"
)

// CreateTaskRequest is the POST /v1/tasks body. Datetimes are RFC 3339 UTC.
type CreateTaskRequest struct {
	TaskType    string                 `json:"task_type" binding:"required"`
	URL         string                 `json:"url" binding:"required"`
	ContentType string                 `json:"content_type"`
	PostData    map[string]interface{} `json:"post_data"`
	SecretKeyID string                 `json:"secret_key_id"`

	// one_time
	RunDatetime string `json:"run_datetime,omitempty"`

	// periodic
	Frequency     *domain.Frequency `json:"frequency,omitempty"`
	StartDatetime string            `json:"start_datetime,omitempty"`
	EndDatetime   string            `json:"end_datetime,omitempty"`
}

// CreateTaskResponse carries the new task id.
type CreateTaskResponse struct {
	ID string `json:"id"`
}

// BatchIDsRequest is the body of batch remove/pause/resume calls.
type BatchIDsRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// ListTasksRequest holds the list query parameters.
type ListTasksRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListTasksResponse pages through the caller's tasks.
type ListTasksResponse struct {
	Tasks      []TaskView `json:"tasks"`
	Count      int        `json:"count"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// TaskView is the wire representation of a job. NextRunDatetime is the
// literal string "None" for paused tasks, preserving the historical wire
// behavior clients depend on.
type TaskView struct {
	ID              string            `json:"id"`
	TaskType        string            `json:"task_type"`
	URL             string            `json:"url"`
	ContentType     string            `json:"content_type"`
	PostData        json.RawMessage   `json:"post_data,omitempty"`
	SecretKeyID     string            `json:"secret_key_id,omitempty"`
	RunDatetime     string            `json:"run_datetime,omitempty"`
	Frequency       *domain.Frequency `json:"frequency,omitempty"`
	StartDatetime   string            `json:"start_datetime,omitempty"`
	EndDatetime     string            `json:"end_datetime,omitempty"`
	NextRunDatetime string            `json:"next_run_datetime"`
	IsPaused        bool              `json:"is_paused"`
}

// NewTaskView converts a domain job into its wire form.
func NewTaskView(job *domain.Job) TaskView {
	view := TaskView{
		ID:          job.ID,
		TaskType:    job.TriggerKind,
		URL:         job.TargetURL,
		ContentType: job.ContentType,
		PostData:    job.Payload,
		SecretKeyID: job.SecretRef,
		IsPaused:    !job.Active,
	}

	switch job.TriggerKind {
	case domain.TriggerOneTime:
		view.RunDatetime = job.RunAt.Format(time.RFC3339)
	case domain.TriggerPeriodic:
		freq := domain.FrequencyFromDuration(job.Interval)
		view.Frequency = &freq
		view.StartDatetime = job.StartAt.Format(time.RFC3339)
		view.EndDatetime = job.EndAt.Format(time.RFC3339)
	}

	if job.NextFireAt != nil {
		view.NextRunDatetime = job.NextFireAt.Format(time.RFC3339)
	} else {
		view.NextRunDatetime = "None"
	}
	return view
}
