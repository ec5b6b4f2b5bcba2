package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gettalent/scheduler-service/internal/api/dto"
	"github.com/gettalent/scheduler-service/internal/domain"
	"github.com/gettalent/scheduler-service/internal/scheduler"
	"github.com/gettalent/scheduler-service/internal/store"
)

// CreateTask handles POST /v1/tasks.
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.jobFromRequest(&req, c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job.OwnerID = RequesterFrom(c).UserID

	id, err := h.core.Create(c.Request.Context(), job)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreateTaskResponse{ID: id})
}

// jobFromRequest translates the wire body into a job definition. Field
// presence errors surface here; logical invariants are the core's job.
func (h *TaskHandler) jobFromRequest(req *dto.CreateTaskRequest, authHeader string) (*domain.Job, error) {
	job := &domain.Job{
		TriggerKind: req.TaskType,
		TargetURL:   req.URL,
		ContentType: req.ContentType,
		SecretRef:   req.SecretKeyID,
		BearerToken: authHeader,
	}

	if req.PostData != nil {
		payload, err := json.Marshal(req.PostData)
		if err != nil {
			return nil, domain.NewValidationError("post_data", "must be a JSON object")
		}
		job.Payload = payload
	}

	switch req.TaskType {
	case domain.TriggerOneTime:
		runAt, err := parseDatetime(req.RunDatetime, "run_datetime")
		if err != nil {
			return nil, err
		}
		job.RunAt = runAt
	case domain.TriggerPeriodic:
		if req.Frequency == nil {
			return nil, domain.NewValidationError("frequency", "is required")
		}
		if req.Frequency.Seconds < 0 || req.Frequency.Minutes < 0 || req.Frequency.Hours < 0 ||
			req.Frequency.Days < 0 || req.Frequency.Weeks < 0 {
			return nil, domain.NewValidationError("frequency", "values must be positive")
		}
		job.Interval = req.Frequency.Duration()

		startAt, err := parseDatetime(req.StartDatetime, "start_datetime")
		if err != nil {
			return nil, err
		}
		endAt, err := parseDatetime(req.EndDatetime, "end_datetime")
		if err != nil {
			return nil, err
		}
		job.StartAt = startAt
		job.EndAt = endAt
	default:
		return nil, domain.NewValidationError("task_type", "must be one_time or periodic")
	}
	return job, nil
}

func parseDatetime(value, field string) (time.Time, error) {
	if value == "" {
		return time.Time{}, domain.NewValidationError(field, "is required")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "must be an RFC 3339 datetime")
	}
	return t.UTC(), nil
}

// GetTask handles GET /v1/tasks/id/:id.
func (h *TaskHandler) GetTask(c *gin.Context) {
	job, err := h.core.Get(c.Request.Context(), c.Param("id"), RequesterFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": dto.NewTaskView(job)})
}

// ListTasks handles GET /v1/tasks with cursor pagination.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	var req dto.ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeTaskCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	jobs, err := h.core.List(c.Request.Context(), RequesterFrom(c), store.ListFilter{
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	views := make([]dto.TaskView, len(jobs))
	for i := range jobs {
		views[i] = dto.NewTaskView(&jobs[i])
	}

	resp := dto.ListTasksResponse{Tasks: views, Count: len(views)}
	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeTaskCursor(&store.Cursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteTask handles DELETE /v1/tasks/id/:id.
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	if err := h.core.Remove(c.Request.Context(), c.Param("id"), RequesterFrom(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task removed"})
}

// DeleteTasks handles DELETE /v1/tasks (batch).
func (h *TaskHandler) DeleteTasks(c *gin.Context) {
	ids, ok := h.bindBatchIDs(c)
	if !ok {
		return
	}
	res := h.core.RemoveBatch(c.Request.Context(), ids, RequesterFrom(c))
	c.JSON(batchStatus(res), res)
}

// PauseTask handles POST /v1/tasks/:id/pause.
func (h *TaskHandler) PauseTask(c *gin.Context) {
	if err := h.core.Pause(c.Request.Context(), c.Param("id"), RequesterFrom(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task paused"})
}

// ResumeTask handles POST /v1/tasks/:id/resume.
func (h *TaskHandler) ResumeTask(c *gin.Context) {
	if err := h.core.Resume(c.Request.Context(), c.Param("id"), RequesterFrom(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task resumed"})
}

// PauseTasks handles POST /v1/tasks/pause (batch).
func (h *TaskHandler) PauseTasks(c *gin.Context) {
	ids, ok := h.bindBatchIDs(c)
	if !ok {
		return
	}
	res := h.core.PauseBatch(c.Request.Context(), ids, RequesterFrom(c))
	c.JSON(batchStatus(res), res)
}

// ResumeTasks handles POST /v1/tasks/resume (batch).
func (h *TaskHandler) ResumeTasks(c *gin.Context) {
	ids, ok := h.bindBatchIDs(c)
	if !ok {
		return
	}
	res := h.core.ResumeBatch(c.Request.Context(), ids, RequesterFrom(c))
	c.JSON(batchStatus(res), res)
}

func (h *TaskHandler) bindBatchIDs(c *gin.Context) ([]string, bool) {
	var req dto.BatchIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids list is required"})
		return nil, false
	}
	return req.IDs, true
}

// batchStatus is 200 when every id succeeded, 207 on partial success.
func batchStatus(res scheduler.BatchResult) int {
	if res.Partial() {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}

// respondError maps the core's error taxonomy onto distinct status codes
// so clients can tell malformed from forbidden from already-in-that-state.
func (h *TaskHandler) respondError(c *gin.Context, err error) {
	switch {
	case domain.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "task belongs to another user"})
	case errors.Is(err, domain.ErrAlreadyPaused), errors.Is(err, domain.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Internal error", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
