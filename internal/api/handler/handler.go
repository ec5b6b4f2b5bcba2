package handler

import (
	"log/slog"

	"github.com/gettalent/scheduler-service/internal/auth"
	"github.com/gettalent/scheduler-service/internal/scheduler"
)

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger   *slog.Logger
	Core     *scheduler.Core
	Verifier auth.Verifier
}

// TaskHandler translates REST requests into scheduler core operations.
type TaskHandler struct {
	logger *slog.Logger
	core   *scheduler.Core
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	return &TaskHandler{
		logger: deps.Logger,
		core:   deps.Core,
	}
}
