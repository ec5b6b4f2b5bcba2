// Package dispatch performs the side-effecting HTTP callbacks for fired
// jobs, off the scheduler's clock goroutine. Two transports are available:
// an in-process worker pool and a RabbitMQ hand-off consumed by the
// dispatch-worker binary.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gettalent/scheduler-service/internal/domain"
)

// SecretRefHeader carries the job's secret reference so the receiving
// service can look up the matching secret. Never the secret value itself.
const SecretRefHeader = "X-Secret-Key-ID"

// Sender issues the dispatch POST for a single fired job.
type Sender struct {
	client *http.Client
	logger *slog.Logger
}

// NewSender creates a Sender whose requests time out after timeout. The
// timeout should stay below the smallest supported job interval so a stuck
// callback cannot pile up in the worker pool.
func NewSender(timeout time.Duration, logger *slog.Logger) *Sender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send POSTs the job's stored payload to its target URL. It returns the
// response status code when a response was received; a non-2xx status is
// reported as an error. There is no retry here: redelivery only happens
// through a periodic job's own next firing.
func (s *Sender) Send(ctx context.Context, req domain.DispatchRequest) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.TargetURL, bytes.NewReader(req.Payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build dispatch request: %w", err)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = domain.DefaultContentType
	}
	httpReq.Header.Set("Content-Type", contentType)
	if req.AuthHeader != "" {
		httpReq.Header.Set("Authorization", req.AuthHeader)
	}
	if req.SecretRef != "" {
		httpReq.Header.Set(SecretRefHeader, req.SecretRef)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("dispatch to %s failed: %w", req.TargetURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("dispatch to %s returned status %d", req.TargetURL, resp.StatusCode)
	}

	s.logger.Debug("Dispatch delivered",
		slog.String("job_id", req.JobID),
		slog.String("url", req.TargetURL),
		slog.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, nil
}
