package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/task"
)

// Status writes status transitions for the envelope being handled.
// Out-of-order transitions are logged but still written.
type Status struct {
	store  status.Store
	env    *task.Envelope
	logger *slog.Logger
	last   task.Status
}

func newStatus(store status.Store, env *task.Envelope, logger *slog.Logger) *Status {
	return &Status{
		store:  store,
		env:    env,
		logger: logger,
		last:   task.StatusPending,
	}
}

// Processing records that work on the task has started.
func (s *Status) Processing(ctx context.Context) error {
	return s.write(ctx, task.StatusProcessing, nil)
}

// Complete records success with response, which is encoded as JSON.
func (s *Status) Complete(ctx context.Context, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode response for task %s: %w", s.env.TaskID, err)
	}
	return s.write(ctx, task.StatusCompleted, body)
}

// Fail records failure with the error detail.
func (s *Status) Fail(ctx context.Context, cause error) error {
	return s.write(ctx, task.StatusFailed, task.ErrorResponse(cause))
}

func (s *Status) write(ctx context.Context, next task.Status, response json.RawMessage) error {
	if !s.last.CanTransitionTo(next) {
		s.logger.Warn("out of order status transition",
			"task_id", s.env.TaskID,
			"from", s.last,
			"to", next)
	}

	if err := s.store.Write(ctx, s.env.TaskID, s.env.ChannelName, next, response); err != nil {
		return fmt.Errorf("failed to record %s status: %w", next, err)
	}
	s.last = next
	return nil
}
