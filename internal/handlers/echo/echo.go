// Package echo is the demonstration task handler: it answers every task with
// its own payload.
package echo

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/phrazzld/asyncbg/internal/consumer"
	"github.com/phrazzld/asyncbg/internal/task"
)

// Request is the payload accepted by the demo enqueue route.
type Request struct {
	Message string `json:"message" validate:"required,max=4096"`
}

// Response is stored as the task response on completion.
type Response struct {
	TaskID   string `json:"task_id"`
	Status   int    `json:"status"`
	Response Body   `json:"response"`
}

// Body wraps the echoed payload.
type Body struct {
	Echo json.RawMessage `json:"echo"`
}

// Handler implements consumer.Handler.
type Handler struct{}

var _ consumer.Handler = Handler{}

// Handle marks the task processing and completes it with the echoed payload.
func (Handler) Handle(ctx context.Context, env *task.Envelope, st *consumer.Status) error {
	if err := st.Processing(ctx); err != nil {
		return err
	}

	return st.Complete(ctx, Response{
		TaskID:   env.TaskID,
		Status:   http.StatusOK,
		Response: Body{Echo: env.Payload},
	})
}

// Register adds the echo handler to router for topic.
func Register(router *consumer.Router, topic string) {
	router.Handle(topic, Handler{})
}
