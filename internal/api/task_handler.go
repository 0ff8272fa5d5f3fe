package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/asyncbg/internal/api/middleware"
	"github.com/phrazzld/asyncbg/internal/api/shared"
	"github.com/phrazzld/asyncbg/internal/broker"
	"github.com/phrazzld/asyncbg/internal/handlers/echo"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
	"github.com/phrazzld/asyncbg/internal/producer"
	"github.com/phrazzld/asyncbg/internal/task"
)

// TaskIDParam is the chi URL parameter holding the task id.
const TaskIDParam = "taskID"

// Enqueuer hands tasks to the broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, req producer.EnqueueRequest) (*task.Envelope, error)
}

// StatusReader serves channel-scoped status reads.
type StatusReader interface {
	Get(ctx context.Context, taskID, channelName string, fullResponse bool) (json.RawMessage, error)
}

// TaskHandler handles task enqueue and status HTTP requests.
type TaskHandler struct {
	enqueuer Enqueuer
	reader   StatusReader
	topic    string
	logger   *slog.Logger
}

// NewTaskHandler creates a TaskHandler. A nil enqueuer disables the enqueue
// route, which then answers 503.
func NewTaskHandler(enqueuer Enqueuer, reader StatusReader, topic string, logger *slog.Logger) *TaskHandler {
	if reader == nil {
		panic("reader cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TaskHandler{
		enqueuer: enqueuer,
		reader:   reader,
		topic:    topic,
		logger:   logger.With("component", "task_handler"),
	}
}

// EnqueueDemo handles POST /api/v1/demo/enqueue/ requests. The echo payload
// is enqueued with the caller channel as partition marker, so one caller's
// tasks are consumed in order.
func (h *TaskHandler) EnqueueDemo(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	channelName, ok := middleware.GetChannel(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Channel could not be resolved")
		return
	}

	if h.enqueuer == nil {
		HandleAPIError(w, r, fmt.Errorf("%w: producer disabled", broker.ErrUnavailable), "")
		return
	}

	var req echo.Request
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue task")
		return
	}

	env, err := h.enqueuer.Enqueue(r.Context(), producer.EnqueueRequest{
		Topic:           h.topic,
		ChannelName:     channelName,
		Payload:         payload,
		PartitionMarker: channelName,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	log.Debug("task enqueued", "task_id", env.TaskID, "topic", h.topic)

	shared.RespondWithJSON(w, r, http.StatusAccepted, shared.Envelope{
		Data: nil,
		Meta: map[string]interface{}{"task_id": env.TaskID},
	})
}

// GetStatus handles GET /api/v1/async_background_response/{taskID}/ requests.
// The full_response query flag selects the whole record instead of just the
// response.
func (h *TaskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	channelName, ok := middleware.GetChannel(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Channel could not be resolved")
		return
	}

	taskID := chi.URLParam(r, TaskIDParam)
	if taskID == "" {
		HandleAPIError(w, r, fmt.Errorf("%w: task id is required", ErrInvalidParameter), "")
		return
	}

	fullResponse, err := parseBoolQuery(r, "full_response")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	body, err := h.reader.Get(r.Context(), taskID, channelName, fullResponse)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, body)
}

// parseBoolQuery reads an optional boolean query parameter, false when absent.
func parseBoolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Join(
			fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameter, name),
			err,
		)
	}
	return value, nil
}
