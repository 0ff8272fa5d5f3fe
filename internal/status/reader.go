package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// notReady is returned in place of a response that has not been written yet.
var notReady = json.RawMessage(`{"status":"not ready"}`)

// Reader serves status reads on behalf of a resolved channel.
type Reader struct {
	store  Store
	logger *slog.Logger
}

// NewReader creates a Reader over store.
func NewReader(store Store, logger *slog.Logger) *Reader {
	return &Reader{
		store:  store,
		logger: logger.With("component", "status_reader"),
	}
}

// Get returns the status of taskID as seen by channelName. With fullResponse
// the whole record is returned; otherwise only the response, or a
// "not ready" placeholder while the response is still null.
//
// Channel ownership is checked before anything is returned, whichever view is
// requested.
func (r *Reader) Get(ctx context.Context, taskID, channelName string, fullResponse bool) (json.RawMessage, error) {
	rec, err := r.store.Read(ctx, taskID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("failed to read task status",
				"task_id", taskID,
				"error", err)
		}
		return nil, err
	}

	if rec.ChannelName != channelName {
		r.logger.Warn("status read from foreign channel",
			"task_id", taskID,
			"channel_name", channelName)
		return nil, ErrForbidden
	}

	if fullResponse {
		body, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode task status: %w", err)
		}
		return body, nil
	}

	if !rec.HasResponse() {
		return notReady, nil
	}
	return rec.Response, nil
}
