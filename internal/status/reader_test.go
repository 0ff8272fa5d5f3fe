package status_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/status/statustest"
	"github.com/phrazzld/asyncbg/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReader_Get(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := statustest.New()
	require.NoError(t, store.Write(ctx, "pending-task", "user_1", task.StatusPending, nil))
	require.NoError(t, store.Write(ctx, "done-task", "user_1", task.StatusCompleted,
		json.RawMessage(`{"echo":"hi"}`)))
	store.Put("broken-task", []byte("{not json"))

	reader := status.NewReader(store, testLogger())

	tests := []struct {
		name         string
		taskID       string
		channel      string
		fullResponse bool
		wantBody     string
		wantErr      error
	}{
		{
			name:     "response not ready",
			taskID:   "pending-task",
			channel:  "user_1",
			wantBody: `{"status":"not ready"}`,
		},
		{
			name:         "full record while pending",
			taskID:       "pending-task",
			channel:      "user_1",
			fullResponse: true,
			wantBody:     `{"status":"pending","channel_name":"user_1","response":null}`,
		},
		{
			name:     "completed response",
			taskID:   "done-task",
			channel:  "user_1",
			wantBody: `{"echo":"hi"}`,
		},
		{
			name:         "completed full record",
			taskID:       "done-task",
			channel:      "user_1",
			fullResponse: true,
			wantBody:     `{"status":"completed","channel_name":"user_1","response":{"echo":"hi"}}`,
		},
		{
			name:    "unknown task",
			taskID:  "missing",
			channel: "user_1",
			wantErr: status.ErrNotFound,
		},
		{
			name:    "foreign channel",
			taskID:  "done-task",
			channel: "user_2",
			wantErr: status.ErrForbidden,
		},
		{
			name:         "foreign channel with full response",
			taskID:       "done-task",
			channel:      "user_2",
			fullResponse: true,
			wantErr:      status.ErrForbidden,
		},
		{
			name:    "corrupt record",
			taskID:  "broken-task",
			channel: "user_1",
			wantErr: status.ErrCorruptRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := reader.Get(ctx, tt.taskID, tt.channel, tt.fullResponse)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, body)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantBody, string(body))
		})
	}
}

func TestStorageError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := error(&status.StorageError{Op: status.OpPublish, TaskID: "t1", Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "publish")
	assert.Contains(t, err.Error(), "t1")

	var storageErr *status.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, status.OpPublish, storageErr.Op)
}

func TestEncodeDecodeRecord(t *testing.T) {
	t.Parallel()

	data, err := status.EncodeRecord(task.StatusFailed, "chan", task.ErrorResponse(errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"failed","channel_name":"chan","response":{"error":"boom"}}`, string(data))

	_, err = status.EncodeRecord(task.Status("bogus"), "chan", nil)
	assert.ErrorIs(t, err, task.ErrUnknownStatus)

	_, err = status.DecodeRecord([]byte(`{"status":"bogus","channel_name":"c","response":null}`))
	assert.ErrorIs(t, err, status.ErrCorruptRecord)
}
