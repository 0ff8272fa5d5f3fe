package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/phrazzld/asyncbg/internal/task"
)

// Common errors
var (
	// ErrNotFound is returned when no record exists for a task id, or it expired.
	ErrNotFound = errors.New("task status not found")

	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("task status record is corrupt")

	// ErrForbidden is returned when a reader's channel differs from the
	// channel the task was created for.
	ErrForbidden = errors.New("task belongs to another channel")
)

// Operations reported by StorageError.
const (
	OpSet     = "set"
	OpGet     = "get"
	OpPublish = "publish"
)

// StorageError reports a failed interaction with the status backend.
type StorageError struct {
	Op     string
	TaskID string
	Err    error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("status store %s failed for task %s: %v", e.Op, e.TaskID, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store persists task status records and announces every write.
type Store interface {
	// Write replaces the record of taskID and re-applies the retention window,
	// then publishes a notification to channelName. A nil response is stored
	// as JSON null.
	Write(ctx context.Context, taskID, channelName string, status task.Status, response json.RawMessage) error

	// Read returns the record of taskID, ErrNotFound when absent or expired,
	// or ErrCorruptRecord when the stored value cannot be decoded.
	Read(ctx context.Context, taskID string) (*task.Record, error)
}

// Subscriber is implemented by backends that can stream notifications.
type Subscriber interface {
	// Subscribe returns notifications published to channel until the returned
	// stop function is called or ctx is done.
	Subscribe(ctx context.Context, channel string) (<-chan task.Notification, func(), error)
}

// EncodeRecord produces the stored form of a status record.
func EncodeRecord(status task.Status, channelName string, response json.RawMessage) ([]byte, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", task.ErrUnknownStatus, status)
	}
	return json.Marshal(task.Record{
		Status:      status,
		ChannelName: channelName,
		Response:    response,
	})
}

// DecodeRecord parses a stored record, reporting ErrCorruptRecord on failure.
func DecodeRecord(data []byte) (*task.Record, error) {
	var rec task.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrCorruptRecord, rec.Status)
	}
	return &rec, nil
}
