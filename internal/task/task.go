package task

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status represents the current state of a background task.
type Status string

// Possible task status values
const (
	// StatusCreated means the task is registered but not yet handed to the broker
	StatusCreated Status = "created"
	// StatusPending means the broker accepted the envelope and it awaits a consumer
	StatusPending Status = "pending"
	// StatusProcessing means a consumer has started working on the task
	StatusProcessing Status = "processing"
	// StatusCompleted means the task finished successfully
	StatusCompleted Status = "completed"
	// StatusFailed means the task could not be sent or its processing failed
	StatusFailed Status = "failed"
)

// NotificationAction tags every status notification published to a channel.
const NotificationAction = "async_bg"

// Common errors
var (
	ErrUnknownStatus     = errors.New("unknown task status")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// statusOrder gives each status its position in the lifecycle.
var statusOrder = map[Status]int{
	StatusCreated:    0,
	StatusPending:    1,
	StatusProcessing: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := statusOrder[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// IsTerminal reports whether no further transitions are expected from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next respects the lifecycle
// CREATED -> PENDING -> PROCESSING -> COMPLETED|FAILED. Any non-terminal state
// may jump straight to FAILED. Rewriting the same status is allowed so that
// redelivered envelopes can repeat their writes.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return statusOrder[next] == statusOrder[s]+1
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// Envelope is the immutable unit of work sent through the broker.
type Envelope struct {
	// TaskID is generated at enqueue time and is globally unique
	TaskID string `json:"task_id"`

	// ChannelName routes status notifications and guards status reads
	ChannelName string `json:"channel_name"`

	// Payload is caller-supplied JSON, opaque to this package
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses the broker wire format of an envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode task envelope: %w", err)
	}
	if env.TaskID == "" {
		return nil, errors.New("failed to decode task envelope: missing task_id")
	}
	return &env, nil
}

// UnmarshalPayload decodes the envelope payload into the provided structure.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Record is the persisted state of a task, keyed by task id.
type Record struct {
	Status      Status          `json:"status"`
	ChannelName string          `json:"channel_name"`
	Response    json.RawMessage `json:"response"`
}

// MarshalJSON writes a null response instead of omitting it.
func (r Record) MarshalJSON() ([]byte, error) {
	response := r.Response
	if len(response) == 0 {
		response = json.RawMessage("null")
	}
	type alias Record
	return json.Marshal(alias{
		Status:      r.Status,
		ChannelName: r.ChannelName,
		Response:    response,
	})
}

// HasResponse reports whether the record carries a non-null response.
func (r *Record) HasResponse() bool {
	return len(r.Response) > 0 && string(r.Response) != "null"
}

// Notification is the lightweight message published to a channel on every
// status write. It is never persisted.
type Notification struct {
	Status Status `json:"status"`
	TaskID string `json:"task_id"`
	Action string `json:"action"`
}

// NewNotification builds the notification for a status write.
func NewNotification(taskID string, status Status) Notification {
	return Notification{
		Status: status,
		TaskID: taskID,
		Action: NotificationAction,
	}
}

// ErrorResponse builds the response body stored with a FAILED status.
func ErrorResponse(err error) json.RawMessage {
	body, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"error":"unknown error"}`)
	}
	return body
}
