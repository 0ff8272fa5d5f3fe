// Package statustest provides an in-memory status store for tests.
package statustest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/task"
)

// Write is one recorded call to Store.Write.
type Write struct {
	TaskID      string
	ChannelName string
	Status      task.Status
	Response    json.RawMessage
}

// Store is an in-memory status.Store and status.Subscriber. It keeps every
// write in order so tests can assert on the status sequence of a task.
type Store struct {
	// WriteFn, when set, is consulted before each write; a non-nil error is
	// returned and the write is not applied.
	WriteFn func(taskID string, status task.Status) error

	mu          sync.Mutex
	records     map[string][]byte
	writes      []Write
	subscribers map[string][]chan task.Notification
}

var (
	_ status.Store      = (*Store)(nil)
	_ status.Subscriber = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		records:     make(map[string][]byte),
		subscribers: make(map[string][]chan task.Notification),
	}
}

// Write implements status.Store.
func (s *Store) Write(_ context.Context, taskID, channelName string, st task.Status, response json.RawMessage) error {
	if s.WriteFn != nil {
		if err := s.WriteFn(taskID, st); err != nil {
			return err
		}
	}

	data, err := status.EncodeRecord(st, channelName, response)
	if err != nil {
		return &status.StorageError{Op: status.OpSet, TaskID: taskID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[taskID] = data
	s.writes = append(s.writes, Write{
		TaskID:      taskID,
		ChannelName: channelName,
		Status:      st,
		Response:    response,
	})

	n := task.NewNotification(taskID, st)
	for _, ch := range s.subscribers[channelName] {
		select {
		case ch <- n:
		default:
		}
	}

	return nil
}

// Read implements status.Store.
func (s *Store) Read(_ context.Context, taskID string) (*task.Record, error) {
	s.mu.Lock()
	data, ok := s.records[taskID]
	s.mu.Unlock()
	if !ok {
		return nil, status.ErrNotFound
	}
	return status.DecodeRecord(data)
}

// Put stores raw bytes under taskID, bypassing encoding.
func (s *Store) Put(taskID string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[taskID] = raw
}

// Writes returns every write, in order.
func (s *Store) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// Statuses returns the status sequence written for taskID.
func (s *Store) Statuses(taskID string) []task.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Status
	for _, w := range s.writes {
		if w.TaskID == taskID {
			out = append(out, w.Status)
		}
	}
	return out
}

// Subscribe implements status.Subscriber.
func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan task.Notification, func(), error) {
	ch := make(chan task.Notification, 16)

	s.mu.Lock()
	s.subscribers[channel] = append(s.subscribers[channel], ch)
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			subs := s.subscribers[channel]
			for i, c := range subs {
				if c == ch {
					s.subscribers[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch, stop, nil
}
