package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/asyncbg/internal/metrics"
	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/task"
)

// DBTX is implemented by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const upsertStatusQuery = `
	INSERT INTO task_status (task_id, channel_name, status, response, expires_at, updated_at)
	VALUES ($1, $2, $3, $4, NOW() + ($5 * INTERVAL '1 second'), NOW())
	ON CONFLICT (task_id) DO UPDATE SET
		channel_name = EXCLUDED.channel_name,
		status = EXCLUDED.status,
		response = EXCLUDED.response,
		expires_at = EXCLUDED.expires_at,
		updated_at = EXCLUDED.updated_at`

const selectStatusQuery = `
	SELECT status, channel_name, response
	FROM task_status
	WHERE task_id = $1 AND expires_at > NOW()`

// maxNotifyChannelLen is the longest identifier PostgreSQL accepts
// (NAMEDATALEN - 1); pg_notify rejects longer channel names.
const maxNotifyChannelLen = 63

// NotifyChannel returns the pg_notify channel used for channelName. Names
// that fit are used as is; longer ones are replaced by a stable digest.
func NotifyChannel(channelName string) string {
	if len(channelName) <= maxNotifyChannelLen {
		return channelName
	}
	sum := sha256.Sum256([]byte(channelName))
	return "asyncbg_" + hex.EncodeToString(sum[:20])
}

// StatusStore implements status.Store using a PostgreSQL database.
type StatusStore struct {
	db     DBTX
	ttl    time.Duration
	logger *slog.Logger
}

// Ensure StatusStore implements status.Store
var _ status.Store = (*StatusStore)(nil)

// NewStatusStore creates a store keeping records for ttl.
// If logger is nil, a default logger will be used.
func NewStatusStore(db DBTX, ttl time.Duration, logger *slog.Logger) *StatusStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StatusStore{
		db:     db,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "postgres_status_store")),
	}
}

// Write implements status.Store. The upsert and the notification are separate
// statements; a failed pg_notify leaves the new record in place.
func (s *StatusStore) Write(
	ctx context.Context,
	taskID, channelName string,
	st task.Status,
	response json.RawMessage,
) error {
	log := s.logger.With("task_id", taskID, "status", st)

	if !st.Valid() {
		metrics.StatusWrites.WithLabelValues(string(st), "set_error").Inc()
		return &status.StorageError{
			Op:     status.OpSet,
			TaskID: taskID,
			Err:    fmt.Errorf("%w: %q", task.ErrUnknownStatus, st),
		}
	}

	var responseArg any
	if len(response) > 0 && string(response) != "null" {
		responseArg = string(response)
	}

	_, err := s.db.ExecContext(ctx, upsertStatusQuery,
		taskID, channelName, string(st), responseArg, s.ttl.Seconds())
	if err != nil {
		log.Error("failed to persist task status", "error", err)
		metrics.StatusWrites.WithLabelValues(string(st), "set_error").Inc()
		return &status.StorageError{Op: status.OpSet, TaskID: taskID, Err: MapError(err)}
	}

	notification, err := json.Marshal(task.NewNotification(taskID, st))
	if err != nil {
		return &status.StorageError{Op: status.OpPublish, TaskID: taskID, Err: err}
	}

	notifyChannel := NotifyChannel(channelName)
	if _, err := s.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(notification)); err != nil {
		log.Error("failed to publish task status notification",
			"notify_channel", notifyChannel,
			"error", err)
		metrics.StatusWrites.WithLabelValues(string(st), "publish_error").Inc()
		return &status.StorageError{Op: status.OpPublish, TaskID: taskID, Err: err}
	}

	metrics.StatusWrites.WithLabelValues(string(st), metrics.OutcomeOK).Inc()
	return nil
}

// Read implements status.Store. Expired rows are treated as absent.
func (s *StatusStore) Read(ctx context.Context, taskID string) (*task.Record, error) {
	var (
		rawStatus string
		rec       task.Record
		response  []byte
	)

	err := s.db.QueryRowContext(ctx, selectStatusQuery, taskID).
		Scan(&rawStatus, &rec.ChannelName, &response)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrNotFound
		}
		return nil, &status.StorageError{Op: status.OpGet, TaskID: taskID, Err: err}
	}

	st, err := task.ParseStatus(rawStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrCorruptRecord, err)
	}
	rec.Status = st
	if response != nil {
		rec.Response = json.RawMessage(response)
	}

	return &rec, nil
}

// PurgeExpired deletes records whose retention window has passed and returns
// how many were removed.
func (s *StatusStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM task_status WHERE expires_at <= NOW()")
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired task status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Info("purged expired task status records", "count", n)
	}
	return n, nil
}

// RunPurger calls PurgeExpired every interval until ctx is done.
func (s *StatusStore) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("task status purge failed", "error", err)
			}
		}
	}
}
