// Package postgres provides the PostgreSQL implementation of the task status
// store. Records live in the task_status table with an explicit expiry
// timestamp; notifications are sent with pg_notify on the task's channel, or on a
// digest of it when the name is too long for a PostgreSQL identifier.
// The schema is managed by goose migrations embedded in the binary.
package postgres
