// Package status defines the task status store contract and the access-checked
// read path on top of it.
//
// A write persists the full status record under the task id with a fresh
// retention window and then publishes a notification to the task's channel.
// The two steps are independent: a failed publish does not roll back the
// persisted record. Backends live in internal/platform/redis and
// internal/platform/postgres.
package status
