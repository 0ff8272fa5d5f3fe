// Package producer hands work to the consumer fleet. Enqueue records the task
// as created, publishes its envelope through the broker client owned by the
// caller's context, and records the outcome of the send as pending or failed.
package producer
