// Package task defines the data model shared by producers, consumers and the
// status store: the immutable task envelope sent through the broker, the
// persisted status record with its lifecycle rules, and the lightweight status
// notification published to a channel on every write.
package task
