// Package broker owns the connections to the message broker.
//
// A broker client binds sockets and buffers to the execution context that
// started it, so clients are never shared between contexts: the Registry hands
// out one lazily created client per ContextID, and Process holds the single
// client a consumer process uses for its whole lifetime. The Kafka
// implementation lives in kafka.go; brokertest provides an in-memory broker for
// tests.
package broker
