// Package api holds the HTTP handlers of the async background API: task
// submission, status lookup and the WebSocket notification stream. Handlers
// translate HTTP concerns into producer and status store calls and map their
// errors onto status codes.
package api
