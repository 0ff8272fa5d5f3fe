// Package consumer runs the receive loop of one consumer process.
//
// A Runtime subscribes to every topic registered on its Router and hands each
// envelope to the topic's handler. It waits out broker outages by reconnecting
// every second, stops cleanly when its jittered lifetime ends or its context
// is cancelled, and stops with a FatalError on any other failure so that the
// supervisor restarts the whole process.
package consumer
