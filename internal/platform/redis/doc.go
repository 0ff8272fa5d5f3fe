// Package redis implements the task status store on Redis. Each record is a
// plain string key (the task id) holding the JSON record with an expiry equal
// to the retention window; notifications go out with PUBLISH on the task's
// channel.
package redis
