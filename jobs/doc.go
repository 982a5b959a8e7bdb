// Package jobs implements the asynchronous job lifecycle: a status
// tracker whose conditional transitions keep terminal states sticky
// under concurrent at-least-once delivery, a durable lease-based queue,
// and a polling worker pool that runs deliveries through a handler.
package jobs
