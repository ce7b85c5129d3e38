// Package notifier delivers user-facing notifications to one or more sinks.
//
// A notification is identified by an integer id: showing the same id again
// replaces it and Cancel removes it. Requests are queued and handled by a small
// worker pool. Every id hashes to one worker, so a show followed by a cancel
// for the same id is delivered in that order.
//
// # Delivery
//
// Sends are rate limited (token bucket shared by all workers) and retried
// with jittered exponential backoff. A failing sink does not block the others.
//
// # History
//
// For operator visibility, the service keeps a small in-memory history of
// recently delivered notifications (see Snapshot).
package notifier
