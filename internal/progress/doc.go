// Package progress carries search-run events from orchestrators to sinks.
// Emit never blocks the run: events are buffered, batched on a background
// goroutine and handed to pluggable sinks such as logs, Prometheus or the run
// history table.
package progress
