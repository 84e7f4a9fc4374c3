package crawler

import "errors"

var (
	// ErrInvalidTask is returned when a search task misses required parameters.
	ErrInvalidTask = errors.New("invalid search task")
	// ErrLoginExpired is returned when the provider serves a login wall instead of results.
	ErrLoginExpired = errors.New("account login expired")
	// ErrNoAccount is returned when the health pool has no usable credential.
	ErrNoAccount = errors.New("no account available")
	// ErrRateLimited is returned when an account exhausted its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrAccountNotFound is returned by account stores for unknown ids.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAlreadyRunning is reported when another run holds the search lock.
	ErrAlreadyRunning = errors.New("search already running")
	// ErrQueueClosed is returned by queues that no longer hand out tasks.
	ErrQueueClosed = errors.New("queue closed")
)
