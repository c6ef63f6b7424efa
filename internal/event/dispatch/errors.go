package dispatch

import "errors"

// Sentinel errors for the dispatch package.
var (
	// ErrPoolSaturated is returned when every worker stayed busy for the
	// whole saturation timeout.
	ErrPoolSaturated = errors.New("worker pool saturated")

	// ErrPoolClosed is returned when a task is submitted after Shutdown.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrNilTask is returned when Submit is called with a nil task.
	ErrNilTask = errors.New("task is nil")
)
