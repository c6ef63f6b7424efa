package dispatch

import "time"

// Task is a unit of work run by a Pool.
type Task func()

// Result represents the outcome of a task execution.
type Result struct {
	// Success is true if the task completed without panicking.
	Success bool

	// Error is set when the task was not run, e.g. the context was cancelled.
	Error error

	// Panicked is true if the task panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the task took to execute.
	Duration time.Duration

	// Skipped is true if the task was not executed.
	Skipped bool
}

// IsSuccess returns true if the result indicates successful execution.
func (r Result) IsSuccess() bool {
	return r.Success && !r.Panicked && r.Error == nil
}

// IsPanic returns true if the result indicates a panic.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// PanicHandler is called when a task panics.
// It receives the panic value and the stack trace.
type PanicHandler func(panicValue any, stack []byte)
