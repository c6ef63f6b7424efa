// Package dispatch provides the worker pool that runs publisher drains.
//
// # Pool
//
// Pool is elastic: it keeps no goroutines at rest, starts a worker when a
// task arrives and no idle worker can take it, and lets a worker exit after
// it has been idle for the idle timeout. The number of workers is capped.
// Tasks are handed to workers over an unbuffered channel, so a task is
// either running or still owned by the submitter.
//
// When the cap is reached and no worker frees up within the saturation
// timeout, Submit returns ErrPoolSaturated. After Shutdown it returns
// ErrPoolClosed.
//
// # Panic Recovery
//
// Workers run each task through an Executor. A panicking task is recovered,
// logged and counted; the worker survives and keeps serving.
//
// # Usage
//
//	pool := dispatch.NewPool(
//	    dispatch.WithMaxWorkers(16),
//	    dispatch.WithIdleTimeout(time.Second),
//	)
//	defer pool.Shutdown()
//
//	if err := pool.Submit(func() { drain() }); err != nil {
//	    // saturated or closed
//	}
package dispatch
