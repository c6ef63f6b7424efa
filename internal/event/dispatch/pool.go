package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Pool defaults.
const (
	DefaultMaxWorkers        = 100
	DefaultIdleTimeout       = 10 * time.Second
	DefaultSaturationTimeout = 5 * time.Second

	// retryInterval is how often a saturated Submit re-checks the worker cap.
	retryInterval = 5 * time.Millisecond
)

// PoolOption configures a Pool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	maxWorkers        int
	idleTimeout       time.Duration
	saturationTimeout time.Duration
	logger            *logrus.Entry
	panicHandler      PanicHandler
}

// WithMaxWorkers caps the number of concurrent workers.
func WithMaxWorkers(n int) PoolOption {
	return func(c *poolConfig) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithIdleTimeout sets how long a worker waits for work before exiting.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(c *poolConfig) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithSaturationTimeout sets how long Submit waits for a free worker once
// the cap is reached.
func WithSaturationTimeout(d time.Duration) PoolOption {
	return func(c *poolConfig) {
		if d > 0 {
			c.saturationTimeout = d
		}
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *logrus.Entry) PoolOption {
	return func(c *poolConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPanicHandler sets a handler called, in addition to logging, when a
// task panics.
func WithPanicHandler(h PanicHandler) PoolOption {
	return func(c *poolConfig) {
		c.panicHandler = h
	}
}

// Pool is an elastic, capped worker pool.
type Pool struct {
	config   poolConfig
	sem      *semaphore.Weighted
	tasks    chan Task
	done     chan struct{}
	executor *Executor
	logger   *logrus.Entry

	mu     sync.RWMutex // guards closed against worker spawns
	closed bool
	wg     sync.WaitGroup

	workers  atomic.Int32
	spawned  atomic.Uint64
	executed atomic.Uint64
	panicked atomic.Uint64
	rejected atomic.Uint64
}

// PoolStats contains pool statistics.
type PoolStats struct {
	// Workers is the number of live workers.
	Workers int

	// Spawned is the total number of workers started.
	Spawned uint64

	// Executed is the number of tasks run, including those that panicked.
	Executed uint64

	// Panicked is the number of tasks that panicked.
	Panicked uint64

	// Rejected is the number of tasks refused with ErrPoolSaturated.
	Rejected uint64
}

// NewPool creates a pool with no running workers.
func NewPool(opts ...PoolOption) *Pool {
	cfg := poolConfig{
		maxWorkers:        DefaultMaxWorkers,
		idleTimeout:       DefaultIdleTimeout,
		saturationTimeout: DefaultSaturationTimeout,
		logger:            logrus.StandardLogger().WithField("component", "pool"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pool{
		config: cfg,
		sem:    semaphore.NewWeighted(int64(cfg.maxWorkers)),
		tasks:  make(chan Task),
		done:   make(chan struct{}),
		logger: cfg.logger,
	}
	p.executor = NewExecutor(WithExecutorPanicHandler(p.onPanic))
	return p
}

// Submit hands task to an idle worker, or starts a new one if the cap
// allows. Otherwise it waits up to the saturation timeout for a worker to
// free up.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if p.isClosed() {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	if p.sem.TryAcquire(1) {
		return p.spawn(task)
	}

	deadline := time.NewTimer(p.config.saturationTimeout)
	defer deadline.Stop()
	retry := time.NewTicker(retryInterval)
	defer retry.Stop()

	for {
		select {
		case p.tasks <- task:
			return nil
		case <-p.done:
			return ErrPoolClosed
		case <-retry.C:
			if p.sem.TryAcquire(1) {
				return p.spawn(task)
			}
		case <-deadline.C:
			p.rejected.Add(1)
			p.logger.WithFields(logrus.Fields{
				"max_workers": p.config.maxWorkers,
				"waited":      p.config.saturationTimeout,
			}).Warn("worker pool saturated")
			return fmt.Errorf("submit: %w", ErrPoolSaturated)
		}
	}
}

// spawn starts a worker whose first task is task. The caller holds one
// semaphore permit, which the worker releases on exit.
func (p *Pool) spawn(task Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.sem.Release(1)
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	p.workers.Add(1)
	n := p.spawned.Add(1)
	go p.work(n, task)
	return nil
}

func (p *Pool) work(id uint64, first Task) {
	defer p.wg.Done()
	defer p.sem.Release(1)
	defer p.workers.Add(-1)

	logger := p.logger.WithField("worker", id)
	logger.Trace("worker started")

	p.run(first)

	idle := time.NewTimer(p.config.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case task := <-p.tasks:
			p.run(task)
			idle.Reset(p.config.idleTimeout)
		case <-idle.C:
			logger.Trace("worker reaped")
			return
		case <-p.done:
			return
		}
	}
}

func (p *Pool) run(task Task) {
	p.executor.Execute(context.Background(), task)
	p.executed.Add(1)
}

func (p *Pool) onPanic(value any, stack []byte) {
	p.panicked.Add(1)
	p.logger.WithFields(logrus.Fields{
		"panic": fmt.Sprint(value),
		"stack": string(stack),
	}).Error("task panicked")

	if p.config.panicHandler != nil {
		p.config.panicHandler(value, stack)
	}
}

// Shutdown stops the pool. Idle workers exit at once and busy workers exit
// after their current task. Pending and later submits fail with
// ErrPoolClosed. Shutdown is idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
}

// Wait blocks until every worker has exited or ctx is done. It is meant to
// be called after Shutdown.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsClosed reports whether Shutdown has been called.
func (p *Pool) IsClosed() bool {
	return p.isClosed()
}

func (p *Pool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:  int(p.workers.Load()),
		Spawned:  p.spawned.Load(),
		Executed: p.executed.Load(),
		Panicked: p.panicked.Load(),
		Rejected: p.rejected.Load(),
	}
}
