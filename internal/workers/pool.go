// Package workers runs independent jobs on a bounded set of goroutines.
// Comparisons and multi-symbol scans fan out here; a panicking job is
// recovered and reported as a PanicError instead of taking the process down.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Pool manages a pool of worker goroutines
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string        `mapstructure:"name"`
	NumWorkers      int           `mapstructure:"num_workers" validate:"min=1"`
	QueueSize       int           `mapstructure:"queue_size" validate:"min=1"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout"` // Zero disables the per task timeout
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PanicRecovery   bool          `mapstructure:"panic_recovery"`
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       256,
		TaskTimeout:     2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolMetrics tracks pool performance
type PoolMetrics struct {
	mu sync.Mutex

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	panics    atomic.Int64

	latencies  []time.Duration
	latencyIdx int
	startTime  time.Time
}

func newPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		latencies: make([]time.Duration, 0, 1024),
		startTime: time.Now(),
	}
}

func (m *PoolMetrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) < cap(m.latencies) {
		m.latencies = append(m.latencies, d)
		return
	}
	m.latencies[m.latencyIdx] = d
	m.latencyIdx = (m.latencyIdx + 1) % len(m.latencies)
}

func (m *PoolMetrics) p99() time.Duration {
	m.mu.Lock()
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// PoolStats contains pool statistics
type PoolStats struct {
	TasksSubmitted int64         `json:"tasks_submitted"`
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	TasksTimeout   int64         `json:"tasks_timeout"`
	PanicRecovered int64         `json:"panic_recovered"`
	P99Latency     time.Duration `json:"p99_latency"`
	Uptime         time.Duration `json:"uptime"`
}

// NewPool creates a new worker pool. Call Start before submitting.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger.Named("workers").With(zap.String("pool", config.Name)),
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   newPoolMetrics(),
	}
}

// Start initializes and starts all workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("Starting worker pool",
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(p.logger.With(zap.Int("worker_id", i)))
	}
}

func (p *Pool) run(logger *zap.Logger) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.taskQueue:
			p.execute(logger, task)
		}
	}
}

// execute runs one task with timeout and panic recovery
func (p *Pool) execute(logger *zap.Logger, task Task) {
	start := time.Now()

	ctx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.config.TaskTimeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.config.TaskTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if p.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					p.metrics.panics.Add(1)
					logger.Error("Worker recovered from panic", zap.Any("panic", r))
					done <- &PanicError{Recovered: r}
				}
			}()
		}
		done <- task.Execute(ctx)
	}()

	select {
	case err := <-done:
		p.metrics.recordLatency(time.Since(start))
		if err != nil {
			p.metrics.failed.Add(1)
			logger.Debug("Task failed", zap.Error(err))
			return
		}
		p.metrics.completed.Add(1)

	case <-ctx.Done():
		p.metrics.timedOut.Add(1)
		logger.Warn("Task timed out", zap.Duration("timeout", p.config.TaskTimeout))
	}
}

// Submit adds a task to the queue without blocking.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.metrics.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait queues a task, blocking while the queue is full, and waits
// for its result.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	done := make(chan error, 1)
	wrapper := TaskFunc(func(taskCtx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				p.metrics.panics.Add(1)
				p.logger.Error("Task recovered from panic", zap.Any("panic", r))
				err = &PanicError{Recovered: r}
			}
			done <- err
		}()
		return task.Execute(taskCtx)
	})

	select {
	case p.taskQueue <- wrapper:
		p.metrics.submitted.Add(1)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Stop gracefully shuts down the pool. Queued tasks that have not started
// are dropped.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("Stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timed out", zap.Duration("timeout", p.config.ShutdownTimeout))
		return ErrShutdownTimeout
	}
}

// QueueLength returns the current number of queued tasks
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// IsRunning returns whether the pool is running
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted: p.metrics.submitted.Load(),
		TasksCompleted: p.metrics.completed.Load(),
		TasksFailed:    p.metrics.failed.Load(),
		TasksTimeout:   p.metrics.timedOut.Load(),
		PanicRecovered: p.metrics.panics.Load(),
		P99Latency:     p.metrics.p99(),
		Uptime:         time.Since(p.metrics.startTime),
	}
}

// Map runs fn for every index in [0, n) on the pool and returns the results
// by index. A job that fails, panics or cannot be queued leaves the zero
// value in its slot and its error at the same index of errs. A job still
// running when ctx ends hands its value to a buffered channel nobody reads,
// so the returned slices are never written after Map returns.
func Map[T any](ctx context.Context, p *Pool, n int, fn func(ctx context.Context, i int) (T, error)) (results []T, errs []error) {
	results = make([]T, n)
	errs = make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := make(chan T, 1)
			err := p.SubmitWait(ctx, TaskFunc(func(taskCtx context.Context) error {
				res, err := fn(taskCtx, i)
				if err != nil {
					return err
				}
				out <- res
				return nil
			}))
			if err == nil {
				results[i] = <-out
			}
			errs[i] = err
		}()
	}
	wg.Wait()
	return results, errs
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Recovered)
}
