package chaty

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultDispatcherWorkers     = 4
	DefaultDispatcherQueueSize   = 256
	DefaultDispatcherTaskTimeout = 30 * time.Second
)

var ErrDispatcherStopped = goerrors.New("dispatcher is stopped", goerrors.CategoryOperation).
	WithTextCode("DISPATCHER_STOPPED")

type detachedTask struct {
	name string
	fn   func(ctx context.Context) error
}

// Dispatcher runs fire-and-forget tasks on a fixed pool of workers. Tasks run
// under a root context that is not tied to any request, so a client hanging
// up does not cancel them. Failures are only logged.
//
// Tasks are keyed by name: while a task with a given name is queued or
// running, new submissions under that name are skipped.
type Dispatcher struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	queue    chan *detachedTask
	closed   bool

	workers int
	timeout time.Duration
	inline  bool
	logger  Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ TaskRunner = (*Dispatcher)(nil)

type DispatcherOption func(*Dispatcher)

func WithDispatcherWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithDispatcherQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan *detachedTask, n)
		}
	}
}

func WithDispatcherTaskTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = normalizeLogger(logger)
	}
}

// WithInlineDispatch runs every task synchronously inside Go. Meant for tests.
func WithInlineDispatch() DispatcherOption {
	return func(d *Dispatcher) {
		d.inline = true
	}
}

// NewDispatcher builds a dispatcher and starts its workers.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		inflight: make(map[string]struct{}),
		queue:    make(chan *detachedTask, DefaultDispatcherQueueSize),
		workers:  DefaultDispatcherWorkers,
		timeout:  DefaultDispatcherTaskTimeout,
		logger:   defLogger{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	if !d.inline {
		for i := 1; i <= d.workers; i++ {
			d.wg.Add(1)
			go d.work(i)
		}
	}

	return d
}

// Go submits task under name. It never blocks: a full queue drops the task
// and returns ErrQueueFull.
func (d *Dispatcher) Go(name string, task func(ctx context.Context) error) error {
	if task == nil {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	if _, busy := d.inflight[name]; busy {
		d.mu.Unlock()
		d.logger.Debug("task already pending, skipped", "task", name)
		return nil
	}
	d.inflight[name] = struct{}{}

	job := &detachedTask{name: name, fn: task}
	if d.inline {
		d.mu.Unlock()
		d.run(job)
		return nil
	}

	select {
	case d.queue <- job:
		d.mu.Unlock()
		return nil
	default:
		delete(d.inflight, name)
		d.mu.Unlock()
		d.logger.Error("task dropped, queue full", "task", name)
		return withMeta(ErrQueueFull, nil, map[string]any{"task": name})
	}
}

// Pending returns the number of queued or running tasks.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Shutdown stops accepting tasks, drains the queue and waits for workers.
// When ctx ends first, running tasks are cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) work(idx int) {
	defer d.wg.Done()
	for job := range d.queue {
		d.logger.Debug("task picked", "task", job.name, "worker", idx)
		d.run(job)
	}
}

func (d *Dispatcher) run(job *detachedTask) {
	defer d.finish(job)

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.safeCall(ctx, job)
	if err != nil {
		d.logger.Error("task failed", "task", job.name, "duration", time.Since(start), "error", err)
		return
	}
	d.logger.Debug("task finished", "task", job.name, "duration", time.Since(start))
}

func (d *Dispatcher) safeCall(ctx context.Context, job *detachedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerrors.New(fmt.Sprintf("task panicked: %v", r), goerrors.CategoryInternal).
				WithMetadata(map[string]any{"task": job.name})
		}
	}()
	return job.fn(ctx)
}

func (d *Dispatcher) finish(job *detachedTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, job.name)
}
