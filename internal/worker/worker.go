package worker

import (
	"context"
	"errors"
	"sync"
)

type StartOptions[J any] struct {
	Ctx    context.Context
	Sem    chan struct{}
	Jobs   <-chan J
	Handle func(context.Context, J)
	// WG, when set, is marked done once the worker goroutine exits.
	WG *sync.WaitGroup
}

func Start[J any](opts StartOptions[J]) {
	if opts.WG != nil {
		opts.WG.Add(1)
	}
	go func() {
		if opts.WG != nil {
			defer opts.WG.Done()
		}
		for {
			select {
			case <-opts.Ctx.Done():
				return
			case job, ok := <-opts.Jobs:
				if !ok {
					return
				}
				select {
				case opts.Sem <- struct{}{}:
				case <-opts.Ctx.Done():
					return
				}
				func() {
					defer func() { <-opts.Sem }()
					opts.Handle(opts.Ctx, job)
				}()
			}
		}
	}()
}

func Enqueue[J any](ctx, workersCtx context.Context, jobs chan<- J, job J) error {
	if ctx == nil {
		ctx = workersCtx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-workersCtx.Done():
		return workersCtx.Err()
	case jobs <- job:
		return nil
	}
}

// ErrClosed is returned by Keyed.Enqueue after Close.
var ErrClosed = errors.New("worker: closed")

const (
	defaultConcurrency = 8
	defaultBuffer      = 16
)

// Keyed runs one serial worker per key: jobs sharing a key are handled one at
// a time in enqueue order, jobs with different keys run concurrently up to
// the concurrency limit.
type Keyed[J any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	handle func(context.Context, J)
	buffer int

	mu      sync.Mutex
	closed  bool
	workers map[string]chan J
	wg      sync.WaitGroup
}

// NewKeyed creates a Keyed queue whose workers stop when ctx is cancelled or
// Close is called.
func NewKeyed[J any](ctx context.Context, concurrency, buffer int, handle func(context.Context, J)) (*Keyed[J], error) {
	if handle == nil {
		return nil, errors.New("worker: handle must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	wctx, cancel := context.WithCancel(ctx)
	return &Keyed[J]{
		ctx:     wctx,
		cancel:  cancel,
		sem:     make(chan struct{}, concurrency),
		handle:  handle,
		buffer:  buffer,
		workers: make(map[string]chan J),
	}, nil
}

// Enqueue hands job to the worker for key, starting it if needed. It blocks
// while that worker's buffer is full.
func (k *Keyed[J]) Enqueue(ctx context.Context, key string, job J) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrClosed
	}
	jobs, ok := k.workers[key]
	if !ok {
		jobs = make(chan J, k.buffer)
		k.workers[key] = jobs
		Start(StartOptions[J]{
			Ctx:    k.ctx,
			Sem:    k.sem,
			Jobs:   jobs,
			Handle: k.handle,
			WG:     &k.wg,
		})
	}
	k.mu.Unlock()
	return Enqueue(ctx, k.ctx, jobs, job)
}

// Len returns the number of started workers.
func (k *Keyed[J]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.workers)
}

// Close stops every worker and waits for in-flight jobs to return.
func (k *Keyed[J]) Close() {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
	k.cancel()
	k.wg.Wait()
}
