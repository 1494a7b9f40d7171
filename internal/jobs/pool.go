// Package jobs runs units of asynchronous work on a fixed set of goroutines.
// Callers never block: Submit fails fast when the queue is full and Poll
// drains whatever results are ready.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull = errors.New("jobs: queue full")
	ErrClosed    = errors.New("jobs: pool shut down")
)

// Func does the work for one job.
type Func[J, R any] func(ctx context.Context, job J) (R, error)

// Result pairs a job with its output.
type Result[J, R any] struct {
	Job   J
	Value R
	Err   error
}

// Pool is a channel-fed worker pool with non-blocking submit and poll.
type Pool[J, R any] struct {
	name    string
	jobs    chan J
	results chan Result[J, R]
	fn      Func[J, R]
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inFlight atomic.Int64
	closed   atomic.Bool
}

// New starts workers goroutines. queueSize bounds jobs waiting for a worker.
func New[J, R any](name string, workers, queueSize int, fn Func[J, R], log *slog.Logger) *Pool[J, R] {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[J, R]{
		name:    name,
		jobs:    make(chan J, queueSize),
		results: make(chan Result[J, R], queueSize+workers),
		fn:      fn,
		log:     log.With("pool", name),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit queues a job without blocking.
func (p *Pool[J, R]) Submit(job J) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.inFlight.Add(1)
	select {
	case p.jobs <- job:
		return nil
	default:
		p.inFlight.Add(-1)
		return ErrQueueFull
	}
}

// Poll appends every ready result to dst without blocking.
func (p *Pool[J, R]) Poll(dst []Result[J, R]) []Result[J, R] {
	for {
		select {
		case r := <-p.results:
			p.inFlight.Add(-1)
			dst = append(dst, r)
		default:
			return dst
		}
	}
}

// InFlight counts jobs submitted whose results have not been polled yet.
func (p *Pool[J, R]) InFlight() int {
	return int(p.inFlight.Load())
}

// QueueLength is the number of jobs waiting for a worker.
func (p *Pool[J, R]) QueueLength() int {
	return len(p.jobs)
}

// Shutdown stops the workers. Jobs still queued are dropped; running jobs see a
// cancelled context.
func (p *Pool[J, R]) Shutdown() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	p.wg.Wait()
}

func (p *Pool[J, R]) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			r := p.run(job)
			select {
			case p.results <- r:
			case <-p.ctx.Done():
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool[J, R]) run(job J) (r Result[J, R]) {
	r.Job = job
	defer func() {
		if v := recover(); v != nil {
			p.log.Error("job panicked", "panic", v, "stack", string(debug.Stack()))
			r.Err = fmt.Errorf("%s job panicked: %v", p.name, v)
		}
	}()
	r.Value, r.Err = p.fn(p.ctx, job)
	return r
}
