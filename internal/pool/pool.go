// Package pool runs jobs on a fixed set of workers behind a bounded backlog.
package pool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var (
	ErrClosed = errors.New("pool: closed")
	ErrFull   = errors.New("pool: backlog full")
)

// Job is one unit of work. It runs on the context it was submitted with.
type Job func(ctx context.Context)

// PanicHandler receives a recovered job panic with the stack of the
// goroutine that raised it.
type PanicHandler func(recovered any, stack []byte)

// Config sizes the pool.
type Config struct {
	// Workers is the number of jobs that run at once.
	Workers int
	// Backlog is how many admitted jobs may wait for a worker.
	Backlog int
	// OnPanic is called after a job panics. The worker keeps serving.
	OnPanic PanicHandler
}

// Pool admits at most Workers+Backlog jobs. Admission is decided when
// Submit is called, so a job is either accepted and eventually run or
// rejected with ErrFull right away.
type Pool struct {
	slots   *semaphore.Weighted
	jobs    chan submission
	onPanic PanicHandler

	// mu orders sends on jobs against Close.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	running  atomic.Int32
	accepted atomic.Int64
	rejected atomic.Int64
	panicked atomic.Int64
}

type submission struct {
	ctx context.Context
	job Job
}

// New starts the workers.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Backlog < 0 {
		cfg.Backlog = 0
	}
	capacity := cfg.Workers + cfg.Backlog

	p := &Pool{
		slots:   semaphore.NewWeighted(int64(capacity)),
		jobs:    make(chan submission, capacity),
		onPanic: cfg.OnPanic,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.work()
	}
	return p
}

// Submit admits job without blocking.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	if !p.slots.TryAcquire(1) {
		p.rejected.Add(1)
		return ErrFull
	}
	p.accepted.Add(1)
	// A held slot guarantees room in the buffer.
	p.jobs <- submission{ctx: ctx, job: job}
	return nil
}

func (p *Pool) work() {
	defer p.wg.Done()
	for s := range p.jobs {
		p.running.Add(1)
		p.runOne(s)
		p.running.Add(-1)
		p.slots.Release(1)
	}
}

func (p *Pool) runOne(s submission) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			if p.onPanic != nil {
				p.onPanic(r, debug.Stack())
			}
		}
	}()
	s.job(s.ctx)
}

// Close stops admission, lets admitted jobs finish and waits for the
// workers. Calling it again is a no-op.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Running  int   `json:"running"`
	Waiting  int   `json:"waiting"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Panicked int64 `json:"panicked"`
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Running:  int(p.running.Load()),
		Waiting:  len(p.jobs),
		Accepted: p.accepted.Load(),
		Rejected: p.rejected.Load(),
		Panicked: p.panicked.Load(),
	}
}
