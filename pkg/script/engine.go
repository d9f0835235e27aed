package script

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBudget is the wall-clock limit for one script run.
const DefaultBudget = 50 * time.Millisecond

// Engine runs jobs on a small worker pool. go-lua has no preemption, so a
// runaway script cannot be stopped from outside; on budget overrun the
// engine abandons the worker and stands up a replacement. The abandoned
// goroutine finishes (or spins) alone, its result is discarded, and it
// exits instead of rejoining the pool.
type Engine struct {
	jobs      chan request
	budget    time.Duration
	workers   int
	abandoned atomic.Int64

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

type request struct {
	job   Job
	reply chan *Result
	gone  chan struct{} // closed when the caller stopped waiting
}

// NewEngine starts a pool with the given worker count and per-job budget.
func NewEngine(workers int, budget time.Duration) *Engine {
	if workers <= 0 {
		workers = 2
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	e := &Engine{
		jobs:    make(chan request),
		budget:  budget,
		workers: workers,
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

// Close stops accepting jobs. Running workers drain naturally.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.done)
	}
}

// Abandoned reports how many workers have been written off to runaway
// scripts since start.
func (e *Engine) Abandoned() int64 { return e.abandoned.Load() }

func (e *Engine) worker() {
	for {
		select {
		case <-e.done:
			return
		case req := <-e.jobs:
			res := run(req.job)
			select {
			case req.reply <- res:
			case <-req.gone:
				// Budget expired while we ran and a replacement worker
				// is already in the pool. Exit rather than grow it.
				return
			}
		}
	}
}

// Run executes a job and waits at most the engine budget for the result.
// A timed-out job yields ErrTimeout; its worker is replaced so one stuck
// script cannot starve the pool.
func (e *Engine) Run(ctx context.Context, job Job) *Result {
	if err := ctx.Err(); err != nil {
		return &Result{Err: err}
	}
	req := request{job: job, reply: make(chan *Result), gone: make(chan struct{})}
	deadline := time.NewTimer(e.budget)
	defer deadline.Stop()

	select {
	case e.jobs <- req:
	case <-deadline.C:
		return &Result{Err: ErrBusy}
	case <-ctx.Done():
		return &Result{Err: ctx.Err()}
	case <-e.done:
		return &Result{Err: ErrBusy}
	}

	select {
	case res := <-req.reply:
		return res
	case <-deadline.C:
		e.abandoned.Add(1)
		log.Printf("script: %s hook exceeded %v budget, worker abandoned (total %d)",
			job.Hook, e.budget, e.abandoned.Load())
		close(req.gone)
		go e.worker()
		return &Result{Err: ErrTimeout}
	case <-ctx.Done():
		close(req.gone)
		go e.worker()
		return &Result{Err: ctx.Err()}
	}
}
