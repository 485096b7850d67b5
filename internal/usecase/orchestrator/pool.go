package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"agentroute/internal/domain"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("execution pool closed")

// Pool runs phase executions on a fixed set of workers fed by a bounded queue.
type Pool struct {
	executor domain.AgentExecutor
	jobs     chan job
	group    *errgroup.Group
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

type job struct {
	ctx  context.Context
	task domain.AgentTask
	done chan outcome
}

type outcome struct {
	result *domain.PhaseResult
	err    error
}

// Future resolves to the outcome of one submitted phase.
type Future struct {
	done chan outcome
}

// Wait blocks until the phase finishes or ctx is done. A ctx error is
// returned as is so callers can tell cancellation from deadline expiry.
func (f *Future) Wait(ctx context.Context) (*domain.PhaseResult, error) {
	select {
	case o := <-f.done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewPool starts workers goroutines consuming a queue of queueSize jobs.
func NewPool(executor domain.AgentExecutor, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = discardLogger()
	}
	p := &Pool{
		executor: executor,
		jobs:     make(chan job, queueSize),
		group:    &errgroup.Group{},
		logger:   logger,
	}
	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			p.work()
			return nil
		})
	}
	return p
}

func (p *Pool) work() {
	for j := range p.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- outcome{err: err}
			continue
		}
		j.done <- p.execute(j)
	}
}

func (p *Pool) execute(j job) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("agent executor panicked", "agent", j.task.AgentName, "task", j.task.ID, "panic", r)
			o = outcome{err: fmt.Errorf("executor panic: %v", r)}
		}
	}()
	res, err := p.executor.Execute(j.ctx, j.task)
	if err == nil && res == nil {
		err = errors.New("executor returned no result")
	}
	return outcome{result: res, err: err}
}

// Submit queues task for execution. It blocks while the queue is full,
// until ctx is done.
func (p *Pool) Submit(ctx context.Context, task domain.AgentTask) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	j := job{ctx: ctx, task: task, done: make(chan outcome, 1)}
	select {
	case p.jobs <- j:
		return &Future{done: j.done}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work and waits for queued jobs to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	return p.group.Wait()
}
