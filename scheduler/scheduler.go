// Package scheduler dispatches stage tasks to agents under priority,
// concurrency and backpressure constraints. Tasks queue in a priority heap
// (priority descending, FIFO within a tier); a bounded worker pool drains it,
// taking per-agent concurrency slots from the registry before invoking.
// Dispatch goes to the best-ranked candidate with a free slot; a task parks
// only when every candidate is saturated, and resolves Backpressure once its
// queue wait expires without capacity freeing anywhere.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/logging"
	"github.com/statdevs/leadmesh/metrics"
	"github.com/statdevs/leadmesh/registry"
)

var (
	// ErrQueueFull is returned by Submit when the queue bound is reached.
	ErrQueueFull = errors.New("scheduler: queue full")
	// ErrStopped is returned for tasks still queued when the scheduler stops.
	ErrStopped = errors.New("scheduler: stopped")
)

// Config tunes the scheduler.
type Config struct {
	// Workers bounds concurrent dispatches. Defaults to 8.
	Workers int
	// QueueWaitTimeout is how long a task may wait for a concurrency slot
	// on any candidate before resolving Backpressure. Defaults to 5s.
	QueueWaitTimeout time.Duration
	// QueueSize bounds queued tasks. Defaults to 1024.
	QueueSize int
	// PollInterval is the capacity recheck cadence for parked tasks.
	// Defaults to 25ms.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueWaitTimeout <= 0 {
		c.QueueWaitTimeout = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 25 * time.Millisecond
	}
	return c
}

// Resolution is the terminal result of one submitted task.
type Resolution struct {
	// Outcome is the classified invocation result. Zero when Err is set.
	Outcome core.Outcome
	// QueueWait is the time the task spent queued before dispatch.
	QueueWait time.Duration
	// Err is set for non-invocation terminations: cancellation or shutdown.
	Err error
}

// Scheduler is the priority dispatch queue.
type Scheduler struct {
	reg       *registry.Registry
	collector *metrics.Collector
	cfg       Config
	logger    logging.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  taskHeap
	parked []*pending
	byTask map[string]*pending
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a stopped scheduler; call Start before submitting.
func New(reg *registry.Registry, collector *metrics.Collector, cfg Config, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s := &Scheduler{
		reg:       reg,
		collector: collector,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		byTask:    make(map[string]*pending),
		stop:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker pool and the parking janitor.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.janitor()
}

// Stop shuts the scheduler down. Queued and parked tasks resolve with
// ErrStopped; in-flight dispatches complete. Idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		drained := make([]*pending, 0, len(s.queue)+len(s.parked))
		for len(s.queue) > 0 {
			drained = append(drained, heap.Pop(&s.queue).(*pending))
		}
		drained = append(drained, s.parked...)
		s.parked = nil
		for _, p := range drained {
			delete(s.byTask, p.task.ID)
		}
		s.mu.Unlock()

		close(s.stop)
		s.cond.Broadcast()

		for _, p := range drained {
			p.task.State = core.TaskFailed
			p.resolve(Resolution{Err: ErrStopped})
		}
	})
	s.wg.Wait()
}

// Submit enqueues one stage attempt. The returned channel delivers exactly
// one Resolution. Submit fails fast when the queue bound is reached.
func (s *Scheduler) Submit(ctx context.Context, task *core.Task, req registry.Request) (<-chan Resolution, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if len(s.queue)+len(s.parked) >= s.cfg.QueueSize {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w (size %d)", ErrQueueFull, s.cfg.QueueSize)
	}
	now := time.Now()
	task.EnqueuedAt = now
	task.State = core.TaskPending
	p := &pending{
		task:         task,
		req:          req,
		ctx:          ctx,
		result:       make(chan Resolution, 1),
		waitDeadline: now.Add(s.cfg.QueueWaitTimeout),
	}
	heap.Push(&s.queue, p)
	s.byTask[task.ID] = p
	s.mu.Unlock()
	s.cond.Signal()
	return p.result, nil
}

// Cancel removes a task that has not been dispatched yet. It returns true
// when the task was still queued and is now resolved with
// core.ErrRequestCancelled; an already dispatched task cannot be cancelled
// here (its context governs best-effort cancellation of the invocation).
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	p, ok := s.byTask[taskID]
	if !ok || p.cancelled {
		s.mu.Unlock()
		return false
	}
	p.cancelled = true
	delete(s.byTask, taskID)
	if p.index >= 0 {
		s.queue.remove(p.index)
	} else {
		for i, parked := range s.parked {
			if parked == p {
				s.parked = append(s.parked[:i], s.parked[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	p.task.State = core.TaskFailed
	p.resolve(Resolution{Err: core.ErrRequestCancelled})
	return true
}

// Depth returns the number of queued plus parked tasks.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + len(s.parked)
}

// janitor periodically re-admits parked tasks so freed capacity is noticed.
func (s *Scheduler) janitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if len(s.parked) > 0 {
				for _, p := range s.parked {
					heap.Push(&s.queue, p)
				}
				s.parked = nil
				s.mu.Unlock()
				s.cond.Broadcast()
				continue
			}
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		p := s.next()
		if p == nil {
			return
		}
		s.process(p)
	}
}

// next blocks until a task is available or the scheduler stops.
func (s *Scheduler) next() *pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil
	}
	return heap.Pop(&s.queue).(*pending)
}

// process attempts to dispatch one popped task to the best-ranked candidate
// with a free concurrency slot. With every candidate saturated the task parks
// until its wait deadline, after which it resolves Backpressure.
func (s *Scheduler) process(p *pending) {
	if err := p.ctx.Err(); err != nil {
		s.finish(p, Resolution{Err: core.ErrRequestCancelled})
		return
	}

	candidates := s.reg.Candidates(p.task.Capability)
	if len(candidates) == 0 {
		s.finish(p, Resolution{Outcome: core.Outcome{
			Kind: core.OutcomeCapabilityUnavailable,
			Err:  fmt.Errorf("%w: no candidate for %s", core.ErrCapabilityUnavailable, p.task.Capability),
		}})
		return
	}

	// Best-first over the ranked list; the first free slot wins.
	for i, c := range candidates {
		if s.reg.TryAcquire(c.AgentID) {
			if i > 0 {
				s.logger.Debug("top candidate saturated, dispatching to lower rank",
					"task_id", p.task.ID,
					"capability", p.task.Capability,
					"agent_id", c.AgentID,
					"rank", i)
			}
			s.dispatch(p, c.AgentID)
			return
		}
	}

	if time.Now().Before(p.waitDeadline) {
		s.park(p)
		return
	}
	s.finish(p, Resolution{
		QueueWait: time.Since(p.task.EnqueuedAt),
		Outcome: core.Outcome{
			Kind: core.OutcomeCapabilityUnavailable,
			Err:  fmt.Errorf("%w: capability %s waited %s", core.ErrBackpressure, p.task.Capability, s.cfg.QueueWaitTimeout),
		},
	})
}

func (s *Scheduler) park(p *pending) {
	s.mu.Lock()
	if p.cancelled || s.closed {
		s.mu.Unlock()
		if s.closed && !p.cancelled {
			s.finish(p, Resolution{Err: ErrStopped})
		}
		return
	}
	p.index = -1
	s.parked = append(s.parked, p)
	s.mu.Unlock()
}

// dispatch invokes the agent while holding one of its concurrency slots.
func (s *Scheduler) dispatch(p *pending, agentID string) {
	defer s.reg.Release(agentID)

	queueWait := time.Since(p.task.EnqueuedAt)
	s.collector.RecordQueueWait(p.task.Capability, queueWait)

	s.mu.Lock()
	if p.cancelled {
		s.mu.Unlock()
		return
	}
	delete(s.byTask, p.task.ID)
	p.task.State = core.TaskDispatched
	s.mu.Unlock()

	invokeCtx := p.ctx
	var cancel context.CancelFunc
	if !p.task.Deadline.IsZero() {
		invokeCtx, cancel = context.WithDeadline(p.ctx, p.task.Deadline)
		defer cancel()
	}
	outcome := s.reg.Invoke(invokeCtx, agentID, p.req)

	if outcome.OK() {
		p.task.State = core.TaskCompleted
	} else {
		p.task.State = core.TaskFailed
	}
	p.resolve(Resolution{Outcome: outcome, QueueWait: queueWait})
}

// finish resolves a task that never reached dispatch.
func (s *Scheduler) finish(p *pending, res Resolution) {
	s.mu.Lock()
	if p.cancelled {
		s.mu.Unlock()
		return
	}
	delete(s.byTask, p.task.ID)
	s.mu.Unlock()
	p.task.State = core.TaskFailed
	p.resolve(res)
}
