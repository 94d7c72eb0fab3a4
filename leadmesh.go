// Package leadmesh provides a high-level façade over the orchestration core
// (registry, routing, scheduling, health and context management) enabling
// rapid construction of lead-research pipelines. Most applications interact
// with this package by:
//  1. Creating an Orchestrator via New() with a configuration and the
//     provider implementations backing each configured agent
//  2. Submitting leads synchronously (Submit) or asynchronously (SubmitAsync)
//  3. Subscribing to the observability event stream
//
// The façade wires the components together while keeping setup concise. All
// defaults are safe for local development and testing; production
// deployments typically supply a structured logger and tuned configuration.
package leadmesh

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/statdevs/leadmesh/archive"
	"github.com/statdevs/leadmesh/cache"
	"github.com/statdevs/leadmesh/config"
	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/health"
	"github.com/statdevs/leadmesh/logging"
	"github.com/statdevs/leadmesh/metrics"
	"github.com/statdevs/leadmesh/registry"
	"github.com/statdevs/leadmesh/routing"
	"github.com/statdevs/leadmesh/runner"
	"github.com/statdevs/leadmesh/scheduler"
	"github.com/statdevs/leadmesh/store"
)

// Options configures the Orchestrator instance.
type Options struct {
	// Logger defaults to a NoOp logger if nil.
	Logger logging.Logger
	// EventBuffer sets the observability stream buffer size. Defaults to 128.
	EventBuffer int
}

// Option mutates Options.
type Option func(*Options)

// WithLogger installs a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithEventBuffer sets the observability channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *Options) { o.EventBuffer = n }
}

// AgentStatus is one agent's entry in the system status snapshot.
type AgentStatus struct {
	ID           string
	Health       string
	Capabilities []core.Capability
	Stats        metrics.AgentSnapshot
}

// SystemStatus is a point-in-time view of the orchestrator.
type SystemStatus struct {
	Healthy          bool
	TotalAgents      int
	AvailableAgents  int
	QueueDepth       int
	LiveRequests     int
	ArchivedRequests int
	Agents           map[string]AgentStatus
}

// Orchestrator aggregates the orchestration core behind a single submission
// and observability surface.
type Orchestrator struct {
	opts Options
	cfg  config.Config

	registry  *registry.Registry
	collector *metrics.Collector
	monitor   *health.Monitor
	routing   *routing.Engine
	contexts  *store.InMemoryStore
	archives  *archive.Archive
	results   *cache.Cache
	scheduler *scheduler.Scheduler
	runner    *runner.Runner
	logger    logging.Logger

	// emitMu serializes event emission against the channel close in Close.
	emitMu     sync.RWMutex
	emitClosed bool
	events     chan core.Event

	subMu   sync.RWMutex
	subs    map[int]*subscriber
	nextSub int

	activeMu sync.Mutex
	active   map[string]context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
	fanoutDone chan struct{}
}

// New constructs an orchestrator from a validated configuration plus the
// provider implementation for each configured agent id. Missing providers
// and mandatory capabilities with no registered agent are fatal
// configuration errors: initialization fails rather than individual
// requests.
func New(cfg config.Config, providers map[string]registry.Provider, optFns ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := Options{EventBuffer: 128}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 128
	}

	o := &Orchestrator{
		opts:       opts,
		cfg:        cfg,
		logger:     opts.Logger,
		events:     make(chan core.Event, opts.EventBuffer),
		subs:       make(map[int]*subscriber),
		active:     make(map[string]context.CancelFunc),
		closed:     make(chan struct{}),
		fanoutDone: make(chan struct{}),
	}

	o.collector = metrics.NewCollector()
	o.registry = registry.New(o.collector, opts.Logger)

	for _, a := range cfg.Agents {
		p, ok := providers[a.ID]
		if !ok {
			return nil, fmt.Errorf("leadmesh: no provider implementation for configured agent %q", a.ID)
		}
		err := o.registry.Register(registry.Descriptor{
			ID:           a.ID,
			Capabilities: a.Capabilities,
			Concurrency:  a.Concurrency,
			SLA:          a.SLA.Std(),
			Provider:     p,
		})
		if err != nil {
			return nil, err
		}
	}

	o.routing = routing.NewEngine(routing.Options{
		Rules:       cfg.RoutingRules(),
		MaxHandoffs: cfg.MaxHandoffs,
		Logger:      opts.Logger,
		Sink:        o.emit,
	})

	// A mandatory capability with no registered agent can never produce a
	// complete report; fail startup instead of failing every request.
	for _, c := range o.routing.MandatoryCapabilities() {
		if !o.registry.HasCapability(c) {
			return nil, fmt.Errorf("leadmesh: %w: no agent registered for mandatory capability %q",
				core.ErrCapabilityUnavailable, c)
		}
	}

	o.contexts = store.NewInMemoryStore()
	o.archives = archive.New(cfg.ArchiveSize)
	o.results = cache.New(cfg.CacheTTL.Std())
	o.scheduler = scheduler.New(o.registry, o.collector, cfg.SchedulerConfigNative(), opts.Logger)
	o.monitor = health.NewMonitor(o.registry, cfg.HealthConfigNative(), opts.Logger, o.emit)
	o.registry.SetObserver(o.monitor)
	o.runner = runner.New(
		o.contexts, o.archives, o.results, o.routing, o.scheduler,
		o.collector, cfg.RunnerConfigNative(), opts.Logger, o.emit,
	)

	o.scheduler.Start()
	o.monitor.Start()
	go o.fanout()

	o.logger.Info("orchestrator started",
		"agents", len(cfg.Agents),
		"rules", len(cfg.Rules),
		"workers", cfg.Scheduler.Workers)
	return o, nil
}

// Submit researches one lead synchronously, blocking until a terminal state.
// A non-nil report is returned even when the request fails; it carries every
// completed stage result plus the failure annotation.
func (o *Orchestrator) Submit(ctx context.Context, lead core.Lead, signals core.Signals) (*core.Report, error) {
	select {
	case <-o.closed:
		return nil, fmt.Errorf("leadmesh: orchestrator closed")
	default:
	}

	rc := o.contexts.Create(lead, signals)
	runCtx, cancel := context.WithCancel(ctx)
	o.activeMu.Lock()
	o.active[rc.ID] = cancel
	o.activeMu.Unlock()
	defer func() {
		cancel()
		o.activeMu.Lock()
		delete(o.active, rc.ID)
		o.activeMu.Unlock()
	}()

	return o.runner.Run(runCtx, rc)
}

// SubmitAsync starts researching a lead and returns immediately. The report
// channel delivers the terminal report; the error channel carries at most
// one terminal error then closes.
func (o *Orchestrator) SubmitAsync(ctx context.Context, lead core.Lead, signals core.Signals) (string, <-chan *core.Report, <-chan error, error) {
	select {
	case <-o.closed:
		return "", nil, nil, fmt.Errorf("leadmesh: orchestrator closed")
	default:
	}

	rc := o.contexts.Create(lead, signals)
	runCtx, cancel := context.WithCancel(ctx)
	o.activeMu.Lock()
	o.active[rc.ID] = cancel
	o.activeMu.Unlock()

	reports := make(chan *core.Report, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(reports)
		defer close(errs)
		defer func() {
			cancel()
			o.activeMu.Lock()
			delete(o.active, rc.ID)
			o.activeMu.Unlock()
		}()
		report, err := o.runner.Run(runCtx, rc)
		if report != nil {
			reports <- report
		}
		if err != nil {
			errs <- err
		}
	}()
	return rc.ID, reports, errs, nil
}

// Cancel requests cooperative termination of an in-flight request. Stages
// not yet dispatched are abandoned; an in-flight invocation is cancelled
// best-effort through its context. Cancelling an unknown or finished request
// returns an error.
func (o *Orchestrator) Cancel(requestID string) error {
	o.activeMu.Lock()
	cancel, ok := o.active[requestID]
	o.activeMu.Unlock()
	if !ok {
		return fmt.Errorf("leadmesh: %w: %s", core.ErrContextNotFound, requestID)
	}
	cancel()
	return nil
}

// subscriber is one event stream consumer. Its channel closes exactly once,
// whether through unsubscribe or orchestrator shutdown.
type subscriber struct {
	ch   chan core.Event
	once sync.Once
}

func (s *subscriber) shut() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe returns a channel of observability events plus an unsubscribe
// function. Slow subscribers drop events rather than blocking the pipeline.
func (o *Orchestrator) Subscribe() (<-chan core.Event, func()) {
	sub := &subscriber{ch: make(chan core.Event, o.opts.EventBuffer)}
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = sub
	o.subMu.Unlock()

	unsub := func() {
		o.subMu.Lock()
		delete(o.subs, id)
		o.subMu.Unlock()
		sub.shut()
	}
	return sub.ch, unsub
}

// Status returns a point-in-time system snapshot: agent health and load,
// queue depth, live and archived request counts.
func (o *Orchestrator) Status() SystemStatus {
	snap := o.collector.Take()
	status := SystemStatus{
		QueueDepth:       o.scheduler.Depth(),
		LiveRequests:     o.contexts.Len(),
		ArchivedRequests: o.archives.Len(),
		Agents:           make(map[string]AgentStatus),
	}
	for _, id := range o.registry.IDs() {
		status.TotalAgents++
		h, err := o.registry.Health(id)
		if err != nil {
			continue
		}
		if h != core.Unavailable {
			status.AvailableAgents++
		}
		desc, _ := o.registry.Descriptor(id)
		status.Agents[id] = AgentStatus{
			ID:           id,
			Health:       h.String(),
			Capabilities: desc.Capabilities,
			Stats:        snap.Agents[id],
		}
	}
	status.Healthy = status.AvailableAgents > 0
	return status
}

// AgentMetrics returns the rolling statistics snapshot for one agent.
func (o *Orchestrator) AgentMetrics(agentID string) (metrics.AgentSnapshot, bool) {
	return o.collector.Agent(agentID)
}

// Metrics returns the full metrics snapshot across agents and stages.
func (o *Orchestrator) Metrics() metrics.Snapshot {
	return o.collector.Take()
}

// Close shuts the orchestrator down: in-flight requests are cancelled, the
// health monitor and scheduler stop, and the event stream closes. Idempotent.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		close(o.closed)

		o.activeMu.Lock()
		for _, cancel := range o.active {
			cancel()
		}
		o.activeMu.Unlock()

		var g errgroup.Group
		g.Go(func() error { o.monitor.Stop(); return nil })
		g.Go(func() error { o.scheduler.Stop(); return nil })
		_ = g.Wait()

		o.emitMu.Lock()
		o.emitClosed = true
		close(o.events)
		o.emitMu.Unlock()
		<-o.fanoutDone

		o.subMu.Lock()
		for id, sub := range o.subs {
			delete(o.subs, id)
			sub.shut()
		}
		o.subMu.Unlock()

		o.logger.Info("orchestrator stopped")
	})
	return nil
}

// emit pushes an event into the stream, dropping when the buffer is full so
// emitters never block.
func (o *Orchestrator) emit(ev core.Event) {
	o.emitMu.RLock()
	defer o.emitMu.RUnlock()
	if o.emitClosed {
		return
	}
	select {
	case o.events <- ev:
	default:
	}
}

// fanout copies the event stream to every subscriber.
func (o *Orchestrator) fanout() {
	defer close(o.fanoutDone)
	for ev := range o.events {
		o.subMu.RLock()
		for _, sub := range o.subs {
			select {
			case sub.ch <- ev:
			default:
			}
		}
		o.subMu.RUnlock()
	}
}
