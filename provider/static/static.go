// Package static provides a canned-response capability provider for demos
// and tests. Results, discovered signals, latency and failure behavior are
// all scriptable per capability.
package static

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/registry"
)

// Reply scripts the provider's behavior for one capability.
type Reply struct {
	Content string
	// Signals are merged into the request context on success.
	Signals core.Signals
	// Err, when set, is returned instead of the content.
	Err error
	// Delay is slept (context-aware) before responding.
	Delay time.Duration
}

// Provider returns scripted replies. Safe for concurrent use.
type Provider struct {
	mu      sync.RWMutex
	replies map[core.Capability]Reply
	// probeErr, when set, makes Probe fail.
	probeErr error
	invoked  int
}

// New creates a provider with the given scripted replies.
func New(replies map[core.Capability]Reply) *Provider {
	if replies == nil {
		replies = make(map[core.Capability]Reply)
	}
	return &Provider{replies: replies}
}

// Set replaces the reply for a capability.
func (p *Provider) Set(c core.Capability, r Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[c] = r
}

// SetProbeError controls the result of subsequent probes.
func (p *Provider) SetProbeError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probeErr = err
}

// Invocations returns how many times Invoke was called.
func (p *Provider) Invocations() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.invoked
}

// Invoke implements registry.Provider. Capabilities without a scripted reply
// get the default canned content.
func (p *Provider) Invoke(ctx context.Context, req registry.Request) (registry.Response, error) {
	p.mu.Lock()
	p.invoked++
	reply := p.replies[req.Capability]
	p.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-ctx.Done():
			return registry.Response{}, ctx.Err()
		case <-time.After(reply.Delay):
		}
	}
	if reply.Err != nil {
		return registry.Response{}, reply.Err
	}
	content := reply.Content
	if content == "" {
		content = fmt.Sprintf("%s findings for %s", req.Capability, req.Lead.CompanyName)
	}
	return registry.Response{Content: content, Signals: reply.Signals}, nil
}

// Probe implements registry.Prober.
func (p *Provider) Probe(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.probeErr
}
