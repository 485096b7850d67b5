// Package directory keeps agent profiles and their live workload counters.
package directory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"agentroute/internal/domain"
)

// outcomeAlpha is the smoothing factor for response time and success rate.
const outcomeAlpha = 0.2

// entry serializes all mutation of one agent.
type entry struct {
	mu    sync.Mutex
	agent domain.Agent
}

func (e *entry) snapshot() domain.Agent {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.agent
	a.Capabilities = append([]string(nil), e.agent.Capabilities...)
	return a
}

// Directory is an in-memory AgentDirectory. The map lock guards membership;
// each agent's counters are guarded by that agent's own lock, so workflows on
// different agents never contend.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]*entry
	logger *slog.Logger
}

// New creates a directory seeded with agents.
func New(logger *slog.Logger, agents ...domain.Agent) (*Directory, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Directory{agents: make(map[string]*entry), logger: logger}
	for _, a := range agents {
		if err := d.Register(a); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds an agent. Returns ErrDuplicate if the name is taken.
func (d *Directory) Register(a domain.Agent) error {
	if a.Name == "" {
		return fmt.Errorf("register agent: name: %w", domain.ErrInvalidInput)
	}
	if a.MaxConcurrent <= 0 {
		return fmt.Errorf("register agent %q: max_concurrent must be positive: %w", a.Name, domain.ErrInvalidInput)
	}
	a.CurrentWorkload = max(a.CurrentWorkload, 0)
	a.Capabilities = append([]string(nil), a.Capabilities...)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.agents[a.Name]; exists {
		return domain.NewSubSystemError("agent", "Directory.Register", domain.ErrDuplicate, a.Name)
	}
	d.agents[a.Name] = &entry{agent: a}
	d.logger.Info("agent registered", "agent", a.Name, "max_concurrent", a.MaxConcurrent)
	return nil
}

func (d *Directory) lookup(op, name string) (*entry, error) {
	d.mu.RLock()
	e, ok := d.agents[name]
	d.mu.RUnlock()
	if !ok {
		return nil, domain.NewSubSystemError("agent", op, domain.ErrNotFound, name)
	}
	return e, nil
}

// Get returns a snapshot of the named agent, or ErrNotFound.
func (d *Directory) Get(_ context.Context, name string) (*domain.Agent, error) {
	e, err := d.lookup("Directory.Get", name)
	if err != nil {
		return nil, err
	}
	a := e.snapshot()
	return &a, nil
}

// List returns snapshots of every agent sorted by name.
func (d *Directory) List(_ context.Context) ([]domain.Agent, error) {
	d.mu.RLock()
	entries := make([]*entry, 0, len(d.agents))
	for _, e := range d.agents {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	out := make([]domain.Agent, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AdjustWorkload applies delta under the agent's lock. Increments are refused
// with AgentUnavailable when the agent is offline or would exceed capacity;
// decrements never drop below zero.
func (d *Directory) AdjustWorkload(_ context.Context, name string, delta int) error {
	e, err := d.lookup("Directory.AdjustWorkload", name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if delta > 0 {
		if e.agent.Offline {
			return &domain.AgentUnavailable{Agent: name, Reason: "offline"}
		}
		if e.agent.CurrentWorkload+delta > e.agent.MaxConcurrent {
			return &domain.AgentUnavailable{
				Agent:  name,
				Reason: fmt.Sprintf("at capacity (%d/%d)", e.agent.CurrentWorkload, e.agent.MaxConcurrent),
			}
		}
	}

	next := e.agent.CurrentWorkload + delta
	if next < 0 {
		d.logger.Warn("workload underflow clamped", "agent", name, "workload", e.agent.CurrentWorkload, "delta", delta)
		next = 0
	}
	e.agent.CurrentWorkload = next
	return nil
}

// RecordOutcome updates completion counters and smoothed performance figures.
func (d *Directory) RecordOutcome(_ context.Context, name string, success bool, hours float64) error {
	e, err := d.lookup("Directory.RecordOutcome", name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	a := &e.agent
	first := a.CompletedTasks+a.FailedTasks == 0

	outcome := 0.0
	if success {
		outcome = 1.0
		a.CompletedTasks++
	} else {
		a.FailedTasks++
	}

	if first && a.SuccessRate == 0 {
		a.SuccessRate = outcome
	} else {
		a.SuccessRate = (1-outcomeAlpha)*a.SuccessRate + outcomeAlpha*outcome
	}

	if success && hours > 0 {
		if a.AvgResponseHours <= 0 {
			a.AvgResponseHours = hours
		} else {
			a.AvgResponseHours = (1-outcomeAlpha)*a.AvgResponseHours + outcomeAlpha*hours
		}
	}
	return nil
}

// SetOffline marks an agent offline or back online.
func (d *Directory) SetOffline(name string, offline bool) error {
	e, err := d.lookup("Directory.SetOffline", name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.agent.Offline = offline
	e.mu.Unlock()
	d.logger.Info("agent availability changed", "agent", name, "offline", offline)
	return nil
}

var _ domain.AgentDirectory = (*Directory)(nil)
