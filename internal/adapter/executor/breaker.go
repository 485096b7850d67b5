package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"agentroute/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 60 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures per-agent circuit breakers.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
}

// Breaker wraps an executor with one circuit breaker per agent. While an
// agent's circuit is open its phases fail fast without reaching the agent.
type Breaker struct {
	inner  domain.AgentExecutor
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*domain.PhaseResult]
}

// NewBreaker wraps inner. Zero config fields take defaults.
func NewBreaker(inner domain.AgentExecutor, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultCBMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultCBTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultCBInterval
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Breaker{
		inner:    inner,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*domain.PhaseResult]),
	}
}

func (b *Breaker) breaker(agent string) *gobreaker.CircuitBreaker[*domain.PhaseResult] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[agent]; ok {
		return cb
	}
	maxFailures := b.cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[*domain.PhaseResult](gobreaker.Settings{
		Name:        "agent:" + agent,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    b.cfg.Interval,
		Timeout:     b.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Cancellation says nothing about the agent's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	b.breakers[agent] = cb
	return cb
}

// Execute implements domain.AgentExecutor.
func (b *Breaker) Execute(ctx context.Context, task domain.AgentTask) (*domain.PhaseResult, error) {
	res, err := b.breaker(task.AgentName).Execute(func() (*domain.PhaseResult, error) {
		return b.inner.Execute(ctx, task)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("agent %q circuit open: %w: %w", task.AgentName, domain.ErrAgentUnavailable, err)
		}
		return nil, err
	}
	return res, nil
}

// State returns the breaker state for agent. Agents never dispatched to are closed.
func (b *Breaker) State(agent string) gobreaker.State {
	b.mu.Lock()
	cb, ok := b.breakers[agent]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// States returns the state of every breaker created so far, keyed by agent.
func (b *Breaker) States() map[string]gobreaker.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]gobreaker.State, len(b.breakers))
	for agent, cb := range b.breakers {
		out[agent] = cb.State()
	}
	return out
}

var _ domain.AgentExecutor = (*Breaker)(nil)
