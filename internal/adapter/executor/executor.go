package executor

import (
	"fmt"
	"log/slog"

	"agentroute/internal/domain"
	"agentroute/internal/infra/config"
)

// New builds the executor chain selected by cfg: the base executor, wrapped
// by the circuit breaker and then the dispatch rate limiter when enabled.
// The returned Breaker is nil when breakers are disabled.
func New(cfg config.ExecutorConfig, logger *slog.Logger) (domain.AgentExecutor, *Breaker, error) {
	var exec domain.AgentExecutor
	switch cfg.Type {
	case "dryrun":
		exec = NewDryRun()
	case "http":
		h, err := NewHTTPExecutor(cfg.URL, cfg.Token, cfg.Timeout, logger)
		if err != nil {
			return nil, nil, err
		}
		exec = h
	default:
		return nil, nil, fmt.Errorf("executor type %q: %w", cfg.Type, domain.ErrInvalidInput)
	}

	var breaker *Breaker
	if cfg.Breaker.Enabled {
		breaker = NewBreaker(exec, BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
			Interval:    cfg.Breaker.Interval,
		}, logger)
		exec = breaker
	}
	if cfg.RateLimit > 0 {
		exec = NewRateLimited(exec, cfg.RateLimit, cfg.Burst)
	}
	return exec, breaker, nil
}
