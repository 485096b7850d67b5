package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

var knownStrategies = map[string]bool{
	"best_match":     true,
	"load_balanced":  true,
	"priority_aware": true,
	"context_aware":  true,
	"round_robin":    true,
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateStorage(cfg, ve)
	validateRouting(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateExecutor(cfg, ve)
	validateAgents(cfg, ve)
	validateQualityGates(cfg, ve)
	validateScheduler(cfg, ve)
	validateServer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	case "file":
		if cfg.Tracer.Path == "" {
			ve.Add("tracer.path is required for the file exporter")
		}
	default:
		ve.Add("tracer.exporter %q is not one of noop, stdout, file", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 {
		ve.Add("tracer.sample_ratio must not be negative")
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	switch cfg.Storage.Backend {
	case "file":
		if cfg.Storage.Dir == "" {
			ve.Add("storage.dir is required for the file backend")
		}
	case "sqlite":
		if cfg.Storage.Path == "" {
			ve.Add("storage.path is required for the sqlite backend")
		}
	default:
		ve.Add("storage.backend %q is not one of file, sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.Retention < 0 {
		ve.Add("storage.retention must be >= 0")
	}
}

func validateRouting(cfg *Config, ve *ValidationError) {
	if !knownStrategies[cfg.Routing.Strategy] {
		ve.Add("routing.strategy %q is unknown", cfg.Routing.Strategy)
	}
	for i, s := range cfg.Routing.Fallback {
		if !knownStrategies[s] {
			ve.Add("routing.fallback[%d] %q is unknown", i, s)
		}
	}
	if cfg.Routing.DefaultAgent == "" {
		ve.Add("routing.default_agent is required")
	}
	if cfg.Routing.MaxSuggestions < 0 {
		ve.Add("routing.max_suggestions must be >= 0")
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	if cfg.Orchestrator.PhaseTimeout <= 0 {
		ve.Add("orchestrator.phase_timeout must be > 0")
	}
	if cfg.Orchestrator.Workers <= 0 {
		ve.Add("orchestrator.workers must be > 0")
	}
	if cfg.Orchestrator.QueueSize < 0 {
		ve.Add("orchestrator.queue_size must be >= 0")
	}
}

func validateExecutor(cfg *Config, ve *ValidationError) {
	switch cfg.Executor.Type {
	case "dryrun":
	case "http":
		if cfg.Executor.URL == "" {
			ve.Add("executor.url is required for the http executor")
		} else if u, err := url.Parse(cfg.Executor.URL); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("executor.url %q is not an absolute URL", cfg.Executor.URL)
		}
	default:
		ve.Add("executor.type %q is not one of dryrun, http", cfg.Executor.Type)
	}
	if cfg.Executor.RateLimit < 0 {
		ve.Add("executor.rate_limit must be >= 0")
	}
	if cfg.Executor.RateLimit > 0 && cfg.Executor.Burst <= 0 {
		ve.Add("executor.burst must be > 0 when rate_limit is set")
	}
	if cfg.Executor.Breaker.Enabled && cfg.Executor.Breaker.MaxFailures == 0 {
		ve.Add("executor.breaker.max_failures must be > 0")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	if len(cfg.Agents) == 0 {
		ve.Add("agents: at least one agent is required")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.Name == "" {
			ve.Add("agents[%d].name is required", i)
			continue
		}
		if seen[a.Name] {
			ve.Add("agents[%d].name %q is duplicated", i, a.Name)
		}
		seen[a.Name] = true
		if a.MaxConcurrent <= 0 {
			ve.Add("agents[%d] (%s): max_concurrent must be > 0", i, a.Name)
		}
		if a.SuccessRate < 0 || a.SuccessRate > 1 {
			ve.Add("agents[%d] (%s): success_rate must be in [0,1]", i, a.Name)
		}
	}
	if cfg.Routing.DefaultAgent != "" && len(cfg.Agents) > 0 && !seen[cfg.Routing.DefaultAgent] {
		ve.Add("routing.default_agent %q is not a configured agent", cfg.Routing.DefaultAgent)
	}
}

func validateQualityGates(cfg *Config, ve *ValidationError) {
	for i, g := range cfg.QualityGates {
		if g.Name == "" {
			ve.Add("quality_gates[%d].name is required", i)
		}
		if g.Threshold < 0 || g.Threshold > 1 {
			ve.Add("quality_gates[%d].threshold must be in [0,1]", i)
		}
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	if cfg.Scheduler.CleanupSchedule == "" && cfg.Scheduler.HealthSchedule == "" && cfg.Scheduler.ResumeSchedule == "" {
		ve.Add("scheduler: at least one of cleanup_schedule, health_schedule, resume_schedule is required when enabled")
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.RequestsPerMin < 0 {
		ve.Add("server.requests_per_min must be >= 0")
	}
	if cfg.Server.RequestsPerMin > 0 && cfg.Server.Burst <= 0 {
		ve.Add("server.burst must be > 0 when requests_per_min is set")
	}
	if cfg.Server.Addr == "" {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", cfg.Server.Addr, err)
	}
}
