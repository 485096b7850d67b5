// Package metrics exports workflow and agent metrics in Prometheus format.
package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentroute/internal/domain"
)

const namespace = "agentroute"

// AgentLister is the slice of the agent directory read at scrape time.
type AgentLister interface {
	List(ctx context.Context) ([]domain.Agent, error)
}

// Collector holds all Prometheus metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	Events          *prometheus.CounterVec
	Workflows       *prometheus.CounterVec
	Tasks           *prometheus.CounterVec
	TaskHours       *prometheus.HistogramVec
	QualityScore    *prometheus.HistogramVec
	Milestones      *prometheus.CounterVec
	RoutingDecision *prometheus.CounterVec
}

// New creates a collector. When agents is non-nil, per-agent workload,
// capacity and success rate are read from it on every scrape.
func New(agents AgentLister, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger,
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events published, by type.",
		}, []string{"type"}),
		Workflows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Workflow transitions into running or a terminal state.",
		}, []string{"status", "error_code"}),
		Tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished phases by agent and result.",
		}, []string{"agent", "result"}),
		TaskHours: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_actual_hours",
			Help:      "Actual hours spent per completed phase.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"agent"}),
		QualityScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_quality_score",
			Help:      "Quality score reported for completed phases.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"agent"}),
		Milestones: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestones_total",
			Help:      "Progress milestones reached.",
		}, []string{"milestone"}),
		RoutingDecision: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing outcomes by strategy; agent is empty on failure.",
		}, []string{"strategy", "agent", "result"}),
	}
	if agents != nil {
		reg.MustRegister(newAgentCollector(agents, logger))
	}
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Attach subscribes the collector to every event on n. The returned func unsubscribes.
func (c *Collector) Attach(n domain.Notifier) func() {
	return n.SubscribeAll(c.Observe)
}

// Observe records one lifecycle event.
func (c *Collector) Observe(_ context.Context, ev domain.Event) {
	c.Events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case domain.EventWorkflowStarted, domain.EventWorkflowCompleted,
		domain.EventWorkflowFailed, domain.EventWorkflowCancelled:
		var p domain.WorkflowPayload
		if err := ev.Decode(&p); err != nil {
			c.logger.Warn("metrics: decode workflow payload", "type", string(ev.Type), "error", err)
			return
		}
		c.Workflows.WithLabelValues(string(p.Status), string(p.ErrorCode)).Inc()

	case domain.EventTaskCompleted, domain.EventTaskFailed:
		var p domain.TaskPayload
		if err := ev.Decode(&p); err != nil {
			c.logger.Warn("metrics: decode task payload", "type", string(ev.Type), "error", err)
			return
		}
		if ev.Type == domain.EventTaskFailed {
			c.Tasks.WithLabelValues(p.Agent, "failed").Inc()
			return
		}
		c.Tasks.WithLabelValues(p.Agent, "completed").Inc()
		c.TaskHours.WithLabelValues(p.Agent).Observe(p.ActualHours)
		c.QualityScore.WithLabelValues(p.Agent).Observe(p.QualityScore)

	case domain.EventMilestoneReached:
		var p domain.MilestonePayload
		if err := ev.Decode(&p); err != nil {
			c.logger.Warn("metrics: decode milestone payload", "error", err)
			return
		}
		c.Milestones.WithLabelValues(strconv.Itoa(p.Milestone)).Inc()
	}
}

// ObserveRoute records a routing outcome.
func (c *Collector) ObserveRoute(strategy domain.StrategyKind, agent string, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.ErrorCodeOf(err))
		agent = ""
	}
	c.RoutingDecision.WithLabelValues(string(strategy), agent, result).Inc()
}

// agentCollector reads directory snapshots at scrape time.
type agentCollector struct {
	agents   AgentLister
	logger   *slog.Logger
	workload *prometheus.Desc
	capacity *prometheus.Desc
	success  *prometheus.Desc
	offline  *prometheus.Desc
}

func newAgentCollector(agents AgentLister, logger *slog.Logger) *agentCollector {
	labels := []string{"agent"}
	return &agentCollector{
		agents:   agents,
		logger:   logger,
		workload: prometheus.NewDesc(namespace+"_agent_workload", "Phases currently assigned to the agent.", labels, nil),
		capacity: prometheus.NewDesc(namespace+"_agent_capacity", "Maximum concurrent phases for the agent.", labels, nil),
		success:  prometheus.NewDesc(namespace+"_agent_success_rate", "Smoothed phase success rate.", labels, nil),
		offline:  prometheus.NewDesc(namespace+"_agent_offline", "1 when the agent is offline.", labels, nil),
	}
}

func (a *agentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- a.workload
	ch <- a.capacity
	ch <- a.success
	ch <- a.offline
}

func (a *agentCollector) Collect(ch chan<- prometheus.Metric) {
	agents, err := a.agents.List(context.Background())
	if err != nil {
		a.logger.Warn("metrics: list agents", "error", err)
		return
	}
	for _, ag := range agents {
		offline := 0.0
		if ag.Offline {
			offline = 1
		}
		ch <- prometheus.MustNewConstMetric(a.workload, prometheus.GaugeValue, float64(ag.CurrentWorkload), ag.Name)
		ch <- prometheus.MustNewConstMetric(a.capacity, prometheus.GaugeValue, float64(ag.MaxConcurrent), ag.Name)
		ch <- prometheus.MustNewConstMetric(a.success, prometheus.GaugeValue, ag.SuccessRate, ag.Name)
		ch <- prometheus.MustNewConstMetric(a.offline, prometheus.GaugeValue, offline, ag.Name)
	}
}
