// Package routing scores candidate agents and selects one per routing strategy.
package routing

import (
	"time"

	"agentroute/internal/domain"
)

// queueDelayHours is the assumed wait per task already in an agent's queue.
const queueDelayHours = 0.5

// complexityWeight is the capacity a task of each complexity is expected to occupy,
// before the 0.5 scaling applied by the balancer.
var complexityWeight = map[domain.Complexity]float64{
	domain.ComplexitySimple:   1,
	domain.ComplexityModerate: 2,
	domain.ComplexityComplex:  4,
	domain.ComplexityEpic:     8,
}

// speedUp divides predicted hours for priorities above MEDIUM.
var speedUp = map[domain.Priority]float64{
	domain.PriorityLow:    0.8,
	domain.PriorityMedium: 1.0,
	domain.PriorityHigh:   1.5,
	domain.PriorityUrgent: 2.0,
}

// Balancer scores free capacity and predicts completion times.
type Balancer struct{}

// NewBalancer creates a workload balancer.
func NewBalancer() *Balancer { return &Balancer{} }

// Score returns the agent's capacity score for a task in [0,1].
// It is exactly 0 when the agent is at or over capacity.
func (Balancer) Score(agent domain.Agent, rc domain.RoutingContext) float64 {
	if agent.MaxConcurrent <= 0 || agent.CurrentWorkload >= agent.MaxConcurrent {
		return 0
	}

	utilization := agent.Utilization()
	score := 1 - utilization

	weight := complexityWeight[rc.Complexity]
	if weight == 0 {
		weight = complexityWeight[domain.ComplexityModerate]
	}
	if float64(agent.CurrentWorkload)+weight*0.5 > float64(agent.MaxConcurrent) {
		score *= 0.3
	}
	if utilization < 0.3 {
		score *= 1.2
	}
	return clamp01(score)
}

// PredictCompletion estimates when the agent would finish the task if assigned now.
// Agents without response history fall back to the task's own estimate.
func (Balancer) PredictCompletion(agent domain.Agent, rc domain.RoutingContext, now time.Time) time.Time {
	base := agent.AvgResponseHours
	if base <= 0 {
		base = rc.EstimatedHours
	}
	hours := base*rc.Complexity.DurationMultiplier() + float64(agent.CurrentWorkload)*queueDelayHours

	if rc.Priority > domain.PriorityMedium {
		if f := speedUp[rc.Priority]; f > 0 {
			hours /= f
		}
	}
	return now.Add(time.Duration(hours * float64(time.Hour)))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
