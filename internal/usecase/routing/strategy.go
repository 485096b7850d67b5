package routing

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"agentroute/internal/domain"
)

// Strategy selects one agent among pre-filtered available candidates.
type Strategy interface {
	Kind() domain.StrategyKind
	Route(candidates []domain.Candidate, rc domain.RoutingContext) (string, domain.RoutingScore, error)
}

// Neutral placeholders for score components a strategy does not weigh.
const (
	neutralScore        = 0.5
	neutralAvailability = 1.0
)

const tieEpsilon = 1e-9

var priorityFactor = map[domain.Priority]float64{
	domain.PriorityLow:    0.8,
	domain.PriorityMedium: 1.0,
	domain.PriorityHigh:   1.3,
	domain.PriorityUrgent: 1.6,
}

// PriorityFactor returns the PRIORITY_AWARE multiplier; unset priorities count as MEDIUM.
func PriorityFactor(p domain.Priority) float64 {
	if f, ok := priorityFactor[p]; ok {
		return f
	}
	return priorityFactor[domain.PriorityMedium]
}

var priorityBonus = map[domain.Priority]float64{
	domain.PriorityLow:    0,
	domain.PriorityMedium: 0.05,
	domain.PriorityHigh:   0.1,
	domain.PriorityUrgent: 0.2,
}

// PriorityBonus returns the CONTEXT_AWARE additive bonus; unset priorities count as MEDIUM.
func PriorityBonus(p domain.Priority) float64 {
	if b, ok := priorityBonus[p]; ok {
		return b
	}
	return priorityBonus[domain.PriorityMedium]
}

// DeadlineFactor boosts CONTEXT_AWARE scores as a deadline approaches.
// Overdue tasks get the strongest boost.
func DeadlineFactor(deadline *time.Time, now time.Time) float64 {
	if deadline == nil {
		return 1.0
	}
	remaining := deadline.Sub(now)
	switch {
	case remaining < 8*time.Hour:
		return 1.6
	case remaining < 24*time.Hour:
		return 1.3
	default:
		return 1.0
	}
}

func capability(c domain.Candidate) float64 {
	return clamp01(c.Suggestion.Confidence / 100)
}

func noCandidates(kind domain.StrategyKind) error {
	return &domain.RoutingFailure{Strategy: kind, Err: domain.ErrNoAgentAvailable}
}

// BestMatch picks the highest raw capability confidence.
type BestMatch struct{}

func (BestMatch) Kind() domain.StrategyKind { return domain.StrategyBestMatch }

func (s BestMatch) Route(candidates []domain.Candidate, _ domain.RoutingContext) (string, domain.RoutingScore, error) {
	if len(candidates) == 0 {
		return "", domain.RoutingScore{}, noCandidates(s.Kind())
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Suggestion.Confidence > candidates[best].Suggestion.Confidence {
			best = i
		}
	}
	c := candidates[best]
	capScore := capability(c)
	return c.Agent.Name, domain.RoutingScore{
		Agent:         c.Agent.Name,
		Strategy:      s.Kind(),
		Capability:    capScore,
		Workload:      neutralScore,
		Availability:  neutralAvailability,
		Context:       neutralScore,
		PriorityBonus: 0,
		Final:         capScore,
		Rationale:     fmt.Sprintf("highest capability confidence %.0f%% of %d candidates", c.Suggestion.Confidence, len(candidates)),
	}, nil
}

// LoadBalanced picks the candidate with the most free capacity.
type LoadBalanced struct {
	Balancer *Balancer
}

func (LoadBalanced) Kind() domain.StrategyKind { return domain.StrategyLoadBalanced }

func (s LoadBalanced) Route(candidates []domain.Candidate, rc domain.RoutingContext) (string, domain.RoutingScore, error) {
	if len(candidates) == 0 {
		return "", domain.RoutingScore{}, noCandidates(s.Kind())
	}
	best, bestScore := 0, -1.0
	for i, c := range candidates {
		if w := s.Balancer.Score(c.Agent, rc); w > bestScore {
			best, bestScore = i, w
		}
	}
	c := candidates[best]
	return c.Agent.Name, domain.RoutingScore{
		Agent:         c.Agent.Name,
		Strategy:      s.Kind(),
		Capability:    capability(c),
		Workload:      bestScore,
		Availability:  neutralAvailability,
		Context:       neutralScore,
		PriorityBonus: 0,
		Final:         bestScore,
		Rationale:     fmt.Sprintf("workload score %.2f (%d/%d busy)", bestScore, c.Agent.CurrentWorkload, c.Agent.MaxConcurrent),
	}, nil
}

// PriorityAware weighs workload more heavily for HIGH and URGENT tasks.
type PriorityAware struct {
	Balancer *Balancer
}

func (PriorityAware) Kind() domain.StrategyKind { return domain.StrategyPriorityAware }

func (s PriorityAware) Route(candidates []domain.Candidate, rc domain.RoutingContext) (string, domain.RoutingScore, error) {
	if len(candidates) == 0 {
		return "", domain.RoutingScore{}, noCandidates(s.Kind())
	}
	capW, loadW := 0.7, 0.3
	if rc.Priority >= domain.PriorityHigh {
		capW, loadW = 0.4, 0.6
	}
	factor := PriorityFactor(rc.Priority)

	var best domain.RoutingScore
	best.Final = -1
	for _, c := range candidates {
		capScore := capability(c)
		load := s.Balancer.Score(c.Agent, rc)
		final := (capW*capScore + loadW*load) * factor
		if final > best.Final {
			best = domain.RoutingScore{
				Agent:         c.Agent.Name,
				Strategy:      s.Kind(),
				Capability:    capScore,
				Workload:      load,
				Availability:  neutralAvailability,
				Context:       neutralScore,
				PriorityBonus: 0,
				Final:         final,
				Rationale: fmt.Sprintf("(%.1f*capability %.2f + %.1f*workload %.2f) x priority %s factor %.1f",
					capW, capScore, loadW, load, rc.Priority, factor),
			}
		}
	}
	return best.Agent, best, nil
}

// ContextAware combines capability, workload, availability, context and
// priority, scaled by deadline urgency. Scores rank candidates within one call
// and may exceed 1.
type ContextAware struct {
	Balancer *Balancer
	Context  *ContextAnalyzer
	Now      func() time.Time
}

func (ContextAware) Kind() domain.StrategyKind { return domain.StrategyContextAware }

// Compose computes the CONTEXT_AWARE composite from its components.
func Compose(capability, workload, availability, context float64, p domain.Priority, deadlineFactor float64) float64 {
	sum := 0.3*capability + 0.25*workload + 0.2*availability + 0.25*context + PriorityBonus(p)
	return sum * deadlineFactor
}

func (s ContextAware) Route(candidates []domain.Candidate, rc domain.RoutingContext) (string, domain.RoutingScore, error) {
	if len(candidates) == 0 {
		return "", domain.RoutingScore{}, noCandidates(s.Kind())
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	insights := s.Context.Insights(rc.Title, rc.Description)
	deadline := DeadlineFactor(rc.Deadline, now())
	bonus := PriorityBonus(rc.Priority)

	var best domain.RoutingScore
	best.Final = math.Inf(-1)
	tied := false
	for _, c := range candidates {
		capScore := capability(c)
		load := s.Balancer.Score(c.Agent, rc)
		avail := clamp01(1 - c.Agent.Utilization())
		ctxScore := s.Context.Score(c.Agent.Name, rc, insights)
		final := Compose(capScore, load, avail, ctxScore, rc.Priority, deadline)

		switch {
		case final > best.Final+tieEpsilon:
			tied = false
			best = domain.RoutingScore{
				Agent:         c.Agent.Name,
				Strategy:      s.Kind(),
				Capability:    capScore,
				Workload:      load,
				Availability:  avail,
				Context:       ctxScore,
				PriorityBonus: bonus,
				Final:         final,
				Rationale: fmt.Sprintf("capability %.2f, workload %.2f, availability %.2f, context %.2f (%s), bonus %.2f, deadline x%.1f",
					capScore, load, avail, ctxScore, insights.TaskType, bonus, deadline),
			}
		case math.Abs(final-best.Final) <= tieEpsilon:
			tied = true
		}
	}

	if best.Final <= 0 {
		return "", domain.RoutingScore{}, &domain.RoutingFailure{
			Strategy: s.Kind(), Candidates: len(candidates), Err: domain.ErrNoAgentAvailable,
		}
	}
	if tied {
		return "", domain.RoutingScore{}, &domain.RoutingFailure{
			Strategy: s.Kind(), Candidates: len(candidates), Err: domain.ErrAmbiguousRoute,
		}
	}
	return best.Agent, best, nil
}

// RoundRobin rotates through each distinct candidate set independently of scores.
type RoundRobin struct {
	mu      sync.Mutex
	cursors map[string]int
}

// NewRoundRobin creates a round-robin strategy with empty cursors.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{cursors: make(map[string]int)}
}

func (*RoundRobin) Kind() domain.StrategyKind { return domain.StrategyRoundRobin }

// CandidateSetKey is the sorted, pipe-joined agent names of a candidate set.
func CandidateSetKey(candidates []domain.Candidate) string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Agent.Name
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func (s *RoundRobin) Route(candidates []domain.Candidate, _ domain.RoutingContext) (string, domain.RoutingScore, error) {
	if len(candidates) == 0 {
		return "", domain.RoutingScore{}, noCandidates(s.Kind())
	}
	sorted := append([]domain.Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Agent.Name < sorted[j].Agent.Name })
	key := CandidateSetKey(sorted)

	s.mu.Lock()
	idx := s.cursors[key] % len(sorted)
	s.cursors[key] = idx + 1
	s.mu.Unlock()

	c := sorted[idx]
	return c.Agent.Name, domain.RoutingScore{
		Agent:         c.Agent.Name,
		Strategy:      s.Kind(),
		Capability:    capability(c),
		Workload:      neutralScore,
		Availability:  neutralAvailability,
		Context:       neutralScore,
		PriorityBonus: 0,
		Final:         neutralAvailability,
		Rationale:     fmt.Sprintf("rotation slot %d of %d", idx+1, len(sorted)),
	}, nil
}

// Reset clears all cursors.
func (s *RoundRobin) Reset() {
	s.mu.Lock()
	s.cursors = make(map[string]int)
	s.mu.Unlock()
}
