package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority ranks task urgency. The zero value means unset.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "LOW",
	PriorityMedium: "MEDIUM",
	PriorityHigh:   "HIGH",
	PriorityUrgent: "URGENT",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority parses a case-insensitive priority name.
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("priority %q: %w", s, ErrInvalidInput)
}

// MarshalText encodes the unset priority as an empty string.
func (p Priority) MarshalText() ([]byte, error) {
	if p == 0 {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = 0
		return nil
	}
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Complexity ranks task scope. The zero value means unset.
type Complexity int

const (
	ComplexitySimple Complexity = iota + 1
	ComplexityModerate
	ComplexityComplex
	ComplexityEpic
)

var complexityNames = map[Complexity]string{
	ComplexitySimple:   "SIMPLE",
	ComplexityModerate: "MODERATE",
	ComplexityComplex:  "COMPLEX",
	ComplexityEpic:     "EPIC",
}

func (c Complexity) String() string {
	if s, ok := complexityNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Complexity(%d)", int(c))
}

// ParseComplexity parses a case-insensitive complexity name.
func ParseComplexity(s string) (Complexity, error) {
	for c, name := range complexityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("complexity %q: %w", s, ErrInvalidInput)
}

// MarshalText encodes the unset complexity as an empty string.
func (c Complexity) MarshalText() ([]byte, error) {
	if c == 0 {
		return []byte{}, nil
	}
	return []byte(c.String()), nil
}

func (c *Complexity) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = 0
		return nil
	}
	v, err := ParseComplexity(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// DurationMultiplier scales template phase hours and agent response time by complexity.
func (c Complexity) DurationMultiplier() float64 {
	switch c {
	case ComplexitySimple:
		return 0.5
	case ComplexityComplex:
		return 1.5
	case ComplexityEpic:
		return 2.0
	default:
		return 1.0
	}
}

// StrategyKind names one of the closed set of routing strategies.
type StrategyKind string

const (
	StrategyBestMatch     StrategyKind = "best_match"
	StrategyLoadBalanced  StrategyKind = "load_balanced"
	StrategyPriorityAware StrategyKind = "priority_aware"
	StrategyContextAware  StrategyKind = "context_aware"
	StrategyRoundRobin    StrategyKind = "round_robin"
)

// Strategies lists every routing strategy in declaration order.
var Strategies = []StrategyKind{
	StrategyBestMatch,
	StrategyLoadBalanced,
	StrategyPriorityAware,
	StrategyContextAware,
	StrategyRoundRobin,
}

// ParseStrategy accepts either the snake_case or the upper-case form ("CONTEXT_AWARE").
func ParseStrategy(s string) (StrategyKind, error) {
	norm := StrategyKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range Strategies {
		if k == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("strategy %q: %w", s, ErrUnknownStrategy)
}

// RoutingContext carries everything a strategy may weigh for one routing decision.
type RoutingContext struct {
	Title           string             `json:"title,omitempty"`
	Description     string             `json:"description,omitempty"`
	Priority        Priority           `json:"priority"`
	Complexity      Complexity         `json:"complexity"`
	EstimatedHours  float64            `json:"estimated_hours,omitempty"`
	Deadline        *time.Time         `json:"deadline,omitempty"`
	PreviousAgent   string             `json:"previous_agent,omitempty"`
	UserPreferences map[string]float64 `json:"user_preferences,omitempty"`
}

// Text returns title and description joined for keyword matching.
func (rc RoutingContext) Text() string {
	return strings.TrimSpace(rc.Title + " " + rc.Description)
}

// RoutingScore is the per-candidate breakdown of a routing decision.
type RoutingScore struct {
	Agent         string       `json:"agent"`
	Strategy      StrategyKind `json:"strategy"`
	Capability    float64      `json:"capability"`
	Workload      float64      `json:"workload"`
	Availability  float64      `json:"availability"`
	Context       float64      `json:"context"`
	PriorityBonus float64      `json:"priority_bonus"`
	Final         float64      `json:"final"`
	Rationale     string       `json:"rationale"`
}

// RoutingDecision is the outcome returned to callers of the router.
type RoutingDecision struct {
	Agent string       `json:"agent"`
	Score RoutingScore `json:"score"`
}
