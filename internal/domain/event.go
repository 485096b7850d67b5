package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a workflow lifecycle event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCancelled EventType = "workflow_cancelled"
	EventMilestoneReached  EventType = "milestone_reached"
)

// Event is the envelope published on the notifier. Payload holds one of the
// typed payload structs below, selected by Type.
type Event struct {
	Type       EventType       `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	WorkflowID string          `json:"workflow_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s: empty payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

// WorkflowPayload accompanies workflow_started, workflow_completed,
// workflow_failed and workflow_cancelled.
type WorkflowPayload struct {
	WorkflowID     string         `json:"workflow_id"`
	TaskName       string         `json:"task_name"`
	Status         WorkflowStatus `json:"status"`
	TotalTasks     int            `json:"total_tasks"`
	CompletedTasks int            `json:"completed_tasks"`
	EstimatedHours float64        `json:"estimated_hours"`
	ActualHours    float64        `json:"actual_hours"`
	Progress       float64        `json:"progress"`
	Error          string         `json:"error,omitempty"`
	ErrorCode      ErrorCode      `json:"error_code,omitempty"`
}

// TaskPayload accompanies task_started, task_completed and task_failed.
type TaskPayload struct {
	WorkflowID     string  `json:"workflow_id"`
	TaskID         string  `json:"task_id"`
	TaskIndex      int     `json:"task_index"`
	Agent          string  `json:"agent"`
	Title          string  `json:"title"`
	EstimatedHours float64 `json:"estimated_hours"`
	ActualHours    float64 `json:"actual_hours,omitempty"`
	QualityScore   float64 `json:"quality_score,omitempty"`
	BusinessValue  float64 `json:"business_value,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// MilestonePayload accompanies milestone_reached.
type MilestonePayload struct {
	WorkflowID string  `json:"workflow_id"`
	Milestone  int     `json:"milestone"`
	Progress   float64 `json:"progress"`
}

// NewEvent builds an envelope with a JSON-encoded payload.
func NewEvent(t EventType, workflowID string, payload any, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Timestamp: now, WorkflowID: workflowID, Payload: raw}, nil
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// Notifier provides publish/subscribe delivery of lifecycle events.
type Notifier interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for one event kind.
	// Returns an unsubscribe function.
	Subscribe(kind EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains queued deliveries and prevents new publishes.
	Close()
}
