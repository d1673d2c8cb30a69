package events

import (
	"context"
	"time"

	"caseanalysis-backend/models"
)

// Event defines the contract for analysis lifecycle events.
type Event interface {
	// EventType returns the event code (e.g. "run.completed").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Publisher is implemented by anything that accepts events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

const (
	TypeRunStarted       = "run.started"
	TypeRunCompleted     = "run.completed"
	TypeRunFailed        = "run.failed"
	TypeRunCancelled     = "run.cancelled"
	TypePipelineStarted  = "pipeline.started"
	TypePipelineFinished = "pipeline.finished"
	TypeReportGenerated  = "report.generated"
	TypeRegistryUpdated  = "registry.updated"
)

// BaseEvent is the concrete event used throughout the service
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// RunEventType maps a run status to its lifecycle event type
func RunEventType(status models.RunStatus) string {
	switch status {
	case models.RunStatusCompleted:
		return TypeRunCompleted
	case models.RunStatusFailed:
		return TypeRunFailed
	case models.RunStatusCancelled:
		return TypeRunCancelled
	default:
		return TypeRunStarted
	}
}

// NewRunEvent describes a run state change
func NewRunEvent(run *models.AgentAnalysisRun) BaseEvent {
	data := map[string]interface{}{
		"run_id":   run.ID.String(),
		"case_id":  run.CaseID.String(),
		"agent_id": string(run.AgentID),
		"status":   string(run.Status),
	}
	if run.ErrorMessage != nil {
		data["error"] = *run.ErrorMessage
	}
	if run.Status == models.RunStatusCompleted {
		data["findings"] = len(run.Findings)
	}
	return BaseEvent{Type: RunEventType(run.Status), Data: data, OccurredAt: time.Now()}
}

// NewCaseEvent describes a case-level event (pipeline, report, registry)
func NewCaseEvent(eventType string, caseID string, data map[string]interface{}) BaseEvent {
	payload := map[string]interface{}{"case_id": caseID}
	for k, v := range data {
		payload[k] = v
	}
	return BaseEvent{Type: eventType, Data: payload, OccurredAt: time.Now()}
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
