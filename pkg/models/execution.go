package models

import "time"

type ExecutionStatus string

const (
	RunningExecutionStatus   ExecutionStatus = "running"
	WaitingExecutionStatus   ExecutionStatus = "waiting"
	CompletedExecutionStatus ExecutionStatus = "completed"
	FailedExecutionStatus    ExecutionStatus = "failed"
)

// HistoryEntry records the outcome of one node during an execution.
type HistoryEntry struct {
	NodeID  string    `json:"node_id"`
	Outcome string    `json:"outcome"` // "executed", "suspended", "resumed", "failed", "completed"
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// WorkflowExecution is one invocation of a workflow definition against a
// business entity. CurrentNodeID doubles as the resume token: it is set only
// while the execution is waiting at an approval or delay node, and a resume
// call must name the same node to be accepted.
type WorkflowExecution struct {
	ID            string                 `json:"id" db:"id"`
	WorkflowID    string                 `json:"workflow_id" db:"workflow_id"`
	EntityType    string                 `json:"entity_type" db:"entity_type"`
	EntityID      string                 `json:"entity_id" db:"entity_id"`
	Status        ExecutionStatus        `json:"status" db:"status"`
	CurrentNodeID string                 `json:"current_node_id,omitempty" db:"current_node_id"`
	Context       map[string]interface{} `json:"context"`
	History       []HistoryEntry         `json:"history"`
	WakeAt        *time.Time             `json:"wake_at,omitempty" db:"wake_at"` // delay suspensions only
	StartedAt     time.Time              `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
}

// Terminal reports whether the execution can no longer advance.
func (e WorkflowExecution) Terminal() bool {
	return e.Status == CompletedExecutionStatus || e.Status == FailedExecutionStatus
}
