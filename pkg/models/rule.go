package models

import "time"

// RuleKind identifies which task transition a simple trigger rule watches.
type RuleKind string

const (
	StatusChangeRule      RuleKind = "status_change"
	ProgressThresholdRule RuleKind = "progress_threshold"
	DatePassedRule        RuleKind = "date_passed"
)

// TriggerRule is a single-action automation evaluated synchronously on every
// task mutation. Rules are persisted behind the store, never held in
// package-level collections.
type TriggerRule struct {
	ID         int64        `json:"id" db:"id"`
	Name       string       `json:"name" db:"name"`
	EntityType string       `json:"entity_type" db:"entity_type"`
	Kind       RuleKind     `json:"kind" db:"kind"`
	FromStatus TaskStatus   `json:"from_status,omitempty" db:"from_status"` // status_change; empty matches any
	ToStatus   TaskStatus   `json:"to_status,omitempty" db:"to_status"`     // status_change; empty matches any
	Threshold  int          `json:"threshold,omitempty" db:"threshold"`     // progress_threshold
	Action     ActionConfig `json:"action"`
	Enabled    bool         `json:"enabled" db:"enabled"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// RuleLog is the append-only record of a rule having matched a mutation.
type RuleLog struct {
	ID         int64     `json:"id" db:"id"`
	RuleID     int64     `json:"rule_id" db:"rule_id"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Message    string    `json:"message,omitempty" db:"message"`
	LoggedAt   time.Time `json:"logged_at" db:"logged_at"`
}
