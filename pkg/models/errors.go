package models

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed workflow definition. Issues name the
// offending node or edge so callers can surface them without parsing.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid workflow definition: " + strings.Join(e.Issues, "; ")
}

// CyclicDependencyError names one offending edge of a dependency cycle.
type CyclicDependencyError struct {
	TaskID    string
	DependsOn string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: task %q depends on %q", e.TaskID, e.DependsOn)
}

// NotFoundError covers unknown schedules, tasks, workflows and executions,
// and resume calls that never matched a waiting suspension point.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ConflictError is returned to the loser of a concurrent resume race.
type ConflictError struct {
	ExecutionID string
	NodeID      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("execution %q is no longer waiting at node %q", e.ExecutionID, e.NodeID)
}

// ExecutionError wraps a node side effect that failed at run time. It is
// local to one execution and never crashes the engine.
type ExecutionError struct {
	NodeID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.NodeID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
