package storage

import (
	"time"

	"github.com/pkg/errors"
	"github.com/velkov/planflow/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist. Services wrap
// it into a typed models.NotFoundError before it reaches callers.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by ClaimWaitingExecution when the execution exists
// but is no longer waiting, i.e. a concurrent resume already claimed it.
var ErrConflict = errors.New("execution already claimed")

// Store defines the persistence boundary of the engine. Begin returns a Store
// backed by a transaction; Commit/Rollback only make sense on that handle.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Schedule operations
	SaveSchedule(s models.Schedule) (int64, error)
	GetSchedule(id int64) (models.Schedule, error)
	ListSchedules() ([]models.Schedule, error)

	// Task operations
	SaveTask(t models.Task) error
	GetTask(id string) (models.Task, error)
	UpdateTask(t models.Task) error
	ListTasks(scheduleID int64) ([]models.Task, error)
	ListSuccessors(taskID string) ([]models.Task, error)

	// Workflow definition operations
	SaveWorkflowDefinition(def models.WorkflowDefinition) error
	GetWorkflowDefinition(id string) (models.WorkflowDefinition, error)
	ListWorkflowDefinitions() ([]models.WorkflowDefinition, error)
	ListWorkflowsByEntityType(entityType string) ([]models.WorkflowDefinition, error)

	// Execution operations
	SaveExecution(e models.WorkflowExecution) error
	UpdateExecution(e models.WorkflowExecution) error
	GetExecution(id string) (models.WorkflowExecution, error)
	ListExecutions(workflowID string) ([]models.WorkflowExecution, error)
	// ClaimWaitingExecution atomically moves a waiting execution to running,
	// provided it is waiting at exactly nodeID. Returns ErrNotFound when no
	// such execution exists or it was never suspended at that node, and
	// ErrConflict when a concurrent claim won the race.
	ClaimWaitingExecution(id, nodeID string) (models.WorkflowExecution, error)
	ListDueDelays(now time.Time) ([]models.WorkflowExecution, error)

	// Trigger rule operations
	SaveTriggerRule(r models.TriggerRule) (int64, error)
	ListTriggerRules(entityType string) ([]models.TriggerRule, error)
	AppendRuleLog(l models.RuleLog) error
	ListRuleLogs(ruleID int64) ([]models.RuleLog, error)
}
