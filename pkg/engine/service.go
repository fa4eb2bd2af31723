// Package engine is the orchestration coordinator: the glue between task
// mutations, the cascade scheduler, the CPM solver, the simple trigger-rule
// engine and the DAG workflow engine. It owns no state beyond the store.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/velkov/planflow/pkg/cascade"
	"github.com/velkov/planflow/pkg/cpm"
	"github.com/velkov/planflow/pkg/models"
	"github.com/velkov/planflow/pkg/storage"
	"github.com/velkov/planflow/pkg/workflow"
)

// Service exposes the engine's public, transport-agnostic surface.
type Service struct {
	store    storage.Store
	logger   Logger
	notifier Notifier
	webhooks WebhookDispatcher
	agents   workflow.AgentInvoker
	wf       *workflow.Engine
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithWebhookDispatcher(w WebhookDispatcher) Option {
	return func(s *Service) { s.webhooks = w }
}

func WithAgentInvoker(a workflow.AgentInvoker) Option {
	return func(s *Service) { s.agents = a }
}

// WithClock pins the service's time source; tests use it for date-passed
// rules and delay wake-at times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.Store, logger Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   logger,
		notifier: NopNotifier{},
		webhooks: NopWebhookDispatcher{},
		agents:   noAgent{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wf = workflow.NewEngine(&storeActionExecutor{service: s}, s.agents, logger)
	s.wf.SetClock(func() time.Time { return s.now() })
	return s
}

// TaskChangeResult is the outcome of ApplyTaskChange: the task as stored plus
// every downstream shift the edit forced.
type TaskChangeResult struct {
	Task            models.Task      `json:"task"`
	CascadedChanges []cascade.Change `json:"cascaded_changes"`
}

// ComputeCriticalPath solves CPM for the schedule's current task set. It is
// always safe to recompute and never cached across a write.
func (s *Service) ComputeCriticalPath(scheduleID int64) (*models.CriticalPathResult, error) {
	tasks, err := s.store.ListTasks(scheduleID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing tasks of schedule %d", scheduleID)
	}
	if len(tasks) == 0 {
		if _, err := s.store.GetSchedule(scheduleID); err != nil {
			return nil, s.notFound(err, "schedule", scheduleID)
		}
	}
	return cpm.Solve(scheduleID, tasks)
}

// ApplyTaskChange applies an edit to a task and, when its dates moved, the
// cascaded shifts of its downstream tasks, all in one transaction. Rule and
// workflow evaluation run after the commit so a concurrent CPM read never
// observes a partially cascaded schedule.
func (s *Service) ApplyTaskChange(ctx context.Context, taskID string, change models.TaskChange) (*TaskChangeResult, error) {
	result, old, err := s.applyTaskChangeTx(taskID, change)
	if err != nil {
		return nil, err
	}
	s.notifier.Broadcast("task.updated", result)
	s.webhooks.Dispatch("task.updated", result, "")
	s.evaluateRules(ctx, old, result.Task)
	s.startBoundWorkflows(ctx, old, result.Task)
	return result, nil
}

func (s *Service) applyTaskChangeTx(taskID string, change models.TaskChange) (result *TaskChangeResult, old models.Task, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return nil, models.Task{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	old, err = txStore.GetTask(taskID)
	if err != nil {
		return nil, models.Task{}, s.notFound(err, "task", taskID)
	}

	updated := change.Apply(old)
	updated.UpdatedAt = s.now()

	var tasks []models.Task
	loadTasks := func() error {
		if tasks != nil {
			return nil
		}
		var listErr error
		tasks, listErr = txStore.ListTasks(old.ScheduleID)
		return errors.Wrapf(listErr, "listing tasks of schedule %d", old.ScheduleID)
	}

	// A dependency edit must keep the schedule's graph acyclic; solving the
	// prospective graph rejects it the same way CreateTask would.
	if change.Dependency != nil || change.DependencyType != nil {
		if err = loadTasks(); err != nil {
			return nil, models.Task{}, err
		}
		prospective := make([]models.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.ID == updated.ID {
				continue
			}
			prospective = append(prospective, t)
		}
		prospective = append(prospective, updated)
		if _, err = cpm.Solve(old.ScheduleID, prospective); err != nil {
			return nil, models.Task{}, err
		}
	}

	var cascaded []cascade.Change
	if datesMoved(old, updated) {
		if err = loadTasks(); err != nil {
			return nil, models.Task{}, err
		}
		cascaded, err = cascade.Plan(tasks, updated, 0)
		if err != nil {
			return nil, models.Task{}, err
		}
		byID := make(map[string]models.Task, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t
		}
		for _, ch := range cascaded {
			t := byID[ch.TaskID]
			t.StartDate = ch.NewStart
			t.EndDate = ch.NewEnd
			t.UpdatedAt = updated.UpdatedAt
			if err = txStore.UpdateTask(t); err != nil {
				return nil, models.Task{}, errors.Wrapf(err, "applying cascaded shift to task %s", ch.TaskID)
			}
		}
	}

	if err = txStore.UpdateTask(updated); err != nil {
		return nil, models.Task{}, errors.Wrapf(err, "updating task %s", taskID)
	}

	return &TaskChangeResult{Task: updated, CascadedChanges: cascaded}, old, nil
}

// CreateWorkflowDefinition validates and stores a definition. Invalid graphs
// are rejected before any state is created.
func (s *Service) CreateWorkflowDefinition(def models.WorkflowDefinition) (models.WorkflowDefinition, error) {
	if err := workflow.Validate(def); err != nil {
		return models.WorkflowDefinition{}, err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := s.now()
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := s.store.SaveWorkflowDefinition(def); err != nil {
		return models.WorkflowDefinition{}, errors.Wrapf(err, "saving workflow %s", def.ID)
	}
	s.logger.Infof("Created workflow definition %s (%s)", def.ID, def.Name)
	return def, nil
}

// TriggerWorkflow starts one execution of a workflow against a business
// entity. Disabled workflows and definitions without a trigger node are
// reported as not found, exactly like unknown ids.
func (s *Service) TriggerWorkflow(ctx context.Context, workflowID, entityType, entityID string) (models.WorkflowExecution, error) {
	def, err := s.store.GetWorkflowDefinition(workflowID)
	if err != nil {
		return models.WorkflowExecution{}, s.notFound(err, "workflow", workflowID)
	}
	if !def.Enabled || !hasTrigger(def) {
		return models.WorkflowExecution{}, &models.NotFoundError{Kind: "enabled workflow", ID: workflowID}
	}
	return s.startExecution(ctx, def, entityType, entityID)
}

// ResumeExecution continues a waiting execution past the named suspension
// node. The store's compare-and-set serializes concurrent resumes: the first
// caller to observe the waiting state wins, the loser gets a ConflictError.
func (s *Service) ResumeExecution(ctx context.Context, executionID, nodeID string, result map[string]interface{}) (models.WorkflowExecution, error) {
	exec, err := s.store.ClaimWaitingExecution(executionID, nodeID)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return models.WorkflowExecution{}, &models.ConflictError{ExecutionID: executionID, NodeID: nodeID}
		}
		return models.WorkflowExecution{}, s.notFound(err, "waiting execution", executionID)
	}

	def, err := s.store.GetWorkflowDefinition(exec.WorkflowID)
	if err != nil {
		return models.WorkflowExecution{}, s.notFound(err, "workflow", exec.WorkflowID)
	}
	if err := s.wf.Resume(ctx, def, &exec, nodeID, result); err != nil {
		return models.WorkflowExecution{}, err
	}
	if err := s.store.UpdateExecution(exec); err != nil {
		return models.WorkflowExecution{}, errors.Wrapf(err, "persisting execution %s", exec.ID)
	}
	s.notifier.Broadcast("workflow.execution", exec)
	s.webhooks.Dispatch("workflow.execution."+string(exec.Status), exec, "")
	return exec, nil
}

// ListExecutions returns executions of one workflow, or all of them for an
// empty workflow id.
func (s *Service) ListExecutions(workflowID string) ([]models.WorkflowExecution, error) {
	return s.store.ListExecutions(workflowID)
}

func (s *Service) GetExecution(id string) (models.WorkflowExecution, error) {
	exec, err := s.store.GetExecution(id)
	if err != nil {
		return models.WorkflowExecution{}, s.notFound(err, "execution", id)
	}
	return exec, nil
}

// CreateSchedule stores an empty schedule aggregate.
func (s *Service) CreateSchedule(name string) (int64, error) {
	if name == "" {
		return 0, errors.New("schedule name cannot be empty")
	}
	now := s.now()
	return s.store.SaveSchedule(models.Schedule{Name: name, CreatedAt: now, UpdatedAt: now})
}

// CreateTask stores a task after checking that its dependency edge keeps the
// schedule's graph acyclic. The prospective graph is solved rather than
// inspected ad hoc, so the rejection matches what CPM would report.
func (s *Service) CreateTask(t models.Task) (models.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.PendingTaskStatus
	}
	if t.DependencyType == "" {
		t.DependencyType = models.FinishToStart
	}
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now

	tasks, err := s.store.ListTasks(t.ScheduleID)
	if err != nil {
		return models.Task{}, errors.Wrapf(err, "listing tasks of schedule %d", t.ScheduleID)
	}
	prospective := append(append([]models.Task{}, tasks...), t)
	if _, err := cpm.Solve(t.ScheduleID, prospective); err != nil {
		return models.Task{}, err
	}
	if err := s.store.SaveTask(t); err != nil {
		return models.Task{}, errors.Wrapf(err, "saving task %s", t.ID)
	}
	return t, nil
}

// CreateTriggerRule stores a simple rule evaluated on every task mutation.
func (s *Service) CreateTriggerRule(r models.TriggerRule) (models.TriggerRule, error) {
	if r.EntityType == "" {
		r.EntityType = "task"
	}
	r.CreatedAt = s.now()
	id, err := s.store.SaveTriggerRule(r)
	if err != nil {
		return models.TriggerRule{}, errors.Wrap(err, "saving trigger rule")
	}
	r.ID = id
	return r, nil
}

func (s *Service) startExecution(ctx context.Context, def models.WorkflowDefinition, entityType, entityID string) (models.WorkflowExecution, error) {
	exec := models.WorkflowExecution{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     models.RunningExecutionStatus,
		Context:    s.seedContext(entityType, entityID),
		StartedAt:  s.now(),
	}
	if err := s.wf.Start(ctx, def, &exec); err != nil {
		return models.WorkflowExecution{}, err
	}
	if err := s.store.SaveExecution(exec); err != nil {
		return models.WorkflowExecution{}, errors.Wrapf(err, "persisting execution %s", exec.ID)
	}
	s.logger.Infof("Started execution %s of workflow %s on %s/%s: %s", exec.ID, def.ID, entityType, entityID, exec.Status)
	s.notifier.Broadcast("workflow.execution", exec)
	s.webhooks.Dispatch("workflow.execution."+string(exec.Status), exec, "")
	return exec, nil
}

// seedContext exposes the triggering entity's fields to edge conditions.
func (s *Service) seedContext(entityType, entityID string) map[string]interface{} {
	ctx := map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   entityID,
	}
	if entityType != "task" {
		return ctx
	}
	t, err := s.store.GetTask(entityID)
	if err != nil {
		return ctx
	}
	ctx["status"] = string(t.Status)
	ctx["progress_percentage"] = float64(t.ProgressPercentage)
	ctx["priority"] = float64(t.Priority)
	ctx["name"] = t.Name
	return ctx
}

// startBoundWorkflows starts every enabled workflow whose trigger is bound to
// the mutated entity type and whose event matches the mutation.
func (s *Service) startBoundWorkflows(ctx context.Context, old, updated models.Task) {
	defs, err := s.store.ListWorkflowsByEntityType("task")
	if err != nil {
		s.logger.Errorf("Failed to list workflows bound to tasks: %v", err)
		return
	}
	events := mutationEvents(old, updated)
	for _, def := range defs {
		trigger := triggerConfig(def)
		if trigger == nil {
			continue
		}
		if trigger.Event != "" && !contains(events, trigger.Event) {
			continue
		}
		if _, err := s.startExecution(ctx, def, "task", updated.ID); err != nil {
			s.logger.Errorf("Failed to start workflow %s for task %s: %v", def.ID, updated.ID, err)
		}
	}
}

func mutationEvents(old, updated models.Task) []string {
	events := []string{"updated"}
	if old.Status != updated.Status {
		events = append(events, "status_changed")
		if updated.Status == models.CompletedTaskStatus {
			events = append(events, "completed")
		}
	}
	return events
}

func triggerConfig(def models.WorkflowDefinition) *models.TriggerConfig {
	for _, n := range def.Nodes {
		if n.Type == models.TriggerNodeType {
			return n.Config.Trigger
		}
	}
	return nil
}

func hasTrigger(def models.WorkflowDefinition) bool {
	return triggerConfig(def) != nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func datesMoved(old, updated models.Task) bool {
	return !equalDates(old.StartDate, updated.StartDate) || !equalDates(old.EndDate, updated.EndDate)
}

func equalDates(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// notFound maps the store's sentinel onto the typed error callers branch on,
// leaving every other storage failure wrapped as-is.
func (s *Service) notFound(err error, kind string, id interface{}) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &models.NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
	}
	return errors.Wrapf(err, "loading %s %v", kind, id)
}
