package storage

import (
	"sync"
	"time"

	"github.com/velkov/planflow/pkg/models"
)

// mockStore implements Store with in-memory maps, guarded by a single mutex
// so concurrency tests (resume races in particular) observe the same
// first-claim-wins semantics as the Postgres store.
type mockStore struct {
	mu          sync.Mutex
	schedules   map[int64]models.Schedule
	tasks       map[string]models.Task
	definitions map[string]models.WorkflowDefinition
	executions  map[string]models.WorkflowExecution
	rules       map[int64]models.TriggerRule
	ruleLogs    []models.RuleLog
	nextSchedID int64
	nextRuleID  int64
	nextLogID   int64
}

// NewMockStore returns an empty in-memory store for tests and examples.
func NewMockStore() Store {
	return &mockStore{
		schedules:   make(map[int64]models.Schedule),
		tasks:       make(map[string]models.Task),
		definitions: make(map[string]models.WorkflowDefinition),
		executions:  make(map[string]models.WorkflowExecution),
		rules:       make(map[int64]models.TriggerRule),
	}
}

// The mock is not transactional: Begin hands back the same store and
// Commit/Rollback are no-ops, which is enough for service-level tests.
func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveSchedule(s models.Schedule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextSchedID++
		s.ID = m.nextSchedID
	}
	m.schedules[s.ID] = s
	return s.ID, nil
}

func (m *mockStore) GetSchedule(id int64) (models.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return models.Schedule{}, ErrNotFound
	}
	s.Tasks = m.tasksOf(id)
	return s, nil
}

func (m *mockStore) ListSchedules() ([]models.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockStore) tasksOf(scheduleID int64) []models.Task {
	var out []models.Task
	for _, t := range m.tasks {
		if t.ScheduleID == scheduleID {
			out = append(out, t)
		}
	}
	return out
}

func (m *mockStore) SaveTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) GetTask(id string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *mockStore) UpdateTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) ListTasks(scheduleID int64) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasksOf(scheduleID), nil
}

func (m *mockStore) ListSuccessors(taskID string) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Task
	for _, t := range m.tasks {
		if t.Dependency != nil && *t.Dependency == taskID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) SaveWorkflowDefinition(def models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID] = def
	return nil
}

func (m *mockStore) GetWorkflowDefinition(id string) (models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[id]
	if !ok {
		return models.WorkflowDefinition{}, ErrNotFound
	}
	return def, nil
}

func (m *mockStore) ListWorkflowDefinitions() ([]models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WorkflowDefinition, 0, len(m.definitions))
	for _, def := range m.definitions {
		out = append(out, def)
	}
	return out, nil
}

func (m *mockStore) ListWorkflowsByEntityType(entityType string) ([]models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowDefinition
	for _, def := range m.definitions {
		if !def.Enabled {
			continue
		}
		for _, n := range def.Nodes {
			if n.Type == models.TriggerNodeType && n.Config.Trigger != nil && n.Config.Trigger.EntityType == entityType {
				out = append(out, def)
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) SaveExecution(e models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[e.ID] = e
	return nil
}

func (m *mockStore) UpdateExecution(e models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[e.ID]; !ok {
		return ErrNotFound
	}
	m.executions[e.ID] = e
	return nil
}

func (m *mockStore) GetExecution(id string) (models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return models.WorkflowExecution{}, ErrNotFound
	}
	return e, nil
}

func (m *mockStore) ListExecutions(workflowID string) ([]models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowExecution
	for _, e := range m.executions {
		if workflowID == "" || e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) ClaimWaitingExecution(id, nodeID string) (models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return models.WorkflowExecution{}, ErrNotFound
	}
	if e.Status == models.WaitingExecutionStatus && e.CurrentNodeID == nodeID {
		e.Status = models.RunningExecutionStatus
		e.CurrentNodeID = ""
		e.WakeAt = nil
		m.executions[id] = e
		return e, nil
	}
	if e.Status != models.WaitingExecutionStatus {
		return models.WorkflowExecution{}, ErrConflict
	}
	// waiting, but at a different node
	return models.WorkflowExecution{}, ErrNotFound
}

func (m *mockStore) ListDueDelays(now time.Time) ([]models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowExecution
	for _, e := range m.executions {
		if e.Status == models.WaitingExecutionStatus && e.WakeAt != nil && !e.WakeAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) SaveTriggerRule(r models.TriggerRule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.nextRuleID++
		r.ID = m.nextRuleID
	}
	m.rules[r.ID] = r
	return r.ID, nil
}

func (m *mockStore) ListTriggerRules(entityType string) ([]models.TriggerRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TriggerRule
	for _, r := range m.rules {
		if r.EntityType == entityType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) AppendRuleLog(l models.RuleLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogID++
	l.ID = m.nextLogID
	m.ruleLogs = append(m.ruleLogs, l)
	return nil
}

func (m *mockStore) ListRuleLogs(ruleID int64) ([]models.RuleLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RuleLog
	for _, l := range m.ruleLogs {
		if ruleID == 0 || l.RuleID == ruleID {
			out = append(out, l)
		}
	}
	return out, nil
}
