package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/velkov/planflow/pkg/models"
	"github.com/velkov/planflow/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

func (s *PostgresStore) SaveSchedule(sc models.Schedule) (int64, error) {
	var id int64
	err := s.db.QueryRowx(
		"INSERT INTO schedules (name, project_id, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id",
		sc.Name, sc.ProjectID, sc.CreatedAt, sc.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save schedule: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetSchedule(id int64) (models.Schedule, error) {
	var sc models.Schedule
	err := s.db.Get(&sc, "SELECT id, name, project_id, created_at, updated_at FROM schedules WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Schedule{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Schedule{}, fmt.Errorf("get schedule %d: %w", id, err)
	}
	if sc.Tasks, err = s.ListTasks(id); err != nil {
		return models.Schedule{}, err
	}
	return sc, nil
}

func (s *PostgresStore) ListSchedules() ([]models.Schedule, error) {
	schedules := []models.Schedule{}
	err := s.db.Select(&schedules, "SELECT id, name, project_id, created_at, updated_at FROM schedules ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

const taskColumns = `id, schedule_id, name, status, priority, start_date, end_date,
	estimated_days, progress_percentage, dependency, dependency_type, lag_days,
	parent_task_id, created_at, updated_at`

func (s *PostgresStore) SaveTask(t models.Task) error {
	_, err := s.db.Exec(`INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.ScheduleID, t.Name, t.Status, t.Priority, t.StartDate, t.EndDate,
		t.EstimatedDays, t.ProgressPercentage, t.Dependency, t.DependencyType, t.LagDays,
		t.ParentTaskID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTask(id string) (models.Task, error) {
	var t models.Task
	err := s.db.Get(&t, "SELECT "+taskColumns+" FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTask(t models.Task) error {
	res, err := s.db.Exec(`UPDATE tasks SET name = $2, status = $3, priority = $4,
		start_date = $5, end_date = $6, estimated_days = $7, progress_percentage = $8,
		dependency = $9, dependency_type = $10, lag_days = $11, parent_task_id = $12,
		updated_at = $13 WHERE id = $1`,
		t.ID, t.Name, t.Status, t.Priority, t.StartDate, t.EndDate, t.EstimatedDays,
		t.ProgressPercentage, t.Dependency, t.DependencyType, t.LagDays, t.ParentTaskID,
		t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListTasks(scheduleID int64) ([]models.Task, error) {
	tasks := []models.Task{}
	err := s.db.Select(&tasks, "SELECT "+taskColumns+" FROM tasks WHERE schedule_id = $1 ORDER BY id", scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of schedule %d: %w", scheduleID, err)
	}
	return tasks, nil
}

func (s *PostgresStore) ListSuccessors(taskID string) ([]models.Task, error) {
	tasks := []models.Task{}
	err := s.db.Select(&tasks, "SELECT "+taskColumns+" FROM tasks WHERE dependency = $1 ORDER BY id", taskID)
	if err != nil {
		return nil, fmt.Errorf("list successors of task %s: %w", taskID, err)
	}
	return tasks, nil
}

// workflowDefRow carries the JSON graph columns before decoding.
type workflowDefRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	ProjectID *int64    `db:"project_id"`
	Enabled   bool      `db:"enabled"`
	Nodes     []byte    `db:"nodes"`
	Edges     []byte    `db:"edges"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r workflowDefRow) decode() (models.WorkflowDefinition, error) {
	def := models.WorkflowDefinition{
		ID:        r.ID,
		Name:      r.Name,
		ProjectID: r.ProjectID,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Nodes, &def.Nodes); err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("decode nodes of workflow %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Edges, &def.Edges); err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("decode edges of workflow %s: %w", r.ID, err)
	}
	return def, nil
}

func (s *PostgresStore) SaveWorkflowDefinition(def models.WorkflowDefinition) error {
	nodes, err := json.Marshal(def.Nodes)
	if err != nil {
		return fmt.Errorf("encode nodes of workflow %s: %w", def.ID, err)
	}
	edges, err := json.Marshal(def.Edges)
	if err != nil {
		return fmt.Errorf("encode edges of workflow %s: %w", def.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO workflow_definitions (id, name, project_id, enabled, nodes, edges, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET name = $2, project_id = $3, enabled = $4, nodes = $5, edges = $6, updated_at = $8`,
		def.ID, def.Name, def.ProjectID, def.Enabled, nodes, edges, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", def.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflowDefinition(id string) (models.WorkflowDefinition, error) {
	var row workflowDefRow
	err := s.db.Get(&row, "SELECT * FROM workflow_definitions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowDefinition{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return row.decode()
}

func (s *PostgresStore) ListWorkflowDefinitions() ([]models.WorkflowDefinition, error) {
	var rows []workflowDefRow
	if err := s.db.Select(&rows, "SELECT * FROM workflow_definitions ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defs := make([]models.WorkflowDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := row.decode()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ListWorkflowsByEntityType filters on the trigger node's entity binding
// inside the JSON graph.
func (s *PostgresStore) ListWorkflowsByEntityType(entityType string) ([]models.WorkflowDefinition, error) {
	defs, err := s.ListWorkflowDefinitions()
	if err != nil {
		return nil, err
	}
	var out []models.WorkflowDefinition
	for _, def := range defs {
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

type executionRow struct {
	ID            string     `db:"id"`
	WorkflowID    string     `db:"workflow_id"`
	EntityType    string     `db:"entity_type"`
	EntityID      string     `db:"entity_id"`
	Status        string     `db:"status"`
	CurrentNodeID string     `db:"current_node_id"`
	Context       []byte     `db:"context"`
	History       []byte     `db:"history"`
	WakeAt        *time.Time `db:"wake_at"`
	StartedAt     time.Time  `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
}

func (r executionRow) decode() (models.WorkflowExecution, error) {
	e := models.WorkflowExecution{
		ID:            r.ID,
		WorkflowID:    r.WorkflowID,
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		Status:        models.ExecutionStatus(r.Status),
		CurrentNodeID: r.CurrentNodeID,
		WakeAt:        r.WakeAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
	if err := json.Unmarshal(r.Context, &e.Context); err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("decode context of execution %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.History, &e.History); err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("decode history of execution %s: %w", r.ID, err)
	}
	return e, nil
}

func encodeExecution(e models.WorkflowExecution) (contextJSON, historyJSON []byte, err error) {
	if contextJSON, err = json.Marshal(e.Context); err != nil {
		return nil, nil, fmt.Errorf("encode context of execution %s: %w", e.ID, err)
	}
	if historyJSON, err = json.Marshal(e.History); err != nil {
		return nil, nil, fmt.Errorf("encode history of execution %s: %w", e.ID, err)
	}
	return contextJSON, historyJSON, nil
}

func (s *PostgresStore) SaveExecution(e models.WorkflowExecution) error {
	contextJSON, historyJSON, err := encodeExecution(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO workflow_executions
		(id, workflow_id, entity_type, entity_id, status, current_node_id, context, history, wake_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.WorkflowID, e.EntityType, e.EntityID, e.Status, e.CurrentNodeID,
		contextJSON, historyJSON, e.WakeAt, e.StartedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("save execution %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateExecution(e models.WorkflowExecution) error {
	contextJSON, historyJSON, err := encodeExecution(e)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE workflow_executions SET status = $2, current_node_id = $3,
		context = $4, history = $5, wake_at = $6, completed_at = $7 WHERE id = $1`,
		e.ID, e.Status, e.CurrentNodeID, contextJSON, historyJSON, e.WakeAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetExecution(id string) (models.WorkflowExecution, error) {
	var row executionRow
	err := s.db.Get(&row, "SELECT * FROM workflow_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("get execution %s: %w", id, err)
	}
	return row.decode()
}

func (s *PostgresStore) ListExecutions(workflowID string) ([]models.WorkflowExecution, error) {
	var rows []executionRow
	var err error
	if workflowID == "" {
		err = s.db.Select(&rows, "SELECT * FROM workflow_executions ORDER BY started_at")
	} else {
		err = s.db.Select(&rows, "SELECT * FROM workflow_executions WHERE workflow_id = $1 ORDER BY started_at", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	execs := make([]models.WorkflowExecution, 0, len(rows))
	for _, row := range rows {
		e, decodeErr := row.decode()
		if decodeErr != nil {
			return nil, decodeErr
		}
		execs = append(execs, e)
	}
	return execs, nil
}

// ClaimWaitingExecution is the resume serialization point: the UPDATE only
// matches a row still waiting at exactly nodeID, so of two concurrent resume
// calls one sees a single affected row and the other none.
func (s *PostgresStore) ClaimWaitingExecution(id, nodeID string) (models.WorkflowExecution, error) {
	res, err := s.db.Exec(`UPDATE workflow_executions
		SET status = 'running', current_node_id = '', wake_at = NULL
		WHERE id = $1 AND status = 'waiting' AND current_node_id = $2`, id, nodeID)
	if err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("claim execution %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("claim execution %s: %w", id, err)
	}
	if n == 1 {
		return s.GetExecution(id)
	}

	existing, err := s.GetExecution(id)
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	if existing.Status != models.WaitingExecutionStatus {
		return models.WorkflowExecution{}, storage.ErrConflict
	}
	// waiting, but at a different node
	return models.WorkflowExecution{}, storage.ErrNotFound
}

func (s *PostgresStore) ListDueDelays(now time.Time) ([]models.WorkflowExecution, error) {
	var rows []executionRow
	err := s.db.Select(&rows,
		"SELECT * FROM workflow_executions WHERE status = 'waiting' AND wake_at IS NOT NULL AND wake_at <= $1", now)
	if err != nil {
		return nil, fmt.Errorf("list due delays: %w", err)
	}
	execs := make([]models.WorkflowExecution, 0, len(rows))
	for _, row := range rows {
		e, decodeErr := row.decode()
		if decodeErr != nil {
			return nil, decodeErr
		}
		execs = append(execs, e)
	}
	return execs, nil
}

type ruleRow struct {
	ID         int64     `db:"id"`
	Name       string    `db:"name"`
	EntityType string    `db:"entity_type"`
	Kind       string    `db:"kind"`
	FromStatus string    `db:"from_status"`
	ToStatus   string    `db:"to_status"`
	Threshold  int       `db:"threshold"`
	Action     []byte    `db:"action"`
	Enabled    bool      `db:"enabled"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r ruleRow) decode() (models.TriggerRule, error) {
	rule := models.TriggerRule{
		ID:         r.ID,
		Name:       r.Name,
		EntityType: r.EntityType,
		Kind:       models.RuleKind(r.Kind),
		FromStatus: models.TaskStatus(r.FromStatus),
		ToStatus:   models.TaskStatus(r.ToStatus),
		Threshold:  r.Threshold,
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt,
	}
	if err := json.Unmarshal(r.Action, &rule.Action); err != nil {
		return models.TriggerRule{}, fmt.Errorf("decode action of rule %d: %w", r.ID, err)
	}
	return rule, nil
}

func (s *PostgresStore) SaveTriggerRule(r models.TriggerRule) (int64, error) {
	action, err := json.Marshal(r.Action)
	if err != nil {
		return 0, fmt.Errorf("encode action of rule %q: %w", r.Name, err)
	}
	var id int64
	err = s.db.QueryRowx(`INSERT INTO trigger_rules
		(name, entity_type, kind, from_status, to_status, threshold, action, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		r.Name, r.EntityType, r.Kind, r.FromStatus, r.ToStatus, r.Threshold, action, r.Enabled, r.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save rule %q: %w", r.Name, err)
	}
	return id, nil
}

func (s *PostgresStore) ListTriggerRules(entityType string) ([]models.TriggerRule, error) {
	var rows []ruleRow
	err := s.db.Select(&rows, "SELECT * FROM trigger_rules WHERE entity_type = $1 ORDER BY id", entityType)
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", entityType, err)
	}
	rules := make([]models.TriggerRule, 0, len(rows))
	for _, row := range rows {
		rule, decodeErr := row.decode()
		if decodeErr != nil {
			return nil, decodeErr
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *PostgresStore) AppendRuleLog(l models.RuleLog) error {
	_, err := s.db.Exec(`INSERT INTO rule_logs (rule_id, entity_type, entity_id, message, logged_at)
		VALUES ($1, $2, $3, $4, $5)`,
		l.RuleID, l.EntityType, l.EntityID, l.Message, l.LoggedAt)
	if err != nil {
		return fmt.Errorf("append rule log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRuleLogs(ruleID int64) ([]models.RuleLog, error) {
	logs := []models.RuleLog{}
	err := s.db.Select(&logs, "SELECT * FROM rule_logs WHERE rule_id = $1 ORDER BY id", ruleID)
	if err != nil {
		return nil, fmt.Errorf("list rule logs: %w", err)
	}
	return logs, nil
}
