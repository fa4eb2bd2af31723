package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	internal_storage "github.com/velkov/planflow/internal/storage"
	"github.com/velkov/planflow/internal/testutil"
	"github.com/velkov/planflow/pkg/models"
	"github.com/velkov/planflow/pkg/storage"
)

func setupStore(t *testing.T) (*internal_storage.PostgresStore, *testutil.TestDB) {
	t.Helper()
	tdb := testutil.SetupTestDB(t)
	store, err := internal_storage.NewPostgresStore(tdb.ConnStr)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		tdb.Teardown(t)
	})
	return store, tdb
}

func truncate(t *testing.T, tdb *testutil.TestDB) {
	t.Helper()
	_, err := tdb.DB.Exec("TRUNCATE rule_logs, trigger_rules, workflow_executions, workflow_definitions, tasks, schedules RESTART IDENTITY CASCADE")
	require.NoError(t, err)
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	store, tdb := setupStore(t)
	now := time.Date(2026, time.June, 1, 9, 30, 0, 0, time.UTC)

	t.Run("SchedulesAndTasks", func(t *testing.T) {
		truncate(t, tdb)

		scheduleID, err := store.SaveSchedule(models.Schedule{Name: "fit-out", CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)
		require.NotZero(t, scheduleID)

		start := now
		end := now.Add(72 * time.Hour)
		days := 3.0
		require.NoError(t, store.SaveTask(models.Task{
			ID: "A", ScheduleID: scheduleID, Name: "demolition", Status: models.PendingTaskStatus,
			StartDate: &start, EndDate: &end, EstimatedDays: &days,
			DependencyType: models.FinishToStart, CreatedAt: now, UpdatedAt: now,
		}))
		dep := "A"
		require.NoError(t, store.SaveTask(models.Task{
			ID: "B", ScheduleID: scheduleID, Name: "framing", Status: models.PendingTaskStatus,
			Dependency: &dep, DependencyType: models.FinishToStart, LagDays: 1.5,
			CreatedAt: now, UpdatedAt: now,
		}))

		got, err := store.GetTask("B")
		require.NoError(t, err)
		require.NotNil(t, got.Dependency)
		assert.Equal(t, "A", *got.Dependency)
		assert.Equal(t, 1.5, got.LagDays)

		succ, err := store.ListSuccessors("A")
		require.NoError(t, err)
		require.Len(t, succ, 1)
		assert.Equal(t, "B", succ[0].ID)

		got.Status = models.InProgressTaskStatus
		require.NoError(t, store.UpdateTask(got))
		updated, err := store.GetTask("B")
		require.NoError(t, err)
		assert.Equal(t, models.InProgressTaskStatus, updated.Status)

		sched, err := store.GetSchedule(scheduleID)
		require.NoError(t, err)
		assert.Len(t, sched.Tasks, 2)

		_, err = store.GetTask("ghost")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetSchedule(9999)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("WorkflowDefinitionRoundTrip", func(t *testing.T) {
		truncate(t, tdb)

		def := models.WorkflowDefinition{
			ID:      "wf-1",
			Name:    "close out",
			Enabled: true,
			Nodes: []models.WorkflowNode{
				{ID: "t", Type: models.TriggerNodeType, Config: models.NodeConfig{Trigger: &models.TriggerConfig{EntityType: "task", Event: "updated"}}},
				{ID: "a", Type: models.ActionNodeType, Config: models.NodeConfig{Action: &models.ActionConfig{Kind: models.SetFieldAction, Field: "status", Value: "completed"}}},
			},
			Edges: []models.WorkflowEdge{
				{Source: 0, Target: 1, Condition: &models.Condition{Field: "progress_percentage", Op: models.OpGte, Value: 100}},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, store.SaveWorkflowDefinition(def))

		got, err := store.GetWorkflowDefinition("wf-1")
		require.NoError(t, err)
		require.Len(t, got.Nodes, 2)
		require.Len(t, got.Edges, 1)
		assert.Equal(t, "task", got.Nodes[0].Config.Trigger.EntityType)
		assert.Equal(t, models.OpGte, got.Edges[0].Condition.Op)

		// upsert on the same id
		def.Enabled = false
		require.NoError(t, store.SaveWorkflowDefinition(def))
		got, err = store.GetWorkflowDefinition("wf-1")
		require.NoError(t, err)
		assert.False(t, got.Enabled)

		byEntity, err := store.ListWorkflowsByEntityType("task")
		require.NoError(t, err)
		assert.Empty(t, byEntity) // disabled definitions are filtered out
	})

	t.Run("ExecutionsAndClaims", func(t *testing.T) {
		truncate(t, tdb)
		saveDefinition(t, store, now)

		wake := now.Add(2 * time.Hour)
		exec := models.WorkflowExecution{
			ID:            "exec-1",
			WorkflowID:    "wf-1",
			EntityType:    "task",
			EntityID:      "A",
			Status:        models.WaitingExecutionStatus,
			CurrentNodeID: "ap",
			Context:       map[string]interface{}{"progress_percentage": float64(80)},
			History: []models.HistoryEntry{
				{NodeID: "t", Outcome: "executed", At: now},
				{NodeID: "ap", Outcome: "suspended", Detail: "confirm handover", At: now},
			},
			WakeAt:    &wake,
			StartedAt: now,
		}
		require.NoError(t, store.SaveExecution(exec))

		got, err := store.GetExecution("exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.WaitingExecutionStatus, got.Status)
		assert.Equal(t, "ap", got.CurrentNodeID)
		assert.Equal(t, float64(80), got.Context["progress_percentage"])
		require.Len(t, got.History, 2)
		assert.Equal(t, "confirm handover", got.History[1].Detail)

		// wrong node: still waiting, so not found rather than conflict
		_, err = store.ClaimWaitingExecution("exec-1", "other")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		claimed, err := store.ClaimWaitingExecution("exec-1", "ap")
		require.NoError(t, err)
		assert.Equal(t, models.RunningExecutionStatus, claimed.Status)
		assert.Empty(t, claimed.CurrentNodeID)
		assert.Nil(t, claimed.WakeAt)

		// second claim loses
		_, err = store.ClaimWaitingExecution("exec-1", "ap")
		assert.ErrorIs(t, err, storage.ErrConflict)

		_, err = store.ClaimWaitingExecution("ghost", "ap")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		claimed.Status = models.CompletedExecutionStatus
		completedAt := now.Add(3 * time.Hour)
		claimed.CompletedAt = &completedAt
		require.NoError(t, store.UpdateExecution(claimed))

		execs, err := store.ListExecutions("wf-1")
		require.NoError(t, err)
		require.Len(t, execs, 1)
		assert.Equal(t, models.CompletedExecutionStatus, execs[0].Status)
	})

	t.Run("DueDelays", func(t *testing.T) {
		truncate(t, tdb)
		saveDefinition(t, store, now)

		past := now.Add(-time.Hour)
		future := now.Add(time.Hour)
		for _, e := range []models.WorkflowExecution{
			{ID: "due", WorkflowID: "wf-1", EntityType: "task", EntityID: "A", Status: models.WaitingExecutionStatus, CurrentNodeID: "wait", Context: map[string]interface{}{}, WakeAt: &past, StartedAt: past},
			{ID: "later", WorkflowID: "wf-1", EntityType: "task", EntityID: "A", Status: models.WaitingExecutionStatus, CurrentNodeID: "wait", Context: map[string]interface{}{}, WakeAt: &future, StartedAt: past},
			{ID: "manual", WorkflowID: "wf-1", EntityType: "task", EntityID: "A", Status: models.WaitingExecutionStatus, CurrentNodeID: "ap", Context: map[string]interface{}{}, StartedAt: past},
		} {
			require.NoError(t, store.SaveExecution(e))
		}

		due, err := store.ListDueDelays(now)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "due", due[0].ID)
	})

	t.Run("TriggerRulesAndLogs", func(t *testing.T) {
		truncate(t, tdb)

		id, err := store.SaveTriggerRule(models.TriggerRule{
			Name:       "celebrate completion",
			EntityType: "task",
			Kind:       models.ProgressThresholdRule,
			Threshold:  100,
			Action:     models.ActionConfig{Kind: models.NotifyAction, Value: "all done"},
			Enabled:    true,
			CreatedAt:  now,
		})
		require.NoError(t, err)
		require.NotZero(t, id)

		rules, err := store.ListTriggerRules("task")
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, models.NotifyAction, rules[0].Action.Kind)
		assert.Equal(t, 100, rules[0].Threshold)

		require.NoError(t, store.AppendRuleLog(models.RuleLog{RuleID: id, EntityType: "task", EntityID: "A", Message: "notified: all done", LoggedAt: now}))
		logs, err := store.ListRuleLogs(id)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "A", logs[0].EntityID)
	})

	t.Run("TransactionRollback", func(t *testing.T) {
		truncate(t, tdb)

		scheduleID, err := store.SaveSchedule(models.Schedule{Name: "tx check", CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)

		tx, err := store.Begin()
		require.NoError(t, err)
		require.NoError(t, tx.SaveTask(models.Task{
			ID: "tmp", ScheduleID: scheduleID, Name: "tmp", Status: models.PendingTaskStatus,
			DependencyType: models.FinishToStart, CreatedAt: now, UpdatedAt: now,
		}))
		require.NoError(t, tx.Rollback())

		_, err = store.GetTask("tmp")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func saveDefinition(t *testing.T, store *internal_storage.PostgresStore, now time.Time) {
	t.Helper()
	require.NoError(t, store.SaveWorkflowDefinition(models.WorkflowDefinition{
		ID:      "wf-1",
		Name:    "approval",
		Enabled: true,
		Nodes: []models.WorkflowNode{
			{ID: "t", Type: models.TriggerNodeType, Config: models.NodeConfig{Trigger: &models.TriggerConfig{EntityType: "task"}}},
			{ID: "ap", Type: models.ApprovalNodeType},
		},
		Edges:     []models.WorkflowEdge{{Source: 0, Target: 1}},
		CreatedAt: now,
		UpdatedAt: now,
	}))
}
