package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velkov/planflow/pkg/engine"
	"github.com/velkov/planflow/pkg/models"
)

func delayWorkflow(hours float64) models.WorkflowDefinition {
	return models.WorkflowDefinition{
		Name:    "nudge after delay",
		Enabled: true,
		Nodes: []models.WorkflowNode{
			{ID: "t", Type: models.TriggerNodeType, Config: models.NodeConfig{Trigger: &models.TriggerConfig{EntityType: "task"}}},
			{ID: "wait", Type: models.DelayNodeType, Config: models.NodeConfig{Delay: &models.DelayConfig{Hours: hours}}},
			{ID: "a", Type: models.ActionNodeType, Config: models.NodeConfig{Action: &models.ActionConfig{Kind: models.LogAction, Value: "delay elapsed"}}},
		},
		Edges: []models.WorkflowEdge{
			{Source: 0, Target: 1},
			{Source: 1, Target: 2},
		},
	}
}

func TestDelaySweeper_ResumesDueExecutions(t *testing.T) {
	clock := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)
	svc, _ := newService(t, engine.WithClock(func() time.Time { return clock }))
	_, _ = seedChain(t, svc)

	def, err := svc.CreateWorkflowDefinition(delayWorkflow(24))
	require.NoError(t, err)

	exec, err := svc.TriggerWorkflow(context.Background(), def.ID, "task", "A")
	require.NoError(t, err)
	require.Equal(t, models.WaitingExecutionStatus, exec.Status)
	require.NotNil(t, exec.WakeAt)
	assert.Equal(t, clock.Add(24*time.Hour), *exec.WakeAt)

	// advance past the wake-at time and sweep quickly
	clock = clock.Add(25 * time.Hour)

	sweeper := engine.NewDelaySweeper(svc, nopLogger{}, 5*time.Millisecond, 2)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		stored, err := svc.GetExecution(exec.ID)
		return err == nil && stored.Status == models.CompletedExecutionStatus
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := svc.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, true, stored.Context["delay_elapsed"])
}

func TestDelaySweeper_LeavesFutureDelaysAlone(t *testing.T) {
	clock := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)
	svc, _ := newService(t, engine.WithClock(func() time.Time { return clock }))
	_, _ = seedChain(t, svc)

	def, err := svc.CreateWorkflowDefinition(delayWorkflow(24))
	require.NoError(t, err)

	exec, err := svc.TriggerWorkflow(context.Background(), def.ID, "task", "A")
	require.NoError(t, err)

	sweeper := engine.NewDelaySweeper(svc, nopLogger{}, 5*time.Millisecond, 2)
	sweeper.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	sweeper.Stop()

	stored, err := svc.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitingExecutionStatus, stored.Status)
}
