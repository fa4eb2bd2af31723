package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velkov/planflow/pkg/models"
	"github.com/velkov/planflow/pkg/workflow"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

type fakeActions struct {
	calls []models.ActionConfig
	err   error
}

func (f *fakeActions) Execute(_ context.Context, action models.ActionConfig, _ *models.WorkflowExecution) (map[string]interface{}, error) {
	f.calls = append(f.calls, action)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"action_ran": true}, nil
}

type fakeAgents struct {
	results map[string]interface{}
	err     error
}

func (f *fakeAgents) Invoke(_ context.Context, _ models.AgentConfig, _ *models.WorkflowExecution) (map[string]interface{}, error) {
	return f.results, f.err
}

func newExecution(workflowID string) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: workflowID,
		EntityType: "task",
		EntityID:   "task-1",
		Status:     models.RunningExecutionStatus,
		Context:    map[string]interface{}{},
		StartedAt:  time.Now(),
	}
}

func countOutcome(history []models.HistoryEntry, nodeID, outcome string) int {
	n := 0
	for _, h := range history {
		if h.NodeID == nodeID && h.Outcome == outcome {
			n++
		}
	}
	return n
}

func TestEngine_SynchronousRun(t *testing.T) {
	actions := &fakeActions{}
	engine := workflow.NewEngine(actions, &fakeAgents{}, nopLogger{})

	def := models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []models.WorkflowNode{triggerNode("t"), conditionNode("c"), actionNode("a")},
		Edges: []models.WorkflowEdge{
			{Source: 0, Target: 1},
			{Source: 1, Target: 2, Condition: &models.Condition{Field: "progress_percentage", Op: models.OpGte, Value: 100}},
		},
	}

	exec := newExecution("wf-1")
	exec.Context["progress_percentage"] = float64(100)

	require.NoError(t, engine.Start(context.Background(), def, exec))

	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Empty(t, exec.CurrentNodeID)
	require.NotNil(t, exec.CompletedAt)
	require.Len(t, actions.calls, 1)
	assert.Equal(t, 1, countOutcome(exec.History, "a", "executed"))
	assert.Equal(t, true, exec.Context["action_ran"])
}

func TestEngine_ConditionStopsPath(t *testing.T) {
	actions := &fakeActions{}
	engine := workflow.NewEngine(actions, &fakeAgents{}, nopLogger{})

	def := models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []models.WorkflowNode{triggerNode("t"), conditionNode("c"), actionNode("a")},
		Edges: []models.WorkflowEdge{
			{Source: 0, Target: 1},
			{Source: 1, Target: 2, Condition: &models.Condition{Field: "progress_percentage", Op: models.OpGte, Value: 100}},
		},
	}

	exec := newExecution("wf-1")
	exec.Context["progress_percentage"] = float64(40)

	require.NoError(t, engine.Start(context.Background(), def, exec))

	// no edge matched past the condition node, so the path ends there
	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Empty(t, actions.calls)
}

func TestEngine_EdgeSortOrder(t *testing.T) {
	actions := &fakeActions{}
	engine := workflow.NewEngine(actions, &fakeAgents{}, nopLogger{})

	high := actionNode("high")
	high.Config.Action.Value = "high"
	low := actionNode("low")
	low.Config.Action.Value = "low"

	def := models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []models.WorkflowNode{triggerNode("t"), conditionNode("c"), high, low},
		Edges: []models.WorkflowEdge{
			{Source: 0, Target: 1},
			// both edges match; the lower sort order must win
			{Source: 1, Target: 3, SortOrder: 2},
			{Source: 1, Target: 2, SortOrder: 1},
		},
	}

	exec := newExecution("wf-1")
	require.NoError(t, engine.Start(context.Background(), def, exec))

	require.Len(t, actions.calls, 1)
	assert.Equal(t, "high", actions.calls[0].Value)
}

func TestEngine_ApprovalSuspendAndResume(t *testing.T) {
	actions := &fakeActions{}
	engine := workflow.NewEngine(actions, &fakeAgents{}, nopLogger{})

	approval := models.WorkflowNode{
		ID:     "ap",
		Type:   models.ApprovalNodeType,
		Config: models.NodeConfig{Approval: &models.ApprovalConfig{Message: "sign off on handover"}},
	}
	def := models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []models.WorkflowNode{triggerNode("t"), approval, actionNode("a")},
		Edges: []models.WorkflowEdge{
			{Source: 0, Target: 1},
			{Source: 1, Target: 2, Condition: &models.Condition{Field: "approved", Op: models.OpEq, Value: "true"}},
		},
	}

	exec := newExecution("wf-1")
	require.NoError(t, engine.Start(context.Background(), def, exec))

	assert.Equal(t, models.WaitingExecutionStatus, exec.Status)
	assert.Equal(t, "ap", exec.CurrentNodeID)
	assert.Equal(t, 1, countOutcome(exec.History, "ap", "suspended"))
	assert.Empty(t, actions.calls)

	require.NoError(t, engine.Resume(context.Background(), def, exec, "ap", map[string]interface{}{"approved": "true"}))

	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Empty(t, exec.CurrentNodeID)
	require.Len(t, actions.calls, 1)
	assert.Equal(t, "true", exec.Context["approved"])
}

func TestEngine_ResumeRejectedBranch(t *testing.T) {
	actions := &fakeActions{}
	engine := workflow.NewEngine(actions, &fakeAgents{}, nopLogger{})

	approval := models.WorkflowNode{ID: "ap", Type: models.ApprovalNodeType}
	def := models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []models.WorkflowNode{triggerNode("t"), approval, actionNode("a")},
		Edges: []models.WorkflowEdge{
			{Source: 0, Target: 1},
			{Source: 1, Target: 2, Condition: &models.Condition{Field: "approved", Op: models.OpEq, Value: "true"}},
		},
	}

	exec := newExecution("wf-1")
	require.NoError(t, engine.Start(context.Background(), def, exec))
	require.NoError(t, engine.Resume(context.Background(), def, exec, "ap", map[string]interface{}{"approved": "false"}))

	// rejection matches no outgoing edge, so the execution completes quietly
	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Empty(t, actions.calls)
}

func TestEngine_ResumeUnknownNode(t *testing.T) {
	engine := workflow.NewEngine(&fakeActions{}, &fakeAgents{}, nopLogger{})
	def := models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []models.WorkflowNode{triggerNode("t")},
	}

	exec := newExecution("wf-1")
	err := engine.Resume(context.Background(), def, exec, "ghost", nil)
	require.Error(t, err)

	var nf *models.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestEngine_DelaySuspendsWithWakeAt(t *testing.T) {
	engine := workflow.NewEngine(&fakeActions{}, &fakeAgents{}, nopLogger{})
	frozen := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return frozen })

	delay := models.WorkflowNode{
		ID:     "wait",
		Type:   models.DelayNodeType,
		Config: models.NodeConfig{Delay: &models.DelayConfig{Hours: 48}},
	}
	def := models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []models.WorkflowNode{triggerNode("t"), delay, actionNode("a")},
		Edges: []models.WorkflowEdge{
			{Source: 0, Target: 1},
			{Source: 1, Target: 2},
		},
	}

	exec := newExecution("wf-1")
	require.NoError(t, engine.Start(context.Background(), def, exec))

	assert.Equal(t, models.WaitingExecutionStatus, exec.Status)
	assert.Equal(t, "wait", exec.CurrentNodeID)
	require.NotNil(t, exec.WakeAt)
	assert.Equal(t, frozen.Add(48*time.Hour), *exec.WakeAt)
}

func TestEngine_ActionFailureFailsExecution(t *testing.T) {
	actions := &fakeActions{err: errors.New("postgres is down")}
	engine := workflow.NewEngine(actions, &fakeAgents{}, nopLogger{})

	def := models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []models.WorkflowNode{triggerNode("t"), actionNode("a")},
		Edges: []models.WorkflowEdge{{Source: 0, Target: 1}},
	}

	exec := newExecution("wf-1")
	require.NoError(t, engine.Start(context.Background(), def, exec))

	assert.Equal(t, models.FailedExecutionStatus, exec.Status)
	require.NotNil(t, exec.CompletedAt)
	assert.Equal(t, 1, countOutcome(exec.History, "a", "failed"))
}

func TestEngine_AgentResultsMergedIntoContext(t *testing.T) {
	agents := &fakeAgents{results: map[string]interface{}{"summary": "3 tasks at risk"}}
	engine := workflow.NewEngine(&fakeActions{}, agents, nopLogger{})

	agent := models.WorkflowNode{
		ID:     "g",
		Type:   models.AgentNodeType,
		Config: models.NodeConfig{Agent: &models.AgentConfig{Capability: "schedule-review"}},
	}
	def := models.WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []models.WorkflowNode{triggerNode("t"), agent},
		Edges: []models.WorkflowEdge{{Source: 0, Target: 1}},
	}

	exec := newExecution("wf-1")
	require.NoError(t, engine.Start(context.Background(), def, exec))

	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Equal(t, "3 tasks at risk", exec.Context["summary"])
}
