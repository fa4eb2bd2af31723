// Package workflow validates user-authored automation graphs and executes
// them as resumable state machines. The engine itself is storage-agnostic: it
// mutates a WorkflowExecution in memory and leaves persistence to the caller,
// so a whole synchronous stretch of nodes lands in one write.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/velkov/planflow/pkg/models"
)

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// ActionExecutor performs the side effect of an action node and returns the
// values to merge into the execution context.
type ActionExecutor interface {
	Execute(ctx context.Context, action models.ActionConfig, exec *models.WorkflowExecution) (map[string]interface{}, error)
}

// AgentInvoker delegates an agent node to an external automation collaborator.
type AgentInvoker interface {
	Invoke(ctx context.Context, cfg models.AgentConfig, exec *models.WorkflowExecution) (map[string]interface{}, error)
}

// stepOutcome is what a node handler reports back to the advance loop.
type stepOutcome struct {
	suspend bool
	wakeAt  *time.Time
	results map[string]interface{}
	detail  string
}

// nodeHandler runs one node. One implementation exists per node type, so a
// new type cannot be added without deciding its execution semantics.
type nodeHandler interface {
	run(ctx context.Context, node models.WorkflowNode, exec *models.WorkflowExecution) (stepOutcome, error)
}

// Engine walks a workflow definition for one execution at a time.
type Engine struct {
	logger   Logger
	now      func() time.Time
	handlers map[models.NodeType]nodeHandler
}

func NewEngine(actions ActionExecutor, agents AgentInvoker, logger Logger) *Engine {
	e := &Engine{logger: logger, now: time.Now}
	e.handlers = map[models.NodeType]nodeHandler{
		models.TriggerNodeType:   triggerHandler{},
		models.ConditionNodeType: conditionHandler{},
		models.ActionNodeType:    actionHandler{actions: actions},
		models.ApprovalNodeType:  approvalHandler{},
		models.DelayNodeType:     delayHandler{engine: e},
		models.AgentNodeType:     agentHandler{agents: agents},
	}
	return e
}

// SetClock replaces the engine's time source; tests use it to pin delay
// wake-at computations.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Start runs a fresh execution from the definition's trigger node until it
// terminates or suspends. The execution is mutated in place; Start never
// returns an error for a node failure, which is recorded on the execution
// itself.
func (e *Engine) Start(ctx context.Context, def models.WorkflowDefinition, exec *models.WorkflowExecution) error {
	idx := -1
	for i, n := range def.Nodes {
		if n.Type == models.TriggerNodeType {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &models.NotFoundError{Kind: "trigger node in workflow", ID: def.ID}
	}
	if exec.Context == nil {
		exec.Context = make(map[string]interface{})
	}
	exec.Status = models.RunningExecutionStatus
	e.advance(ctx, def, exec, idx)
	return nil
}

// Resume continues a claimed execution past the suspension node nodeID. The
// caller must have already won the waiting->running compare-and-set on the
// store; Resume only checks the node still exists in the definition. The
// supplied result is merged into the context before the node's outgoing edge
// is taken.
func (e *Engine) Resume(ctx context.Context, def models.WorkflowDefinition, exec *models.WorkflowExecution, nodeID string, result map[string]interface{}) error {
	idx := -1
	for i, n := range def.Nodes {
		if n.ID == nodeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &models.NotFoundError{Kind: "node", ID: nodeID}
	}
	if exec.Context == nil {
		exec.Context = make(map[string]interface{})
	}
	for k, v := range result {
		exec.Context[k] = v
	}
	exec.Status = models.RunningExecutionStatus
	exec.CurrentNodeID = ""
	exec.WakeAt = nil
	e.record(exec, def.Nodes[idx].ID, "resumed", "")

	next, ok := e.selectEdge(def, idx, exec.Context)
	if !ok {
		e.complete(exec)
		return nil
	}
	e.advance(ctx, def, exec, next)
	return nil
}

// advance is the synchronous execution loop. It stops on the first suspend,
// terminal state, or node failure. The step cap is a backstop: validation
// already rejects synchronous cycles, but a malformed stored definition must
// not spin a worker forever.
func (e *Engine) advance(ctx context.Context, def models.WorkflowDefinition, exec *models.WorkflowExecution, idx int) {
	maxSteps := 4*len(def.Nodes) + 16
	for steps := 0; ; steps++ {
		if steps > maxSteps {
			e.fail(exec, def.Nodes[idx].ID, errors.Errorf("step limit %d exceeded", maxSteps))
			return
		}
		node := def.Nodes[idx]
		handler, ok := e.handlers[node.Type]
		if !ok {
			e.fail(exec, node.ID, errors.Errorf("no handler for node type %q", node.Type))
			return
		}

		out, err := handler.run(ctx, node, exec)
		if err != nil {
			e.fail(exec, node.ID, err)
			return
		}
		for k, v := range out.results {
			exec.Context[k] = v
		}

		if out.suspend {
			exec.Status = models.WaitingExecutionStatus
			exec.CurrentNodeID = node.ID
			exec.WakeAt = out.wakeAt
			e.record(exec, node.ID, "suspended", out.detail)
			e.logger.Infof("Execution %s waiting at node %s", exec.ID, node.ID)
			return
		}
		e.record(exec, node.ID, "executed", out.detail)

		next, ok := e.selectEdge(def, idx, exec.Context)
		if !ok {
			e.complete(exec)
			return
		}
		idx = next
	}
}

// selectEdge picks the outgoing edge to follow from a node: candidates in
// ascending sort order, first whose condition holds (unconditional edges
// always hold). No candidate means the path ends here.
func (e *Engine) selectEdge(def models.WorkflowDefinition, idx int, ctx map[string]interface{}) (int, bool) {
	var out []models.WorkflowEdge
	for _, edge := range def.Edges {
		if edge.Source == idx {
			out = append(out, edge)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SortOrder < out[b].SortOrder })
	for _, edge := range out {
		if Eval(edge.Condition, ctx) {
			return edge.Target, true
		}
	}
	return 0, false
}

func (e *Engine) complete(exec *models.WorkflowExecution) {
	exec.Status = models.CompletedExecutionStatus
	exec.CurrentNodeID = ""
	exec.WakeAt = nil
	now := e.now()
	exec.CompletedAt = &now
	e.record(exec, "", "completed", "")
	e.logger.Infof("Execution %s completed", exec.ID)
}

func (e *Engine) fail(exec *models.WorkflowExecution, nodeID string, err error) {
	exec.Status = models.FailedExecutionStatus
	exec.CurrentNodeID = ""
	exec.WakeAt = nil
	now := e.now()
	exec.CompletedAt = &now
	e.record(exec, nodeID, "failed", err.Error())
	e.logger.Errorf("Execution %s failed at node %s: %v", exec.ID, nodeID, err)
}

func (e *Engine) record(exec *models.WorkflowExecution, nodeID, outcome, detail string) {
	exec.History = append(exec.History, models.HistoryEntry{
		NodeID:  nodeID,
		Outcome: outcome,
		Detail:  detail,
		At:      e.now(),
	})
}

type triggerHandler struct{}

func (triggerHandler) run(_ context.Context, _ models.WorkflowNode, _ *models.WorkflowExecution) (stepOutcome, error) {
	return stepOutcome{}, nil
}

// conditionHandler is a no-op: the branching itself happens in selectEdge,
// which evaluates the conditions on the node's outgoing edges.
type conditionHandler struct{}

func (conditionHandler) run(_ context.Context, _ models.WorkflowNode, _ *models.WorkflowExecution) (stepOutcome, error) {
	return stepOutcome{}, nil
}

type actionHandler struct {
	actions ActionExecutor
}

func (h actionHandler) run(ctx context.Context, node models.WorkflowNode, exec *models.WorkflowExecution) (stepOutcome, error) {
	if node.Config.Action == nil {
		return stepOutcome{}, errors.New("action node without action config")
	}
	results, err := h.actions.Execute(ctx, *node.Config.Action, exec)
	if err != nil {
		return stepOutcome{}, &models.ExecutionError{NodeID: node.ID, Err: err}
	}
	return stepOutcome{results: results, detail: string(node.Config.Action.Kind)}, nil
}

type approvalHandler struct{}

func (approvalHandler) run(_ context.Context, node models.WorkflowNode, _ *models.WorkflowExecution) (stepOutcome, error) {
	detail := ""
	if node.Config.Approval != nil {
		detail = node.Config.Approval.Message
	}
	return stepOutcome{suspend: true, detail: detail}, nil
}

// delayHandler suspends with a persisted wake-at time. The engine never holds
// a timer: an external scheduler finds due executions through the store and
// resumes them, so the suspension survives process restarts.
type delayHandler struct {
	engine *Engine
}

func (h delayHandler) run(_ context.Context, node models.WorkflowNode, _ *models.WorkflowExecution) (stepOutcome, error) {
	if node.Config.Delay == nil {
		return stepOutcome{}, errors.New("delay node without delay config")
	}
	wake := h.engine.now().Add(time.Duration(node.Config.Delay.Hours * float64(time.Hour)))
	return stepOutcome{
		suspend: true,
		wakeAt:  &wake,
		detail:  fmt.Sprintf("until %s", wake.Format(time.RFC3339)),
	}, nil
}

type agentHandler struct {
	agents AgentInvoker
}

func (h agentHandler) run(ctx context.Context, node models.WorkflowNode, exec *models.WorkflowExecution) (stepOutcome, error) {
	if node.Config.Agent == nil {
		return stepOutcome{}, errors.New("agent node without agent config")
	}
	results, err := h.agents.Invoke(ctx, *node.Config.Agent, exec)
	if err != nil {
		return stepOutcome{}, &models.ExecutionError{NodeID: node.ID, Err: err}
	}
	return stepOutcome{results: results, detail: node.Config.Agent.Capability}, nil
}
