package workflow

import (
	"fmt"

	"github.com/velkov/planflow/pkg/models"
)

// Validate checks a workflow definition before it is stored: at least one
// trigger node, edge endpoints in range, exactly the config variant matching
// each node's type, and no cycle that could execute synchronously forever. A
// cycle is tolerated only if every iteration crosses an approval or delay
// node, because a suspension hands control back to the caller. Returns a
// *models.ValidationError listing every offender, or nil.
func Validate(def models.WorkflowDefinition) error {
	var issues []string

	triggers := 0
	for i, n := range def.Nodes {
		if n.ID == "" {
			issues = append(issues, fmt.Sprintf("node %d: missing id", i))
		}
		if n.Type == models.TriggerNodeType {
			triggers++
		}
		issues = append(issues, checkConfig(i, n)...)
	}
	if triggers == 0 {
		issues = append(issues, "definition has no trigger node")
	}

	for i, e := range def.Edges {
		if e.Source < 0 || e.Source >= len(def.Nodes) {
			issues = append(issues, fmt.Sprintf("edge %d: source index %d out of range", i, e.Source))
		}
		if e.Target < 0 || e.Target >= len(def.Nodes) {
			issues = append(issues, fmt.Sprintf("edge %d: target index %d out of range", i, e.Target))
		}
	}

	// Only run the cycle check on a structurally sound graph.
	if len(issues) == 0 {
		if id, cyclic := findSynchronousCycle(def); cyclic {
			issues = append(issues, fmt.Sprintf("node %q participates in a cycle with no approval or delay node", id))
		}
	}

	if len(issues) > 0 {
		return &models.ValidationError{Issues: issues}
	}
	return nil
}

func checkConfig(i int, n models.WorkflowNode) []string {
	var issues []string
	set := 0
	cfg := n.Config
	for _, p := range []bool{
		cfg.Trigger != nil, cfg.Condition != nil, cfg.Action != nil,
		cfg.Approval != nil, cfg.Delay != nil, cfg.Agent != nil,
	} {
		if p {
			set++
		}
	}
	if set > 1 {
		issues = append(issues, fmt.Sprintf("node %d (%s): more than one config variant set", i, n.ID))
	}

	switch n.Type {
	case models.TriggerNodeType:
		if cfg.Trigger == nil || cfg.Trigger.EntityType == "" {
			issues = append(issues, fmt.Sprintf("node %d (%s): trigger node needs a trigger config with an entity type", i, n.ID))
		}
	case models.ConditionNodeType:
		// conditions live on outgoing edges; the node config is optional
	case models.ActionNodeType:
		if cfg.Action == nil {
			issues = append(issues, fmt.Sprintf("node %d (%s): action node without action config", i, n.ID))
		} else if cfg.Action.Kind == models.SetFieldAction && cfg.Action.Field == "" {
			issues = append(issues, fmt.Sprintf("node %d (%s): set_field action without a field", i, n.ID))
		}
	case models.ApprovalNodeType:
		// approval config is optional, the node id alone is the resume token
	case models.DelayNodeType:
		if cfg.Delay == nil || cfg.Delay.Hours <= 0 {
			issues = append(issues, fmt.Sprintf("node %d (%s): delay node needs a positive duration", i, n.ID))
		}
	case models.AgentNodeType:
		if cfg.Agent == nil || cfg.Agent.Capability == "" {
			issues = append(issues, fmt.Sprintf("node %d (%s): agent node needs a capability reference", i, n.ID))
		}
	default:
		issues = append(issues, fmt.Sprintf("node %d (%s): unknown node type %q", i, n.ID, n.Type))
	}
	return issues
}

func suspends(t models.NodeType) bool {
	return t == models.ApprovalNodeType || t == models.DelayNodeType
}

// findSynchronousCycle looks for a cycle in the subgraph of nodes that never
// suspend. Any loop confined to that subgraph would spin without yielding.
func findSynchronousCycle(def models.WorkflowDefinition) (string, bool) {
	adj := make(map[int][]int)
	for _, e := range def.Edges {
		if suspends(def.Nodes[e.Source].Type) || suspends(def.Nodes[e.Target].Type) {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make([]int, len(def.Nodes))

	var visit func(int) int
	visit = func(n int) int {
		state[n] = inStack
		for _, next := range adj[n] {
			switch state[next] {
			case inStack:
				return next
			case unvisited:
				if found := visit(next); found >= 0 {
					return found
				}
			}
		}
		state[n] = done
		return -1
	}

	for i := range def.Nodes {
		if state[i] == unvisited && !suspends(def.Nodes[i].Type) {
			if found := visit(i); found >= 0 {
				return def.Nodes[found].ID, true
			}
		}
	}
	return "", false
}
