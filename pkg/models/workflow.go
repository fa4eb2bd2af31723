package models

import "time"

type NodeType string

const (
	TriggerNodeType   NodeType = "trigger"
	ConditionNodeType NodeType = "condition"
	ActionNodeType    NodeType = "action"
	ApprovalNodeType  NodeType = "approval"
	DelayNodeType     NodeType = "delay"
	AgentNodeType     NodeType = "agent"
)

// WorkflowDefinition is a user-authored automation graph. Nodes are addressed
// by index from edges; node ids are stable handles used by executions.
type WorkflowDefinition struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	ProjectID *int64         `json:"project_id,omitempty" db:"project_id"`
	Nodes     []WorkflowNode `json:"nodes"`
	Edges     []WorkflowEdge `json:"edges"`
	Enabled   bool           `json:"enabled" db:"enabled"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

type WorkflowNode struct {
	ID       string     `json:"id"`
	Type     NodeType   `json:"node_type"`
	Name     string     `json:"name"`
	Config   NodeConfig `json:"config"`
	Position Position   `json:"position"` // layout only, never executed
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeConfig is a tagged union discriminated by the owning node's Type:
// exactly the variant matching the type must be set. Validation enforces
// this, so handlers never guess which fields apply.
type NodeConfig struct {
	Trigger   *TriggerConfig   `json:"trigger,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
	Approval  *ApprovalConfig  `json:"approval,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
	Agent     *AgentConfig     `json:"agent,omitempty"`
}

// TriggerConfig binds a workflow to mutations of one entity type.
type TriggerConfig struct {
	EntityType string `json:"entity_type"`
	Event      string `json:"event,omitempty"` // empty matches any event
}

// ConditionConfig exists for symmetry in the union; branching conditions live
// on the outgoing edges, not on the node.
type ConditionConfig struct {
	Description string `json:"description,omitempty"`
}

type ActionKind string

const (
	SetFieldAction ActionKind = "set_field"
	LogAction      ActionKind = "log"
	NotifyAction   ActionKind = "notify"
)

type ActionConfig struct {
	Kind  ActionKind `json:"kind"`
	Field string     `json:"field,omitempty"`
	Value string     `json:"value,omitempty"`
}

type ApprovalConfig struct {
	Approver string `json:"approver,omitempty"`
	Message  string `json:"message,omitempty"`
}

type DelayConfig struct {
	Hours float64 `json:"hours"`
}

type AgentConfig struct {
	Capability string `json:"capability"`
	Prompt     string `json:"prompt,omitempty"`
}

// WorkflowEdge connects two nodes by index. When a node has several outgoing
// edges the candidates are tried in ascending SortOrder; an edge with a nil
// Condition is unconditional.
type WorkflowEdge struct {
	Source    int        `json:"source"`
	Target    int        `json:"target"`
	Condition *Condition `json:"condition,omitempty"`
	Label     string     `json:"label,omitempty"`
	SortOrder int        `json:"sort_order"`
}
