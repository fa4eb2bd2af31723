package models

// Operator is the comparison applied between a context field and a literal.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
)

// Condition is a small boolean expression tree evaluated against an
// execution context. A leaf compares one field against a literal; All and Any
// combine sub-conditions. Exactly one of the three forms should be populated.
type Condition struct {
	Field string      `json:"field,omitempty"`
	Op    Operator    `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`

	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
}

// IsLeaf reports whether the condition is a plain field comparison.
func (c Condition) IsLeaf() bool {
	return len(c.All) == 0 && len(c.Any) == 0
}
