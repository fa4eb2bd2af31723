package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/velkov/planflow/pkg/models"
	"github.com/velkov/planflow/pkg/workflow"
)

func TestEval_Leaf(t *testing.T) {
	ctx := map[string]interface{}{
		"progress_percentage": float64(80),
		"status":              "in_progress",
		"name":                "Pour foundation",
	}

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"numeric gte true", models.Condition{Field: "progress_percentage", Op: models.OpGte, Value: 50}, true},
		{"numeric gte boundary", models.Condition{Field: "progress_percentage", Op: models.OpGte, Value: float64(80)}, true},
		{"numeric gt false", models.Condition{Field: "progress_percentage", Op: models.OpGt, Value: 80}, false},
		{"numeric lt", models.Condition{Field: "progress_percentage", Op: models.OpLt, Value: 100}, true},
		{"numeric eq with int literal", models.Condition{Field: "progress_percentage", Op: models.OpEq, Value: 80}, true},
		{"string eq", models.Condition{Field: "status", Op: models.OpEq, Value: "in_progress"}, true},
		{"string neq", models.Condition{Field: "status", Op: models.OpNeq, Value: "completed"}, true},
		{"string contains", models.Condition{Field: "name", Op: models.OpContains, Value: "foundation"}, true},
		{"string contains miss", models.Condition{Field: "name", Op: models.OpContains, Value: "roof"}, false},
		{"missing field is false", models.Condition{Field: "priority", Op: models.OpEq, Value: "high"}, false},
		{"ordering op on strings is false", models.Condition{Field: "status", Op: models.OpGt, Value: "a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, workflow.Eval(&tt.cond, ctx))
		})
	}
}

func TestEval_Composite(t *testing.T) {
	ctx := map[string]interface{}{
		"progress_percentage": float64(100),
		"status":              "in_progress",
	}

	all := models.Condition{All: []models.Condition{
		{Field: "progress_percentage", Op: models.OpGte, Value: 100},
		{Field: "status", Op: models.OpNeq, Value: "cancelled"},
	}}
	assert.True(t, workflow.Eval(&all, ctx))

	any := models.Condition{Any: []models.Condition{
		{Field: "status", Op: models.OpEq, Value: "completed"},
		{Field: "progress_percentage", Op: models.OpEq, Value: 100},
	}}
	assert.True(t, workflow.Eval(&any, ctx))

	neither := models.Condition{Any: []models.Condition{
		{Field: "status", Op: models.OpEq, Value: "completed"},
		{Field: "status", Op: models.OpEq, Value: "cancelled"},
	}}
	assert.False(t, workflow.Eval(&neither, ctx))
}

func TestEval_NilIsTrue(t *testing.T) {
	assert.True(t, workflow.Eval(nil, nil))
	assert.True(t, workflow.Eval(nil, map[string]interface{}{}))
}
