package workflow

import (
	"fmt"
	"strings"

	"github.com/velkov/planflow/pkg/models"
)

// Eval interprets a condition tree against an execution context. Evaluation
// is total and side-effect-free: missing fields and type mismatches evaluate
// to false, never to an error. A nil condition is unconditionally true.
func Eval(c *models.Condition, ctx map[string]interface{}) bool {
	if c == nil {
		return true
	}
	if len(c.All) > 0 {
		for i := range c.All {
			if !Eval(&c.All[i], ctx) {
				return false
			}
		}
		return true
	}
	if len(c.Any) > 0 {
		for i := range c.Any {
			if Eval(&c.Any[i], ctx) {
				return true
			}
		}
		return false
	}
	return evalLeaf(c, ctx)
}

func evalLeaf(c *models.Condition, ctx map[string]interface{}) bool {
	actual, ok := ctx[c.Field]
	if !ok {
		return false
	}

	if af, aok := toFloat(actual); aok {
		if ef, eok := toFloat(c.Value); eok {
			return compareFloats(c.Op, af, ef)
		}
	}

	as := toString(actual)
	es := toString(c.Value)
	switch c.Op {
	case models.OpEq:
		return as == es
	case models.OpNeq:
		return as != es
	case models.OpContains:
		return strings.Contains(as, es)
	default:
		return false
	}
}

func compareFloats(op models.Operator, a, b float64) bool {
	switch op {
	case models.OpEq:
		return a == b
	case models.OpNeq:
		return a != b
	case models.OpGt:
		return a > b
	case models.OpGte:
		return a >= b
	case models.OpLt:
		return a < b
	case models.OpLte:
		return a <= b
	default:
		return false
	}
}

// toFloat coerces the numeric shapes JSON decoding and Go literals produce.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
