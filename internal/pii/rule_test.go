package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateRuleComparisons(t *testing.T) {
	assert.True(t, evaluateRule(OpEq, "a", "a"))
	assert.False(t, evaluateRule(OpEq, "a", "b"))
	assert.True(t, evaluateRule(OpNe, "a", "b"))

	assert.True(t, evaluateRule(OpIn, "a", []any{"a", "b"}))
	assert.True(t, evaluateRule(OpIn, "a", []string{"a", "b"}))
	assert.False(t, evaluateRule(OpIn, "c", []string{"a", "b"}))
	assert.True(t, evaluateRule(OpNotIn, "c", []string{"a", "b"}))

	assert.True(t, evaluateRule(OpGt, 10, float64(5)))
	assert.True(t, evaluateRule(OpGte, float64(5), float64(5)))
	assert.True(t, evaluateRule(OpLt, 1, float64(5)))
	assert.True(t, evaluateRule(OpLte, float64(5), float64(5)))
}

func TestEvaluateRuleNumericComparisonFailsOnNonNumeric(t *testing.T) {
	assert.False(t, evaluateRule(OpGt, "not-a-number", float64(5)))
	assert.False(t, evaluateRule(OpGt, float64(5), "not-a-number"))
}

func TestEvaluateRuleUnknownOperator(t *testing.T) {
	assert.False(t, evaluateRule(Operator("bogus"), "a", "a"))
}
