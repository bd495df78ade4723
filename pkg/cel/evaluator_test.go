package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateRuleExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{"ratio threshold", `ratio >= 0.9`, false},
		{"string match", `centre == "tgcc"`, false},
		{"non-bool expression", `consumed * 2.0`, true},
		{"undefined variable", `budget > 1.0`, true},
		{"syntax error", `ratio >=`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateRuleExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRuleExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range RuleExpressionExamples {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, eval.ValidateRuleExpression(expr))
		})
	}
}

func TestEvaluate(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	ctx := context.Background()
	facts := Facts{
		Centre:    "idris",
		Project:   "gencmip6",
		NodeType:  "GPU",
		Login:     "p86denv",
		Allocated: 1000,
		Consumed:  950,
		DayHours:  120,
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"ratio above", `ratio >= 0.9`, true},
		{"ratio below", `ratio >= 0.99`, false},
		{"overuse", `consumed > allocated`, false},
		{"centre specific", `centre == "idris" && ratio >= 0.8`, true},
		{"node type case", `node_type.lowerAscii() == "gpu"`, true},
		{"provisional", `provisional`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Evaluate(ctx, tt.expr, facts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_ZeroAllocation(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	got, err := eval.Evaluate(context.Background(), `ratio == 0.0`, Facts{Consumed: 10})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRuleSet(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	rs, err := NewRuleSet(eval, []RuleSpec{
		{Name: "overuse", Expression: `consumed > allocated`},
		{Name: "ninety", Expression: `ratio >= 0.9`},
		{Name: "heavy-day", Expression: `day_hours > 1000.0`},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rs.Len())

	matched, err := rs.Matching(context.Background(), Facts{Allocated: 100, Consumed: 120, DayHours: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"overuse", "ninety"}, matched)
}

func TestRuleSet_InvalidRule(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	_, err = NewRuleSet(eval, []RuleSpec{{Name: "broken", Expression: `consumed`}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestRuleSet_Nil(t *testing.T) {
	var rs *RuleSet
	matched, err := rs.Matching(context.Background(), Facts{})
	assert.NoError(t, err)
	assert.Empty(t, matched)
	assert.Zero(t, rs.Len())
}
