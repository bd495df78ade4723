package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

type RuleSpec struct {
	Name       string
	Expression string
}

type compiledRule struct {
	name    string
	program cel.Program
}

// RuleSet holds rules compiled once at startup.
type RuleSet struct {
	rules []compiledRule
}

func NewRuleSet(eval *Evaluator, specs []RuleSpec) (*RuleSet, error) {
	rs := &RuleSet{rules: make([]compiledRule, 0, len(specs))}
	for _, spec := range specs {
		program, err := eval.CompileExpression(spec.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", spec.Name, err)
		}
		rs.rules = append(rs.rules, compiledRule{name: spec.Name, program: program})
	}
	return rs, nil
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Matching returns the names of the rules that evaluate to true, in
// declaration order. Evaluation stops at the first runtime error.
func (rs *RuleSet) Matching(ctx context.Context, facts Facts) ([]string, error) {
	if rs == nil {
		return nil, nil
	}
	var matched []string
	for _, r := range rs.rules {
		ok, err := run(ctx, r.program, facts)
		if err != nil {
			return matched, fmt.Errorf("rule %q: %w", r.name, err)
		}
		if ok {
			matched = append(matched, r.name)
		}
	}
	return matched, nil
}
