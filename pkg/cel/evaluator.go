package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Facts is the variable set a consumption alert rule is evaluated against.
type Facts struct {
	Centre      string
	Project     string
	Machine     string
	NodeType    string
	Login       string
	SubProject  string
	Provisional bool
	Allocated   float64
	Consumed    float64
	DayHours    float64
}

func (f Facts) vars() map[string]interface{} {
	ratio := 0.0
	if f.Allocated > 0 {
		ratio = f.Consumed / f.Allocated
	}
	return map[string]interface{}{
		"centre":      f.Centre,
		"project":     f.Project,
		"machine":     f.Machine,
		"node_type":   f.NodeType,
		"login":       f.Login,
		"sub_project": f.SubProject,
		"provisional": f.Provisional,
		"allocated":   f.Allocated,
		"consumed":    f.Consumed,
		"day_hours":   f.DayHours,
		"ratio":       ratio,
	}
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("centre", cel.StringType),
		cel.Variable("project", cel.StringType),
		cel.Variable("machine", cel.StringType),
		cel.Variable("node_type", cel.StringType),
		cel.Variable("login", cel.StringType),
		cel.Variable("sub_project", cel.StringType),
		cel.Variable("provisional", cel.BoolType),
		cel.Variable("allocated", cel.DoubleType),
		cel.Variable("consumed", cel.DoubleType),
		cel.Variable("day_hours", cel.DoubleType),
		cel.Variable("ratio", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateRuleExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

// Evaluate compiles and runs a single expression. Use a RuleSet for
// expressions evaluated repeatedly.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, facts Facts) (bool, error) {
	program, err := e.CompileExpression(expression)
	if err != nil {
		return false, err
	}
	return run(ctx, program, facts)
}

func run(ctx context.Context, program cel.Program, facts Facts) (bool, error) {
	result, _, err := program.ContextEval(ctx, facts.vars())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return boolVal, nil
}
