package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Variables is the activation handed to condition expressions.
type Variables struct {
	ShipmentID   string
	AgreementID  string
	Attributes   map[string]string
	Measurements map[string]float64
	Weight       float64
	HasWeight    bool
}

type Evaluator struct {
	env      *cel.Env
	programs sync.Map // expression -> cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("shipment_id", cel.StringType),
		cel.Variable("agreement_id", cel.StringType),
		cel.Variable("shipment", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("measurements", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("weight", cel.DoubleType),
		cel.Variable("has_weight", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateCondition(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) EvaluateCondition(ctx context.Context, expression string, vars Variables) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	attrs := vars.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	measurements := vars.Measurements
	if measurements == nil {
		measurements = map[string]float64{}
	}

	activation := map[string]interface{}{
		"shipment_id":  vars.ShipmentID,
		"agreement_id": vars.AgreementID,
		"shipment":     attrs,
		"measurements": measurements,
		"weight":       vars.Weight,
		"has_weight":   vars.HasWeight,
	}

	result, _, err := program.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// compile memoizes programs per expression; rate cards repeat the same
// condition text across thousands of lines.
func (e *Evaluator) compile(expression string) (cel.Program, error) {
	if p, ok := e.programs.Load(expression); ok {
		return p.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	actual, _ := e.programs.LoadOrStore(expression, program)
	return actual.(cel.Program), nil
}
