package condition

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"freightaudit/internal/ratecard"
	"freightaudit/pkg/cel"
)

// Verdict is the outcome of evaluating a predicate against a shipment.
// ColumnMissing is distinct from a plain false: the predicate referenced a
// column the shipment does not carry.
type Verdict struct {
	Satisfied     bool   `json:"satisfied"`
	ColumnMissing bool   `json:"column_missing,omitempty"`
	Unparseable   bool   `json:"unparseable,omitempty"`
	Reason        string `json:"reason"`
}

type parsed struct {
	pred Predicate
	err  error
}

// Evaluator parses condition text once per distinct text and evaluates
// the resulting predicates. It is safe for concurrent use.
type Evaluator struct {
	expr  *cel.Evaluator
	cache sync.Map // text -> parsed
}

// NewEvaluator returns an evaluator. expr may be nil, in which case
// "expr:" conditions are reported as unparseable.
func NewEvaluator(expr *cel.Evaluator) *Evaluator {
	return &Evaluator{expr: expr}
}

func (e *Evaluator) Parse(text string) (Predicate, error) {
	if v, ok := e.cache.Load(text); ok {
		p := v.(parsed)
		return p.pred, p.err
	}
	pred, err := Parse(text)
	if err == nil && pred.Expr != "" && e.expr != nil {
		if vErr := e.expr.ValidateCondition(pred.Expr); vErr != nil {
			err = fmt.Errorf("%w: %v", ErrUnparseable, vErr)
		}
	}
	e.cache.Store(text, parsed{pred: pred, err: err})
	return pred, err
}

// Check parses and evaluates text in one step.
func (e *Evaluator) Check(ctx context.Context, text string, s *ratecard.Shipment) Verdict {
	pred, err := e.Parse(text)
	if err != nil {
		return Verdict{Unparseable: true, Reason: err.Error()}
	}
	return e.Evaluate(ctx, pred, s)
}

func (e *Evaluator) Evaluate(ctx context.Context, pred Predicate, s *ratecard.Shipment) Verdict {
	if pred.Expr != "" {
		return e.evaluateExpr(ctx, pred.Expr, s)
	}
	if len(pred.Items) == 0 {
		return Verdict{Satisfied: true, Reason: "no condition"}
	}

	failures := make([]string, 0, len(pred.Items))
	missing := false
	for _, item := range pred.Items {
		ok, columnMissing, reason := evaluateItem(item, s)
		if ok {
			return Verdict{Satisfied: true, Reason: reason}
		}
		missing = missing || columnMissing
		if len(pred.Items) > 1 && item.Number > 0 {
			reason = fmt.Sprintf("item %d: %s", item.Number, reason)
		}
		failures = append(failures, reason)
	}
	return Verdict{ColumnMissing: missing, Reason: strings.Join(failures, "; ")}
}

func (e *Evaluator) evaluateExpr(ctx context.Context, expr string, s *ratecard.Shipment) Verdict {
	if e.expr == nil {
		return Verdict{Unparseable: true, Reason: "expression conditions are not enabled"}
	}
	ok, err := e.expr.EvaluateCondition(ctx, expr, variables(s))
	if err != nil {
		return Verdict{Reason: fmt.Sprintf("expression %q failed: %v", expr, err)}
	}
	if ok {
		return Verdict{Satisfied: true, Reason: fmt.Sprintf("expression %q holds", expr)}
	}
	return Verdict{Reason: fmt.Sprintf("expression %q does not hold", expr)}
}

func evaluateItem(item Item, s *ratecard.Shipment) (bool, bool, string) {
	reasons := make([]string, 0, len(item.Clauses))
	for _, c := range item.Clauses {
		ok, missing, reason := evaluateClause(c, s)
		if !ok {
			return false, missing, reason
		}
		reasons = append(reasons, reason)
	}
	return true, false, strings.Join(reasons, " and ")
}

func evaluateClause(c Condition, s *ratecard.Shipment) (bool, bool, string) {
	var attrs map[string]string
	if s != nil {
		attrs = s.Attributes
	}
	attr, ok := ratecard.ResolveAttribute(c.Column, attrs)
	if !ok {
		return false, true, fmt.Sprintf("column not found: %s", c.Column)
	}

	value, _ := s.Attribute(attr)
	value = strings.TrimSpace(value)
	held := Holds(c, value)

	shown := value
	if shown == "" {
		shown = "<blank>"
	}
	if held {
		return true, false, fmt.Sprintf("%s (value %s)", c, shown)
	}
	return false, false, fmt.Sprintf("%s not met (value %s)", c, shown)
}

// Holds applies a condition to a raw attribute value. Multi-item values
// are semicolon separated.
func Holds(c Condition, value string) bool {
	items := splitValueItems(value)

	switch c.Operator {
	case Equals, StartsWith, Contains:
		if strings.TrimSpace(value) == "" {
			return false
		}
		if c.AllItems {
			for _, item := range items {
				if !matchesAny(c.Operator, item, c.Values) {
					return false
				}
			}
			return true
		}
		for _, item := range items {
			if matchesAny(c.Operator, item, c.Values) {
				return true
			}
		}
		return false
	case NotEquals, NotContains:
		positive := Equals
		if c.Operator == NotContains {
			positive = Contains
		}
		for _, item := range items {
			if matchesAny(positive, item, c.Values) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func splitValueItems(value string) []string {
	if !strings.Contains(value, ";") {
		return []string{value}
	}
	parts := strings.Split(value, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

func matchesAny(op Operator, value string, expected []string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, raw := range expected {
		e := strings.ToLower(strings.TrimSpace(raw))
		switch op {
		case Equals:
			if valuesEqual(v, e) {
				return true
			}
		case StartsWith:
			if strings.HasPrefix(v, e) {
				return true
			}
		case Contains:
			if strings.Contains(v, e) {
				return true
			}
		}
	}
	return false
}

// valuesEqual compares case-folded strings, numerically when both parse.
func valuesEqual(a, b string) bool {
	if a == b {
		return true
	}
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	return errA == nil && errB == nil && da.Equal(db)
}

func variables(s *ratecard.Shipment) cel.Variables {
	if s == nil {
		return cel.Variables{}
	}
	vars := cel.Variables{
		ShipmentID:   s.ID,
		AgreementID:  s.AgreementID,
		Attributes:   s.Attributes,
		Measurements: make(map[string]float64, len(s.Measurements)),
	}
	for k, v := range s.Measurements {
		vars.Measurements[k] = v.InexactFloat64()
	}
	if s.Weight.Valid {
		vars.Weight = s.Weight.Decimal.InexactFloat64()
		vars.HasWeight = true
	}
	return vars
}
