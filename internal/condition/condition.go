package condition

import (
	"fmt"
	"strings"
)

type Operator int

const (
	Equals Operator = iota
	NotEquals
	StartsWith
	Contains
	NotContains
)

func (o Operator) String() string {
	switch o {
	case Equals:
		return "equals"
	case NotEquals:
		return "does_not_equal"
	case StartsWith:
		return "starts_with"
	case Contains:
		return "contains"
	case NotContains:
		return "does_not_contain"
	default:
		return fmt.Sprintf("operator(%d)", int(o))
	}
}

// Negative operators succeed only when no expected value matches.
func (o Operator) Negative() bool {
	return o == NotEquals || o == NotContains
}

func (o Operator) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Condition is one parsed clause: (column, operator, expected values).
type Condition struct {
	Column   string   `json:"column"`
	Operator Operator `json:"operator"`
	Values   []string `json:"values"`
	// AllItems requires every item of a multi-item attribute to match.
	AllItems bool `json:"all_items,omitempty"`
}

func (c Condition) String() string {
	quoted := make([]string, len(c.Values))
	for i, v := range c.Values {
		quoted[i] = "'" + v + "'"
	}
	verb := strings.ReplaceAll(c.Operator.String(), "_", " ")
	if c.Operator == NotEquals {
		verb = "does not equal"
	}
	s := fmt.Sprintf("%s %s %s", c.Column, verb, strings.Join(quoted, ", "))
	if c.AllItems {
		s += " in all items"
	}
	return s
}

// Item is one numbered entry of a predicate; all of its clauses must hold.
type Item struct {
	Number  int         `json:"number,omitempty"`
	Clauses []Condition `json:"clauses"`
}

// Predicate is a parsed "Applies If" text. Numbered items are alternatives:
// the predicate holds when any item holds. A predicate without items is
// always satisfied.
type Predicate struct {
	Text  string `json:"text"`
	Items []Item `json:"items,omitempty"`
	// Expr is a CEL expression given with the "expr:" prefix.
	Expr string `json:"expr,omitempty"`
}

// Unconditional reports whether the predicate always holds.
func (p Predicate) Unconditional() bool {
	return p.Expr == "" && len(p.Items) == 0
}
