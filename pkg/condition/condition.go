// Package condition implements the transition-condition grammar:
//
//	field==literal
//	field!=literal
//	field in [a, b, c]
//
// Expressions are parsed once at chain build time into a small AST and
// evaluated against a session's collected data with string-equality
// semantics: the field's value is formatted via fmt.Sprint (booleans render
// as "true"/"false", integers as their decimal form) and compared to the
// literal. A missing field formats as the empty string. There is no nested
// boolean logic and no ordering comparison; the restricted grammar is a
// deliberate simplicity constraint.
package condition

import (
	"fmt"
	"strings"
)

// Expr is a parsed condition ready for evaluation.
type Expr interface {
	// Eval reports whether the condition holds for the given data.
	Eval(data map[string]any) bool
	// String returns the canonical source form of the expression.
	String() string
}

type eqExpr struct {
	field string
	value string
}

func (e eqExpr) Eval(data map[string]any) bool { return lookup(data, e.field) == e.value }
func (e eqExpr) String() string                { return e.field + "==" + e.value }

type neqExpr struct {
	field string
	value string
}

func (e neqExpr) Eval(data map[string]any) bool { return lookup(data, e.field) != e.value }
func (e neqExpr) String() string                { return e.field + "!=" + e.value }

type inExpr struct {
	field  string
	values []string
}

func (e inExpr) Eval(data map[string]any) bool {
	v := lookup(data, e.field)
	for _, candidate := range e.values {
		if v == candidate {
			return true
		}
	}
	return false
}

func (e inExpr) String() string {
	return e.field + " in [" + strings.Join(e.values, ", ") + "]"
}

func lookup(data map[string]any, field string) string {
	v, ok := data[field]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Parse compiles a condition expression. It fails on empty fields, empty
// operands, and anything outside the supported grammar.
func Parse(input string) (Expr, error) {
	expr := strings.TrimSpace(input)
	if expr == "" {
		return nil, fmt.Errorf("empty condition expression")
	}

	// "!=" is checked before "==" so that "a!=b" does not mis-split.
	if field, value, ok := splitOperator(expr, "!="); ok {
		return neqExpr{field: field, value: value}, nil
	}
	if field, value, ok := splitOperator(expr, "=="); ok {
		return eqExpr{field: field, value: value}, nil
	}
	if field, list, ok := splitOperator(expr, " in "); ok {
		values, err := parseList(list)
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", input, err)
		}
		return inExpr{field: field, values: values}, nil
	}

	return nil, fmt.Errorf("unsupported condition expression %q (expected field==value, field!=value, or field in [..])", input)
}

// MustParse is Parse for expressions known valid at compile time; it panics
// on error and is intended for static chain definitions.
func MustParse(input string) Expr {
	expr, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return expr
}

func splitOperator(expr, op string) (field, value string, ok bool) {
	idx := strings.Index(expr, op)
	if idx < 0 {
		return "", "", false
	}
	field = strings.TrimSpace(expr[:idx])
	value = unquote(strings.TrimSpace(expr[idx+len(op):]))
	if field == "" {
		return "", "", false
	}
	return field, value, true
}

func parseList(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	if !strings.HasPrefix(list, "[") || !strings.HasSuffix(list, "]") {
		return nil, fmt.Errorf("membership list must be bracketed")
	}
	inner := strings.TrimSpace(list[1 : len(list)-1])
	if inner == "" {
		return nil, fmt.Errorf("membership list is empty")
	}
	parts := strings.Split(inner, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		v := unquote(strings.TrimSpace(p))
		if v == "" {
			return nil, fmt.Errorf("membership list contains an empty element")
		}
		values = append(values, v)
	}
	return values, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
