// Package condition evaluates the restricted boolean grammar used to gate
// DAG nodes: dotted path lookups, == and !=, true/false, numbers, quoted
// strings, && and ||, and parentheses. Evaluation is fail-closed: a path
// that resolves to nothing makes its subexpression false.
package condition

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Error is returned for unparseable expressions and type mismatches.
// Callers treat it as a false condition and surface it as a warning.
type Error struct {
	Expr   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Expr, e.Reason)
}

// Expression is a parsed condition
type Expression struct {
	src  string
	expr hclsyntax.Expression
}

// Parse parses src and rejects any construct outside the grammar
func Parse(src string) (*Expression, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "condition", hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return nil, &Error{Expr: src, Reason: strings.TrimSpace(diags.Error())}
	}

	if err := checkGrammar(expr); err != nil {
		return nil, &Error{Expr: src, Reason: err.Error()}
	}

	return &Expression{src: src, expr: expr}, nil
}

// String returns the source text
func (e *Expression) String() string {
	return e.src
}

// Eval evaluates the expression against vars
func (e *Expression) Eval(vars map[string]interface{}) (bool, error) {
	ok, err := evalBool(e.expr, vars)
	if err != nil {
		return false, &Error{Expr: e.src, Reason: err.Error()}
	}
	return ok, nil
}

// Evaluate parses and evaluates src. An empty condition is true.
func Evaluate(src string, vars map[string]interface{}) (bool, error) {
	if strings.TrimSpace(src) == "" {
		return true, nil
	}
	expr, err := Parse(src)
	if err != nil {
		return false, err
	}
	return expr.Eval(vars)
}

func checkGrammar(expr hclsyntax.Expression) error {
	switch e := expr.(type) {
	case *hclsyntax.BinaryOpExpr:
		switch e.Op {
		case hclsyntax.OpLogicalAnd, hclsyntax.OpLogicalOr, hclsyntax.OpEqual, hclsyntax.OpNotEqual:
		default:
			return fmt.Errorf("unsupported operator")
		}
		if err := checkGrammar(e.LHS); err != nil {
			return err
		}
		return checkGrammar(e.RHS)
	case *hclsyntax.ParenthesesExpr:
		return checkGrammar(e.Expression)
	case *hclsyntax.ScopeTraversalExpr:
		for _, step := range e.Traversal {
			switch step.(type) {
			case hcl.TraverseRoot, hcl.TraverseAttr, hcl.TraverseIndex:
			default:
				return fmt.Errorf("unsupported path segment")
			}
		}
		return nil
	case *hclsyntax.LiteralValueExpr:
		return nil
	case *hclsyntax.UnaryOpExpr:
		if _, ok := e.Val.(*hclsyntax.LiteralValueExpr); ok && e.Op == hclsyntax.OpNegate {
			return nil
		}
		return fmt.Errorf("unsupported operator")
	case *hclsyntax.TemplateExpr:
		if len(e.Parts) == 0 || e.IsStringLiteral() {
			return nil
		}
		return fmt.Errorf("string interpolation is not supported")
	default:
		return fmt.Errorf("unsupported expression %T", expr)
	}
}

func evalBool(expr hclsyntax.Expression, vars map[string]interface{}) (bool, error) {
	switch e := expr.(type) {
	case *hclsyntax.ParenthesesExpr:
		return evalBool(e.Expression, vars)

	case *hclsyntax.BinaryOpExpr:
		switch e.Op {
		case hclsyntax.OpLogicalAnd:
			lhs, err := evalBool(e.LHS, vars)
			if err != nil || !lhs {
				return false, err
			}
			return evalBool(e.RHS, vars)
		case hclsyntax.OpLogicalOr:
			lhs, err := evalBool(e.LHS, vars)
			if err != nil {
				return false, err
			}
			if lhs {
				return true, nil
			}
			return evalBool(e.RHS, vars)
		case hclsyntax.OpEqual, hclsyntax.OpNotEqual:
			return evalComparison(e, vars)
		}
		return false, fmt.Errorf("unsupported operator")
	}

	v, defined, err := evalValue(expr, vars)
	if err != nil || !defined {
		return false, err
	}
	if v.IsNull() {
		return false, nil
	}
	if v.Type() != cty.Bool {
		return false, fmt.Errorf("expected a boolean, got %s", v.Type().FriendlyName())
	}
	return v.True(), nil
}

func evalComparison(e *hclsyntax.BinaryOpExpr, vars map[string]interface{}) (bool, error) {
	lhs, lok, err := evalValue(e.LHS, vars)
	if err != nil {
		return false, err
	}
	rhs, rok, err := evalValue(e.RHS, vars)
	if err != nil {
		return false, err
	}
	if !lok || !rok {
		return false, nil
	}

	var equal bool
	switch {
	case lhs.IsNull() || rhs.IsNull():
		equal = lhs.IsNull() && rhs.IsNull()
	case lhs.Type() != rhs.Type():
		return false, fmt.Errorf("cannot compare %s with %s", lhs.Type().FriendlyName(), rhs.Type().FriendlyName())
	default:
		equal = lhs.Equals(rhs).True()
	}

	if e.Op == hclsyntax.OpNotEqual {
		return !equal, nil
	}
	return equal, nil
}

// evalValue resolves a leaf. defined is false when a path is missing.
func evalValue(expr hclsyntax.Expression, vars map[string]interface{}) (cty.Value, bool, error) {
	switch e := expr.(type) {
	case *hclsyntax.ParenthesesExpr:
		return evalValue(e.Expression, vars)

	case *hclsyntax.LiteralValueExpr:
		return e.Val, true, nil

	case *hclsyntax.UnaryOpExpr:
		lit, ok := e.Val.(*hclsyntax.LiteralValueExpr)
		if !ok || e.Op != hclsyntax.OpNegate || lit.Val.Type() != cty.Number {
			return cty.NilVal, false, fmt.Errorf("unsupported operator")
		}
		return lit.Val.Negate(), true, nil

	case *hclsyntax.TemplateExpr:
		if len(e.Parts) == 0 {
			return cty.StringVal(""), true, nil
		}
		lit, ok := e.Parts[0].(*hclsyntax.LiteralValueExpr)
		if !ok || len(e.Parts) != 1 {
			return cty.NilVal, false, fmt.Errorf("string interpolation is not supported")
		}
		return lit.Val, true, nil

	case *hclsyntax.ScopeTraversalExpr:
		raw, ok := resolve(vars, e.Traversal)
		if !ok {
			return cty.NilVal, false, nil
		}
		v, err := ToValue(raw)
		if err != nil {
			return cty.NilVal, false, fmt.Errorf("%s: %w", traversalString(e.Traversal), err)
		}
		return v, true, nil

	case *hclsyntax.BinaryOpExpr:
		ok, err := evalBool(e, vars)
		if err != nil {
			return cty.NilVal, false, err
		}
		return cty.BoolVal(ok), true, nil
	}

	return cty.NilVal, false, fmt.Errorf("unsupported expression %T", expr)
}

func resolve(vars map[string]interface{}, traversal hcl.Traversal) (interface{}, bool) {
	var cur interface{} = vars
	for _, step := range traversal {
		var ok bool
		switch s := step.(type) {
		case hcl.TraverseRoot:
			cur, ok = child(cur, s.Name)
		case hcl.TraverseAttr:
			cur, ok = child(cur, s.Name)
		case hcl.TraverseIndex:
			cur, ok = indexStep(cur, s.Key)
		}
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func indexStep(cur interface{}, key cty.Value) (interface{}, bool) {
	if key.IsNull() || !key.IsKnown() {
		return nil, false
	}
	switch key.Type() {
	case cty.String:
		return child(cur, key.AsString())
	case cty.Number:
		i, acc := key.AsBigFloat().Int64()
		if acc != big.Exact {
			return nil, false
		}
		return element(cur, int(i))
	}
	return nil, false
}

func traversalString(t hcl.Traversal) string {
	var b strings.Builder
	for _, step := range t {
		switch s := step.(type) {
		case hcl.TraverseRoot:
			b.WriteString(s.Name)
		case hcl.TraverseAttr:
			b.WriteString(".")
			b.WriteString(s.Name)
		case hcl.TraverseIndex:
			b.WriteString("[...]")
		}
	}
	return b.String()
}
