package expression

import (
	"github.com/pay-theory/dynamodel/pkg/attr"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
)

// MaxInCandidates is the largest candidate list accepted by IN.
const MaxInCandidates = 100

// Comparator is a binary comparison operator.
type Comparator string

// Comparison operators.
const (
	EQ Comparator = "="
	NE Comparator = "<>"
	LT Comparator = "<"
	LE Comparator = "<="
	GT Comparator = ">"
	GE Comparator = ">="
)

// Function names for function-style predicates.
const (
	FuncAttributeExists    = "attribute_exists"
	FuncAttributeNotExists = "attribute_not_exists"
	FuncAttributeType      = "attribute_type"
	FuncBeginsWith         = "begins_with"
	FuncContains           = "contains"
)

// Condition is a boolean expression node.
type Condition interface {
	// Err returns the first construction error in the tree.
	Err() error
	isCondition()
}

// Comparison is "left op right".
type Comparison struct {
	Op    Comparator
	Left  Operand
	Right Operand
}

// Logical is an AND or OR over two or more children.
type Logical struct {
	Op       string
	Children []Condition
}

// Negation is NOT child.
type Negation struct {
	Child Condition
}

// BetweenCondition is "operand BETWEEN low AND high".
type BetweenCondition struct {
	Operand Operand
	Low     Operand
	High    Operand
}

// InCondition is "operand IN (candidates...)".
type InCondition struct {
	Operand    Operand
	Candidates []Operand
}

// FunctionCondition is a function-style predicate on a path with an optional
// argument.
type FunctionCondition struct {
	Func string
	Path Path
	Arg  Operand
}

type invalidCondition struct {
	err error
}

func (invalidCondition) isCondition()  {}
func (Comparison) isCondition()        {}
func (Logical) isCondition()           {}
func (Negation) isCondition()          {}
func (BetweenCondition) isCondition()  {}
func (InCondition) isCondition()       {}
func (FunctionCondition) isCondition() {}

func (c invalidCondition) Err() error { return c.err }

func (c Comparison) Err() error { return firstErr(OperandErr(c.Left), OperandErr(c.Right)) }

func (c Negation) Err() error { return conditionErr(c.Child) }

func (c BetweenCondition) Err() error {
	return firstErr(OperandErr(c.Operand), OperandErr(c.Low), OperandErr(c.High))
}

func (c Logical) Err() error {
	for _, child := range c.Children {
		if err := conditionErr(child); err != nil {
			return err
		}
	}
	return nil
}

func (c InCondition) Err() error {
	if err := OperandErr(c.Operand); err != nil {
		return err
	}
	for _, cand := range c.Candidates {
		if err := OperandErr(cand); err != nil {
			return err
		}
	}
	return nil
}

func (c FunctionCondition) Err() error {
	if err := c.Path.Err(); err != nil {
		return err
	}
	if c.Arg != nil {
		return OperandErr(c.Arg)
	}
	return nil
}

func conditionErr(c Condition) error {
	if c == nil {
		return customerrors.NewCompilationError("condition", "missing condition")
	}
	return c.Err()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) Condition {
	return invalidCondition{err: customerrors.NewCompilationError("condition", format, args...)}
}

// Compare builds "left op right". Ordering operators require scalar values.
func Compare(left any, op Comparator, right any) Condition {
	l, r := operandOf(left), operandOf(right)
	if err := firstErr(OperandErr(l), OperandErr(r)); err != nil {
		return invalidCondition{err: err}
	}
	if err := checkComparable(l, r); err != nil {
		return invalidCondition{err: err}
	}
	switch op {
	case EQ, NE:
	case LT, LE, GT, GE:
		for _, o := range []Operand{l, r} {
			if v, ok := o.(Value); ok && !scalarTag(v.Tag()) {
				return invalid("%s requires a string, number or binary operand, got %s", op, v.Tag())
			}
		}
	default:
		return invalid("unknown comparison operator %q", op)
	}
	return Comparison{Op: op, Left: l, Right: r}
}

// And combines conditions with AND. A single condition is returned as is.
func And(conds ...Condition) Condition {
	return logical("AND", conds)
}

// Or combines conditions with OR. A single condition is returned as is.
func Or(conds ...Condition) Condition {
	return logical("OR", conds)
}

func logical(op string, conds []Condition) Condition {
	kept := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if c == nil {
			continue
		}
		if err := c.Err(); err != nil {
			return invalidCondition{err: err}
		}
		kept = append(kept, c)
	}
	switch len(kept) {
	case 0:
		return invalid("%s requires at least one condition", op)
	case 1:
		return kept[0]
	}
	return Logical{Op: op, Children: kept}
}

// Not negates c.
func Not(c Condition) Condition {
	if err := conditionErr(c); err != nil {
		return invalidCondition{err: err}
	}
	return Negation{Child: c}
}

// Between builds "operand BETWEEN low AND high".
func Between(operand, low, high any) Condition {
	o, l, h := operandOf(operand), operandOf(low), operandOf(high)
	if err := firstErr(OperandErr(o), OperandErr(l), OperandErr(h)); err != nil {
		return invalidCondition{err: err}
	}
	if err := checkComparable(o, l, h); err != nil {
		return invalidCondition{err: err}
	}
	lv, lok := l.(Value)
	hv, hok := h.(Value)
	for _, v := range []struct {
		val Value
		ok  bool
	}{{lv, lok}, {hv, hok}} {
		if v.ok && !scalarTag(v.val.Tag()) {
			return invalid("BETWEEN bounds must be string, number or binary, got %s", v.val.Tag())
		}
	}
	if lok && hok && lv.Tag() != hv.Tag() {
		return invalid("BETWEEN bounds have different types %s and %s", lv.Tag(), hv.Tag())
	}
	return BetweenCondition{Operand: o, Low: l, High: h}
}

// In builds "operand IN (candidates...)".
func In(operand any, candidates ...any) Condition {
	if len(candidates) == 0 {
		return invalid("IN requires at least one candidate")
	}
	if len(candidates) > MaxInCandidates {
		return invalid("IN accepts at most %d candidates, got %d", MaxInCandidates, len(candidates))
	}
	o := operandOf(operand)
	if err := OperandErr(o); err != nil {
		return invalidCondition{err: err}
	}
	ops := make([]Operand, len(candidates))
	for i, c := range candidates {
		ops[i] = operandOf(c)
		if err := OperandErr(ops[i]); err != nil {
			return invalidCondition{err: err}
		}
	}
	if err := checkComparable(append([]Operand{o}, ops...)...); err != nil {
		return invalidCondition{err: err}
	}
	return InCondition{Operand: o, Candidates: ops}
}

// Exists builds attribute_exists(p).
func Exists(p Path) Condition {
	return function(FuncAttributeExists, p, nil)
}

// NotExists builds attribute_not_exists(p).
func NotExists(p Path) Condition {
	return function(FuncAttributeNotExists, p, nil)
}

// BeginsWith builds begins_with(p, prefix). The prefix must be a string or
// binary value.
func BeginsWith(p Path, prefix any) Condition {
	v := operandOf(prefix)
	val, ok := v.(Value)
	if !ok {
		return invalid("begins_with prefix must be a value")
	}
	if val.Err() == nil && val.Tag() != "S" && val.Tag() != "B" {
		return invalid("begins_with requires a string or binary prefix, got %s", val.Tag())
	}
	return function(FuncBeginsWith, p, val)
}

// Contains builds contains(p, operand). The operand must be a scalar value or
// another path.
func Contains(p Path, operand any) Condition {
	o := operandOf(operand)
	if v, ok := o.(Value); ok && v.Err() == nil && !scalarTag(v.Tag()) {
		return invalid("contains requires a string, number or binary operand, got %s", v.Tag())
	}
	if _, ok := o.(Size); ok {
		return invalid("contains does not accept size()")
	}
	return function(FuncContains, p, o)
}

// AttributeType builds attribute_type(p, tag) where tag is a wire type tag
// such as "S" or "NS".
func AttributeType(p Path, tag string) Condition {
	if !attr.IsWireTag(tag) {
		return invalid("attribute_type requires a wire type tag, got %q", tag)
	}
	return function(FuncAttributeType, p, ValueOf(tag))
}

func function(name string, p Path, arg Operand) Condition {
	c := FunctionCondition{Func: name, Path: p, Arg: arg}
	if err := c.Err(); err != nil {
		return invalidCondition{err: err}
	}
	return c
}

// checkComparable rejects SET-only operands inside conditions.
func checkComparable(ops ...Operand) error {
	for _, o := range ops {
		switch o.(type) {
		case Path, Value, Size:
		default:
			return customerrors.NewCompilationError("condition", "operand %T is only valid in SET actions", o)
		}
	}
	return nil
}

func scalarTag(tag string) bool {
	return tag == "S" || tag == "N" || tag == "B"
}

// Eq builds p = v.
func (p Path) Eq(v any) Condition { return Compare(p, EQ, v) }

// Ne builds p <> v.
func (p Path) Ne(v any) Condition { return Compare(p, NE, v) }

// Lt builds p < v.
func (p Path) Lt(v any) Condition { return Compare(p, LT, v) }

// Le builds p <= v.
func (p Path) Le(v any) Condition { return Compare(p, LE, v) }

// Gt builds p > v.
func (p Path) Gt(v any) Condition { return Compare(p, GT, v) }

// Ge builds p >= v.
func (p Path) Ge(v any) Condition { return Compare(p, GE, v) }

// Between builds p BETWEEN low AND high.
func (p Path) Between(low, high any) Condition { return Between(p, low, high) }

// In builds p IN (candidates...).
func (p Path) In(candidates ...any) Condition { return In(p, candidates...) }

// Exists builds attribute_exists(p).
func (p Path) Exists() Condition { return Exists(p) }

// NotExists builds attribute_not_exists(p).
func (p Path) NotExists() Condition { return NotExists(p) }

// BeginsWith builds begins_with(p, prefix).
func (p Path) BeginsWith(prefix any) Condition { return BeginsWith(p, prefix) }

// Contains builds contains(p, v).
func (p Path) Contains(v any) Condition { return Contains(p, v) }

// IsType builds attribute_type(p, tag).
func (p Path) IsType(tag string) Condition { return AttributeType(p, tag) }

// Size returns size(p).
func (p Path) Size() Size { return SizeOf(p) }

// Eq builds size(p) = v.
func (s Size) Eq(v any) Condition { return Compare(s, EQ, v) }

// Ne builds size(p) <> v.
func (s Size) Ne(v any) Condition { return Compare(s, NE, v) }

// Lt builds size(p) < v.
func (s Size) Lt(v any) Condition { return Compare(s, LT, v) }

// Le builds size(p) <= v.
func (s Size) Le(v any) Condition { return Compare(s, LE, v) }

// Gt builds size(p) > v.
func (s Size) Gt(v any) Condition { return Compare(s, GT, v) }

// Ge builds size(p) >= v.
func (s Size) Ge(v any) Condition { return Compare(s, GE, v) }
