package expr

import (
	"fmt"
	"strings"

	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
)

func (b *Builder) renderCondition(c expression.Condition) (string, error) {
	if c == nil {
		return "", customerrors.NewCompilationError("condition", "missing condition")
	}
	if err := c.Err(); err != nil {
		return "", err
	}

	switch n := c.(type) {
	case expression.Comparison:
		left, err := b.renderOperand(n.Left, false)
		if err != nil {
			return "", err
		}
		right, err := b.renderOperand(n.Right, false)
		if err != nil {
			return "", err
		}
		return left + " " + string(n.Op) + " " + right, nil

	case expression.Logical:
		if n.Op != "AND" && n.Op != "OR" {
			return "", customerrors.NewCompilationError("condition", "unknown logical operator %q", n.Op)
		}
		if len(n.Children) < 2 {
			return "", customerrors.NewCompilationError("condition", "%s requires at least two conditions", n.Op)
		}
		parts := make([]string, len(n.Children))
		for i, child := range n.Children {
			s, err := b.renderCondition(child)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "(" + strings.Join(parts, " "+n.Op+" ") + ")", nil

	case expression.Negation:
		s, err := b.renderCondition(n.Child)
		if err != nil {
			return "", err
		}
		return "(NOT " + s + ")", nil

	case expression.BetweenCondition:
		parts, err := b.renderOperands(n.Operand, n.Low, n.High)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", parts[0], parts[1], parts[2]), nil

	case expression.InCondition:
		parts, err := b.renderOperands(append([]expression.Operand{n.Operand}, n.Candidates...)...)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IN (%s)", parts[0], strings.Join(parts[1:], ", ")), nil

	case expression.FunctionCondition:
		path, err := b.ph.Path(n.Path)
		if err != nil {
			return "", err
		}
		if n.Arg == nil {
			return fmt.Sprintf("%s (%s)", n.Func, path), nil
		}
		arg, err := b.renderOperand(n.Arg, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (%s, %s)", n.Func, path, arg), nil
	}

	return "", customerrors.NewCompilationError("condition", "unsupported condition %T", c)
}

func (b *Builder) renderOperands(ops ...expression.Operand) ([]string, error) {
	out := make([]string, len(ops))
	for i, op := range ops {
		s, err := b.renderOperand(op, false)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// renderOperand renders a path, value or size. SET-only forms are accepted
// when inSet is true.
func (b *Builder) renderOperand(op expression.Operand, inSet bool) (string, error) {
	if err := expression.OperandErr(op); err != nil {
		return "", err
	}

	switch o := op.(type) {
	case expression.Path:
		return b.ph.Path(o)
	case expression.Value:
		return b.ph.Value(o.AttributeValue())
	case expression.Size:
		if inSet {
			break
		}
		p, err := b.ph.Path(o.Path)
		if err != nil {
			return "", err
		}
		return "size (" + p + ")", nil
	case expression.Arithmetic:
		if !inSet {
			break
		}
		left, err := b.renderOperand(o.Left, true)
		if err != nil {
			return "", err
		}
		right, err := b.renderOperand(o.Right, true)
		if err != nil {
			return "", err
		}
		return left + " " + o.Op + " " + right, nil
	case expression.IfNotExistsOperand:
		if !inSet {
			break
		}
		p, err := b.ph.Path(o.Path)
		if err != nil {
			return "", err
		}
		def, err := b.renderOperand(o.Default, true)
		if err != nil {
			return "", err
		}
		return "if_not_exists (" + p + ", " + def + ")", nil
	case expression.ListAppendOperand:
		if !inSet {
			break
		}
		left, err := b.renderOperand(o.Left, true)
		if err != nil {
			return "", err
		}
		right, err := b.renderOperand(o.Right, true)
		if err != nil {
			return "", err
		}
		return "list_append (" + left + ", " + right + ")", nil
	}

	if inSet {
		return "", customerrors.NewCompilationError("update", "operand %T is not valid in SET", op)
	}
	return "", customerrors.NewCompilationError("condition", "operand %T is only valid in SET actions", op)
}

// renderKeyCondition accepts exactly one equality on the partition key,
// optionally ANDed with one sort key clause, and always renders the partition
// key clause first.
func (b *Builder) renderKeyCondition(c expression.Condition, hashKey, rangeKey string) (string, error) {
	if c == nil {
		return "", customerrors.NewCompilationError("key condition", "missing key condition")
	}
	if err := c.Err(); err != nil {
		return "", err
	}

	var hashClause, rangeClause expression.Condition
	switch n := c.(type) {
	case expression.Logical:
		if n.Op != "AND" || len(n.Children) != 2 {
			return "", customerrors.NewCompilationError("key condition", "expected a partition key equality optionally ANDed with one sort key clause")
		}
		for _, child := range n.Children {
			switch {
			case hashClause == nil && isHashEquality(child, hashKey):
				hashClause = child
			case rangeClause == nil && isRangeClause(child, rangeKey):
				rangeClause = child
			}
		}
		if hashClause == nil || rangeClause == nil {
			return "", customerrors.NewCompilationError("key condition", "expected equality on %q and one clause on the sort key", hashKey)
		}
	default:
		if !isHashEquality(c, hashKey) {
			return "", customerrors.NewCompilationError("key condition", "expected equality on partition key %q", hashKey)
		}
		hashClause = c
	}

	h, err := b.renderCondition(hashClause)
	if err != nil {
		return "", err
	}
	if rangeClause == nil {
		return h, nil
	}
	r, err := b.renderCondition(rangeClause)
	if err != nil {
		return "", err
	}
	return "(" + h + " AND " + r + ")", nil
}

func isHashEquality(c expression.Condition, hashKey string) bool {
	cmp, ok := c.(expression.Comparison)
	if !ok || cmp.Op != expression.EQ {
		return false
	}
	return isKeyPath(cmp.Left, hashKey) && isValue(cmp.Right)
}

func isRangeClause(c expression.Condition, rangeKey string) bool {
	if rangeKey == "" {
		return false
	}
	switch n := c.(type) {
	case expression.Comparison:
		switch n.Op {
		case expression.EQ, expression.LT, expression.LE, expression.GT, expression.GE:
			return isKeyPath(n.Left, rangeKey) && isValue(n.Right)
		}
	case expression.BetweenCondition:
		return isKeyPath(n.Operand, rangeKey) && isValue(n.Low) && isValue(n.High)
	case expression.FunctionCondition:
		return n.Func == expression.FuncBeginsWith && isKeyPath(n.Path, rangeKey)
	}
	return false
}

func isKeyPath(op expression.Operand, key string) bool {
	p, ok := op.(expression.Path)
	if !ok {
		return false
	}
	segs := p.Segments()
	return len(segs) == 1 && !segs[0].IsIndex && segs[0].Name == key
}

func isValue(op expression.Operand) bool {
	_, ok := op.(expression.Value)
	return ok
}

// renderUpdate groups actions by kind and emits SET, REMOVE, ADD, DELETE in
// that order.
func (b *Builder) renderUpdate(actions []expression.Action) (string, error) {
	if len(actions) == 0 {
		return "", nil
	}

	for i, a := range actions {
		if err := a.Err(); err != nil {
			return "", err
		}
		for _, prev := range actions[:i] {
			if a.Path.Overlaps(prev.Path) {
				return "", customerrors.NewCompilationError("update", "paths %s and %s overlap", prev.Path, a.Path)
			}
		}
	}

	var clauses [4][]string
	for _, a := range actions {
		path, err := b.ph.Path(a.Path)
		if err != nil {
			return "", err
		}
		var item string
		switch a.Kind {
		case expression.ActionSet:
			v, err := b.renderOperand(a.Value, true)
			if err != nil {
				return "", err
			}
			item = path + " = " + v
		case expression.ActionRemove:
			item = path
		case expression.ActionAdd, expression.ActionDelete:
			v, err := b.renderOperand(a.Value, true)
			if err != nil {
				return "", err
			}
			item = path + " " + v
		default:
			return "", customerrors.NewCompilationError("update", "unknown action kind %d", a.Kind)
		}
		clauses[a.Kind] = append(clauses[a.Kind], item)
	}

	var parts []string
	for kind, items := range clauses {
		if len(items) == 0 {
			continue
		}
		parts = append(parts, expression.ActionKind(kind).String()+" "+strings.Join(items, ", "))
	}
	return strings.Join(parts, " "), nil
}
