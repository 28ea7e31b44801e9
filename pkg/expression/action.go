package expression

import (
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
)

// ActionKind identifies the clause an update action belongs to.
type ActionKind int

// Update clause kinds, in rendering order.
const (
	ActionSet ActionKind = iota
	ActionRemove
	ActionAdd
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionSet:
		return "SET"
	case ActionRemove:
		return "REMOVE"
	case ActionAdd:
		return "ADD"
	case ActionDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// Action is one update action: SET, REMOVE, ADD or DELETE on a path.
type Action struct {
	Kind  ActionKind
	Path  Path
	Value Operand
	err   error
}

// Err returns the construction error, if any.
func (a Action) Err() error {
	if a.err != nil {
		return a.err
	}
	if err := a.Path.Err(); err != nil {
		return err
	}
	if a.Kind != ActionRemove {
		return OperandErr(a.Value)
	}
	return nil
}

func invalidAction(kind ActionKind, p Path, format string, args ...any) Action {
	return Action{Kind: kind, Path: p, err: customerrors.NewCompilationError("update", format, args...)}
}

// SetTo builds "SET p = value". The value may be a Path, a Value, or one of
// Plus, Minus, IfNotExists and ListAppend.
func SetTo(p Path, value any) Action {
	op := operandOf(value)
	if err := checkSetOperand(op, true); err != nil {
		return Action{Kind: ActionSet, Path: p, err: err}
	}
	return Action{Kind: ActionSet, Path: p, Value: op}
}

func checkSetOperand(op Operand, top bool) error {
	switch o := op.(type) {
	case Path, Value:
		return nil
	case Size:
		return customerrors.NewCompilationError("update", "size() is not valid in SET")
	case Arithmetic:
		if !top {
			return customerrors.NewCompilationError("update", "arithmetic cannot be nested")
		}
		if o.Op != "+" && o.Op != "-" {
			return customerrors.NewCompilationError("update", "unknown arithmetic operator %q", o.Op)
		}
		for _, side := range []Operand{o.Left, o.Right} {
			if err := checkSetOperand(side, false); err != nil {
				return err
			}
			if v, ok := side.(Value); ok && v.Err() == nil && v.Tag() != "N" {
				return customerrors.NewCompilationError("update", "arithmetic requires number values, got %s", v.Tag())
			}
		}
		return nil
	case IfNotExistsOperand:
		if _, ok := o.Default.(Value); !ok {
			if _, isPath := o.Default.(Path); !isPath {
				return customerrors.NewCompilationError("update", "if_not_exists default must be a path or value")
			}
		}
		return nil
	case ListAppendOperand:
		if !top {
			return customerrors.NewCompilationError("update", "list_append cannot be nested")
		}
		for _, side := range []Operand{o.Left, o.Right} {
			if err := checkSetOperand(side, false); err != nil {
				return err
			}
			if v, ok := side.(Value); ok && v.Err() == nil && v.Tag() != "L" {
				return customerrors.NewCompilationError("update", "list_append requires list values, got %s", v.Tag())
			}
		}
		return nil
	case nil:
		return customerrors.NewCompilationError("update", "missing SET value")
	}
	return customerrors.NewCompilationError("update", "unsupported SET operand %T", op)
}

// RemoveAttr builds "REMOVE p".
func RemoveAttr(p Path) Action {
	return Action{Kind: ActionRemove, Path: p}
}

// AddTo builds "ADD p value". The value must be a number or a set.
func AddTo(p Path, value any) Action {
	v := ValueOf(value)
	if v.Err() == nil {
		switch v.Tag() {
		case "N", "SS", "NS", "BS":
		default:
			return invalidAction(ActionAdd, p, "ADD requires a number or set, got %s", v.Tag())
		}
	}
	return Action{Kind: ActionAdd, Path: p, Value: v}
}

// DeleteFrom builds "DELETE p value". The value must be a set.
func DeleteFrom(p Path, value any) Action {
	v := ValueOf(value)
	if v.Err() == nil {
		switch v.Tag() {
		case "SS", "NS", "BS":
		default:
			return invalidAction(ActionDelete, p, "DELETE requires a set, got %s", v.Tag())
		}
	}
	return Action{Kind: ActionDelete, Path: p, Value: v}
}

// Set builds "SET p = value".
func (p Path) Set(value any) Action { return SetTo(p, value) }

// SetIfNotExists builds "SET p = if_not_exists(p, value)".
func (p Path) SetIfNotExists(value any) Action { return SetTo(p, IfNotExists(p, value)) }

// Increment builds "SET p = p + value".
func (p Path) Increment(value any) Action { return SetTo(p, Plus(p, value)) }

// Decrement builds "SET p = p - value".
func (p Path) Decrement(value any) Action { return SetTo(p, Minus(p, value)) }

// Append builds "SET p = list_append(p, value)".
func (p Path) Append(value any) Action { return SetTo(p, ListAppend(p, value)) }

// Prepend builds "SET p = list_append(value, p)".
func (p Path) Prepend(value any) Action { return SetTo(p, ListAppend(value, p)) }

// Remove builds "REMOVE p".
func (p Path) Remove() Action { return RemoveAttr(p) }

// Add builds "ADD p value".
func (p Path) Add(value any) Action { return AddTo(p, value) }

// Delete builds "DELETE p value".
func (p Path) Delete(value any) Action { return DeleteFrom(p, value) }
