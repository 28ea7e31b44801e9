package expression

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/pkg/attr"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
)

// Operand is a node that yields a value: a Path, a Value, a Size, or one of
// the SET-only forms (Arithmetic, IfNotExistsOperand, ListAppendOperand).
type Operand interface {
	isOperand()
}

// Value is a literal attribute value.
type Value struct {
	av  types.AttributeValue
	err error
}

// ValueOf infers the wire type of v. Operands are returned unchanged when v is
// already a Value.
func ValueOf(v any) Value {
	if val, ok := v.(Value); ok {
		return val
	}
	av, err := attr.Infer(v)
	return Value{av: av, err: err}
}

// TypedValue serializes v as the declared type t.
func TypedValue(v any, t attr.Type) Value {
	av, err := attr.Serialize(v, t)
	return Value{av: av, err: err}
}

// Literal wraps an attribute value that is already in wire form.
func Literal(av types.AttributeValue) Value {
	if av == nil {
		return Value{err: customerrors.NewSerializationError("", "nil attribute value")}
	}
	return Value{av: av}
}

// InvalidValue returns a Value that carries err. Any node built from it
// reports err.
func InvalidValue(err error) Value {
	return Value{err: err}
}

// AttributeValue returns the wire value.
func (v Value) AttributeValue() types.AttributeValue { return v.av }

// Err returns the serialization error, if any.
func (v Value) Err() error { return v.err }

// Tag returns the wire type tag of the value.
func (v Value) Tag() string {
	if v.av == nil {
		return ""
	}
	return attr.TagOf(v.av)
}

func (Value) isOperand() {}

// Size is the size() function applied to a path.
type Size struct {
	Path Path
}

// SizeOf returns the size of the attribute at p.
func SizeOf(p Path) Size { return Size{Path: p} }

func (Size) isOperand() {}

// Arithmetic is "left + right" or "left - right" inside a SET action.
type Arithmetic struct {
	Op    string
	Left  Operand
	Right Operand
}

func (Arithmetic) isOperand() {}

// IfNotExistsOperand is if_not_exists(path, value) inside a SET action.
type IfNotExistsOperand struct {
	Path    Path
	Default Operand
}

func (IfNotExistsOperand) isOperand() {}

// ListAppendOperand is list_append(left, right) inside a SET action.
type ListAppendOperand struct {
	Left  Operand
	Right Operand
}

func (ListAppendOperand) isOperand() {}

// Plus returns left + right.
func Plus(left, right any) Operand {
	return Arithmetic{Op: "+", Left: operandOf(left), Right: operandOf(right)}
}

// Minus returns left - right.
func Minus(left, right any) Operand {
	return Arithmetic{Op: "-", Left: operandOf(left), Right: operandOf(right)}
}

// IfNotExists returns the value at p, or def when p is absent.
func IfNotExists(p Path, def any) Operand {
	return IfNotExistsOperand{Path: p, Default: operandOf(def)}
}

// ListAppend concatenates two lists.
func ListAppend(left, right any) Operand {
	return ListAppendOperand{Left: operandOf(left), Right: operandOf(right)}
}

func operandOf(v any) Operand {
	if op, ok := v.(Operand); ok {
		return op
	}
	return ValueOf(v)
}

// OperandErr returns the first construction error found in op.
func OperandErr(op Operand) error {
	switch o := op.(type) {
	case nil:
		return customerrors.NewCompilationError("", "missing operand")
	case Path:
		return o.Err()
	case Value:
		return o.Err()
	case Size:
		return o.Path.Err()
	case Arithmetic:
		if err := OperandErr(o.Left); err != nil {
			return err
		}
		return OperandErr(o.Right)
	case IfNotExistsOperand:
		if err := o.Path.Err(); err != nil {
			return err
		}
		return OperandErr(o.Default)
	case ListAppendOperand:
		if err := OperandErr(o.Left); err != nil {
			return err
		}
		return OperandErr(o.Right)
	}
	return nil
}
