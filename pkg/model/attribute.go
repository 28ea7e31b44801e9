package model

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/pkg/attr"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
)

// Attribute is a typed handle on a declared attribute. Literal operands given
// to its builders are serialized with the attribute's declared type, so a
// mismatched value fails when the node is built rather than at the store.
//
//	views := schema.MustAttr("Views")
//	cond := views.Gt(100)
//	act := views.Increment(1)
type Attribute struct {
	schema *Schema
	def    AttributeDef
}

func (a *Attribute) Name() string      { return a.def.Name }
func (a *Attribute) Type() attr.Type   { return a.def.Type }
func (a *Attribute) Role() Role        { return a.def.Role }
func (a *Attribute) Required() bool    { return a.def.Required }
func (a *Attribute) Encrypted() bool   { return a.def.Encrypted }
func (a *Attribute) Schema() *Schema   { return a.schema }
func (a *Attribute) IsKey() bool       { return a.def.Role == RoleHash || a.def.Role == RoleRange }
func (a *Attribute) Def() AttributeDef { return a.def }

// Path returns the top-level path of the attribute.
func (a *Attribute) Path() expression.Path {
	return expression.Name(a.def.Name)
}

// Serialize converts v with the declared type.
func (a *Attribute) Serialize(v any) (types.AttributeValue, error) {
	av, err := attr.Serialize(v, a.def.Type)
	if err != nil {
		return nil, withAttribute(err, a.def.Name)
	}
	return av, nil
}

// Deserialize converts a stored value with the declared type.
func (a *Attribute) Deserialize(av types.AttributeValue) (any, error) {
	v, err := attr.Deserialize(av, a.def.Type)
	if err != nil {
		return nil, withAttribute(err, a.def.Name)
	}
	return v, nil
}

func withAttribute(err error, name string) error {
	var se *customerrors.SerializationError
	if errors.As(err, &se) && se.Attribute == "" {
		return se.WithAttribute(name)
	}
	return err
}

// operand converts v to an operand: paths, attribute handles and other
// operands pass through, anything else is serialized as a value of t.
func (a *Attribute) operand(v any, t attr.Type) any {
	switch o := v.(type) {
	case *Attribute:
		return o.Path()
	case expression.Operand:
		return o
	}
	av, err := attr.Serialize(v, t)
	if err != nil {
		return expression.InvalidValue(withAttribute(err, a.def.Name))
	}
	return expression.Literal(av)
}

func (a *Attribute) value(v any) any { return a.operand(v, a.def.Type) }

// element returns the type of a single member of a set attribute, or the
// attribute's own type for scalars.
func (a *Attribute) element() attr.Type {
	switch a.def.Type {
	case attr.TypeStringSet:
		return attr.TypeString
	case attr.TypeNumberSet:
		return attr.TypeNumber
	case attr.TypeBinarySet:
		return attr.TypeBinary
	}
	return a.def.Type
}

// Eq builds a = v.
func (a *Attribute) Eq(v any) expression.Condition { return a.Path().Eq(a.value(v)) }

// Ne builds a <> v.
func (a *Attribute) Ne(v any) expression.Condition { return a.Path().Ne(a.value(v)) }

// Lt builds a < v.
func (a *Attribute) Lt(v any) expression.Condition { return a.Path().Lt(a.value(v)) }

// Le builds a <= v.
func (a *Attribute) Le(v any) expression.Condition { return a.Path().Le(a.value(v)) }

// Gt builds a > v.
func (a *Attribute) Gt(v any) expression.Condition { return a.Path().Gt(a.value(v)) }

// Ge builds a >= v.
func (a *Attribute) Ge(v any) expression.Condition { return a.Path().Ge(a.value(v)) }

// Between builds a BETWEEN low AND high.
func (a *Attribute) Between(low, high any) expression.Condition {
	return a.Path().Between(a.value(low), a.value(high))
}

// In builds a IN (candidates...).
func (a *Attribute) In(candidates ...any) expression.Condition {
	ops := make([]any, len(candidates))
	for i, c := range candidates {
		ops[i] = a.value(c)
	}
	return a.Path().In(ops...)
}

// Exists builds attribute_exists (a).
func (a *Attribute) Exists() expression.Condition { return a.Path().Exists() }

// NotExists builds attribute_not_exists (a).
func (a *Attribute) NotExists() expression.Condition { return a.Path().NotExists() }

// BeginsWith builds begins_with (a, prefix).
func (a *Attribute) BeginsWith(prefix any) expression.Condition {
	return a.Path().BeginsWith(a.value(prefix))
}

// Contains builds contains (a, v). For set attributes v is a single member;
// for lists its type is inferred.
func (a *Attribute) Contains(v any) expression.Condition {
	switch a.def.Type {
	case attr.TypeList, attr.TypeMap, attr.TypeDocument:
		return a.Path().Contains(v)
	}
	return a.Path().Contains(a.operand(v, a.element()))
}

// IsType builds attribute_type (a, tag).
func (a *Attribute) IsType(tag string) expression.Condition { return a.Path().IsType(tag) }

// Size returns size (a) for use in comparisons.
func (a *Attribute) Size() expression.Size { return a.Path().Size() }

// Set builds SET a = v.
func (a *Attribute) Set(v any) expression.Action { return a.Path().Set(a.value(v)) }

// SetIfNotExists builds SET a = if_not_exists (a, v).
func (a *Attribute) SetIfNotExists(v any) expression.Action {
	return a.Path().SetIfNotExists(a.value(v))
}

// Increment builds SET a = a + v.
func (a *Attribute) Increment(v any) expression.Action {
	return a.Path().Increment(a.operand(v, attr.TypeNumber))
}

// Decrement builds SET a = a - v.
func (a *Attribute) Decrement(v any) expression.Action {
	return a.Path().Decrement(a.operand(v, attr.TypeNumber))
}

// Append builds SET a = list_append (a, v).
func (a *Attribute) Append(v any) expression.Action {
	return a.Path().Append(a.operand(v, attr.TypeList))
}

// Prepend builds SET a = list_append (v, a).
func (a *Attribute) Prepend(v any) expression.Action {
	return a.Path().Prepend(a.operand(v, attr.TypeList))
}

// Remove builds REMOVE a.
func (a *Attribute) Remove() expression.Action { return a.Path().Remove() }

// Add builds ADD a v. Number attributes take a number, set attributes a set
// of the same type.
func (a *Attribute) Add(v any) expression.Action {
	if a.def.Type == attr.TypeVersion {
		return a.Path().Add(a.operand(v, attr.TypeNumber))
	}
	return a.Path().Add(a.value(v))
}

// Delete builds DELETE a v for set attributes.
func (a *Attribute) Delete(v any) expression.Action { return a.Path().Delete(a.value(v)) }
