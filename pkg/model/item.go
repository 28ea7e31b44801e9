package model

import (
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/pkg/attr"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
)

// Item is the local state of one row. Declared attributes hold semantic
// values; attributes the schema does not declare are kept in wire form and
// written back unchanged.
//
// An Item must not be mutated concurrently.
type Item struct {
	schema  *Schema
	values  map[string]any
	extra   map[string]types.AttributeValue
	version int64
	hasVer  bool
	deleted bool
}

// NewItem returns an empty, unsaved item of schema s.
func NewItem(s *Schema) *Item {
	return &Item{
		schema: s,
		values: make(map[string]any),
		extra:  make(map[string]types.AttributeValue),
	}
}

// NewItemWithKey returns an item with its primary key set.
func NewItemWithKey(s *Schema, hashKey, rangeKey any) (*Item, error) {
	it := NewItem(s)
	if err := it.Set(s.hash.Name(), hashKey); err != nil {
		return nil, err
	}
	if s.rng != nil {
		if err := it.Set(s.rng.Name(), rangeKey); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// Schema returns the item's schema.
func (it *Item) Schema() *Schema { return it.schema }

// Get returns the value of a declared attribute.
func (it *Item) Get(name string) (any, bool) {
	if v := it.schema.version; v != nil && v.Name() == name {
		return it.version, it.hasVer
	}
	v, ok := it.values[name]
	return v, ok
}

// Set stores the value of a declared attribute. The value is checked against
// the declared type immediately. The version attribute is managed by the
// library and cannot be set.
func (it *Item) Set(name string, v any) error {
	a, ok := it.schema.byName[name]
	if !ok {
		return fmt.Errorf("%w: table %s has no attribute %q", customerrors.ErrInvalidSchema, it.schema.table, name)
	}
	if a.Role() == RoleVersion {
		return fmt.Errorf("%w: version attribute %q is managed by optimistic locking", customerrors.ErrInvalidSchema, name)
	}
	if v == nil {
		return fmt.Errorf("%w: use Unset to clear %q", customerrors.ErrInvalidSchema, name)
	}
	if _, err := a.Serialize(v); err != nil {
		return err
	}
	it.values[name] = v
	return nil
}

// Unset clears a declared attribute. Key attributes cannot be cleared.
func (it *Item) Unset(name string) {
	if a, ok := it.schema.byName[name]; ok && a.IsKey() {
		return
	}
	delete(it.values, name)
	delete(it.extra, name)
}

// Version returns the local version and whether one is set. It is always
// unset for tables without a version attribute.
func (it *Item) Version() (int64, bool) {
	return it.version, it.hasVer
}

// SetVersion records a version confirmed by the store.
func (it *Item) SetVersion(v int64) {
	if it.schema.version == nil {
		return
	}
	it.version, it.hasVer = v, true
}

// Deleted reports whether the item was deleted through this handle.
func (it *Item) Deleted() bool { return it.deleted }

// MarkDeleted records a confirmed delete.
func (it *Item) MarkDeleted() { it.deleted = true }

// Key serializes the item's primary key.
func (it *Item) Key() (map[string]types.AttributeValue, error) {
	hv := it.values[it.schema.hash.Name()]
	var rv any
	if it.schema.rng != nil {
		rv = it.values[it.schema.rng.Name()]
	}
	return it.schema.Key(hv, rv)
}

// KeyID returns a canonical string identifying the item's table and key.
func (it *Item) KeyID() (string, error) {
	key, err := it.Key()
	if err != nil {
		return "", err
	}
	return it.schema.KeyID(key)
}

// Encode serializes every set attribute, including the version and any
// undeclared attributes. It fails when a required attribute is missing.
func (it *Item) Encode() (map[string]types.AttributeValue, error) {
	out := maps.Clone(it.extra)
	if out == nil {
		out = make(map[string]types.AttributeValue, len(it.values)+1)
	}
	for _, a := range it.schema.attrs {
		if a.Role() == RoleVersion {
			if it.hasVer {
				av, err := a.Serialize(it.version)
				if err != nil {
					return nil, err
				}
				out[a.Name()] = av
			}
			continue
		}
		v, ok := it.values[a.Name()]
		if !ok {
			if a.Required() {
				if a.IsKey() {
					return nil, fmt.Errorf("%w: %s", customerrors.ErrMissingKey, a.Name())
				}
				return nil, customerrors.NewSerializationError(string(a.Type()), "required attribute is not set").WithAttribute(a.Name())
			}
			continue
		}
		av, err := a.Serialize(v)
		if err != nil {
			return nil, err
		}
		out[a.Name()] = av
	}
	return out, nil
}

// Decode replaces the item's state with a stored image.
func (it *Item) Decode(image map[string]types.AttributeValue) error {
	fresh, err := it.schema.Decode(image)
	if err != nil {
		return err
	}
	it.Replace(fresh)
	return nil
}

// Decode builds an item from a stored image.
func (s *Schema) Decode(image map[string]types.AttributeValue) (*Item, error) {
	it := NewItem(s)
	for name, av := range image {
		a, ok := s.byName[name]
		if !ok {
			it.extra[name] = av
			continue
		}
		if _, isNull := av.(*types.AttributeValueMemberNULL); isNull && a.Type() != attr.TypeNull {
			continue
		}
		v, err := a.Deserialize(av)
		if err != nil {
			return nil, err
		}
		if a.Role() == RoleVersion {
			it.version, it.hasVer = v.(int64), true
			continue
		}
		it.values[name] = v
	}
	return it, nil
}

// Replace copies all state of other into it, including the version.
func (it *Item) Replace(other *Item) {
	it.values = maps.Clone(other.values)
	it.extra = maps.Clone(other.extra)
	it.version, it.hasVer = other.version, other.hasVer
	it.deleted = other.deleted
}

// Clone returns an independent copy of the item. Slice and map values are
// shared with the original.
func (it *Item) Clone() *Item {
	cp := NewItem(it.schema)
	cp.Replace(it)
	return cp
}

// Names returns the names of all set attributes in sorted order.
func (it *Item) Names() []string {
	names := slices.Collect(maps.Keys(it.values))
	names = append(names, slices.Collect(maps.Keys(it.extra))...)
	if it.hasVer {
		names = append(names, it.schema.version.Name())
	}
	slices.Sort(names)
	return names
}

// Unmarshal decodes the item into a struct using attributevalue tags.
func (it *Item) Unmarshal(out any) error {
	image, err := it.Encode()
	if err != nil {
		return err
	}
	if err := attributevalue.UnmarshalMap(image, out); err != nil {
		return customerrors.NewSerializationError("M", "%v", err)
	}
	return nil
}

// FromStruct builds an item from a struct marshaled with attributevalue tags.
// A version attribute present in the struct is taken as the local version.
func FromStruct(s *Schema, in any) (*Item, error) {
	image, err := attributevalue.MarshalMap(in)
	if err != nil {
		return nil, customerrors.NewSerializationError("M", "%v", err)
	}
	return s.Decode(image)
}
