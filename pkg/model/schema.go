// Package model describes tables explicitly: a Schema is an ordered list of
// typed attributes with their key roles and secondary indexes, validated once
// at registration and immutable afterwards. Items hold the semantic values of
// one row of a schema.
package model

import (
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/internal/wire"
	"github.com/pay-theory/dynamodel/pkg/attr"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/validation"
)

// Role is the part an attribute plays in the table's primary key.
type Role int

const (
	RolePlain Role = iota
	RoleHash
	RoleRange
	RoleVersion
)

func (r Role) String() string {
	switch r {
	case RoleHash:
		return "hash"
	case RoleRange:
		return "range"
	case RoleVersion:
		return "version"
	}
	return "plain"
}

// IndexType represents the type of index
type IndexType string

const (
	GlobalSecondaryIndex IndexType = "GSI"
	LocalSecondaryIndex  IndexType = "LSI"
)

// AttributeDef declares one attribute of a table.
type AttributeDef struct {
	Name      string    `validate:"required,ddb_attr"`
	Type      attr.Type `validate:"required,ddb_type"`
	Role      Role      `validate:"min=0,max=3"`
	Required  bool
	Encrypted bool
}

// HashKey declares the partition key attribute.
func HashKey(name string, t attr.Type) AttributeDef {
	return AttributeDef{Name: name, Type: t, Role: RoleHash, Required: true}
}

// RangeKey declares the sort key attribute.
func RangeKey(name string, t attr.Type) AttributeDef {
	return AttributeDef{Name: name, Type: t, Role: RoleRange, Required: true}
}

// Field declares a non-key attribute.
func Field(name string, t attr.Type) AttributeDef {
	return AttributeDef{Name: name, Type: t}
}

// VersionField declares the optimistic locking attribute.
func VersionField(name string) AttributeDef {
	return AttributeDef{Name: name, Type: attr.TypeVersion, Role: RoleVersion}
}

// Require marks the attribute as mandatory on save.
func (d AttributeDef) Require() AttributeDef {
	d.Required = true
	return d
}

// Encrypt marks the attribute for client-side envelope encryption.
func (d AttributeDef) Encrypt() AttributeDef {
	d.Encrypted = true
	return d
}

// IndexDef declares a secondary index.
type IndexDef struct {
	Name           string    `validate:"required,ddb_index"`
	Type           IndexType `validate:"required,oneof=GSI LSI"`
	HashKey        string    `validate:"required"`
	RangeKey       string
	ProjectionType string `validate:"omitempty,oneof=ALL KEYS_ONLY INCLUDE"`
	Projected      []string
}

// SchemaDef is the declaration a Schema is built from.
type SchemaDef struct {
	Table      string         `validate:"required,ddb_table"`
	Attributes []AttributeDef `validate:"required,min=1,dive"`
	Indexes    []IndexDef     `validate:"dive"`
}

// Index is a validated secondary index.
type Index struct {
	Name           string
	Type           IndexType
	HashKey        *Attribute
	RangeKey       *Attribute
	ProjectionType string
	Projected      []string
}

// Schema is the frozen description of a table. It is safe for concurrent use.
type Schema struct {
	table   string
	attrs   []*Attribute
	byName  map[string]*Attribute
	hash    *Attribute
	rng     *Attribute
	version *Attribute
	indexes []Index
}

// NewSchema validates def and builds a Schema from it.
func NewSchema(def SchemaDef) (*Schema, error) {
	if err := validation.Struct(def); err != nil {
		return nil, fmt.Errorf("%w: %v", customerrors.ErrInvalidSchema, err)
	}

	s := &Schema{
		table:  def.Table,
		byName: make(map[string]*Attribute, len(def.Attributes)),
	}

	for _, d := range def.Attributes {
		if _, dup := s.byName[d.Name]; dup {
			return nil, invalidSchema(def.Table, "attribute %q declared twice", d.Name)
		}
		a := &Attribute{schema: s, def: d}
		s.attrs = append(s.attrs, a)
		s.byName[d.Name] = a

		switch d.Role {
		case RoleHash, RoleRange:
			if !d.Type.Scalar() {
				return nil, invalidSchema(def.Table, "key attribute %q must be a string, number or binary type", d.Name)
			}
			if d.Encrypted {
				return nil, invalidSchema(def.Table, "key attribute %q cannot be encrypted", d.Name)
			}
			slot := &s.hash
			if d.Role == RoleRange {
				slot = &s.rng
			}
			if *slot != nil {
				return nil, invalidSchema(def.Table, "more than one %s key", d.Role)
			}
			*slot = a
		case RoleVersion:
			if d.Type != attr.TypeVersion {
				return nil, invalidSchema(def.Table, "version attribute %q must have type %s", d.Name, attr.TypeVersion)
			}
			if s.version != nil {
				return nil, invalidSchema(def.Table, "more than one version attribute")
			}
			s.version = a
		}
	}

	if s.hash == nil {
		return nil, invalidSchema(def.Table, "no hash key declared")
	}

	for _, d := range def.Indexes {
		idx, err := s.buildIndex(d)
		if err != nil {
			return nil, err
		}
		s.indexes = append(s.indexes, idx)
	}

	return s, nil
}

func (s *Schema) buildIndex(d IndexDef) (Index, error) {
	if slices.ContainsFunc(s.indexes, func(i Index) bool { return i.Name == d.Name }) {
		return Index{}, invalidSchema(s.table, "index %q declared twice", d.Name)
	}
	idx := Index{Name: d.Name, Type: d.Type, ProjectionType: d.ProjectionType, Projected: slices.Clone(d.Projected)}
	if idx.ProjectionType == "" {
		idx.ProjectionType = string(types.ProjectionTypeAll)
	}

	var ok bool
	if idx.HashKey, ok = s.byName[d.HashKey]; !ok || !idx.HashKey.Type().Scalar() {
		return Index{}, invalidSchema(s.table, "index %q hash key %q is not a declared scalar attribute", d.Name, d.HashKey)
	}
	if d.RangeKey != "" {
		if idx.RangeKey, ok = s.byName[d.RangeKey]; !ok || !idx.RangeKey.Type().Scalar() {
			return Index{}, invalidSchema(s.table, "index %q range key %q is not a declared scalar attribute", d.Name, d.RangeKey)
		}
	}
	if d.Type == LocalSecondaryIndex {
		if idx.HashKey != s.hash {
			return Index{}, invalidSchema(s.table, "local index %q must share the table hash key", d.Name)
		}
		if idx.RangeKey == nil {
			return Index{}, invalidSchema(s.table, "local index %q needs a range key", d.Name)
		}
	}
	return idx, nil
}

func invalidSchema(table, format string, args ...any) error {
	return fmt.Errorf("%w: table %s: %s", customerrors.ErrInvalidSchema, table, fmt.Sprintf(format, args...))
}

// Table returns the table name.
func (s *Schema) Table() string { return s.table }

// Attributes returns the declared attributes in declaration order.
func (s *Schema) Attributes() []*Attribute { return slices.Clone(s.attrs) }

// Lookup returns the declared attribute with the given name.
func (s *Schema) Lookup(name string) (*Attribute, bool) {
	a, ok := s.byName[name]
	return a, ok
}

// MustAttr returns the declared attribute with the given name. It panics when
// the attribute is not declared.
func (s *Schema) MustAttr(name string) *Attribute {
	a, ok := s.byName[name]
	if !ok {
		panic(fmt.Sprintf("dynamodel: table %s has no attribute %q", s.table, name))
	}
	return a
}

// HashKey returns the partition key attribute.
func (s *Schema) HashKey() *Attribute { return s.hash }

// RangeKey returns the sort key attribute, or nil.
func (s *Schema) RangeKey() *Attribute { return s.rng }

// Version returns the version attribute, or nil when the table is not versioned.
func (s *Schema) Version() *Attribute { return s.version }

// Indexes returns the secondary indexes.
func (s *Schema) Indexes() []Index { return slices.Clone(s.indexes) }

// KeyNames returns the partition and sort key names of the table, or of the
// named index. The sort key name is "" when there is none.
func (s *Schema) KeyNames(index string) (hash, rng string, err error) {
	if index == "" {
		if s.rng != nil {
			rng = s.rng.Name()
		}
		return s.hash.Name(), rng, nil
	}
	for _, idx := range s.indexes {
		if idx.Name != index {
			continue
		}
		if idx.RangeKey != nil {
			rng = idx.RangeKey.Name()
		}
		return idx.HashKey.Name(), rng, nil
	}
	return "", "", fmt.Errorf("%w: table %s has no index %q", customerrors.ErrInvalidSchema, s.table, index)
}

// Key serializes a primary key. rangeKey is ignored for tables without a
// sort key and required otherwise.
func (s *Schema) Key(hashKey, rangeKey any) (map[string]types.AttributeValue, error) {
	if hashKey == nil {
		return nil, fmt.Errorf("%w: %s", customerrors.ErrMissingKey, s.hash.Name())
	}
	key := make(map[string]types.AttributeValue, 2)
	hv, err := s.hash.Serialize(hashKey)
	if err != nil {
		return nil, err
	}
	key[s.hash.Name()] = hv
	if s.rng == nil {
		return key, nil
	}
	if rangeKey == nil {
		return nil, fmt.Errorf("%w: %s", customerrors.ErrMissingKey, s.rng.Name())
	}
	rv, err := s.rng.Serialize(rangeKey)
	if err != nil {
		return nil, err
	}
	key[s.rng.Name()] = rv
	return key, nil
}

// CheckQueryable rejects conditions that refer to an encrypted attribute. The
// store only holds their envelopes, so such a condition cannot match and would
// send the plaintext as a literal. A nil condition passes.
func (s *Schema) CheckQueryable(c expression.Condition) error {
	if c == nil {
		return nil
	}
	for _, p := range expression.ConditionPaths(c) {
		if a, ok := s.byName[p.Root()]; ok && a.Encrypted() {
			return fmt.Errorf("%w: attribute %s of table %s", customerrors.ErrEncryptedFieldNotQueryable, a.Name(), s.table)
		}
	}
	return nil
}

// KeyID returns a canonical string identifying key within the table.
func (s *Schema) KeyID(key map[string]types.AttributeValue) (string, error) {
	data, err := wire.MarshalItem(key)
	if err != nil {
		return "", err
	}
	return s.table + "/" + string(data), nil
}

// EncodeValue serializes a value for the named attribute. Declared attributes
// use their declared type; any other name has its type inferred.
func (s *Schema) EncodeValue(name string, v any) (types.AttributeValue, error) {
	if a, ok := s.byName[name]; ok {
		return a.Serialize(v)
	}
	av, err := attr.Infer(v)
	if err != nil {
		return nil, withAttribute(err, name)
	}
	return av, nil
}

// EncodeValues serializes a map of raw attribute values with EncodeValue.
func (s *Schema) EncodeValues(values map[string]any) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(values))
	for name, v := range values {
		av, err := s.EncodeValue(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = av
	}
	return out, nil
}
