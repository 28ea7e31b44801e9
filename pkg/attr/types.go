// Package attr converts between Go values and DynamoDB attribute values.
//
// Each attribute in a schema declares a Type. Serialize checks that a value has
// the shape its Type requires and produces the tagged wire value; Deserialize
// does the reverse. Both are pure and safe for concurrent use.
//
// Semantic representations per Type:
//
//	TypeString     string
//	TypeNumber     Number (decimal text; Go integers, floats, json.Number and *big.Int accepted)
//	TypeBinary     []byte
//	TypeBool       bool
//	TypeNull       nil
//	TypeList       []any (elements inferred, see Infer)
//	TypeMap        map[string]any (values inferred)
//	TypeStringSet  StringSet
//	TypeNumberSet  NumberSet
//	TypeBinarySet  BinarySet
//	TypeDateTime   time.Time, stored as S in UTC
//	TypeTTL        time.Time, stored as N epoch seconds
//	TypeVersion    int64, stored as N
//	TypeJSON       any JSON-marshalable value, stored as S
//	TypeDocument   any Go value, via attributevalue.Marshal
package attr

import (
	"regexp"
)

// Type is the declared semantic type of an attribute.
type Type string

// Supported attribute types.
const (
	TypeString    Type = "S"
	TypeNumber    Type = "N"
	TypeBinary    Type = "B"
	TypeBool      Type = "BOOL"
	TypeNull      Type = "NULL"
	TypeList      Type = "L"
	TypeMap       Type = "M"
	TypeStringSet Type = "SS"
	TypeNumberSet Type = "NS"
	TypeBinarySet Type = "BS"

	TypeDateTime Type = "UTC_DATETIME"
	TypeTTL      Type = "TTL"
	TypeVersion  Type = "VERSION"
	TypeJSON     Type = "JSON"
	TypeDocument Type = "DOCUMENT"
)

// DateTimeFormat is the layout used for TypeDateTime values.
const DateTimeFormat = "2006-01-02T15:04:05.000000-0700"

var wireTags = map[Type]string{
	TypeString:    "S",
	TypeNumber:    "N",
	TypeBinary:    "B",
	TypeBool:      "BOOL",
	TypeNull:      "NULL",
	TypeList:      "L",
	TypeMap:       "M",
	TypeStringSet: "SS",
	TypeNumberSet: "NS",
	TypeBinarySet: "BS",
	TypeDateTime:  "S",
	TypeTTL:       "N",
	TypeVersion:   "N",
	TypeJSON:      "S",
	TypeDocument:  "",
}

// Wire returns the wire type tag values of t are stored under. Document
// attributes have no fixed tag and return "".
func (t Type) Wire() string {
	return wireTags[t]
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := wireTags[t]
	return ok
}

// Scalar reports whether values of t are stored as S, N or B, the only types
// allowed for key attributes.
func (t Type) Scalar() bool {
	switch t.Wire() {
	case "S", "N", "B":
		return true
	}
	return false
}

// IsWireTag reports whether s is one of the ten tags the store accepts in
// attribute_type conditions.
func IsWireTag(s string) bool {
	switch s {
	case "S", "N", "B", "BOOL", "NULL", "L", "M", "SS", "NS", "BS":
		return true
	}
	return false
}

// Number is an arbitrary-precision decimal held in its textual form.
type Number string

// String returns the decimal text.
func (n Number) String() string { return string(n) }

var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Valid reports whether n is a well-formed decimal.
func (n Number) Valid() bool {
	return decimalPattern.MatchString(string(n))
}

// StringSet is the semantic value of a TypeStringSet attribute.
type StringSet []string

// NumberSet is the semantic value of a TypeNumberSet attribute.
type NumberSet []Number

// BinarySet is the semantic value of a TypeBinarySet attribute.
type BinarySet [][]byte
