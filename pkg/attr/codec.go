package attr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
)

// now is replaced in tests.
var now = time.Now

// Serialize converts v to the wire representation of t. It fails with a
// *errors.SerializationError when v does not have the shape t requires.
func Serialize(v any, t Type) (types.AttributeValue, error) {
	switch t {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(t, v)
		}
		return &types.AttributeValueMemberS{Value: s}, nil

	case TypeNumber:
		n, err := toNumber(v)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberN{Value: string(n)}, nil

	case TypeBinary:
		b, ok := v.([]byte)
		if !ok {
			return nil, mismatch(t, v)
		}
		return &types.AttributeValueMemberB{Value: b}, nil

	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(t, v)
		}
		return &types.AttributeValueMemberBOOL{Value: b}, nil

	case TypeNull:
		if v != nil {
			return nil, mismatch(t, v)
		}
		return &types.AttributeValueMemberNULL{Value: true}, nil

	case TypeList:
		if v == nil || !isKind(v, reflect.Slice, reflect.Array) || isBytes(v) {
			return nil, mismatch(t, v)
		}
		return Infer(v)

	case TypeMap:
		if v == nil || !isKind(v, reflect.Map) {
			return nil, mismatch(t, v)
		}
		return Infer(v)

	case TypeStringSet:
		return serializeStringSet(v)

	case TypeNumberSet:
		return serializeNumberSet(v)

	case TypeBinarySet:
		return serializeBinarySet(v)

	case TypeDateTime:
		tm, ok := v.(time.Time)
		if !ok {
			return nil, mismatch(t, v)
		}
		return &types.AttributeValueMemberS{Value: tm.UTC().Format(DateTimeFormat)}, nil

	case TypeTTL:
		switch tv := v.(type) {
		case time.Time:
			return &types.AttributeValueMemberN{Value: strconv.FormatInt(tv.Unix(), 10)}, nil
		case time.Duration:
			return &types.AttributeValueMemberN{Value: strconv.FormatInt(now().Add(tv).Unix(), 10)}, nil
		}
		return nil, mismatch(t, v)

	case TypeVersion:
		n, ok := asInt64(v)
		if !ok {
			return nil, mismatch(t, v)
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}, nil

	case TypeJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, customerrors.NewSerializationError(string(t), "%v", err)
		}
		return &types.AttributeValueMemberS{Value: string(data)}, nil

	case TypeDocument:
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, customerrors.NewSerializationError(string(t), "%v", err)
		}
		return av, nil
	}

	return nil, customerrors.NewSerializationError(string(t), "unknown attribute type")
}

// Deserialize converts a wire value back to the semantic representation of t.
func Deserialize(av types.AttributeValue, t Type) (any, error) {
	if av == nil {
		return nil, customerrors.NewSerializationError(string(t), "missing attribute value")
	}
	if !t.Valid() {
		return nil, customerrors.NewSerializationError(string(t), "unknown attribute type")
	}
	if tag := t.Wire(); tag != "" && tag != tagOf(av) {
		return nil, customerrors.NewSerializationError(string(t), "stored value has type %s", tagOf(av))
	}

	switch t {
	case TypeDateTime:
		s := av.(*types.AttributeValueMemberS).Value
		tm, err := time.Parse(DateTimeFormat, s)
		if err != nil {
			return nil, customerrors.NewSerializationError(string(t), "%v", err)
		}
		return tm.UTC(), nil

	case TypeTTL:
		n := av.(*types.AttributeValueMemberN).Value
		secs, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, customerrors.NewSerializationError(string(t), "%q is not an epoch timestamp", n)
		}
		return time.Unix(secs, 0).UTC(), nil

	case TypeVersion:
		n := av.(*types.AttributeValueMemberN).Value
		v, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, customerrors.NewSerializationError(string(t), "%q is not an integer version", n)
		}
		return v, nil

	case TypeJSON:
		var out any
		if err := json.Unmarshal([]byte(av.(*types.AttributeValueMemberS).Value), &out); err != nil {
			return nil, customerrors.NewSerializationError(string(t), "%v", err)
		}
		return out, nil

	case TypeDocument:
		var out any
		if err := attributevalue.Unmarshal(av, &out); err != nil {
			return nil, customerrors.NewSerializationError(string(t), "%v", err)
		}
		return out, nil
	}

	return Decode(av)
}

// DecodeDocument unmarshals a document attribute into out.
func DecodeDocument(av types.AttributeValue, out any) error {
	if err := attributevalue.Unmarshal(av, out); err != nil {
		return customerrors.NewSerializationError(string(TypeDocument), "%v", err)
	}
	return nil
}

// Decode converts a wire value to its dynamic semantic representation.
func Decode(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return Number(v.Value), nil
	case *types.AttributeValueMemberB:
		return v.Value, nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberL:
		list := make([]any, len(v.Value))
		for i, elem := range v.Value {
			d, err := Decode(elem)
			if err != nil {
				return nil, err
			}
			list[i] = d
		}
		return list, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]any, len(v.Value))
		for k, elem := range v.Value {
			d, err := Decode(elem)
			if err != nil {
				return nil, err
			}
			m[k] = d
		}
		return m, nil
	case *types.AttributeValueMemberSS:
		return StringSet(append([]string(nil), v.Value...)), nil
	case *types.AttributeValueMemberNS:
		set := make(NumberSet, len(v.Value))
		for i, n := range v.Value {
			set[i] = Number(n)
		}
		return set, nil
	case *types.AttributeValueMemberBS:
		return BinarySet(append([][]byte(nil), v.Value...)), nil
	}
	return nil, customerrors.NewSerializationError("", "unsupported attribute value %T", av)
}

// Infer converts v to an attribute value without a declared type, choosing
// the wire type from v's Go type. It is used for list elements, map values and
// untyped expression literals.
func Infer(v any) (types.AttributeValue, error) {
	switch tv := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case types.AttributeValue:
		return tv, nil
	case string:
		return &types.AttributeValueMemberS{Value: tv}, nil
	case Number, json.Number, *big.Int, *big.Float,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return Serialize(tv, TypeNumber)
	case bool:
		return &types.AttributeValueMemberBOOL{Value: tv}, nil
	case []byte:
		return &types.AttributeValueMemberB{Value: tv}, nil
	case StringSet:
		return serializeStringSet(tv)
	case NumberSet:
		return serializeNumberSet(tv)
	case BinarySet:
		return serializeBinarySet(tv)
	case time.Time:
		return Serialize(tv, TypeDateTime)
	case []any:
		return inferList(reflect.ValueOf(tv))
	case map[string]any:
		return inferMap(reflect.ValueOf(tv))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		return Infer(rv.Elem().Interface())
	case reflect.String:
		return &types.AttributeValueMemberS{Value: rv.String()}, nil
	case reflect.Slice, reflect.Array:
		return inferList(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, customerrors.NewSerializationError(string(TypeMap), "map keys must be strings, got %s", rv.Type().Key())
		}
		return inferMap(rv)
	case reflect.Struct:
		return Serialize(v, TypeDocument)
	}
	return nil, customerrors.NewSerializationError("", "unsupported value of type %T", v)
}

func inferList(rv reflect.Value) (types.AttributeValue, error) {
	list := make([]types.AttributeValue, rv.Len())
	for i := range rv.Len() {
		av, err := Infer(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		list[i] = av
	}
	return &types.AttributeValueMemberL{Value: list}, nil
}

func inferMap(rv reflect.Value) (types.AttributeValue, error) {
	m := make(map[string]types.AttributeValue, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		av, err := Infer(iter.Value().Interface())
		if err != nil {
			return nil, err
		}
		m[iter.Key().String()] = av
	}
	return &types.AttributeValueMemberM{Value: m}, nil
}

func toNumber(v any) (Number, error) {
	var n Number
	switch tv := v.(type) {
	case Number:
		n = tv
	case json.Number:
		n = Number(tv)
	case string:
		// Text is accepted so long as it is a decimal.
		n = Number(tv)
	case *big.Int:
		if tv == nil {
			return "", mismatch(TypeNumber, v)
		}
		n = Number(tv.String())
	case *big.Float:
		if tv == nil || tv.IsInf() {
			return "", mismatch(TypeNumber, v)
		}
		n = Number(tv.Text('f', -1))
	case float32:
		return floatNumber(float64(tv), 32)
	case float64:
		return floatNumber(tv, 64)
	default:
		if i, ok := asInt64(v); ok {
			return Number(strconv.FormatInt(i, 10)), nil
		}
		if u, ok := asUint64(v); ok {
			return Number(strconv.FormatUint(u, 10)), nil
		}
		return "", mismatch(TypeNumber, v)
	}
	if !n.Valid() {
		return "", customerrors.NewSerializationError(string(TypeNumber), "%q is not a decimal number", string(n))
	}
	return n, nil
}

func floatNumber(f float64, bits int) (Number, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", customerrors.NewSerializationError(string(TypeNumber), "%v cannot be stored", f)
	}
	return Number(strconv.FormatFloat(f, 'f', -1, bits)), nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	}
	return 0, false
}

func serializeStringSet(v any) (types.AttributeValue, error) {
	var items []string
	switch tv := v.(type) {
	case StringSet:
		items = tv
	case []string:
		items = tv
	default:
		return nil, mismatch(TypeStringSet, v)
	}
	if err := checkSet(TypeStringSet, items, func(s string) string { return s }); err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberSS{Value: append([]string(nil), items...)}, nil
}

func serializeNumberSet(v any) (types.AttributeValue, error) {
	var items []string
	switch tv := v.(type) {
	case NumberSet:
		for _, n := range tv {
			items = append(items, string(n))
		}
	case []Number:
		for _, n := range tv {
			items = append(items, string(n))
		}
	default:
		if !isKind(v, reflect.Slice) {
			return nil, mismatch(TypeNumberSet, v)
		}
		rv := reflect.ValueOf(v)
		for i := range rv.Len() {
			n, err := toNumber(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			items = append(items, string(n))
		}
	}
	for _, n := range items {
		if !Number(n).Valid() {
			return nil, customerrors.NewSerializationError(string(TypeNumberSet), "%q is not a decimal number", n)
		}
	}
	if err := checkSet(TypeNumberSet, items, func(s string) string { return s }); err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberNS{Value: items}, nil
}

func serializeBinarySet(v any) (types.AttributeValue, error) {
	var items [][]byte
	switch tv := v.(type) {
	case BinarySet:
		items = tv
	case [][]byte:
		items = tv
	default:
		return nil, mismatch(TypeBinarySet, v)
	}
	if err := checkSet(TypeBinarySet, items, base64.StdEncoding.EncodeToString); err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberBS{Value: append([][]byte(nil), items...)}, nil
}

func checkSet[T any](t Type, items []T, key func(T) string) error {
	if len(items) == 0 {
		return customerrors.NewSerializationError(string(t), "sets must not be empty")
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		k := key(item)
		if _, dup := seen[k]; dup {
			return customerrors.NewSerializationError(string(t), "duplicate set member")
		}
		seen[k] = struct{}{}
	}
	return nil
}

func tagOf(av types.AttributeValue) string {
	switch av.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	}
	return fmt.Sprintf("%T", av)
}

// TagOf returns the wire type tag of av.
func TagOf(av types.AttributeValue) string {
	return tagOf(av)
}

func isKind(v any, kinds ...reflect.Kind) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func isBytes(v any) bool {
	_, ok := v.([]byte)
	return ok
}

func mismatch(t Type, v any) error {
	return customerrors.NewSerializationError(string(t), "value of type %T does not match", v)
}
