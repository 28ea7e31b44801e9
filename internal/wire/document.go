// Package wire renders DynamoDB attribute values as the JSON documents the
// service exchanges on the wire ({"S": "..."}, {"N": "..."}, ...).
//
// Encoding is canonical: map keys are sorted and binary payloads use standard
// base64, so two equal values always produce identical bytes.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Marshal encodes a single attribute value.
func Marshal(av types.AttributeValue) ([]byte, error) {
	doc, err := toDocument(av)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// Canonical returns the canonical encoding of av as a string.
func Canonical(av types.AttributeValue) (string, error) {
	b, err := Marshal(av)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MarshalItem encodes an item or key map.
func MarshalItem(item map[string]types.AttributeValue) ([]byte, error) {
	doc := make(map[string]any, len(item))
	for name, av := range item {
		d, err := toDocument(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		doc[name] = d
	}
	return json.Marshal(doc)
}

// Unmarshal decodes a single attribute value document.
func Unmarshal(data []byte) (types.AttributeValue, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wire: decode attribute value: %w", err)
	}
	return fromDocument(raw)
}

// UnmarshalItem decodes an item or key map.
func UnmarshalItem(data []byte) (map[string]types.AttributeValue, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wire: decode item: %w", err)
	}
	item := make(map[string]types.AttributeValue, len(raw))
	for name, doc := range raw {
		av, err := fromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		item[name] = av
	}
	return item, nil
}

func toDocument(av types.AttributeValue) (map[string]any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return map[string]any{"S": v.Value}, nil
	case *types.AttributeValueMemberN:
		return map[string]any{"N": v.Value}, nil
	case *types.AttributeValueMemberB:
		return map[string]any{"B": base64.StdEncoding.EncodeToString(v.Value)}, nil
	case *types.AttributeValueMemberBOOL:
		return map[string]any{"BOOL": v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return map[string]any{"NULL": true}, nil
	case *types.AttributeValueMemberL:
		list := make([]any, len(v.Value))
		for i, elem := range v.Value {
			d, err := toDocument(elem)
			if err != nil {
				return nil, err
			}
			list[i] = d
		}
		return map[string]any{"L": list}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]any, len(v.Value))
		for k, elem := range v.Value {
			d, err := toDocument(elem)
			if err != nil {
				return nil, err
			}
			m[k] = d
		}
		return map[string]any{"M": m}, nil
	case *types.AttributeValueMemberSS:
		return map[string]any{"SS": nonNil(v.Value)}, nil
	case *types.AttributeValueMemberNS:
		return map[string]any{"NS": nonNil(v.Value)}, nil
	case *types.AttributeValueMemberBS:
		enc := make([]string, len(v.Value))
		for i, b := range v.Value {
			enc[i] = base64.StdEncoding.EncodeToString(b)
		}
		return map[string]any{"BS": enc}, nil
	case nil:
		return nil, fmt.Errorf("wire: nil attribute value")
	default:
		return nil, fmt.Errorf("wire: unsupported attribute value %T", av)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func fromDocument(raw map[string]json.RawMessage) (types.AttributeValue, error) {
	if len(raw) != 1 {
		return nil, fmt.Errorf("wire: attribute value must have exactly one type tag, got %d", len(raw))
	}
	for tag, payload := range raw {
		switch tag {
		case "S":
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return nil, fmt.Errorf("wire: S: %w", err)
			}
			return &types.AttributeValueMemberS{Value: s}, nil
		case "N":
			var n string
			if err := json.Unmarshal(payload, &n); err != nil {
				return nil, fmt.Errorf("wire: N: %w", err)
			}
			return &types.AttributeValueMemberN{Value: n}, nil
		case "B":
			b, err := decodeBinary(payload)
			if err != nil {
				return nil, err
			}
			return &types.AttributeValueMemberB{Value: b}, nil
		case "BOOL":
			var b bool
			if err := json.Unmarshal(payload, &b); err != nil {
				return nil, fmt.Errorf("wire: BOOL: %w", err)
			}
			return &types.AttributeValueMemberBOOL{Value: b}, nil
		case "NULL":
			return &types.AttributeValueMemberNULL{Value: true}, nil
		case "L":
			var elems []map[string]json.RawMessage
			if err := json.Unmarshal(payload, &elems); err != nil {
				return nil, fmt.Errorf("wire: L: %w", err)
			}
			list := make([]types.AttributeValue, len(elems))
			for i, e := range elems {
				av, err := fromDocument(e)
				if err != nil {
					return nil, err
				}
				list[i] = av
			}
			return &types.AttributeValueMemberL{Value: list}, nil
		case "M":
			var elems map[string]map[string]json.RawMessage
			if err := json.Unmarshal(payload, &elems); err != nil {
				return nil, fmt.Errorf("wire: M: %w", err)
			}
			m := make(map[string]types.AttributeValue, len(elems))
			for k, e := range elems {
				av, err := fromDocument(e)
				if err != nil {
					return nil, err
				}
				m[k] = av
			}
			return &types.AttributeValueMemberM{Value: m}, nil
		case "SS", "NS":
			var ss []string
			if err := json.Unmarshal(payload, &ss); err != nil {
				return nil, fmt.Errorf("wire: %s: %w", tag, err)
			}
			if tag == "SS" {
				return &types.AttributeValueMemberSS{Value: ss}, nil
			}
			return &types.AttributeValueMemberNS{Value: ss}, nil
		case "BS":
			var enc []string
			if err := json.Unmarshal(payload, &enc); err != nil {
				return nil, fmt.Errorf("wire: BS: %w", err)
			}
			bs := make([][]byte, len(enc))
			for i, s := range enc {
				b, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return nil, fmt.Errorf("wire: BS: %w", err)
				}
				bs[i] = b
			}
			return &types.AttributeValueMemberBS{Value: bs}, nil
		default:
			return nil, fmt.Errorf("wire: unknown type tag %q", tag)
		}
	}
	return nil, nil
}

func decodeBinary(payload json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("wire: B: %w", err)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("wire: B: %w", err)
	}
	return b, nil
}
