package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/internal/wire"
)

// Cursor represents pagination state for DynamoDB queries
type Cursor struct {
	LastEvaluatedKey json.RawMessage `json:"lastKey"`
	IndexName        string          `json:"index,omitempty"`
	SortDirection    string          `json:"sort,omitempty"`
}

// Sort directions recorded in a cursor
const (
	SortAscending  = "ASC"
	SortDescending = "DESC"
)

// EncodeCursor encodes a DynamoDB LastEvaluatedKey into a base64 cursor string.
// An empty key encodes as "".
func EncodeCursor(lastKey map[string]types.AttributeValue, indexName string, sortDirection string) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}

	key, err := wire.MarshalItem(lastKey)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor key: %w", err)
	}

	data, err := json.Marshal(Cursor{
		LastEvaluatedKey: key,
		IndexName:        indexName,
		SortDirection:    sortDirection,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}

	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeCursor decodes a base64 cursor string into a Cursor. The empty
// string decodes to nil.
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}

	return &cursor, nil
}

// ToAttributeValues converts the cursor's LastEvaluatedKey back to DynamoDB AttributeValues
func (c *Cursor) ToAttributeValues() (map[string]types.AttributeValue, error) {
	if c == nil || len(c.LastEvaluatedKey) == 0 {
		return nil, nil
	}
	key, err := wire.UnmarshalItem(c.LastEvaluatedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor key: %w", err)
	}
	if len(key) == 0 {
		return nil, nil
	}
	return key, nil
}
