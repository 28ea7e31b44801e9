package dynamodel

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/model"
)

// Stream event names.
const (
	StreamInsert = "INSERT"
	StreamModify = "MODIFY"
	StreamRemove = "REMOVE"
)

// StreamChange is one decoded stream record. Old and New are nil when the
// stream view does not carry that image.
type StreamChange struct {
	Table          string
	EventName      string
	SequenceNumber string
	Keys           map[string]types.AttributeValue
	Old            *model.Item
	New            *model.Item
}

// DecodeStreamRecord decodes a Lambda stream record of a registered table.
// The table is taken from the record's event source ARN.
func (db *DB) DecodeStreamRecord(ctx context.Context, record events.DynamoDBEventRecord) (*StreamChange, error) {
	name, err := tableFromStreamARN(record.EventSourceArn)
	if err != nil {
		return nil, err
	}
	t, err := db.Lookup(name)
	if err != nil {
		return nil, err
	}

	change := &StreamChange{
		Table:          name,
		EventName:      record.EventName,
		SequenceNumber: record.Change.SequenceNumber,
	}
	if change.Keys, err = FromStreamImage(record.Change.Keys); err != nil {
		return nil, err
	}
	if len(record.Change.OldImage) > 0 {
		if change.Old, err = t.DecodeStreamImage(ctx, record.Change.OldImage); err != nil {
			return nil, err
		}
	}
	if len(record.Change.NewImage) > 0 {
		if change.New, err = t.DecodeStreamImage(ctx, record.Change.NewImage); err != nil {
			return nil, err
		}
	}
	return change, nil
}

// DecodeStreamImage builds an item from a stream image, opening encrypted
// attributes.
func (t *Table) DecodeStreamImage(ctx context.Context, image map[string]events.DynamoDBAttributeValue) (*model.Item, error) {
	av, err := FromStreamImage(image)
	if err != nil {
		return nil, err
	}
	return t.decode(ctx, av)
}

// "arn:aws:dynamodb:region:account:table/Name/stream/label"
func tableFromStreamARN(arn string) (string, error) {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return "", fmt.Errorf("event source %q is not a DynamoDB table stream", arn)
	}
	name, _, _ := strings.Cut(rest, "/")
	if name == "" {
		return "", fmt.Errorf("event source %q is not a DynamoDB table stream", arn)
	}
	return name, nil
}

// FromStreamImage converts a Lambda stream image to wire attribute values.
func FromStreamImage(image map[string]events.DynamoDBAttributeValue) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(image))
	for name, v := range image {
		av, err := fromStreamValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		out[name] = av
	}
	return out, nil
}

func fromStreamValue(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, e := range list {
			av, err := fromStreamValue(e)
			if err != nil {
				return nil, err
			}
			out = append(out, av)
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case events.DataTypeMap:
		m, err := FromStreamImage(v.Map())
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return nil, customerrors.NewSerializationError("stream", "unsupported stream data type %d", v.DataType())
}
