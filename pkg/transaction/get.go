package transaction

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/internal/expr"
	"github.com/pay-theory/dynamodel/pkg/core"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/model"
)

// Decrypter opens the encrypted attributes of a stored item image.
type Decrypter interface {
	DecryptImage(ctx context.Context, s *model.Schema, image map[string]types.AttributeValue) error
}

// WithDecrypter sets the decrypter used by Get.
func WithDecrypter(d Decrypter) Option {
	return func(s *settings) { s.decrypter = d }
}

type read struct {
	schema *model.Schema
	get    types.Get
}

// Get reads several items in one consistent TransactGetItems call.
type Get struct {
	client   core.DynamoDBAPI
	settings settings
	reads    []read
	keys     map[string]struct{}
}

// NewGet creates an empty Get.
func NewGet(client core.DynamoDBAPI, opts ...Option) *Get {
	return &Get{
		client:   client,
		settings: newSettings(opts),
		keys:     make(map[string]struct{}),
	}
}

// Add queues a read of key, optionally limited to projection.
func (g *Get) Add(s *model.Schema, key map[string]types.AttributeValue, projection ...expression.Path) error {
	if len(g.reads) >= g.settings.maxItems {
		return customerrors.NewCompilationError("transaction", "more than %d reads", g.settings.maxItems)
	}
	id, err := s.KeyID(key)
	if err != nil {
		return err
	}
	if _, dup := g.keys[id]; dup {
		return customerrors.NewCompilationError("transaction", "%s is already read", id)
	}

	get := types.Get{TableName: aws.String(s.Table()), Key: key}
	if len(projection) > 0 {
		b := expr.NewBuilder()
		if err := b.Projection(projection...); err != nil {
			return err
		}
		comps := b.Build()
		get.ProjectionExpression = expr.Optional(comps.ProjectionExpression)
		get.ExpressionAttributeNames = comps.ExpressionAttributeNames
	}
	g.keys[id] = struct{}{}
	g.reads = append(g.reads, read{schema: s, get: get})
	return nil
}

// Commit performs the reads. The result has one entry per Add, in order; an
// entry is nil when the item does not exist.
func (g *Get) Commit(ctx context.Context) ([]*model.Item, error) {
	if len(g.reads) == 0 {
		return nil, nil
	}
	items := make([]types.TransactGetItem, 0, len(g.reads))
	for _, r := range g.reads {
		get := r.get
		items = append(items, types.TransactGetItem{Get: &get})
	}

	out, err := g.client.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{
		TransactItems:          items,
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	if err != nil {
		return nil, customerrors.FromClient(opTransactGet, "", err)
	}

	result := make([]*model.Item, len(g.reads))
	for i, resp := range out.Responses {
		if i >= len(g.reads) || len(resp.Item) == 0 {
			continue
		}
		s := g.reads[i].schema
		if g.settings.decrypter != nil {
			if err := g.settings.decrypter.DecryptImage(ctx, s, resp.Item); err != nil {
				return nil, err
			}
		}
		if result[i], err = s.Decode(resp.Item); err != nil {
			return nil, err
		}
	}
	return result, nil
}
