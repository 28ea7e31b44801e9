package dynamodel

import (
	"context"
	"fmt"
	"maps"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/internal/encryption"
	"github.com/pay-theory/dynamodel/internal/expr"
	"github.com/pay-theory/dynamodel/pkg/batch"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/model"
	"github.com/pay-theory/dynamodel/pkg/query"
)

const (
	opGetItem    = "GetItem"
	opPutItem    = "PutItem"
	opUpdateItem = "UpdateItem"
	opDeleteItem = "DeleteItem"
)

// Table runs requests against one registered table. The methods taking raw
// key and attribute maps send exactly what they are given; the item methods
// in item.go add version guards and local state tracking.
type Table struct {
	db     *DB
	schema *model.Schema
}

// Schema returns the table's schema.
func (t *Table) Schema() *model.Schema { return t.schema }

// Name returns the table name.
func (t *Table) Name() string { return t.schema.Table() }

// WriteOption configures a single write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	condition    expression.Condition
	returnValues types.ReturnValue
}

// If makes the write conditional on c.
func If(c expression.Condition) WriteOption {
	return func(o *writeOptions) { o.condition = c }
}

// WithReturnValues asks the store to return item attributes from the write.
func WithReturnValues(rv types.ReturnValue) WriteOption {
	return func(o *writeOptions) { o.returnValues = rv }
}

func writeOptionsOf(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ReadOption configures a single read.
type ReadOption func(*readOptions)

type readOptions struct {
	consistent bool
	projection []expression.Path
}

// Consistent requests a strongly consistent read.
func Consistent() ReadOption {
	return func(o *readOptions) { o.consistent = true }
}

// Project limits the attributes returned by a read.
func Project(paths ...expression.Path) ReadOption {
	return func(o *readOptions) { o.projection = append(o.projection, paths...) }
}

func readOptionsOf(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (t *Table) optionalCondition(c expression.Condition) (expr.ExpressionComponents, error) {
	if c == nil {
		return expr.ExpressionComponents{}, nil
	}
	if err := t.schema.CheckQueryable(c); err != nil {
		return expr.ExpressionComponents{}, err
	}
	return expr.CompileCondition(c)
}

// PutItem writes key merged with attributes; attributes win on conflict.
func (t *Table) PutItem(ctx context.Context, key, attributes map[string]types.AttributeValue, opts ...WriteOption) (*dynamodb.PutItemOutput, error) {
	o := writeOptionsOf(opts)
	item := make(map[string]types.AttributeValue, len(key)+len(attributes))
	maps.Copy(item, key)
	maps.Copy(item, attributes)

	comps, err := t.optionalCondition(o.condition)
	if err != nil {
		return nil, err
	}
	return t.put(ctx, item, comps, o.returnValues)
}

func (t *Table) put(ctx context.Context, item map[string]types.AttributeValue, comps expr.ExpressionComponents, rv types.ReturnValue) (*dynamodb.PutItemOutput, error) {
	sealed, err := t.seal(ctx, item)
	if err != nil {
		return nil, err
	}
	out, err := t.db.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(t.Name()),
		Item:                      sealed,
		ConditionExpression:       expr.Optional(comps.ConditionExpression),
		ExpressionAttributeNames:  comps.ExpressionAttributeNames,
		ExpressionAttributeValues: comps.ExpressionAttributeValues,
		ReturnValues:              rv,
		ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
	})
	if err != nil {
		return nil, customerrors.FromClient(opPutItem, t.Name(), err)
	}
	return out, nil
}

// UpdateItem applies actions to the item at key. Encrypted attributes can only
// be written by a put.
func (t *Table) UpdateItem(ctx context.Context, key map[string]types.AttributeValue, actions []expression.Action, opts ...WriteOption) (*dynamodb.UpdateItemOutput, error) {
	for _, a := range actions {
		if target, ok := t.schema.Lookup(a.Path.Root()); ok && target.Encrypted() {
			return nil, customerrors.NewCompilationError("update", "encrypted attribute %q can only be written by a put", target.Name())
		}
	}
	o := writeOptionsOf(opts)
	if err := t.schema.CheckQueryable(o.condition); err != nil {
		return nil, err
	}
	comps, err := expr.CompileUpdate(o.condition, actions...)
	if err != nil {
		return nil, err
	}
	return t.update(ctx, key, comps, o.returnValues)
}

func (t *Table) update(ctx context.Context, key map[string]types.AttributeValue, comps expr.ExpressionComponents, rv types.ReturnValue) (*dynamodb.UpdateItemOutput, error) {
	out, err := t.db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.Name()),
		Key:                       key,
		UpdateExpression:          aws.String(comps.UpdateExpression),
		ConditionExpression:       expr.Optional(comps.ConditionExpression),
		ExpressionAttributeNames:  comps.ExpressionAttributeNames,
		ExpressionAttributeValues: comps.ExpressionAttributeValues,
		ReturnValues:              rv,
		ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
	})
	if err != nil {
		return nil, customerrors.FromClient(opUpdateItem, t.Name(), err)
	}
	return out, nil
}

// DeleteItem removes the item at key.
func (t *Table) DeleteItem(ctx context.Context, key map[string]types.AttributeValue, opts ...WriteOption) (*dynamodb.DeleteItemOutput, error) {
	o := writeOptionsOf(opts)
	comps, err := t.optionalCondition(o.condition)
	if err != nil {
		return nil, err
	}
	return t.delete(ctx, key, comps, o.returnValues)
}

func (t *Table) delete(ctx context.Context, key map[string]types.AttributeValue, comps expr.ExpressionComponents, rv types.ReturnValue) (*dynamodb.DeleteItemOutput, error) {
	out, err := t.db.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(t.Name()),
		Key:                       key,
		ConditionExpression:       expr.Optional(comps.ConditionExpression),
		ExpressionAttributeNames:  comps.ExpressionAttributeNames,
		ExpressionAttributeValues: comps.ExpressionAttributeValues,
		ReturnValues:              rv,
		ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
	})
	if err != nil {
		return nil, customerrors.FromClient(opDeleteItem, t.Name(), err)
	}
	return out, nil
}

// GetItem reads the raw image at key. An absent item is a DoesNotExist error.
// Encrypted attributes are returned sealed.
func (t *Table) GetItem(ctx context.Context, key map[string]types.AttributeValue, opts ...ReadOption) (map[string]types.AttributeValue, error) {
	o := readOptionsOf(opts)
	in := &dynamodb.GetItemInput{
		TableName:              aws.String(t.Name()),
		Key:                    key,
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}
	if o.consistent {
		in.ConsistentRead = aws.Bool(true)
	}
	if len(o.projection) > 0 {
		b := expr.NewBuilder()
		if err := b.Projection(o.projection...); err != nil {
			return nil, err
		}
		comps := b.Build()
		in.ProjectionExpression = expr.Optional(comps.ProjectionExpression)
		in.ExpressionAttributeNames = comps.ExpressionAttributeNames
	}

	out, err := t.db.client.GetItem(ctx, in)
	if err != nil {
		return nil, customerrors.FromClient(opGetItem, t.Name(), err)
	}
	if len(out.Item) == 0 {
		return nil, customerrors.DoesNotExist(opGetItem, t.Name())
	}
	return out.Item, nil
}

// Exists reports whether an item is stored at key. Only the hash key is read.
func (t *Table) Exists(ctx context.Context, key map[string]types.AttributeValue) (bool, error) {
	_, err := t.GetItem(ctx, key, Project(t.schema.HashKey().Path()))
	if customerrors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Query returns a lazy iterator over the items matching keyCondition. Pages
// are fetched by the iterator's Next.
func (t *Table) Query(keyCondition expression.Condition, opts query.Options) (*query.Iterator, error) {
	if opts.Decoder == nil {
		opts.Decoder = t.decode
	}
	return query.NewQuery(t.db.client, t.schema, keyCondition, opts)
}

// Scan returns a lazy iterator over the table or opts.IndexName.
func (t *Table) Scan(opts query.Options) (*query.Iterator, error) {
	if opts.Decoder == nil {
		opts.Decoder = t.decode
	}
	return query.NewScan(t.db.client, t.schema, opts)
}

// Count returns the number of matching items without reading them. A nil
// keyCondition counts with a scan.
func (t *Table) Count(ctx context.Context, keyCondition expression.Condition, opts query.Options) (int64, error) {
	var (
		it  *query.Iterator
		err error
	)
	if keyCondition == nil {
		it, err = t.Scan(opts)
	} else {
		it, err = t.Query(keyCondition, opts)
	}
	if err != nil {
		return 0, err
	}
	return it.Count(ctx)
}

// BatchWriteItem sends puts and deletes in chunks of 25, retrying what the
// store leaves unprocessed.
func (t *Table) BatchWriteItem(ctx context.Context, puts, deletes []map[string]types.AttributeValue) error {
	sealed := make([]map[string]types.AttributeValue, 0, len(puts))
	for _, item := range puts {
		s, err := t.seal(ctx, item)
		if err != nil {
			return err
		}
		sealed = append(sealed, s)
	}
	requests := append(batch.PutRequests(sealed...), batch.DeleteRequests(deletes...)...)
	return t.db.chunker.Write(ctx, t.Name(), requests)
}

// BatchGetItem reads keys in chunks of 100. Duplicate keys are read once and
// the result order is unspecified.
func (t *Table) BatchGetItem(ctx context.Context, keys []map[string]types.AttributeValue, opts ...ReadOption) ([]map[string]types.AttributeValue, error) {
	o := readOptionsOf(opts)
	return t.db.chunker.Get(ctx, t.Name(), keys, batch.GetOptions{
		ConsistentRead: o.consistent,
		Projection:     o.projection,
	})
}

// NewBatchWriter returns a writer that flushes every 25 requests. Encrypted
// attributes are sealed as items are put.
func (t *Table) NewBatchWriter() *batch.Writer {
	return t.db.chunker.NewWriter(t.Name(), batch.WithPrepare(t.seal))
}

// seal returns item with its encrypted attributes sealed. item itself is
// never modified.
func (t *Table) seal(ctx context.Context, item map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	if !encryption.SchemaHasEncryptedFields(t.schema) {
		return item, nil
	}
	if t.db.crypto == nil {
		return nil, fmt.Errorf("%w: table %s", customerrors.ErrEncryptionNotConfigured, t.Name())
	}
	sealed := maps.Clone(item)
	if err := t.db.crypto.EncryptImage(ctx, t.schema, sealed); err != nil {
		return nil, err
	}
	return sealed, nil
}

// decode opens the encrypted attributes of a stored image and builds an item.
func (t *Table) decode(ctx context.Context, image map[string]types.AttributeValue) (*model.Item, error) {
	if encryption.SchemaHasEncryptedFields(t.schema) {
		if t.db.crypto == nil {
			return nil, fmt.Errorf("%w: table %s", customerrors.ErrEncryptionNotConfigured, t.Name())
		}
		image = maps.Clone(image)
		if err := t.db.crypto.DecryptImage(ctx, t.schema, image); err != nil {
			return nil, err
		}
	}
	return t.schema.Decode(image)
}
