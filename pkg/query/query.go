// Package query pages through Query and Scan results.
package query

import (
	"context"
	"iter"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/internal/expr"
	"github.com/pay-theory/dynamodel/pkg/core"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/model"
)

const (
	opQuery = "Query"
	opScan  = "Scan"
)

// Decoder turns a raw item image into a model item.
type Decoder func(ctx context.Context, image map[string]types.AttributeValue) (*model.Item, error)

// Options configures a query or scan.
type Options struct {
	IndexName  string
	Filter     expression.Condition
	Projection []expression.Path

	ConsistentRead bool
	// ScanIndexForward applies to queries only; nil leaves the store default.
	ScanIndexForward *bool

	// Limit bounds the number of items across all pages. Zero means no limit.
	Limit int32
	// PageSize bounds the number of items evaluated per request.
	PageSize int32

	// Segment and TotalSegments split a scan for parallel workers.
	Segment       int32
	TotalSegments int32

	StartKey map[string]types.AttributeValue
	Cursor   string

	// Decoder overrides Schema.Decode for each returned image.
	Decoder Decoder
}

// Iterator is a lazy, forward-only sequence of items. A page is fetched only
// when the previous one is drained and more items are wanted.
//
//	it, err := query.NewQuery(client, schema, forum.Eq("FooForum"), query.Options{})
//	for it.Next(ctx) {
//		use(it.Item())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	client core.DynamoDBAPI
	schema *model.Schema
	opts   Options
	op     string
	decode Decoder

	query      *dynamodb.QueryInput
	scan       *dynamodb.ScanInput
	countQuery *dynamodb.QueryInput
	countScan  *dynamodb.ScanInput

	// attributes that make up a resume key for the table or index
	keyAttrs []string

	nextKey   map[string]types.AttributeValue
	pageStart map[string]types.AttributeValue
	page      []map[string]types.AttributeValue
	pos       int
	exhausted bool
	returned  int32

	item *model.Item
	err  error
}

// NewQuery prepares a Query on the table, or on opts.IndexName. The key
// condition must test the partition key for equality and may add one sort key
// clause.
func NewQuery(client core.DynamoDBAPI, s *model.Schema, keyCondition expression.Condition, opts Options) (*Iterator, error) {
	if keyCondition == nil {
		return nil, customerrors.NewCompilationError("key condition", "a query needs a key condition")
	}
	if opts.TotalSegments > 0 {
		return nil, customerrors.NewCompilationError("query", "segments apply to scans only")
	}
	it, err := newIterator(client, s, opQuery, opts)
	if err != nil {
		return nil, err
	}

	comps, err := compile(s, keyCondition, opts, true)
	if err != nil {
		return nil, err
	}
	it.query = &dynamodb.QueryInput{
		TableName:                 aws.String(s.Table()),
		IndexName:                 optional(opts.IndexName),
		KeyConditionExpression:    expr.Optional(comps.KeyConditionExpression),
		FilterExpression:          expr.Optional(comps.FilterExpression),
		ProjectionExpression:      expr.Optional(comps.ProjectionExpression),
		ExpressionAttributeNames:  comps.ExpressionAttributeNames,
		ExpressionAttributeValues: comps.ExpressionAttributeValues,
		ConsistentRead:            optionalBool(opts.ConsistentRead),
		ScanIndexForward:          opts.ScanIndexForward,
		ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
	}

	counted, err := compile(s, keyCondition, opts, false)
	if err != nil {
		return nil, err
	}
	countQuery := *it.query
	countQuery.ProjectionExpression = nil
	countQuery.ExpressionAttributeNames = counted.ExpressionAttributeNames
	countQuery.ExpressionAttributeValues = counted.ExpressionAttributeValues
	countQuery.KeyConditionExpression = expr.Optional(counted.KeyConditionExpression)
	countQuery.FilterExpression = expr.Optional(counted.FilterExpression)
	countQuery.Select = types.SelectCount
	it.countQuery = &countQuery
	return it, nil
}

// NewScan prepares a Scan of the table, or of opts.IndexName.
func NewScan(client core.DynamoDBAPI, s *model.Schema, opts Options) (*Iterator, error) {
	if opts.TotalSegments < 0 || (opts.TotalSegments > 0 && (opts.Segment < 0 || opts.Segment >= opts.TotalSegments)) {
		return nil, customerrors.NewCompilationError("scan", "segment %d out of range for %d segments", opts.Segment, opts.TotalSegments)
	}
	if opts.TotalSegments == 0 && opts.Segment != 0 {
		return nil, customerrors.NewCompilationError("scan", "segment set without total segments")
	}
	if opts.ScanIndexForward != nil {
		return nil, customerrors.NewCompilationError("scan", "scan direction applies to queries only")
	}
	it, err := newIterator(client, s, opScan, opts)
	if err != nil {
		return nil, err
	}

	comps, err := compile(s, nil, opts, true)
	if err != nil {
		return nil, err
	}
	it.scan = &dynamodb.ScanInput{
		TableName:                 aws.String(s.Table()),
		IndexName:                 optional(opts.IndexName),
		FilterExpression:          expr.Optional(comps.FilterExpression),
		ProjectionExpression:      expr.Optional(comps.ProjectionExpression),
		ExpressionAttributeNames:  comps.ExpressionAttributeNames,
		ExpressionAttributeValues: comps.ExpressionAttributeValues,
		ConsistentRead:            optionalBool(opts.ConsistentRead),
		ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
	}
	if opts.TotalSegments > 0 {
		it.scan.Segment = aws.Int32(opts.Segment)
		it.scan.TotalSegments = aws.Int32(opts.TotalSegments)
	}

	counted, err := compile(s, nil, opts, false)
	if err != nil {
		return nil, err
	}
	countScan := *it.scan
	countScan.ProjectionExpression = nil
	countScan.ExpressionAttributeNames = counted.ExpressionAttributeNames
	countScan.ExpressionAttributeValues = counted.ExpressionAttributeValues
	countScan.FilterExpression = expr.Optional(counted.FilterExpression)
	countScan.Select = types.SelectCount
	it.countScan = &countScan
	return it, nil
}

func newIterator(client core.DynamoDBAPI, s *model.Schema, op string, opts Options) (*Iterator, error) {
	if opts.Limit < 0 || opts.PageSize < 0 {
		return nil, customerrors.NewCompilationError(op, "limit and page size must not be negative")
	}
	if opts.Cursor != "" && len(opts.StartKey) > 0 {
		return nil, customerrors.NewCompilationError(op, "use either a cursor or a start key")
	}

	it := &Iterator{
		client:  client,
		schema:  s,
		opts:    opts,
		op:      op,
		decode:  opts.Decoder,
		nextKey: opts.StartKey,
	}
	if it.decode == nil {
		it.decode = func(_ context.Context, image map[string]types.AttributeValue) (*model.Item, error) {
			return s.Decode(image)
		}
	}

	hash, rng, err := s.KeyNames("")
	if err != nil {
		return nil, err
	}
	it.keyAttrs = appendName(it.keyAttrs, hash, rng)
	if opts.IndexName != "" {
		ihash, irng, err := s.KeyNames(opts.IndexName)
		if err != nil {
			return nil, err
		}
		it.keyAttrs = appendName(it.keyAttrs, ihash, irng)
	}

	if opts.Cursor != "" {
		cursor, err := DecodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		if cursor.IndexName != opts.IndexName {
			return nil, customerrors.NewCompilationError(op, "cursor was issued for index %q, not %q", cursor.IndexName, opts.IndexName)
		}
		if it.nextKey, err = cursor.ToAttributeValues(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// compile renders key condition, filter and projection in that order so that
// placeholder numbering is stable.
func compile(s *model.Schema, keyCondition expression.Condition, opts Options, projection bool) (expr.ExpressionComponents, error) {
	for _, c := range []expression.Condition{keyCondition, opts.Filter} {
		if err := s.CheckQueryable(c); err != nil {
			return expr.ExpressionComponents{}, err
		}
	}
	b := expr.NewBuilder()
	if keyCondition != nil {
		hash, rng, err := s.KeyNames(opts.IndexName)
		if err != nil {
			return expr.ExpressionComponents{}, err
		}
		if err := b.KeyCondition(keyCondition, hash, rng); err != nil {
			return expr.ExpressionComponents{}, err
		}
	}
	if opts.Filter != nil {
		if err := b.Filter(opts.Filter); err != nil {
			return expr.ExpressionComponents{}, err
		}
	}
	if projection && len(opts.Projection) > 0 {
		if err := b.Projection(opts.Projection...); err != nil {
			return expr.ExpressionComponents{}, err
		}
	}
	return b.Build(), nil
}

// Next advances to the next item, fetching a page when needed. It returns
// false when the sequence is exhausted, the limit is reached, or an error
// occurred.
func (it *Iterator) Next(ctx context.Context) bool {
	it.item = nil
	if it.err != nil {
		return false
	}
	for {
		if it.opts.Limit > 0 && it.returned >= it.opts.Limit {
			return false
		}
		if it.pos < len(it.page) {
			image := it.page[it.pos]
			it.pos++
			item, err := it.decode(ctx, image)
			if err != nil {
				it.err = err
				return false
			}
			it.item = item
			it.returned++
			return true
		}
		if it.exhausted {
			return false
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false
		}
	}
}

func (it *Iterator) fetch(ctx context.Context) error {
	limit := it.requestLimit()
	start := it.nextKey

	var (
		items []map[string]types.AttributeValue
		last  map[string]types.AttributeValue
	)
	switch it.op {
	case opQuery:
		in := *it.query
		in.ExclusiveStartKey = start
		in.Limit = limit
		out, err := it.client.Query(ctx, &in)
		if err != nil {
			return customerrors.FromClient(it.op, it.schema.Table(), err)
		}
		items, last = out.Items, out.LastEvaluatedKey
	default:
		in := *it.scan
		in.ExclusiveStartKey = start
		in.Limit = limit
		out, err := it.client.Scan(ctx, &in)
		if err != nil {
			return customerrors.FromClient(it.op, it.schema.Table(), err)
		}
		items, last = out.Items, out.LastEvaluatedKey
	}

	it.pageStart = start
	it.page, it.pos = items, 0
	it.nextKey = last
	it.exhausted = len(last) == 0
	return nil
}

func (it *Iterator) requestLimit() *int32 {
	size := it.opts.PageSize
	if it.opts.Limit > 0 {
		remaining := it.opts.Limit - it.returned
		if size == 0 || remaining < size {
			size = remaining
		}
	}
	if size == 0 {
		return nil
	}
	return aws.Int32(size)
}

// Item returns the current item.
func (it *Iterator) Item() *model.Item { return it.item }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// LastEvaluatedKey returns the key to resume after the last item returned by
// Next. It is nil once the sequence is exhausted.
func (it *Iterator) LastEvaluatedKey() map[string]types.AttributeValue {
	if it.pos < len(it.page) {
		if it.pos == 0 {
			return it.pageStart
		}
		return it.resumeKey(it.page[it.pos-1])
	}
	return it.nextKey
}

func (it *Iterator) resumeKey(image map[string]types.AttributeValue) map[string]types.AttributeValue {
	key := make(map[string]types.AttributeValue, len(it.keyAttrs))
	for _, name := range it.keyAttrs {
		if av, ok := image[name]; ok {
			key[name] = av
		}
	}
	return key
}

// Cursor encodes LastEvaluatedKey as an opaque string for Options.Cursor.
// It is "" once the sequence is exhausted.
func (it *Iterator) Cursor() (string, error) {
	return EncodeCursor(it.LastEvaluatedKey(), it.opts.IndexName, it.direction())
}

func (it *Iterator) direction() string {
	if it.op != opQuery {
		return ""
	}
	if it.opts.ScanIndexForward != nil && !*it.opts.ScanIndexForward {
		return SortDescending
	}
	return SortAscending
}

// All returns the remaining items as a range-over-func sequence. A failure is
// yielded once as the final pair.
func (it *Iterator) All(ctx context.Context) iter.Seq2[*model.Item, error] {
	return func(yield func(*model.Item, error) bool) {
		for it.Next(ctx) {
			if !yield(it.item, nil) {
				return
			}
		}
		if it.err != nil {
			yield(nil, it.err)
		}
	}
}

// Collect drains the iterator into a slice.
func (it *Iterator) Collect(ctx context.Context) ([]*model.Item, error) {
	var items []*model.Item
	for it.Next(ctx) {
		items = append(items, it.item)
	}
	return items, it.err
}

// Count pages through the remaining results with Select COUNT and sums the
// counts, including items already buffered. Projection is ignored. The
// iterator is exhausted afterwards.
func (it *Iterator) Count(ctx context.Context) (int64, error) {
	if it.err != nil {
		return 0, it.err
	}
	buffered := int32(len(it.page) - it.pos)
	if it.opts.Limit > 0 {
		buffered = min(buffered, it.opts.Limit-it.returned)
	}
	total := int64(buffered)
	it.returned += buffered
	it.page, it.pos, it.item = nil, 0, nil

	for !it.exhausted {
		if it.opts.Limit > 0 && it.returned >= it.opts.Limit {
			break
		}
		limit := it.requestLimit()

		var (
			count int32
			last  map[string]types.AttributeValue
		)
		switch it.op {
		case opQuery:
			in := *it.countQuery
			in.ExclusiveStartKey = it.nextKey
			in.Limit = limit
			out, err := it.client.Query(ctx, &in)
			if err != nil {
				it.err = customerrors.FromClient(it.op, it.schema.Table(), err)
				return total, it.err
			}
			count, last = out.Count, out.LastEvaluatedKey
		default:
			in := *it.countScan
			in.ExclusiveStartKey = it.nextKey
			in.Limit = limit
			out, err := it.client.Scan(ctx, &in)
			if err != nil {
				it.err = customerrors.FromClient(it.op, it.schema.Table(), err)
				return total, it.err
			}
			count, last = out.Count, out.LastEvaluatedKey
		}

		total += int64(count)
		it.returned += count
		it.nextKey = last
		it.exhausted = len(last) == 0
	}
	return total, nil
}

func appendName(names []string, candidates ...string) []string {
	for _, n := range candidates {
		if n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func optionalBool(b bool) *bool {
	if !b {
		return nil
	}
	return aws.Bool(b)
}
