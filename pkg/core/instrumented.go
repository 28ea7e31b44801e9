package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// Instrumented wraps a DynamoDBAPI, logging every call at debug level and
// reporting it to the configured observers. Request values are never logged.
type Instrumented struct {
	next      DynamoDBAPI
	logger    *zap.Logger
	observers []Observer
	now       func() time.Time
}

// NewInstrumented wraps next. A nil logger disables logging.
func NewInstrumented(next DynamoDBAPI, logger *zap.Logger, observers ...Observer) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{next: next, logger: logger, observers: observers, now: time.Now}
}

// Unwrap returns the wrapped client.
func (c *Instrumented) Unwrap() DynamoDBAPI { return c.next }

func run[O any](c *Instrumented, op, table string, call func() (*O, error), capacity func(*O) float64) (*O, error) {
	start := c.now()
	out, err := call()
	rec := Call{Operation: op, Table: table, Duration: c.now().Sub(start), Err: err}
	if err == nil && out != nil {
		rec.ConsumedCapacity = capacity(out)
	}

	if err != nil {
		c.logger.Debug("dynamodb call failed",
			zap.String("operation", op),
			zap.String("table", table),
			zap.Duration("duration", rec.Duration),
			zap.Error(err))
	} else {
		c.logger.Debug("dynamodb call",
			zap.String("operation", op),
			zap.String("table", table),
			zap.Duration("duration", rec.Duration),
			zap.Float64("consumed_capacity", rec.ConsumedCapacity))
	}

	for _, o := range c.observers {
		o.ObserveCall(rec)
	}
	return out, err
}

func single(cc *types.ConsumedCapacity) float64 {
	if cc == nil {
		return 0
	}
	return aws.ToFloat64(cc.CapacityUnits)
}

func total(ccs []types.ConsumedCapacity) float64 {
	var sum float64
	for _, cc := range ccs {
		sum += aws.ToFloat64(cc.CapacityUnits)
	}
	return sum
}

// tableList joins the distinct table names of a multi-table request.
func tableList[V any](m map[string]V) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (c *Instrumented) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return run(c, "GetItem", aws.ToString(in.TableName),
		func() (*dynamodb.GetItemOutput, error) { return c.next.GetItem(ctx, in, optFns...) },
		func(o *dynamodb.GetItemOutput) float64 { return single(o.ConsumedCapacity) })
}

func (c *Instrumented) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return run(c, "PutItem", aws.ToString(in.TableName),
		func() (*dynamodb.PutItemOutput, error) { return c.next.PutItem(ctx, in, optFns...) },
		func(o *dynamodb.PutItemOutput) float64 { return single(o.ConsumedCapacity) })
}

func (c *Instrumented) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return run(c, "UpdateItem", aws.ToString(in.TableName),
		func() (*dynamodb.UpdateItemOutput, error) { return c.next.UpdateItem(ctx, in, optFns...) },
		func(o *dynamodb.UpdateItemOutput) float64 { return single(o.ConsumedCapacity) })
}

func (c *Instrumented) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return run(c, "DeleteItem", aws.ToString(in.TableName),
		func() (*dynamodb.DeleteItemOutput, error) { return c.next.DeleteItem(ctx, in, optFns...) },
		func(o *dynamodb.DeleteItemOutput) float64 { return single(o.ConsumedCapacity) })
}

func (c *Instrumented) Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return run(c, "Query", aws.ToString(in.TableName),
		func() (*dynamodb.QueryOutput, error) { return c.next.Query(ctx, in, optFns...) },
		func(o *dynamodb.QueryOutput) float64 { return single(o.ConsumedCapacity) })
}

func (c *Instrumented) Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return run(c, "Scan", aws.ToString(in.TableName),
		func() (*dynamodb.ScanOutput, error) { return c.next.Scan(ctx, in, optFns...) },
		func(o *dynamodb.ScanOutput) float64 { return single(o.ConsumedCapacity) })
}

func (c *Instrumented) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return run(c, "BatchGetItem", tableList(in.RequestItems),
		func() (*dynamodb.BatchGetItemOutput, error) { return c.next.BatchGetItem(ctx, in, optFns...) },
		func(o *dynamodb.BatchGetItemOutput) float64 { return total(o.ConsumedCapacity) })
}

func (c *Instrumented) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return run(c, "BatchWriteItem", tableList(in.RequestItems),
		func() (*dynamodb.BatchWriteItemOutput, error) { return c.next.BatchWriteItem(ctx, in, optFns...) },
		func(o *dynamodb.BatchWriteItemOutput) float64 { return total(o.ConsumedCapacity) })
}

func (c *Instrumented) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	tables := make(map[string]struct{})
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			tables[aws.ToString(ti.Put.TableName)] = struct{}{}
		case ti.Update != nil:
			tables[aws.ToString(ti.Update.TableName)] = struct{}{}
		case ti.Delete != nil:
			tables[aws.ToString(ti.Delete.TableName)] = struct{}{}
		case ti.ConditionCheck != nil:
			tables[aws.ToString(ti.ConditionCheck.TableName)] = struct{}{}
		}
	}
	return run(c, "TransactWriteItems", tableList(tables),
		func() (*dynamodb.TransactWriteItemsOutput, error) { return c.next.TransactWriteItems(ctx, in, optFns...) },
		func(o *dynamodb.TransactWriteItemsOutput) float64 { return total(o.ConsumedCapacity) })
}

func (c *Instrumented) TransactGetItems(ctx context.Context, in *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	tables := make(map[string]struct{})
	for _, ti := range in.TransactItems {
		if ti.Get != nil {
			tables[aws.ToString(ti.Get.TableName)] = struct{}{}
		}
	}
	return run(c, "TransactGetItems", tableList(tables),
		func() (*dynamodb.TransactGetItemsOutput, error) { return c.next.TransactGetItems(ctx, in, optFns...) },
		func(o *dynamodb.TransactGetItemsOutput) float64 { return total(o.ConsumedCapacity) })
}
