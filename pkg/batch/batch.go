// Package batch splits large write and read sets into BatchWriteItem and
// BatchGetItem calls and retries what the store leaves unprocessed.
package batch

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/pay-theory/dynamodel/internal/expr"
	"github.com/pay-theory/dynamodel/internal/wire"
	"github.com/pay-theory/dynamodel/pkg/core"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
)

// Store limits per call.
const (
	MaxWriteItems = 25
	MaxGetKeys    = 100
)

const (
	opBatchWrite = "BatchWriteItem"
	opBatchGet   = "BatchGetItem"
)

// RetryPolicy bounds how unprocessed requests are resubmitted. Attempt n
// (from zero) waits InitialDelay * BackoffFactor^n, capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries    int           `yaml:"maxRetries" validate:"min=0"`
	InitialDelay  time.Duration `yaml:"initialDelay" validate:"min=0"`
	MaxDelay      time.Duration `yaml:"maxDelay" validate:"min=0"`
	BackoffFactor float64       `yaml:"backoffFactor" validate:"omitempty,gte=1"`
}

// DefaultRetryPolicy returns the default policy: 3 retries starting at
// 100ms, doubling, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Delay returns the wait before retry attempt n.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.InitialDelay
	if attempt > 0 && p.BackoffFactor > 1 {
		delay = time.Duration(float64(delay) * math.Pow(p.BackoffFactor, float64(attempt)))
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// RetryHook is told about every resubmission of unprocessed requests.
type RetryHook func(op, table string, unprocessed int)

// Chunker sends batch requests for one client. It is safe for concurrent use.
type Chunker struct {
	client  core.DynamoDBAPI
	policy  RetryPolicy
	logger  *zap.Logger
	sleep   core.Sleeper
	onRetry RetryHook
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Chunker) { c.policy = p }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chunker) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleeper replaces core.Sleep between retries.
func WithSleeper(s core.Sleeper) Option {
	return func(c *Chunker) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithRetryHook registers a callback for every retry.
func WithRetryHook(h RetryHook) Option {
	return func(c *Chunker) { c.onRetry = h }
}

// New creates a Chunker.
func New(client core.DynamoDBAPI, opts ...Option) *Chunker {
	c := &Chunker{
		client: client,
		policy: DefaultRetryPolicy(),
		logger: zap.NewNop(),
		sleep:  core.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the retry policy in use.
func (c *Chunker) Policy() RetryPolicy { return c.policy }

// PutRequests wraps item images as put requests.
func PutRequests(items ...map[string]types.AttributeValue) []types.WriteRequest {
	out := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		out = append(out, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	return out
}

// DeleteRequests wraps keys as delete requests.
func DeleteRequests(keys ...map[string]types.AttributeValue) []types.WriteRequest {
	out := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		out = append(out, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
	}
	return out
}

// Write sends requests to table in chunks of MaxWriteItems, one chunk at a
// time. A chunk's unprocessed requests are retried before the next chunk is
// sent. When the retry budget runs out, or a call fails, the returned
// *errors.BatchWriteError holds every request not known to be applied.
func (c *Chunker) Write(ctx context.Context, table string, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += MaxWriteItems {
		end := min(start+MaxWriteItems, len(requests))
		pending := requests[start:end]
		unsent := requests[end:]

		for attempt := 0; ; attempt++ {
			out, err := c.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems:           map[string][]types.WriteRequest{table: pending},
				ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
			})
			if err != nil {
				return writeError(table, pending, unsent, attempt+1, customerrors.FromClient(opBatchWrite, table, err))
			}

			pending = out.UnprocessedItems[table]
			if len(pending) == 0 {
				break
			}
			if attempt >= c.policy.MaxRetries {
				return writeError(table, pending, unsent, attempt+1, nil)
			}
			if err := c.backoff(ctx, opBatchWrite, table, len(pending), attempt); err != nil {
				return writeError(table, pending, unsent, attempt+1, err)
			}
		}
	}
	return nil
}

func writeError(table string, pending, unsent []types.WriteRequest, attempts int, cause error) *customerrors.BatchWriteError {
	return &customerrors.BatchWriteError{
		Table:       table,
		Unprocessed: append(slices.Clone(pending), unsent...),
		Attempts:    attempts,
		Cause:       cause,
	}
}

// GetOptions configures Get.
type GetOptions struct {
	ConsistentRead bool
	Projection     []expression.Path
}

// Get reads keys from table in chunks of MaxGetKeys. Duplicate keys are read
// once. Items come back in the order the store returns them, which is not
// the order of keys.
func (c *Chunker) Get(ctx context.Context, table string, keys []map[string]types.AttributeValue, opts GetOptions) ([]map[string]types.AttributeValue, error) {
	keys, err := distinct(keys)
	if err != nil {
		return nil, err
	}

	template := types.KeysAndAttributes{}
	if opts.ConsistentRead {
		template.ConsistentRead = aws.Bool(true)
	}
	if len(opts.Projection) > 0 {
		b := expr.NewBuilder()
		if err := b.Projection(opts.Projection...); err != nil {
			return nil, err
		}
		comps := b.Build()
		template.ProjectionExpression = expr.Optional(comps.ProjectionExpression)
		template.ExpressionAttributeNames = comps.ExpressionAttributeNames
	}

	var items []map[string]types.AttributeValue
	for start := 0; start < len(keys); start += MaxGetKeys {
		end := min(start+MaxGetKeys, len(keys))
		pending := keys[start:end]
		unsent := keys[end:]

		for attempt := 0; ; attempt++ {
			request := template
			request.Keys = pending
			out, err := c.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems:           map[string]types.KeysAndAttributes{table: request},
				ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
			})
			if err != nil {
				return items, getError(table, pending, unsent, items, attempt+1, customerrors.FromClient(opBatchGet, table, err))
			}

			items = append(items, out.Responses[table]...)
			pending = out.UnprocessedKeys[table].Keys
			if len(pending) == 0 {
				break
			}
			if attempt >= c.policy.MaxRetries {
				return items, getError(table, pending, unsent, items, attempt+1, nil)
			}
			if err := c.backoff(ctx, opBatchGet, table, len(pending), attempt); err != nil {
				return items, getError(table, pending, unsent, items, attempt+1, err)
			}
		}
	}
	return items, nil
}

func getError(table string, pending, unsent, items []map[string]types.AttributeValue, attempts int, cause error) *customerrors.BatchGetError {
	return &customerrors.BatchGetError{
		Table:       table,
		Unprocessed: append(slices.Clone(pending), unsent...),
		Items:       items,
		Attempts:    attempts,
		Cause:       cause,
	}
}

func distinct(keys []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	seen := make(map[string]struct{}, len(keys))
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, key := range keys {
		id, err := wire.MarshalItem(key)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[string(id)]; dup {
			continue
		}
		seen[string(id)] = struct{}{}
		out = append(out, key)
	}
	return out, nil
}

func (c *Chunker) backoff(ctx context.Context, op, table string, unprocessed, attempt int) error {
	delay := c.policy.Delay(attempt)
	c.logger.Warn("retrying unprocessed batch requests",
		zap.String("operation", op),
		zap.String("table", table),
		zap.Int("unprocessed", unprocessed),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
	)
	if c.onRetry != nil {
		c.onRetry(op, table, unprocessed)
	}
	return c.sleep(ctx, delay)
}
