package batch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pay-theory/dynamodel/pkg/batch"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/mocks"
)

func key(i int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ForumName": &types.AttributeValueMemberS{Value: "FooForum"},
		"Subject":   &types.AttributeValueMemberS{Value: fmt.Sprintf("thread-%02d", i)},
	}
}

func puts(n int) []types.WriteRequest {
	items := make([]map[string]types.AttributeValue, 0, n)
	for i := range n {
		items = append(items, key(i))
	}
	return batch.PutRequests(items...)
}

func subjectOf(req types.WriteRequest) string {
	return req.PutRequest.Item["Subject"].(*types.AttributeValueMemberS).Value
}

type sleeps struct {
	delays []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func TestRetryPolicyDelay(t *testing.T) {
	p := batch.DefaultRetryPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, 3200 * time.Millisecond},
		{6, 5 * time.Second},
		{20, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Delay(tt.attempt))
		})
	}

	flat := batch.RetryPolicy{InitialDelay: time.Second}
	assert.Equal(t, time.Second, flat.Delay(3), "no backoff factor keeps the delay flat")
}

func TestWriteChunksAndRetriesBeforeNextChunk(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	ctx := context.Background()
	requests := puts(30)

	var sent [][]string
	record := func(args mock.Arguments) {
		in := args.Get(1).(*dynamodb.BatchWriteItemInput)
		require.Len(t, in.RequestItems, 1)
		var subjects []string
		for _, req := range in.RequestItems["Thread"] {
			subjects = append(subjects, subjectOf(req))
		}
		sent = append(sent, subjects)
	}

	unprocessed := requests[22:25]
	client.On("BatchWriteItem", ctx, mock.Anything, mock.Anything).Run(record).
		Return(&dynamodb.BatchWriteItemOutput{
			UnprocessedItems: map[string][]types.WriteRequest{"Thread": unprocessed},
		}, nil).Once()
	client.On("BatchWriteItem", ctx, mock.Anything, mock.Anything).Run(record).
		Return(&dynamodb.BatchWriteItemOutput{}, nil).Twice()

	logCore, logs := observer.New(zapcore.WarnLevel)
	var retried []int
	s := &sleeps{}
	chunker := batch.New(client,
		batch.WithLogger(zap.New(logCore)),
		batch.WithSleeper(s.sleep),
		batch.WithRetryHook(func(op, table string, n int) {
			assert.Equal(t, "BatchWriteItem", op)
			assert.Equal(t, "Thread", table)
			retried = append(retried, n)
		}),
	)

	require.NoError(t, chunker.Write(ctx, "Thread", requests))

	require.Len(t, sent, 3)
	assert.Len(t, sent[0], 25)
	assert.Equal(t, []string{"thread-22", "thread-23", "thread-24"}, sent[1], "unprocessed remainder goes before the next chunk")
	assert.Equal(t, []string{"thread-25", "thread-26", "thread-27", "thread-28", "thread-29"}, sent[2])
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, s.delays)
	assert.Equal(t, []int{3}, retried)
	assert.Equal(t, 1, logs.FilterMessage("retrying unprocessed batch requests").Len())
	client.AssertExpectations(t)
}

func TestWriteExhaustedBudget(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	ctx := context.Background()
	requests := puts(27)

	client.On("BatchWriteItem", ctx, mock.Anything, mock.Anything).
		Return(&dynamodb.BatchWriteItemOutput{
			UnprocessedItems: map[string][]types.WriteRequest{"Thread": requests[:2]},
		}, nil).Times(3)

	s := &sleeps{}
	policy := batch.DefaultRetryPolicy()
	policy.MaxRetries = 2
	chunker := batch.New(client, batch.WithRetryPolicy(policy), batch.WithSleeper(s.sleep))

	err := chunker.Write(ctx, "Thread", requests)
	require.Error(t, err)
	assert.ErrorIs(t, err, customerrors.ErrBatchPartialFailure)

	var bwe *customerrors.BatchWriteError
	require.ErrorAs(t, err, &bwe)
	assert.Equal(t, "Thread", bwe.Table)
	assert.Equal(t, 3, bwe.Attempts)
	assert.Len(t, bwe.Unprocessed, 4, "two still unprocessed plus two never sent")
	assert.Equal(t, "thread-25", subjectOf(bwe.Unprocessed[2]))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, s.delays)
	client.AssertExpectations(t)
}

func TestWriteStopsOnCancelledContext(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	ctx, cancel := context.WithCancel(context.Background())
	requests := puts(3)

	client.On("BatchWriteItem", ctx, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&dynamodb.BatchWriteItemOutput{
			UnprocessedItems: map[string][]types.WriteRequest{"Thread": requests[2:]},
		}, nil).Once()

	err := batch.New(client).Write(ctx, "Thread", requests)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var bwe *customerrors.BatchWriteError
	require.ErrorAs(t, err, &bwe)
	assert.Len(t, bwe.Unprocessed, 1)
	client.AssertExpectations(t)
}

func TestWriteClientFailureKeepsUnsentRequests(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	ctx := context.Background()
	boom := errors.New("connection reset")

	client.On("BatchWriteItem", ctx, mock.Anything, mock.Anything).Return(&dynamodb.BatchWriteItemOutput{}, nil).Once()
	client.On("BatchWriteItem", ctx, mock.Anything, mock.Anything).Return(nil, boom).Once()

	err := batch.New(client).Write(ctx, "Thread", puts(40))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, customerrors.ErrTransport)

	var bwe *customerrors.BatchWriteError
	require.ErrorAs(t, err, &bwe)
	assert.Len(t, bwe.Unprocessed, 15)
	client.AssertExpectations(t)
}

func TestGetChunksDedupesAndRetries(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	ctx := context.Background()

	keys := make([]map[string]types.AttributeValue, 0, 151)
	for i := range 150 {
		keys = append(keys, key(i))
	}
	keys = append(keys, key(7))

	var sizes []int
	var request types.KeysAndAttributes
	record := func(args mock.Arguments) {
		in := args.Get(1).(*dynamodb.BatchGetItemInput)
		request = in.RequestItems["Thread"]
		sizes = append(sizes, len(request.Keys))
	}

	client.On("BatchGetItem", ctx, mock.Anything, mock.Anything).Run(record).Return(&dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{"Thread": {key(0), key(1)}},
		UnprocessedKeys: map[string]types.KeysAndAttributes{"Thread": {Keys: []map[string]types.AttributeValue{key(99)}}},
	}, nil).Once()
	client.On("BatchGetItem", ctx, mock.Anything, mock.Anything).Run(record).Return(&dynamodb.BatchGetItemOutput{
		Responses: map[string][]map[string]types.AttributeValue{"Thread": {key(99)}},
	}, nil).Once()
	client.On("BatchGetItem", ctx, mock.Anything, mock.Anything).Run(record).Return(&dynamodb.BatchGetItemOutput{
		Responses: map[string][]map[string]types.AttributeValue{"Thread": {key(100)}},
	}, nil).Once()

	s := &sleeps{}
	items, err := batch.New(client, batch.WithSleeper(s.sleep)).Get(ctx, "Thread", keys, batch.GetOptions{
		ConsistentRead: true,
		Projection:     []expression.Path{expression.Name("Subject")},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{100, 1, 50}, sizes)
	assert.Len(t, items, 4)
	assert.True(t, aws.ToBool(request.ConsistentRead))
	assert.Equal(t, "#0", aws.ToString(request.ProjectionExpression))
	assert.Equal(t, map[string]string{"#0": "Subject"}, request.ExpressionAttributeNames)
	assert.Len(t, s.delays, 1)
	client.AssertExpectations(t)
}

func TestGetExhaustedBudgetReturnsPartialItems(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	ctx := context.Background()

	client.On("BatchGetItem", ctx, mock.Anything, mock.Anything).Return(&dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{"Thread": {key(0)}},
		UnprocessedKeys: map[string]types.KeysAndAttributes{"Thread": {Keys: []map[string]types.AttributeValue{key(1)}}},
	}, nil).Once()

	policy := batch.RetryPolicy{MaxRetries: 0}
	items, err := batch.New(client, batch.WithRetryPolicy(policy)).Get(ctx, "Thread", []map[string]types.AttributeValue{key(0), key(1)}, batch.GetOptions{})
	require.Error(t, err)
	assert.Len(t, items, 1)

	var bge *customerrors.BatchGetError
	require.ErrorAs(t, err, &bge)
	assert.Equal(t, []map[string]types.AttributeValue{key(1)}, bge.Unprocessed)
	assert.Len(t, bge.Items, 1)
	client.AssertExpectations(t)
}

func TestWriterFlushesEveryFullChunk(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	ctx := context.Background()

	var sizes []int
	client.On("BatchWriteItem", ctx, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sizes = append(sizes, len(args.Get(1).(*dynamodb.BatchWriteItemInput).RequestItems["Thread"]))
		}).
		Return(&dynamodb.BatchWriteItemOutput{}, nil)

	w := batch.New(client).NewWriter("Thread")
	for i := range 60 {
		if i%10 == 0 {
			require.NoError(t, w.Delete(ctx, key(i)))
			continue
		}
		require.NoError(t, w.Put(ctx, key(i)))
	}
	assert.Equal(t, []int{25, 25}, sizes)
	assert.Equal(t, 10, w.Pending())

	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, []int{25, 25, 10}, sizes)
	assert.Zero(t, w.Pending())
	require.NoError(t, w.Flush(ctx))
	assert.Len(t, sizes, 3, "an empty flush sends nothing")
}

func TestWriterKeepsUnprocessedAfterFailedFlush(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	ctx := context.Background()

	client.On("BatchWriteItem", ctx, mock.Anything, mock.Anything).
		Return(&dynamodb.BatchWriteItemOutput{
			UnprocessedItems: map[string][]types.WriteRequest{"Thread": puts(1)},
		}, nil).Once()

	w := batch.New(client, batch.WithRetryPolicy(batch.RetryPolicy{})).NewWriter("Thread")
	require.NoError(t, w.Put(ctx, key(0)))
	require.NoError(t, w.Put(ctx, key(1)))

	err := w.Flush(ctx)
	assert.ErrorIs(t, err, customerrors.ErrBatchPartialFailure)
	assert.Equal(t, 1, w.Pending())
	client.AssertExpectations(t)
}

func TestWriterPreparesPuts(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	ctx := context.Background()
	refused := errors.New("refused")

	client.On("BatchWriteItem", ctx, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
		reqs := in.RequestItems["Thread"]
		return len(reqs) == 2 &&
			reqs[0].PutRequest.Item["Sealed"] != nil &&
			reqs[1].DeleteRequest != nil
	}), mock.Anything).Return(&dynamodb.BatchWriteItemOutput{}, nil).Once()

	w := batch.New(client).NewWriter("Thread", batch.WithPrepare(
		func(_ context.Context, item map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
			if subject := item["Subject"].(*types.AttributeValueMemberS).Value; subject == "thread-09" {
				return nil, refused
			}
			out := map[string]types.AttributeValue{"Sealed": &types.AttributeValueMemberBOOL{Value: true}}
			for k, v := range item {
				out[k] = v
			}
			return out, nil
		}))

	require.NoError(t, w.Put(ctx, key(0)))
	assert.ErrorIs(t, w.Put(ctx, key(9)), refused)
	require.NoError(t, w.Delete(ctx, key(1)))
	assert.Equal(t, 2, w.Pending())

	require.NoError(t, w.Flush(ctx))
	client.AssertExpectations(t)
}
