package core_test

import (
	"context"
	"errors"
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

	"github.com/pay-theory/dynamodel/pkg/core"
	"github.com/pay-theory/dynamodel/pkg/mocks"
)

func TestInstrumentedReportsCalls(t *testing.T) {
	client := new(mocks.MockDynamoDBClient)
	logCore, logs := observer.New(zapcore.DebugLevel)

	var calls []core.Call
	inst := core.NewInstrumented(client, zap.New(logCore), core.ObserverFunc(func(c core.Call) {
		calls = append(calls, c)
	}))

	ctx := context.Background()
	client.On("PutItem", ctx, mock.Anything, mock.Anything).
		Return(&dynamodb.PutItemOutput{ConsumedCapacity: &types.ConsumedCapacity{CapacityUnits: aws.Float64(1)}}, nil).Once()
	client.On("BatchWriteItem", ctx, mock.Anything, mock.Anything).
		Return(&dynamodb.BatchWriteItemOutput{ConsumedCapacity: []types.ConsumedCapacity{
			{CapacityUnits: aws.Float64(2)}, {CapacityUnits: aws.Float64(3)},
		}}, nil).Once()
	boom := errors.New("boom")
	client.On("TransactWriteItems", ctx, mock.Anything, mock.Anything).Return(nil, boom).Once()

	_, err := inst.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("Thread")})
	require.NoError(t, err)

	_, err = inst.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: map[string][]types.WriteRequest{
		"B": nil, "A": nil,
	}})
	require.NoError(t, err)

	_, err = inst.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{
		{Put: &types.Put{TableName: aws.String("Thread")}},
		{ConditionCheck: &types.ConditionCheck{TableName: aws.String("Forum")}},
	}})
	assert.ErrorIs(t, err, boom)

	require.Len(t, calls, 3)
	assert.Equal(t, "PutItem", calls[0].Operation)
	assert.Equal(t, "Thread", calls[0].Table)
	assert.InDelta(t, 1.0, calls[0].ConsumedCapacity, 1e-9)
	assert.Equal(t, "A,B", calls[1].Table)
	assert.InDelta(t, 5.0, calls[1].ConsumedCapacity, 1e-9)
	assert.Equal(t, "Forum,Thread", calls[2].Table)
	assert.ErrorIs(t, calls[2].Err, boom)

	assert.Equal(t, 2, logs.FilterMessage("dynamodb call").Len())
	assert.Equal(t, 1, logs.FilterMessage("dynamodb call failed").Len())
	assert.Same(t, client, inst.Unwrap())
	client.AssertExpectations(t)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, core.Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, core.Sleep(ctx, 0), context.Canceled)
	assert.NoError(t, core.Sleep(context.Background(), time.Millisecond))
}
