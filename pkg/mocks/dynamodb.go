package mocks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/mock"

	"github.com/pay-theory/dynamodel/pkg/core"
)

// MockDynamoDBClient is a testify mock of core.DynamoDBAPI. Expectations are
// registered as On(method, ctx, input, optFns).
type MockDynamoDBClient struct {
	mock.Mock
}

var _ core.DynamoDBAPI = (*MockDynamoDBClient)(nil)

// result extracts the typed output of a recorded call. It panics when the
// expectation returned a value of the wrong type.
func result[T any](args mock.Arguments) (*T, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*T), args.Error(1)
}

func (m *MockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return result[dynamodb.GetItemOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return result[dynamodb.PutItemOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return result[dynamodb.UpdateItemOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return result[dynamodb.DeleteItemOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return result[dynamodb.QueryOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return result[dynamodb.ScanOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return result[dynamodb.BatchGetItemOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return result[dynamodb.BatchWriteItemOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return result[dynamodb.TransactWriteItemsOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	return result[dynamodb.TransactGetItemsOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return result[dynamodb.CreateTableOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return result[dynamodb.DescribeTableOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	return result[dynamodb.UpdateTableOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	return result[dynamodb.DeleteTableOutput](m.Called(ctx, params, optFns))
}

func (m *MockDynamoDBClient) UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	return result[dynamodb.UpdateTimeToLiveOutput](m.Called(ctx, params, optFns))
}
