// Package mocks provides a testify mock of core.DynamoDBAPI.
//
// Code built on dynamodel takes the client as a core.DynamoDBAPI, so unit
// tests can assert on the exact wire requests without a running store.
//
// # Basic Usage
//
//	func TestSaveThread(t *testing.T) {
//	    client := new(mocks.MockDynamoDBClient)
//	    client.On("PutItem", mock.Anything, mock.Anything, mock.Anything).
//	        Return(&dynamodb.PutItemOutput{}, nil)
//
//	    db, err := dynamodel.NewWithClient(client, session.DefaultConfig())
//	    require.NoError(t, err)
//	    // ... exercise code under test ...
//
//	    client.AssertExpectations(t)
//	}
//
// # Inspecting Requests
//
// Use mock.MatchedBy to assert on the compiled expressions:
//
//	client.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
//	    return aws.ToString(in.UpdateExpression) == "SET #0 = :0"
//	}), mock.Anything).Return(&dynamodb.UpdateItemOutput{}, nil)
//
// Captured inputs are also available through client.Calls.
//
// # Error Handling
//
// Return the SDK's typed errors to exercise error classification:
//
//	client.On("PutItem", mock.Anything, mock.Anything, mock.Anything).
//	    Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("stale")})
package mocks

// Client is an alias for MockDynamoDBClient to allow shorter declarations
type Client = MockDynamoDBClient
