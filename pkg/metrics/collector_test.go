package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/pay-theory/dynamodel/pkg/core"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
)

func TestObserveCall(t *testing.T) {
	c := NewCollector("dynamodel")

	c.ObserveCall(core.Call{Operation: "PutItem", Table: "Thread", Duration: 20 * time.Millisecond, ConsumedCapacity: 1})
	c.ObserveCall(core.Call{Operation: "PutItem", Table: "Thread", Duration: 5 * time.Millisecond, ConsumedCapacity: 2})
	c.ObserveCall(core.Call{
		Operation: "PutItem",
		Table:     "Thread",
		Err:       &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")},
	})
	c.ObserveCall(core.Call{
		Operation: "TransactWriteItems",
		Err: &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
		}},
	})
	c.ObserveCall(core.Call{Operation: "Query", Table: "Thread", Err: errors.New("connection reset")})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Operations.WithLabelValues("PutItem", "Thread", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("PutItem", "Thread", StatusConditionFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("TransactWriteItems", "", StatusCancelled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("Query", "Thread", StatusError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Capacity.WithLabelValues("PutItem", "Thread")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.Duration))
}

func TestBatchAndCancellationHooks(t *testing.T) {
	c := NewCollector("dynamodel")

	c.ObserveBatchRetry("BatchWriteItem", "Thread", 3)
	c.ObserveBatchRetry("BatchWriteItem", "Thread", 2)
	c.ObserveCancellation([]customerrors.CancellationReason{
		{Index: 0, Code: customerrors.CodeNone},
		{Index: 1, Code: "ConditionalCheckFailed"},
	})
	c.ObserveCancellation(nil)

	assert.Equal(t, 5.0, testutil.ToFloat64(c.BatchRetries.WithLabelValues("BatchWriteItem", "Thread")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Cancellations.WithLabelValues("ConditionalCheckFailed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Cancellations.WithLabelValues("Unknown")))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector("dynamodel"), NewCollector("dynamodel")
	a.ObserveCall(core.Call{Operation: "GetItem", Table: "Thread"})

	families, err := b.Registry().Gather()
	assert.NoError(t, err)
	for _, f := range families {
		assert.NotEqual(t, "dynamodel_db_operations_total", f.GetName())
	}
}
