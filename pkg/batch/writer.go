package batch

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
)

// Writer buffers put and delete requests for one table and sends them each
// time MaxWriteItems are pending. Call Flush to send the remainder.
//
//	w := chunker.NewWriter("Thread")
//	for _, image := range images {
//		if err := w.Put(ctx, image); err != nil { ... }
//	}
//	err := w.Flush(ctx)
//
// A Writer is not safe for concurrent use.
type Writer struct {
	chunker *Chunker
	table   string
	prepare PrepareFunc
	pending []types.WriteRequest
}

// PrepareFunc transforms an item image before it is queued. An error rejects
// the item and nothing is queued.
type PrepareFunc func(ctx context.Context, item map[string]types.AttributeValue) (map[string]types.AttributeValue, error)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithPrepare runs fn on every image passed to Put.
func WithPrepare(fn PrepareFunc) WriterOption {
	return func(w *Writer) { w.prepare = fn }
}

// NewWriter creates a Writer for table.
func (c *Chunker) NewWriter(table string, opts ...WriterOption) *Writer {
	w := &Writer{chunker: c, table: table}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Put queues an item image.
func (w *Writer) Put(ctx context.Context, item map[string]types.AttributeValue) error {
	if w.prepare != nil {
		prepared, err := w.prepare(ctx, item)
		if err != nil {
			return err
		}
		item = prepared
	}
	return w.add(ctx, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
}

// Delete queues a key for deletion.
func (w *Writer) Delete(ctx context.Context, key map[string]types.AttributeValue) error {
	return w.add(ctx, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
}

func (w *Writer) add(ctx context.Context, req types.WriteRequest) error {
	w.pending = append(w.pending, req)
	if len(w.pending) < MaxWriteItems {
		return nil
	}
	return w.Flush(ctx)
}

// Pending returns the number of queued requests.
func (w *Writer) Pending() int { return len(w.pending) }

// Flush sends every queued request. Requests left unprocessed by a failed
// flush stay queued for the next one.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	err := w.chunker.Write(ctx, w.table, w.pending)
	if err == nil {
		w.pending = nil
		return nil
	}
	var bwe *customerrors.BatchWriteError
	if errors.As(err, &bwe) {
		w.pending = bwe.Unprocessed
	}
	return err
}
