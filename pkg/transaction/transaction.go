// Package transaction groups writes of several items into one atomic
// TransactWriteItems request and reconciles local item state afterwards.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pay-theory/dynamodel/internal/encryption"
	"github.com/pay-theory/dynamodel/internal/expr"
	"github.com/pay-theory/dynamodel/internal/mutation"
	"github.com/pay-theory/dynamodel/pkg/core"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/model"
)

// DefaultMaxItems is the store's limit on operations per transaction.
const DefaultMaxItems = 100

const (
	opTransactWrite = "TransactWriteItems"
	opTransactGet   = "TransactGetItems"
)

var errFinished = errors.New("transaction already committed or discarded")

// Encrypter seals the encrypted attributes of an item image before it is
// written.
type Encrypter interface {
	EncryptImage(ctx context.Context, s *model.Schema, image map[string]types.AttributeValue) error
}

// CancelHook is told about every cancelled transaction.
type CancelHook func(reasons []customerrors.CancellationReason)

type settings struct {
	maxItems  int
	logger    *zap.Logger
	encrypter Encrypter
	decrypter Decrypter
	onCancel  CancelHook
	token     func() string
}

// Option configures a Write.
type Option func(*settings)

// WithMaxItems overrides DefaultMaxItems.
func WithMaxItems(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// WithLogger sets the logger used for cancellations.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEncrypter sets the encrypter for tables with encrypted attributes.
func WithEncrypter(e Encrypter) Option {
	return func(s *settings) { s.encrypter = e }
}

// WithCancelHook registers a callback for cancelled commits.
func WithCancelHook(h CancelHook) Option {
	return func(s *settings) { s.onCancel = h }
}

// WithTokenGenerator replaces uuid.NewString for ClientRequestToken.
func WithTokenGenerator(fn func() string) Option {
	return func(s *settings) {
		if fn != nil {
			s.token = fn
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		maxItems: DefaultMaxItems,
		logger:   zap.NewNop(),
		token:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// OpOption configures one operation.
type OpOption func(*opSettings)

type opSettings struct {
	condition  expression.Condition
	returnOnCF bool
}

// If adds a caller condition. It is ANDed after the version guard.
func If(c expression.Condition) OpOption {
	return func(o *opSettings) { o.condition = c }
}

// ReturnOldOnConditionFailure asks the store to include the current item in
// the cancellation reason when this operation's condition fails.
func ReturnOldOnConditionFailure() OpOption {
	return func(o *opSettings) { o.returnOnCF = true }
}

type operation struct {
	req        *mutation.Request
	returnOnCF bool
}

// Write collects save, update, delete and condition-check operations and
// commits them as one atomic TransactWriteItems call. All operations succeed
// or none do. Local items change only after the store confirms the commit.
//
// A Write is single-use and not safe for concurrent use.
type Write struct {
	client   core.DynamoDBAPI
	settings settings
	ops      []operation
	keys     map[string]int
	finished bool
}

// NewWrite creates an empty Write.
func NewWrite(client core.DynamoDBAPI, opts ...Option) *Write {
	return &Write{
		client:   client,
		settings: newSettings(opts),
		keys:     make(map[string]int),
	}
}

// Save adds a full put of it, guarded by its version.
func (w *Write) Save(it *model.Item, opts ...OpOption) error {
	o := opSettingsOf(opts)
	return w.add(func() (*mutation.Request, error) { return mutation.Save(it, o.condition) }, o)
}

// Update adds an update of it, guarded by its version.
func (w *Write) Update(it *model.Item, actions []expression.Action, opts ...OpOption) error {
	o := opSettingsOf(opts)
	return w.add(func() (*mutation.Request, error) { return mutation.Update(it, actions, o.condition) }, o)
}

// Delete adds a delete of it, guarded by its version.
func (w *Write) Delete(it *model.Item, opts ...OpOption) error {
	o := opSettingsOf(opts)
	return w.add(func() (*mutation.Request, error) { return mutation.Delete(it, o.condition) }, o)
}

// ConditionCheck adds a condition on an item that is not written.
func (w *Write) ConditionCheck(s *model.Schema, key map[string]types.AttributeValue, cond expression.Condition, opts ...OpOption) error {
	o := opSettingsOf(opts)
	return w.add(func() (*mutation.Request, error) { return mutation.Check(s, key, cond) }, o)
}

func opSettingsOf(opts []OpOption) opSettings {
	var o opSettings
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (w *Write) add(build func() (*mutation.Request, error), o opSettings) error {
	if w.finished {
		return errFinished
	}
	if len(w.ops) >= w.settings.maxItems {
		return customerrors.NewCompilationError("transaction", "more than %d operations", w.settings.maxItems)
	}
	req, err := build()
	if err != nil {
		return err
	}
	if i, dup := w.keys[req.KeyID]; dup {
		return customerrors.NewCompilationError("transaction", "operation %d already targets %s", i, req.KeyID)
	}
	if req.Kind == mutation.KindPut && encryption.SchemaHasEncryptedFields(req.Schema) && w.settings.encrypter == nil {
		return fmt.Errorf("%w: table %s", customerrors.ErrEncryptionNotConfigured, req.Table)
	}
	w.keys[req.KeyID] = len(w.ops)
	w.ops = append(w.ops, operation{req: req, returnOnCF: o.returnOnCF})
	return nil
}

// Len returns the number of pending operations.
func (w *Write) Len() int { return len(w.ops) }

// Discard drops every pending operation. The Write cannot be used afterwards.
func (w *Write) Discard() {
	w.ops, w.keys, w.finished = nil, nil, true
}

// Commit sends all operations in one TransactWriteItems call with a fresh
// ClientRequestToken. It is never retried here. On cancellation the error is
// a *errors.TransactionCancelled carrying one reason per operation.
func (w *Write) Commit(ctx context.Context) error {
	if w.finished {
		return errFinished
	}
	defer w.Discard()
	if len(w.ops) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(w.ops))
	for _, op := range w.ops {
		item, err := w.writeItem(ctx, op)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	_, err := w.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:          items,
		ClientRequestToken:     aws.String(w.settings.token()),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	if err != nil {
		err = customerrors.FromClient(opTransactWrite, "", err)
		w.cancelled(err)
		return err
	}

	for _, op := range w.ops {
		op.req.Applied()
	}
	return nil
}

func (w *Write) writeItem(ctx context.Context, op operation) (types.TransactWriteItem, error) {
	r := op.req
	var onFailure types.ReturnValuesOnConditionCheckFailure
	if op.returnOnCF {
		onFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}
	cond := expr.Optional(r.Comps.ConditionExpression)
	names, values := r.Comps.ExpressionAttributeNames, r.Comps.ExpressionAttributeValues

	switch r.Kind {
	case mutation.KindPut:
		image := r.Image
		if w.settings.encrypter != nil && encryption.SchemaHasEncryptedFields(r.Schema) {
			image = maps.Clone(r.Image)
			if err := w.settings.encrypter.EncryptImage(ctx, r.Schema, image); err != nil {
				return types.TransactWriteItem{}, err
			}
		}
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                           aws.String(r.Table),
			Item:                                image,
			ConditionExpression:                 cond,
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: onFailure,
		}}, nil
	case mutation.KindUpdate:
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                           aws.String(r.Table),
			Key:                                 r.Key,
			UpdateExpression:                    aws.String(r.Comps.UpdateExpression),
			ConditionExpression:                 cond,
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: onFailure,
		}}, nil
	case mutation.KindDelete:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                           aws.String(r.Table),
			Key:                                 r.Key,
			ConditionExpression:                 cond,
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: onFailure,
		}}, nil
	default:
		return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                           aws.String(r.Table),
			Key:                                 r.Key,
			ConditionExpression:                 cond,
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: onFailure,
		}}, nil
	}
}

func (w *Write) cancelled(err error) {
	var tc *customerrors.TransactionCancelled
	if !errors.As(err, &tc) {
		return
	}
	codes := make([]string, 0, len(tc.Reasons))
	for _, r := range tc.Reasons {
		codes = append(codes, r.Code)
	}
	fields := []zap.Field{
		zap.Int("operations", len(w.ops)),
		zap.Strings("reasons", codes),
	}
	if primary, ok := tc.Reason(); ok && primary.Index < len(w.ops) {
		op := w.ops[primary.Index].req
		fields = append(fields, zap.String("table", op.Table), zap.String("operation", op.Kind.String()))
	}
	w.settings.logger.Warn("transaction cancelled", fields...)
	if w.settings.onCancel != nil {
		w.settings.onCancel(tc.Reasons)
	}
}

// Transact builds a Write, passes it to fn, and commits it when fn returns
// nil. If fn fails or panics the pending operations are discarded; a panic
// is re-raised afterwards.
func Transact(ctx context.Context, client core.DynamoDBAPI, fn func(*Write) error, opts ...Option) (err error) {
	w := NewWrite(client, opts...)
	defer func() {
		if r := recover(); r != nil {
			w.Discard()
			panic(r)
		}
	}()
	if err := fn(w); err != nil {
		w.Discard()
		return err
	}
	return w.Commit(ctx)
}
