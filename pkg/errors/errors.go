// Package errors defines error types and utilities for dynamodel
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Response codes reported by DynamoDB that callers commonly branch on.
const (
	CodeConditionalCheckFailed = "ConditionalCheckFailedException"
	CodeTransactionCanceled    = "TransactionCanceledException"
	CodeNone                   = "None"
)

// Common errors that can occur in dynamodel operations
var (
	// ErrSerialization is returned when a value does not match its declared attribute type
	ErrSerialization = errors.New("serialization failed")

	// ErrCompilation is returned when an expression tree cannot be rendered
	ErrCompilation = errors.New("expression compilation failed")

	// ErrItemNotFound is returned when an item is not found in the table
	ErrItemNotFound = errors.New("item does not exist")

	// ErrConditionFailed is returned when a condition check fails
	ErrConditionFailed = errors.New("condition check failed")

	// ErrTransactionCancelled is returned when a transaction is cancelled by the store
	ErrTransactionCancelled = errors.New("transaction cancelled")

	// ErrBatchPartialFailure is returned when unprocessed items remain after the retry budget
	ErrBatchPartialFailure = errors.New("batch operation partially failed")

	// ErrTransport is returned for any other failure reported by the client
	ErrTransport = errors.New("transport error")

	// ErrOutcomeUnknown is returned when a write was interrupted before a response arrived
	ErrOutcomeUnknown = errors.New("outcome unknown")

	// ErrInvalidSchema is returned when a schema definition is invalid
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrMissingKey is returned when an item lacks a value for a key attribute
	ErrMissingKey = errors.New("missing key attribute")

	// ErrTableNotRegistered is returned when a table has no registered schema
	ErrTableNotRegistered = errors.New("table not registered")

	// ErrEncryptionNotConfigured is returned when a schema has encrypted attributes but no KMS key
	ErrEncryptionNotConfigured = errors.New("encryption not configured")

	// ErrEncryptedFieldNotQueryable is returned when a condition, filter or key condition refers to an encrypted attribute
	ErrEncryptedFieldNotQueryable = errors.New("encrypted attribute cannot be used in a condition")

	// ErrInvalidEncryptedEnvelope is returned when an encrypted attribute cannot be decoded
	ErrInvalidEncryptedEnvelope = errors.New("invalid encrypted envelope")
)

// SerializationError describes a value that could not be converted to or from
// its declared attribute type. It is raised locally and never sent to the store.
type SerializationError struct {
	Attribute string
	Type      string
	Reason    string
}

func (e *SerializationError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("dynamodel: cannot serialize %s value: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("dynamodel: cannot serialize attribute %s as %s: %s", e.Attribute, e.Type, e.Reason)
}

func (e *SerializationError) Unwrap() error { return ErrSerialization }

// WithAttribute returns a copy of e naming the attribute it concerns.
func (e *SerializationError) WithAttribute(name string) *SerializationError {
	cp := *e
	cp.Attribute = name
	return &cp
}

// NewSerializationError creates a SerializationError for an unnamed value.
func NewSerializationError(typ, format string, args ...any) *SerializationError {
	return &SerializationError{Type: typ, Reason: fmt.Sprintf(format, args...)}
}

// CompilationError describes a malformed expression tree, such as an
// unsupported key-condition shape or a duplicate update path.
type CompilationError struct {
	Mode   string
	Reason string
}

func (e *CompilationError) Error() string {
	if e.Mode == "" {
		return "dynamodel: invalid expression: " + e.Reason
	}
	return fmt.Sprintf("dynamodel: invalid %s expression: %s", e.Mode, e.Reason)
}

func (e *CompilationError) Unwrap() error { return ErrCompilation }

// NewCompilationError creates a CompilationError.
func NewCompilationError(mode, format string, args ...any) *CompilationError {
	return &CompilationError{Mode: mode, Reason: fmt.Sprintf(format, args...)}
}

// OpError represents a failed operation against a table. CauseResponseCode and
// CauseMessage carry the store's own error code and message when one exists.
type OpError struct {
	Op                string
	Table             string
	CauseResponseCode string
	CauseMessage      string
	Err               error // classification sentinel
	Cause             error // original client error, if any
	Context           map[string]any
}

// Error implements the error interface
func (e *OpError) Error() string {
	// Context is kept out of the message; it may carry key values.
	msg := fmt.Sprintf("dynamodel: %s operation failed: %v", e.Op, e.Err)
	if e.CauseResponseCode != "" {
		msg += fmt.Sprintf(" (%s: %s)", e.CauseResponseCode, e.CauseMessage)
	}
	return msg
}

// Unwrap returns both the classification and the original cause
func (e *OpError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// NewError creates a new OpError
func NewError(op, table string, err error) *OpError {
	return &OpError{
		Op:    op,
		Table: table,
		Err:   err,
	}
}

// NewErrorWithContext creates a new OpError with context
func NewErrorWithContext(op, table string, err error, context map[string]any) *OpError {
	return &OpError{
		Op:      op,
		Table:   table,
		Err:     err,
		Context: context,
	}
}

// DoesNotExist builds the error returned when a read finds no item.
func DoesNotExist(op, table string) *OpError {
	return NewError(op, table, ErrItemNotFound)
}

// CancellationReason is the per-operation outcome reported for a cancelled transaction.
type CancellationReason struct {
	Index   int
	Code    string
	Message string
	Item    map[string]types.AttributeValue
}

// TransactionCancelled aggregates the per-operation reasons of a cancelled
// transaction. Reason returns the first reason whose code is not None.
type TransactionCancelled struct {
	Op      string
	Reasons []CancellationReason
	Message string
	Cause   error
}

func (e *TransactionCancelled) Error() string {
	codes := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		codes = append(codes, r.Code)
	}
	return fmt.Sprintf("dynamodel: %s cancelled: [%s]", e.Op, strings.Join(codes, ", "))
}

func (e *TransactionCancelled) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrTransactionCancelled}
	}
	return []error{ErrTransactionCancelled, e.Cause}
}

// Is reports ErrConditionFailed when any operation failed its condition.
func (e *TransactionCancelled) Is(target error) bool {
	if target != ErrConditionFailed {
		return false
	}
	for _, r := range e.Reasons {
		if r.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// Reason returns the primary cancellation reason.
func (e *TransactionCancelled) Reason() (CancellationReason, bool) {
	for _, r := range e.Reasons {
		if r.Code != "" && r.Code != CodeNone {
			return r, true
		}
	}
	return CancellationReason{}, false
}

// CauseResponseCode returns the store's error code for the transaction.
func (e *TransactionCancelled) CauseResponseCode() string { return CodeTransactionCanceled }

// BatchWriteError is returned when a batch write still has unprocessed requests
// after the retry budget is spent. Unprocessed holds every request that was not
// applied, including chunks that were never sent.
type BatchWriteError struct {
	Table       string
	Unprocessed []types.WriteRequest
	Attempts    int
	Cause       error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("dynamodel: batch write on %s left %d unprocessed requests after %d attempts", e.Table, len(e.Unprocessed), e.Attempts)
}

func (e *BatchWriteError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrBatchPartialFailure}
	}
	return []error{ErrBatchPartialFailure, e.Cause}
}

// BatchGetError is returned when a batch get still has unprocessed keys after
// the retry budget is spent. Items holds what was read before giving up.
type BatchGetError struct {
	Table       string
	Unprocessed []map[string]types.AttributeValue
	Items       []map[string]types.AttributeValue
	Attempts    int
	Cause       error
}

func (e *BatchGetError) Error() string {
	return fmt.Sprintf("dynamodel: batch get on %s left %d unprocessed keys after %d attempts", e.Table, len(e.Unprocessed), e.Attempts)
}

func (e *BatchGetError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrBatchPartialFailure}
	}
	return []error{ErrBatchPartialFailure, e.Cause}
}

// FromClient classifies an error returned by the DynamoDB client. The original
// error is always kept as the cause.
func FromClient(op, table string, err error) error {
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		return newTransactionCancelled(op, canceled)
	}

	opErr := &OpError{Op: op, Table: table, Err: ErrTransport, Cause: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		opErr.CauseResponseCode = apiErr.ErrorCode()
		opErr.CauseMessage = apiErr.ErrorMessage()
		if apiErr.ErrorCode() == CodeConditionalCheckFailed {
			opErr.Err = ErrConditionFailed
		}
		return opErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		opErr.Err = ErrOutcomeUnknown
	}
	return opErr
}

func newTransactionCancelled(op string, exc *types.TransactionCanceledException) *TransactionCancelled {
	out := &TransactionCancelled{Op: op, Message: exc.ErrorMessage(), Cause: exc}
	for i, r := range exc.CancellationReasons {
		reason := CancellationReason{Index: i, Item: r.Item}
		if r.Code != nil {
			reason.Code = *r.Code
		}
		if r.Message != nil {
			reason.Message = *r.Message
		}
		out.Reasons = append(out.Reasons, reason)
	}
	return out
}

// IsNotFound checks if an error indicates an item was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}

// IsConditionFailed checks if an error indicates a condition check failure
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsTransactionCancelled checks if an error is a cancelled transaction
func IsTransactionCancelled(err error) bool {
	return errors.Is(err, ErrTransactionCancelled)
}

// IsSerialization checks if an error is a local serialization failure
func IsSerialization(err error) bool {
	return errors.Is(err, ErrSerialization)
}

// IsCompilation checks if an error is a local expression failure
func IsCompilation(err error) bool {
	return errors.Is(err, ErrCompilation)
}

// CauseResponseCode returns the store's error code carried by err, if any.
func CauseResponseCode(err error) string {
	var tc *TransactionCancelled
	if errors.As(err, &tc) {
		return tc.CauseResponseCode()
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.CauseResponseCode
	}
	return ""
}
