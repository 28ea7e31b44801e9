// Package expr compiles expression trees into DynamoDB expression strings.
package expr

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
)

// Builder compiles the expressions of a single request. All parts share one
// Placeholders, so the order of calls fixes placeholder numbering: callers
// compile key condition, filter and projection for reads, and projection,
// condition and update for writes.
type Builder struct {
	ph *Placeholders

	keyCondition string
	filter       string
	condition    string
	update       string
	projection   string
}

// NewBuilder creates a new expression builder
func NewBuilder() *Builder {
	return &Builder{ph: NewPlaceholders()}
}

// Placeholders exposes the allocator backing b.
func (b *Builder) Placeholders() *Placeholders {
	return b.ph
}

// KeyCondition compiles a key condition for a table or index whose partition
// key is hashKey and sort key is rangeKey ("" when there is none).
func (b *Builder) KeyCondition(c expression.Condition, hashKey, rangeKey string) error {
	s, err := b.renderKeyCondition(c, hashKey, rangeKey)
	if err != nil {
		return err
	}
	b.keyCondition = s
	return nil
}

// Filter compiles a filter expression.
func (b *Builder) Filter(c expression.Condition) error {
	s, err := b.renderCondition(c)
	if err != nil {
		return err
	}
	b.filter = s
	return nil
}

// Condition compiles a condition expression.
func (b *Builder) Condition(c expression.Condition) error {
	s, err := b.renderCondition(c)
	if err != nil {
		return err
	}
	b.condition = s
	return nil
}

// Update compiles an update expression. Zero actions leave it empty.
func (b *Builder) Update(actions ...expression.Action) error {
	s, err := b.renderUpdate(actions)
	if err != nil {
		return err
	}
	b.update = s
	return nil
}

// Projection compiles a projection expression.
func (b *Builder) Projection(paths ...expression.Path) error {
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		s, err := b.ph.Path(p)
		if err != nil {
			return err
		}
		parts = append(parts, s)
	}
	b.projection = strings.Join(parts, ", ")
	return nil
}

// Build returns the compiled components
func (b *Builder) Build() ExpressionComponents {
	return ExpressionComponents{
		KeyConditionExpression:    b.keyCondition,
		FilterExpression:          b.filter,
		ProjectionExpression:      b.projection,
		UpdateExpression:          b.update,
		ConditionExpression:       b.condition,
		ExpressionAttributeNames:  b.ph.Names(),
		ExpressionAttributeValues: b.ph.Values(),
	}
}

// ExpressionComponents holds all expression components
type ExpressionComponents struct {
	KeyConditionExpression    string
	FilterExpression          string
	ProjectionExpression      string
	UpdateExpression          string
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
}

// Optional converts an empty expression to nil for SDK input fields.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// CompileCondition compiles a lone condition with a fresh allocator.
func CompileCondition(c expression.Condition) (ExpressionComponents, error) {
	b := NewBuilder()
	if err := b.Condition(c); err != nil {
		return ExpressionComponents{}, err
	}
	return b.Build(), nil
}

// CompileUpdate compiles a condition and update actions with a fresh allocator.
// A nil condition is skipped.
func CompileUpdate(c expression.Condition, actions ...expression.Action) (ExpressionComponents, error) {
	b := NewBuilder()
	if c != nil {
		if err := b.Condition(c); err != nil {
			return ExpressionComponents{}, err
		}
	}
	if err := b.Update(actions...); err != nil {
		return ExpressionComponents{}, err
	}
	if b.update == "" {
		return ExpressionComponents{}, customerrors.NewCompilationError("update", "no actions")
	}
	return b.Build(), nil
}
