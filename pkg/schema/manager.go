// Package schema creates, updates and deletes the DynamoDB table behind a
// model.Schema.
package schema

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/pay-theory/dynamodel/pkg/model"
)

// DefaultWaitTimeout bounds how long a create, update or delete waits for
// the table to settle.
const DefaultWaitTimeout = 5 * time.Minute

// TableAPI is the part of the DynamoDB client used for table administration.
type TableAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// Manager handles DynamoDB table schema operations
type Manager struct {
	client      TableAPI
	logger      *zap.Logger
	waitTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithWaitTimeout sets how long operations wait for the table to settle. Zero
// returns as soon as the request is accepted.
func WithWaitTimeout(d time.Duration) Option {
	return func(m *Manager) { m.waitTimeout = d }
}

// NewManager creates a new schema manager
func NewManager(client TableAPI, opts ...Option) *Manager {
	m := &Manager{client: client, logger: zap.NewNop(), waitTimeout: DefaultWaitTimeout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TableOption configures table creation options
type TableOption func(*dynamodb.CreateTableInput)

// WithBillingMode sets the billing mode for the table
func WithBillingMode(mode types.BillingMode) TableOption {
	return func(input *dynamodb.CreateTableInput) {
		input.BillingMode = mode
		if mode == types.BillingModePayPerRequest {
			input.ProvisionedThroughput = nil
		}
	}
}

// WithThroughput sets provisioned throughput for the table and its global
// indexes.
func WithThroughput(rcu, wcu int64) TableOption {
	return func(input *dynamodb.CreateTableInput) {
		input.BillingMode = types.BillingModeProvisioned
		input.ProvisionedThroughput = throughput(rcu, wcu)
		for i := range input.GlobalSecondaryIndexes {
			input.GlobalSecondaryIndexes[i].ProvisionedThroughput = throughput(rcu, wcu)
		}
	}
}

// WithStreamSpecification enables DynamoDB streams
func WithStreamSpecification(spec types.StreamSpecification) TableOption {
	return func(input *dynamodb.CreateTableInput) {
		input.StreamSpecification = &spec
	}
}

// WithSSESpecification enables server-side encryption
func WithSSESpecification(spec types.SSESpecification) TableOption {
	return func(input *dynamodb.CreateTableInput) {
		input.SSESpecification = &spec
	}
}

// WithTags tags the table.
func WithTags(tags map[string]string) TableOption {
	return func(input *dynamodb.CreateTableInput) {
		keys := make([]string, 0, len(tags))
		for k := range tags {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
		}
	}
}

func throughput(rcu, wcu int64) *types.ProvisionedThroughput {
	return &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(rcu),
		WriteCapacityUnits: aws.Int64(wcu),
	}
}

// CreateTableInput builds the request that creates the table of s. Tables
// default to on-demand billing.
func CreateTableInput(s *model.Schema, opts ...TableOption) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName:            aws.String(s.Table()),
		BillingMode:          types.BillingModePayPerRequest,
		KeySchema:            keySchema(s.HashKey(), s.RangeKey()),
		AttributeDefinitions: attributeDefinitions(s),
	}
	gsis, lsis := buildIndexes(s)
	if len(gsis) > 0 {
		input.GlobalSecondaryIndexes = gsis
	}
	if len(lsis) > 0 {
		input.LocalSecondaryIndexes = lsis
	}
	for _, opt := range opts {
		opt(input)
	}
	return input
}

func keySchema(hash, rng *model.Attribute) []types.KeySchemaElement {
	keys := []types.KeySchemaElement{{AttributeName: aws.String(hash.Name()), KeyType: types.KeyTypeHash}}
	if rng != nil {
		keys = append(keys, types.KeySchemaElement{AttributeName: aws.String(rng.Name()), KeyType: types.KeyTypeRange})
	}
	return keys
}

// attributeDefinitions declares every table and index key attribute once, in
// schema order.
func attributeDefinitions(s *model.Schema) []types.AttributeDefinition {
	keyed := map[string]bool{s.HashKey().Name(): true}
	if s.RangeKey() != nil {
		keyed[s.RangeKey().Name()] = true
	}
	for _, idx := range s.Indexes() {
		keyed[idx.HashKey.Name()] = true
		if idx.RangeKey != nil {
			keyed[idx.RangeKey.Name()] = true
		}
	}

	var defs []types.AttributeDefinition
	for _, a := range s.Attributes() {
		if !keyed[a.Name()] {
			continue
		}
		defs = append(defs, types.AttributeDefinition{
			AttributeName: aws.String(a.Name()),
			AttributeType: types.ScalarAttributeType(a.Type().Wire()),
		})
	}
	return defs
}

func projection(idx model.Index) *types.Projection {
	p := &types.Projection{ProjectionType: types.ProjectionType(idx.ProjectionType)}
	if p.ProjectionType == types.ProjectionTypeInclude && len(idx.Projected) > 0 {
		p.NonKeyAttributes = slices.Clone(idx.Projected)
	}
	return p
}

func buildIndexes(s *model.Schema) ([]types.GlobalSecondaryIndex, []types.LocalSecondaryIndex) {
	var (
		gsis []types.GlobalSecondaryIndex
		lsis []types.LocalSecondaryIndex
	)
	for _, idx := range s.Indexes() {
		switch idx.Type {
		case model.GlobalSecondaryIndex:
			gsis = append(gsis, types.GlobalSecondaryIndex{
				IndexName:  aws.String(idx.Name),
				KeySchema:  keySchema(idx.HashKey, idx.RangeKey),
				Projection: projection(idx),
			})
		case model.LocalSecondaryIndex:
			lsis = append(lsis, types.LocalSecondaryIndex{
				IndexName:  aws.String(idx.Name),
				KeySchema:  keySchema(idx.HashKey, idx.RangeKey),
				Projection: projection(idx),
			})
		}
	}
	return gsis, lsis
}

// CreateTable creates the table of s and waits for it to become active. An
// existing table is left as it is.
func (m *Manager) CreateTable(ctx context.Context, s *model.Schema, opts ...TableOption) error {
	input := CreateTableInput(s, opts...)
	if _, err := m.client.CreateTable(ctx, input); err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			m.logger.Debug("table already exists", zap.String("table", s.Table()))
			return nil
		}
		return fmt.Errorf("failed to create table %s: %w", s.Table(), err)
	}
	m.logger.Info("created table", zap.String("table", s.Table()))
	return m.waitActive(ctx, s.Table())
}

func (m *Manager) waitActive(ctx context.Context, table string) error {
	if m.waitTimeout <= 0 {
		return nil
	}
	waiter := dynamodb.NewTableExistsWaiter(m.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, m.waitTimeout); err != nil {
		return fmt.Errorf("failed waiting for table %s to be active: %w", table, err)
	}
	return nil
}

// TableExists checks if a table exists
func (m *Manager) TableExists(ctx context.Context, table string) (bool, error) {
	_, err := m.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DescribeTable returns the table description.
func (m *Manager) DescribeTable(ctx context.Context, table string) (*types.TableDescription, error) {
	out, err := m.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	return out.Table, nil
}

// DeleteTable deletes the table and waits until it is gone.
func (m *Manager) DeleteTable(ctx context.Context, table string) error {
	if _, err := m.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(table)}); err != nil {
		return fmt.Errorf("failed to delete table %s: %w", table, err)
	}
	m.logger.Info("deleted table", zap.String("table", table))
	if m.waitTimeout <= 0 {
		return nil
	}
	waiter := dynamodb.NewTableNotExistsWaiter(m.client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, m.waitTimeout)
}

// UpdateTimeToLive turns expiry on attribute on or off.
func (m *Manager) UpdateTimeToLive(ctx context.Context, table, attribute string, enabled bool) error {
	_, err := m.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(attribute),
			Enabled:       aws.Bool(enabled),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update time to live of table %s: %w", table, err)
	}
	return nil
}

// IndexPlan lists the global indexes to create and delete to bring a table in
// line with its schema.
type IndexPlan struct {
	ToCreate []types.GlobalSecondaryIndex
	ToDelete []string
}

// Empty reports whether the plan changes nothing.
func (p IndexPlan) Empty() bool { return len(p.ToCreate) == 0 && len(p.ToDelete) == 0 }

// PlanIndexUpdates compares the schema's global indexes with the current
// table. Indexes are matched by name; a changed definition needs a delete and
// a create under a new name.
func PlanIndexUpdates(s *model.Schema, current *types.TableDescription) IndexPlan {
	var plan IndexPlan
	desired, _ := buildIndexes(s)

	existing := make(map[string]bool, len(current.GlobalSecondaryIndexes))
	for _, gsi := range current.GlobalSecondaryIndexes {
		existing[aws.ToString(gsi.IndexName)] = true
	}
	wanted := make(map[string]bool, len(desired))
	provisioned := current.BillingModeSummary != nil && current.BillingModeSummary.BillingMode == types.BillingModeProvisioned
	for _, gsi := range desired {
		name := aws.ToString(gsi.IndexName)
		wanted[name] = true
		if existing[name] {
			continue
		}
		if provisioned && current.ProvisionedThroughput != nil {
			gsi.ProvisionedThroughput = throughput(
				aws.ToInt64(current.ProvisionedThroughput.ReadCapacityUnits),
				aws.ToInt64(current.ProvisionedThroughput.WriteCapacityUnits))
		}
		plan.ToCreate = append(plan.ToCreate, gsi)
	}
	for _, gsi := range current.GlobalSecondaryIndexes {
		if name := aws.ToString(gsi.IndexName); !wanted[name] {
			plan.ToDelete = append(plan.ToDelete, name)
		}
	}
	return plan
}

// UpdateTable brings the table's global indexes in line with s, one index
// create or delete per request as DynamoDB requires, waiting for the table to
// settle between changes. Billing, stream and encryption options are sent with
// the first request. WithThroughput also resizes every global index the table
// keeps and provisions the ones it creates.
func (m *Manager) UpdateTable(ctx context.Context, s *model.Schema, opts ...TableOption) error {
	current, err := m.DescribeTable(ctx, s.Table())
	if err != nil {
		return err
	}
	plan := PlanIndexUpdates(s, current)

	settings := &dynamodb.CreateTableInput{}
	for _, opt := range opts {
		opt(settings)
	}
	var resizes, updates []types.GlobalSecondaryIndexUpdate
	if settings.ProvisionedThroughput != nil {
		dropped := make(map[string]bool, len(plan.ToDelete))
		for _, name := range plan.ToDelete {
			dropped[name] = true
		}
		for _, gsi := range current.GlobalSecondaryIndexes {
			if dropped[aws.ToString(gsi.IndexName)] {
				continue
			}
			resizes = append(resizes, types.GlobalSecondaryIndexUpdate{Update: &types.UpdateGlobalSecondaryIndexAction{
				IndexName:             gsi.IndexName,
				ProvisionedThroughput: settings.ProvisionedThroughput,
			}})
		}
	}
	for _, gsi := range plan.ToCreate {
		if settings.ProvisionedThroughput != nil {
			gsi.ProvisionedThroughput = settings.ProvisionedThroughput
		}
		updates = append(updates, types.GlobalSecondaryIndexUpdate{Create: &types.CreateGlobalSecondaryIndexAction{
			IndexName:             gsi.IndexName,
			KeySchema:             gsi.KeySchema,
			Projection:            gsi.Projection,
			ProvisionedThroughput: gsi.ProvisionedThroughput,
		}})
	}
	for _, name := range plan.ToDelete {
		updates = append(updates, types.GlobalSecondaryIndexUpdate{Delete: &types.DeleteGlobalSecondaryIndexAction{
			IndexName: aws.String(name),
		}})
	}

	first := &dynamodb.UpdateTableInput{
		TableName:             aws.String(s.Table()),
		BillingMode:           settings.BillingMode,
		ProvisionedThroughput: settings.ProvisionedThroughput,
		StreamSpecification:   settings.StreamSpecification,
		SSESpecification:      settings.SSESpecification,
	}
	if first.BillingMode == "" && first.ProvisionedThroughput == nil && first.StreamSpecification == nil &&
		first.SSESpecification == nil && len(updates) == 0 {
		return nil
	}

	inputs := []*dynamodb.UpdateTableInput{first}
	if len(resizes) > 0 {
		// Resizes may share a request; creates and deletes follow one at a time.
		first.GlobalSecondaryIndexUpdates = resizes
	} else if len(updates) > 0 {
		first.AttributeDefinitions = attributeDefinitions(s)
		first.GlobalSecondaryIndexUpdates = updates[:1]
		updates = updates[1:]
	}
	for _, u := range updates {
		inputs = append(inputs, &dynamodb.UpdateTableInput{
			TableName:                   aws.String(s.Table()),
			AttributeDefinitions:        attributeDefinitions(s),
			GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{u},
		})
	}

	for i, input := range inputs {
		if _, err := m.client.UpdateTable(ctx, input); err != nil {
			return fmt.Errorf("failed to update table %s (step %d of %d): %w", s.Table(), i+1, len(inputs), err)
		}
		if err := m.waitActive(ctx, s.Table()); err != nil {
			return err
		}
	}
	m.logger.Info("updated table",
		zap.String("table", s.Table()),
		zap.Int("index_creates", len(plan.ToCreate)),
		zap.Int("index_deletes", len(plan.ToDelete)),
		zap.Int("index_resizes", len(resizes)))
	return nil
}
