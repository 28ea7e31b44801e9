// Package dynamodel maps an explicit item schema onto DynamoDB requests:
// typed attributes, compiled condition and update expressions, optimistic
// locking through version attributes, paginated reads, chunked batches and
// atomic transactions.
package dynamodel

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"github.com/pay-theory/dynamodel/internal/encryption"
	"github.com/pay-theory/dynamodel/pkg/batch"
	"github.com/pay-theory/dynamodel/pkg/core"
	"github.com/pay-theory/dynamodel/pkg/metrics"
	"github.com/pay-theory/dynamodel/pkg/model"
	"github.com/pay-theory/dynamodel/pkg/schema"
	"github.com/pay-theory/dynamodel/pkg/session"
	"github.com/pay-theory/dynamodel/pkg/transaction"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "dynamodel"

// Re-export types for convenience
type (
	Config = session.Config
	// KMSClient is the part of the KMS API used for encrypted attributes.
	KMSClient = encryption.KMSAPI
)

// DB is the entry point: it owns the instrumented client, the schema
// registry and the shared batch, transaction and encryption settings. A DB is
// safe for concurrent use.
type DB struct {
	raw      core.DynamoDBAPI
	client   core.DynamoDBAPI
	config   *session.Config
	logger   *zap.Logger
	registry *model.Registry
	metrics  *metrics.Collector
	chunker  *batch.Chunker
	crypto   *encryption.Service
}

// Option configures a DB.
type Option func(*options)

type options struct {
	kms       KMSClient
	registry  *model.Registry
	observers []core.Observer
	sleeper   core.Sleeper
}

// WithKMSClient sets the KMS client used for encrypted attributes. New
// builds one from the session when Config.KMSKeyARN is set.
func WithKMSClient(c KMSClient) Option {
	return func(o *options) { o.kms = c }
}

// WithRegistry shares a schema registry between DBs.
func WithRegistry(r *model.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithObserver reports every store call to obs.
func WithObserver(obs core.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithSleeper replaces the wait between batch retries.
func WithSleeper(s core.Sleeper) Option {
	return func(o *options) { o.sleeper = s }
}

// New creates a session from cfg and a DB on top of it.
func New(ctx context.Context, cfg *session.Config, opts ...Option) (*DB, error) {
	sess, err := session.NewSession(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	client, err := sess.Client()
	if err != nil {
		return nil, err
	}
	if sess.Config().KMSKeyARN != "" {
		opts = append([]Option{WithKMSClient(kms.NewFromConfig(sess.AWSConfig()))}, opts...)
	}
	return NewWithClient(client, sess.Config(), opts...)
}

// NewWithClient creates a DB around an existing client. A nil cfg means
// session.DefaultConfig().
func NewWithClient(client core.DynamoDBAPI, cfg *session.Config, opts ...Option) (*DB, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is nil")
	}
	if cfg == nil {
		cfg = session.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger, err := cfg.BuildLogger()
	if err != nil {
		return nil, err
	}

	db := &DB{
		raw:      client,
		config:   cfg,
		logger:   logger,
		registry: o.registry,
	}
	if db.registry == nil {
		db.registry = model.NewRegistry()
	}

	observers := o.observers
	if cfg.EnableMetrics {
		db.metrics = metrics.NewCollector(MetricsNamespace)
		observers = append(observers, db.metrics)
	}
	db.client = core.NewInstrumented(client, logger, observers...)

	policy := cfg.BatchRetry
	if policy == (batch.RetryPolicy{}) {
		policy = batch.DefaultRetryPolicy()
	}
	batchOpts := []batch.Option{batch.WithRetryPolicy(policy), batch.WithLogger(logger)}
	if o.sleeper != nil {
		batchOpts = append(batchOpts, batch.WithSleeper(o.sleeper))
	}
	if db.metrics != nil {
		batchOpts = append(batchOpts, batch.WithRetryHook(db.metrics.ObserveBatchRetry))
	}
	db.chunker = batch.New(db.client, batchOpts...)

	if cfg.KMSKeyARN != "" && o.kms != nil {
		db.crypto = encryption.NewService(cfg.KMSKeyARN, o.kms)
	}
	return db, nil
}

// Register validates def and returns a handle on its table. Registering a
// known table returns the existing schema. A table with encrypted attributes
// is refused when no KMS key is configured.
func (db *DB) Register(def model.SchemaDef) (*Table, error) {
	s, err := db.registry.Lookup(def.Table)
	if err != nil {
		if s, err = model.NewSchema(def); err != nil {
			return nil, err
		}
	}
	if err := encryption.FailClosedIfEncryptedWithoutKMSKeyARN(db.config.KMSKeyARN, s); err != nil {
		return nil, err
	}
	if s, err = db.registry.Register(def); err != nil {
		return nil, err
	}
	return db.Table(s), nil
}

// Table returns a handle on the table of s.
func (db *DB) Table(s *model.Schema) *Table {
	return &Table{db: db, schema: s}
}

// Lookup returns the handle of a registered table.
func (db *DB) Lookup(name string) (*Table, error) {
	s, err := db.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return db.Table(s), nil
}

// Registry returns the schema registry.
func (db *DB) Registry() *model.Registry { return db.registry }

// Client returns the instrumented client.
func (db *DB) Client() core.DynamoDBAPI { return db.client }

// Config returns the configuration the DB was built with.
func (db *DB) Config() *session.Config { return db.config }

// Logger returns the DB's logger.
func (db *DB) Logger() *zap.Logger { return db.logger }

// Metrics returns the collector, or nil when metrics are disabled.
func (db *DB) Metrics() *metrics.Collector { return db.metrics }

// TableManager returns a manager for creating, updating and deleting the
// tables of registered schemas. It fails when the client cannot administer
// tables.
func (db *DB) TableManager(opts ...schema.Option) (*schema.Manager, error) {
	admin, ok := db.raw.(schema.TableAPI)
	if !ok {
		return nil, fmt.Errorf("client %T does not support table administration", db.raw)
	}
	return schema.NewManager(admin, append([]schema.Option{schema.WithLogger(db.logger)}, opts...)...), nil
}

// Batch returns the shared batch chunker.
func (db *DB) Batch() *batch.Chunker { return db.chunker }

func (db *DB) transactionOptions() []transaction.Option {
	opts := []transaction.Option{transaction.WithLogger(db.logger)}
	if db.config.TransactionMaxItems > 0 {
		opts = append(opts, transaction.WithMaxItems(db.config.TransactionMaxItems))
	}
	if db.crypto != nil {
		opts = append(opts, transaction.WithEncrypter(db.crypto), transaction.WithDecrypter(db.crypto))
	}
	if db.metrics != nil {
		opts = append(opts, transaction.WithCancelHook(db.metrics.ObserveCancellation))
	}
	return opts
}

// NewTransaction starts an explicit transaction. Call Commit or Discard.
func (db *DB) NewTransaction(opts ...transaction.Option) *transaction.Write {
	return transaction.NewWrite(db.client, append(db.transactionOptions(), opts...)...)
}

// Transact runs fn with a new transaction and commits it when fn returns nil.
// On error or panic nothing is sent.
func (db *DB) Transact(ctx context.Context, fn func(*transaction.Write) error, opts ...transaction.Option) error {
	return transaction.Transact(ctx, db.client, fn, append(db.transactionOptions(), opts...)...)
}

// TransactGet starts a transactional read.
func (db *DB) TransactGet(opts ...transaction.Option) *transaction.Get {
	return transaction.NewGet(db.client, append(db.transactionOptions(), opts...)...)
}
