package dynamodel

import (
	"context"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/pay-theory/dynamodel/pkg/model"
	"github.com/pay-theory/dynamodel/pkg/session"
)

// lambdaTimeoutBuffer is kept free at the end of an invocation for cleanup.
const lambdaTimeoutBuffer = time.Second

var (
	// Global Lambda DB for connection reuse across warm starts
	lambdaDB   *DB
	lambdaErr  error
	lambdaOnce sync.Once
)

// NewLambdaOptimized returns a process-wide DB configured from the
// environment (see session.FromEnv) with a transport sized for the
// function's memory. Later calls return the same DB, or the same error.
func NewLambdaOptimized(ctx context.Context, opts ...Option) (*DB, error) {
	lambdaOnce.Do(func() {
		var cfg *session.Config
		cfg, lambdaErr = session.FromEnv()
		if lambdaErr != nil {
			return
		}
		lambdaDB, lambdaErr = New(ctx, LambdaConfig(cfg), opts...)
	})
	return lambdaDB, lambdaErr
}

// LambdaConfig returns a copy of cfg with a pooled HTTP client and adaptive
// retries.
func LambdaConfig(cfg *session.Config) *session.Config {
	cp := *cfg
	cp.AWSConfigOptions = append(slices.Clone(cfg.AWSConfigOptions),
		config.WithHTTPClient(lambdaHTTPClient(GetLambdaMemoryMB())),
		config.WithRetryMode(aws.RetryModeAdaptive),
	)
	return &cp
}

// lambdaHTTPClient keeps connections alive between invocations. Lower memory
// gets fewer connections.
func lambdaHTTPClient(memoryMB int) *http.Client {
	conns := 20
	switch {
	case memoryMB > 0 && memoryMB <= 512:
		conns = 5
	case memoryMB > 0 && memoryMB <= 1024:
		conns = 10
	}
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        conns,
			MaxIdleConnsPerHost: conns,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// RegisterAll registers every definition, typically at init time to keep
// schema validation out of the request path.
func (db *DB) RegisterAll(defs ...model.SchemaDef) ([]*Table, error) {
	tables := make([]*Table, 0, len(defs))
	for _, def := range defs {
		t, err := db.Register(def)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// WithLambdaTimeout derives a context that ends one second before the
// invocation deadline. Without a deadline it only adds cancellation.
func WithLambdaTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-lambdaTimeoutBuffer))
}

// IsLambdaEnvironment detects if running in AWS Lambda
func IsLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// GetLambdaMemoryMB returns the allocated memory in MB, or 0 outside Lambda.
func GetLambdaMemoryMB() int {
	mem, err := strconv.Atoi(os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"))
	if err != nil {
		return 0
	}
	return mem
}

// GetRemainingTimeMillis returns milliseconds until the context deadline, or
// -1 without one.
func GetRemainingTimeMillis(ctx context.Context) int64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return -1
	}
	return time.Until(deadline).Milliseconds()
}
