package session

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/pay-theory/dynamodel/pkg/batch"
	"github.com/pay-theory/dynamodel/pkg/validation"
)

// Environment variables read by FromEnv.
const (
	EnvConfigFile = "DYNAMODEL_CONFIG"
	EnvRegion     = "DYNAMODEL_REGION"
	EnvEndpoint   = "DYNAMODEL_ENDPOINT"
	EnvKMSKeyARN  = "DYNAMODEL_KMS_KEY_ARN"
	EnvLogLevel   = "DYNAMODEL_LOG_LEVEL"
	EnvMetrics    = "DYNAMODEL_METRICS"
)

// Config holds the configuration for dynamodel. The yaml fields can be
// loaded from a file; the others are set in code.
type Config struct {
	Region          string `yaml:"region" validate:"required"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `yaml:"accessKeyId" validate:"required_with=SecretAccessKey"`
	SecretAccessKey string `yaml:"secretAccessKey" validate:"required_with=AccessKeyID"`
	SessionToken    string `yaml:"sessionToken"`

	AssumeRoleARN   string        `yaml:"assumeRoleArn" validate:"omitempty,startswith=arn:"`
	ExternalID      string        `yaml:"externalId"`
	RoleSessionName string        `yaml:"roleSessionName"`
	SessionDuration time.Duration `yaml:"sessionDuration" validate:"min=0"`

	MaxRetries          int               `yaml:"maxRetries" validate:"min=0,max=20"`
	KMSKeyARN           string            `yaml:"kmsKeyArn" validate:"omitempty,startswith=arn:"`
	EnableMetrics       bool              `yaml:"enableMetrics"`
	LogLevel            string            `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	BatchRetry          batch.RetryPolicy `yaml:"batchRetry"`
	TransactionMaxItems int               `yaml:"transactionMaxItems" validate:"min=0,max=100"`

	CredentialsProvider aws.CredentialsProvider           `yaml:"-" validate:"-"`
	AWSConfigOptions    []func(*config.LoadOptions) error `yaml:"-" validate:"-"`
	DynamoDBOptions     []func(*dynamodb.Options)         `yaml:"-" validate:"-"`
	Logger              *zap.Logger                       `yaml:"-" validate:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Region:              "us-east-1",
		MaxRetries:          3,
		LogLevel:            "info",
		BatchRetry:          batch.DefaultRetryPolicy(),
		TransactionMaxItems: 100,
	}
}

// Validate checks the configuration's struct tags.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	return nil
}

// LoadFile reads a YAML file over DefaultConfig. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv loads the file named by DYNAMODEL_CONFIG, or DefaultConfig when it
// is unset, and applies the DYNAMODEL_* overrides.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(EnvConfigFile); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := os.Getenv(EnvRegion); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv(EnvKMSKeyARN); v != "" {
		cfg.KMSKeyARN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvMetrics); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMetrics, err)
		}
		cfg.EnableMetrics = enabled
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BuildLogger returns cfg.Logger, or a production logger at cfg.LogLevel.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	if c.Logger != nil {
		return c.Logger, nil
	}
	level := zapcore.InfoLevel
	if c.LogLevel != "" {
		if err := level.Set(c.LogLevel); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
		}
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
