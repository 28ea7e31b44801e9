package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubHTTPClient struct {
	responses map[string]string
	hosts     *[]string
}

func (c stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	target := req.Header.Get("X-Amz-Target")
	if req.Body != nil {
		_, _ = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()
	}
	if c.hosts != nil {
		*c.hosts = append(*c.hosts, req.URL.Host)
	}

	body := c.responses[target]
	if body == "" {
		body = "{}"
	}

	status := http.StatusOK
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        http.Header{"Content-Type": []string{"application/x-amz-json-1.0"}},
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		Request:       req,
	}, nil
}

func minimalAWSConfig(httpClient aws.HTTPClient) aws.Config {
	return aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("test", "secret", "token"),
		Retryer: func() aws.Retryer {
			return aws.NopRetryer{}
		},
		HTTPClient: httpClient,
	}
}

func stubConfigLoad(t *testing.T, httpClient aws.HTTPClient, seen *int) {
	t.Helper()
	orig := configLoadFunc
	t.Cleanup(func() { configLoadFunc = orig })
	configLoadFunc = func(_ context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
		if seen != nil {
			*seen = len(opts)
		}
		return minimalAWSConfig(httpClient), nil
	}
}

func TestNewSessionUsesEndpointOverride(t *testing.T) {
	var hosts []string
	stubConfigLoad(t, stubHTTPClient{
		hosts: &hosts,
		responses: map[string]string{
			"DynamoDB_20120810.GetItem": `{"Item":{"ID":{"S":"a"}}}`,
		},
	}, nil)

	cfg := DefaultConfig()
	cfg.Endpoint = "http://localhost:8000"
	sess, err := NewSession(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, cfg, sess.Config())

	client, err := sess.Client()
	require.NoError(t, err)
	out, err := client.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: aws.String("Thread"),
		Key:       map[string]types.AttributeValue{"ID": &types.AttributeValueMemberS{Value: "a"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out.Item, "ID")
	assert.Equal(t, []string{"localhost:8000"}, hosts)
}

func TestNewSessionCredentials(t *testing.T) {
	t.Run("static keys add an option", func(t *testing.T) {
		var plain, withKeys int
		stubConfigLoad(t, stubHTTPClient{}, &plain)
		_, err := NewSession(context.Background(), DefaultConfig())
		require.NoError(t, err)

		stubConfigLoad(t, stubHTTPClient{}, &withKeys)
		cfg := DefaultConfig()
		cfg.AccessKeyID, cfg.SecretAccessKey = "AKID", "SECRET"
		_, err = NewSession(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, plain+1, withKeys)
	})

	t.Run("assume role wraps credentials in a cache", func(t *testing.T) {
		stubConfigLoad(t, stubHTTPClient{}, nil)
		cfg := DefaultConfig()
		cfg.AssumeRoleARN = "arn:aws:iam::111122223333:role/partner"
		cfg.ExternalID = "ext"
		sess, err := NewSession(context.Background(), cfg)
		require.NoError(t, err)
		_, ok := sess.AWSConfig().Credentials.(*aws.CredentialsCache)
		assert.True(t, ok)
	})
}

func TestNewSessionErrors(t *testing.T) {
	t.Run("config load fails", func(t *testing.T) {
		orig := configLoadFunc
		t.Cleanup(func() { configLoadFunc = orig })
		configLoadFunc = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("no profile")
		}
		_, err := NewSession(context.Background(), nil)
		assert.ErrorContains(t, err, "failed to load AWS config")
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Region = ""
		_, err := NewSession(context.Background(), cfg)
		assert.ErrorContains(t, err, "Region is required")
	})

	t.Run("nil session", func(t *testing.T) {
		var s *Session
		_, err := s.Client()
		assert.Error(t, err)
	})
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
region: eu-west-1
endpoint: http://localhost:8000
kmsKeyArn: arn:aws:kms:eu-west-1:111122223333:key/abc
logLevel: debug
batchRetry:
  maxRetries: 5
  initialDelay: 50ms
  maxDelay: 2s
  backoffFactor: 1.5
transactionMaxItems: 50
`))
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "http://localhost:8000", cfg.Endpoint)
	assert.Equal(t, 5, cfg.BatchRetry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.BatchRetry.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.BatchRetry.MaxDelay)
	assert.Equal(t, 50, cfg.TransactionMaxItems)
	assert.Equal(t, 3, cfg.MaxRetries, "unset keys keep their defaults")

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "regoin: us-east-1", "failed to parse config"},
		{"bad log level", "logLevel: loud", "LogLevel must be one of"},
		{"half credentials", "accessKeyId: AKID", "is invalid"},
		{"too many transaction items", "transactionMaxItems: 101", "TransactionMaxItems must be at most 100"},
		{"bad kms arn", "kmsKeyArn: key/abc", "is invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamodel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("region: ap-south-1\nmaxRetries: 7\n"), 0o600))

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvEndpoint, "http://dynamodb-local:8000")
	t.Setenv(EnvMetrics, "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", cfg.Region)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, "http://dynamodb-local:8000", cfg.Endpoint)
	assert.True(t, cfg.EnableMetrics)

	t.Setenv(EnvRegion, "us-west-2")
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", cfg.Region)

	t.Setenv(EnvMetrics, "sometimes")
	_, err = FromEnv()
	assert.ErrorContains(t, err, EnvMetrics)
}

func TestBuildLogger(t *testing.T) {
	cfg := DefaultConfig()
	logger := zap.NewNop()
	cfg.Logger = logger
	got, err := cfg.BuildLogger()
	require.NoError(t, err)
	assert.Same(t, logger, got)

	cfg = DefaultConfig()
	cfg.LogLevel = "warn"
	got, err = cfg.BuildLogger()
	require.NoError(t, err)
	assert.False(t, got.Core().Enabled(zap.InfoLevel))
	assert.True(t, got.Core().Enabled(zap.WarnLevel))
}
