// Package objectstore writes the full, pre-truncation agent response for a
// successful execution to S3-compatible object storage. It is strictly
// additive: the Execution Engine's own success path never depends on it,
// and archive failures are logged and swallowed rather than surfaced.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archive writes one execution's raw agent response JSON to object storage.
type Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config holds the object store connection settings. A zero-value Bucket
// means the archive is disabled (§4.9: "empty bucket disables it").
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// New builds an Archive, or returns (nil, nil) when no bucket is
// configured so callers can treat a disabled archive as a no-op.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "executions"
	}

	return &Archive{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Put writes rawResponse under <prefix>/<year>/<month>/<execution_id>.json
// and returns the resulting URI. Callers own the swallow-and-log policy
// described in §4.9; Put itself just reports the error.
func (a *Archive) Put(ctx context.Context, executionID uuid.UUID, at time.Time, rawResponse []byte) (string, error) {
	key := a.buildKey(executionID, at)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(rawResponse),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive execution response: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *Archive) buildKey(executionID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%s.json", a.prefix, at.Year(), int(at.Month()), executionID.String())
}
