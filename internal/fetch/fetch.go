// Package fetch retrieves recording objects from the object store. Missing
// objects are classified distinctly from transport failures so the batch
// layer can skip them instead of aborting.
package fetch

import (
	"context"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/logging"
)

// Fetcher retrieves one recording by its store key.
type Fetcher interface {
	// Fetch returns the raw object bytes. A missing object yields an error
	// for which errors.IsNotFound reports true.
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// S3Fetcher reads recordings from an S3-compatible bucket.
type S3Fetcher struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
	log     *slog.Logger
}

// NewS3Fetcher builds a fetcher from the fetch configuration, resolving
// credentials from the standard AWS chain. A custom endpoint supports
// MinIO-style deployments.
func NewS3Fetcher(ctx context.Context, cfg conf.FetchConfig) (*S3Fetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.New(err).
			Component("fetch").
			Category(errors.CategoryConfiguration).
			Context("region", cfg.Region).
			Build()
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Fetcher{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		timeout: time.Duration(cfg.Timeout * float64(time.Second)),
		log:     logging.ForService("fetch"),
	}, nil
}

// Fetch downloads one object. The key is joined onto the configured prefix.
func (f *S3Fetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	fullKey := key
	if f.prefix != "" {
		fullKey = path.Join(f.prefix, key)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, classifyFetchError(err, f.bucket, fullKey)
	}
	defer func() {
		if err := out.Body.Close(); err != nil {
			f.log.Warn("Failed to close object body", "key", fullKey, "error", err)
		}
	}()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.New(err).
			Component("fetch").
			Category(errors.CategoryNetwork).
			Context("bucket", f.bucket).
			Context("key", fullKey).
			Build()
	}

	f.log.Debug("Fetched recording",
		"key", fullKey,
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return data, nil
}

// classifyFetchError distinguishes missing objects from transport failures.
func classifyFetchError(err error, bucket, key string) error {
	category := errors.CategoryNetwork

	var noSuchKey *types.NoSuchKey
	var apiErr smithy.APIError
	switch {
	case errors.As(err, &noSuchKey):
		category = errors.CategoryNotFound
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			category = errors.CategoryNotFound
		}
	}

	return errors.New(err).
		Component("fetch").
		Category(category).
		Context("bucket", bucket).
		Context("key", key).
		Build()
}
