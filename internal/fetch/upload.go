package fetch

import (
	"bytes"
	"context"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/logging"
)

// Uploader writes result artifacts to the object store.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// S3Uploader writes artifacts to an S3-compatible bucket.
type S3Uploader struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
	log     *slog.Logger
}

// NewS3Uploader builds an uploader from the upload configuration. Region and
// endpoint come from the fetch configuration since both sides talk to the
// same store deployment.
func NewS3Uploader(ctx context.Context, fetchCfg conf.FetchConfig, cfg conf.UploadConfig) (*S3Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(fetchCfg.Region))
	if err != nil {
		return nil, errors.New(err).
			Component("fetch").
			Category(errors.CategoryConfiguration).
			Context("region", fetchCfg.Region).
			Build()
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if fetchCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(fetchCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		timeout: time.Duration(cfg.Timeout * float64(time.Second)),
		log:     logging.ForService("fetch"),
	}, nil
}

// Upload stores one artifact under the configured prefix.
func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte) error {
	fullKey := key
	if u.prefix != "" {
		fullKey = path.Join(u.prefix, key)
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.New(err).
			Component("fetch").
			Category(errors.CategoryNetwork).
			Context("bucket", u.bucket).
			Context("key", fullKey).
			Build()
	}

	u.log.Debug("Uploaded artifact", "key", fullKey, "size_bytes", len(data))
	return nil
}
