package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/dmitrymomot/courier/pkg/queue"
)

// S3Client defines the S3 operations used by S3Archiver
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads terminal jobs to S3 or an S3-compatible service.
// Every call writes one object under {prefix}/{yyyy}/{mm}/{dd}/{uuid}.jsonl.zst.
// It is safe for concurrent use.
type S3Archiver struct {
	client        S3Client
	bucket        string
	prefix        string
	uploadTimeout time.Duration
	now           func() time.Time
}

// S3Option configures an S3Archiver
type S3Option func(*s3Options)

type s3Options struct {
	s3Client        S3Client
	s3ConfigOptions []func(*config.LoadOptions) error
	s3ClientOptions []func(*s3.Options)
	now             func() time.Time
}

// WithS3Client sets a pre-configured client. Useful for testing with mocks.
func WithS3Client(client S3Client) S3Option {
	return func(o *s3Options) {
		o.s3Client = client
	}
}

// WithS3ConfigOption adds a custom AWS config option
func WithS3ConfigOption(option func(*config.LoadOptions) error) S3Option {
	return func(o *s3Options) {
		o.s3ConfigOptions = append(o.s3ConfigOptions, option)
	}
}

// WithS3ClientOption adds a custom S3 client option
func WithS3ClientOption(option func(*s3.Options)) S3Option {
	return func(o *s3Options) {
		o.s3ClientOptions = append(o.s3ClientOptions, option)
	}
}

// WithClock overrides the time source used for object keys
func WithClock(now func() time.Time) S3Option {
	return func(o *s3Options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewS3Archiver creates an archiver writing to cfg.Bucket
func NewS3Archiver(ctx context.Context, cfg Config, opts ...S3Option) (*S3Archiver, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	options := &s3Options{now: time.Now}
	for _, opt := range opts {
		opt(options)
	}

	client := options.s3Client
	if client == nil {
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID,
					cfg.SecretKey,
					"",
				)),
			)
		}
		awsOptions = append(awsOptions, options.s3ConfigOptions...)

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToLoadConfig, err)
		}

		client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
			for _, opt := range options.s3ClientOptions {
				opt(o)
			}
		})
	}

	return &S3Archiver{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        cfg.Prefix,
		uploadTimeout: cfg.UploadTimeout,
		now:           options.now,
	}, nil
}

// Archive implements queue.Archiver. An empty slice uploads nothing.
func (a *S3Archiver) Archive(ctx context.Context, jobs []*queue.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := Encode(&buf, jobs); err != nil {
		return err
	}

	if a.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.uploadTimeout)
		defer cancel()
	}

	key := a.objectKey()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentLength:   aws.Int64(int64(buf.Len())),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"job-count": fmt.Sprint(len(jobs)),
		},
	})
	if err != nil {
		return classifyS3Error(err, key)
	}
	return nil
}

func (a *S3Archiver) objectKey() string {
	now := a.now().UTC()
	return path.Join(a.prefix, now.Format("2006"), now.Format("01"), now.Format("02"), uuid.NewString()+".jsonl.zst")
}

// classifyS3Error converts S3 errors to archive errors
func classifyS3Error(err error, key string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: put %s", ErrOperationTimeout, key)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: put %s", ErrOperationCanceled, key)
	}

	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			return fmt.Errorf("%w: put %s", ErrAccessDenied, key)
		case "NoSuchBucket":
			return ErrBucketNotFound
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: put %s", ErrServiceUnavailable, key)
		default:
			return fmt.Errorf("%w: put %s (code: %s): %w", ErrUpload, key, apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("%w: put %s: %w", ErrUpload, key, err)
}
