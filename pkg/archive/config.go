package archive

import (
	"context"
	"time"

	"github.com/dmitrymomot/courier/pkg/queue"
)

// Config selects and configures the archive of terminal jobs
type Config struct {
	Driver         string        `env:"ARCHIVE_DRIVER" envDefault:"none" validate:"oneof=none s3"`
	Bucket         string        `env:"ARCHIVE_S3_BUCKET" validate:"required_if=Driver s3"`
	Region         string        `env:"ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string        `env:"ARCHIVE_S3_ACCESS_KEY_ID"`
	SecretKey      string        `env:"ARCHIVE_S3_SECRET_KEY"`
	Endpoint       string        `env:"ARCHIVE_S3_ENDPOINT"`
	ForcePathStyle bool          `env:"ARCHIVE_S3_FORCE_PATH_STYLE" envDefault:"false"`
	Prefix         string        `env:"ARCHIVE_PREFIX" envDefault:"courier/jobs"`
	UploadTimeout  time.Duration `env:"ARCHIVE_UPLOAD_TIMEOUT" envDefault:"30s"`
}

// New returns the archiver selected by cfg.Driver
func New(ctx context.Context, cfg Config, opts ...S3Option) (queue.Archiver, error) {
	switch cfg.Driver {
	case "", "none":
		return Discard{}, nil
	case "s3":
		return NewS3Archiver(ctx, cfg, opts...)
	default:
		return nil, ErrInvalidConfig
	}
}

// Discard drops every job. It is the archiver used when archiving is off.
type Discard struct{}

// Archive implements queue.Archiver
func (Discard) Archive(context.Context, []*queue.Job) error { return nil }
