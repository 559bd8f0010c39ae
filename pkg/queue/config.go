package queue

import "time"

// Config holds the configuration for the delivery engine
type Config struct {
	PrimaryWorkers  int           `env:"QUEUE_PRIMARY_WORKERS" envDefault:"4" validate:"min=1,max=256"`
	DigestWorkers   int           `env:"QUEUE_DIGEST_WORKERS" envDefault:"1" validate:"min=1,max=64"`
	RetryWorkers    int           `env:"QUEUE_RETRY_WORKERS" envDefault:"1" validate:"min=1,max=64"`
	PollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s" validate:"gt=0"`
	DeliveryTimeout time.Duration `env:"QUEUE_DELIVERY_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	ClaimTimeout    time.Duration `env:"QUEUE_CLAIM_TIMEOUT" envDefault:"5m" validate:"gtfield=DeliveryTimeout"`
	MaxAttempts     int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3" validate:"min=1,max=10"`
	PrimaryBackoff  time.Duration `env:"QUEUE_PRIMARY_BACKOFF" envDefault:"2s" validate:"gt=0"`
	ChunkBackoff    time.Duration `env:"QUEUE_CHUNK_BACKOFF" envDefault:"10s" validate:"gt=0"`
	ChunkSize       int           `env:"QUEUE_CHUNK_SIZE" envDefault:"10" validate:"min=1,max=1000"`
	InterChunkDelay time.Duration `env:"QUEUE_INTER_CHUNK_DELAY" envDefault:"5s" validate:"gte=0"`
	Retention       time.Duration `env:"QUEUE_RETENTION" envDefault:"168h" validate:"gt=0"`
	SweepInterval   time.Duration `env:"QUEUE_SWEEP_INTERVAL" envDefault:"10m" validate:"gt=0"`
}

// DefaultConfig mirrors the envDefault values
func DefaultConfig() Config {
	return Config{
		PrimaryWorkers:  4,
		DigestWorkers:   1,
		RetryWorkers:    1,
		PollInterval:    time.Second,
		DeliveryTimeout: 30 * time.Second,
		ClaimTimeout:    5 * time.Minute,
		MaxAttempts:     DefaultMaxAttempts,
		PrimaryBackoff:  DefaultBackoff,
		ChunkBackoff:    DefaultChunkBackoff,
		ChunkSize:       DefaultChunkSize,
		InterChunkDelay: DefaultInterChunkDelay,
		Retention:       DefaultRetention,
		SweepInterval:   10 * time.Minute,
	}
}
