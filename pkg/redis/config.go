package redis

import "time"

// Config is the Redis connection configuration
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0" validate:"required,url"`
	KeyPrefix      string        `env:"REDIS_KEY_PREFIX" envDefault:"courier" validate:"required"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3" validate:"min=1"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s" validate:"gt=0"`
}
