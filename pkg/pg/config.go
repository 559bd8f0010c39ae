package pg

import "time"

// Config is the PostgreSQL connection and migration configuration
type Config struct {
	ConnectionString  string        `env:"PG_CONN_URL,required" validate:"required"`
	MaxOpenConns      int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10" validate:"min=1"`
	MaxIdleConns      int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"5" validate:"min=0,ltefield=MaxOpenConns"`
	HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`

	RetryAttempts int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3" validate:"min=1"`
	RetryInterval time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`

	MigrationsTable string `env:"PG_MIGRATIONS_TABLE" envDefault:"courier_schema_migrations" validate:"required"`
}
