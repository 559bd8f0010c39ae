// Package config loads typed, validated configuration from the environment.
//
// It wraps github.com/joho/godotenv for .env files,
// github.com/caarlos0/env/v11 for parsing struct tags and
// github.com/go-playground/validator/v10 for `validate` tags. Each
// configuration type is parsed once and cached for the process lifetime.
//
// # Usage
//
//	type QueueConfig struct {
//	    Workers int           `env:"QUEUE_PRIMARY_WORKERS" envDefault:"4" validate:"min=1"`
//	    Poll    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
//	}
//
//	var cfg QueueConfig
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// Optional extra files can be loaded first with LoadEnv. Tests use ResetCache
// or ForceReload after changing the environment.
//
// # Errors
//
//   - ErrParsingConfig: env vars could not be parsed into the struct.
//   - ErrInvalidConfig: the struct failed validation.
//   - ErrLoadingEnvFile: LoadEnv could not read a file.
//   - ErrNilPointer: nil pointer passed to Load.
package config
