package queue

import (
	"log/slog"
	"time"
)

// ServiceOption is a functional option for configuring a Service
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	config      Config
	oracle      QuietHoursOracle
	prefs       PreferenceStore
	archiver    Archiver
	onExhausted ExhaustedHandler
	now         func() time.Time
	logger      *slog.Logger
}

// WithConfig sets worker counts, timeouts, backoff and batching parameters
func WithConfig(cfg Config) ServiceOption {
	return func(o *serviceOptions) {
		o.config = cfg
	}
}

// WithQuietHours sets the quiet-hours oracle
func WithQuietHours(oracle QuietHoursOracle) ServiceOption {
	return func(o *serviceOptions) {
		o.oracle = oracle
	}
}

// WithPreferences sets the preference store
func WithPreferences(store PreferenceStore) ServiceOption {
	return func(o *serviceOptions) {
		o.prefs = store
	}
}

// WithJobArchiver sets where terminal jobs go before they are purged
func WithJobArchiver(a Archiver) ServiceOption {
	return func(o *serviceOptions) {
		o.archiver = a
	}
}

// WithOnExhausted sets a hook called for every job that ends in Failed
func WithOnExhausted(h ExhaustedHandler) ServiceOption {
	return func(o *serviceOptions) {
		o.onExhausted = h
	}
}

// WithClock overrides the time source of every component
func WithClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
