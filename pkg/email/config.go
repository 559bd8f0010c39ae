package email

import (
	"errors"
	"time"

	"github.com/dmitrymomot/courier/pkg/ratelimiter"
)

// Config holds email delivery configuration.
// Postmark tokens are only required when Provider is "postmark"; the dev
// provider writes messages to DevDir instead of sending them.
type Config struct {
	Provider             string        `env:"EMAIL_PROVIDER" envDefault:"dev" validate:"oneof=dev postmark"`
	PostmarkServerToken  string        `env:"POSTMARK_SERVER_TOKEN" validate:"required_if=Provider postmark"`
	PostmarkAccountToken string        `env:"POSTMARK_ACCOUNT_TOKEN" validate:"required_if=Provider postmark"`
	SenderEmail          string        `env:"SENDER_EMAIL,required" validate:"required,email"`
	SupportEmail         string        `env:"SUPPORT_EMAIL,required" validate:"required,email"`
	DevDir               string        `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
	BreakerEnabled       bool          `env:"EMAIL_BREAKER_ENABLED" envDefault:"true"`
	BreakerFailures      uint32        `env:"EMAIL_BREAKER_FAILURES" envDefault:"5" validate:"min=1"`
	BreakerTimeout       time.Duration `env:"EMAIL_BREAKER_TIMEOUT" envDefault:"30s"`
	RateLimit            int           `env:"EMAIL_RATE_LIMIT" envDefault:"0" validate:"min=0"` // sends per second and recipient domain, 0 disables
	RateBurst            int           `env:"EMAIL_RATE_BURST" envDefault:"0" validate:"min=0"`
}

// NewSender builds the sender selected by cfg.Provider. With
// cfg.BreakerEnabled the provider is wrapped in a circuit breaker; with
// cfg.RateLimit set, sends are throttled per recipient domain before they
// reach the breaker, so time spent waiting for a token is never counted as
// a provider failure. The returned func releases the limiter and must be
// called once the sender is no longer used.
func NewSender(cfg Config) (EmailSender, func(), error) {
	var (
		sender EmailSender
		err    error
	)
	switch cfg.Provider {
	case "postmark":
		sender, err = NewPostmarkClient(cfg)
		if err != nil {
			return nil, nil, err
		}
	case "", "dev":
		sender = NewDevSender(cfg.DevDir)
	default:
		return nil, nil, ErrUnknownProvider
	}

	if cfg.BreakerEnabled {
		sender = WithBreaker(sender,
			WithBreakerName("email-"+cfg.Provider),
			WithBreakerFailures(cfg.BreakerFailures),
			WithBreakerTimeout(cfg.BreakerTimeout))
	}

	release := func() {}
	if cfg.RateLimit > 0 {
		store := ratelimiter.NewMemoryStore()
		limiter, err := ratelimiter.NewBucket(store, ratelimiter.PerSecond(cfg.RateLimit, cfg.RateBurst))
		if err != nil {
			store.Close()
			return nil, nil, errors.Join(ErrInvalidConfig, err)
		}
		sender = WithRateLimit(sender, limiter)
		release = store.Close
	}
	return sender, release, nil
}
