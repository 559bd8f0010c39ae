package email

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

type breakerOptions struct {
	name          string
	failures      uint32
	timeout       time.Duration
	interval      time.Duration
	onStateChange func(name string, from, to gobreaker.State)
}

// BreakerOption configures WithBreaker
type BreakerOption func(*breakerOptions)

// WithBreakerName names the breaker in state change callbacks
func WithBreakerName(name string) BreakerOption {
	return func(o *breakerOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithBreakerFailures sets how many consecutive provider failures open the breaker
func WithBreakerFailures(n uint32) BreakerOption {
	return func(o *breakerOptions) {
		if n > 0 {
			o.failures = n
		}
	}
}

// WithBreakerTimeout sets how long the breaker stays open before probing again
func WithBreakerTimeout(d time.Duration) BreakerOption {
	return func(o *breakerOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBreakerStateChange registers a callback for breaker state changes
func WithBreakerStateChange(fn func(name string, from, to gobreaker.State)) BreakerOption {
	return func(o *breakerOptions) {
		o.onStateChange = fn
	}
}

type breakerSender struct {
	next    EmailSender
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// WithBreaker wraps sender in a circuit breaker. Invalid parameters and
// rejected recipients do not count as provider failures. While the breaker
// is open SendEmail fails fast with ErrProviderUnavailable.
func WithBreaker(sender EmailSender, opts ...BreakerOption) EmailSender {
	o := &breakerOptions{
		name:     "email",
		failures: 5,
		timeout:  30 * time.Second,
		interval: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	failures := o.failures
	return &breakerSender{
		next: sender,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        o.name,
			MaxRequests: 1,
			Interval:    o.interval,
			Timeout:     o.timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, ErrInvalidParams) ||
					errors.Is(err, ErrRecipientRejected) ||
					errors.Is(err, context.Canceled)
			},
			OnStateChange: o.onStateChange,
		}),
	}
}

func (b *breakerSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.SendEmail(ctx, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrProviderUnavailable, err)
	}
	return err
}
