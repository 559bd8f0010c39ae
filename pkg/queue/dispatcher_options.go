package queue

import (
	"log/slog"
	"time"
)

// DispatcherOption is a functional option for configuring a Dispatcher
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	pools           []Pool
	gate            *Gate
	pollInterval    time.Duration
	deliveryTimeout time.Duration
	claimTimeout    time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// WithPool adds a worker pool claiming from the given queues
func WithPool(name string, workers int, queues ...QueueName) DispatcherOption {
	return func(o *dispatcherOptions) {
		if workers > 0 && len(queues) > 0 {
			o.pools = append(o.pools, Pool{Name: name, Queues: queues, Workers: workers})
		}
	}
}

// WithGate shares a pause gate with the dispatcher
func WithGate(g *Gate) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.gate = g
	}
}

// WithPollInterval sets how often idle workers look for due jobs
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithDeliveryTimeout bounds every transport call
func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.deliveryTimeout = d
		}
	}
}

// WithClaimTimeout sets after how long a Dispatching job is considered abandoned
func WithClaimTimeout(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.claimTimeout = d
		}
	}
}

// WithDispatcherClock overrides the time source
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(o *dispatcherOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDispatcherLogger sets the logger for the dispatcher
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
