package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/courier/pkg/logger"
)

// Transport delivers a claimed job. Returning an error wrapped with Permanent
// fails the job without further attempts.
type Transport interface {
	Deliver(ctx context.Context, job *Job) error
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context, job *Job) error

// Deliver implements Transport
func (f TransportFunc) Deliver(ctx context.Context, job *Job) error { return f(ctx, job) }

// Pool is a fixed number of workers claiming from a set of queues
type Pool struct {
	Name    string
	Queues  []QueueName
	Workers int
}

// Dispatcher runs the worker pools
type Dispatcher struct {
	repo      DispatchRepository
	transport Transport
	retry     *RetryCoordinator
	gate      *Gate
	pools     []Pool

	pollInterval    time.Duration
	deliveryTimeout time.Duration
	claimTimeout    time.Duration
	now             func() time.Time
	logger          *slog.Logger

	wake   chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a new dispatcher. Without WithPool options it runs
// one worker per queue.
func NewDispatcher(repo DispatchRepository, transport Transport, retry *RetryCoordinator, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if transport == nil {
		return nil, ErrTransportNil
	}

	options := &dispatcherOptions{
		pollInterval:    time.Second,
		deliveryTimeout: 30 * time.Second,
		claimTimeout:    5 * time.Minute,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	if retry == nil {
		var err error
		retry, err = NewRetryCoordinator(repo, nil, nil,
			WithRetryClock(options.now), WithRetryLogger(options.logger))
		if err != nil {
			return nil, err
		}
	}
	if options.gate == nil {
		options.gate = NewGate()
	}
	if len(options.pools) == 0 {
		for _, q := range Queues() {
			options.pools = append(options.pools, Pool{Name: string(q), Queues: []QueueName{q}, Workers: 1})
		}
	}

	return &Dispatcher{
		repo:            repo,
		transport:       transport,
		retry:           retry,
		gate:            options.gate,
		pools:           options.pools,
		pollInterval:    options.pollInterval,
		deliveryTimeout: options.deliveryTimeout,
		claimTimeout:    options.claimTimeout,
		now:             options.now,
		logger:          options.logger,
		wake:            make(chan struct{}, 1),
	}, nil
}

// Start launches the worker pools and the stale-claim janitor
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return ErrDispatcherStarted
	}

	ctx, d.cancel = context.WithCancel(ctx)

	for _, pool := range d.pools {
		for i := range pool.Workers {
			workerID := fmt.Sprintf("%s-%d", pool.Name, i)
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.work(ctx, workerID, pool.Queues)
			}()
		}

		d.logger.InfoContext(ctx, "dispatcher pool started",
			slog.String("pool", pool.Name),
			slog.Any("queues", pool.Queues),
			slog.Int("workers", pool.Workers))
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.janitor(ctx)
	}()

	return nil
}

// Stop cancels the workers and waits for in-flight deliveries to finish
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return ErrDispatcherNotStarted
	}
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	d.logger.Info("dispatcher stopping, waiting for active deliveries to complete")

	cancel()
	d.wg.Wait()

	d.logger.Info("dispatcher stopped")
	return nil
}

// Run starts the dispatcher and returns a function suitable for errgroup
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		if err := d.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return d.Stop()
	}
}

// Notify wakes an idle worker, typically after an enqueue
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// work is one worker loop. It drains eligible jobs, then sleeps until the
// next poll tick or notification.
func (d *Dispatcher) work(ctx context.Context, workerID string, queues []QueueName) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if err := d.gate.Wait(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		if d.ProcessNext(ctx, workerID, queues) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// ProcessNext claims and delivers one job. Reports whether a job was claimed.
func (d *Dispatcher) ProcessNext(ctx context.Context, workerID string, queues []QueueName) bool {
	if d.gate.Paused() {
		return false
	}

	job, err := d.repo.ClaimJob(ctx, queues, d.now())
	if err != nil {
		if !errors.Is(err, ErrNoJobToClaim) && !errors.Is(err, context.Canceled) {
			d.logger.ErrorContext(ctx, "failed to claim job",
				logger.WorkerID(workerID),
				logger.Error(err))
		}
		return false
	}

	// Outcomes must be recorded even while shutting down
	octx := context.WithoutCancel(ctx)

	d.logger.DebugContext(ctx, "claimed job",
		logger.WorkerID(workerID),
		logger.JobID(job.ID.String()),
		logger.Kind(string(job.Kind)),
		logger.Queue(string(job.Queue)),
		logger.Attempt(job.Attempt))
	d.retry.Claimed(octx, job, workerID)

	start := time.Now()
	deliverErr := d.deliver(octx, job)
	duration := time.Since(start)

	if deliverErr == nil {
		if err := d.retry.Succeed(octx, job); err != nil {
			d.logger.ErrorContext(ctx, "failed to mark job sent",
				logger.JobID(job.ID.String()),
				logger.Error(err))
			return true
		}
		d.logger.InfoContext(ctx, "job delivered",
			logger.WorkerID(workerID),
			logger.JobID(job.ID.String()),
			logger.Kind(string(job.Kind)),
			logger.Queue(string(job.Queue)),
			logger.Duration(duration))
		return true
	}

	terr := &TransportError{JobID: job.ID, Attempt: job.Attempt, Err: deliverErr}
	if _, err := d.retry.Fail(octx, job, terr); err != nil {
		d.logger.ErrorContext(ctx, "failed to record delivery failure",
			logger.JobID(job.ID.String()),
			logger.Error(errors.Join(err, terr)))
	}
	return true
}

// deliver calls the transport under the delivery timeout. A transport that
// ignores its context is abandoned when the timeout fires.
func (d *Dispatcher) deliver(ctx context.Context, job *Job) error {
	ctx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("transport panicked",
					logger.JobID(job.ID.String()),
					slog.Any("panic", r))
				done <- fmt.Errorf("panic in transport: %v", r)
			}
		}()
		done <- d.transport.Deliver(ctx, job.Clone())
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delivery timed out after %s: %w", d.deliveryTimeout, ctx.Err())
	}
}

// janitor periodically fails claims whose worker vanished
func (d *Dispatcher) janitor(ctx context.Context) {
	interval := max(d.claimTimeout/2, d.pollInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RecoverStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.ErrorContext(ctx, "stale claim recovery failed", logger.Error(err))
			}
		}
	}
}

// RecoverStale routes jobs stuck in Dispatching for longer than the claim
// timeout through the failure path. Returns the number of recovered jobs.
func (d *Dispatcher) RecoverStale(ctx context.Context) (int, error) {
	stale, err := d.repo.ListStale(ctx, d.now().Add(-d.claimTimeout), 100)
	if err != nil {
		return 0, fmt.Errorf("list stale claims: %w", err)
	}

	recovered := 0
	for _, job := range stale {
		cause := &TransportError{JobID: job.ID, Attempt: job.Attempt, Err: errClaimExpired}
		if _, err := d.retry.Fail(ctx, job, cause); err != nil {
			if errors.Is(err, ErrStateConflict) {
				// Worker finished in the meantime
				continue
			}
			return recovered, err
		}
		recovered++
		d.logger.WarnContext(ctx, "recovered stale claim",
			logger.JobID(job.ID.String()),
			logger.Attempt(job.Attempt))
	}
	return recovered, nil
}

var errClaimExpired = errors.New("claim expired before an outcome was recorded")
