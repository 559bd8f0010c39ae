// Package queue implements the notification delivery engine: it turns
// notification requests into prioritised jobs, defers them around quiet
// hours, dispatches them through a Transport with bounded retries and
// exponential backoff, and tracks each job through its lifecycle.
//
// The package is organised around a few components:
//
//   - Builder         : validates a request and builds a Job in state Queued
//   - Scheduler       : computes the effective dispatch time and routes the job
//   - Dispatcher      : worker pools that atomically claim and deliver jobs
//   - RetryCoordinator: turns delivery outcomes into lifecycle transitions
//   - BatchSplitter   : partitions bulk sends into staggered chunk jobs
//   - Tracker         : transition history, stats and retention
//   - Service         : the application facade over all of the above
//
// Components talk to persistence through small repository interfaces
// (EnqueueRepository, DispatchRepository, TrackerRepository,
// BatchRepository). MemoryStorage, PostgresStorage and RedisStorage
// implement all of them.
//
// # Lifecycle
//
//	queued -> scheduled -> dispatching -> sent | failed
//	dispatching -> scheduled            (retryable failure, with backoff)
//	queued | scheduled -> cancelled
//
// Claiming is a compare-and-swap from scheduled to dispatching, so a job is
// never held by two workers. Attempt is incremented at claim time and the
// backoff after a failed attempt n is BaseBackoff * 2^(n-1).
//
// # Usage
//
//	storage := queue.NewMemoryStorage()
//	svc, err := queue.NewService(storage, transport,
//		queue.WithQuietHours(oracle),
//		queue.WithPreferences(prefs),
//	)
//	if err != nil {
//		return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(svc.Run(ctx))
//
//	receipt, err := svc.Enqueue(ctx, queue.KindWelcome, queue.Payload{
//		Recipient: &queue.Recipient{UserID: "u1", Email: "ada@example.com"},
//		Template:  "welcome",
//	})
//
// Disabled channels do not produce an error: the receipt comes back with
// Skipped set and nothing is stored.
package queue
