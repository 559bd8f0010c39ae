// Package email delivers notification jobs as transactional emails.
//
// The package is built around the EmailSender interface so providers can be
// swapped without touching the queue:
//   - NewPostmarkClient sends through Postmark
//   - NewDevSender saves HTML and JSON files to disk for local development
//   - WithBreaker wraps any sender in a circuit breaker
//   - WithRateLimit throttles sends per recipient domain
//
// Transport adapts an EmailSender to queue.Transport. It renders each job
// through a Composer, sends one email per recipient, and marks errors that a
// retry cannot fix (invalid parameters, rejected recipients, undecodable
// payloads) with queue.Permanent so the job fails without burning attempts.
//
// # Usage
//
//	sender, release, err := email.NewSender(cfg)
//	if err != nil {
//		return err
//	}
//	defer release()
//	transport, err := email.NewTransport(sender, email.WithTransportLogger(log))
//	if err != nil {
//		return err
//	}
//	svc, err := queue.NewService(storage, transport)
//
// # Error Handling
//
// Sentinel errors can be checked with errors.Is:
//   - ErrInvalidConfig: configuration validation failed
//   - ErrInvalidParams: message validation failed
//   - ErrFailedToSendEmail: the provider did not accept the message
//   - ErrRecipientRejected: the provider rejected the recipient for good
//   - ErrProviderUnavailable: the circuit breaker is open
package email
