package email

import "errors"

var (
	ErrFailedToSendEmail = errors.New("mailer.errors.failed_to_send_email")
	ErrInvalidConfig     = errors.New("mailer.errors.invalid_config")
	ErrInvalidParams     = errors.New("mailer.errors.invalid_params")
	ErrUnknownProvider   = errors.New("mailer.errors.unknown_provider")

	// ErrRecipientRejected marks provider answers that will not change on retry
	ErrRecipientRejected = errors.New("mailer.errors.recipient_rejected")

	// ErrProviderUnavailable is returned while the circuit breaker is open
	ErrProviderUnavailable = errors.New("mailer.errors.provider_unavailable")

	ErrSenderNil    = errors.New("mailer.errors.sender_nil")
	ErrNoRecipient  = errors.New("mailer.errors.no_recipient")
	ErrComposeEmail = errors.New("mailer.errors.compose_failed")
)
