package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/courier/pkg/logger"
	"github.com/dmitrymomot/courier/pkg/queue"
)

// Transport delivers queue jobs as emails. It implements queue.Transport.
type Transport struct {
	sender   EmailSender
	composer Composer
	logger   *slog.Logger
}

type transportOptions struct {
	composer Composer
	logger   *slog.Logger
}

// TransportOption configures a Transport
type TransportOption func(*transportOptions)

// WithComposer replaces DefaultComposer
func WithComposer(c Composer) TransportOption {
	return func(o *transportOptions) {
		if c != nil {
			o.composer = c
		}
	}
}

// WithTransportLogger sets the logger used for per-recipient failures
func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(o *transportOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewTransport creates an email transport on top of sender
func NewTransport(sender EmailSender, opts ...TransportOption) (*Transport, error) {
	if sender == nil {
		return nil, ErrSenderNil
	}
	o := &transportOptions{
		composer: DefaultComposer{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Transport{
		sender:   sender,
		composer: o.composer,
		logger:   o.logger.With(logger.Component("email")),
	}, nil
}

// Deliver implements queue.Transport. Errors that a retry cannot fix are
// wrapped with queue.Permanent.
//
// A batch chunk sends one email per recipient. Rejected recipients are
// logged and skipped; any other failure aborts the chunk so it is retried
// as a whole.
func (t *Transport) Deliver(ctx context.Context, job *queue.Job) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return queue.Permanent(fmt.Errorf("decode payload: %w", err))
	}

	if job.Kind == queue.KindBatchChunk {
		return t.deliverChunk(ctx, job, payload)
	}
	if payload.Recipient == nil {
		return queue.Permanent(ErrNoRecipient)
	}
	return t.send(ctx, job, payload, *payload.Recipient)
}

func (t *Transport) deliverChunk(ctx context.Context, job *queue.Job, payload queue.Payload) error {
	if len(payload.Recipients) == 0 {
		return queue.Permanent(ErrNoRecipient)
	}

	var rejected []error
	for _, to := range payload.Recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := t.send(ctx, job, payload, to)
		if err == nil {
			continue
		}
		if !queue.IsPermanent(err) {
			return err
		}
		t.logger.WarnContext(ctx, "recipient skipped",
			logger.JobID(job.ID.String()),
			logger.UserID(to.UserID),
			logger.Error(err))
		rejected = append(rejected, err)
	}

	if len(rejected) == len(payload.Recipients) {
		return queue.Permanent(errors.Join(rejected...))
	}
	return nil
}

func (t *Transport) send(ctx context.Context, job *queue.Job, payload queue.Payload, to queue.Recipient) error {
	msg, err := t.composer.Compose(ctx, job, payload, to)
	if err != nil {
		return queue.Permanent(errors.Join(ErrComposeEmail, err))
	}

	err = t.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   to.Email,
		Subject:  msg.Subject,
		BodyHTML: msg.HTML,
		Tag:      msg.Tag,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidParams), errors.Is(err, ErrRecipientRejected):
		return queue.Permanent(err)
	default:
		return err
	}
}
