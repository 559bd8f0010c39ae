package email

import (
	"context"
	"strings"
)

// Limiter blocks until a send for key may proceed
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

type rateLimitedSender struct {
	next    EmailSender
	limiter Limiter
}

// WithRateLimit throttles sender per recipient domain. Waiting ends early
// when ctx is done, in which case the context error is returned.
func WithRateLimit(sender EmailSender, limiter Limiter) EmailSender {
	return &rateLimitedSender{next: sender, limiter: limiter}
}

func (s *rateLimitedSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := s.limiter.Wait(ctx, recipientDomain(params.SendTo)); err != nil {
		return err
	}
	return s.next.SendEmail(ctx, params)
}

func recipientDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return strings.ToLower(addr[i+1:])
	}
	return strings.ToLower(addr)
}
