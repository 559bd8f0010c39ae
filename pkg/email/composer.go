package email

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/courier/pkg/email/templates"
	"github.com/dmitrymomot/courier/pkg/queue"
)

// Message is a rendered email for one recipient
type Message struct {
	Subject string
	HTML    string
	Tag     string
}

// Composer renders a job for one recipient
type Composer interface {
	Compose(ctx context.Context, job *queue.Job, payload queue.Payload, to queue.Recipient) (Message, error)
}

// ComposerFunc adapts a function to Composer
type ComposerFunc func(ctx context.Context, job *queue.Job, payload queue.Payload, to queue.Recipient) (Message, error)

// Compose implements Composer
func (f ComposerFunc) Compose(ctx context.Context, job *queue.Job, payload queue.Payload, to queue.Recipient) (Message, error) {
	return f(ctx, job, payload, to)
}

var defaultSubjects = map[queue.Kind]string{
	queue.KindWelcome:       "Welcome aboard",
	queue.KindVerification:  "Verify your email address",
	queue.KindPasswordReset: "Reset your password",
	queue.KindTaskReminder:  "Task reminder",
	queue.KindFocusAlert:    "Focus session update",
	queue.KindAchievement:   "You unlocked an achievement",
	queue.KindWeeklyDigest:  "Your weekly summary",
	queue.KindBatchChunk:    "News from us",
}

// DefaultComposer renders a plain layout from the payload. Real deployments
// plug in a Composer backed by their own templates.
type DefaultComposer struct{}

// Compose implements Composer
func (DefaultComposer) Compose(ctx context.Context, job *queue.Job, payload queue.Payload, to queue.Recipient) (Message, error) {
	kind := job.DeliveryKind()

	subject := payload.Subject
	if subject == "" {
		subject = defaultSubjects[kind]
	}
	if kind == queue.KindTaskReminder && payload.Reminder != nil && payload.Subject == "" {
		subject = "Reminder: " + payload.Reminder.Title
	}
	if subject == "" {
		return Message{}, fmt.Errorf("no subject for kind %q", kind)
	}

	greeting := "Hello,"
	if to.Name != "" {
		greeting = "Hello " + to.Name + ","
	}

	body := []templ.Component{templates.Heading(subject), templates.Text(greeting)}
	body = append(body, templates.Details(detailRows(payload)))
	if payload.Template != "" {
		body = append(body, templates.TextSecondary("Template: "+payload.Template))
	}

	html, err := templates.Render(ctx, templates.Layout(subject, body...))
	if err != nil {
		return Message{}, err
	}

	tag := string(kind)
	if payload.Template != "" {
		tag = payload.Template
	}
	return Message{Subject: subject, HTML: html, Tag: tag}, nil
}

func detailRows(p queue.Payload) []templates.Row {
	var rows []templates.Row
	if r := p.Reminder; r != nil {
		rows = append(rows, templates.Row{Label: "Task", Value: r.Title})
		if r.DueAt != nil {
			rows = append(rows, templates.Row{Label: "Due", Value: r.DueAt.UTC().Format(time.RFC1123)})
		}
	}
	if d := p.Digest; d != nil {
		rows = append(rows, templates.Row{
			Label: "Period",
			Value: d.Start.UTC().Format(time.DateOnly) + " to " + d.End.UTC().Format(time.DateOnly),
		})
	}
	for _, k := range slices.Sorted(maps.Keys(p.Vars)) {
		rows = append(rows, templates.Row{Label: k, Value: fmt.Sprint(p.Vars[k])})
	}
	return rows
}
