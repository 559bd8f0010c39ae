// Package templates holds the building blocks of notification emails.
// Components are plain templ.Component values, so callers can mix them
// with components generated by the templ CLI.
package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Row is one label/value line of a Details table
type Row struct {
	Label string
	Value string
}

// Layout wraps body components in the shared email chrome
func Layout(title string, body ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<!DOCTYPE html><html><head><meta charset="utf-8"><title>`, templ.EscapeString(title),
			`</title></head><body style="margin:0;padding:24px;background:#f4f5f7;font-family:Helvetica,Arial,sans-serif;">`,
			`<table role="presentation" width="100%" style="max-width:600px;margin:0 auto;background:#ffffff;border-radius:8px;"><tr><td style="padding:32px;">`,
		); err != nil {
			return err
		}
		for _, c := range body {
			if err := c.Render(ctx, w); err != nil {
				return err
			}
		}
		return write(w, `</td></tr></table></body></html>`)
	})
}

// Heading renders a section title
func Heading(text string) templ.Component {
	return element(`<h1 style="margin:0 0 16px;font-size:22px;color:#111827;">`, text, `</h1>`)
}

// Text renders a paragraph
func Text(text string) templ.Component {
	return element(`<p style="margin:0 0 12px;font-size:15px;line-height:1.5;color:#374151;">`, text, `</p>`)
}

// TextSecondary renders a muted paragraph
func TextSecondary(text string) templ.Component {
	return element(`<p style="margin:0 0 12px;font-size:13px;color:#6b7280;">`, text, `</p>`)
}

// Details renders rows as a two column table; empty input renders nothing
func Details(rows []Row) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if len(rows) == 0 {
			return nil
		}
		if err := write(w, `<table role="presentation" style="width:100%;margin:8px 0 16px;font-size:14px;">`); err != nil {
			return err
		}
		for _, r := range rows {
			if err := write(w,
				`<tr><td style="padding:4px 12px 4px 0;color:#6b7280;">`, templ.EscapeString(r.Label),
				`</td><td style="padding:4px 0;color:#111827;">`, templ.EscapeString(r.Value), `</td></tr>`,
			); err != nil {
				return err
			}
		}
		return write(w, `</table>`)
	})
}

func element(open, text, close string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return write(w, open, templ.EscapeString(text), close)
	})
}

func write(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}
