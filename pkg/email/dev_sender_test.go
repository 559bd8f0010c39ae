package email_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/pkg/email"
)

func TestDevSender_SendEmail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fixed := time.Date(2025, time.March, 10, 12, 30, 45, 0, time.UTC)

	t.Run("writes html and metadata", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		sender := email.NewDevSender(dir, email.WithDevClock(func() time.Time { return fixed }))

		err := sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   "user@example.com",
			Subject:  "Test Email",
			BodyHTML: "<p>Test content</p>",
			Tag:      "welcome",
		})
		require.NoError(t, err)

		base := filepath.Join(dir, "2025_03_10_123045_0001_welcome")
		html, err := os.ReadFile(base + ".html")
		require.NoError(t, err)
		assert.Equal(t, "<p>Test content</p>", string(html))

		raw, err := os.ReadFile(base + ".json")
		require.NoError(t, err)
		var meta map[string]any
		require.NoError(t, json.Unmarshal(raw, &meta))
		assert.Equal(t, "user@example.com", meta["send_to"])
		assert.Equal(t, "welcome", meta["tag"])
	})

	t.Run("burst in one second keeps every message", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		sender := email.NewDevSender(dir, email.WithDevClock(func() time.Time { return fixed }))

		for range 3 {
			require.NoError(t, sender.SendEmail(ctx, email.SendEmailParams{
				SendTo:   "user@example.com",
				Subject:  "Launch",
				BodyHTML: "<p>hi</p>",
				Tag:      "launch",
			}))
		}

		files, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, files, 6)
	})

	t.Run("subject names the file without a tag", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		sender := email.NewDevSender(dir)

		require.NoError(t, sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   "user@example.com",
			Subject:  "Reset Your Password!",
			BodyHTML: "<p>x</p>",
		}))

		files, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, files, 2)
		for _, f := range files {
			assert.True(t, strings.HasSuffix(strings.TrimSuffix(strings.TrimSuffix(f.Name(), ".html"), ".json"), "reset_your_password"), f.Name())
		}
	})

	t.Run("invalid params write nothing", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		sender := email.NewDevSender(dir)

		err := sender.SendEmail(ctx, email.SendEmailParams{SendTo: "nope", Subject: "x", BodyHTML: "x"})
		assert.ErrorIs(t, err, email.ErrInvalidParams)

		files, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, files)
	})
}
