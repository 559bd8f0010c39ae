package quiethours_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/pkg/queue"
	"github.com/dmitrymomot/courier/pkg/quiethours"
)

var _ queue.QuietHoursOracle = (*quiethours.Oracle)(nil)

const schedulesYAML = `
bypass_priority: 85
default:
  periods:
    - start: "22:00"
      end: "07:00"
users:
  berlin:
    timezone: Europe/Berlin
    periods:
      - days: [Mon, tue, wed, thu, fri]
        start: "22:00"
        end: "07:00"
  evenings:
    periods:
      - start: "20:00"
        end: "22:00"
      - start: "22:00"
        end: "23:30"
  off:
    disabled: true
`

func utc(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func load(t *testing.T, now time.Time) *quiethours.Oracle {
	t.Helper()
	o, err := quiethours.Load(strings.NewReader(schedulesYAML), quiethours.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return o
}

func TestOracle_ShouldDefer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name     string
		now      time.Time
		userID   string
		kind     queue.Kind
		priority queue.Priority
		want     bool
	}{
		{"default schedule at night", utc(10, 23, 0), "someone", queue.KindWelcome, 50, true},
		{"default schedule at noon", utc(10, 12, 0), "someone", queue.KindWelcome, 50, false},
		{"early morning before the window ends", utc(11, 6, 59), "someone", queue.KindAchievement, 50, true},
		{"window end is exclusive", utc(11, 7, 0), "someone", queue.KindAchievement, 50, false},
		{"bypass priority from the file", utc(10, 23, 0), "someone", queue.KindTaskReminder, 85, false},
		{"critical kinds are never deferred", utc(10, 23, 0), "someone", queue.KindPasswordReset, 10, false},
		{"disabled user", utc(10, 23, 0), "off", queue.KindWelcome, 50, false},
		// 2025-03-15 is a Saturday; 01:00 UTC is 02:00 in Berlin, inside Friday's window
		{"overnight window from a listed day", utc(15, 1, 0), "berlin", queue.KindWelcome, 50, true},
		// Sunday 23:00 Berlin; Sunday is not listed
		{"unlisted start day", utc(16, 22, 0), "berlin", queue.KindWelcome, 50, false},
		// Monday 01:00 Berlin belongs to Sunday's window, which does not exist
		{"morning after an unlisted day", utc(17, 0, 0), "berlin", queue.KindWelcome, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := load(t, tt.now).ShouldDefer(ctx, tt.userID, tt.kind, tt.priority)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOracle_NextAllowedTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o := load(t, utc(10, 12, 0))

	tests := []struct {
		name      string
		userID    string
		requested time.Time
		want      time.Time
	}{
		{"outside the window", "someone", utc(10, 12, 0), utc(10, 12, 0)},
		{"before midnight", "someone", utc(10, 23, 15), utc(11, 7, 0)},
		{"after midnight", "someone", utc(11, 3, 0), utc(11, 7, 0)},
		{"berlin window ends at 07:00 local", "berlin", utc(15, 1, 0), utc(15, 6, 0)},
		{"back to back windows are merged", "evenings", utc(10, 21, 0), utc(10, 23, 30)},
		{"disabled user", "off", utc(10, 23, 0), utc(10, 23, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := o.NextAllowedTime(ctx, tt.userID, tt.requested)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestOracle_SetAndRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o := quiethours.New(quiethours.WithClock(func() time.Time { return utc(10, 13, 0) }))

	deferred, err := o.ShouldDefer(ctx, "user-1", queue.KindWelcome, 50)
	require.NoError(t, err)
	assert.False(t, deferred)

	require.NoError(t, o.Set("user-1", quiethours.Schedule{
		Periods: []quiethours.Period{{Start: "12:00", End: "14:00"}},
	}))
	deferred, err = o.ShouldDefer(ctx, "user-1", queue.KindWelcome, 50)
	require.NoError(t, err)
	assert.True(t, deferred)

	deferred, err = o.ShouldDefer(ctx, "user-1", queue.KindWelcome, quiethours.DefaultBypassPriority)
	require.NoError(t, err)
	assert.False(t, deferred)

	o.Remove("user-1")
	deferred, err = o.ShouldDefer(ctx, "user-1", queue.KindWelcome, 50)
	require.NoError(t, err)
	assert.False(t, deferred)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = o.ShouldDefer(cancelled, "user-1", queue.KindWelcome, 50)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOracle_InvalidSchedules(t *testing.T) {
	t.Parallel()

	o := quiethours.New()
	tests := map[string]quiethours.Schedule{
		"bad clock":    {Periods: []quiethours.Period{{Start: "25:00", End: "07:00"}}},
		"bad timezone": {Timezone: "Mars/Olympus", Periods: []quiethours.Period{{Start: "22:00", End: "07:00"}}},
		"bad day":      {Periods: []quiethours.Period{{Days: []string{"funday"}, Start: "22:00", End: "07:00"}}},
		"empty window": {Periods: []quiethours.Period{{Start: "08:00", End: "08:00"}}},
		"missing end":  {Periods: []quiethours.Period{{Start: "08:00"}}},
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, o.Set("user-1", s), quiethours.ErrInvalidSchedule)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "quiet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(schedulesYAML), 0o600))

	o, err := quiethours.LoadFile(path)
	require.NoError(t, err)
	assert.NotNil(t, o)

	_, err = quiethours.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, quiethours.ErrLoadSchedules)

	_, err = quiethours.Load(strings.NewReader("users: [1, 2"))
	assert.ErrorIs(t, err, quiethours.ErrLoadSchedules)

	empty, err := quiethours.Load(strings.NewReader(""))
	require.NoError(t, err)
	deferred, err := empty.ShouldDefer(context.Background(), "anyone", queue.KindWelcome, 0)
	require.NoError(t, err)
	assert.False(t, deferred)

	_, err = quiethours.Load(strings.NewReader("users:\n  u1:\n    periods:\n      - start: \"9\"\n        end: \"10:00\"\n"))
	assert.ErrorIs(t, err, quiethours.ErrInvalidSchedule)
}
