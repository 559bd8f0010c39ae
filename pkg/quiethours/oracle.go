package quiethours

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/courier/pkg/queue"
)

// DefaultBypassPriority is the priority at or above which quiet hours are ignored
const DefaultBypassPriority queue.Priority = 90

// File is the YAML document accepted by Load
type File struct {
	BypassPriority *int                `yaml:"bypass_priority"`
	Default        *Schedule           `yaml:"default"`
	Users          map[string]Schedule `yaml:"users"`
}

// Oracle answers quiet-hours questions from per-user schedules.
// Users without a schedule fall back to the default one, if any.
// It implements queue.QuietHoursOracle.
type Oracle struct {
	mu       sync.RWMutex
	users    map[string]*compiled
	fallback *compiled
	bypass   queue.Priority
	now      func() time.Time
}

// Option configures an Oracle
type Option func(*Oracle)

// WithBypassPriority sets the priority at or above which nothing is deferred
func WithBypassPriority(p queue.Priority) Option {
	return func(o *Oracle) {
		if p.Valid() {
			o.bypass = p
		}
	}
}

// WithClock overrides the time source used by ShouldDefer
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Oracle with no schedules
func New(opts ...Option) *Oracle {
	o := &Oracle{
		users:  make(map[string]*compiled),
		bypass: DefaultBypassPriority,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Load parses a YAML document into a new Oracle. Options override values
// from the document.
func Load(r io.Reader, opts ...Option) (*Oracle, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrLoadSchedules, err)
	}

	var fileOpts []Option
	if f.BypassPriority != nil {
		fileOpts = append(fileOpts, WithBypassPriority(queue.Priority(*f.BypassPriority)))
	}
	o := New(append(fileOpts, opts...)...)

	if f.Default != nil {
		if err := o.SetDefault(*f.Default); err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
	}
	for userID, s := range f.Users {
		if err := o.Set(userID, s); err != nil {
			return nil, fmt.Errorf("user %s: %w", userID, err)
		}
	}
	return o, nil
}

// LoadFile reads schedules from a YAML file
func LoadFile(path string, opts ...Option) (*Oracle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrLoadSchedules, err)
	}
	defer f.Close()
	return Load(f, opts...)
}

// Set replaces the schedule of one user
func (o *Oracle) Set(userID string, s Schedule) error {
	c, err := compile(s)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.users[userID] = c
	o.mu.Unlock()
	return nil
}

// SetDefault replaces the schedule used for users without their own
func (o *Oracle) SetDefault(s Schedule) error {
	c, err := compile(s)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.fallback = c
	o.mu.Unlock()
	return nil
}

// Remove drops a user's schedule; the default applies again
func (o *Oracle) Remove(userID string) {
	o.mu.Lock()
	delete(o.users, userID)
	o.mu.Unlock()
}

// ShouldDefer reports whether the user is inside a quiet window now and
// the priority does not reach the bypass threshold
func (o *Oracle) ShouldDefer(ctx context.Context, userID string, kind queue.Kind, priority queue.Priority) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if kind.Critical() || priority >= o.bypass {
		return false, nil
	}
	s := o.schedule(userID)
	if s == nil {
		return false, nil
	}
	_, quiet := s.activeUntil(o.now())
	return quiet, nil
}

// NextAllowedTime returns requested, or the end of the quiet window it falls in
func (o *Oracle) NextAllowedTime(ctx context.Context, userID string, requested time.Time) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s := o.schedule(userID)
	if s == nil {
		return requested, nil
	}
	return s.nextAllowed(requested).In(requested.Location()), nil
}

func (o *Oracle) schedule(userID string) *compiled {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s, ok := o.users[userID]; ok {
		return s
	}
	return o.fallback
}
