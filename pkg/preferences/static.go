package preferences

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/courier/pkg/queue"
)

// Static keeps preferences in memory. A user's own setting wins over the
// per-kind default; kinds without either are enabled.
type Static struct {
	mu       sync.RWMutex
	defaults map[queue.Kind]bool
	users    map[string]map[queue.Kind]bool
}

// NewStatic creates an empty store where every channel is enabled
func NewStatic() *Static {
	return &Static{
		defaults: make(map[queue.Kind]bool),
		users:    make(map[string]map[queue.Kind]bool),
	}
}

// document is the YAML layout read by Load
type document struct {
	Defaults map[queue.Kind]bool            `yaml:"defaults"`
	Users    map[string]map[queue.Kind]bool `yaml:"users"`
}

// Load reads defaults and per-user settings from YAML:
//
//	defaults:
//	  weekly_digest: false
//	users:
//	  user-42:
//	    achievement: false
func Load(r io.Reader) (*Static, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrLoadPreferences, err)
	}

	s := NewStatic()
	for kind, enabled := range doc.Defaults {
		if err := s.SetDefault(kind, enabled); err != nil {
			return nil, err
		}
	}
	for userID, kinds := range doc.Users {
		for kind, enabled := range kinds {
			if err := s.Set(userID, kind, enabled); err != nil {
				return nil, fmt.Errorf("user %s: %w", userID, err)
			}
		}
	}
	return s, nil
}

// LoadFile reads preferences from a YAML file
func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrLoadPreferences, err)
	}
	defer f.Close()
	return Load(f)
}

// SetDefault sets the setting for users who did not choose themselves
func (s *Static) SetDefault(kind queue.Kind, enabled bool) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	s.mu.Lock()
	s.defaults[kind] = enabled
	s.mu.Unlock()
	return nil
}

// Set stores one user's choice for a kind
func (s *Static) Set(userID string, kind queue.Kind, enabled bool) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds, ok := s.users[userID]
	if !ok {
		kinds = make(map[queue.Kind]bool)
		s.users[userID] = kinds
	}
	kinds[kind] = enabled
	return nil
}

// Reset forgets every choice of a user
func (s *Static) Reset(userID string) {
	s.mu.Lock()
	delete(s.users, userID)
	s.mu.Unlock()
}

// IsChannelEnabled implements queue.PreferenceStore
func (s *Static) IsChannelEnabled(ctx context.Context, userID string, kind queue.Kind) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if enabled, ok := s.users[userID][kind]; ok {
		return enabled, nil
	}
	if enabled, ok := s.defaults[kind]; ok {
		return enabled, nil
	}
	return true, nil
}
