package recorder

import (
	"sync/atomic"

	"lookback/internal/domain"
)

// SettingsStore holds the current runtime settings behind an atomic pointer.
// update_settings builds a fresh Settings value and swaps it in; readers
// always see a consistent snapshot and nothing is patched in place.
type SettingsStore struct {
	v atomic.Pointer[domain.Settings]
}

// NewSettingsStore creates a store seeded with the initial settings.
func NewSettingsStore(initial domain.Settings) *SettingsStore {
	s := &SettingsStore{}
	s.v.Store(&initial)
	return s
}

// Current returns the current settings snapshot.
func (s *SettingsStore) Current() domain.Settings {
	return *s.v.Load()
}

// Swap replaces the settings with a new snapshot.
func (s *SettingsStore) Swap(next domain.Settings) {
	s.v.Store(&next)
}

var _ domain.SettingsSource = (*SettingsStore)(nil)
