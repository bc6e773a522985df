package domain

import "time"

// Settings is the runtime-adjustable slice of configuration. update_settings
// builds a new value and swaps it atomically; nothing mutates a shared
// Settings in place.
type Settings struct {
	Interval  time.Duration
	APIKey    string
	ModelName string
}

// SettingsSource exposes the current settings snapshot to components that
// need per-call values (the analysis adapter, the coordinator's default
// interval).
type SettingsSource interface {
	Current() Settings
}
