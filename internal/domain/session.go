package domain

import "time"

// SessionState is the lifecycle state of the recording session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRunning
	SessionStopping
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRunning:
		return "running"
	case SessionStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// RecordingSession is a read-only snapshot of the continuous-run loop.
// Exactly one logical session exists process-wide; only the coordinator
// mutates it, everyone else observes snapshots.
type RecordingSession struct {
	State     SessionState  `json:"state"`
	Interval  time.Duration `json:"interval"`
	StartedAt time.Time     `json:"started_at,omitzero"`
}

// IsRecording reports whether the session is actively scheduling cycles.
// Stopping counts as recording: a cycle may still be in flight.
func (s RecordingSession) IsRecording() bool {
	return s.State != SessionIdle
}
