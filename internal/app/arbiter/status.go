package arbiter

import (
	"time"
)

// Status is a read-only snapshot of the core, safe to hand to other goroutines.
type Status struct {
	State        State
	Volume       int
	RemotePaused bool // Paused by a remote command, not by a tag removal
	LastEvent    string
	UpdatedAt    time.Time
}

// Fields returns the snapshot as a flat map for wire encoding.
func (s Status) Fields() map[string]any {
	return map[string]any{
		"state":         s.State.Playback.String(),
		"source":        s.State.Source.String(),
		"program":       s.State.Program,
		"volume":        s.Volume,
		"remote_paused": s.RemotePaused,
		"last_event":    s.LastEvent,
		"updated_at":    s.UpdatedAt.Format(time.RFC3339),
	}
}
