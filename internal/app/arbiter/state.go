// Package arbiter provides the playback arbitration core: sensor debounce,
// event classification and the control loop that owns the playback state.
package arbiter

// PlaybackState represents whether a program is playing.
type PlaybackState int

const (
	StateIdle    PlaybackState = iota // Nothing playing (paused, stopped or empty)
	StatePlaying                      // Transport is outputting the current program
)

// String returns the string representation of the state.
func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Source represents which origin owns the current playback.
type Source int

const (
	SourceNone    Source = iota // Nobody owns playback
	SourceTag                   // Started by a tag on the reader
	SourceCatalog               // Started by a catalog request
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceTag:
		return "tag"
	case SourceCatalog:
		return "catalog"
	default:
		return "unknown"
	}
}

// State is the state triple owned by the core.
// Program is empty when nothing is loaded.
type State struct {
	Playback PlaybackState
	Source   Source
	Program  string
}

// Valid reports whether the triple holds the core invariants:
// Idle iff no source, and never Playing without a loaded program.
func (s State) Valid() bool {
	if (s.Playback == StateIdle) != (s.Source == SourceNone) {
		return false
	}
	if s.Playback == StatePlaying && s.Program == "" {
		return false
	}
	return true
}

// Playing returns the triple for a program playing under source.
func Playing(source Source, program string) State {
	return State{Playback: StatePlaying, Source: source, Program: program}
}

// Idle returns an idle triple that keeps program loaded for resume.
func Idle(program string) State {
	return State{Playback: StateIdle, Source: SourceNone, Program: program}
}
