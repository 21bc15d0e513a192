// Package event provides the inbound event model shared by the intake
// listeners and the arbitration core.
package event

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// Origin identifies who produced an event.
type Origin int

const (
	OriginUnknown  Origin = iota
	OriginPresence        // Tag placed on or removed from the reader
	OriginCatalog         // Catalog lookup (library search, phone app)
	OriginRemote          // Remote transport control
)

// String returns the wire name of the origin.
func (o Origin) String() string {
	switch o {
	case OriginPresence:
		return "presence"
	case OriginCatalog:
		return "catalog"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ParseOrigin parses a wire origin name.
func ParseOrigin(s string) (Origin, error) {
	switch s {
	case "presence":
		return OriginPresence, nil
	case "catalog":
		return OriginCatalog, nil
	case "remote":
		return OriginRemote, nil
	default:
		return OriginUnknown, errors.Newf("unknown source %q", s)
	}
}

// Kind is what an event asks for.
type Kind int

const (
	KindUnknown Kind = iota
	KindStart
	KindStop
	KindPause
	KindNext
	KindPrevious
	KindSetVolume
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindPause:
		return "pause"
	case KindNext:
		return "forward"
	case KindPrevious:
		return "previous"
	case KindSetVolume:
		return "setVolume"
	default:
		return "unknown"
	}
}

// ParseKind parses a wire event name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "start":
		return KindStart, nil
	case "stop":
		return KindStop, nil
	case "pause":
		return KindPause, nil
	case "forward":
		return KindNext, nil
	case "previous":
		return KindPrevious, nil
	case "setVolume":
		return KindSetVolume, nil
	default:
		return KindUnknown, errors.Newf("unknown event %q", s)
	}
}

// Payload carries origin specific data.
type Payload struct {
	Program string // Logical identifier to play (Start)
	Hint    string // Optional artist hint (Start)
	Volume  int    // 0-100 (SetVolume)
}

// Event is a single inbound event.
type Event struct {
	ID         string
	Origin     Origin
	Kind       Kind
	Payload    Payload
	ReceivedAt time.Time
}

// Validate reports whether the event is well formed.
func (e Event) Validate() error {
	if e.Origin == OriginUnknown {
		return errors.New("event has no origin")
	}
	if e.Kind == KindUnknown {
		return errors.New("event has no kind")
	}
	switch e.Kind {
	case KindStart:
		if e.Payload.Program == "" {
			return errors.Newf("%s/%s requires a program", e.Origin, e.Kind)
		}
	case KindSetVolume:
		if e.Payload.Volume < 0 || e.Payload.Volume > 100 {
			return errors.Newf("volume %d out of range 0-100", e.Payload.Volume)
		}
	}
	return nil
}

// String returns a short description for logs.
func (e Event) String() string {
	s := e.Origin.String() + "/" + e.Kind.String()
	switch e.Kind {
	case KindStart:
		s += "(" + e.Payload.Program + ")"
	case KindSetVolume:
		s += "(" + strconv.Itoa(e.Payload.Volume) + ")"
	}
	return s
}
