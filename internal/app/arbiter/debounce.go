package arbiter

import (
	"time"

	"github.com/google/uuid"

	"github.com/osa030/tagbox/internal/domain/event"
	"github.com/osa030/tagbox/internal/domain/presence"
)

// Debouncer turns successive sensor readings into presence events.
// Only transitions produce events; a steady reading never does.
type Debouncer struct {
	last     presence.Reading
	previous presence.Reading
	now      func() time.Time
}

// NewDebouncer creates a debouncer that starts with no tag on the reader.
func NewDebouncer() *Debouncer {
	return &Debouncer{now: time.Now}
}

// Observe records a reading and returns the synthetic event for the
// transition from the previous reading, if any. A tag swap (A then B) is a
// single Start for B with no Stop in between.
func (d *Debouncer) Observe(r presence.Reading) (event.Event, bool) {
	prev := d.last
	d.previous = prev
	d.last = r

	switch {
	case r.Present && !r.SameTag(prev):
		return d.newEvent(event.KindStart, event.Payload{Program: r.Identifier, Hint: r.Hint}), true
	case !r.Present && prev.Present:
		return d.newEvent(event.KindStop, event.Payload{}), true
	default:
		return event.Event{}, false
	}
}

// Rollback forgets the last observed reading so that its transition is
// reported again by the next Observe. Used when the event could not be queued.
func (d *Debouncer) Rollback() {
	d.last = d.previous
}

// Last returns the last observed reading.
func (d *Debouncer) Last() presence.Reading {
	return d.last
}

func (d *Debouncer) newEvent(kind event.Kind, payload event.Payload) event.Event {
	return event.Event{
		ID:         uuid.NewString(),
		Origin:     event.OriginPresence,
		Kind:       kind,
		Payload:    payload,
		ReceivedAt: d.now(),
	}
}
