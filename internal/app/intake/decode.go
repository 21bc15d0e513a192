package intake

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/tagbox/internal/domain/event"
)

// ErrMalformed marks messages that cannot be turned into an event.
var ErrMalformed = errors.New("malformed intake message")

// Message is the wire form of an inbound event.
//
//	{"source": "catalog", "event": "start", "data": {"album": "Nihil", "artist": "KMFDM"}}
type Message struct {
	Source string         `json:"source" mapstructure:"source" validate:"required,oneof=presence catalog remote"`
	Event  string         `json:"event" mapstructure:"event" validate:"required,oneof=start stop pause forward previous setVolume"`
	Data   map[string]any `json:"data,omitempty" mapstructure:"data"`
}

// startData is the payload of a start event. uri wins over album.
type startData struct {
	URI    string `mapstructure:"uri"`
	Album  string `mapstructure:"album"`
	Artist string `mapstructure:"artist"`
	Band   string `mapstructure:"band"`
}

type volumeData struct {
	Volume *int `mapstructure:"volume" validate:"required,gte=0,lte=100"`
}

var validate = validator.New()

// Decode parses one JSON message into an event.
// Every error returned is marked with ErrMalformed.
func Decode(raw []byte) (event.Event, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return event.Event{}, errors.Mark(errors.Wrap(err, "invalid json"), ErrMalformed)
	}
	return msg.ToEvent()
}

// DecodeMap builds an event from an already decoded message, such as the
// fields of a remote call.
func DecodeMap(fields map[string]any) (event.Event, error) {
	var msg Message
	if err := decodeWeak(fields, &msg); err != nil {
		return event.Event{}, errors.Mark(err, ErrMalformed)
	}
	return msg.ToEvent()
}

// ToEvent validates the message and converts it to an event with a fresh id.
func (m Message) ToEvent() (event.Event, error) {
	ev, err := m.toEvent()
	if err != nil {
		return event.Event{}, errors.Mark(err, ErrMalformed)
	}
	return ev, nil
}

func (m Message) toEvent() (event.Event, error) {
	if err := validate.Struct(m); err != nil {
		return event.Event{}, errors.Wrap(err, "invalid message")
	}

	origin, err := event.ParseOrigin(m.Source)
	if err != nil {
		return event.Event{}, err
	}
	kind, err := event.ParseKind(m.Event)
	if err != nil {
		return event.Event{}, err
	}

	ev := event.Event{
		ID:         uuid.NewString(),
		Origin:     origin,
		Kind:       kind,
		ReceivedAt: time.Now(),
	}

	switch kind {
	case event.KindStart:
		var data startData
		if err := decodeWeak(m.Data, &data); err != nil {
			return event.Event{}, errors.Wrap(err, "invalid start data")
		}
		ev.Payload.Program = data.URI
		if ev.Payload.Program == "" {
			ev.Payload.Program = data.Album
		}
		ev.Payload.Hint = data.Artist
		if ev.Payload.Hint == "" {
			ev.Payload.Hint = data.Band
		}
	case event.KindSetVolume:
		var data volumeData
		if err := decodeWeak(m.Data, &data); err != nil {
			return event.Event{}, errors.Wrap(err, "invalid volume data")
		}
		if err := validate.Struct(data); err != nil {
			return event.Event{}, errors.Wrap(err, "invalid volume")
		}
		ev.Payload.Volume = *data.Volume
	}

	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

// decodeWeak decodes a loosely typed map, accepting "40" for 40.
func decodeWeak(input any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(input); err != nil {
		return errors.Wrap(err, "failed to decode")
	}
	return nil
}
