// Package nfc reads the tag state published by the NFC reader daemon.
//
// The daemon owns the USB reader and writes the NDEF text records of the tag
// on the reader to a small YAML file, and truncates or removes the file when
// the tag is taken away:
//
//	uri: spotify:album:7MtJrKwP2h9eJMqnooR6iM
//	band: KMFDM
//	album: Nihil
//
// A file holding only an identifier line is accepted as well. Tags written
// without a uri record are identified by their album record, which the
// library resolvers look up by title with the band as artist hint.
package nfc

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/osa030/tagbox/internal/domain/presence"
)

// Records are the NDEF text records written on a tag.
type Records struct {
	URI   string `yaml:"uri"`
	Band  string `yaml:"band"`
	Album string `yaml:"album"`
}

// FileSensor polls the tag state file.
type FileSensor struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	last    presence.Reading
	cached  bool
}

// NewFileSensor creates a sensor reading the given state file.
func NewFileSensor(path string) *FileSensor {
	return &FileSensor{path: path}
}

// Poll returns the current reading. A missing or empty file means no tag.
// The file is parsed again only when its size or modification time changes.
func (s *FileSensor) Poll(ctx context.Context) (presence.Reading, error) {
	if err := ctx.Err(); err != nil {
		return presence.Absent(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.cached = false
		return presence.Absent(), nil
	}
	if err != nil {
		return presence.Absent(), errors.Wrap(err, "failed to stat tag file")
	}
	if s.cached && info.Size() == s.size && info.ModTime().Equal(s.modTime) {
		return s.last, nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.cached = false
		return presence.Absent(), nil
	}
	if err != nil {
		return presence.Absent(), errors.Wrap(err, "failed to read tag file")
	}

	reading, err := Parse(data)
	if err != nil {
		s.cached = false
		return presence.Absent(), err
	}

	if !reading.SameTag(s.last) && reading.Present {
		zlog.Debug().Msgf("nfc: tag read: uri=%s band=%s", reading.Identifier, reading.Hint)
	}
	s.modTime = info.ModTime()
	s.size = info.Size()
	s.last = reading
	s.cached = true
	return reading, nil
}

// Close releases the sensor.
func (s *FileSensor) Close() error {
	return nil
}

// Parse converts the contents of a tag state file into a reading.
func Parse(data []byte) (presence.Reading, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return presence.Absent(), nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return presence.Absent(), errors.Wrap(err, "failed to parse tag file")
	}
	if len(node.Content) == 0 {
		return presence.Absent(), nil
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.ScalarNode:
		id := strings.TrimSpace(root.Value)
		if id == "" {
			return presence.Absent(), nil
		}
		return presence.Tag(id, ""), nil
	case yaml.MappingNode:
		var rec Records
		if err := root.Decode(&rec); err != nil {
			return presence.Absent(), errors.Wrap(err, "failed to decode tag records")
		}
		id := strings.TrimSpace(rec.URI)
		if id == "" {
			id = strings.TrimSpace(rec.Album)
		}
		if id == "" {
			return presence.Absent(), errors.New("tag has neither uri nor album record")
		}
		return presence.Tag(id, strings.TrimSpace(rec.Band)), nil
	default:
		return presence.Absent(), errors.Newf("unexpected tag file content at line %d", root.Line)
	}
}

// NoSensor never reports a tag. It is used when no reader is attached.
type NoSensor struct{}

// Poll always returns an absent reading.
func (NoSensor) Poll(ctx context.Context) (presence.Reading, error) {
	return presence.Absent(), nil
}

// Close does nothing.
func (NoSensor) Close() error { return nil }
