package audio

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// LogTransport logs transport commands instead of playing anything. It is
// used on machines without an audio device and for dry runs.
type LogTransport struct {
	mu      sync.Mutex
	list    []string
	index   int
	playing bool
	volume  int
}

// NewLogTransport creates a logging transport.
func NewLogTransport() *LogTransport {
	return &LogTransport{volume: 100}
}

func (t *LogTransport) Load(ctx context.Context, locations []string) error {
	if len(locations) == 0 {
		return errors.New("empty track list")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = append([]string(nil), locations...)
	t.index = 0
	t.playing = false
	zlog.Info().Msgf("transport: load tracks=%d first=%s", len(locations), locations[0])
	return nil
}

func (t *LogTransport) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.list) == 0 {
		return ErrNothingLoaded
	}
	t.playing = true
	zlog.Info().Msgf("transport: play index=%d location=%s", t.index+1, t.list[t.index])
	return nil
}

func (t *LogTransport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
	zlog.Info().Msg("transport: pause")
	return nil
}

func (t *LogTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
	t.index = 0
	zlog.Info().Msg("transport: stop")
	return nil
}

func (t *LogTransport) Next() error {
	return t.skip(1)
}

func (t *LogTransport) Previous() error {
	return t.skip(-1)
}

func (t *LogTransport) skip(delta int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.list) == 0 {
		return ErrNothingLoaded
	}
	t.index = max(t.index+delta, 0)
	if t.index >= len(t.list) {
		t.index = 0
		t.playing = false
	}
	zlog.Info().Msgf("transport: skip to index=%d playing=%t", t.index+1, t.playing)
	return nil
}

func (t *LogTransport) SetVolume(level int) error {
	if level < 0 || level > 100 {
		return errors.Newf("volume %d out of range 0-100", level)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = level
	zlog.Info().Msgf("transport: volume=%d", level)
	return nil
}

// Close releases nothing.
func (t *LogTransport) Close() error {
	return nil
}

// Snapshot returns the list position, playing flag and volume.
func (t *LogTransport) Snapshot() (index int, playing bool, volume int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index, t.playing, t.volume
}
