// Package audio provides the media output transports: a local player on the
// system speaker and a logging dry-run transport.
package audio

import (
	"context"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/domain/media"
)

// ErrNothingLoaded is returned by commands that need a loaded list.
var ErrNothingLoaded = errors.New("nothing loaded")

// Config represents player configuration.
type Config struct {
	SampleRate  int           // Output sample rate; tracks are resampled to it
	Buffer      time.Duration // Speaker buffer length
	OpenTimeout time.Duration // Bounds opening and decoding the head of a track
}

// Player plays an ordered list of locations on the system speaker, one
// track after the other.
type Player struct {
	mu sync.Mutex

	sink        sink
	open        opener
	openTimeout time.Duration
	sampleRate  beep.SampleRate
	bufferSize  int
	initialized bool

	list  []string
	index int

	// generation changes whenever the playing track is replaced, so the
	// end-of-track callback of a replaced track is ignored and a track
	// opened for a replaced start is discarded.
	generation uint64
	// starting is set while a track is opened outside the lock.
	starting    bool
	startPaused bool

	current *track
	ctrl    *beep.Ctrl
	volume  *effects.Volume
	level   int
}

// track is an opened and decoded location.
type track struct {
	streamer beep.StreamSeekCloser
	format   beep.Format
	body     io.Closer
	cancel   context.CancelFunc
}

func (t *track) close() {
	t.streamer.Close()
	t.body.Close()
	t.cancel()
}

// NewPlayer creates a player on the system speaker. The speaker is opened
// on first playback.
func NewPlayer(cfg Config) *Player {
	return newPlayer(cfg, speakerSink{})
}

func newPlayer(cfg Config, s sink) *Player {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 100 * time.Millisecond
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	sr := beep.SampleRate(cfg.SampleRate)
	return &Player{
		sink:        s,
		open:        newOpener(cfg.OpenTimeout),
		openTimeout: cfg.OpenTimeout,
		sampleRate:  sr,
		bufferSize:  sr.N(cfg.Buffer),
		level:       100,
	}
}

// Load replaces the loaded list. The previous list is kept when any local
// file is missing or any location has an unsupported format.
func (p *Player) Load(ctx context.Context, locations []string) error {
	if len(locations) == 0 {
		return errors.New("empty track list")
	}
	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "load abandoned")
		}
		if !media.IsPlayable(loc) {
			return errors.Newf("unsupported format: %s", loc)
		}
		if !media.IsRemote(loc) {
			if _, err := os.Stat(loc); err != nil {
				return errors.Wrapf(err, "track not available")
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.list = append([]string(nil), locations...)
	p.index = 0
	zlog.Info().Msgf("player: loaded tracks=%d first=%s", len(p.list), p.list[0])
	return nil
}

// Play starts the current track, or resumes it when paused. The track is
// opened without holding the player lock, so other commands are served
// while a slow stream connects.
func (p *Player) Play() error {
	p.mu.Lock()

	if len(p.list) == 0 {
		p.mu.Unlock()
		return ErrNothingLoaded
	}
	if p.ctrl != nil {
		p.setPausedLocked(false)
		p.mu.Unlock()
		return nil
	}
	if p.starting {
		p.startPaused = false
		p.mu.Unlock()
		return nil
	}
	gen, index, loc := p.beginStartLocked(false)
	p.mu.Unlock()

	return p.start(gen, index, loc)
}

// Pause pauses the current track. Pausing with nothing playing is a no-op.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.ctrl != nil:
		p.setPausedLocked(true)
	case p.starting:
		p.startPaused = true
	}
	return nil
}

// Stop ends playback. The list stays loaded and Play starts it over.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.index = 0
	return nil
}

// Next skips to the next track, keeping the paused state. Skipping past
// the last track stops playback.
func (p *Player) Next() error {
	return p.skip(1)
}

// Previous goes back one track, or restarts the first one.
func (p *Player) Previous() error {
	return p.skip(-1)
}

func (p *Player) skip(delta int) error {
	p.mu.Lock()

	if len(p.list) == 0 {
		p.mu.Unlock()
		return ErrNothingLoaded
	}

	paused := (p.ctrl != nil && p.ctrl.Paused) || (p.starting && p.startPaused)
	active := p.ctrl != nil || p.starting
	p.stopLocked()

	p.index = max(p.index+delta, 0)
	if p.index >= len(p.list) {
		zlog.Info().Msg("player: skipped past the last track, stopping")
		p.index = 0
		p.mu.Unlock()
		return nil
	}
	if !active {
		p.mu.Unlock()
		return nil
	}
	gen, index, loc := p.beginStartLocked(paused)
	p.mu.Unlock()

	return p.start(gen, index, loc)
}

// SetVolume sets the output level, 0 to 100.
func (p *Player) SetVolume(level int) error {
	if level < 0 || level > 100 {
		return errors.Newf("volume %d out of range 0-100", level)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.level = level
	if p.volume != nil {
		p.sink.Lock()
		p.volume.Volume = levelToVolume(level)
		p.volume.Silent = level == 0
		p.sink.Unlock()
	}
	return nil
}

// Current returns the loaded list position and whether a track is active.
func (p *Player) Current() (index int, location string, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.list) == 0 {
		return 0, "", false
	}
	return p.index, p.list[p.index], p.ctrl != nil
}

// Close stops playback and releases the audio device.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	if p.initialized {
		p.sink.Close()
		p.initialized = false
	}
	return nil
}

// beginStartLocked marks the track at p.index as starting and returns the
// generation the started track will belong to.
func (p *Player) beginStartLocked(paused bool) (gen uint64, index int, loc string) {
	p.generation++
	p.starting = true
	p.startPaused = paused
	return p.generation, p.index, p.list[p.index]
}

// start opens the track without the lock and installs it unless another
// command replaced the start meanwhile.
func (p *Player) start(gen uint64, index int, loc string) error {
	t, err := p.openTrack(loc)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		if t != nil {
			t.close()
		}
		return nil
	}
	p.starting = false
	if err != nil {
		return errors.Wrapf(err, "track %d", index+1)
	}
	return p.installLocked(t, gen, index, loc)
}

// openTrack opens and decodes loc. openTimeout bounds both steps; a stream
// that stalls after its headers is abandoned once it expires. The stream
// itself is not bounded after decoding succeeds.
func (p *Player) openTrack(loc string) (*track, error) {
	ctx, cancel := context.WithCancel(context.Background())
	deadline := time.AfterFunc(p.openTimeout, cancel)

	rc, err := p.open(ctx, loc)
	if err != nil {
		expired := !deadline.Stop()
		cancel()
		if expired {
			return nil, errors.Wrapf(err, "timed out opening %s after %v", loc, p.openTimeout)
		}
		return nil, err
	}
	streamer, format, err := decode(loc, rc)
	if !deadline.Stop() {
		if err == nil {
			streamer.Close()
		}
		rc.Close()
		return nil, errors.Newf("timed out opening %s after %v", loc, p.openTimeout)
	}
	if err != nil {
		rc.Close()
		cancel()
		return nil, errors.Wrap(err, "failed to decode")
	}
	return &track{streamer: streamer, format: format, body: rc, cancel: cancel}, nil
}

// installLocked plays an opened track on the speaker.
func (p *Player) installLocked(t *track, gen uint64, index int, loc string) error {
	if !p.initialized {
		if err := p.sink.Init(p.sampleRate, p.bufferSize); err != nil {
			t.close()
			return errors.Wrap(err, "failed to open audio device")
		}
		p.initialized = true
	}

	// Resample if the track's sample rate differs from the speaker's
	var s beep.Streamer = t.streamer
	if t.format.SampleRate != p.sampleRate {
		s = beep.Resample(4, t.format.SampleRate, p.sampleRate, t.streamer)
	}

	p.current = t
	p.ctrl = &beep.Ctrl{Streamer: s, Paused: p.startPaused}
	p.volume = &effects.Volume{
		Streamer: p.ctrl,
		Base:     2,
		Volume:   levelToVolume(p.level),
		Silent:   p.level == 0,
	}

	// The callback runs on the audio goroutine with the speaker locked.
	p.sink.Play(beep.Seq(p.volume, beep.Callback(func() {
		go p.trackEnded(gen)
	})))

	zlog.Info().Msgf("player: track started: index=%d/%d location=%s", index+1, len(p.list), loc)
	return nil
}

// trackEnded advances to the next track, or stops after the last one.
// Tracks that fail to open are skipped.
func (p *Player) trackEnded(gen uint64) {
	p.mu.Lock()

	if gen != p.generation || p.ctrl == nil {
		p.mu.Unlock()
		return
	}
	p.releaseLocked()

	for {
		p.index++
		if p.index >= len(p.list) {
			zlog.Info().Msg("player: end of list")
			p.index = 0
			p.mu.Unlock()
			return
		}
		next, index, loc := p.beginStartLocked(false)
		p.mu.Unlock()

		err := p.start(next, index, loc)
		if err == nil {
			return
		}
		zlog.Error().Msgf("player: skipping track that could not start: %v", err)

		p.mu.Lock()
		if p.generation != next {
			p.mu.Unlock()
			return
		}
	}
}

func (p *Player) setPausedLocked(paused bool) {
	p.sink.Lock()
	p.ctrl.Paused = paused
	p.sink.Unlock()
}

// stopLocked clears the speaker, closes the current track and abandons a
// pending start.
func (p *Player) stopLocked() {
	p.starting = false
	p.generation++
	if p.ctrl == nil {
		return
	}
	p.sink.Clear()
	p.releaseLocked()
}

func (p *Player) releaseLocked() {
	if p.current != nil {
		p.current.close()
		p.current = nil
	}
	p.ctrl = nil
	p.volume = nil
}

// levelToVolume converts a 0-100 level to beep's base 2 Volume value.
// We map: 100 -> 0, 50 -> -1, 25 -> -2, 0 -> -10 (essentially silent)
func levelToVolume(level int) float64 {
	if level <= 0 {
		return -10
	}
	if level >= 100 {
		return 0
	}
	return math.Log2(float64(level) / 100)
}
