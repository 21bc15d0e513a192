package arbiter

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/domain/event"
	"github.com/osa030/tagbox/internal/domain/presence"
	"github.com/osa030/tagbox/internal/infra/metrics"
)

// Sensor reports whether a tag is on the reader. Poll must not block.
type Sensor interface {
	Poll(ctx context.Context) (presence.Reading, error)
}

// Queue is the intake FIFO. The loop is its only consumer.
type Queue interface {
	Push(ev event.Event) error
	Drain(max int) []event.Event
	Len() int
}

// LoopConfig holds control loop configuration.
type LoopConfig struct {
	Interval     time.Duration // Sleep between ticks
	DrainPerTick int           // Maximum events applied per tick
}

// Loop is the single goroutine control loop: poll, debounce, drain, apply.
type Loop struct {
	config    LoopConfig
	sensor    Sensor
	queue     Queue
	debouncer *Debouncer
	arbiter   *Arbiter

	sensorFailing bool
}

// NewLoop creates a control loop.
func NewLoop(config LoopConfig, sensor Sensor, queue Queue, arbiter *Arbiter) *Loop {
	if config.Interval <= 0 {
		config.Interval = 100 * time.Millisecond
	}
	if config.DrainPerTick <= 0 {
		config.DrainPerTick = 32
	}
	return &Loop{
		config:    config,
		sensor:    sensor,
		queue:     queue,
		debouncer: NewDebouncer(),
		arbiter:   arbiter,
	}
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	zlog.Info().Msgf("loop: started: interval=%v drain_per_tick=%d", l.config.Interval, l.config.DrainPerTick)
	l.arbiter.Init()

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		l.Tick(ctx)

		select {
		case <-ctx.Done():
			zlog.Info().Msg("loop: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one iteration of the loop.
func (l *Loop) Tick(ctx context.Context) {
	l.pollSensor(ctx)

	events := l.queue.Drain(l.config.DrainPerTick)
	for _, ev := range events {
		l.arbiter.Apply(ctx, ev)
	}
	metrics.QueueDepth.Set(float64(l.queue.Len()))
}

// pollSensor feeds the latest reading through the debouncer. A failed poll
// is skipped entirely so a flaky reader cannot fake a tag removal.
func (l *Loop) pollSensor(ctx context.Context) {
	reading, err := l.sensor.Poll(ctx)
	if err != nil {
		if !l.sensorFailing {
			zlog.Warn().Msgf("loop: sensor poll failed: %v", err)
		}
		l.sensorFailing = true
		return
	}
	if l.sensorFailing {
		zlog.Info().Msg("loop: sensor recovered")
		l.sensorFailing = false
	}

	ev, ok := l.debouncer.Observe(reading)
	if !ok {
		return
	}
	zlog.Debug().Msgf("loop: presence transition: event=%s", ev)
	if err := l.queue.Push(ev); err != nil {
		zlog.Warn().Msgf("loop: could not queue presence event, retrying next tick: event=%s error=%v", ev, err)
		l.debouncer.Rollback()
	}
}
