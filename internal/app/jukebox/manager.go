// Package jukebox assembles the arbitration core with its sensor, transport,
// resolvers and intake, and runs it.
package jukebox

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/arbiter"
	"github.com/osa030/tagbox/internal/app/intake"
	"github.com/osa030/tagbox/internal/app/notification"
	"github.com/osa030/tagbox/internal/domain/event"
)

var (
	ErrAlreadyStarted = errors.New("jukebox already started")
	ErrNotRunning     = errors.New("jukebox is not running")
)

// Sensor is a tag reader that holds a device.
type Sensor interface {
	arbiter.Sensor
	io.Closer
}

// Transport is a media output that holds a device.
type Transport interface {
	arbiter.Transport
	io.Closer
}

// Components are the collaborators the core drives.
type Components struct {
	Sensor    Sensor
	Transport Transport
	Presence  arbiter.Resolver
	Catalog   arbiter.Resolver // nil when catalog requests cannot be resolved
	Gate      arbiter.Gate     // nil allows every event
}

// Config holds jukebox configuration.
type Config struct {
	Arbiter       arbiter.Config
	Loop          arbiter.LoopConfig
	QueueCapacity int
}

// Manager owns the intake queue and the control loop goroutine.
type Manager struct {
	mu sync.Mutex

	components   Components
	queue        *intake.Queue
	loop         *arbiter.Loop
	notification *notification.Manager

	status  atomic.Pointer[arbiter.Status]
	changed chan struct{}

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a jukebox in the {Idle, None, absent} state.
func NewManager(cfg Config, c Components) *Manager {
	m := &Manager{
		components:   c,
		queue:        intake.NewQueue(cfg.QueueCapacity),
		notification: notification.NewManager(),
		changed:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	core := arbiter.New(cfg.Arbiter, c.Transport, c.Presence, c.Catalog)
	if c.Gate != nil {
		core.SetGate(c.Gate)
	}
	core.OnChange(m.onChange)
	initial := core.Status()
	m.status.Store(&initial)

	m.loop = arbiter.NewLoop(cfg.Loop, c.Sensor, m.queue, core)
	return m
}

// Start runs the control loop until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := m.loop.Run(ctx); err != nil {
			zlog.Error().Msgf("jukebox: control loop ended: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		m.broadcast(ctx)
	}()
	go func() {
		wg.Wait()
		close(m.done)
	}()

	zlog.Info().Msg("jukebox: started")
	return nil
}

// Enqueue queues an event for the control loop.
func (m *Manager) Enqueue(ev event.Event) error {
	select {
	case <-m.done:
		return ErrNotRunning
	default:
	}
	return m.queue.Push(ev)
}

// Status returns the latest published snapshot.
func (m *Manager) Status() arbiter.Status {
	return *m.status.Load()
}

// Notifications returns the status broadcaster.
func (m *Manager) Notifications() *notification.Manager {
	return m.notification
}

// Done is closed once the control loop has stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Stop cancels the control loop and waits for it to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	started := m.started
	m.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-m.done
}

// Close stops the loop and releases the sensor and the transport.
func (m *Manager) Close() error {
	m.Stop()
	m.notification.Close()

	var err error
	if m.components.Transport != nil {
		if cerr := m.components.Transport.Stop(); cerr != nil {
			zlog.Warn().Msgf("jukebox: stopping transport: %v", cerr)
		}
		if cerr := m.components.Transport.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrap(cerr, "failed to close transport"))
		}
	}
	if m.components.Sensor != nil {
		if cerr := m.components.Sensor.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrap(cerr, "failed to close sensor"))
		}
	}
	zlog.Info().Msg("jukebox: closed")
	return err
}

// onChange runs on the core goroutine and must not block.
func (m *Manager) onChange(status arbiter.Status) {
	m.status.Store(&status)
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

// broadcast forwards the latest snapshot to watchers. Changes that land
// while a broadcast is in flight are coalesced.
func (m *Manager) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.changed:
			m.notification.Broadcast(m.Status())
		}
	}
}
