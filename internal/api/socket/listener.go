// Package socket provides the raw TCP intake: clients write a stream of JSON
// messages and each one becomes an event on the intake queue.
package socket

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/intake"
	"github.com/osa030/tagbox/internal/domain/event"
	"github.com/osa030/tagbox/internal/infra/metrics"
)

var errTooLarge = errors.New("message too large")

// Pusher accepts decoded events.
type Pusher interface {
	Push(ev event.Event) error
}

// Config represents listener configuration.
type Config struct {
	Addr           string
	IdleTimeout    time.Duration // Connections silent for longer are closed
	MaxMessageSize int           // Upper bound for a single JSON message
}

// Listener accepts TCP connections and enqueues the messages they carry.
type Listener struct {
	config Config
	queue  Pusher

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewListener creates a listener. Call Listen then Serve.
func NewListener(config Config, queue Pusher) *Listener {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Second
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = 4096
	}
	return &Listener{
		config: config,
		queue:  queue,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", l.config.Addr)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	zlog.Info().Msgf("socket: listening: addr=%s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return errors.New("socket listener is not bound")
	}

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			zlog.Warn().Msgf("socket: accept failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if !l.track(conn) {
			conn.Close()
			return nil
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.untrack(conn)
			l.handle(conn)
		}()
	}
}

// Close stops accepting, closes open connections and waits for handlers.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	for conn := range l.conns {
		conn.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "failed to close socket listener")
	}
	return nil
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	conn.Close()
}

// handle decodes messages from one connection until it ends.
func (l *Listener) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	zlog.Debug().Msgf("socket: connected: remote=%s", remote)

	br := &boundedReader{r: conn}
	dec := json.NewDecoder(br)
	for {
		br.remaining = l.config.MaxMessageSize
		if err := conn.SetReadDeadline(time.Now().Add(l.config.IdleTimeout)); err != nil {
			return
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			l.closeReason(remote, err)
			return
		}

		ev, err := intake.Decode(raw)
		if err != nil {
			metrics.DiscardedTotal.WithLabelValues("socket", "malformed").Inc()
			zlog.Warn().Msgf("socket: discarding message: remote=%s err=%v", remote, err)
			continue
		}
		if err := l.queue.Push(ev); err != nil {
			zlog.Warn().Msgf("socket: %v", err)
			continue
		}
		zlog.Debug().Msgf("socket: queued %s", ev)
	}
}

func (l *Listener) closeReason(remote string, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		zlog.Debug().Msgf("socket: disconnected: remote=%s", remote)
	case errors.As(err, &netErr) && netErr.Timeout():
		zlog.Debug().Msgf("socket: idle timeout: remote=%s", remote)
	case errors.Is(err, errTooLarge):
		metrics.DiscardedTotal.WithLabelValues("socket", "too_large").Inc()
		zlog.Warn().Msgf("socket: message over %d bytes, closing: remote=%s", l.config.MaxMessageSize, remote)
	default:
		metrics.DiscardedTotal.WithLabelValues("socket", "malformed").Inc()
		zlog.Warn().Msgf("socket: unreadable stream, closing: remote=%s err=%v", remote, err)
	}
}

// boundedReader fails once more than remaining bytes are read.
type boundedReader struct {
	r         io.Reader
	remaining int
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, errTooLarge
	}
	if len(p) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= n
	return n, err
}
