package arbiter

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/domain/event"
	"github.com/osa030/tagbox/internal/infra/metrics"
)

// Transport is the media output the core drives.
// Load replaces the loaded list only when it succeeds.
type Transport interface {
	Load(ctx context.Context, locations []string) error
	Play() error
	Pause() error
	Stop() error
	Next() error
	Previous() error
	SetVolume(level int) error
}

// Resolver maps a logical identifier (and optional artist hint) to an
// ordered list of playable locations.
type Resolver interface {
	Resolve(ctx context.Context, program, hint string) ([]string, error)
}

// Gate decides whether an event may be applied in the current status.
type Gate interface {
	Allow(ev event.Event, status Status) (bool, string)
}

// Config holds arbiter configuration.
type Config struct {
	ResolveTimeout   time.Duration // Upper bound for one resolution
	TransportTimeout time.Duration // Upper bound for one transport command
	InitialVolume    int           // Applied to the transport by Init
}

// Outcome is the result of applying one event.
type Outcome int

const (
	OutcomeApplied   Outcome = iota // State and/or transport changed
	OutcomeIgnored                  // Valid event with nothing to do in this state
	OutcomeRejected                 // Refused by a policy
	OutcomeFailed                   // Resolver or transport failure, last-known-good kept
	OutcomeMalformed                // Invalid or unsupported event, discarded
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

type transitionKey struct {
	origin event.Origin
	kind   event.Kind
}

type transition func(ctx context.Context, ev event.Event) Outcome

// unsupported lists every (origin, kind) pair that has no transition, with
// the reason logged when such an event is discarded. Together with the table
// built in New it covers every pair.
var unsupported = map[transitionKey]string{
	{event.OriginPresence, event.KindPause}:     "tags only start and stop playback",
	{event.OriginPresence, event.KindNext}:      "tags only start and stop playback",
	{event.OriginPresence, event.KindPrevious}:  "tags only start and stop playback",
	{event.OriginPresence, event.KindSetVolume}: "tags only start and stop playback",
	{event.OriginCatalog, event.KindStop}:       "catalog only starts programs",
	{event.OriginCatalog, event.KindPause}:      "catalog only starts programs",
	{event.OriginCatalog, event.KindNext}:       "catalog only starts programs",
	{event.OriginCatalog, event.KindPrevious}:   "catalog only starts programs",
	{event.OriginCatalog, event.KindSetVolume}:  "catalog only starts programs",
	{event.OriginRemote, event.KindStart}:       "remote resumes with pause, starts go through catalog",
}

// Arbiter owns the playback state triple and applies inbound events to it.
// It is not safe for concurrent use: one goroutine calls Apply.
type Arbiter struct {
	config    Config
	transport Transport
	resolvers map[event.Origin]Resolver
	gate      Gate
	onChange  func(Status)
	now       func() time.Time

	state        State
	owner        Source // Source that owned Program when it last played
	remotePaused bool
	volume       int
	lastEvent    string
	updatedAt    time.Time

	table map[transitionKey]transition
}

// New creates an arbiter in the {Idle, None, absent} state.
// presence resolves tag identifiers, catalog resolves catalog queries.
func New(config Config, transport Transport, presence, catalog Resolver) *Arbiter {
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = 5 * time.Second
	}
	if config.TransportTimeout <= 0 {
		config.TransportTimeout = 5 * time.Second
	}

	a := &Arbiter{
		config:    config,
		transport: transport,
		resolvers: map[event.Origin]Resolver{
			event.OriginPresence: presence,
			event.OriginCatalog:  catalog,
		},
		now:   time.Now,
		state: Idle(""),
	}
	a.updatedAt = a.now()

	a.table = map[transitionKey]transition{
		{event.OriginPresence, event.KindStart}:   a.presenceStart,
		{event.OriginPresence, event.KindStop}:    a.presenceStop,
		{event.OriginCatalog, event.KindStart}:    a.catalogStart,
		{event.OriginRemote, event.KindPause}:     a.remotePause,
		{event.OriginRemote, event.KindStop}:      a.remoteStop,
		{event.OriginRemote, event.KindNext}:      a.remoteNext,
		{event.OriginRemote, event.KindPrevious}:  a.remotePrevious,
		{event.OriginRemote, event.KindSetVolume}: a.remoteSetVolume,
	}
	return a
}

// SetGate installs the policy gate consulted before each transition.
func (a *Arbiter) SetGate(g Gate) {
	a.gate = g
}

// OnChange registers a callback invoked with a fresh snapshot whenever the
// state, volume or pause origin changes. It runs on the core goroutine and
// must not block.
func (a *Arbiter) OnChange(fn func(Status)) {
	a.onChange = fn
}

// Init applies the initial volume and publishes the initial status.
func (a *Arbiter) Init() {
	level := a.config.InitialVolume
	if err := a.command("set_volume", func() error { return a.transport.SetVolume(level) }); err == nil {
		a.volume = level
	}
	a.publish()
}

// State returns the current state triple.
func (a *Arbiter) State() State {
	return a.state
}

// Status returns a snapshot of the core.
func (a *Arbiter) Status() Status {
	return Status{
		State:        a.state,
		Volume:       a.volume,
		RemotePaused: a.remotePaused,
		LastEvent:    a.lastEvent,
		UpdatedAt:    a.updatedAt,
	}
}

// Apply classifies one event and applies it to the state triple.
func (a *Arbiter) Apply(ctx context.Context, ev event.Event) Outcome {
	outcome := a.apply(ctx, ev)
	metrics.EventsTotal.WithLabelValues(ev.Origin.String(), ev.Kind.String(), outcome.String()).Inc()
	zlog.Debug().Msgf("arbiter: event handled: id=%s event=%s outcome=%s state=%s source=%s program=%s",
		ev.ID, ev, outcome, a.state.Playback, a.state.Source, a.state.Program)
	return outcome
}

func (a *Arbiter) apply(ctx context.Context, ev event.Event) Outcome {
	if err := ev.Validate(); err != nil {
		zlog.Warn().Msgf("arbiter: discarding malformed event: id=%s error=%v", ev.ID, err)
		return OutcomeMalformed
	}

	key := transitionKey{origin: ev.Origin, kind: ev.Kind}
	fn, ok := a.table[key]
	if !ok {
		zlog.Warn().Msgf("arbiter: discarding unsupported event: id=%s event=%s reason=%s", ev.ID, ev, unsupported[key])
		return OutcomeMalformed
	}

	if a.gate != nil {
		if allowed, code := a.gate.Allow(ev, a.Status()); !allowed {
			zlog.Info().Msgf("arbiter: event rejected by policy: id=%s event=%s code=%s", ev.ID, ev, code)
			return OutcomeRejected
		}
	}

	before := a.Status()
	outcome := fn(ctx, ev)
	a.lastEvent = ev.String()

	if !a.state.Valid() {
		zlog.Error().Msgf("arbiter: invalid state after %s: state=%s source=%s program=%q, forcing idle",
			ev, a.state.Playback, a.state.Source, a.state.Program)
		a.state = Idle(a.state.Program)
	}

	after := a.Status()
	if before.State != after.State || before.Volume != after.Volume || before.RemotePaused != after.RemotePaused {
		a.publish()
	}
	return outcome
}

// presenceStart resumes the loaded program when the same tag comes back,
// otherwise loads the new one.
func (a *Arbiter) presenceStart(ctx context.Context, ev event.Event) Outcome {
	if ev.Payload.Program == a.state.Program {
		return a.resume(SourceTag)
	}
	return a.startProgram(ctx, ev, SourceTag)
}

func (a *Arbiter) presenceStop(ctx context.Context, ev event.Event) Outcome {
	if a.state.Source != SourceTag {
		zlog.Debug().Msgf("arbiter: tag removed while source=%s, keeping playback", a.state.Source)
		return OutcomeIgnored
	}
	if err := a.command("pause", a.transport.Pause); err != nil {
		return OutcomeFailed
	}
	a.state = Idle(a.state.Program)
	a.remotePaused = false
	return OutcomeApplied
}

func (a *Arbiter) catalogStart(ctx context.Context, ev event.Event) Outcome {
	return a.startProgram(ctx, ev, SourceCatalog)
}

func (a *Arbiter) remotePause(ctx context.Context, ev event.Event) Outcome {
	if a.state.Playback == StatePlaying {
		if err := a.command("pause", a.transport.Pause); err != nil {
			return OutcomeFailed
		}
		a.state = Idle(a.state.Program)
		a.remotePaused = true
		return OutcomeApplied
	}

	if a.state.Program == "" {
		zlog.Info().Msg("arbiter: remote resume with nothing loaded, ignoring")
		return OutcomeIgnored
	}
	owner := a.owner
	if owner == SourceNone {
		owner = SourceCatalog
	}
	return a.resume(owner)
}

// remoteStop is the explicit stop: it unloads the program so the next start
// always reloads.
func (a *Arbiter) remoteStop(ctx context.Context, ev event.Event) Outcome {
	if err := a.command("stop", a.transport.Stop); err != nil {
		return OutcomeFailed
	}
	a.state = Idle("")
	a.owner = SourceNone
	a.remotePaused = false
	return OutcomeApplied
}

func (a *Arbiter) remoteNext(ctx context.Context, ev event.Event) Outcome {
	if err := a.command("next", a.transport.Next); err != nil {
		return OutcomeFailed
	}
	return OutcomeApplied
}

func (a *Arbiter) remotePrevious(ctx context.Context, ev event.Event) Outcome {
	if err := a.command("previous", a.transport.Previous); err != nil {
		return OutcomeFailed
	}
	return OutcomeApplied
}

func (a *Arbiter) remoteSetVolume(ctx context.Context, ev event.Event) Outcome {
	level := ev.Payload.Volume
	if err := a.command("set_volume", func() error { return a.transport.SetVolume(level) }); err != nil {
		return OutcomeFailed
	}
	a.volume = level
	return OutcomeApplied
}

// resume plays the already loaded program without reloading it.
func (a *Arbiter) resume(source Source) Outcome {
	if err := a.play(); err != nil {
		return OutcomeFailed
	}
	a.state = Playing(source, a.state.Program)
	a.owner = source
	a.remotePaused = false
	return OutcomeApplied
}

// startProgram resolves, reloads and plays a new program. Resolution
// failures leave everything untouched. After a failed Load the transport is
// stopped with the previous list still loaded, so the state becomes idle on
// the previous program.
func (a *Arbiter) startProgram(ctx context.Context, ev event.Event, source Source) Outcome {
	program := ev.Payload.Program

	locations, err := a.resolve(ctx, ev)
	if err != nil {
		zlog.Warn().Msgf("arbiter: resolution failed, keeping current program: event=%s error=%v", ev, err)
		return OutcomeFailed
	}

	previous := a.state
	_ = a.command("stop", a.transport.Stop)

	loadCtx, cancel := context.WithTimeout(ctx, a.config.TransportTimeout)
	err = a.transport.Load(loadCtx, locations)
	cancel()
	if err != nil {
		metrics.TransportErrors.WithLabelValues("load").Inc()
		zlog.Error().Msgf("arbiter: transport load failed: program=%s locations=%d error=%v", program, len(locations), err)
		a.state = Idle(previous.Program)
		return OutcomeFailed
	}

	if err := a.play(); err != nil {
		a.state = Idle(program)
		a.owner = source
		return OutcomeFailed
	}

	zlog.Info().Msgf("arbiter: playing program=%s source=%s tracks=%d", program, source, len(locations))
	a.state = Playing(source, program)
	a.owner = source
	a.remotePaused = false
	return OutcomeApplied
}

type resolution struct {
	locations []string
	err       error
}

// resolve runs the resolver for the event origin under the resolve timeout.
// The call is raced against the deadline so a resolver that ignores its
// context cannot stall the loop.
func (a *Arbiter) resolve(ctx context.Context, ev event.Event) ([]string, error) {
	resolver := a.resolvers[ev.Origin]
	if resolver == nil {
		return nil, errors.Newf("no resolver configured for %s", ev.Origin)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.ResolveTimeout)
	defer cancel()

	start := a.now()
	ch := make(chan resolution, 1)
	go func() {
		locations, err := resolver.Resolve(ctx, ev.Payload.Program, ev.Payload.Hint)
		ch <- resolution{locations: locations, err: err}
	}()

	var res resolution
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = errors.Wrap(ctx.Err(), "resolver did not answer in time")
	}

	result := "ok"
	if res.err == nil && len(res.locations) == 0 {
		res.err = errors.Newf("no playable locations for %q", ev.Payload.Program)
	}
	if res.err != nil {
		result = "error"
	}
	metrics.ResolveDuration.WithLabelValues(ev.Origin.String(), result).Observe(a.now().Sub(start).Seconds())

	return res.locations, res.err
}

// errTransportTimeout marks a transport command that did not return within
// TransportTimeout.
var errTransportTimeout = errors.New("transport did not answer in time")

// command runs one transport command bounded by TransportTimeout, logging
// and counting failures. A command that times out keeps running in the
// background and its result is discarded.
func (a *Arbiter) command(name string, fn func() error) error {
	timer := time.NewTimer(a.config.TransportTimeout)
	defer timer.Stop()

	ch := make(chan error, 1)
	go func() { ch <- fn() }()

	var err error
	select {
	case err = <-ch:
	case <-timer.C:
		err = errors.Mark(errors.Newf("transport %s did not answer within %v", name, a.config.TransportTimeout), errTransportTimeout)
	}
	if err != nil {
		metrics.TransportErrors.WithLabelValues(name).Inc()
		zlog.Error().Msgf("arbiter: transport %s failed: %v", name, err)
		return err
	}
	return nil
}

// play starts or resumes the loaded program. A play that timed out is
// followed by a stop, so a start still pending in the transport cannot
// begin playing behind an idle state.
func (a *Arbiter) play() error {
	err := a.command("play", a.transport.Play)
	if errors.Is(err, errTransportTimeout) {
		_ = a.command("stop", a.transport.Stop)
	}
	return err
}

func (a *Arbiter) publish() {
	a.updatedAt = a.now()
	if a.state.Playback == StatePlaying {
		metrics.Playing.Set(1)
	} else {
		metrics.Playing.Set(0)
	}
	if a.onChange != nil {
		a.onChange(a.Status())
	}
}
