package arbiter

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tagbox/internal/domain/event"
)

// fakeTransport records every command it receives.
type fakeTransport struct {
	mu       sync.Mutex
	commands []string
	fail     map[string]error
	stall    map[string]chan struct{} // commands that hang until the channel closes
	loaded   []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: make(map[string]error), stall: make(map[string]chan struct{})}
}

func (f *fakeTransport) record(cmd string) error {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	name := cmd
	if i := strings.Index(cmd, "("); i >= 0 {
		name = cmd[:i]
	}
	err, stall := f.fail[name], f.stall[name]
	f.mu.Unlock()

	if stall != nil {
		<-stall
	}
	return err
}

func (f *fakeTransport) Load(ctx context.Context, locations []string) error {
	if err := f.record("load(" + strings.Join(locations, ",") + ")"); err != nil {
		return err
	}
	f.mu.Lock()
	f.loaded = locations
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Play() error     { return f.record("play") }
func (f *fakeTransport) Pause() error    { return f.record("pause") }
func (f *fakeTransport) Stop() error     { return f.record("stop") }
func (f *fakeTransport) Next() error     { return f.record("next") }
func (f *fakeTransport) Previous() error { return f.record("previous") }
func (f *fakeTransport) SetVolume(level int) error {
	return f.record(fmt.Sprintf("set_volume(%d)", level))
}

// take returns and clears the recorded commands.
func (f *fakeTransport) take() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmds := f.commands
	f.commands = nil
	return cmds
}

// fakeResolver serves a fixed catalog.
type fakeResolver struct {
	mu      sync.Mutex
	catalog map[string][]string
	calls   []string
	err     error
	block   bool
}

func (r *fakeResolver) Resolve(ctx context.Context, program, hint string) ([]string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, program+"|"+hint)
	block, err := r.block, r.err
	r.mu.Unlock()

	if block {
		select {}
	}
	if err != nil {
		return nil, err
	}
	return r.catalog[program], nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestArbiter() (*Arbiter, *fakeTransport, *fakeResolver, *fakeResolver) {
	transport := newFakeTransport()
	tags := &fakeResolver{catalog: map[string][]string{
		"tagA": {"a1", "a2"},
		"tagB": {"b1"},
	}}
	catalog := &fakeResolver{catalog: map[string][]string{
		"albumQ": {"q1", "q2", "q3"},
	}}
	a := New(Config{ResolveTimeout: 200 * time.Millisecond, TransportTimeout: time.Second, InitialVolume: 50},
		transport, tags, catalog)
	return a, transport, tags, catalog
}

func presenceStart(id string) event.Event {
	return event.Event{ID: "p-" + id, Origin: event.OriginPresence, Kind: event.KindStart, Payload: event.Payload{Program: id}}
}

func presenceStop() event.Event {
	return event.Event{ID: "p-stop", Origin: event.OriginPresence, Kind: event.KindStop}
}

func catalogStart(id, hint string) event.Event {
	return event.Event{ID: "c-" + id, Origin: event.OriginCatalog, Kind: event.KindStart, Payload: event.Payload{Program: id, Hint: hint}}
}

func remote(kind event.Kind) event.Event {
	return event.Event{ID: "r", Origin: event.OriginRemote, Kind: kind}
}

func TestArbiter_TagLifecycleScenario(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	ctx := context.Background()

	assert.Equal(t, Idle(""), a.State())

	// Tag placed
	assert.Equal(t, OutcomeApplied, a.Apply(ctx, presenceStart("tagA")))
	assert.Equal(t, []string{"stop", "load(a1,a2)", "play"}, transport.take())
	assert.Equal(t, Playing(SourceTag, "tagA"), a.State())

	// Tag removed: program is kept for resume
	assert.Equal(t, OutcomeApplied, a.Apply(ctx, presenceStop()))
	assert.Equal(t, []string{"pause"}, transport.take())
	assert.Equal(t, State{Playback: StateIdle, Source: SourceNone, Program: "tagA"}, a.State())

	// Same tag placed again: resume only
	assert.Equal(t, OutcomeApplied, a.Apply(ctx, presenceStart("tagA")))
	assert.Equal(t, []string{"play"}, transport.take())
	assert.Equal(t, Playing(SourceTag, "tagA"), a.State())
}

func TestArbiter_CatalogPreemptsTag(t *testing.T) {
	a, transport, _, catalog := newTestArbiter()
	ctx := context.Background()

	a.Apply(ctx, presenceStart("tagA"))
	transport.take()

	assert.Equal(t, OutcomeApplied, a.Apply(ctx, catalogStart("albumQ", "KMFDM")))
	assert.Equal(t, []string{"stop", "load(q1,q2,q3)", "play"}, transport.take())
	assert.Equal(t, Playing(SourceCatalog, "albumQ"), a.State())
	assert.Equal(t, []string{"albumQ|KMFDM"}, catalog.calls, "catalog resolver receives the artist hint")
}

func TestArbiter_TagRemovalDoesNotInterruptCatalog(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	ctx := context.Background()

	a.Apply(ctx, catalogStart("albumQ", ""))
	transport.take()
	before := a.State()

	assert.Equal(t, OutcomeIgnored, a.Apply(ctx, presenceStop()))
	assert.Empty(t, transport.take())
	assert.Equal(t, before, a.State())
}

func TestArbiter_ResumeNeverReloads(t *testing.T) {
	a, transport, tags, _ := newTestArbiter()
	ctx := context.Background()

	a.Apply(ctx, presenceStart("tagA"))
	transport.take()
	require.Equal(t, 1, tags.callCount())

	// Rapid remove and replace within one tick degrades to resume
	for i := 0; i < 3; i++ {
		assert.Equal(t, OutcomeApplied, a.Apply(ctx, presenceStart("tagA")))
	}

	assert.Equal(t, []string{"play", "play", "play"}, transport.take())
	assert.Equal(t, 1, tags.callCount(), "resolver must not be called on resume")
	assert.Equal(t, Playing(SourceTag, "tagA"), a.State())
}

func TestArbiter_TagSwapReloads(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	ctx := context.Background()

	a.Apply(ctx, presenceStart("tagA"))
	transport.take()

	assert.Equal(t, OutcomeApplied, a.Apply(ctx, presenceStart("tagB")))
	assert.Equal(t, []string{"stop", "load(b1)", "play"}, transport.take())
	assert.Equal(t, Playing(SourceTag, "tagB"), a.State())
}

func TestArbiter_ResolutionFailureKeepsState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tags *fakeResolver)
		event event.Event
	}{
		{
			name:  "unknown tag resolves to nothing",
			setup: func(tags *fakeResolver) {},
			event: presenceStart("tagUnknown"),
		},
		{
			name:  "resolver error",
			setup: func(tags *fakeResolver) { tags.err = errors.New("plex unreachable") },
			event: presenceStart("tagB"),
		},
		{
			name:  "resolver times out",
			setup: func(tags *fakeResolver) { tags.block = true },
			event: presenceStart("tagB"),
		},
		{
			name:  "catalog miss",
			setup: func(tags *fakeResolver) {},
			event: catalogStart("albumMissing", ""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, transport, tags, _ := newTestArbiter()
			ctx := context.Background()

			a.Apply(ctx, presenceStart("tagA"))
			transport.take()
			before := a.State()

			tt.setup(tags)
			assert.Equal(t, OutcomeFailed, a.Apply(ctx, tt.event))
			assert.Equal(t, before, a.State())
			assert.Empty(t, transport.take(), "no transport command on resolution failure")
		})
	}
}

func TestArbiter_LoadFailureRollsBackProgram(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	ctx := context.Background()

	a.Apply(ctx, presenceStart("tagA"))
	transport.take()

	transport.fail["load"] = errors.New("device busy")
	assert.Equal(t, OutcomeFailed, a.Apply(ctx, presenceStart("tagB")))
	assert.Equal(t, []string{"stop", "load(b1)"}, transport.take())

	state := a.State()
	assert.Equal(t, "tagA", state.Program, "program must not point at the failed load")
	assert.Equal(t, StateIdle, state.Playback, "transport was stopped")
	assert.True(t, state.Valid())

	// Previous tag comes back: its list is still loaded, resume only
	delete(transport.fail, "load")
	assert.Equal(t, OutcomeApplied, a.Apply(ctx, presenceStart("tagA")))
	assert.Equal(t, []string{"play"}, transport.take())
}

func TestArbiter_PlayFailureNeverMarksPlaying(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	ctx := context.Background()

	transport.fail["play"] = errors.New("no audio device")
	assert.Equal(t, OutcomeFailed, a.Apply(ctx, presenceStart("tagA")))
	assert.Equal(t, Idle("tagA"), a.State())

	// Resume fails too
	assert.Equal(t, OutcomeFailed, a.Apply(ctx, presenceStart("tagA")))
	assert.Equal(t, Idle("tagA"), a.State())
}

func TestArbiter_PlayTimeoutIsTransportFailure(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	defer close(release)
	transport.stall["play"] = release

	tags := &fakeResolver{catalog: map[string][]string{"tagA": {"a1"}}}
	a := New(Config{ResolveTimeout: 200 * time.Millisecond, TransportTimeout: 100 * time.Millisecond},
		transport, tags, &fakeResolver{})
	ctx := context.Background()

	start := time.Now()
	assert.Equal(t, OutcomeFailed, a.Apply(ctx, presenceStart("tagA")))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Idle("tagA"), a.State())
	assert.Equal(t, []string{"stop", "load(a1)", "play", "stop"}, transport.take(),
		"a pending start is abandoned")

	// Resume is bounded the same way
	start = time.Now()
	assert.Equal(t, OutcomeFailed, a.Apply(ctx, presenceStart("tagA")))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Idle("tagA"), a.State())
	assert.Equal(t, []string{"play", "stop"}, transport.take())
}

func TestArbiter_PauseFailureKeepsPlaying(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	ctx := context.Background()

	a.Apply(ctx, presenceStart("tagA"))
	transport.fail["pause"] = errors.New("boom")

	assert.Equal(t, OutcomeFailed, a.Apply(ctx, presenceStop()))
	assert.Equal(t, Playing(SourceTag, "tagA"), a.State())
}

func TestArbiter_RemotePauseToggle(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	ctx := context.Background()

	a.Apply(ctx, presenceStart("tagA"))
	transport.take()

	assert.Equal(t, OutcomeApplied, a.Apply(ctx, remote(event.KindPause)))
	assert.Equal(t, []string{"pause"}, transport.take())
	assert.Equal(t, Idle("tagA"), a.State())
	assert.True(t, a.Status().RemotePaused)

	assert.Equal(t, OutcomeApplied, a.Apply(ctx, remote(event.KindPause)))
	assert.Equal(t, []string{"play"}, transport.take())
	assert.Equal(t, Playing(SourceTag, "tagA"), a.State(), "resume restores the owning source")
	assert.False(t, a.Status().RemotePaused)
}

func TestArbiter_RemotePauseWithNothingLoaded(t *testing.T) {
	a, transport, _, _ := newTestArbiter()

	assert.Equal(t, OutcomeIgnored, a.Apply(context.Background(), remote(event.KindPause)))
	assert.Empty(t, transport.take())
	assert.Equal(t, Idle(""), a.State())
}

func TestArbiter_NonInterruption(t *testing.T) {
	tests := []struct {
		name  string
		first event.Event
	}{
		{name: "after remote pause", first: remote(event.KindPause)},
		{name: "after catalog start", first: catalogStart("albumQ", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, transport, _, _ := newTestArbiter()
			ctx := context.Background()

			a.Apply(ctx, presenceStart("tagA"))
			a.Apply(ctx, tt.first)
			transport.take()
			before := a.State()

			assert.Equal(t, OutcomeIgnored, a.Apply(ctx, presenceStop()))
			assert.Equal(t, before, a.State())
			assert.Empty(t, transport.take())
		})
	}
}

func TestArbiter_RemoteStopClearsProgram(t *testing.T) {
	a, transport, tags, _ := newTestArbiter()
	ctx := context.Background()

	a.Apply(ctx, presenceStart("tagA"))
	transport.take()

	assert.Equal(t, OutcomeApplied, a.Apply(ctx, remote(event.KindStop)))
	assert.Equal(t, []string{"stop"}, transport.take())
	assert.Equal(t, Idle(""), a.State())

	// The same tag now reloads
	a.Apply(ctx, presenceStart("tagA"))
	assert.Equal(t, []string{"stop", "load(a1,a2)", "play"}, transport.take())
	assert.Equal(t, 2, tags.callCount())
}

func TestArbiter_TransportOnlyCommands(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	ctx := context.Background()

	a.Apply(ctx, presenceStart("tagA"))
	transport.take()
	before := a.State()

	assert.Equal(t, OutcomeApplied, a.Apply(ctx, remote(event.KindNext)))
	assert.Equal(t, OutcomeApplied, a.Apply(ctx, remote(event.KindPrevious)))
	vol := remote(event.KindSetVolume)
	vol.Payload.Volume = 30
	assert.Equal(t, OutcomeApplied, a.Apply(ctx, vol))

	assert.Equal(t, []string{"next", "previous", "set_volume(30)"}, transport.take())
	assert.Equal(t, before, a.State())
	assert.Equal(t, 30, a.Status().Volume)
}

func TestArbiter_VolumeFailureKeepsLevel(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	a.Init()
	require.Equal(t, 50, a.Status().Volume)

	transport.fail["set_volume"] = errors.New("mixer gone")
	vol := remote(event.KindSetVolume)
	vol.Payload.Volume = 80

	assert.Equal(t, OutcomeFailed, a.Apply(context.Background(), vol))
	assert.Equal(t, 50, a.Status().Volume)
}

func TestArbiter_MalformedEventsDiscarded(t *testing.T) {
	tests := []struct {
		name  string
		event event.Event
	}{
		{name: "no origin", event: event.Event{Kind: event.KindStart, Payload: event.Payload{Program: "x"}}},
		{name: "start without program", event: event.Event{Origin: event.OriginPresence, Kind: event.KindStart}},
		{name: "volume out of range", event: event.Event{Origin: event.OriginRemote, Kind: event.KindSetVolume, Payload: event.Payload{Volume: 300}}},
		{name: "unsupported pair", event: event.Event{Origin: event.OriginPresence, Kind: event.KindNext}},
		{name: "remote start", event: event.Event{Origin: event.OriginRemote, Kind: event.KindStart, Payload: event.Payload{Program: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, transport, _, _ := newTestArbiter()
			assert.Equal(t, OutcomeMalformed, a.Apply(context.Background(), tt.event))
			assert.Empty(t, transport.take())
			assert.Equal(t, Idle(""), a.State())
		})
	}
}

func TestArbiter_TransitionTableIsExhaustive(t *testing.T) {
	a, _, _, _ := newTestArbiter()

	origins := []event.Origin{event.OriginPresence, event.OriginCatalog, event.OriginRemote}
	kinds := []event.Kind{event.KindStart, event.KindStop, event.KindPause, event.KindNext, event.KindPrevious, event.KindSetVolume}

	for _, o := range origins {
		for _, k := range kinds {
			key := transitionKey{origin: o, kind: k}
			_, handled := a.table[key]
			_, rejected := unsupported[key]
			assert.True(t, handled != rejected, "%s/%s must be either handled or explicitly unsupported", o, k)
		}
	}
	assert.Len(t, a.table, 8)
	assert.Len(t, unsupported, 10)
}

type denyGate struct {
	deny event.Kind
}

func (g denyGate) Allow(ev event.Event, status Status) (bool, string) {
	if ev.Kind == g.deny {
		return false, "denied"
	}
	return true, ""
}

func TestArbiter_GateRejects(t *testing.T) {
	a, transport, _, _ := newTestArbiter()
	a.SetGate(denyGate{deny: event.KindStart})

	assert.Equal(t, OutcomeRejected, a.Apply(context.Background(), presenceStart("tagA")))
	assert.Empty(t, transport.take())
	assert.Equal(t, Idle(""), a.State())
}

func TestArbiter_OnChangePublishesSnapshots(t *testing.T) {
	a, _, _, _ := newTestArbiter()
	var published []Status
	a.OnChange(func(s Status) { published = append(published, s) })
	ctx := context.Background()

	a.Init()
	a.Apply(ctx, presenceStart("tagA"))
	a.Apply(ctx, presenceStart("tagA"))  // resume while playing: no change
	a.Apply(ctx, remote(event.KindNext)) // no state change
	a.Apply(ctx, presenceStop())

	require.Len(t, published, 3)
	assert.Equal(t, Idle(""), published[0].State)
	assert.Equal(t, 50, published[0].Volume)
	assert.Equal(t, Playing(SourceTag, "tagA"), published[1].State)
	assert.Equal(t, Idle("tagA"), published[2].State)
	assert.Equal(t, "presence/stop", published[2].LastEvent)
}

func TestArbiter_InvariantHoldsForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	programs := []string{"tagA", "tagB", "tagUnknown", "albumQ"}

	for run := 0; run < 50; run++ {
		a, transport, _, _ := newTestArbiter()
		ctx := context.Background()

		for step := 0; step < 40; step++ {
			// Occasionally make the transport misbehave
			for _, cmd := range []string{"load", "play", "pause", "stop"} {
				if rng.Intn(10) == 0 {
					transport.fail[cmd] = errors.New("flaky")
				} else {
					delete(transport.fail, cmd)
				}
			}

			var ev event.Event
			switch rng.Intn(6) {
			case 0:
				ev = presenceStart(programs[rng.Intn(len(programs))])
			case 1:
				ev = presenceStop()
			case 2:
				ev = catalogStart(programs[rng.Intn(len(programs))], "")
			case 3:
				ev = remote(event.KindPause)
			case 4:
				ev = remote(event.KindStop)
			default:
				ev = remote(event.KindNext)
			}

			a.Apply(ctx, ev)
			state := a.State()
			require.True(t, state.Valid(), "run %d step %d after %s: %+v", run, step, ev, state)
			if state.Playback == StateIdle {
				require.Equal(t, SourceNone, state.Source)
			} else {
				require.NotEqual(t, SourceNone, state.Source)
				require.NotEqual(t, "tagUnknown", state.Program, "unresolvable program never plays")
			}
			transport.take()
		}
	}
}
