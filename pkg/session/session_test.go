package session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/depgraph"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/param"
	"github.com/aretw0/tether/pkg/scheduler"
	"github.com/aretw0/tether/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	sched    *scheduler.Scheduler
	registry *session.Registry
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, ctx: context.Background(), sched: scheduler.New(), registry: session.NewRegistry()}
}

// open creates an ACTIVE session with obj attached.
func (h *harness) open(id string, objs ...param.Parameterized) (*session.Session, *memory.Transport) {
	h.t.Helper()
	tr := memory.NewTransport(16)
	s, err := session.New(id, tr, h.sched, session.WithRegistry(h.registry))
	require.NoError(h.t, err)
	for _, o := range objs {
		_, err := s.Attach(o)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, s.Open(h.ctx))
	require.Equal(h.t, domain.StateActive, s.State())
	return s, tr
}

func (h *harness) root(s *session.Session, obj param.Parameterized) string {
	h.t.Helper()
	n, ok := s.NodeFor(obj)
	require.True(h.t, ok)
	return n.ID
}

func newWind() *param.Object {
	return param.MustObject("wind", []param.Parameter{
		{Name: "speed", Type: param.Number(param.Between(0, 100)), Default: 8.6},
		{Name: "wind_direction", Type: param.Selector("N", "E", "S", "W"), Default: "N"},
		{Name: "calibrated", Type: param.Boolean(), Default: false, Readonly: true},
	})
}

func TestSession_ServerChangeReachesEveryActiveSession(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	s1, tr1 := h.open("s1", wind)
	s2, tr2 := h.open("s2", wind)
	s3, tr3 := h.open("s3", wind)
	require.NoError(t, s3.Close(h.ctx))

	require.NoError(t, wind.Set("speed", 11.4))
	st := h.sched.Tick(h.ctx)
	assert.Equal(t, 2, st.Flushed)

	assert.Equal(t, []domain.Patch{{ModelID: h.root(s1, wind), Property: "speed", Value: 11.4}}, tr1.Patches())
	assert.Equal(t, []domain.Patch{{ModelID: h.root(s2, wind), Property: "speed", Value: 11.4}}, tr2.Patches())
	assert.Empty(t, tr3.Patches(), "closed session receives nothing")
	assert.Equal(t, domain.StateClosed, s3.State())
}

func TestSession_HandshakeCarriesModels(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	s, tr := h.open("s", wind)

	inits := tr.Messages(domain.MessageInit)
	require.Len(t, inits, 1)
	require.Len(t, inits[0].Models, 1)
	assert.Equal(t, []string{h.root(s, wind)}, inits[0].Roots)
	assert.Equal(t, "wind", inits[0].Models[0].Type)
	assert.Equal(t, 8.6, inits[0].Models[0].Props["speed"])
	assert.Equal(t, uint64(1), tr.Batches()[0].Seq)
}

func TestSession_CoalescesWithinTick(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	s, tr := h.open("s", wind)

	for i := 1; i <= 5; i++ {
		require.NoError(t, wind.Set("speed", float64(i*10)))
	}
	require.NoError(t, wind.Set("wind_direction", "E"))
	h.sched.Tick(h.ctx)

	id := h.root(s, wind)
	assert.Equal(t, []domain.Patch{
		{ModelID: id, Property: "speed", Value: 50.0},
		{ModelID: id, Property: "wind_direction", Value: "E"},
	}, tr.Patches())
	require.Len(t, tr.Batches(), 2, "init plus one batch")
}

func TestSession_KeepAllDeliversEveryValue(t *testing.T) {
	h := newHarness(t)
	log := param.MustObject("log", []param.Parameter{
		{Name: "line", Type: param.String(), Default: "", KeepAll: true},
	})
	_, tr := h.open("s", log)

	for _, l := range []string{"a", "b", "c"} {
		require.NoError(t, log.Set("line", l))
	}
	h.sched.Tick(h.ctx)

	var got []any
	for _, p := range tr.Patches() {
		got = append(got, p.Value)
	}
	assert.Equal(t, []any{"a", "b", "c"}, got)
}

func TestSession_InboundPatchIsNotEchoed(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	s1, tr1 := h.open("s1", wind)
	s2, tr2 := h.open("s2", wind)

	calls := 0
	var seen any
	_, err := wind.Watch([]string{"speed"}, func(cs []param.Change) error {
		calls++
		seen, _ = wind.Get("speed")
		return nil
	}, param.ModeValue)
	require.NoError(t, err)

	require.NoError(t, s1.ReceivePatch(h.ctx, domain.Patch{ModelID: h.root(s1, wind), Property: "speed", Value: 50.0}))
	h.sched.Tick(h.ctx)

	v, _ := wind.Get("speed")
	assert.Equal(t, 50.0, v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 50.0, seen, "watchers observe the applied value")
	assert.Empty(t, tr1.Patches(), "no echo to the originating session")
	assert.Equal(t, []domain.Patch{{ModelID: h.root(s2, wind), Property: "speed", Value: 50.0}}, tr2.Patches())

	// After the inbound chain the guard is gone: a server change is sent again.
	require.NoError(t, wind.Set("speed", 60.0))
	h.sched.Tick(h.ctx)
	assert.Len(t, tr1.Patches(), 1)
}

func TestSession_InboundPatchSupersedesQueuedServerValue(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	s1, tr1 := h.open("s1", wind)
	s2, tr2 := h.open("s2", wind)

	require.NoError(t, wind.Set("speed", 20.0))
	assert.Equal(t, 1, s1.Pending())
	require.NoError(t, s1.ReceivePatch(h.ctx, domain.Patch{ModelID: h.root(s1, wind), Property: "speed", Value: 50.0}))
	assert.Zero(t, s1.Pending(), "the queued server value is superseded")
	h.sched.Tick(h.ctx)

	v, _ := wind.Get("speed")
	assert.Equal(t, 50.0, v)
	assert.Empty(t, tr1.Patches(), "the peer keeps the value it sent")
	assert.Equal(t, []domain.Patch{{ModelID: h.root(s2, wind), Property: "speed", Value: 50.0}}, tr2.Patches())
}

func TestSession_InboundValueRewrittenByWatcherIsSynced(t *testing.T) {
	h := newHarness(t)
	thermostat := param.MustObject("thermostat", []param.Parameter{
		{Name: "target", Type: param.Number(), Default: 20.0},
	})
	_, err := thermostat.Watch([]string{"target"}, func(cs []param.Change) error {
		if v := cs[0].New.(float64); v > 30 {
			return thermostat.Set("target", 30.0)
		}
		return nil
	}, param.ModeValue)
	require.NoError(t, err)

	s, tr := h.open("s", thermostat)
	require.NoError(t, s.ReceivePatch(h.ctx, domain.Patch{ModelID: h.root(s, thermostat), Property: "target", Value: 45}))
	h.sched.Tick(h.ctx)

	v, _ := thermostat.Get("target")
	assert.Equal(t, 30.0, v)
	assert.Equal(t, []domain.Patch{{ModelID: h.root(s, thermostat), Property: "target", Value: 30.0}}, tr.Patches())
}

func TestSession_InboundErrorsAreLocal(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	var events []*domain.PatchEvent
	tr := memory.NewTransport(4)
	s, err := session.New("s", tr, h.sched, session.WithHooks(domain.LifecycleHooks{
		OnInboundPatch: func(_ context.Context, e *domain.PatchEvent) { events = append(events, e) },
	}))
	require.NoError(t, err)
	_, err = s.Attach(wind)
	require.NoError(t, err)
	require.NoError(t, s.Open(h.ctx))
	id := h.root(s, wind)

	err = s.ReceivePatch(h.ctx, domain.Patch{ModelID: id, Property: "altitude", Value: 1.0})
	assert.ErrorIs(t, err, domain.ErrUnknownProperty)

	err = s.ReceivePatch(h.ctx, domain.Patch{ModelID: "ghost", Property: "speed", Value: 1.0})
	assert.ErrorIs(t, err, domain.ErrUnknownProperty)

	err = s.ReceivePatch(h.ctx, domain.Patch{ModelID: id, Property: "speed", Value: 500.0})
	assert.ErrorIs(t, err, domain.ErrValidation)
	v, _ := wind.Get("speed")
	assert.Equal(t, 8.6, v)

	assert.Equal(t, domain.StateActive, s.State(), "session survives malformed patches")
	require.Len(t, events, 3)
	assert.Error(t, events[0].Err)
}

func TestSession_InboundReadonlyIsBrowserOwned(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	s, tr := h.open("s", wind)

	require.NoError(t, s.ReceivePatch(h.ctx, domain.Patch{ModelID: h.root(s, wind), Property: "calibrated", Value: true}))
	v, _ := wind.Get("calibrated")
	assert.Equal(t, true, v)
	assert.Error(t, wind.Set("calibrated", false), "still readonly for server code")
	h.sched.Tick(h.ctx)
	assert.Empty(t, tr.Patches())
}

func TestSession_DropsInboundWhenNotActive(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	s, err := session.New("s", memory.NewTransport(1), h.sched)
	require.NoError(t, err)
	n, err := s.Attach(wind)
	require.NoError(t, err)

	assert.NoError(t, s.ReceivePatch(h.ctx, domain.Patch{ModelID: n.ID, Property: "speed", Value: 1.0}))
	v, _ := wind.Get("speed")
	assert.Equal(t, 8.6, v)

	require.NoError(t, s.Open(h.ctx))
	require.NoError(t, s.Close(h.ctx))
	assert.NoError(t, s.ReceivePatch(h.ctx, domain.Patch{ModelID: n.ID, Property: "speed", Value: 1.0}))
	v, _ = wind.Get("speed")
	assert.Equal(t, 8.6, v)
}

func TestSession_DetachStopsDelivery(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	s1, tr1 := h.open("s1", wind)
	s2, tr2 := h.open("s2", wind)

	// Pending patches are dropped synchronously.
	require.NoError(t, wind.Set("speed", 20.0))
	id := h.root(s1, wind)
	s1.Detach(wind)
	s1.Detach(wind)
	h.sched.Tick(h.ctx)

	assert.Empty(t, tr1.Patches())
	detach := tr1.Messages(domain.MessageDetach)
	require.Len(t, detach, 1)
	assert.Equal(t, []string{id}, detach[0].Roots)
	_, ok := s1.Node(id)
	assert.False(t, ok)

	// A mutation through another session never reaches the detached one.
	require.NoError(t, s2.ReceivePatch(h.ctx, domain.Patch{ModelID: h.root(s2, wind), Property: "speed", Value: 70.0}))
	require.NoError(t, wind.Set("wind_direction", "S"))
	h.sched.Tick(h.ctx)
	assert.Empty(t, tr1.Patches())
	assert.NotEmpty(t, tr2.Patches())
}

func TestSession_CloseReleasesEverything(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	before := wind.Watchers()
	var closed []*domain.SessionEvent
	tr := memory.NewTransport(1)
	s, err := session.New("s", tr, h.sched, session.WithRegistry(h.registry), session.WithHooks(domain.LifecycleHooks{
		OnSessionClose: func(_ context.Context, e *domain.SessionEvent) { closed = append(closed, e) },
	}))
	require.NoError(t, err)
	_, err = s.Attach(wind)
	require.NoError(t, err)
	require.NoError(t, s.Open(h.ctx))
	assert.Equal(t, 1, h.registry.Len())

	require.NoError(t, wind.Set("speed", 30.0))
	require.NoError(t, s.Close(h.ctx))
	require.NoError(t, s.Close(h.ctx))
	h.sched.Tick(h.ctx)

	assert.Empty(t, tr.Patches(), "pending patches cancelled")
	assert.True(t, tr.Closed())
	assert.Equal(t, before, wind.Watchers())
	assert.Zero(t, h.registry.Len())
	_, err = h.registry.Get("s")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.StateClosed, closed[0].State)

	_, err = s.Attach(wind)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestSession_TransportFailureClosesSession(t *testing.T) {
	h := newHarness(t)
	wind := newWind()
	s, tr := h.open("s", wind)
	other, trOther := h.open("other", wind)

	tr.FailWith(errors.New("connection reset"))
	require.NoError(t, wind.Set("speed", 12.0))

	err := s.Flush(h.ctx)
	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "s", te.SessionID)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, domain.StateClosed, s.State())
	assert.Zero(t, s.Pending())

	h.sched.Tick(h.ctx)
	assert.Len(t, trOther.Patches(), 1)
	assert.Equal(t, domain.StateActive, other.State())
	assert.Equal(t, []string{"other"}, h.registry.List())
}

func TestSession_CallbackFailureDoesNotBlockOtherSessions(t *testing.T) {
	h := newHarness(t)
	a := newWind()
	b := newWind()
	_, trA := h.open("a", a)
	sb, trB := h.open("b", b)

	_ = h.sched.ScheduleCallback(func(context.Context) error {
		return fmt.Errorf("user code failed")
	}, scheduler.ForSession("a"))
	_ = h.sched.ScheduleCallback(func(context.Context) error {
		return b.Set("speed", 99.0)
	}, scheduler.ForSession("b"))

	st := h.sched.Tick(h.ctx)
	assert.Equal(t, 1, st.Failed)
	assert.Empty(t, trA.Patches())
	assert.Equal(t, []domain.Patch{{ModelID: h.root(sb, b), Property: "speed", Value: 99.0}}, trB.Patches())
}

func TestSession_AttachWhileActive(t *testing.T) {
	h := newHarness(t)
	s, tr := h.open("s")
	wind := newWind()

	n, err := s.Attach(wind)
	require.NoError(t, err)
	again, err := s.Attach(wind)
	require.NoError(t, err)
	assert.Same(t, n, again)

	require.NoError(t, wind.Set("speed", 15.0))
	h.sched.Tick(h.ctx)

	msgs := tr.Batches()[1].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.MessageAttach, msgs[0].Type, "attach precedes patches of the new model")
	assert.Equal(t, domain.MessagePatch, msgs[1].Type)
	assert.Len(t, s.Roots(), 1)
	assert.Len(t, s.Snapshot(), 1)
}

func TestSession_NestedModelsFollowRestructure(t *testing.T) {
	h := newHarness(t)
	first := newWind()
	column := param.MustObject("column", []param.Parameter{
		{Name: "children", Type: param.ObjectList(), Default: []param.Parameterized{first}},
	})
	s, tr := h.open("s", column)
	require.Len(t, s.Snapshot(), 2)

	second := newWind()
	require.NoError(t, column.Set("children", []param.Parameterized{second}))
	h.sched.Tick(h.ctx)

	patches := tr.Patches()
	require.Len(t, patches, 1)
	msg := tr.Messages(domain.MessagePatch)[0]
	require.Len(t, msg.Models, 1)
	secondID := msg.Models[0].ID

	// The replaced child no longer produces patches; the new one does.
	tr.Reset()
	require.NoError(t, first.Set("speed", 1.0))
	require.NoError(t, second.Set("speed", 2.0))
	h.sched.Tick(h.ctx)
	assert.Equal(t, []domain.Patch{{ModelID: secondID, Property: "speed", Value: 2.0}}, tr.Patches())
}

type button struct {
	*param.Object
	clicks int
}

func (b *button) HandleModelEvent(name string, data map[string]any) error {
	if name != "click" {
		return fmt.Errorf("unexpected event %s", name)
	}
	b.clicks++
	return b.Set("clicks", b.clicks)
}

func TestSession_ReceiveEvent(t *testing.T) {
	h := newHarness(t)
	btn := &button{Object: param.MustObject("button", []param.Parameter{
		{Name: "clicks", Type: param.Integer(), Default: 0},
	})}
	wind := newWind()
	s, tr := h.open("s", btn, wind)

	require.NoError(t, s.ReceiveEvent(h.ctx, domain.Event{ModelID: h.root(s, btn), Name: "click"}))
	h.sched.Tick(h.ctx)
	assert.Equal(t, 1, btn.clicks)
	assert.Equal(t, []domain.Patch{{ModelID: h.root(s, btn), Property: "clicks", Value: 1}}, tr.Patches())

	err := s.ReceiveEvent(h.ctx, domain.Event{ModelID: h.root(s, wind), Name: "click"})
	assert.ErrorIs(t, err, session.ErrUnhandledEvent)
	err = s.ReceiveEvent(h.ctx, domain.Event{ModelID: "ghost", Name: "click"})
	assert.ErrorIs(t, err, domain.ErrUnknownProperty)
}

type forecast struct {
	*param.Object
	graph    *depgraph.Graph
	computes int
}

func (f *forecast) Graph() *depgraph.Graph { return f.graph }

func TestSession_ComputedRecomputesOncePerTick(t *testing.T) {
	h := newHarness(t)
	f := &forecast{Object: newWind()}
	g, err := depgraph.New(f.Object, depgraph.WithDeferrer(h.sched))
	require.NoError(t, err)
	g.MustDependsOn("summary", func(in map[string]any) (any, error) {
		f.computes++
		return fmt.Sprintf("%v kt from %v", in["speed"], in["wind_direction"]), nil
	}, "speed", "wind_direction")
	f.graph = g

	s, tr := h.open("s", f)
	require.Equal(t, 1, f.computes)

	_ = h.sched.ScheduleCallback(func(context.Context) error {
		if err := f.Set("speed", 11.4); err != nil {
			return err
		}
		return f.Set("wind_direction", "W")
	})
	h.sched.Tick(h.ctx)

	assert.Equal(t, 2, f.computes, "one recomputation for two input changes")
	id := h.root(s, f)
	assert.Contains(t, tr.Patches(), domain.Patch{ModelID: id, Property: "summary", Value: "11.4 kt from W"})

	err = s.ReceivePatch(h.ctx, domain.Patch{ModelID: id, Property: "summary", Value: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegistry(t *testing.T) {
	h := newHarness(t)
	h.open("b")
	h.open("a")

	assert.Equal(t, []string{"a", "b"}, h.registry.List())
	s, err := h.registry.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", s.ID())

	var seen []string
	h.registry.Range(func(s *session.Session) bool {
		seen = append(seen, s.ID())
		return false
	})
	assert.Equal(t, []string{"a"}, seen)

	_, err = session.New("a", memory.NewTransport(1), h.sched, session.WithRegistry(h.registry))
	assert.Error(t, err, "duplicate id")

	anon, err := session.New("", memory.NewTransport(1), h.sched)
	require.NoError(t, err)
	assert.NotEmpty(t, anon.ID())
}
