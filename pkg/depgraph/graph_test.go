package depgraph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueDeferrer struct{ fns []func() }

func (q *queueDeferrer) Defer(fn func()) { q.fns = append(q.fns, fn) }

func (q *queueDeferrer) run() {
	fns := q.fns
	q.fns = nil
	for _, fn := range fns {
		fn()
	}
}

func newHost(t *testing.T) *param.Object {
	t.Helper()
	return param.MustObject("wind", []param.Parameter{
		{Name: "speed", Type: param.Number(param.Between(0, 100)), Default: 8.6},
		{Name: "wind_direction", Type: param.Selector("N", "E", "S", "W"), Default: "N"},
		{Name: "unit", Type: param.String(), Default: "kt"},
	})
}

func TestGraph_LazyRecompute(t *testing.T) {
	host := newHost(t)
	g, err := New(host)
	require.NoError(t, err)

	computes := 0
	require.NoError(t, g.DependsOn("summary", func(in map[string]any) (any, error) {
		computes++
		return fmt.Sprintf("%v %v", in["speed"], in["wind_direction"]), nil
	}, "speed", "wind_direction"))

	assert.True(t, g.Dirty("summary"))
	v, err := g.Get("summary")
	require.NoError(t, err)
	assert.Equal(t, "8.6 N", v)

	_, _ = g.Get("summary")
	assert.Equal(t, 1, computes, "memoized until an input changes")

	require.NoError(t, host.Set("unit", "km/h"))
	assert.False(t, g.Dirty("summary"), "unrelated parameter")

	require.NoError(t, host.Set("speed", 11.4))
	assert.True(t, g.Dirty("summary"))
	assert.Equal(t, 1, computes, "no eager recompute without watchers")

	v, _ = g.Get("summary")
	assert.Equal(t, "11.4 N", v)
	assert.Equal(t, 2, computes)
}

func TestGraph_TransitiveDirty(t *testing.T) {
	host := newHost(t)
	g, _ := New(host)
	g.MustDependsOn("knots", func(in map[string]any) (any, error) { return in["speed"], nil }, "speed")
	g.MustDependsOn("beaufort", func(in map[string]any) (any, error) {
		if in["knots"].(float64) > 10 {
			return 4, nil
		}
		return 3, nil
	}, "knots")
	g.MustDependsOn("label", func(in map[string]any) (any, error) {
		return fmt.Sprintf("B%v", in["beaufort"]), nil
	}, "beaufort")

	v, _ := g.Get("label")
	assert.Equal(t, "B3", v)

	require.NoError(t, host.Set("speed", 12.0))
	for _, n := range []string{"knots", "beaufort", "label"} {
		assert.True(t, g.Dirty(n), n)
	}
	v, _ = g.Get("label")
	assert.Equal(t, "B4", v)
	assert.Equal(t, []string{"beaufort"}, g.Deps("label"))
}

func TestGraph_RejectsUnknownDependency(t *testing.T) {
	g, _ := New(newHost(t))
	err := g.DependsOn("x", func(map[string]any) (any, error) { return nil, nil }, "later")
	assert.ErrorIs(t, err, domain.ErrUnknownParameter)

	err = g.DependsOn("speed", func(map[string]any) (any, error) { return nil, nil })
	assert.Error(t, err, "must not shadow a parameter")
}

func TestGraph_ErrorIsMemoizedAndIsolated(t *testing.T) {
	host := newHost(t)
	g, _ := New(host)
	boom := errors.New("sensor offline")
	calls := 0
	g.MustDependsOn("risky", func(in map[string]any) (any, error) {
		calls++
		if in["speed"].(float64) > 50 {
			return nil, boom
		}
		return "ok", nil
	}, "speed")
	g.MustDependsOn("unit_label", func(in map[string]any) (any, error) { return "in " + in["unit"].(string), nil }, "unit")
	g.MustDependsOn("risky_label", func(in map[string]any) (any, error) { return in["risky"], nil }, "risky")

	require.NoError(t, host.Set("speed", 60.0))

	_, err := g.Get("risky")
	assert.ErrorIs(t, err, boom)
	_, err = g.Get("risky")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	_, err = g.Get("risky_label")
	assert.ErrorIs(t, err, boom, "dependents see the failure")

	v, err := g.Get("unit_label")
	require.NoError(t, err, "unrelated values are unaffected")
	assert.Equal(t, "in kt", v)

	require.NoError(t, host.Set("speed", 10.0))
	v, err = g.Get("risky")
	require.NoError(t, err, "a changed input always recomputes")
	assert.Equal(t, "ok", v)
}

func TestGraph_EagerWithoutDeferrer(t *testing.T) {
	host := newHost(t)
	g, _ := New(host)
	g.MustDependsOn("doubled", func(in map[string]any) (any, error) { return in["speed"].(float64) * 2, nil }, "speed")

	var got []Change
	cancel, err := g.Watch("doubled", func(c Change) { got = append(got, c) })
	require.NoError(t, err)

	require.NoError(t, host.Set("speed", 10.0))
	require.Len(t, got, 1)
	assert.Equal(t, 17.2, got[0].Old)
	assert.Equal(t, 20.0, got[0].New)

	cancel()
	cancel()
	require.NoError(t, host.Set("speed", 11.0))
	assert.Len(t, got, 1)
}

func TestGraph_RecomputesOncePerTick(t *testing.T) {
	host := newHost(t)
	d := &queueDeferrer{}
	g, err := New(host, WithDeferrer(d))
	require.NoError(t, err)

	computes := 0
	g.MustDependsOn("forecast", func(in map[string]any) (any, error) {
		computes++
		return fmt.Sprintf("%v from %v", in["speed"], in["wind_direction"]), nil
	}, "speed", "wind_direction")

	var got []Change
	_, err = g.Watch("forecast", func(c Change) { got = append(got, c) })
	require.NoError(t, err)
	require.Equal(t, 1, computes, "baseline evaluation")

	require.NoError(t, host.Set("speed", 11.4))
	require.NoError(t, host.Set("wind_direction", "W"))
	require.Len(t, d.fns, 1, "one deferred refresh per tick")
	assert.Empty(t, got)

	d.run()
	assert.Equal(t, 2, computes, "recomputed exactly once for both changes")
	require.Len(t, got, 1)
	assert.Equal(t, "11.4 from W", got[0].New)

	// Next tick schedules again.
	require.NoError(t, host.Set("speed", 20.0))
	assert.Len(t, d.fns, 1)
}

func TestGraph_Close(t *testing.T) {
	host := newHost(t)
	g, _ := New(host)
	g.MustDependsOn("s", func(in map[string]any) (any, error) { return in["speed"], nil }, "speed")
	_, _ = g.Get("s")

	g.Close()
	require.NoError(t, host.Set("speed", 1.0))
	assert.False(t, g.Dirty("s"))
	assert.Zero(t, host.Watchers())
}
