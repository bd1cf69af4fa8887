package param

import (
	"errors"
	"testing"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWind(t *testing.T, opts ...Option) *Object {
	t.Helper()
	obj, err := NewObject("wind", []Parameter{
		{Name: "speed", Type: Number(Between(0, 100)), Default: 8.6},
		{Name: "direction", Type: Selector("N", "E", "S", "W"), Default: "N"},
		{Name: "label", Type: String(), Default: nil, AllowNone: true},
		{Name: "gusts", Type: Integer(AtLeast(0)), Default: 0},
		{Name: "measured", Type: Boolean(), Default: false, Readonly: true},
	}, opts...)
	require.NoError(t, err)
	return obj
}

func TestNewObject_RejectsInvalidDefault(t *testing.T) {
	_, err := NewObject("bad", []Parameter{
		{Name: "speed", Type: Number(Between(0, 10)), Default: 11.0},
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))

	_, err = NewObject("dup", []Parameter{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)
}

func TestSetGet_RoundTrip(t *testing.T) {
	obj := newWind(t)

	cases := map[string]any{
		"speed":     11.4,
		"direction": "W",
		"label":     "north shore",
		"gusts":     3,
	}
	for name, v := range cases {
		require.NoError(t, obj.Set(name, v), name)
		got, err := obj.Get(name)
		require.NoError(t, err)
		assert.Equal(t, v, got, name)
	}

	require.NoError(t, obj.Set("label", nil))
	got, _ := obj.Get("label")
	assert.Nil(t, got)
}

func TestSet_StoresTypeRepresentation(t *testing.T) {
	obj := newWind(t)
	var seen any
	_, err := obj.Watch([]string{"speed"}, func(cs []Change) error { seen = cs[0].New; return nil }, ModeValue)
	require.NoError(t, err)

	require.NoError(t, obj.Set("speed", 50))
	got, _ := obj.Get("speed")
	assert.Equal(t, 50.0, got)
	assert.Equal(t, 50.0, seen, "watchers receive the stored value")

	require.NoError(t, obj.Set("gusts", 10.0))
	got, _ = obj.Get("gusts")
	assert.Equal(t, 10, got)
	require.NoError(t, obj.Set("gusts", int64(4)))
	got, _ = obj.Get("gusts")
	assert.Equal(t, 4, got)
	assert.Error(t, obj.Set("gusts", 2.5))

	require.NoError(t, obj.Update(map[string]any{"speed": int32(12), "gusts": 7.0}))
	got, _ = obj.Get("speed")
	assert.Equal(t, 12.0, got)
	got, _ = obj.Get("gusts")
	assert.Equal(t, 7, got)

	def, err := NewObject("defaults", []Parameter{{Name: "level", Type: Number(), Default: 3}})
	require.NoError(t, err)
	got, _ = def.Get("level")
	assert.Equal(t, 3.0, got)
	p, _ := def.Lookup("level")
	assert.Equal(t, 3.0, p.Default)
}

func TestSet_InvalidLeavesValueUnchanged(t *testing.T) {
	obj := newWind(t)
	calls := 0
	_, err := obj.Watch(nil, func([]Change) error { calls++; return nil }, ModeTriggered)
	require.NoError(t, err)

	invalid := map[string]any{
		"speed":     150.0,
		"direction": "NE",
		"gusts":     nil,
		"measured":  true, // readonly
	}
	for name, v := range invalid {
		before, _ := obj.Get(name)
		err := obj.Set(name, v)
		require.Error(t, err, name)

		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve), name)
		assert.Equal(t, "wind", ve.Object)
		assert.Equal(t, name, ve.Key)

		after, _ := obj.Get(name)
		assert.Equal(t, before, after, name)
	}
	assert.Zero(t, calls, "watchers must not run for rejected assignments")
}

func TestGet_UnknownParameter(t *testing.T) {
	obj := newWind(t)
	_, err := obj.Get("altitude")
	assert.ErrorIs(t, err, domain.ErrUnknownParameter)
	assert.ErrorIs(t, obj.Set("altitude", 1), domain.ErrUnknownParameter)
}

func TestWatch_RegistrationOrderAndModes(t *testing.T) {
	obj := newWind(t)
	var order []string
	var oldSeen, newSeen any

	_, err := obj.Watch([]string{"speed"}, func(cs []Change) error {
		order = append(order, "value")
		assert.Nil(t, cs[0].Old)
		return nil
	}, ModeValue)
	require.NoError(t, err)
	_, err = obj.Watch([]string{"speed"}, func(cs []Change) error {
		order = append(order, "value_and_old")
		oldSeen, newSeen = cs[0].Old, cs[0].New
		return nil
	}, ModeValueAndOld)
	require.NoError(t, err)
	_, err = obj.Watch([]string{"speed"}, func(cs []Change) error {
		order = append(order, "triggered")
		return nil
	}, ModeTriggered)
	require.NoError(t, err)

	require.NoError(t, obj.Set("speed", 11.4))
	assert.Equal(t, []string{"value", "value_and_old", "triggered"}, order)
	assert.Equal(t, 8.6, oldSeen)
	assert.Equal(t, 11.4, newSeen)

	// Same value: only the triggered watcher fires.
	order = nil
	require.NoError(t, obj.Set("speed", 11.4))
	assert.Equal(t, []string{"triggered"}, order)

	// Trigger reaches every mode.
	order = nil
	require.NoError(t, obj.Trigger("speed"))
	assert.Equal(t, []string{"value", "value_and_old", "triggered"}, order)
}

func TestWatch_ReaderSeesUpdatedValue(t *testing.T) {
	obj := newWind(t)
	var seen any
	_, err := obj.Watch([]string{"speed"}, func([]Change) error {
		seen, _ = obj.Get("speed")
		return nil
	}, ModeValue)
	require.NoError(t, err)

	require.NoError(t, obj.Set("speed", 50.0))
	assert.Equal(t, 50.0, seen)
}

func TestUnwatch_Idempotent(t *testing.T) {
	obj := newWind(t)
	calls := 0
	sub, err := obj.Watch([]string{"gusts"}, func([]Change) error { calls++; return nil }, ModeValue)
	require.NoError(t, err)

	require.NoError(t, obj.Set("gusts", 1))
	sub.Cancel()
	sub.Cancel()
	obj.Unwatch(sub)
	require.NoError(t, obj.Set("gusts", 2))

	assert.Equal(t, 1, calls)
	assert.False(t, sub.Active())
	assert.Zero(t, obj.Watchers())
}

func TestUnwatch_DuringDispatch(t *testing.T) {
	obj := newWind(t)
	var second *Subscription
	calls := 0
	_, err := obj.Watch([]string{"gusts"}, func([]Change) error {
		second.Cancel()
		return nil
	}, ModeValue)
	require.NoError(t, err)
	second, err = obj.Watch([]string{"gusts"}, func([]Change) error { calls++; return nil }, ModeValue)
	require.NoError(t, err)

	require.NoError(t, obj.Set("gusts", 5))
	assert.Zero(t, calls, "a watcher removed mid-dispatch must not fire")
}

func TestWatch_ErrorsAreJoined(t *testing.T) {
	obj := newWind(t)
	errA, errB := errors.New("a"), errors.New("b")
	_, _ = obj.Watch([]string{"gusts"}, func([]Change) error { return errA }, ModeValue)
	_, _ = obj.Watch([]string{"gusts"}, func([]Change) error { return errB }, ModeValue)

	err := obj.Set("gusts", 4)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	got, _ := obj.Get("gusts")
	assert.Equal(t, 4, got, "the assignment is kept")
}

func TestRecursionLimit(t *testing.T) {
	obj := newWind(t, WithMaxDepth(8))
	_, err := obj.Watch([]string{"gusts"}, func(cs []Change) error {
		return obj.Set("gusts", cs[0].New.(int)+1)
	}, ModeValue)
	require.NoError(t, err)

	err = obj.Set("gusts", 1)
	require.Error(t, err)
	assert.True(t, domain.IsRecursionError(err))

	var rle *domain.RecursionLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 8, rle.Depth)

	// State is that of the last successful assignment.
	got, _ := obj.Get("gusts")
	assert.Equal(t, 9, got)
}

func TestRecursionLimit_AcrossObjects(t *testing.T) {
	a := MustObject("a", []Parameter{{Name: "n", Type: Integer(), Default: 0}})
	b := MustObject("b", []Parameter{{Name: "n", Type: Integer(), Default: 0}})
	_, _ = a.Watch(nil, func(cs []Change) error { return b.Set("n", cs[0].New.(int)+1) }, ModeValue)
	_, _ = b.Watch(nil, func(cs []Change) error { return a.Set("n", cs[0].New.(int)+1) }, ModeValue)

	err := a.Set("n", 1)
	assert.True(t, domain.IsRecursionError(err))
}

func TestBatch_DispatchesOnce(t *testing.T) {
	obj := newWind(t)
	var got [][]Change
	_, _ = obj.Watch([]string{"speed", "direction"}, func(cs []Change) error {
		got = append(got, cs)
		return nil
	}, ModeValueAndOld)

	err := obj.Batch(func() error {
		require.NoError(t, obj.Set("speed", 20.0))
		require.NoError(t, obj.Set("direction", "S"))
		require.NoError(t, obj.Set("speed", 30.0))
		assert.Empty(t, got, "no dispatch inside the batch")
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.Len(t, got[0], 2)
	assert.Equal(t, "speed", got[0][0].Name)
	assert.Equal(t, 8.6, got[0][0].Old)
	assert.Equal(t, 30.0, got[0][0].New)
	assert.Equal(t, "S", got[0][1].New)
}

func TestBatch_PanicDropsPendingChanges(t *testing.T) {
	obj := newWind(t)
	var got []any
	_, _ = obj.Watch([]string{"speed"}, func(cs []Change) error {
		got = append(got, cs[0].New)
		return nil
	}, ModeValue)

	assert.Panics(t, func() {
		_ = obj.Batch(func() error {
			require.NoError(t, obj.Set("speed", 20.0))
			panic("boom")
		})
	})
	v, _ := obj.Get("speed")
	assert.Equal(t, 20.0, v, "assignments made before the panic stay")

	require.NoError(t, obj.Set("speed", 30.0))
	assert.Equal(t, []any{30.0}, got, "watchers run again once the batch unwound")

	// A panic in a nested batch leaves the outer one collecting.
	err := obj.Batch(func() error {
		require.NoError(t, obj.Set("speed", 40.0))
		assert.Panics(t, func() {
			_ = obj.Batch(func() error { panic("inner") })
		})
		require.NoError(t, obj.Set("speed", 50.0))
		assert.Len(t, got, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{30.0, 50.0}, got)
}

func TestUpdate_AllOrNothing(t *testing.T) {
	obj := newWind(t)
	calls := 0
	_, _ = obj.Watch(nil, func([]Change) error { calls++; return nil }, ModeValue)

	err := obj.Update(map[string]any{"speed": 40.0, "direction": "X"})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
	speed, _ := obj.Get("speed")
	assert.Equal(t, 8.6, speed)
	assert.Zero(t, calls)

	require.NoError(t, obj.Update(map[string]any{"speed": 40.0, "direction": "E"}))
	assert.Equal(t, 1, calls)
}

func TestDiscard_SilencesWatchers(t *testing.T) {
	obj := newWind(t)
	calls := 0
	_, _ = obj.Watch(nil, func([]Change) error { calls++; return nil }, ModeTriggered)

	require.NoError(t, obj.Discard(func() error { return obj.Set("speed", 1.0) }))
	assert.Zero(t, calls)
	v, _ := obj.Get("speed")
	assert.Equal(t, 1.0, v)
}

func TestEditReadonly(t *testing.T) {
	obj := newWind(t)
	require.Error(t, obj.Set("measured", true))
	require.NoError(t, obj.EditReadonly(func() error { return obj.Set("measured", true) }))
	v, _ := obj.Get("measured")
	assert.Equal(t, true, v)
	require.Error(t, obj.Set("measured", false), "edit window closes after fn returns")
}

func TestDecode(t *testing.T) {
	obj := newWind(t)
	require.NoError(t, obj.Set("gusts", 2))

	var s struct {
		Speed     float64 `param:"speed"`
		Direction string  `param:"direction"`
		Gusts     int     `param:"gusts"`
	}
	require.NoError(t, obj.Decode(&s))
	assert.Equal(t, 8.6, s.Speed)
	assert.Equal(t, "N", s.Direction)
	assert.Equal(t, 2, s.Gusts)
}

func TestParametersAndLookup(t *testing.T) {
	obj := newWind(t)
	assert.Equal(t, []string{"speed", "direction", "label", "gusts", "measured"}, obj.Names())

	p, ok := obj.Lookup("measured")
	require.True(t, ok)
	assert.True(t, p.Readonly)

	_, ok = obj.Lookup("nope")
	assert.False(t, ok)
	assert.Len(t, obj.Parameters(), 5)
}
