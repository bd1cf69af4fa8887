package session

import (
	"testing"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func values(msgs []domain.Message) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		if m.Type == domain.MessagePatch {
			out[i] = m.Value
		} else {
			out[i] = string(m.Type)
		}
	}
	return out
}

func TestOutbox_Coalesce(t *testing.T) {
	o := NewOutbox()
	o.Add(domain.Patch{ModelID: "m1", Property: "speed", Value: 1.0})
	o.Add(domain.Patch{ModelID: "m1", Property: "direction", Value: "N"})
	o.Add(domain.Patch{ModelID: "m1", Property: "speed", Value: 2.0})
	o.Add(domain.Patch{ModelID: "m2", Property: "speed", Value: 3.0})

	assert.Equal(t, 3, o.Len())
	assert.Equal(t, []any{2.0, "N", 3.0}, values(o.Take()), "last value wins at the first position")
	assert.Zero(t, o.Len())

	o.Add(domain.Patch{ModelID: "m1", Property: "speed", Value: 4.0})
	assert.Equal(t, []any{4.0}, values(o.Take()), "index is cleared by Take")
}

func TestOutbox_KeepAllAndControlMessages(t *testing.T) {
	o := NewOutbox()
	o.AddMessage(domain.Message{Type: domain.MessageAttach})
	o.Add(domain.Patch{ModelID: "log", Property: "line", Value: "a", KeepAll: true})
	o.Add(domain.Patch{ModelID: "log", Property: "line", Value: "b", KeepAll: true})

	assert.Equal(t, []any{"attach", "a", "b"}, values(o.Take()))
}

func TestOutbox_Drop(t *testing.T) {
	o := NewOutbox()
	o.Add(domain.Patch{ModelID: "gone", Property: "speed", Value: 1.0})
	o.Add(domain.Patch{ModelID: "kept", Property: "speed", Value: 2.0})
	o.AddMessage(domain.Message{Type: domain.MessageDetach, Roots: []string{"gone"}})

	o.Drop(map[string]bool{"gone": true})
	assert.Equal(t, 2, o.Len())

	// Coalescing still targets the surviving entry.
	o.Add(domain.Patch{ModelID: "kept", Property: "speed", Value: 5.0})
	assert.Equal(t, []any{5.0, "detach"}, values(o.Take()))

	o.Add(domain.Patch{ModelID: "kept", Property: "speed", Value: 6.0})
	o.Reset()
	assert.Zero(t, o.Len())
}

func TestOutbox_Remove(t *testing.T) {
	o := NewOutbox()
	o.Add(domain.Patch{ModelID: "m1", Property: "speed", Value: 1.0})
	o.Add(domain.Patch{ModelID: "log", Property: "line", Value: "a", KeepAll: true})
	o.Add(domain.Patch{ModelID: "m1", Property: "direction", Value: "N"})
	o.Add(domain.Patch{ModelID: "log", Property: "line", Value: "b", KeepAll: true})

	assert.Equal(t, 1, o.Remove("m1", "speed"))
	assert.Zero(t, o.Remove("m1", "speed"))

	// The index follows the shifted entries; KeepAll entries stay unindexed.
	o.Add(domain.Patch{ModelID: "m1", Property: "direction", Value: "S"})
	o.Add(domain.Patch{ModelID: "log", Property: "line", Value: "c", KeepAll: true})
	assert.Equal(t, []any{"a", "S", "b", "c"}, values(o.Take()))

	o.Add(domain.Patch{ModelID: "log", Property: "line", Value: "x", KeepAll: true})
	o.Add(domain.Patch{ModelID: "log", Property: "line", Value: "y", KeepAll: true})
	assert.Equal(t, 2, o.Remove("log", "line"))
	assert.Zero(t, o.Len())
}
