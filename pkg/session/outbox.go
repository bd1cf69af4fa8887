package session

import "github.com/aretw0/tether/pkg/domain"

type propKey struct {
	model    string
	property string
}

// Outbox holds the messages waiting for the next flush of one session.
//
// Patches to the same (model, property) coalesce: the last value wins and
// keeps the position of the first write. Patches flagged KeepAll and control
// messages are appended as they come.
type Outbox struct {
	msgs  []domain.Message
	keyed []bool // msgs[i] coalesces through index
	index map[propKey]int
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{index: make(map[propKey]int)}
}

// Add queues a patch.
func (o *Outbox) Add(p domain.Patch) {
	m := domain.PatchMessage(p)
	if p.KeepAll {
		o.msgs = append(o.msgs, m)
		o.keyed = append(o.keyed, false)
		return
	}
	k := propKey{p.ModelID, p.Property}
	if i, ok := o.index[k]; ok {
		// Nested models carried by an overwritten patch are no longer referenced.
		o.msgs[i] = m
		return
	}
	o.index[k] = len(o.msgs)
	o.msgs = append(o.msgs, m)
	o.keyed = append(o.keyed, true)
}

// AddMessage queues a control message (attach, detach).
func (o *Outbox) AddMessage(m domain.Message) {
	o.msgs = append(o.msgs, m)
	o.keyed = append(o.keyed, false)
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int { return len(o.msgs) }

// Take returns the queued messages and empties the outbox.
func (o *Outbox) Take() []domain.Message {
	out := o.msgs
	o.Reset()
	return out
}

// Reset discards every queued message.
func (o *Outbox) Reset() {
	o.msgs = nil
	o.keyed = nil
	clear(o.index)
}

// Drop discards the patches of the given models.
func (o *Outbox) Drop(modelIDs map[string]bool) {
	if len(modelIDs) == 0 {
		return
	}
	o.filter(func(m domain.Message) bool { return modelIDs[m.ModelID] })
}

// Remove discards every queued patch of one model property and reports how
// many were dropped.
func (o *Outbox) Remove(modelID, property string) int {
	return o.filter(func(m domain.Message) bool { return m.ModelID == modelID && m.Property == property })
}

// filter drops the patches matched by drop and rebuilds the index.
func (o *Outbox) filter(drop func(domain.Message) bool) int {
	if len(o.msgs) == 0 {
		return 0
	}
	msgs, keyed := o.msgs[:0], o.keyed[:0]
	clear(o.index)
	for i, m := range o.msgs {
		if m.Type == domain.MessagePatch && drop(m) {
			continue
		}
		if o.keyed[i] {
			o.index[propKey{m.ModelID, m.Property}] = len(msgs)
		}
		msgs = append(msgs, m)
		keyed = append(keyed, o.keyed[i])
	}
	n := len(o.msgs) - len(msgs)
	o.msgs, o.keyed = msgs, keyed
	return n
}
