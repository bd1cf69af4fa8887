package domain

import (
	"context"
	"time"
)

// EventType defines the category of a lifecycle event.
type EventType string

const (
	EventSessionOpen   EventType = "session_open"
	EventSessionClose  EventType = "session_close"
	EventBatchSent     EventType = "batch_sent"
	EventInboundPatch  EventType = "inbound_patch"
	EventPatchRejected EventType = "patch_rejected"
	EventCallbackError EventType = "callback_error"
	EventTick          EventType = "tick"
)

// EventBase contains common fields for all lifecycle events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
}

// SessionEvent reports a session lifecycle transition.
type SessionEvent struct {
	EventBase
	State  SessionState `json:"state"`
	Reason string       `json:"reason,omitempty"`
}

// BatchEvent reports a flush (one batch sent to one session).
type BatchEvent struct {
	EventBase
	Patches int   `json:"patches"`
	Err     error `json:"-"`
}

// PatchEvent reports an inbound patch, applied or rejected.
type PatchEvent struct {
	EventBase
	ModelID  string `json:"model_id"`
	Property string `json:"property"`
	Err      error  `json:"-"`
}

// CallbackEvent reports a failed callback.
type CallbackEvent struct {
	EventBase
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// TickEvent summarizes one scheduler tick.
type TickEvent struct {
	EventBase
	Callbacks int           `json:"callbacks"`
	Failed    int           `json:"failed"`
	Flushed   int           `json:"flushed"`
	Duration  time.Duration `json:"duration"`
}

// LifecycleHooks defines callbacks for engine observability.
// Any hook may be nil.
type LifecycleHooks struct {
	OnSessionOpen   func(context.Context, *SessionEvent)
	OnSessionClose  func(context.Context, *SessionEvent)
	OnBatchSent     func(context.Context, *BatchEvent)
	OnInboundPatch  func(context.Context, *PatchEvent)
	OnCallbackError func(context.Context, *CallbackEvent)
	OnTick          func(context.Context, *TickEvent)
}

// Merge returns hooks that invoke h first and then other for every event.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnSessionOpen:   chain(h.OnSessionOpen, other.OnSessionOpen),
		OnSessionClose:  chain(h.OnSessionClose, other.OnSessionClose),
		OnBatchSent:     chain(h.OnBatchSent, other.OnBatchSent),
		OnInboundPatch:  chain(h.OnInboundPatch, other.OnInboundPatch),
		OnCallbackError: chain(h.OnCallbackError, other.OnCallbackError),
		OnTick:          chain(h.OnTick, other.OnTick),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
