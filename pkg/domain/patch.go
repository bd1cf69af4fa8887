package domain

import (
	"encoding/json"
	"reflect"
)

// MessageType identifies the kind of a transport message.
type MessageType string

const (
	MessageInit   MessageType = "init"   // Full model tree, first message of a session
	MessagePatch  MessageType = "patch"  // Property delta (both directions)
	MessageEvent  MessageType = "event"  // Browser-originated model event (inbound only)
	MessageAttach MessageType = "attach" // New root models added to the session
	MessageDetach MessageType = "detach" // Root models removed from the session
)

// ModelSpec is the flat, JSON-compatible representation of a model node.
// Nested models are referenced from Props by {"id": ...} records.
type ModelSpec struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Props map[string]any `json:"props"`
}

// Patch represents a single property change of one model.
// It is designed to be serialized to JSON for partial updates on the client.
type Patch struct {
	ModelID  string `json:"model_id"`
	Property string `json:"property"`
	Value    any    `json:"value"`

	// Models carries the specs of nested models that Value references and the
	// peer has not seen yet.
	Models []ModelSpec `json:"models,omitempty"`

	// KeepAll disables per-tick coalescing for this patch.
	KeepAll bool `json:"-"`
}

// Event represents a browser-originated model event such as a button click.
type Event struct {
	ModelID string         `json:"model_id"`
	Name    string         `json:"event"`
	Data    map[string]any `json:"data,omitempty"`
}

// Message is the envelope exchanged over a transport.
type Message struct {
	Type     MessageType `json:"type"`
	ModelID  string      `json:"model_id,omitempty"`
	Property string      `json:"property,omitempty"`
	Value    any         `json:"value"`

	Event string         `json:"event,omitempty"`
	Data  map[string]any `json:"data,omitempty"`

	Models []ModelSpec `json:"models,omitempty"`
	Roots  []string    `json:"roots,omitempty"`
}

// Batch is the unit a session sends on each flush.
type Batch struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Messages  []Message `json:"messages"`
}

// PatchMessage converts a patch into its wire envelope.
func PatchMessage(p Patch) Message {
	return Message{
		Type:     MessagePatch,
		ModelID:  p.ModelID,
		Property: p.Property,
		Value:    p.Value,
		Models:   p.Models,
	}
}

// AsPatch extracts the patch carried by an inbound message.
func (m Message) AsPatch() Patch {
	return Patch{ModelID: m.ModelID, Property: m.Property, Value: m.Value}
}

// AsEvent extracts the model event carried by an inbound message.
func (m Message) AsEvent() Event {
	return Event{ModelID: m.ModelID, Name: m.Event, Data: m.Data}
}

// Equal reports whether two parameter values should be considered the same
// for change detection. Pointer-like values compare by identity, everything
// else by deep equality.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	case reflect.Slice:
		if ra.Type().Elem().Kind() == reflect.Pointer || ra.Type().Elem().Kind() == reflect.Interface {
			if ra.Len() != rb.Len() {
				return false
			}
			for i := 0; i < ra.Len(); i++ {
				if !Equal(ra.Index(i).Interface(), rb.Index(i).Interface()) {
					return false
				}
			}
			return true
		}
	}
	return reflect.DeepEqual(a, b)
}

// Decode parses a batch from its JSON encoding.
func Decode(data []byte) (Batch, error) {
	var b Batch
	err := json.Unmarshal(data, &b)
	return b, err
}
