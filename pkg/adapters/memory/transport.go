package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/tether/pkg/domain"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("memory transport closed")

// Transport implements ports.Transport by recording every batch.
// It is meant for tests and for embedding the engine in-process.
// Safe for concurrent use.
type Transport struct {
	mu      sync.Mutex
	batches []domain.Batch
	closed  bool
	fail    error
	sent    chan domain.Batch
}

// NewTransport creates a recording transport. Sent batches are also published
// on the channel returned by Sent, which holds up to buffer batches; further
// batches are only recorded.
func NewTransport(buffer int) *Transport {
	return &Transport{sent: make(chan domain.Batch, buffer)}
}

// Send records the batch, or fails with the error set by FailWith.
func (t *Transport) Send(ctx context.Context, b domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if t.fail != nil {
		return t.fail
	}
	t.batches = append(t.batches, b)
	select {
	case t.sent <- b:
	default:
	}
	return nil
}

// Close marks the transport closed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// FailWith makes every following Send return err. A nil err restores delivery.
func (t *Transport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

// Sent returns the channel of delivered batches.
func (t *Transport) Sent() <-chan domain.Batch { return t.sent }

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Batches returns a copy of every recorded batch.
func (t *Transport) Batches() []domain.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Batch(nil), t.batches...)
}

// Messages returns every recorded message of the given type, in order.
func (t *Transport) Messages(typ domain.MessageType) []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Message
	for _, b := range t.batches {
		for _, m := range b.Messages {
			if m.Type == typ {
				out = append(out, m)
			}
		}
	}
	return out
}

// Patches returns every recorded outbound patch, in order.
func (t *Transport) Patches() []domain.Patch {
	msgs := t.Messages(domain.MessagePatch)
	out := make([]domain.Patch, len(msgs))
	for i, m := range msgs {
		out[i] = m.AsPatch()
	}
	return out
}

// Reset forgets the recorded batches.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches = nil
}
