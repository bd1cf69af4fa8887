package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	xws "golang.org/x/net/websocket"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("websocket transport closed")

// DefaultWriteTimeout bounds a single batch write when the caller sets no
// earlier deadline.
const DefaultWriteTimeout = 10 * time.Second

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithTransportWriteTimeout bounds every write. Zero or less leaves writes
// bounded only by the context deadline.
func WithTransportWriteTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.writeTimeout = d }
}

// Transport implements ports.Transport over one websocket connection. Each
// batch is written as a single JSON text frame.
type Transport struct {
	mu           sync.Mutex
	conn         *xws.Conn
	writeTimeout time.Duration
	closed       bool
}

// NewTransport wraps conn.
func NewTransport(conn *xws.Conn, opts ...TransportOption) *Transport {
	t := &Transport{conn: conn, writeTimeout: DefaultWriteTimeout}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send writes the batch within the write timeout or the context deadline,
// whichever comes first. A peer that stops reading fails the write instead of
// blocking the caller.
func (t *Transport) Send(ctx context.Context, b domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if err := t.conn.SetWriteDeadline(t.deadline(ctx)); err != nil {
		return err
	}
	return xws.JSON.Send(t.conn, b)
}

// deadline returns the write deadline for one Send; the zero time means none.
func (t *Transport) deadline(ctx context.Context) time.Time {
	var dl time.Time
	if t.writeTimeout > 0 {
		dl = time.Now().Add(t.writeTimeout)
	}
	if cdl, ok := ctx.Deadline(); ok && (dl.IsZero() || cdl.Before(dl)) {
		dl = cdl
	}
	return dl
}

// Close closes the connection. Closing twice is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
