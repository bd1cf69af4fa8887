package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aretw0/tether/pkg/domain"
)

// ErrSlowConsumer is returned by Stream.Send when the client does not keep
// up. The session closes and the client has to reconnect.
var ErrSlowConsumer = errors.New("event stream buffer full")

// Stream is the transport behind one server-sent events connection.
type Stream struct {
	batches chan domain.Batch
	done    chan struct{}
	once    sync.Once
}

// NewStream creates a stream holding up to buffer unsent batches.
func NewStream(buffer int) *Stream {
	return &Stream{batches: make(chan domain.Batch, buffer), done: make(chan struct{})}
}

// Send implements ports.Transport. It never blocks the loop.
func (st *Stream) Send(ctx context.Context, b domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-st.done:
		return domain.ErrSessionClosed
	default:
	}
	select {
	case st.batches <- b:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close implements ports.Transport.
func (st *Stream) Close() error {
	st.once.Do(func() { close(st.done) })
	return nil
}

// Done is closed once the session releases the stream.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Batches delivers the queued batches.
func (st *Stream) Batches() <-chan domain.Batch { return st.batches }

// SubscribeEvents handles GET /events. It opens a session whose batches are
// written as "batch" events until the client disconnects or the session
// closes. Inbound messages go to POST /sessions/{id}/messages.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: streaming not supported")
		return
	}

	ctx := r.Context()
	st := NewStream(s.buffer)
	sess, err := s.Engine.Connect(ctx, r.URL.Query().Get("session"), st)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id := sess.ID()
	log := s.logger.With("session_id", id)
	log.Info("SSE: session opened")
	defer func() {
		if err := s.Engine.Disconnect(context.WithoutCancel(ctx), id); err != nil {
			log.Warn("SSE: disconnect failed", "err", err)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			log.Info("SSE: client disconnected")
			return
		case b := <-st.Batches():
			if err := writeBatch(w, b); err != nil {
				log.Error("SSE: cannot encode batch", "seq", b.Seq, "err", err)
				continue
			}
			flusher.Flush()
		case <-st.Done():
			// Drain what the session queued before closing.
			for {
				select {
				case b := <-st.Batches():
					_ = writeBatch(w, b)
				default:
					fmt.Fprintf(w, "event: close\ndata: %s\n\n", id)
					flusher.Flush()
					return
				}
			}
		}
	}
}

func writeBatch(w http.ResponseWriter, b domain.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: batch\nid: %d\ndata: %s\n\n", b.Seq, data)
	return err
}
