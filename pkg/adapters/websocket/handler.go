// Package websocket serves tether sessions over websocket connections.
//
// Every connection is one session. The server writes domain.Batch frames; the
// peer writes domain.Message frames of type "patch" or "event".
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/session"
	xws "golang.org/x/net/websocket"
)

// Engine is the part of the application a connection talks to.
type Engine interface {
	Connect(ctx context.Context, id string, transport ports.Transport) (*session.Session, error)
	Deliver(ctx context.Context, sessionID string, msg domain.Message) error
	Disconnect(ctx context.Context, sessionID string) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithSessionParam sets the query parameter carrying the requested session
// id. Defaults to "session". Without it the engine picks an id.
func WithSessionParam(name string) Option {
	return func(h *Handler) { h.param = name }
}

// WithWriteTimeout bounds each batch written to a connection. Defaults to
// DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

// Handler upgrades requests to websocket connections and runs one session per
// connection until the peer goes away.
type Handler struct {
	engine       Engine
	logger       *slog.Logger
	param        string
	writeTimeout time.Duration
	ws           xws.Handler
}

// NewHandler creates a websocket handler for engine.
func NewHandler(engine Engine, opts ...Option) *Handler {
	h := &Handler{engine: engine, logger: logging.NewNop(), param: "session", writeTimeout: DefaultWriteTimeout}
	for _, opt := range opts {
		opt(h)
	}
	h.ws = xws.Handler(h.serve)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.ws.ServeHTTP(w, r)
}

func (h *Handler) serve(conn *xws.Conn) {
	req := conn.Request()
	ctx := req.Context()
	tr := NewTransport(conn, WithTransportWriteTimeout(h.writeTimeout))
	defer tr.Close()

	s, err := h.engine.Connect(ctx, req.URL.Query().Get(h.param), tr)
	if err != nil {
		h.logger.Warn("websocket session refused", "remote", req.RemoteAddr, "err", err)
		return
	}
	id := s.ID()
	log := h.logger.With("session_id", id)
	log.Info("websocket session opened", "remote", req.RemoteAddr)
	defer func() {
		if err := h.engine.Disconnect(context.WithoutCancel(ctx), id); err != nil {
			log.Warn("disconnect failed", "err", err)
		}
		log.Info("websocket session closed")
	}()

	for {
		var msg domain.Message
		if err := xws.JSON.Receive(conn, &msg); err != nil {
			if isFrameError(err) {
				log.Warn("malformed frame", "err", err)
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Debug("websocket read stopped", "err", err)
			}
			return
		}
		if err := h.engine.Deliver(ctx, id, msg); err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionClosed) {
				return
			}
			log.Warn("inbound message rejected", "type", msg.Type, "model_id", msg.ModelID, "err", err)
		}
	}
}

// isFrameError reports whether err came from decoding one frame, leaving the
// connection usable.
func isFrameError(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syntax) || errors.As(err, &typ)
}
