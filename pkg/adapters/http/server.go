// Package http exposes a tether application over HTTP: a JSON API described
// by the embedded OpenAPI document, a server-sent events stream per session
// and the websocket endpoint.
package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/adapters/websocket"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/session"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
)

//go:embed openapi.yaml
var rawSpec []byte

// Engine is the application surface served over HTTP. *tether.App
// implements it.
type Engine interface {
	websocket.Engine
	Name() string
	Sessions() []string
	Describe(ctx context.Context, sessionID string) (tether.SessionInfo, error)
	GetParam(ctx context.Context, sessionID, modelID, property string) (any, error)
	SetParam(ctx context.Context, sessionID, modelID, property string, value any) error
}

var _ Engine = (*tether.App)(nil)

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithStreamBuffer sets how many batches an event stream holds for a slow
// client before the session is closed. Defaults to 64.
func WithStreamBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// Server serves one engine.
type Server struct {
	Engine Engine

	doc     *openapi3.T
	metrics http.Handler
	buffer  int
	logger  *slog.Logger
}

// LoadSpec parses and validates the embedded OpenAPI document.
func LoadSpec(ctx context.Context) (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi spec: %w", err)
	}
	return doc, nil
}

// NewHandler creates the HTTP handler for engine.
func NewHandler(engine Engine, opts ...Option) (http.Handler, error) {
	doc, err := LoadSpec(context.Background())
	if err != nil {
		return nil, err
	}
	s := &Server{Engine: engine, doc: doc, buffer: 64, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	validate, err := requestValidator(doc, s.logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(swaggerHTML))
	})
	r.Handle("/ws", websocket.NewHandler(engine, websocket.WithLogger(s.logger)))
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(validate)
		r.Get("/health", s.GetHealth)
		r.Get("/info", s.GetInfo)
		r.Get("/events", s.SubscribeEvents)
		r.Get("/sessions", s.ListSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.DescribeSession)
			r.Delete("/", s.CloseSession)
			r.Post("/messages", s.PostMessage)
			r.Get("/models/{model}/{property}", s.GetParam)
			r.Put("/models/{model}/{property}", s.SetParam)
		})
	})
	return enableCORS(r), nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Tether API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         s.Engine.Name(),
		"version":     tether.Version,
		"api_version": s.doc.Info.Version,
	})
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Sessions())
}

// DescribeSession handles GET /sessions/{id}.
func (s *Server) DescribeSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.Engine.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// CloseSession handles DELETE /sessions/{id}.
func (s *Server) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Disconnect(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostMessage handles POST /sessions/{id}/messages.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.Engine.Deliver(r.Context(), chi.URLParam(r, "id"), msg); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type valueBody struct {
	Value any `json:"value"`
}

// GetParam handles GET /sessions/{id}/models/{model}/{property}.
func (s *Server) GetParam(w http.ResponseWriter, r *http.Request) {
	v, err := s.Engine.GetParam(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "model"), chi.URLParam(r, "property"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, valueBody{Value: v})
}

// SetParam handles PUT /sessions/{id}/models/{model}/{property}.
func (s *Server) SetParam(w http.ResponseWriter, r *http.Request) {
	var body valueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	err := s.Engine.SetParam(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "model"), chi.URLParam(r, "property"), body.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrUnknownProperty):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, session.ErrUnhandledEvent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "err", err)
	}
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
