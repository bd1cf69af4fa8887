// Package mcp exposes the live sessions of a tether application as Model
// Context Protocol tools, so agents can inspect and drive parameters.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Engine is the application surface exposed as tools. *tether.App
// implements it.
type Engine interface {
	Name() string
	Sessions() []string
	Describe(ctx context.Context, sessionID string) (tether.SessionInfo, error)
	GetParam(ctx context.Context, sessionID, modelID, property string) (any, error)
	SetParam(ctx context.Context, sessionID, modelID, property string, value any) error
	Deliver(ctx context.Context, sessionID string, msg domain.Message) error
}

// ParamResult is the structured result of get_param and set_param.
type ParamResult struct {
	Session  string `json:"session" jsonschema_description:"Session id"`
	Model    string `json:"model" jsonschema_description:"Model id"`
	Property string `json:"property" jsonschema_description:"Model property"`
	Value    any    `json:"value" jsonschema_description:"Current value"`
}

// SessionList is the structured result of list_sessions.
type SessionList struct {
	Sessions []string `json:"sessions" jsonschema_description:"Live session ids"`
}

type sessionArgs struct {
	Session string `json:"session"`
}

type paramArgs struct {
	Session  string `json:"session"`
	Model    string `json:"model"`
	Property string `json:"property"`
	Value    string `json:"value,omitempty"`
}

type eventArgs struct {
	Session string `json:"session"`
	Model   string `json:"model"`
	Event   string `json:"event"`
	Data    string `json:"data,omitempty"`
}

// Server wraps the engine as an MCP server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates an MCP server for engine.
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer(engine.Name()+"-mcp", tether.Version),
		logger:    logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr until ctx is canceled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List the ids of the live sessions."),
		mcp.WithOutputSchema[SessionList](),
	), mcp.NewStructuredToolHandler(s.handleListSessions))

	s.mcpServer.AddTool(mcp.NewTool("describe_session",
		mcp.WithDescription("Show the state and model tree of a session."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
	), s.handleDescribe)

	s.mcpServer.AddTool(mcp.NewTool("get_param",
		mcp.WithDescription("Read the value behind a model property."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model id, see describe_session")),
		mcp.WithString("property", mcp.Required(), mcp.Description("Model property")),
		mcp.WithOutputSchema[ParamResult](),
	), mcp.NewStructuredToolHandler(s.handleGetParam))

	s.mcpServer.AddTool(mcp.NewTool("set_param",
		mcp.WithDescription("Assign the parameter behind a model property. Every session showing it is updated."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model id, see describe_session")),
		mcp.WithString("property", mcp.Required(), mcp.Description("Model property")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON encoded value; bare text is taken as a string")),
		mcp.WithOutputSchema[ParamResult](),
	), mcp.NewStructuredToolHandler(s.handleSetParam))

	s.mcpServer.AddTool(mcp.NewTool("send_event",
		mcp.WithDescription("Send a model event (e.g. a button click) as if the browser had."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model id")),
		mcp.WithString("event", mcp.Required(), mcp.Description("Event name")),
		mcp.WithString("data", mcp.Description("JSON object of event data")),
	), s.handleSendEvent)
}

func (s *Server) handleListSessions(ctx context.Context, _ mcp.CallToolRequest, _ map[string]any) (SessionList, error) {
	return SessionList{Sessions: s.engine.Sessions()}, nil
}

func (s *Server) handleDescribe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args sessionArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := s.engine.Describe(ctx, args.Session)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("describe failed: %v", err)), nil
	}
	jsonBytes, _ := json.Marshal(info)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetParam(ctx context.Context, _ mcp.CallToolRequest, args paramArgs) (ParamResult, error) {
	v, err := s.engine.GetParam(ctx, args.Session, args.Model, args.Property)
	if err != nil {
		return ParamResult{}, fmt.Errorf("get_param failed: %w", err)
	}
	return ParamResult{Session: args.Session, Model: args.Model, Property: args.Property, Value: v}, nil
}

func (s *Server) handleSetParam(ctx context.Context, _ mcp.CallToolRequest, args paramArgs) (ParamResult, error) {
	value := decodeValue(args.Value)
	if err := s.engine.SetParam(ctx, args.Session, args.Model, args.Property, value); err != nil {
		s.logger.Warn("MCP set_param rejected", "session_id", args.Session, "property", args.Property, "err", err)
		return ParamResult{}, fmt.Errorf("set_param failed: %w", err)
	}
	return s.handleGetParam(ctx, mcp.CallToolRequest{}, args)
}

func (s *Server) handleSendEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args eventArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg := domain.Message{Type: domain.MessageEvent, ModelID: args.Model, Event: args.Event}
	if args.Data != "" {
		if err := json.Unmarshal([]byte(args.Data), &msg.Data); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("data must be a JSON object: %v", err)), nil
		}
	}
	if err := s.engine.Deliver(ctx, args.Session, msg); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("send_event failed: %v", err)), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

// decodeValue reads a JSON value, falling back to the raw text.
func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("tether://sessions", "Live sessions",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		infos := []tether.SessionInfo{}
		for _, id := range s.engine.Sessions() {
			info, err := s.engine.Describe(ctx, id)
			if err != nil {
				continue
			}
			infos = append(infos, info)
		}
		jsonBytes, err := json.Marshal(infos)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "tether://sessions",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
