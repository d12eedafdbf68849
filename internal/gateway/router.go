package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/relaygate/pkg/protocol"
)

// HandlerFunc processes one RPC request and responds through the client.
type HandlerFunc func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter dispatches request frames to registered method handlers. It
// enforces authentication and rate limits before any handler runs.
type MethodRouter struct {
	server *Server

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMethodRouter creates a router with the built-in connect method.
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{
		server:   s,
		handlers: make(map[string]HandlerFunc),
	}
	r.Register(protocol.MethodConnect, s.handleConnect)
	return r
}

// Register binds a method name to its handler. Later registrations replace
// earlier ones.
func (r *MethodRouter) Register(method string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = handler
}

// Dispatch routes one request frame to its handler.
func (r *MethodRouter) Dispatch(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	if req.ID == "" || req.Method == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "id and method are required"))
		return
	}

	if !client.Authenticated() && req.Method != protocol.MethodConnect {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "authenticate with connect first"))
		return
	}

	if req.Method != protocol.MethodConnect && !r.server.rateLimiter.Allow() {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrRateLimited, "rate limit exceeded"))
		return
	}

	r.mu.RLock()
	handler, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "unknown method: "+req.Method))
		return
	}

	handler(ctx, client, req)
}

// handleConnect authenticates the client against the gateway token.
func (s *Server) handleConnect(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Token  string `json:"token"`
		Client string `json:"client,omitempty"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if s.cfg.Gateway.Token != "" && params.Token != s.cfg.Gateway.Token {
		slog.Warn("security.auth_failed", "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid gateway token"))
		return
	}

	client.setAuthenticated()
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"protocol": protocol.ProtocolVersion,
		"server":   "relaygate",
	}))
}
