package methods

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/channels"
	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/gateway"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
	"github.com/nextlevelbuilder/relaygate/internal/store"
	"github.com/nextlevelbuilder/relaygate/pkg/protocol"
)

// CoreMethods handles the introspection RPCs: health, status, channel and
// session listing, and masked config retrieval.
type CoreMethods struct {
	cfg       *config.Config
	manager   *channels.Manager
	sessions  store.SessionIndex
	startedAt time.Time
}

// NewCoreMethods creates the introspection handler.
func NewCoreMethods(cfg *config.Config, manager *channels.Manager, sessions store.SessionIndex) *CoreMethods {
	return &CoreMethods{
		cfg:       cfg,
		manager:   manager,
		sessions:  sessions,
		startedAt: time.Now(),
	}
}

// Register registers all introspection RPC methods.
func (m *CoreMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodHealth, m.handleHealth)
	router.Register(protocol.MethodStatus, m.handleStatus)
	router.Register(protocol.MethodChannelsList, m.handleChannelsList)
	router.Register(protocol.MethodChannelsStatus, m.handleChannelsStatus)
	router.Register(protocol.MethodSessionsList, m.handleSessionsList)
	router.Register(protocol.MethodSessionsDelete, m.handleSessionsDelete)
	router.Register(protocol.MethodConfigGet, m.handleConfigGet)
}

func (m *CoreMethods) handleHealth(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
		"uptimeS":  int(time.Since(m.startedAt).Seconds()),
	}))
}

func (m *CoreMethods) handleStatus(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	payload := map[string]any{
		"channels": m.manager.GetStatus(),
		"sessions": len(m.sessions.List("")),
		"uptimeS":  int(time.Since(m.startedAt).Seconds()),
	}
	if channel, chatID := m.sessions.LastUsedChannel(sessions.DefaultAgentID); channel != "" {
		payload["lastActive"] = map[string]any{"channel": channel, "chatId": chatID}
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, payload))
}

func (m *CoreMethods) handleChannelsList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"channels": m.manager.GetEnabledChannels(),
	}))
}

func (m *CoreMethods) handleChannelsStatus(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, m.manager.GetStatus()))
}

func (m *CoreMethods) handleSessionsList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		AgentID string `json:"agentId,omitempty"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"sessions": m.sessions.List(params.AgentID),
	}))
}

func (m *CoreMethods) handleSessionsDelete(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		Key string `json:"key"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if params.Key == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "key is required"))
		return
	}
	if err := m.sessions.Delete(params.Key); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"deleted": params.Key}))
}

func (m *CoreMethods) handleConfigGet(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, m.cfg.MaskedCopy()))
}
