// Package methods implements the RPC method handlers registered on the
// gateway's MethodRouter.
package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/channels"
	"github.com/nextlevelbuilder/relaygate/internal/gateway"
	"github.com/nextlevelbuilder/relaygate/pkg/protocol"
)

// pollProviders are the only channels with native poll support.
var pollProviders = map[string]bool{
	"whatsapp": true,
	"discord":  true,
	"msteams":  true,
}

// SendMethods handles outbound messaging RPCs. Every call is keyed by a
// caller-supplied idempotency key; retries replay the recorded outcome —
// including failures — instead of re-delivering.
type SendMethods struct {
	manager *channels.Manager
	dedupe  *bus.DedupeCache
}

// NewSendMethods creates the outbound messaging handler.
func NewSendMethods(manager *channels.Manager, dedupe *bus.DedupeCache) *SendMethods {
	return &SendMethods{manager: manager, dedupe: dedupe}
}

// Register registers the send, poll, and action RPC methods.
func (m *SendMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodSend, m.handleSend)
	router.Register(protocol.MethodPoll, m.handlePoll)
	router.Register(protocol.MethodChannelsAction, m.handleAction)
}

// normalizeProvider maps provider aliases to canonical channel names.
// Unset defaults to whatsapp.
func normalizeProvider(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "":
		return "whatsapp"
	case "imsg", "imessage":
		return "imessage"
	case "teams", "msteams":
		return "msteams"
	default:
		return strings.ToLower(strings.TrimSpace(provider))
	}
}

func (m *SendMethods) handleSend(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(m.executeSend(ctx, req))
}

func (m *SendMethods) handlePoll(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(m.executePoll(ctx, req))
}

// executeSend validates, consults the idempotency cache, and delivers.
// Validation runs before the cache lookup so malformed retries never pin a
// bogus entry.
func (m *SendMethods) executeSend(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var params struct {
		To             string `json:"to"`
		Message        string `json:"message"`
		MediaURL       string `json:"mediaUrl,omitempty"`
		Provider       string `json:"provider,omitempty"`
		AccountID      string `json:"accountId,omitempty"`
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	to := strings.TrimSpace(params.To)
	message := strings.TrimSpace(params.Message)
	if to == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "to is required")
	}
	if message == "" && params.MediaURL == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message or mediaUrl is required")
	}
	if params.IdempotencyKey == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "idempotencyKey is required")
	}

	cacheKey := "send:" + params.IdempotencyKey
	if cached, ok := m.dedupe.Get(cacheKey); ok {
		return replayCached(req.ID, cached)
	}

	provider := normalizeProvider(params.Provider)

	outbound := bus.OutboundMessage{
		Channel:   provider,
		AccountID: strings.TrimSpace(params.AccountID),
		ChatID:    to,
		Content:   message,
	}
	if params.MediaURL != "" {
		outbound.Media = []bus.MediaAttachment{{URL: params.MediaURL}}
	}

	if err := m.deliver(ctx, provider, outbound); err != nil {
		slog.Error("send failed", "provider", provider, "to", to, "error", err)
		m.dedupe.Set(cacheKey, bus.DedupeEntry{OK: false, Error: err.Error()})
		return protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error())
	}

	payload := map[string]any{
		"runId":    params.IdempotencyKey,
		"chatId":   to,
		"provider": provider,
	}
	m.dedupe.Set(cacheKey, bus.DedupeEntry{OK: true, Payload: payload})

	resp := protocol.NewOKResponse(req.ID, payload)
	resp.Meta = map[string]any{"provider": provider}
	return resp
}

// executePoll posts a native poll on providers that support it.
func (m *SendMethods) executePoll(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var params struct {
		To             string   `json:"to"`
		Question       string   `json:"question"`
		Options        []string `json:"options"`
		Multi          bool     `json:"multi,omitempty"`
		Provider       string   `json:"provider,omitempty"`
		IdempotencyKey string   `json:"idempotencyKey"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	to := strings.TrimSpace(params.To)
	question := strings.TrimSpace(params.Question)
	options := make([]string, 0, len(params.Options))
	for _, o := range params.Options {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			options = append(options, trimmed)
		}
	}

	if to == "" || question == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "to and question are required")
	}
	if len(options) < 2 || len(options) > 12 {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "polls need between 2 and 12 options")
	}
	if params.IdempotencyKey == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "idempotencyKey is required")
	}

	provider := normalizeProvider(params.Provider)
	if !pollProviders[provider] {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			fmt.Sprintf("provider %s does not support polls", provider))
	}

	cacheKey := "poll:" + params.IdempotencyKey
	if cached, ok := m.dedupe.Get(cacheKey); ok {
		return replayCached(req.ID, cached)
	}

	if err := m.sendPoll(ctx, provider, to, question, options, params.Multi); err != nil {
		slog.Error("poll failed", "provider", provider, "to", to, "error", err)
		m.dedupe.Set(cacheKey, bus.DedupeEntry{OK: false, Error: err.Error()})
		return protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error())
	}

	payload := map[string]any{
		"runId":    params.IdempotencyKey,
		"chatId":   to,
		"provider": provider,
	}
	m.dedupe.Set(cacheKey, bus.DedupeEntry{OK: true, Payload: payload})

	resp := protocol.NewOKResponse(req.ID, payload)
	resp.Meta = map[string]any{"provider": provider}
	return resp
}

func (m *SendMethods) handleAction(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(m.executeAction(ctx, req))
}

// executeAction invokes a provider message action (react, edit, delete,
// pin, unpin) through the capability registry.
func (m *SendMethods) executeAction(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var params struct {
		Action    string `json:"action"`
		To        string `json:"to"`
		MessageID string `json:"messageId"`
		Emoji     string `json:"emoji,omitempty"`
		Content   string `json:"content,omitempty"`
		Provider  string `json:"provider,omitempty"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	action := strings.ToLower(strings.TrimSpace(params.Action))
	to := strings.TrimSpace(params.To)
	if action == "" || to == "" || params.MessageID == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "action, to, and messageId are required")
	}

	provider := normalizeProvider(params.Provider)
	if !m.manager.Actions().Supports(provider, action) {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			fmt.Sprintf("action %s not supported for provider %s", action, provider))
	}

	err := m.manager.Actions().Invoke(ctx, provider, action, channels.ActionParams{
		ChatID:    to,
		MessageID: params.MessageID,
		Emoji:     params.Emoji,
		Content:   params.Content,
	})
	if err != nil {
		slog.Error("channel action failed", "provider", provider, "action", action, "error", err)
		return protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error())
	}

	return protocol.NewOKResponse(req.ID, map[string]any{
		"action":   action,
		"chatId":   to,
		"provider": provider,
	})
}

func (m *SendMethods) deliver(ctx context.Context, provider string, msg bus.OutboundMessage) error {
	channel, ok := m.manager.GetChannel(provider)
	if !ok {
		return fmt.Errorf("channel %s is not configured", provider)
	}
	if !channel.IsRunning() {
		return fmt.Errorf("channel %s is not running", provider)
	}
	return channel.Send(ctx, msg)
}

func (m *SendMethods) sendPoll(ctx context.Context, provider, to, question string, options []string, multi bool) error {
	channel, ok := m.manager.GetChannel(provider)
	if !ok {
		return fmt.Errorf("channel %s is not configured", provider)
	}
	if !channel.IsRunning() {
		return fmt.Errorf("channel %s is not running", provider)
	}
	poller, ok := channel.(channels.PollChannel)
	if !ok {
		return fmt.Errorf("channel %s has no poll transport", provider)
	}
	return poller.SendPoll(ctx, to, question, options, multi)
}

// replayCached rebuilds the original response from a dedupe entry.
func replayCached(reqID string, entry bus.DedupeEntry) *protocol.ResponseFrame {
	var resp *protocol.ResponseFrame
	if entry.OK {
		resp = protocol.NewOKResponse(reqID, entry.Payload)
	} else {
		resp = protocol.NewErrorResponse(reqID, protocol.ErrUnavailable, entry.Error)
	}
	resp.Meta = map[string]any{"cached": true}
	return resp
}
