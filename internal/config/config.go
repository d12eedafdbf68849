// Package config holds the layered RelayGate configuration. Defaults are
// resolved once at load time; call sites read resolved values instead of
// re-deriving them.
package config

import (
	"sync"
)

// Config is the root configuration for the RelayGate gateway.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Bindings  []AgentBinding  `json:"bindings,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	Queue     QueueConfig     `json:"queue,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sessions  SessionsConfig  `json:"sessions"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// AgentBinding maps a provider/account/peer/guild match to an agent id.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies which inbound events this binding applies to.
// An empty AccountID matches only the default/unset account; "*" is the
// explicit any-account wildcard.
type BindingMatch struct {
	Provider  string       `json:"provider"`
	AccountID string       `json:"accountId,omitempty"`
	Peer      *BindingPeer `json:"peer,omitempty"`
	GuildID   string       `json:"guildId,omitempty"`
	TeamID    string       `json:"teamId,omitempty"`
}

// BindingPeer pins a binding to one conversation counterpart.
type BindingPeer struct {
	Kind string `json:"kind"` // "dm", "group", or "channel"
	ID   string `json:"id"`
}

// Key returns the uniqueness tuple for duplicate-binding detection.
func (m BindingMatch) Key() string {
	peerKind, peerID := "", ""
	if m.Peer != nil {
		peerKind, peerID = m.Peer.Kind, m.Peer.ID
	}
	return m.Provider + "\x00" + m.AccountID + "\x00" + peerKind + "\x00" + peerID + "\x00" + m.GuildID + "\x00" + m.TeamID
}

// AgentsConfig contains agent defaults and the declared agent list.
// List order is load-bearing: the first entry is the fallback default agent
// when none is flagged Default.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
	List     []AgentSpec   `json:"list,omitempty"`
}

// AgentDefaults are settings inherited by every agent.
type AgentDefaults struct {
	Workspace string `json:"workspace"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Command   string `json:"command,omitempty"` // agent CLI invoked per turn
	TimeoutMs int    `json:"timeoutMs,omitempty"`

	BlockStreamingChunk *ChunkConfig `json:"blockStreamingChunk,omitempty"`
}

// ChunkConfig bounds block-reply coalescing for streamed replies.
type ChunkConfig struct {
	MinChars int    `json:"minChars,omitempty"`
	MaxChars int    `json:"maxChars,omitempty"`
	IdleMs   int    `json:"idleMs,omitempty"`
	Joiner   string `json:"joiner,omitempty"`
}

// AgentSpec is a per-agent configuration entry.
type AgentSpec struct {
	ID        string `json:"id"`
	Default   bool   `json:"default,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Command   string `json:"command,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// QueueConfig configures the per-session followup queue.
type QueueConfig struct {
	Mode       string `json:"mode,omitempty"`       // "debounce" (default) or "collect"
	DebounceMs int    `json:"debounceMs,omitempty"` // drain debounce window
	Cap        int    `json:"cap,omitempty"`        // max queued runs per session
	DropPolicy string `json:"dropPolicy,omitempty"` // "summarize" (default), "old", "new"
}

// GatewayConfig configures the WebSocket RPC listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // from env RELAYGATE_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"` // 0 = disabled

	DedupeTTLMin      int `json:"dedupe_ttl_min,omitempty"` // idempotency cache TTL (default 20)
	DedupeMaxEntries  int `json:"dedupe_max_entries,omitempty"`
	InboundDebounceMs int `json:"inbound_debounce_ms,omitempty"`
}

// SessionsConfig configures session-key scoping and the metadata index.
type SessionsConfig struct {
	Storage string `json:"storage"`            // directory for the session index
	DMScope string `json:"dm_scope,omitempty"` // "main" (default) or "per-peer"
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the config watcher to hot-swap a reloaded config.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Bindings = src.Bindings
	c.Channels = src.Channels
	c.Queue = src.Queue
	c.Gateway = src.Gateway
	c.Sessions = src.Sessions
	c.Telemetry = src.Telemetry
}
