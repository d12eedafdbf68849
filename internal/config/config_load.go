package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default block-streaming chunk bounds.
const (
	DefaultBlockStreamMinChars = 800
	DefaultBlockStreamMaxChars = 1200
	DefaultBlockStreamIdleMs   = 2000
	DefaultBlockStreamJoiner   = "\n\n"
)

// Default followup queue settings.
const (
	DefaultQueueMode       = "debounce"
	DefaultQueueDebounceMs = 1000
	DefaultQueueCap        = 50
	DefaultQueueDropPolicy = "summarize"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace: "~/.relaygate/workspace",
				Provider:  "anthropic",
				Model:     "claude-sonnet-4-5",
				TimeoutMs: 600_000,
			},
		},
		Queue: QueueConfig{
			Mode:       DefaultQueueMode,
			DebounceMs: DefaultQueueDebounceMs,
			Cap:        DefaultQueueCap,
			DropPolicy: DefaultQueueDropPolicy,
		},
		Gateway: GatewayConfig{
			Host:              "0.0.0.0",
			Port:              18790,
			RateLimitRPM:      20,
			DedupeTTLMin:      20,
			DedupeMaxEntries:  5000,
			InboundDebounceMs: 1000,
		},
		Sessions: SessionsConfig{
			Storage: "~/.relaygate/sessions",
			DMScope: "main",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Bindings = dedupeBindings(cfg.Bindings)

	cfg.applyEnvOverrides()
	return cfg, nil
}

// dedupeBindings collapses duplicate match tuples. Identical (agentId, match)
// entries are no-ops; when the same tuple names different agents, the first
// declared binding wins.
func dedupeBindings(bindings []AgentBinding) []AgentBinding {
	if len(bindings) < 2 {
		return bindings
	}
	seen := make(map[string]string, len(bindings))
	out := bindings[:0]
	for _, b := range bindings {
		key := b.Match.Key()
		if prev, ok := seen[key]; ok {
			if prev != b.AgentID {
				slog.Warn("duplicate binding match, keeping first",
					"provider", b.Match.Provider, "kept", prev, "dropped", b.AgentID)
			}
			continue
		}
		seen[key] = b.AgentID
		out = append(out, b)
	}
	return out
}

// Validate rejects operator misconfiguration synchronously: unknown binding
// providers and malformed binding peers are configuration errors, never
// silently dropped.
func (c *Config) Validate() error {
	for i, b := range c.Bindings {
		if b.Match.Provider == "" {
			return fmt.Errorf("bindings[%d]: missing match.provider", i)
		}
		if !knownBindingProvider(b.Match.Provider) {
			return fmt.Errorf("bindings[%d]: unknown provider %q", i, b.Match.Provider)
		}
		if p := b.Match.Peer; p != nil {
			switch p.Kind {
			case "dm", "group", "channel":
			default:
				return fmt.Errorf("bindings[%d]: invalid peer kind %q", i, p.Kind)
			}
			if p.ID == "" {
				return fmt.Errorf("bindings[%d]: missing peer id", i)
			}
		}
	}
	return nil
}

func knownBindingProvider(p string) bool {
	switch p {
	case "whatsapp", "telegram", "discord", "slack", "signal", "imessage", "msteams", "webchat":
		return true
	}
	return false
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("RELAYGATE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("RELAYGATE_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("RELAYGATE_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("RELAYGATE_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}

	envStr("RELAYGATE_HOST", &c.Gateway.Host)
	if v := os.Getenv("RELAYGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("RELAYGATE_SESSIONS_STORAGE", &c.Sessions.Storage)

	envStr("RELAYGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("RELAYGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("RELAYGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("RELAYGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RELAYGATE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ResolveDefaultAgentID returns the id of the agent flagged default, else the
// first declared agent, else the reserved default id.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, spec := range c.Agents.List {
		if spec.Default {
			return spec.ID
		}
	}
	if len(c.Agents.List) > 0 {
		return c.Agents.List[0].ID
	}
	return "main"
}

// DefaultAgentCount returns how many agents are flagged default. More than
// one is operator error; the resolver warns once and uses the first.
func (c *Config) DefaultAgentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, spec := range c.Agents.List {
		if spec.Default {
			n++
		}
	}
	return n
}

// ResolveAgent returns the effective settings for an agent id, merging
// defaults with the per-agent entry.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	for _, spec := range c.Agents.List {
		if spec.ID != agentID {
			continue
		}
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
		if spec.Command != "" {
			d.Command = spec.Command
		}
		if spec.TimeoutMs > 0 {
			d.TimeoutMs = spec.TimeoutMs
		}
		break
	}
	return d
}

// ResolveChunkConfig returns the effective block-streaming chunk bounds for a
// provider: configured values clamped to the provider's outbound text limit,
// min never exceeding max.
func (c *Config) ResolveChunkConfig(provider string) ChunkConfig {
	textLimit := c.TextChunkLimit(provider)

	c.mu.RLock()
	chunkCfg := c.Agents.Defaults.BlockStreamingChunk
	c.mu.RUnlock()

	resolved := ChunkConfig{
		MinChars: DefaultBlockStreamMinChars,
		MaxChars: DefaultBlockStreamMaxChars,
		IdleMs:   DefaultBlockStreamIdleMs,
		Joiner:   DefaultBlockStreamJoiner,
	}
	if chunkCfg != nil {
		if chunkCfg.MinChars > 0 {
			resolved.MinChars = chunkCfg.MinChars
		}
		if chunkCfg.MaxChars > 0 {
			resolved.MaxChars = chunkCfg.MaxChars
		}
		if chunkCfg.IdleMs > 0 {
			resolved.IdleMs = chunkCfg.IdleMs
		}
		if chunkCfg.Joiner != "" {
			resolved.Joiner = chunkCfg.Joiner
		}
	}

	if resolved.MaxChars > textLimit {
		resolved.MaxChars = textLimit
	}
	if resolved.MaxChars < 1 {
		resolved.MaxChars = 1
	}
	if resolved.MinChars > resolved.MaxChars {
		resolved.MinChars = resolved.MaxChars
	}
	return resolved
}

// ResolveQueueSettings returns queue settings with defaults applied.
func (c *Config) ResolveQueueSettings() QueueConfig {
	c.mu.RLock()
	q := c.Queue
	c.mu.RUnlock()

	if q.Mode == "" {
		q.Mode = DefaultQueueMode
	}
	if q.DebounceMs <= 0 {
		q.DebounceMs = DefaultQueueDebounceMs
	}
	if q.Cap <= 0 {
		q.Cap = DefaultQueueCap
	}
	if q.DropPolicy == "" {
		q.DropPolicy = DefaultQueueDropPolicy
	}
	return q
}

// Snapshot returns a copy of the binding and agent tables for the resolver.
// The copy keeps resolution pure while the watcher may swap the live config.
func (c *Config) Snapshot() (bindings []AgentBinding, agents []AgentSpec) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bindings = make([]AgentBinding, len(c.Bindings))
	copy(bindings, c.Bindings)
	agents = make([]AgentSpec, len(c.Agents.List))
	copy(agents, c.Agents.List)
	return bindings, agents
}

// SessionDMScope returns the configured DM session scope: "main" (default,
// all DMs share the agent's main session) or "per-peer".
func (c *Config) SessionDMScope() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Sessions.DMScope == "" {
		return "main"
	}
	return c.Sessions.DMScope
}

const secretMask = "***"

// MaskedCopy returns a deep copy with secret fields masked.
// Used by config.get to avoid exposing secrets to WebSocket clients.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
