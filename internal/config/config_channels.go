package config

// ChannelsConfig holds per-provider adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	Signal   SignalConfig   `json:"signal,omitempty"`
	IMessage IMessageConfig `json:"imessage,omitempty"`
	MSTeams  MSTeamsConfig  `json:"msteams,omitempty"`
}

// TelegramConfig configures the Telegram Bot API adapter.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	Token     string   `json:"-"` // from env RELAYGATE_TELEGRAM_TOKEN only
	AccountID string   `json:"accountId,omitempty"`
	AllowFrom []string `json:"allow_from,omitempty"`
	TextLimit int      `json:"text_limit,omitempty"` // outbound chunk limit (default 4096)
}

// DiscordConfig configures the Discord gateway adapter.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	Token     string   `json:"-"` // from env RELAYGATE_DISCORD_TOKEN only
	AccountID string   `json:"accountId,omitempty"`
	AllowFrom []string `json:"allow_from,omitempty"`
	TextLimit int      `json:"text_limit,omitempty"` // outbound chunk limit (default 2000)
}

// WhatsAppConfig configures the WhatsApp bridge connection.
// The bridge handles the wire protocol; this adapter speaks JSON over WS.
type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	BridgeURL string   `json:"bridge_url,omitempty"`
	AccountID string   `json:"accountId,omitempty"`
	AllowFrom []string `json:"allow_from,omitempty"`
	TextLimit int      `json:"text_limit,omitempty"` // outbound chunk limit (default 4000)
}

// SlackConfig names a Slack workspace as a routable destination.
// The Socket Mode client runs out of process.
type SlackConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// SignalConfig names a Signal account as a routable destination.
type SignalConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// IMessageConfig names an iMessage relay as a routable destination.
type IMessageConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// MSTeamsConfig names an MS Teams bot as a routable destination.
type MSTeamsConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// TextChunkLimit returns the outbound text limit for a provider, falling back
// to a conservative default when the provider carries no explicit limit.
func (c *Config) TextChunkLimit(provider string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	limit := 0
	switch provider {
	case "telegram":
		limit = c.Channels.Telegram.TextLimit
		if limit <= 0 {
			limit = 4096
		}
	case "discord":
		limit = c.Channels.Discord.TextLimit
		if limit <= 0 {
			limit = 2000
		}
	case "whatsapp":
		limit = c.Channels.WhatsApp.TextLimit
		if limit <= 0 {
			limit = 4000
		}
	default:
		limit = 4000
	}
	return limit
}
