// Package channels provides the channel abstraction layer for multi-platform
// messaging. Channels connect external providers (Telegram, Discord,
// WhatsApp, etc.) to the agent runtime via the message bus.
package channels

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cli":    true,
	"system": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "discord").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// PollChannel extends Channel with native poll support. Only some providers
// expose polls; the gateway rejects poll requests for the rest.
type PollChannel interface {
	Channel
	SendPoll(ctx context.Context, chatID, question string, options []string, multi bool) error
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	accountID string
	bus       *bus.MessageBus
	running   bool
	allowList []string
	flood     *FloodGuard
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name, accountID string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		accountID: accountID,
		bus:       msgBus,
		allowList: allowList,
		flood:     NewFloodGuard(),
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// AccountID returns the provider account this channel instance serves.
func (c *BaseChannel) AccountID() string { return c.accountID }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed ||
			(userPart != "" && (userPart == allowed || userPart == trimmed)) {
			return true
		}
	}
	return false
}

// InboundOptions carry the optional routing context of a received message.
type InboundOptions struct {
	PeerKind  sessions.PeerKind
	GuildID   string
	TeamID    string
	ThreadID  string
	MessageID string
	Media     []string
	Metadata  map[string]string
}

// HandleMessage runs allowlist and flood checks, then publishes the message
// to the bus. This is the standard way for channels to forward received
// messages.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, opts InboundOptions) {
	if !c.IsAllowed(senderID) {
		return
	}
	if !c.flood.Allow(c.name + ":" + senderID) {
		return
	}

	kind := opts.PeerKind
	if kind == "" {
		kind = sessions.PeerDM
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:   c.name,
		AccountID: c.accountID,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Media:     opts.Media,
		PeerKind:  string(kind),
		GuildID:   opts.GuildID,
		TeamID:    opts.TeamID,
		ThreadID:  opts.ThreadID,
		MessageID: opts.MessageID,
		Metadata:  opts.Metadata,
	})
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
