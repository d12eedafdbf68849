// Package discord connects to Discord via the Bot API using gateway events.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/channels"
	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
)

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	textLimit int
	botUserID string // populated on start
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, textLimit int, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", cfg.AccountID, msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
		textLimit:   textLimit,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	if m.Author.Username != "" {
		senderID = fmt.Sprintf("%s|%s", m.Author.ID, m.Author.Username)
	}

	// GuildID is empty for DMs.
	kind := sessions.PeerDM
	if m.GuildID != "" {
		kind = sessions.PeerChannel
	}

	slog.Debug("discord message received",
		"channel_id", m.ChannelID,
		"guild_id", m.GuildID,
		"author", m.Author.Username,
		"text_preview", channels.Truncate(m.Content, 60),
	)

	c.HandleMessage(senderID, m.ChannelID, m.Content, channels.InboundOptions{
		PeerKind:  kind,
		GuildID:   m.GuildID,
		MessageID: m.ID,
		Metadata: map[string]string{
			"username": m.Author.Username,
		},
	})
}

// Send delivers an outbound message, chunking text to the Discord limit.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}

	if msg.Content != "" {
		for _, chunk := range channels.SplitText(msg.Content, c.textLimit) {
			send := &discordgo.MessageSend{Content: chunk}
			if msg.ReplyToID != "" {
				send.Reference = &discordgo.MessageReference{
					MessageID: msg.ReplyToID,
					ChannelID: msg.ChatID,
				}
			}
			if _, err := c.session.ChannelMessageSendComplex(msg.ChatID, send); err != nil {
				return fmt.Errorf("discord send: %w", err)
			}
		}
	}

	for _, media := range msg.Media {
		content := media.URL
		if media.Caption != "" {
			content = media.Caption + "\n" + media.URL
		}
		if _, err := c.session.ChannelMessageSend(msg.ChatID, content); err != nil {
			return fmt.Errorf("discord media send: %w", err)
		}
	}
	return nil
}

// SendPoll posts a native Discord poll.
func (c *Channel) SendPoll(_ context.Context, chatID, question string, options []string, multi bool) error {
	answers := make([]discordgo.PollAnswer, 0, len(options))
	for _, o := range options {
		answers = append(answers, discordgo.PollAnswer{
			Media: &discordgo.PollMedia{Text: o},
		})
	}
	_, err := c.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Poll: &discordgo.Poll{
			Question:         discordgo.PollMedia{Text: question},
			Answers:          answers,
			AllowMultiselect: multi,
			Duration:         24,
		},
	})
	return err
}

// React adds an emoji reaction to a message.
func (c *Channel) React(_ context.Context, chatID, messageID, emoji string) error {
	return c.session.MessageReactionAdd(chatID, messageID, emoji)
}

// Edit replaces the content of a previously sent message.
func (c *Channel) Edit(_ context.Context, chatID, messageID, content string) error {
	_, err := c.session.ChannelMessageEdit(chatID, messageID, content)
	return err
}

// Delete removes a previously sent message.
func (c *Channel) Delete(_ context.Context, chatID, messageID string) error {
	return c.session.ChannelMessageDelete(chatID, messageID)
}

// Pin pins a message in a channel.
func (c *Channel) Pin(_ context.Context, chatID, messageID string) error {
	return c.session.ChannelMessagePin(chatID, messageID)
}

// Unpin removes a pinned message.
func (c *Channel) Unpin(_ context.Context, chatID, messageID string) error {
	return c.session.ChannelMessageUnpin(chatID, messageID)
}
