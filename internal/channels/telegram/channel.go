// Package telegram connects to the Telegram Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/channels"
	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	textLimit  int
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, textLimit int, msgBus *bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", cfg.AccountID, msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
		textLimit:   textLimit,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the bot by cancelling the long polling context and
// waiting for the polling goroutine to exit so Telegram releases the
// getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(message *telego.Message) {
	user := message.From
	if user == nil {
		return
	}
	if message.Text == "" && message.Caption == "" {
		// Service message (member joined, title changed, ...).
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"

	content := message.Text
	if content == "" {
		content = message.Caption
	}

	threadID := ""
	if message.MessageThreadID != 0 {
		threadID = fmt.Sprintf("%d", message.MessageThreadID)
	}

	slog.Debug("telegram message received",
		"chat_id", message.Chat.ID,
		"is_group", isGroup,
		"user_id", user.ID,
		"text_preview", channels.Truncate(content, 60),
	)

	c.HandleMessage(senderID, fmt.Sprintf("%d", message.Chat.ID), content, channels.InboundOptions{
		PeerKind:  sessions.PeerKindFromGroup(isGroup),
		ThreadID:  threadID,
		MessageID: fmt.Sprintf("%d", message.MessageID),
		Metadata: map[string]string{
			"username":   user.Username,
			"first_name": user.FirstName,
		},
	})
}

// Send delivers an outbound message, chunking text to the provider limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", msg.ChatID, err)
	}

	if msg.Content != "" {
		for _, chunk := range channels.SplitText(msg.Content, c.textLimit) {
			params := tu.Message(tu.ID(chatID), chunk)
			if tid, err := parseThreadID(msg.ThreadID); err == nil && tid > 0 {
				params.MessageThreadID = tid
			}
			if rid, err := parseThreadID(msg.ReplyToID); err == nil && rid > 0 {
				params.ReplyParameters = &telego.ReplyParameters{MessageID: rid}
			}
			if _, err := c.bot.SendMessage(ctx, params); err != nil {
				return fmt.Errorf("telegram send: %w", err)
			}
		}
	}

	for _, media := range msg.Media {
		if err := c.sendMedia(ctx, chatID, media); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendMedia(ctx context.Context, chatID int64, media bus.MediaAttachment) error {
	file := telego.InputFile{URL: media.URL}
	switch {
	case media.AsVoice:
		_, err := c.bot.SendVoice(ctx, &telego.SendVoiceParams{
			ChatID: tu.ID(chatID), Voice: file, Caption: media.Caption,
		})
		return err
	case isImageContentType(media.ContentType):
		_, err := c.bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID: tu.ID(chatID), Photo: file, Caption: media.Caption,
		})
		return err
	default:
		_, err := c.bot.SendDocument(ctx, &telego.SendDocumentParams{
			ChatID: tu.ID(chatID), Document: file, Caption: media.Caption,
		})
		return err
	}
}

// SendPoll posts a native Telegram poll.
func (c *Channel) SendPoll(ctx context.Context, chatIDStr, question string, options []string, multi bool) error {
	chatID, err := parseChatID(chatIDStr)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", chatIDStr, err)
	}
	opts := make([]telego.InputPollOption, 0, len(options))
	for _, o := range options {
		opts = append(opts, telego.InputPollOption{Text: o})
	}
	_, err = c.bot.SendPoll(ctx, &telego.SendPollParams{
		ChatID:                tu.ID(chatID),
		Question:              question,
		Options:               opts,
		AllowsMultipleAnswers: multi,
	})
	return err
}

// Edit replaces the text of a previously sent message.
func (c *Channel) Edit(ctx context.Context, chatIDStr, messageID, content string) error {
	chatID, err := parseChatID(chatIDStr)
	if err != nil {
		return err
	}
	msgID, err := parseThreadID(messageID)
	if err != nil {
		return err
	}
	_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID: tu.ID(chatID), MessageID: msgID, Text: content,
	})
	return err
}

// Delete removes a previously sent message.
func (c *Channel) Delete(ctx context.Context, chatIDStr, messageID string) error {
	chatID, err := parseChatID(chatIDStr)
	if err != nil {
		return err
	}
	msgID, err := parseThreadID(messageID)
	if err != nil {
		return err
	}
	return c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID: tu.ID(chatID), MessageID: msgID,
	})
}

// Pin pins a message in a chat.
func (c *Channel) Pin(ctx context.Context, chatIDStr, messageID string) error {
	chatID, err := parseChatID(chatIDStr)
	if err != nil {
		return err
	}
	msgID, err := parseThreadID(messageID)
	if err != nil {
		return err
	}
	return c.bot.PinChatMessage(ctx, &telego.PinChatMessageParams{
		ChatID: tu.ID(chatID), MessageID: msgID,
	})
}

// Unpin removes a pinned message.
func (c *Channel) Unpin(ctx context.Context, chatIDStr, messageID string) error {
	chatID, err := parseChatID(chatIDStr)
	if err != nil {
		return err
	}
	msgID, err := parseThreadID(messageID)
	if err != nil {
		return err
	}
	return c.bot.UnpinChatMessage(ctx, &telego.UnpinChatMessageParams{
		ChatID: tu.ID(chatID), MessageID: msgID,
	})
}

// parseChatID converts a string chat ID to int64.
func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}

func parseThreadID(s string) (int, error) {
	var id int
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}

func isImageContentType(ct string) bool {
	switch ct {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	}
	return false
}
