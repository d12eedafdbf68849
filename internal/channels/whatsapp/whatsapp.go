// Package whatsapp connects to a WhatsApp bridge via WebSocket. The bridge
// handles the actual WhatsApp protocol; this channel just sends/receives
// JSON messages over WS.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/channels"
	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
)

// Channel connects to a WhatsApp bridge via WebSocket.
type Channel struct {
	*channels.BaseChannel
	config    config.WhatsAppConfig
	textLimit int

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new WhatsApp channel from config.
func New(cfg config.WhatsAppConfig, textLimit int, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", cfg.AccountID, msgBus, cfg.AllowFrom),
		config:      cfg,
		textLimit:   textLimit,
	}, nil
}

// Start connects to the WhatsApp bridge WebSocket and begins listening.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.config.BridgeURL)

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		// Don't fail hard, the reconnect loop will keep trying.
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()

	c.SetRunning(true)
	return nil
}

// Stop gracefully shuts down the WhatsApp channel.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.SetRunning(false)
	return nil
}

// Send delivers an outbound message to the WhatsApp bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if msg.Content != "" {
		for _, chunk := range channels.SplitText(msg.Content, c.textLimit) {
			if err := c.writeJSON(map[string]interface{}{
				"type":        "message",
				"to":          msg.ChatID,
				"content":     chunk,
				"reply_to_id": msg.ReplyToID,
			}); err != nil {
				return err
			}
		}
	}
	for _, media := range msg.Media {
		if err := c.writeJSON(map[string]interface{}{
			"type":     "media",
			"to":       msg.ChatID,
			"url":      media.URL,
			"caption":  media.Caption,
			"as_voice": media.AsVoice,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SendPoll asks the bridge to post a native WhatsApp poll.
func (c *Channel) SendPoll(_ context.Context, chatID, question string, options []string, multi bool) error {
	return c.writeJSON(map[string]interface{}{
		"type":     "poll",
		"to":       chatID,
		"question": question,
		"options":  options,
		"multi":    multi,
	})
}

// React asks the bridge to add an emoji reaction to a message.
func (c *Channel) React(_ context.Context, chatID, messageID, emoji string) error {
	return c.writeJSON(map[string]interface{}{
		"type":       "react",
		"to":         chatID,
		"message_id": messageID,
		"emoji":      emoji,
	})
}

// Delete asks the bridge to delete a previously sent message.
func (c *Channel) Delete(_ context.Context, chatID, messageID string) error {
	return c.writeJSON(map[string]interface{}{
		"type":       "delete",
		"to":         chatID,
		"message_id": messageID,
	})
}

func (c *Channel) writeJSON(payload map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send to whatsapp bridge: %w", err)
	}
	return nil
}

// connect establishes the WebSocket connection to the bridge.
func (c *Channel) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.config.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", c.config.BridgeURL)
	return nil
}

// listenLoop reads messages from the bridge with automatic reconnection.
func (c *Channel) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connected = false
			c.mu.Unlock()
			continue
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Warn("invalid whatsapp message JSON", "error", err)
			continue
		}
		if msgType, _ := msg["type"].(string); msgType == "message" {
			c.handleIncomingMessage(msg)
		}
	}
}

// handleIncomingMessage processes a message received from the bridge.
// Expected format: {"type":"message","from":"...","chat":"...","content":"...","id":"...","from_name":"...","media":[...]}
func (c *Channel) handleIncomingMessage(msg map[string]interface{}) {
	senderID, ok := msg["from"].(string)
	if !ok || senderID == "" {
		return
	}

	chatID, _ := msg["chat"].(string)
	if chatID == "" {
		chatID = senderID
	}

	// WhatsApp groups have chatID ending in "@g.us".
	isGroup := strings.HasSuffix(chatID, "@g.us")

	content, _ := msg["content"].(string)
	if content == "" {
		content = "[empty message]"
	}

	var media []string
	if mediaData, ok := msg["media"].([]interface{}); ok {
		media = make([]string, 0, len(mediaData))
		for _, m := range mediaData {
			if path, ok := m.(string); ok {
				media = append(media, path)
			}
		}
	}

	messageID, _ := msg["id"].(string)
	metadata := make(map[string]string)
	if userName, ok := msg["from_name"].(string); ok {
		metadata["user_name"] = userName
	}

	slog.Debug("whatsapp message received",
		"sender_id", senderID,
		"chat_id", chatID,
		"is_group", isGroup,
		"text_preview", channels.Truncate(content, 60),
	)

	c.HandleMessage(senderID, chatID, content, channels.InboundOptions{
		PeerKind:  sessions.PeerKindFromGroup(isGroup),
		MessageID: messageID,
		Media:     media,
		Metadata:  metadata,
	})
}
