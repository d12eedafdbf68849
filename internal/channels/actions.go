package channels

import (
	"context"
	"fmt"
	"sync"
)

// Provider action names.
const (
	ActionReact  = "react"
	ActionEdit   = "edit"
	ActionDelete = "delete"
	ActionPin    = "pin"
	ActionUnpin  = "unpin"
)

// Capability-scoped action handlers. A channel implements only the
// interfaces its provider supports; the registry discovers the rest.

// Reactor adds or removes an emoji reaction on a message.
type Reactor interface {
	React(ctx context.Context, chatID, messageID, emoji string) error
}

// Editor edits a previously sent message.
type Editor interface {
	Edit(ctx context.Context, chatID, messageID, content string) error
}

// Deleter deletes a previously sent message.
type Deleter interface {
	Delete(ctx context.Context, chatID, messageID string) error
}

// Pinner pins and unpins messages in a chat.
type Pinner interface {
	Pin(ctx context.Context, chatID, messageID string) error
	Unpin(ctx context.Context, chatID, messageID string) error
}

// ActionParams are the normalized parameters of a provider action call.
type ActionParams struct {
	ChatID    string
	MessageID string
	Emoji     string
	Content   string
}

// ActionRegistry maps provider ids to their action capabilities.
// Unsupported actions fail uniformly instead of per-provider ad hoc errors.
type ActionRegistry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{channels: make(map[string]Channel)}
}

// Register adds a provider's channel. Capabilities are discovered from the
// interfaces the channel implements.
func (r *ActionRegistry) Register(provider string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[provider] = ch
}

// Supports reports whether provider can perform action.
func (r *ActionRegistry) Supports(provider, action string) bool {
	r.mu.RLock()
	ch, ok := r.channels[provider]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	switch action {
	case ActionReact:
		_, ok = ch.(Reactor)
	case ActionEdit:
		_, ok = ch.(Editor)
	case ActionDelete:
		_, ok = ch.(Deleter)
	case ActionPin, ActionUnpin:
		_, ok = ch.(Pinner)
	default:
		ok = false
	}
	return ok
}

// Invoke performs action on provider with the given parameters.
func (r *ActionRegistry) Invoke(ctx context.Context, provider, action string, p ActionParams) error {
	r.mu.RLock()
	ch, ok := r.channels[provider]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}

	switch action {
	case ActionReact:
		if h, ok := ch.(Reactor); ok {
			return h.React(ctx, p.ChatID, p.MessageID, p.Emoji)
		}
	case ActionEdit:
		if h, ok := ch.(Editor); ok {
			return h.Edit(ctx, p.ChatID, p.MessageID, p.Content)
		}
	case ActionDelete:
		if h, ok := ch.(Deleter); ok {
			return h.Delete(ctx, p.ChatID, p.MessageID)
		}
	case ActionPin:
		if h, ok := ch.(Pinner); ok {
			return h.Pin(ctx, p.ChatID, p.MessageID)
		}
	case ActionUnpin:
		if h, ok := ch.(Pinner); ok {
			return h.Unpin(ctx, p.ChatID, p.MessageID)
		}
	}
	return fmt.Errorf("action %s not supported for provider %s", action, provider)
}
