// Package reply owns the outbound side of a conversation turn: coalescing
// streamed reply fragments into provider-sized chunks and dispatching them
// to the originating channel or routing them cross-provider.
package reply

import (
	"context"

	"github.com/nextlevelbuilder/relaygate/internal/config"
)

// Payload is one reply fragment produced by the agent's reply stream.
// Transient: no ownership beyond the current reply cycle.
type Payload struct {
	Text         string   `json:"text,omitempty"`
	MediaURL     string   `json:"mediaUrl,omitempty"`
	MediaURLs    []string `json:"mediaUrls,omitempty"`
	ReplyToID    string   `json:"replyToId,omitempty"`
	AudioAsVoice bool     `json:"audioAsVoice,omitempty"`
	IsError      bool     `json:"isError,omitempty"`
}

// HasMedia reports whether the payload carries any media reference.
func (p Payload) HasMedia() bool {
	return p.MediaURL != "" || len(p.MediaURLs) > 0
}

// EventKind classifies a streamed reply event.
type EventKind string

const (
	EventPartial EventKind = "partial" // raw text delta, pre-coalescing
	EventBlock   EventKind = "block"   // coalesced block ready to send
	EventTool    EventKind = "tool"    // tool-result notice
	EventFinal   EventKind = "final"   // the turn's final reply
)

// Event is one typed item on a reply stream.
type Event struct {
	Kind    EventKind
	Payload Payload
}

// MsgContext describes the inbound event a reply answers. Provider is the
// channel the agent is attached to; OriginatingChannel/To record where the
// triggering message actually came from, which may differ when a message was
// relayed across providers.
type MsgContext struct {
	Provider           string
	AccountID          string
	SessionKey         string
	ChatID             string
	Content            string
	Media              []string
	OriginatingChannel string
	OriginatingTo      string
	MessageThreadID    string
}

// Resolver produces the reply stream for an inbound message. The returned
// channel closes when the turn completes; the final event carries the
// turn's closing payload.
type Resolver interface {
	Resolve(ctx context.Context, msg MsgContext, cfg *config.Config) (<-chan Event, error)
}
