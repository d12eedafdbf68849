package channels

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
)

// stubChannel implements Channel plus Reactor and Editor, but not Deleter
// or Pinner.
type stubChannel struct {
	*BaseChannel
	reacted []string
	edited  []string
}

func newStubChannel(name string) *stubChannel {
	return &stubChannel{BaseChannel: NewBaseChannel(name, "", bus.NewMessageBus(), nil)}
}

func (s *stubChannel) Start(ctx context.Context) error                      { return nil }
func (s *stubChannel) Stop(ctx context.Context) error                       { return nil }
func (s *stubChannel) Send(ctx context.Context, m bus.OutboundMessage) error { return nil }

func (s *stubChannel) React(ctx context.Context, chatID, messageID, emoji string) error {
	s.reacted = append(s.reacted, emoji)
	return nil
}

func (s *stubChannel) Edit(ctx context.Context, chatID, messageID, content string) error {
	s.edited = append(s.edited, content)
	return nil
}

func TestActionRegistrySupports(t *testing.T) {
	reg := NewActionRegistry()
	reg.Register("telegram", newStubChannel("telegram"))

	tests := []struct {
		provider string
		action   string
		want     bool
	}{
		{"telegram", ActionReact, true},
		{"telegram", ActionEdit, true},
		{"telegram", ActionDelete, false},
		{"telegram", ActionPin, false},
		{"telegram", "bogus", false},
		{"signal", ActionReact, false}, // unregistered provider
	}

	for _, tt := range tests {
		if got := reg.Supports(tt.provider, tt.action); got != tt.want {
			t.Errorf("Supports(%q, %q) = %v, want %v", tt.provider, tt.action, got, tt.want)
		}
	}
}

func TestActionRegistryInvoke(t *testing.T) {
	reg := NewActionRegistry()
	ch := newStubChannel("telegram")
	reg.Register("telegram", ch)

	err := reg.Invoke(context.Background(), "telegram", ActionReact,
		ActionParams{ChatID: "c1", MessageID: "m1", Emoji: "👍"})
	if err != nil {
		t.Fatalf("Invoke react: %v", err)
	}
	if len(ch.reacted) != 1 || ch.reacted[0] != "👍" {
		t.Errorf("reaction not delivered: %v", ch.reacted)
	}
}

func TestActionRegistryUnsupportedActionError(t *testing.T) {
	reg := NewActionRegistry()
	reg.Register("telegram", newStubChannel("telegram"))

	err := reg.Invoke(context.Background(), "telegram", ActionPin,
		ActionParams{ChatID: "c1", MessageID: "m1"})
	if err == nil {
		t.Fatal("expected error for unsupported action")
	}
	if got := err.Error(); got != "action pin not supported for provider telegram" {
		t.Errorf("error = %q, want uniform unsupported-action message", got)
	}
}

func TestActionRegistryUnknownProvider(t *testing.T) {
	reg := NewActionRegistry()
	err := reg.Invoke(context.Background(), "msteams", ActionEdit, ActionParams{})
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("err = %v, want unknown provider error", err)
	}
}
