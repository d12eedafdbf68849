package reply

import (
	"context"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/relaygate/internal/config"
)

type staticResolver struct {
	events []Event
}

func (r *staticResolver) Resolve(ctx context.Context, msg MsgContext, cfg *config.Config) (<-chan Event, error) {
	ch := make(chan Event, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type routeRecorder struct {
	mu   sync.Mutex
	reqs []RouteRequest
}

func (r *routeRecorder) RouteReply(ctx context.Context, req RouteRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func runDispatch(t *testing.T, msg MsgContext, events []Event) (delivered []SendKind, routed []RouteRequest) {
	t.Helper()

	var mu sync.Mutex
	dispatcher := NewDispatcher(func(kind SendKind, p Payload) error {
		mu.Lock()
		delivered = append(delivered, kind)
		mu.Unlock()
		return nil
	}, nil)
	router := &routeRecorder{}

	err := DispatchReplyFromConfig(context.Background(), DispatchParams{
		Msg:        msg,
		Cfg:        config.Default(),
		Dispatcher: dispatcher,
		Router:     router,
		Resolver:   &staticResolver{events: events},
	})
	if err != nil {
		t.Fatalf("DispatchReplyFromConfig: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return delivered, router.reqs
}

func TestDispatchDirectWhenProviderMatchesOrigin(t *testing.T) {
	delivered, routed := runDispatch(t, MsgContext{
		Provider:           "slack",
		OriginatingChannel: "slack",
		OriginatingTo:      "channel:C123",
	}, []Event{{Kind: EventFinal, Payload: Payload{Text: "hi"}}})

	if len(routed) != 0 {
		t.Errorf("router invoked for same-channel reply: %+v", routed)
	}
	if len(delivered) != 1 || delivered[0] != SendFinal {
		t.Errorf("delivered = %v, want one final send", delivered)
	}
}

func TestDispatchDirectWhenOriginAbsent(t *testing.T) {
	delivered, routed := runDispatch(t, MsgContext{
		Provider: "slack",
	}, []Event{{Kind: EventFinal, Payload: Payload{Text: "hi"}}})

	if len(routed) != 0 || len(delivered) != 1 {
		t.Errorf("absent origin must dispatch directly: delivered=%v routed=%v", delivered, routed)
	}
}

func TestDispatchRoutesWhenOriginDiffers(t *testing.T) {
	delivered, routed := runDispatch(t, MsgContext{
		Provider:           "slack",
		AccountID:          "acc-1",
		MessageThreadID:    "123",
		OriginatingChannel: "telegram",
		OriginatingTo:      "telegram:999",
	}, []Event{{Kind: EventFinal, Payload: Payload{Text: "hi"}}})

	if len(delivered) != 0 {
		t.Errorf("dispatcher invoked despite cross-provider routing: %v", delivered)
	}
	if len(routed) != 1 {
		t.Fatalf("routed = %+v, want exactly one route call", routed)
	}
	req := routed[0]
	if req.Channel != "telegram" || req.To != "telegram:999" || req.AccountID != "acc-1" || req.ThreadID != "123" {
		t.Errorf("route request = %+v", req)
	}
}

func TestDispatchFallsBackDirectForUnroutableOrigin(t *testing.T) {
	delivered, routed := runDispatch(t, MsgContext{
		Provider:           "slack",
		OriginatingChannel: "webchat", // not in the routable set
		OriginatingTo:      "session:1",
	}, []Event{{Kind: EventFinal, Payload: Payload{Text: "hi"}}})

	if len(routed) != 0 || len(delivered) != 1 {
		t.Errorf("unroutable origin must fall back to direct: delivered=%v routed=%v", delivered, routed)
	}
}

func TestDispatchSkipsPartialsAndSequencesKinds(t *testing.T) {
	delivered, routed := runDispatch(t, MsgContext{
		Provider:           "telegram",
		OriginatingChannel: "telegram",
	}, []Event{
		{Kind: EventPartial, Payload: Payload{Text: "He"}},
		{Kind: EventTool, Payload: Payload{Text: "ran search"}},
		{Kind: EventBlock, Payload: Payload{Text: "Hello"}},
		{Kind: EventFinal, Payload: Payload{Text: "Hello world"}},
	})

	if len(routed) != 0 {
		t.Errorf("unexpected routing: %+v", routed)
	}
	want := []SendKind{SendTool, SendBlock, SendFinal}
	if len(delivered) != len(want) {
		t.Fatalf("delivered = %v, want %v (partials skipped)", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Errorf("delivered[%d] = %q, want %q", i, delivered[i], want[i])
		}
	}
}
