package reply

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/relaygate/internal/config"
)

// WithCoalescing wraps a resolver so raw partial events are merged into
// provider-sized block events before they reach dispatch. Tool and final
// events pass through unchanged; any text still buffered when the final
// event arrives is flushed as a block first.
func WithCoalescing(inner Resolver) Resolver {
	return &coalescingResolver{inner: inner}
}

type coalescingResolver struct {
	inner Resolver
}

func (r *coalescingResolver) Resolve(ctx context.Context, msg MsgContext, cfg *config.Config) (<-chan Event, error) {
	in, err := r.inner.Resolve(ctx, msg, cfg)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)

	var mu sync.Mutex
	closed := false
	emit := func(p Payload) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		out <- Event{Kind: EventBlock, Payload: p}
	}

	co := NewCoalescer(cfg.ResolveChunkConfig(msg.Provider), nil, emit)

	go func() {
		for ev := range in {
			switch ev.Kind {
			case EventPartial:
				co.Enqueue(ev.Payload)
			case EventFinal:
				co.Flush(true)
				out <- ev
			default:
				out <- ev
			}
		}
		// Stream ended without a final event: whatever is buffered still
		// belongs to the user.
		co.Flush(true)
		mu.Lock()
		closed = true
		mu.Unlock()
		co.Stop()
		close(out)
	}()

	return out, nil
}
