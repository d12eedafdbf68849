package reply

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/relaygate/internal/config"
)

// DispatchParams bundle the collaborators for one conversation turn.
type DispatchParams struct {
	Msg        MsgContext
	Cfg        *config.Config
	Dispatcher *Dispatcher
	Router     Router
	Resolver   Resolver
	Log        *slog.Logger
}

// DispatchReplyFromConfig runs one reply turn: it resolves the agent's
// reply stream and delivers each event either directly on the originating
// channel (via the dispatcher) or through the cross-provider router —
// exactly one of the two per payload, never both.
//
// Routing applies only when the triggering message originated on a
// different, routable channel than the one the agent is attached to. An
// unroutable or absent originating channel falls back to direct dispatch.
func DispatchReplyFromConfig(ctx context.Context, p DispatchParams) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}

	direct := p.Msg.OriginatingChannel == "" ||
		p.Msg.OriginatingChannel == p.Msg.Provider ||
		!IsRoutableChannel(p.Msg.OriginatingChannel)

	events, err := p.Resolver.Resolve(ctx, p.Msg, p.Cfg)
	if err != nil {
		return fmt.Errorf("resolve reply: %w", err)
	}

	for ev := range events {
		if ev.Kind == EventPartial {
			// Partials are consumed upstream by the coalescer; only
			// coalesced blocks reach dispatch.
			continue
		}
		if direct {
			dispatchDirect(p.Dispatcher, ev)
			continue
		}
		req := RouteRequest{
			Channel:   p.Msg.OriginatingChannel,
			To:        p.Msg.OriginatingTo,
			AccountID: p.Msg.AccountID,
			ThreadID:  p.Msg.MessageThreadID,
			Payload:   ev.Payload,
		}
		if err := p.Router.RouteReply(ctx, req); err != nil {
			log.Warn("route reply failed",
				"channel", req.Channel, "to", req.To, "kind", ev.Kind, "error", err)
		}
	}

	return p.Dispatcher.WaitForIdle(ctx)
}

func dispatchDirect(d *Dispatcher, ev Event) {
	switch ev.Kind {
	case EventTool:
		d.SendToolResult(ev.Payload)
	case EventBlock:
		d.SendBlockReply(ev.Payload)
	case EventFinal:
		d.SendFinalReply(ev.Payload)
	}
}
