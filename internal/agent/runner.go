// Package agent runs conversation turns. The Runner consumes inbound
// messages from the bus, resolves which agent and session they belong to,
// and drives the reply stream back out through the dispatcher. The agent's
// reasoning itself lives behind the reply.Resolver interface; this package
// only orchestrates turns around it.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/followup"
	"github.com/nextlevelbuilder/relaygate/internal/reply"
	"github.com/nextlevelbuilder/relaygate/internal/routing"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
	"github.com/nextlevelbuilder/relaygate/internal/store"
	"github.com/nextlevelbuilder/relaygate/pkg/protocol"
)

// Runner consumes inbound messages and executes one agent turn per session
// at a time. Messages arriving while a session is busy queue as followups
// and drain in order once the active run completes.
type Runner struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	resolver reply.Resolver
	router   reply.Router
	sessions store.SessionIndex
	routes   *routing.Resolver
	queue    *followup.Queue
	log      *slog.Logger
	tracer   trace.Tracer

	mu     sync.Mutex
	active map[string]bool
}

// NewRunner wires a runner. The resolver is wrapped so partial reply events
// coalesce into provider-sized blocks before dispatch.
func NewRunner(cfg *config.Config, msgBus *bus.MessageBus, resolver reply.Resolver, router reply.Router, sessionIdx store.SessionIndex, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		bus:      msgBus,
		resolver: reply.WithCoalescing(resolver),
		router:   router,
		sessions: sessionIdx,
		routes:   routing.NewResolver(log),
		queue:    followup.NewQueue(),
		log:      log,
		tracer:   otel.Tracer("relaygate/agent"),
		active:   make(map[string]bool),
	}
}

// Run consumes inbound messages until ctx is cancelled. Duplicate messages
// (webhook retries, double taps) are dropped; rapid bursts from one sender
// merge through the inbound debouncer before a turn starts.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("agent runner started")

	ttl := time.Duration(r.cfg.Gateway.DedupeTTLMin) * time.Minute
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	dedupe := bus.NewDedupeCache(ttl, r.cfg.Gateway.DedupeMaxEntries)

	window := time.Duration(r.cfg.Gateway.InboundDebounceMs) * time.Millisecond
	debouncer := bus.NewInboundDebouncer(window, func(msg bus.InboundMessage) {
		r.process(ctx, msg)
	})
	defer debouncer.Stop()

	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			r.log.Info("agent runner stopped")
			r.queue.Stop()
			return
		}

		if msg.MessageID != "" {
			key := fmt.Sprintf("%s|%s|%s|%s", msg.Channel, msg.SenderID, msg.ChatID, msg.MessageID)
			if dedupe.Seen(key) {
				r.log.Debug("dropping duplicate inbound", "key", key)
				continue
			}
		}

		debouncer.Add(msg)
	}
}

// process resolves the route for one (possibly merged) inbound message and
// either starts a turn or queues it behind the session's active run.
func (r *Runner) process(ctx context.Context, msg bus.InboundMessage) {
	route := r.routes.Resolve(routing.ResolveInput{
		Cfg:       r.cfg,
		Provider:  msg.Channel,
		AccountID: msg.AccountID,
		Peer:      routing.Peer{Kind: sessions.PeerKind(msg.PeerKind), ID: msg.ChatID},
		GuildID:   msg.GuildID,
		TeamID:    msg.TeamID,
	})
	key := route.SessionKey

	r.mu.Lock()
	if r.active[key] {
		r.mu.Unlock()
		r.enqueueFollowup(key, route, msg)
		return
	}
	r.active[key] = true
	r.mu.Unlock()

	go func() {
		r.turn(ctx, route, msg)
		r.finish(ctx, route, msg)
	}()
}

// enqueueFollowup queues a prompt for later drain. Queue settings come from
// config at enqueue time so a reload applies to the next message.
func (r *Runner) enqueueFollowup(key string, route routing.Route, msg bus.InboundMessage) {
	agent := r.cfg.ResolveAgent(route.AgentID)
	qc := r.cfg.ResolveQueueSettings()

	r.queue.Enqueue(key, followup.FollowupRun{
		Prompt:             msg.Content,
		EnqueuedAt:         time.Now(),
		OriginatingChannel: msg.Metadata["origin_channel"],
		OriginatingTo:      msg.Metadata["origin_to"],
		Run: followup.RunSpec{
			AgentID:      route.AgentID,
			SessionID:    key,
			WorkspaceDir: agent.Workspace,
			Provider:     agent.Provider,
			Model:        agent.Model,
			TimeoutMs:    agent.TimeoutMs,
		},
	}, followup.QueueSettings{
		Mode:       qc.Mode,
		DebounceMs: qc.DebounceMs,
		Cap:        qc.Cap,
		DropPolicy: qc.DropPolicy,
	})

	r.log.Info("queued followup while agent busy",
		"session", key, "pending", r.queue.Pending(key))
}

// finish releases the session after a turn, arming a followup drain when
// prompts queued up meanwhile. The session stays marked busy for the whole
// drain pass so queued runs never race fresh inbound turns.
func (r *Runner) finish(ctx context.Context, route routing.Route, template bus.InboundMessage) {
	key := route.SessionKey
	for {
		r.mu.Lock()
		if r.queue.Pending(key) > 0 {
			r.mu.Unlock()
			r.queue.ScheduleDrain(key, func(run followup.FollowupRun) {
				r.turn(ctx, route, followupMessage(template, run))
				r.finish(ctx, route, template)
			})
			return
		}
		delete(r.active, key)
		r.mu.Unlock()

		// An enqueue may have slipped in between the check and the release.
		if r.queue.Pending(key) == 0 {
			return
		}
		r.mu.Lock()
		if r.active[key] {
			r.mu.Unlock()
			return
		}
		r.active[key] = true
		r.mu.Unlock()
	}
}

// followupMessage rebuilds an inbound message from a queued run, carrying
// the run's routing context over the original message's.
func followupMessage(template bus.InboundMessage, run followup.FollowupRun) bus.InboundMessage {
	msg := template
	msg.Content = run.Prompt
	msg.Metadata = make(map[string]string, len(template.Metadata)+2)
	for k, v := range template.Metadata {
		msg.Metadata[k] = v
	}
	if run.OriginatingChannel != "" {
		msg.Metadata["origin_channel"] = run.OriginatingChannel
		msg.Metadata["origin_to"] = run.OriginatingTo
	}
	return msg
}

// turn executes one conversation turn synchronously.
func (r *Runner) turn(ctx context.Context, route routing.Route, msg bus.InboundMessage) {
	runID := uuid.NewString()[:8]

	ctx, span := r.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("provider", msg.Channel),
		attribute.String("agent", route.AgentID),
		attribute.String("session", route.SessionKey),
	))
	defer span.End()

	r.log.Info("agent turn started",
		"run_id", runID,
		"agent", route.AgentID,
		"session", route.SessionKey,
		"matched_by", route.MatchedBy,
		"channel", msg.Channel,
	)
	r.broadcast(protocol.AgentEventRunStarted, runID, route)

	dispatcher := reply.NewDispatcher(r.deliver(msg), r.log)
	defer dispatcher.Close()

	err := reply.DispatchReplyFromConfig(ctx, reply.DispatchParams{
		Msg: reply.MsgContext{
			Provider:           msg.Channel,
			AccountID:          route.AccountID,
			SessionKey:         route.SessionKey,
			ChatID:             msg.ChatID,
			Content:            msg.Content,
			Media:              msg.Media,
			OriginatingChannel: msg.Metadata["origin_channel"],
			OriginatingTo:      msg.Metadata["origin_to"],
			MessageThreadID:    msg.ThreadID,
		},
		Cfg:        r.cfg,
		Dispatcher: dispatcher,
		Router:     r.router,
		Resolver:   r.resolver,
		Log:        r.log,
	})
	if err != nil {
		r.log.Error("agent turn failed", "run_id", runID, "session", route.SessionKey, "error", err)
		span.RecordError(err)
		r.broadcast(protocol.AgentEventRunFailed, runID, route)
		r.bus.PublishOutbound(bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			ThreadID: msg.ThreadID,
			Content:  "Agent run failed: " + err.Error(),
		})
		return
	}

	r.sessions.Touch(route.SessionKey, route.AgentID, msg.Channel, msg.ChatID)
	r.broadcast(protocol.AgentEventRunCompleted, runID, route)
}

func (r *Runner) broadcast(eventType, runID string, route routing.Route) {
	r.bus.Broadcast(bus.Event{
		Name: protocol.EventAgent,
		Payload: map[string]any{
			"type":    eventType,
			"runId":   runID,
			"agent":   route.AgentID,
			"session": route.SessionKey,
		},
	})
}

// deliver publishes reply payloads for msg's channel onto the outbound bus.
// Final NO_REPLY or empty payloads are suppressed.
func (r *Runner) deliver(msg bus.InboundMessage) reply.DeliverFunc {
	return func(kind reply.SendKind, p reply.Payload) error {
		if kind == reply.SendFinal && !p.HasMedia() && (p.Text == "" || IsSilentReply(p.Text)) {
			r.log.Debug("suppressed silent reply", "channel", msg.Channel, "chat", msg.ChatID)
			return nil
		}

		out := bus.OutboundMessage{
			Channel:   msg.Channel,
			AccountID: msg.AccountID,
			ChatID:    msg.ChatID,
			Content:   p.Text,
			ThreadID:  msg.ThreadID,
			ReplyToID: p.ReplyToID,
		}
		for _, u := range p.MediaURLs {
			out.Media = append(out.Media, bus.MediaAttachment{URL: u, AsVoice: p.AudioAsVoice})
		}
		if p.MediaURL != "" {
			out.Media = append(out.Media, bus.MediaAttachment{URL: p.MediaURL, AsVoice: p.AudioAsVoice})
		}
		r.bus.PublishOutbound(out)
		return nil
	}
}
