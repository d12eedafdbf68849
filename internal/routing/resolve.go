// Package routing maps inbound events to the agent that owns them. A
// resolver walks the configured bindings in priority tiers, most specific
// first, and falls back to the default agent when nothing matches.
package routing

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
)

// DefaultAccountID is the normalized account id for events carrying none.
const DefaultAccountID = "default"

// Match tiers, most specific first. Recorded on the Route for diagnostics.
const (
	MatchedByPeer     = "binding.peer"
	MatchedByGuild    = "binding.guild"
	MatchedByAccount  = "binding.account"
	MatchedByProvider = "binding.provider"
	MatchedByDefault  = "default"
)

// Peer identifies the conversation counterpart of an inbound event.
type Peer struct {
	Kind sessions.PeerKind
	ID   string
}

// ResolveInput is the event context fed to Resolve.
type ResolveInput struct {
	Cfg       *config.Config
	Provider  string
	AccountID string
	Peer      Peer
	GuildID   string
	TeamID    string
}

// Route is the resolution result.
type Route struct {
	AgentID    string
	AccountID  string
	SessionKey string
	MatchedBy  string
}

// Resolver resolves inbound events to agent routes. It carries the
// warned-once state for the multiple-default-agents misconfiguration so
// tests can construct a fresh resolver and observe the warning again.
type Resolver struct {
	log *slog.Logger

	mu                 sync.Mutex
	warnedMultiDefault bool
}

// NewResolver creates a resolver logging through log (nil uses the default
// logger).
func NewResolver(log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log}
}

// Resolve selects exactly one agent for the event. It never fails: when no
// binding matches, the default agent owns the event.
func (r *Resolver) Resolve(in ResolveInput) Route {
	accountID := normalizeAccountID(in.AccountID)
	bindings, _ := in.Cfg.Snapshot()

	// Tier 1: peer-pinned bindings. Most specific, always wins.
	if in.Peer.ID != "" {
		for _, b := range bindings {
			if b.Match.Provider != in.Provider || !accountMatches(b.Match.AccountID, accountID) {
				continue
			}
			p := b.Match.Peer
			if p == nil || sessions.PeerKind(p.Kind) != in.Peer.Kind || p.ID != in.Peer.ID {
				continue
			}
			return r.route(in, b.AgentID, accountID, MatchedByPeer)
		}
	}

	// Tier 2: guild/team-scoped bindings.
	if in.GuildID != "" || in.TeamID != "" {
		for _, b := range bindings {
			if b.Match.Provider != in.Provider || !accountMatches(b.Match.AccountID, accountID) {
				continue
			}
			if b.Match.Peer != nil {
				continue
			}
			if b.Match.GuildID == "" && b.Match.TeamID == "" {
				continue
			}
			if b.Match.GuildID != "" && b.Match.GuildID != in.GuildID {
				continue
			}
			if b.Match.TeamID != "" && b.Match.TeamID != in.TeamID {
				continue
			}
			return r.route(in, b.AgentID, accountID, MatchedByGuild)
		}
	}

	// Tier 3: explicit-account bindings with no peer/guild constraint.
	for _, b := range bindings {
		if b.Match.Provider != in.Provider {
			continue
		}
		if b.Match.Peer != nil || b.Match.GuildID != "" || b.Match.TeamID != "" {
			continue
		}
		if b.Match.AccountID == "" || b.Match.AccountID == "*" || b.Match.AccountID != accountID {
			continue
		}
		return r.route(in, b.AgentID, accountID, MatchedByAccount)
	}

	// Tier 4: provider catch-alls (accountId unset or "*").
	for _, b := range bindings {
		if b.Match.Provider != in.Provider {
			continue
		}
		if b.Match.Peer != nil || b.Match.GuildID != "" || b.Match.TeamID != "" {
			continue
		}
		if !accountMatches(b.Match.AccountID, accountID) {
			continue
		}
		return r.route(in, b.AgentID, accountID, MatchedByProvider)
	}

	// Tier 5: default agent.
	r.warnMultiDefault(in.Cfg)
	return r.route(in, in.Cfg.ResolveDefaultAgentID(), accountID, MatchedByDefault)
}

func (r *Resolver) route(in ResolveInput, agentID, accountID, matchedBy string) Route {
	agentID = sessions.NormalizeAgentID(agentID)
	return Route{
		AgentID:    agentID,
		AccountID:  accountID,
		SessionKey: r.sessionKey(in, agentID, matchedBy),
		MatchedBy:  matchedBy,
	}
}

// sessionKey derives the conversation scope. Peer- and guild-pinned matches
// always get a peer-qualified key so the pinned conversation keeps its own
// transcript. DMs collapse onto the agent's main session unless the operator
// opted into per-peer scoping; groups and channels are always per-peer.
func (r *Resolver) sessionKey(in ResolveInput, agentID, matchedBy string) string {
	switch matchedBy {
	case MatchedByPeer, MatchedByGuild:
		return sessions.BuildPeerSessionKey(agentID, in.Provider, in.Peer.Kind, in.Peer.ID)
	}
	if in.Peer.Kind == sessions.PeerDM || in.Peer.ID == "" {
		if in.Cfg.SessionDMScope() == "per-peer" && in.Peer.ID != "" {
			return sessions.BuildPeerSessionKey(agentID, in.Provider, in.Peer.Kind, in.Peer.ID)
		}
		return sessions.BuildAgentMainSessionKey(agentID)
	}
	return sessions.BuildPeerSessionKey(agentID, in.Provider, in.Peer.Kind, in.Peer.ID)
}

// accountMatches applies the binding account rules: an unset binding
// accountId matches only the default/unset account, "*" matches any account.
func accountMatches(bindingAccount, eventAccount string) bool {
	switch bindingAccount {
	case "*":
		return true
	case "":
		return eventAccount == DefaultAccountID
	default:
		return bindingAccount == eventAccount
	}
}

func normalizeAccountID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultAccountID
	}
	return trimmed
}

func (r *Resolver) warnMultiDefault(cfg *config.Config) {
	if cfg.DefaultAgentCount() <= 1 {
		return
	}
	r.mu.Lock()
	warned := r.warnedMultiDefault
	r.warnedMultiDefault = true
	r.mu.Unlock()
	if !warned {
		r.log.Warn("multiple agents flagged default, using the first",
			"default", cfg.ResolveDefaultAgentID())
	}
}
