package routing

import (
	"log/slog"
	"testing"

	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/sessions"
)

func cfgWith(bindings []config.AgentBinding, agents []config.AgentSpec) *config.Config {
	cfg := config.Default()
	cfg.Bindings = bindings
	cfg.Agents.List = agents
	return cfg
}

func binding(agentID string, m config.BindingMatch) config.AgentBinding {
	return config.AgentBinding{AgentID: agentID, Match: m}
}

func TestResolveEmptyConfigFallsThroughToDefault(t *testing.T) {
	r := NewResolver(slog.Default())
	route := r.Resolve(ResolveInput{
		Cfg:      cfgWith(nil, nil),
		Provider: "whatsapp",
		Peer:     Peer{Kind: sessions.PeerDM, ID: "+15551234567"},
	})

	want := Route{AgentID: "main", AccountID: "default", SessionKey: "agent:main:main", MatchedBy: MatchedByDefault}
	if route != want {
		t.Errorf("Resolve() = %+v, want %+v", route, want)
	}
}

func TestResolvePeerBindingBeatsBroaderMatches(t *testing.T) {
	cfg := cfgWith([]config.AgentBinding{
		binding("catchall", config.BindingMatch{Provider: "discord", AccountID: "*"}),
		binding("guildbot", config.BindingMatch{Provider: "discord", GuildID: "g1"}),
		binding("pinned", config.BindingMatch{
			Provider: "discord",
			Peer:     &config.BindingPeer{Kind: "channel", ID: "c42"},
		}),
	}, nil)

	r := NewResolver(slog.Default())
	route := r.Resolve(ResolveInput{
		Cfg:      cfg,
		Provider: "discord",
		Peer:     Peer{Kind: sessions.PeerChannel, ID: "c42"},
		GuildID:  "g1",
	})

	if route.MatchedBy != MatchedByPeer || route.AgentID != "pinned" {
		t.Errorf("peer binding did not win: %+v", route)
	}
	if route.SessionKey != "agent:pinned:discord:channel:c42" {
		t.Errorf("session key = %q", route.SessionKey)
	}
}

func TestResolveGuildBeatsAccount(t *testing.T) {
	cfg := cfgWith([]config.AgentBinding{
		binding("acct", config.BindingMatch{Provider: "discord", AccountID: "bot1"}),
		binding("guild", config.BindingMatch{Provider: "discord", AccountID: "bot1", GuildID: "g1"}),
	}, nil)

	r := NewResolver(slog.Default())
	route := r.Resolve(ResolveInput{
		Cfg:       cfg,
		Provider:  "discord",
		AccountID: "bot1",
		Peer:      Peer{Kind: sessions.PeerChannel, ID: "c1"},
		GuildID:   "g1",
	})

	if route.MatchedBy != MatchedByGuild || route.AgentID != "guild" {
		t.Errorf("guild binding did not win over account binding: %+v", route)
	}
}

func TestResolveTeamScopedBinding(t *testing.T) {
	cfg := cfgWith([]config.AgentBinding{
		binding("teams", config.BindingMatch{Provider: "msteams", AccountID: "*", TeamID: "t9"}),
	}, nil)

	r := NewResolver(slog.Default())
	route := r.Resolve(ResolveInput{
		Cfg:       cfg,
		Provider:  "msteams",
		AccountID: "corp",
		Peer:      Peer{Kind: sessions.PeerChannel, ID: "ch1"},
		TeamID:    "t9",
	})

	if route.MatchedBy != MatchedByGuild || route.AgentID != "teams" {
		t.Errorf("team binding not matched: %+v", route)
	}
}

func TestResolveAccountMatchingRules(t *testing.T) {
	cfg := cfgWith([]config.AgentBinding{
		binding("defaultacct", config.BindingMatch{Provider: "whatsapp"}),
		binding("biz", config.BindingMatch{Provider: "whatsapp", AccountID: "biz"}),
		binding("any", config.BindingMatch{Provider: "telegram", AccountID: "*"}),
	}, nil)

	tests := []struct {
		name          string
		provider      string
		accountID     string
		wantAgent     string
		wantAccount   string
		wantMatchedBy string
	}{
		// Omitted binding accountId matches the default/unset account only.
		{"unset account hits default-account binding", "whatsapp", "", "defaultacct", "default", MatchedByProvider},
		{"explicit account hits its own binding", "whatsapp", "biz", "biz", "biz", MatchedByAccount},
		// A non-default account never falls into an omitted-accountId binding.
		{"other account skips default-account binding", "whatsapp", "personal", "main", "personal", MatchedByDefault},
		{"wildcard matches any account", "telegram", "bot7", "any", "bot7", MatchedByProvider},
		{"wildcard matches default account too", "telegram", "", "any", "default", MatchedByProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(slog.Default())
			route := r.Resolve(ResolveInput{
				Cfg:       cfg,
				Provider:  tt.provider,
				AccountID: tt.accountID,
				Peer:      Peer{Kind: sessions.PeerDM, ID: "p1"},
			})
			if route.AgentID != tt.wantAgent {
				t.Errorf("agent = %q, want %q", route.AgentID, tt.wantAgent)
			}
			if route.AccountID != tt.wantAccount {
				t.Errorf("account = %q, want %q", route.AccountID, tt.wantAccount)
			}
			if route.MatchedBy != tt.wantMatchedBy {
				t.Errorf("matchedBy = %q, want %q", route.MatchedBy, tt.wantMatchedBy)
			}
		})
	}
}

func TestResolveFirstRegisteredWinsOnDuplicateMatch(t *testing.T) {
	cfg := cfgWith([]config.AgentBinding{
		binding("first", config.BindingMatch{Provider: "telegram", AccountID: "*"}),
		binding("second", config.BindingMatch{Provider: "telegram", AccountID: "*"}),
	}, nil)

	r := NewResolver(slog.Default())
	route := r.Resolve(ResolveInput{
		Cfg:      cfg,
		Provider: "telegram",
		Peer:     Peer{Kind: sessions.PeerDM, ID: "u1"},
	})

	if route.AgentID != "first" {
		t.Errorf("duplicate match tuple resolved to %q, want first-registered", route.AgentID)
	}
}

func TestResolveDMSessionScope(t *testing.T) {
	cfg := cfgWith(nil, []config.AgentSpec{{ID: "solo"}})

	r := NewResolver(slog.Default())
	route := r.Resolve(ResolveInput{
		Cfg:      cfg,
		Provider: "telegram",
		Peer:     Peer{Kind: sessions.PeerDM, ID: "386246614"},
	})
	if route.SessionKey != "agent:solo:main" {
		t.Errorf("dm session key = %q, want shared main", route.SessionKey)
	}

	cfg.Sessions.DMScope = "per-peer"
	route = r.Resolve(ResolveInput{
		Cfg:      cfg,
		Provider: "telegram",
		Peer:     Peer{Kind: sessions.PeerDM, ID: "386246614"},
	})
	if route.SessionKey != "agent:solo:telegram:dm:386246614" {
		t.Errorf("per-peer dm session key = %q", route.SessionKey)
	}
}

func TestResolveGroupAlwaysPeerScoped(t *testing.T) {
	cfg := cfgWith(nil, nil)

	r := NewResolver(slog.Default())
	route := r.Resolve(ResolveInput{
		Cfg:      cfg,
		Provider: "whatsapp",
		Peer:     Peer{Kind: sessions.PeerGroup, ID: "grp-7"},
	})

	if route.SessionKey != "agent:main:whatsapp:group:grp-7" {
		t.Errorf("group session key = %q", route.SessionKey)
	}
}

func TestResolveWarnsOnceForMultipleDefaults(t *testing.T) {
	cfg := cfgWith(nil, []config.AgentSpec{
		{ID: "alpha", Default: true},
		{ID: "beta", Default: true},
	})

	r := NewResolver(slog.Default())
	in := ResolveInput{Cfg: cfg, Provider: "telegram", Peer: Peer{Kind: sessions.PeerDM, ID: "u1"}}

	route := r.Resolve(in)
	if route.AgentID != "alpha" {
		t.Errorf("agent = %q, want first flagged default", route.AgentID)
	}
	if !r.warnedMultiDefault {
		t.Error("multiple-default warning not recorded")
	}

	// Warned-once state is per resolver, so a fresh one warns again.
	r2 := NewResolver(slog.Default())
	r2.Resolve(in)
	if !r2.warnedMultiDefault {
		t.Error("fresh resolver did not warn")
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	cfg := cfgWith([]config.AgentBinding{
		binding("a", config.BindingMatch{Provider: "discord", GuildID: "g1"}),
		binding("b", config.BindingMatch{Provider: "discord", AccountID: "*"}),
	}, nil)

	r := NewResolver(slog.Default())
	in := ResolveInput{
		Cfg:      cfg,
		Provider: "discord",
		Peer:     Peer{Kind: sessions.PeerChannel, ID: "c1"},
		GuildID:  "g1",
	}

	first := r.Resolve(in)
	for i := 0; i < 5; i++ {
		if got := r.Resolve(in); got != first {
			t.Fatalf("resolution not pure: %+v vs %+v", got, first)
		}
	}
}
