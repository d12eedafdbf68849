// Package sessions — canonical session key builder and parser.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{scope}
//
// Where {scope} is "main" for the agent's default conversation, or a
// provider-qualified peer scope:
//
//	agent:{agentId}:{provider}:{peerKind}:{peerId}
//
// Examples:
//
//	agent:main:main
//	agent:support:telegram:dm:386246614
//	agent:ops:discord:channel:c1
package sessions

import (
	"fmt"
	"strings"
)

// DefaultAgentID is the reserved fallback agent id. Blank or unparsable agent
// identifiers always normalize to it — never to an empty string.
const DefaultAgentID = "main"

// MainSessionScope is the scope segment of an agent's default conversation.
const MainSessionScope = "main"

// PeerKind distinguishes the conversation counterpart.
type PeerKind string

const (
	PeerDM      PeerKind = "dm"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

// NormalizeAgentID trims the raw id and falls back to DefaultAgentID when the
// result is empty. No case folding, no further validation: ids are free-form,
// but the reserved default id is disallowed as a user-creatable agent name
// elsewhere.
func NormalizeAgentID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return DefaultAgentID
	}
	return id
}

// BuildAgentMainSessionKey builds the shared "main" session key for an agent.
func BuildAgentMainSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:%s", NormalizeAgentID(agentID), MainSessionScope)
}

// BuildPeerSessionKey builds a provider-qualified peer session key.
//
//	agent:{agentId}:{provider}:{peerKind}:{peerId}
func BuildPeerSessionKey(agentID, provider string, kind PeerKind, peerID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", NormalizeAgentID(agentID), provider, kind, peerID)
}

// ParseAgentSessionKey extracts the agent id and scope from a canonical
// session key. ok is false when the key does not carry the expected
// "agent:" prefix — callers must treat that as "use default agent".
func ParseAgentSessionKey(key string) (agentID, scope string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// ResolveAgentIDFromSessionKey parses the key and normalizes the agent
// segment. The result is guaranteed non-empty: unparsable keys and blank
// agent segments both resolve to DefaultAgentID.
func ResolveAgentIDFromSessionKey(key string) string {
	agentID, _, ok := ParseAgentSessionKey(key)
	if !ok {
		return DefaultAgentID
	}
	return NormalizeAgentID(agentID)
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDM otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDM
}
