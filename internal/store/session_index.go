// Package store defines the session metadata index. The agent runtime owns
// transcript contents; this index only tracks which sessions exist and
// where their last conversation happened, keyed by canonical session key.
package store

import "time"

// SessionMeta is the recorded metadata of one session.
type SessionMeta struct {
	Key         string    `json:"key"`
	AgentID     string    `json:"agentId"`
	LastChannel string    `json:"lastChannel,omitempty"`
	LastChatID  string    `json:"lastChatId,omitempty"`
	RunCount    int       `json:"runCount"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// SessionIndex manages session metadata.
type SessionIndex interface {
	// Touch records activity on a session, creating the entry on first use.
	Touch(key, agentID, channel, chatID string)

	// Get returns the metadata for a session key.
	Get(key string) (SessionMeta, bool)

	// List returns sessions, newest first. Empty agentID lists all.
	List(agentID string) []SessionMeta

	// LastUsedChannel returns where the agent's most recent conversation
	// happened, for replies initiated without an inbound message.
	LastUsedChannel(agentID string) (channel, chatID string)

	// Delete removes a session entry.
	Delete(key string) error
}
