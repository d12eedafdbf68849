// Package file is the JSON-file backend of the session index.
package file

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/sessions"
	"github.com/nextlevelbuilder/relaygate/internal/store"
)

const indexFileName = "index.json"

// SessionIndex persists session metadata as one JSON file under dir.
// Writes go through a temp file plus rename so a crash never leaves a
// half-written index.
type SessionIndex struct {
	dir string

	mu      sync.RWMutex
	entries map[string]*store.SessionMeta
}

// NewSessionIndex loads (or creates) the index in dir.
func NewSessionIndex(dir string) (*SessionIndex, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}

	idx := &SessionIndex{dir: dir, entries: make(map[string]*store.SessionMeta)}

	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}

	var list []*store.SessionMeta
	if err := json.Unmarshal(data, &list); err != nil {
		// A corrupt index is recoverable: start fresh, keep the old file
		// aside for inspection.
		slog.Warn("session index corrupt, starting fresh", "error", err)
		_ = os.Rename(filepath.Join(dir, indexFileName), filepath.Join(dir, indexFileName+".bak"))
		return idx, nil
	}
	for _, meta := range list {
		idx.entries[meta.Key] = meta
	}
	return idx, nil
}

// Touch records activity on a session, creating the entry on first use.
func (s *SessionIndex) Touch(key, agentID, channel, chatID string) {
	now := time.Now()

	s.mu.Lock()
	meta, ok := s.entries[key]
	if !ok {
		if agentID == "" {
			agentID = sessions.ResolveAgentIDFromSessionKey(key)
		}
		meta = &store.SessionMeta{Key: key, AgentID: agentID, Created: now}
		s.entries[key] = meta
	}
	if channel != "" {
		meta.LastChannel = channel
	}
	if chatID != "" {
		meta.LastChatID = chatID
	}
	meta.RunCount++
	meta.Updated = now
	s.mu.Unlock()

	s.save()
}

// Get returns the metadata for a session key.
func (s *SessionIndex) Get(key string) (store.SessionMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if meta, ok := s.entries[key]; ok {
		return *meta, true
	}
	return store.SessionMeta{}, false
}

// List returns sessions, newest first. Empty agentID lists all.
func (s *SessionIndex) List(agentID string) []store.SessionMeta {
	s.mu.RLock()
	out := make([]store.SessionMeta, 0, len(s.entries))
	for _, meta := range s.entries {
		if agentID != "" && meta.AgentID != agentID {
			continue
		}
		out = append(out, *meta)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out
}

// LastUsedChannel returns where the agent's most recent conversation
// happened.
func (s *SessionIndex) LastUsedChannel(agentID string) (string, string) {
	for _, meta := range s.List(agentID) {
		if meta.LastChannel != "" {
			return meta.LastChannel, meta.LastChatID
		}
	}
	return "", ""
}

// Delete removes a session entry.
func (s *SessionIndex) Delete(key string) error {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", key)
	}
	s.save()
	return nil
}

// save writes the index atomically. Errors are logged, not returned: a
// failed persist must never break message flow.
func (s *SessionIndex) save() {
	s.mu.RLock()
	list := make([]*store.SessionMeta, 0, len(s.entries))
	for _, meta := range s.entries {
		list = append(list, meta)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		slog.Error("marshal session index", "error", err)
		return
	}

	target := filepath.Join(s.dir, indexFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		slog.Error("write session index", "error", err)
		return
	}
	if err := os.Rename(tmp, target); err != nil {
		slog.Error("rename session index", "error", err)
	}
}
