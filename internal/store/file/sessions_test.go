package file

import (
	"testing"
	"time"
)

func TestSessionIndexTouchAndGet(t *testing.T) {
	idx, err := NewSessionIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	idx.Touch("agent:main:main", "main", "telegram", "123")

	meta, ok := idx.Get("agent:main:main")
	if !ok {
		t.Fatal("entry missing after Touch")
	}
	if meta.AgentID != "main" || meta.LastChannel != "telegram" || meta.LastChatID != "123" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", meta.RunCount)
	}

	idx.Touch("agent:main:main", "", "discord", "c9")
	meta, _ = idx.Get("agent:main:main")
	if meta.RunCount != 2 || meta.LastChannel != "discord" {
		t.Errorf("meta after second touch = %+v", meta)
	}
}

func TestSessionIndexDerivesAgentFromKey(t *testing.T) {
	idx, err := NewSessionIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	idx.Touch("agent:support:telegram:dm:42", "", "telegram", "42")
	meta, _ := idx.Get("agent:support:telegram:dm:42")
	if meta.AgentID != "support" {
		t.Errorf("AgentID = %q, want derived from key", meta.AgentID)
	}
}

func TestSessionIndexPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewSessionIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	idx.Touch("agent:main:main", "main", "telegram", "123")

	reloaded, err := NewSessionIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	meta, ok := reloaded.Get("agent:main:main")
	if !ok || meta.LastChannel != "telegram" {
		t.Fatalf("reloaded entry = %+v, ok=%v", meta, ok)
	}
}

func TestSessionIndexListNewestFirst(t *testing.T) {
	idx, err := NewSessionIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	idx.Touch("agent:a:main", "a", "telegram", "1")
	time.Sleep(5 * time.Millisecond)
	idx.Touch("agent:b:main", "b", "discord", "2")

	all := idx.List("")
	if len(all) != 2 || all[0].Key != "agent:b:main" {
		t.Errorf("List order wrong: %+v", all)
	}

	only := idx.List("a")
	if len(only) != 1 || only[0].AgentID != "a" {
		t.Errorf("filtered list = %+v", only)
	}
}

func TestSessionIndexLastUsedChannel(t *testing.T) {
	idx, err := NewSessionIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	channel, chatID := idx.LastUsedChannel("main")
	if channel != "" || chatID != "" {
		t.Errorf("empty index returned %q/%q", channel, chatID)
	}

	idx.Touch("agent:main:main", "main", "telegram", "123")
	channel, chatID = idx.LastUsedChannel("main")
	if channel != "telegram" || chatID != "123" {
		t.Errorf("LastUsedChannel = %q/%q", channel, chatID)
	}
}

func TestSessionIndexDelete(t *testing.T) {
	idx, err := NewSessionIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	idx.Touch("agent:main:main", "main", "telegram", "123")
	if err := idx.Delete("agent:main:main"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := idx.Get("agent:main:main"); ok {
		t.Error("entry survived Delete")
	}
	if err := idx.Delete("agent:main:main"); err == nil {
		t.Error("second Delete should report not found")
	}
}
