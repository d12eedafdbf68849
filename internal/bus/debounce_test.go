package bus

import (
	"sync"
	"testing"
	"time"
)

type flushRecorder struct {
	mu   sync.Mutex
	msgs []InboundMessage
}

func (r *flushRecorder) flush(msg InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *flushRecorder) snapshot() []InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]InboundMessage, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func TestDebouncerMergesBurst(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(30*time.Millisecond, rec.flush)
	defer d.Stop()

	d.Add(InboundMessage{Channel: "telegram", ChatID: "c1", SenderID: "u1", Content: "hello", MessageID: "1"})
	d.Add(InboundMessage{Channel: "telegram", ChatID: "c1", SenderID: "u1", Content: "one more thing", MessageID: "2"})

	deadline := time.Now().Add(time.Second)
	for len(rec.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	msgs := rec.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d flushes, want 1 merged message", len(msgs))
	}
	if msgs[0].Content != "hello\none more thing" {
		t.Errorf("merged content = %q", msgs[0].Content)
	}
	if msgs[0].MessageID != "2" {
		t.Errorf("merged message id = %q, want last id", msgs[0].MessageID)
	}
}

func TestDebouncerKeepsSendersSeparate(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(20*time.Millisecond, rec.flush)
	defer d.Stop()

	d.Add(InboundMessage{Channel: "telegram", ChatID: "c1", SenderID: "u1", Content: "from u1"})
	d.Add(InboundMessage{Channel: "telegram", ChatID: "c1", SenderID: "u2", Content: "from u2"})

	deadline := time.Now().Add(time.Second)
	for len(rec.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if msgs := rec.snapshot(); len(msgs) != 2 {
		t.Fatalf("got %d flushes, want 2 (one per sender)", len(msgs))
	}
}

func TestDebouncerMediaFlushesImmediately(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(time.Hour, rec.flush)
	defer d.Stop()

	d.Add(InboundMessage{Channel: "whatsapp", ChatID: "c1", SenderID: "u1", Content: "caption incoming"})
	d.Add(InboundMessage{Channel: "whatsapp", ChatID: "c1", SenderID: "u1", Content: "photo", Media: []string{"https://x/p.jpg"}})

	msgs := rec.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("got %d flushes, want pending text then media", len(msgs))
	}
	if msgs[0].Content != "caption incoming" {
		t.Errorf("pending text not drained first: %q", msgs[0].Content)
	}
	if len(msgs[1].Media) != 1 {
		t.Errorf("media message not flushed intact: %+v", msgs[1])
	}
}

func TestDebouncerZeroWindowPassesThrough(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(0, rec.flush)

	d.Add(InboundMessage{Channel: "discord", ChatID: "c1", SenderID: "u1", Content: "a"})
	d.Add(InboundMessage{Channel: "discord", ChatID: "c1", SenderID: "u1", Content: "b"})

	if msgs := rec.snapshot(); len(msgs) != 2 {
		t.Fatalf("got %d flushes, want 2 with window disabled", len(msgs))
	}
}

func TestDebouncerStopDrainsPending(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(time.Hour, rec.flush)

	d.Add(InboundMessage{Channel: "telegram", ChatID: "c1", SenderID: "u1", Content: "in flight"})
	d.Stop()

	msgs := rec.snapshot()
	if len(msgs) != 1 || msgs[0].Content != "in flight" {
		t.Fatalf("pending burst lost on Stop: %+v", msgs)
	}

	// Idempotent, and post-Stop messages pass through.
	d.Stop()
	d.Add(InboundMessage{Channel: "telegram", ChatID: "c1", SenderID: "u1", Content: "late"})
	if msgs := rec.snapshot(); len(msgs) != 2 {
		t.Fatalf("post-Stop message not delivered: %+v", msgs)
	}
}
