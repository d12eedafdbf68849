package reply

import (
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/config"
)

type flushLog struct {
	mu       sync.Mutex
	payloads []Payload
}

func (f *flushLog) add(p Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
}

func (f *flushLog) wait(t *testing.T, n int) []Payload {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := len(f.payloads)
		f.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Payload, len(f.payloads))
	copy(out, f.payloads)
	return out
}

func TestCoalescerMergesWithinIdleWindow(t *testing.T) {
	log := &flushLog{}
	c := NewCoalescer(config.ChunkConfig{MinChars: 1, MaxChars: 200, IdleMs: 50, Joiner: " "}, nil, log.add)
	defer c.Stop()

	c.Enqueue(Payload{Text: "Hello"})
	c.Enqueue(Payload{Text: "world"})

	got := log.wait(t, 1)
	if len(got) != 1 || got[0].Text != "Hello world" {
		t.Fatalf("flushes = %+v, want single \"Hello world\"", got)
	}
}

func TestCoalescerHoldsBelowMinChars(t *testing.T) {
	log := &flushLog{}
	c := NewCoalescer(config.ChunkConfig{MinChars: 10, MaxChars: 200, IdleMs: 30, Joiner: " "}, nil, log.add)
	defer c.Stop()

	c.Enqueue(Payload{Text: "short"})
	time.Sleep(80 * time.Millisecond)
	if got := log.wait(t, 0); len(got) != 0 {
		t.Fatalf("flushed below minChars: %+v", got)
	}

	// Crossing minChars releases the whole buffer in one flush.
	c.Enqueue(Payload{Text: "message"})
	got := log.wait(t, 1)
	if len(got) != 1 || got[0].Text != "short message" {
		t.Fatalf("flushes = %+v, want single \"short message\"", got)
	}
}

func TestCoalescerMaxCharsFlushesImmediately(t *testing.T) {
	log := &flushLog{}
	c := NewCoalescer(config.ChunkConfig{MinChars: 1, MaxChars: 8, IdleMs: 60_000, Joiner: " "}, nil, log.add)
	defer c.Stop()

	c.Enqueue(Payload{Text: "123456789"})

	got := log.wait(t, 1)
	if len(got) != 1 || got[0].Text != "123456789" {
		t.Fatalf("maxChars crossing did not flush: %+v", got)
	}
}

func TestCoalescerTextFlushesBeforeMedia(t *testing.T) {
	log := &flushLog{}
	c := NewCoalescer(config.ChunkConfig{MinChars: 1, MaxChars: 200, Joiner: " "}, nil, log.add)
	defer c.Stop()

	c.Enqueue(Payload{Text: "Hello"})
	c.Enqueue(Payload{Text: "world"})
	c.Enqueue(Payload{MediaURLs: []string{"https://example.com/a.png"}})
	c.Flush(true)

	got := log.wait(t, 2)
	if len(got) != 2 {
		t.Fatalf("got %d flushes, want text then media: %+v", len(got), got)
	}
	if got[0].Text != "Hello world" || got[0].HasMedia() {
		t.Errorf("first flush = %+v, want pure text", got[0])
	}
	if len(got[1].MediaURLs) != 1 || got[1].Text != "" {
		t.Errorf("second flush = %+v, want pure media", got[1])
	}
}

func TestCoalescerIdleFlushKeepsTextBeforeMedia(t *testing.T) {
	log := &flushLog{}
	c := NewCoalescer(config.ChunkConfig{MinChars: 50, MaxChars: 200, IdleMs: 20, Joiner: " "}, nil, log.add)
	defer c.Stop()

	// Text stays below MinChars, then media arrives and the stream goes
	// quiet. The idle flush must still emit the earlier text first.
	c.Enqueue(Payload{Text: "short"})
	c.Enqueue(Payload{MediaURL: "https://example.com/a.png"})

	got := log.wait(t, 2)
	if len(got) != 2 {
		t.Fatalf("got %d flushes, want text then media: %+v", len(got), got)
	}
	if got[0].Text != "short" || got[0].HasMedia() {
		t.Errorf("first flush = %+v, want the buffered text", got[0])
	}
	if got[1].MediaURL != "https://example.com/a.png" || got[1].Text != "" {
		t.Errorf("second flush = %+v, want the media payload", got[1])
	}
}

func TestCoalescerAbortDropsBuffer(t *testing.T) {
	log := &flushLog{}
	aborted := false
	c := NewCoalescer(config.ChunkConfig{MinChars: 1, MaxChars: 200, Joiner: " "},
		func() bool { return aborted }, log.add)
	defer c.Stop()

	c.Enqueue(Payload{Text: "doomed"})
	c.Enqueue(Payload{MediaURL: "https://example.com/x.png"})
	aborted = true
	c.Flush(true)

	if got := log.wait(t, 0); len(got) != 0 {
		t.Fatalf("aborted coalescer emitted: %+v", got)
	}

	// Buffer is gone, so un-aborting yields nothing either.
	aborted = false
	c.Flush(true)
	if got := log.wait(t, 0); len(got) != 0 {
		t.Fatalf("dropped buffer reappeared: %+v", got)
	}
}

func TestCoalescerStopIsIdempotent(t *testing.T) {
	log := &flushLog{}
	c := NewCoalescer(config.ChunkConfig{MinChars: 1, MaxChars: 200, IdleMs: 10, Joiner: " "}, nil, log.add)

	c.Enqueue(Payload{Text: "bye"})
	log.wait(t, 1)

	c.Stop()
	c.Stop()

	// Post-stop enqueues are ignored.
	c.Enqueue(Payload{Text: "late"})
	c.Flush(true)
	got := log.wait(t, 1)
	if len(got) != 1 {
		t.Fatalf("post-stop activity leaked: %+v", got)
	}
}
