package followup

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func makeRun(prompt, channel, to string) FollowupRun {
	return FollowupRun{
		Prompt:             prompt,
		EnqueuedAt:         time.Now(),
		OriginatingChannel: channel,
		OriginatingTo:      to,
		Run: RunSpec{
			AgentID:   "agent",
			SessionID: "sess",
			Provider:  "anthropic",
			Model:     "test-model",
			TimeoutMs: 10_000,
		},
	}
}

type drainRecorder struct {
	mu   sync.Mutex
	runs []FollowupRun
}

func (r *drainRecorder) run(f FollowupRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, f)
}

func (r *drainRecorder) wait(t *testing.T, n int) []FollowupRun {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.runs)
		r.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FollowupRun, len(r.runs))
	copy(out, r.runs)
	return out
}

func collectSettings() QueueSettings {
	return QueueSettings{Mode: ModeCollect, DebounceMs: 0, Cap: 50, DropPolicy: DropSummarize}
}

func TestCollectDoesNotMergeWhenDestinationsDiffer(t *testing.T) {
	q := NewQueue()
	rec := &drainRecorder{}
	key := "agent:a:main"

	q.Enqueue(key, makeRun("one", "slack", "channel:A"), collectSettings())
	q.Enqueue(key, makeRun("two", "slack", "channel:B"), collectSettings())
	q.ScheduleDrain(key, rec.run)

	runs := rec.wait(t, 2)
	if len(runs) != 2 {
		t.Fatalf("got %d drained runs, want 2", len(runs))
	}
	if runs[0].Prompt != "one" || runs[1].Prompt != "two" {
		t.Errorf("drain order broken: %q then %q", runs[0].Prompt, runs[1].Prompt)
	}
}

func TestCollectMergesWhenChannelAndDestinationMatch(t *testing.T) {
	q := NewQueue()
	rec := &drainRecorder{}
	key := "agent:a:main"

	q.Enqueue(key, makeRun("one", "slack", "channel:A"), collectSettings())
	q.Enqueue(key, makeRun("two", "slack", "channel:A"), collectSettings())
	q.ScheduleDrain(key, rec.run)

	runs := rec.wait(t, 1)
	if len(runs) != 1 {
		t.Fatalf("got %d drained runs, want 1 merged run", len(runs))
	}
	p := runs[0].Prompt
	if !strings.Contains(p, QueuedMessagesMarker) {
		t.Errorf("merged prompt missing marker: %q", p)
	}
	if !strings.Contains(p, "one") || !strings.Contains(p, "two") {
		t.Errorf("merged prompt missing originals: %q", p)
	}
	if runs[0].OriginatingChannel != "slack" || runs[0].OriginatingTo != "channel:A" {
		t.Errorf("merged run lost routing context: %+v", runs[0])
	}
}

func TestCollectMergesThreeWithoutStackingMarker(t *testing.T) {
	q := NewQueue()
	rec := &drainRecorder{}
	key := "agent:a:main"

	for _, p := range []string{"one", "two", "three"} {
		q.Enqueue(key, makeRun(p, "telegram", "123"), collectSettings())
	}
	q.ScheduleDrain(key, rec.run)

	runs := rec.wait(t, 1)
	if len(runs) != 1 {
		t.Fatalf("got %d drained runs, want 1", len(runs))
	}
	if n := strings.Count(runs[0].Prompt, QueuedMessagesMarker); n != 1 {
		t.Errorf("marker appears %d times, want 1: %q", n, runs[0].Prompt)
	}
}

func TestDebounceModeNeverMerges(t *testing.T) {
	q := NewQueue()
	rec := &drainRecorder{}
	key := "agent:a:main"
	settings := QueueSettings{Mode: ModeDebounce, DebounceMs: 0, Cap: 50, DropPolicy: DropSummarize}

	q.Enqueue(key, makeRun("one", "slack", "channel:A"), settings)
	q.Enqueue(key, makeRun("two", "slack", "channel:A"), settings)
	q.ScheduleDrain(key, rec.run)

	if runs := rec.wait(t, 2); len(runs) != 2 {
		t.Fatalf("got %d drained runs, want 2 under debounce mode", len(runs))
	}
}

func TestDrainPreservesFIFOAcrossKeys(t *testing.T) {
	q := NewQueue()
	rec := &drainRecorder{}
	settings := QueueSettings{Mode: ModeDebounce, DebounceMs: 0, Cap: 50}

	for _, p := range []string{"a", "b", "c"} {
		q.Enqueue("k1", makeRun(p, "telegram", "1"), settings)
	}
	q.ScheduleDrain("k1", rec.run)

	runs := rec.wait(t, 3)
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if runs[i].Prompt != want {
			t.Errorf("runs[%d].Prompt = %q, want %q", i, runs[i].Prompt, want)
		}
	}
}

func TestCapSummarizeFoldsDroppedCount(t *testing.T) {
	q := NewQueue()
	rec := &drainRecorder{}
	key := "agent:a:main"
	settings := QueueSettings{Mode: ModeDebounce, DebounceMs: 0, Cap: 2, DropPolicy: DropSummarize}

	q.Enqueue(key, makeRun("one", "telegram", "1"), settings)
	q.Enqueue(key, makeRun("two", "telegram", "2"), settings)
	q.Enqueue(key, makeRun("three", "telegram", "3"), settings) // over cap
	q.Enqueue(key, makeRun("four", "telegram", "4"), settings)  // over cap
	q.ScheduleDrain(key, rec.run)

	runs := rec.wait(t, 2)
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2 (cap)", len(runs))
	}
	if !strings.Contains(runs[0].Prompt, "[2 messages dropped]") {
		t.Errorf("first drained run missing drop note: %q", runs[0].Prompt)
	}
}

func TestCapDropOldKeepsNewest(t *testing.T) {
	q := NewQueue()
	rec := &drainRecorder{}
	key := "agent:a:main"
	settings := QueueSettings{Mode: ModeDebounce, DebounceMs: 0, Cap: 2, DropPolicy: DropOld}

	q.Enqueue(key, makeRun("one", "telegram", "1"), settings)
	q.Enqueue(key, makeRun("two", "telegram", "2"), settings)
	q.Enqueue(key, makeRun("three", "telegram", "3"), settings)
	q.ScheduleDrain(key, rec.run)

	runs := rec.wait(t, 2)
	if len(runs) != 2 || runs[0].Prompt != "two" || runs[1].Prompt != "three" {
		t.Fatalf("drop-old kept wrong entries: %+v", runs)
	}
}

func TestEnqueueReArmsDebounceWindow(t *testing.T) {
	q := NewQueue()
	rec := &drainRecorder{}
	key := "agent:a:main"
	settings := QueueSettings{Mode: ModeDebounce, DebounceMs: 60, Cap: 50}

	q.Enqueue(key, makeRun("one", "telegram", "1"), settings)
	q.ScheduleDrain(key, rec.run)

	// Keep enqueueing inside the window; drain must not fire early.
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		q.Enqueue(key, makeRun("more", "telegram", "1"), settings)
		rec.mu.Lock()
		n := len(rec.runs)
		rec.mu.Unlock()
		if n != 0 {
			t.Fatal("drain fired while activity kept re-arming the window")
		}
	}

	if runs := rec.wait(t, 4); len(runs) != 4 {
		t.Fatalf("got %d runs after quiet window, want 4", len(runs))
	}
}

func TestPendingAndStop(t *testing.T) {
	q := NewQueue()
	settings := QueueSettings{Mode: ModeDebounce, DebounceMs: 10_000, Cap: 50}

	q.Enqueue("k1", makeRun("one", "telegram", "1"), settings)
	q.Enqueue("k1", makeRun("two", "telegram", "2"), settings)
	if got := q.Pending("k1"); got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}
	if got := q.Pending("other"); got != 0 {
		t.Errorf("Pending(other) = %d, want 0", got)
	}

	q.Stop()
	if got := q.Pending("k1"); got != 0 {
		t.Errorf("Pending after Stop = %d, want 0", got)
	}
}
