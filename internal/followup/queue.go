// Package followup serializes inbound messages that arrive while a
// session's agent run is busy. Each session key owns an independent FIFO
// queue with a debounced drain, so renewed activity keeps extending the
// quiet window instead of stacking timers.
package followup

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// QueuedMessagesMarker prefixes a prompt assembled from several queued
// messages. Agents key off the literal text, so it must not change.
const QueuedMessagesMarker = "[Queued messages while agent was busy]"

// Queue modes.
const (
	ModeDebounce = "debounce"
	ModeCollect  = "collect"
)

// Drop policies applied when a key's queue exceeds its cap.
const (
	DropSummarize = "summarize" // fold overflow into an "N messages dropped" note
	DropOld       = "old"       // silently drop the oldest queued run
	DropNew       = "new"       // silently reject the incoming run
)

// RunSpec carries everything needed to start the queued agent run later.
type RunSpec struct {
	AgentID         string
	AgentDir        string
	SessionID       string
	SessionFile     string
	WorkspaceDir    string
	Provider        string
	Model           string
	TimeoutMs       int
	BlockReplyBreak string
}

// FollowupRun is one queued prompt plus the context to replay it.
type FollowupRun struct {
	Prompt             string
	EnqueuedAt         time.Time
	OriginatingChannel string
	OriginatingTo      string
	Run                RunSpec
}

// QueueSettings configure one key's queue. Immutable per dispatch; callers
// derive them from config before enqueueing.
type QueueSettings struct {
	Mode       string
	DebounceMs int
	Cap        int
	DropPolicy string
}

type keyState struct {
	entries  []FollowupRun
	settings QueueSettings
	dropped  int

	timer    *time.Timer
	run      func(FollowupRun)
	draining bool
}

// Queue holds the per-session-key followup queues. All methods are safe for
// concurrent use; entries for different keys never block each other beyond
// the shared map lock.
type Queue struct {
	mu     sync.Mutex
	states map[string]*keyState
}

// NewQueue creates an empty followup queue.
func NewQueue() *Queue {
	return &Queue{states: make(map[string]*keyState)}
}

// Enqueue appends a followup run for key. Under collect mode, a run whose
// (originatingChannel, originatingTo) exactly match the last queued run is
// merged into it instead of appended, so same-destination bursts drain as
// one prompt. When a drain is already armed, the debounce timer re-arms so
// the window resets on renewed activity.
func (q *Queue) Enqueue(key string, run FollowupRun, settings QueueSettings) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.states[key]
	if !ok {
		st = &keyState{}
		q.states[key] = st
	}
	st.settings = settings

	if settings.Mode == ModeCollect && len(st.entries) > 0 {
		last := &st.entries[len(st.entries)-1]
		if last.OriginatingChannel == run.OriginatingChannel && last.OriginatingTo == run.OriginatingTo {
			mergePrompt(last, run)
			q.rearmLocked(key, st)
			return
		}
	}

	if settings.Cap > 0 && len(st.entries) >= settings.Cap {
		switch settings.DropPolicy {
		case DropOld:
			st.entries = st.entries[1:]
		case DropNew:
			q.rearmLocked(key, st)
			return
		default: // DropSummarize
			st.dropped++
			q.rearmLocked(key, st)
			return
		}
	}

	st.entries = append(st.entries, run)
	q.rearmLocked(key, st)
}

func mergePrompt(last *FollowupRun, incoming FollowupRun) {
	if !strings.HasPrefix(last.Prompt, QueuedMessagesMarker) {
		last.Prompt = QueuedMessagesMarker + "\n" + last.Prompt
	}
	last.Prompt += "\n" + incoming.Prompt
	last.EnqueuedAt = incoming.EnqueuedAt
}

// ScheduleDrain arms the debounce timer for key. When it fires, pending
// runs are handed to runFollowup one at a time in enqueue order. Calling
// ScheduleDrain again, or enqueueing new runs, re-arms the existing timer
// rather than stacking a second one.
func (q *Queue) ScheduleDrain(key string, runFollowup func(FollowupRun)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.states[key]
	if !ok {
		st = &keyState{}
		q.states[key] = st
	}
	st.run = runFollowup
	q.rearmLocked(key, st)
}

// rearmLocked resets the drain timer if a drain callback is registered.
// Caller holds q.mu.
func (q *Queue) rearmLocked(key string, st *keyState) {
	if st.run == nil || st.draining {
		return
	}
	delay := time.Duration(st.settings.DebounceMs) * time.Millisecond
	if st.timer != nil {
		st.timer.Reset(delay)
		return
	}
	st.timer = time.AfterFunc(delay, func() { q.drain(key) })
}

// drain pops and runs entries for key in FIFO order until empty. Entries
// enqueued mid-drain join the same pass, preserving order.
func (q *Queue) drain(key string) {
	q.mu.Lock()
	st, ok := q.states[key]
	if !ok || st.draining {
		q.mu.Unlock()
		return
	}
	st.draining = true
	st.timer = nil

	for len(st.entries) > 0 {
		next := st.entries[0]
		st.entries = st.entries[1:]
		if st.dropped > 0 {
			next.Prompt += fmt.Sprintf("\n[%d messages dropped]", st.dropped)
			st.dropped = 0
		}
		run := st.run
		q.mu.Unlock()
		run(next)
		q.mu.Lock()
	}

	st.draining = false
	delete(q.states, key)
	q.mu.Unlock()
}

// Pending returns the number of queued runs for key.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.states[key]; ok {
		return len(st.entries)
	}
	return 0
}

// Stop cancels all armed timers without draining. Queued runs are
// discarded; used on shutdown.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, st := range q.states {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	q.states = make(map[string]*keyState)
}
