package bus

import (
	"strings"
	"sync"
	"time"
)

// InboundDebouncer merges bursts of messages from the same sender in the
// same chat into one inbound message, so a user typing three quick lines
// triggers one agent run instead of three. Media-bearing messages flush
// immediately and are never merged.
type InboundDebouncer struct {
	window time.Duration
	flush  func(InboundMessage)

	mu      sync.Mutex
	pending map[string]*pendingBurst
	stopped bool
}

type pendingBurst struct {
	msg   InboundMessage
	timer *time.Timer
}

// NewInboundDebouncer creates a debouncer delivering merged messages via
// flush. A window of 0 disables merging: every message flushes straight
// through.
func NewInboundDebouncer(window time.Duration, flush func(InboundMessage)) *InboundDebouncer {
	return &InboundDebouncer{
		window:  window,
		flush:   flush,
		pending: make(map[string]*pendingBurst),
	}
}

// Add accepts an inbound message, either merging it into a pending burst or
// starting a new one.
func (d *InboundDebouncer) Add(msg InboundMessage) {
	if d.window <= 0 || len(msg.Media) > 0 {
		d.flushNow(msg)
		return
	}

	key := msg.Channel + "\x00" + msg.AccountID + "\x00" + msg.ChatID + "\x00" + msg.SenderID

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.flush(msg)
		return
	}
	if burst, ok := d.pending[key]; ok {
		burst.msg.Content = strings.TrimRight(burst.msg.Content, "\n") + "\n" + msg.Content
		burst.msg.MessageID = msg.MessageID // last id wins for reply threading
		burst.timer.Reset(d.window)
		d.mu.Unlock()
		return
	}
	burst := &pendingBurst{msg: msg}
	burst.timer = time.AfterFunc(d.window, func() { d.expire(key) })
	d.pending[key] = burst
	d.mu.Unlock()
}

func (d *InboundDebouncer) expire(key string) {
	d.mu.Lock()
	burst, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		d.flush(burst.msg)
	}
}

// flushNow delivers msg immediately, first draining any pending burst for
// the same sender so ordering is preserved.
func (d *InboundDebouncer) flushNow(msg InboundMessage) {
	key := msg.Channel + "\x00" + msg.AccountID + "\x00" + msg.ChatID + "\x00" + msg.SenderID

	d.mu.Lock()
	burst, ok := d.pending[key]
	if ok {
		burst.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if ok {
		d.flush(burst.msg)
	}
	d.flush(msg)
}

// Stop flushes every pending burst and stops all timers. Messages added
// after Stop pass straight through.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	bursts := make([]*pendingBurst, 0, len(d.pending))
	for _, b := range d.pending {
		b.timer.Stop()
		bursts = append(bursts, b)
	}
	d.pending = make(map[string]*pendingBurst)
	d.mu.Unlock()

	for _, b := range bursts {
		d.flush(b.msg)
	}
}
