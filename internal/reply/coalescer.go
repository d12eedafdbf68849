package reply

import (
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/config"
)

// Coalescer assembles a stream of reply fragments into flush events sized
// for the destination provider. Text accumulates until it crosses MaxChars
// (immediate flush) or the stream goes idle with at least MinChars buffered.
// Media never merges with text: buffered text always flushes first, then
// each media payload flushes on its own.
type Coalescer struct {
	cfg         config.ChunkConfig
	shouldAbort func() bool
	onFlush     func(Payload)

	mu       sync.Mutex
	frags    []string
	chars    int
	media    []Payload
	replyTo  string
	idle     *time.Timer
	stopped  bool
	flushing bool
}

// NewCoalescer creates a coalescer delivering flushes via onFlush.
// shouldAbort is consulted before every flush; when it returns true the
// buffer is dropped instead of emitted. Either callback may be nil.
func NewCoalescer(cfg config.ChunkConfig, shouldAbort func() bool, onFlush func(Payload)) *Coalescer {
	if shouldAbort == nil {
		shouldAbort = func() bool { return false }
	}
	if onFlush == nil {
		onFlush = func(Payload) {}
	}
	if cfg.MaxChars < 1 {
		cfg.MaxChars = 1
	}
	if cfg.MinChars > cfg.MaxChars {
		cfg.MinChars = cfg.MaxChars
	}
	return &Coalescer{cfg: cfg, shouldAbort: shouldAbort, onFlush: onFlush}
}

// Enqueue buffers one fragment. Crossing MaxChars flushes immediately;
// otherwise the idle timer re-arms so a quiet stream flushes on its own.
func (c *Coalescer) Enqueue(p Payload) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if p.HasMedia() {
		c.media = append(c.media, p)
		c.mu.Unlock()
		return
	}
	if p.Text != "" {
		c.frags = append(c.frags, p.Text)
		c.chars += len(p.Text)
	}
	if p.ReplyToID != "" {
		c.replyTo = p.ReplyToID
	}

	if c.chars >= c.cfg.MaxChars {
		c.stopIdleLocked()
		c.mu.Unlock()
		c.Flush(true)
		return
	}
	c.armIdleLocked()
	c.mu.Unlock()
}

// Flush emits buffered content. Without force, text is held back until it
// reaches MinChars — unless media is pending, which releases the text so it
// never trails a later media payload. With force everything goes.
func (c *Coalescer) Flush(force bool) {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true

	if c.shouldAbort() {
		c.frags, c.chars, c.media, c.replyTo = nil, 0, nil, ""
		c.flushing = false
		c.mu.Unlock()
		return
	}

	var out []Payload
	if c.chars > 0 && (force || len(c.media) > 0 || c.chars >= c.cfg.MinChars) {
		joiner := c.cfg.Joiner
		if joiner == "" {
			joiner = " "
		}
		out = append(out, Payload{Text: strings.Join(c.frags, joiner), ReplyToID: c.replyTo})
		c.frags, c.chars, c.replyTo = nil, 0, ""
	}
	out = append(out, c.media...)
	c.media = nil
	c.flushing = false
	c.mu.Unlock()

	for _, p := range out {
		c.onFlush(p)
	}
}

// Stop cancels the idle timer and drops any remaining buffer. Idempotent
// and safe after natural completion.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.stopIdleLocked()
	c.frags, c.chars, c.media, c.replyTo = nil, 0, nil, ""
}

// armIdleLocked (re)starts the idle-flush timer. Caller holds c.mu.
func (c *Coalescer) armIdleLocked() {
	if c.cfg.IdleMs <= 0 {
		return
	}
	d := time.Duration(c.cfg.IdleMs) * time.Millisecond
	if c.idle != nil {
		c.idle.Reset(d)
		return
	}
	c.idle = time.AfterFunc(d, c.idleFlush)
}

func (c *Coalescer) stopIdleLocked() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
}

// idleFlush fires when the stream goes quiet. Text below MinChars stays
// buffered for the next fragment to extend.
func (c *Coalescer) idleFlush() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.idle = nil
	c.mu.Unlock()
	c.Flush(false)
}
