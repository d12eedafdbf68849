package reply

import (
	"context"
	"log/slog"
	"sync"
)

// SendKind categorizes a queued dispatcher send.
type SendKind string

const (
	SendTool  SendKind = "tool"
	SendBlock SendKind = "block"
	SendFinal SendKind = "final"
)

// QueuedCounts is a diagnostic snapshot of pending sends per category.
type QueuedCounts struct {
	Tool  int `json:"tool"`
	Block int `json:"block"`
	Final int `json:"final"`
}

// DeliverFunc performs one actual provider send.
type DeliverFunc func(kind SendKind, p Payload) error

// Dispatcher sequences tool-result, block, and final sends for one
// conversation turn. Sends are queued and delivered in order by a single
// worker, so a slow provider call never reorders replies. Send methods
// report acceptance, never raise: a failed delivery is logged and swallowed
// so one bad send cannot abort the turn.
type Dispatcher struct {
	deliver DeliverFunc
	log     *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []queuedSend
	counts  QueuedCounts
	working bool
	closed  bool
}

type queuedSend struct {
	kind SendKind
	p    Payload
}

// NewDispatcher creates a dispatcher delivering through deliver.
func NewDispatcher(deliver DeliverFunc, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{deliver: deliver, log: log}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// SendToolResult queues a tool-result notice.
func (d *Dispatcher) SendToolResult(p Payload) bool { return d.enqueue(SendTool, p) }

// SendBlockReply queues an intermediate block reply.
func (d *Dispatcher) SendBlockReply(p Payload) bool { return d.enqueue(SendBlock, p) }

// SendFinalReply queues the turn's final reply.
func (d *Dispatcher) SendFinalReply(p Payload) bool { return d.enqueue(SendFinal, p) }

func (d *Dispatcher) enqueue(kind SendKind, p Payload) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, queuedSend{kind: kind, p: p})
	d.bump(kind, 1)
	if !d.working {
		d.working = true
		go d.work()
	}
	d.mu.Unlock()
	return true
}

// work drains the queue in FIFO order on a single goroutine.
func (d *Dispatcher) work() {
	d.mu.Lock()
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		if err := d.deliver(next.kind, next.p); err != nil {
			d.log.Warn("reply send failed", "kind", next.kind, "error", err)
		}

		d.mu.Lock()
		d.bump(next.kind, -1)
	}
	d.working = false
	d.cond.Broadcast()
	d.mu.Unlock()
}

func (d *Dispatcher) bump(kind SendKind, delta int) {
	switch kind {
	case SendTool:
		d.counts.Tool += delta
	case SendBlock:
		d.counts.Block += delta
	case SendFinal:
		d.counts.Final += delta
	}
}

// WaitForIdle blocks until every queued send has completed or ctx is done.
// Called before a session starts its next turn.
func (d *Dispatcher) WaitForIdle(ctx context.Context) error {
	cancelled := false
	done := make(chan struct{})
	go func() {
		d.mu.Lock()
		for !cancelled && (d.working || len(d.queue) > 0) {
			d.cond.Wait()
		}
		d.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Flag the waiter cancelled under the lock, then wake it and wait
		// for it to exit so no waiter outlives its call.
		d.mu.Lock()
		cancelled = true
		d.mu.Unlock()
		d.cond.Broadcast()
		<-done
		return ctx.Err()
	}
}

// GetQueuedCounts returns a snapshot of pending sends by category,
// including the send currently in flight.
func (d *Dispatcher) GetQueuedCounts() QueuedCounts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

// Close rejects further sends. In-flight deliveries finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}
