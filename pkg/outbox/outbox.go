// Package outbox implements the per-session output pipeline: producers
// enqueue typed frames, a single consumer drains them in order and performs
// the actual write. The queue is bounded; a slow client degrades only its own
// session and never blocks the command pipeline.
package outbox

import (
	"log"
	"sync"
)

// FrameType classifies outbound frames for transport-specific encoding.
type FrameType int

const (
	// FrameLine is a regular in-game text line.
	FrameLine FrameType = iota
	// FrameSystem is an out-of-world server notice.
	FrameSystem
	// FramePrompt updates the input prompt. Consecutive pending prompts
	// supersede one another; only the latest matters to the client.
	FramePrompt
	// FrameRaw carries raw bytes (telnet IAC sequences).
	FrameRaw
	// FrameNotify is a structured side-channel event for rich clients.
	FrameNotify
)

// Frame is one queued output event.
type Frame struct {
	Type FrameType
	Text string
	Raw  []byte
	Data map[string]any // structured payload for FrameNotify
	Seq  uint64
}

// Sink performs the actual (fallible, potentially slow) write of one frame.
type Sink interface {
	WriteFrame(f Frame) error
}

// Outbox is a bounded, ordered, single-consumer output queue for one session.
type Outbox struct {
	mu      sync.Mutex
	queue   []Frame
	wake    chan struct{}
	done    chan struct{}
	max     int
	nextSeq uint64
	dropped uint64
	closed  bool

	// SessionID tags degradation log lines.
	SessionID int
}

// New creates an outbox holding at most max frames. When full, the oldest
// frame is dropped and the condition is logged as transport degradation.
func New(sessionID, max int) *Outbox {
	if max <= 0 {
		max = 256
	}
	return &Outbox{
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		max:       max,
		SessionID: sessionID,
	}
}

// Line enqueues a game text line.
func (o *Outbox) Line(text string) { o.push(Frame{Type: FrameLine, Text: text}) }

// System enqueues a server notice.
func (o *Outbox) System(text string) { o.push(Frame{Type: FrameSystem, Text: text}) }

// Prompt enqueues a prompt update, superseding any prompt still pending.
func (o *Outbox) Prompt(text string) { o.push(Frame{Type: FramePrompt, Text: text}) }

// Raw enqueues raw bytes for immediate transport-level write.
func (o *Outbox) Raw(b []byte) { o.push(Frame{Type: FrameRaw, Raw: b}) }

// Notify enqueues a structured side-channel event.
func (o *Outbox) Notify(kind string, data map[string]any) {
	o.push(Frame{Type: FrameNotify, Text: kind, Data: data})
}

// push never blocks. Overflow drops the oldest frame.
func (o *Outbox) push(f Frame) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.nextSeq++
	f.Seq = o.nextSeq

	if f.Type == FramePrompt {
		// Coalesce consecutive prompt updates only. A prompt with a line
		// queued behind it is stale history, not a pending prompt, and
		// replacing it would reorder the newer prompt ahead of that line.
		if n := len(o.queue); n > 0 && o.queue[n-1].Type == FramePrompt {
			o.queue[n-1] = f
			o.mu.Unlock()
			o.signal()
			return
		}
	}

	if len(o.queue) >= o.max {
		o.queue = o.queue[1:]
		o.dropped++
		if o.dropped == 1 || o.dropped%100 == 0 {
			log.Printf("[%d] outbox overflow: %d frames dropped (slow client)", o.SessionID, o.dropped)
		}
	}
	o.queue = append(o.queue, f)
	o.mu.Unlock()
	o.signal()
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Dropped returns the number of frames lost to overflow.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Depth returns the number of frames waiting.
func (o *Outbox) Depth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Close stops the consumer after the queue drains. Safe to call twice.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	close(o.done)
	o.signal()
}

// Run drains frames to sink in submission order until Close is called and
// the queue is empty, or the sink reports a write error. It is the session's
// single consumer; exactly one goroutine calls Run per outbox.
func (o *Outbox) Run(sink Sink) error {
	for {
		f, ok, closed := o.pop()
		if ok {
			if err := sink.WriteFrame(f); err != nil {
				return err
			}
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-o.wake:
		case <-o.done:
		}
	}
}

func (o *Outbox) pop() (Frame, bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return Frame{}, false, o.closed
	}
	f := o.queue[0]
	o.queue = o.queue[1:]
	return f, true, false
}
