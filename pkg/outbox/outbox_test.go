package outbox

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// captureSink records frames in arrival order.
type captureSink struct {
	mu     sync.Mutex
	frames []Frame
	err    error
	slow   time.Duration
}

func (s *captureSink) WriteFrame(f Frame) error {
	if s.slow > 0 {
		time.Sleep(s.slow)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *captureSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Text
	}
	return out
}

func TestDeliveryOrder(t *testing.T) {
	o := New(1, 16)
	sink := &captureSink{}
	done := make(chan error, 1)
	go func() { done <- o.Run(sink) }()

	o.Line("one")
	o.System("two")
	o.Line("three")
	o.Close()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := sink.texts()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPromptCoalescing(t *testing.T) {
	o := New(1, 16)
	// No consumer yet: prompts pile up and must coalesce.
	o.Line("hello")
	o.Prompt("p1")
	o.Prompt("p2")
	o.Prompt("p3")

	sink := &captureSink{}
	done := make(chan error, 1)
	go func() { done <- o.Run(sink) }()
	o.Close()
	<-done

	prompts := 0
	var last string
	for _, f := range sink.frames {
		if f.Type == FramePrompt {
			prompts++
			last = f.Text
		}
	}
	if prompts != 1 {
		t.Errorf("delivered %d prompts, want 1", prompts)
	}
	if last != "p3" {
		t.Errorf("delivered prompt %q, want %q", last, "p3")
	}
}

func TestPromptBehindLineNotCoalesced(t *testing.T) {
	o := New(1, 16)
	// A line already queued after the first prompt pins it in place: the
	// newer prompt must be appended, not swapped in ahead of the line.
	o.Prompt("p1")
	o.Line("hello")
	o.Prompt("p2")

	sink := &captureSink{}
	done := make(chan error, 1)
	go func() { done <- o.Run(sink) }()
	o.Close()
	<-done

	got := sink.texts()
	want := []string{"p1", "hello", "p2"}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if last := sink.frames[len(sink.frames)-1]; last.Type != FramePrompt {
		t.Errorf("final frame type = %v, want prompt", last.Type)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	o := New(1, 3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		o.Line(s)
	}
	if o.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", o.Dropped())
	}

	sink := &captureSink{}
	done := make(chan error, 1)
	go func() { done <- o.Run(sink) }()
	o.Close()
	<-done

	got := sink.texts()
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProducersNeverBlock(t *testing.T) {
	o := New(1, 4)
	// No consumer at all; pushing far past capacity must return promptly.
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			o.Line("spam")
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on full outbox")
	}
}

func TestSinkErrorStopsConsumer(t *testing.T) {
	o := New(1, 16)
	sink := &captureSink{err: errors.New("broken pipe")}
	done := make(chan error, 1)
	go func() { done <- o.Run(sink) }()
	o.Line("x")
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected write error from Run")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on sink error")
	}
}

func TestCloseAfterDrain(t *testing.T) {
	o := New(1, 16)
	sink := &captureSink{}
	done := make(chan error, 1)
	go func() { done <- o.Run(sink) }()
	o.Line("last words")
	o.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sink.texts(); len(got) != 1 || got[0] != "last words" {
		t.Errorf("frames = %v, want [last words]", got)
	}
}
