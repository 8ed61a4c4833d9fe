package session

import (
	"sync"
	"testing"
	"time"
)

type signalLog struct {
	mu  sync.Mutex
	got []bool
}

func (s *signalLog) record(isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, isTyping)
}

func (s *signalLog) snapshot() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.got...)
}

func TestTypingStartsOncePerBurst(t *testing.T) {
	var log signalLog
	n := NewTypingNotifier(time.Hour, log.record)

	n.Keystroke()
	n.Keystroke()
	n.Keystroke()
	if got := log.snapshot(); len(got) != 1 || !got[0] {
		t.Fatalf("expected a single start, got %v", got)
	}

	n.Flush()
	n.Flush()
	if got := log.snapshot(); len(got) != 2 || got[1] {
		t.Fatalf("expected a single stop after flush, got %v", got)
	}
}

func TestTypingStopsAfterIdle(t *testing.T) {
	var log signalLog
	n := NewTypingNotifier(30*time.Millisecond, log.record)

	n.Keystroke()
	deadline := time.Now().Add(2 * time.Second)
	for len(log.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("idle stop never fired, got %v", log.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := log.snapshot(); got[0] != true || got[1] != false {
		t.Fatalf("expected start then stop, got %v", got)
	}

	n.Keystroke()
	n.Flush()
	time.Sleep(60 * time.Millisecond)
	if got := log.snapshot(); len(got) != 4 {
		t.Fatalf("flush must cancel the pending idle stop, got %v", got)
	}
}

func TestTypingFlushWithoutBurstIsSilent(t *testing.T) {
	var log signalLog
	n := NewTypingNotifier(0, log.record)
	n.Flush()
	if got := log.snapshot(); len(got) != 0 {
		t.Fatalf("expected no signal, got %v", got)
	}
}
