package session

import (
	"sync"
	"time"
)

// DefaultTypingIdle is how long composition may pause before typing-stop.
const DefaultTypingIdle = 3 * time.Second

// TypingNotifier debounces typing signals for one session: start fires once
// per burst of keystrokes, stop fires after the idle window or on Flush.
type TypingNotifier struct {
	idle   time.Duration
	signal func(isTyping bool)

	mu     sync.Mutex
	active bool
	gen    uint64
	timer  *time.Timer
}

// NewTypingNotifier calls signal(true) and signal(false) around bursts.
func NewTypingNotifier(idle time.Duration, signal func(isTyping bool)) *TypingNotifier {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingNotifier{idle: idle, signal: signal}
}

// Keystroke records composing activity.
func (n *TypingNotifier) Keystroke() {
	n.mu.Lock()
	start := !n.active
	n.active = true
	n.gen++
	gen := n.gen
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idle, func() { n.expire(gen) })
	n.mu.Unlock()

	if start {
		n.signal(true)
	}
}

// Flush ends the current burst now, e.g. on send or blur.
func (n *TypingNotifier) Flush() {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.gen++
	stop := n.active
	n.active = false
	n.mu.Unlock()

	if stop {
		n.signal(false)
	}
}

func (n *TypingNotifier) expire(gen uint64) {
	n.mu.Lock()
	if gen != n.gen || !n.active {
		n.mu.Unlock()
		return
	}
	n.active = false
	n.timer = nil
	n.mu.Unlock()

	n.signal(false)
}
