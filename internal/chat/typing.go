package chat

import (
	"sync"
	"time"
)

// typingIdleTimeout is the quiet window after which a typing session ends
// and a stop signal is published on the typer's behalf.
const typingIdleTimeout = 1000 * time.Millisecond

type typingNotifier func(conversationID string, isTyping bool) error

// typingDebouncer collapses repeated typing signals into one start frame per
// quiet window. Repeated starts within the window only extend it; the window
// ends on an explicit stop or after idle silence, publishing a stop frame.
type typingDebouncer struct {
	idle   time.Duration
	notify typingNotifier

	mu             sync.Mutex
	conversationID string
	active         bool
	timer          *time.Timer
}

func newTypingDebouncer(idle time.Duration, notify typingNotifier) *typingDebouncer {
	if idle <= 0 {
		idle = typingIdleTimeout
	}
	return &typingDebouncer{idle: idle, notify: notify}
}

// Typing records a typing signal for conversationID. Only signal-edge
// transitions publish frames; loss of a frame is tolerated by peers.
func (d *typingDebouncer) Typing(conversationID string, isTyping bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !isTyping {
		d.stopLocked(true)
		return
	}
	if d.active && d.conversationID == conversationID {
		d.timer.Reset(d.idle)
		return
	}
	// Switching conversations mid-typing closes the old session first.
	d.stopLocked(true)

	d.conversationID = conversationID
	d.active = true
	_ = d.notify(conversationID, true)
	d.timer = time.AfterFunc(d.idle, d.expire)
}

// Cancel ends any in-flight typing session. When send is true the stop frame
// is still published so peers do not wait out their own expiry.
func (d *typingDebouncer) Cancel(send bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked(send)
}

func (d *typingDebouncer) stopLocked(send bool) {
	if !d.active {
		return
	}
	d.active = false
	if d.timer != nil {
		d.timer.Stop()
	}
	if send {
		_ = d.notify(d.conversationID, false)
	}
}

func (d *typingDebouncer) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked(true)
}
