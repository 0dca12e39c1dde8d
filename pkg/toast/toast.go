// Package toast implements a single transient status message region.
package toast

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTimeout is how long a message stays visible.
const DefaultTimeout = 5 * time.Second

// Kind is the styling class of a message.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Message is the content of the region.
type Message struct {
	Text string
	Kind Kind
}

// Toaster holds at most one message and clears it after a fixed timeout.
//
// Show replaces the current message and restarts the timer; there is no
// queue. Toaster is safe for concurrent use.
type Toaster struct {
	clock   clockwork.Clock
	timeout time.Duration

	mu       sync.Mutex
	current  *Message
	timer    clockwork.Timer
	gen      uint64
	onChange []func(Message, bool)
}

// New creates a Toaster. A nil clock uses the real clock; a non-positive
// timeout uses DefaultTimeout.
func New(clock clockwork.Clock, timeout time.Duration) *Toaster {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Toaster{clock: clock, timeout: timeout}
}

// OnChange registers fn to be called after every show and clear. fn runs
// without the toaster lock held.
func (t *Toaster) OnChange(fn func(msg Message, visible bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// Show replaces the message and (re)arms the auto-clear timer.
func (t *Toaster) Show(text string, kind Kind) {
	msg := Message{Text: text, Kind: kind}

	t.mu.Lock()
	t.current = &msg
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(gen) })
	observers := t.observers()
	t.mu.Unlock()

	for _, fn := range observers {
		fn(msg, true)
	}
}

// Success shows a success message.
func (t *Toaster) Success(text string) {
	t.Show(text, KindSuccess)
}

// Error shows an error message.
func (t *Toaster) Error(text string) {
	t.Show(text, KindError)
}

// Current returns the visible message, if any.
func (t *Toaster) Current() (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Message{}, false
	}
	return *t.current, true
}

// Clear removes the message immediately.
func (t *Toaster) Clear() {
	t.mu.Lock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	had := t.current != nil
	t.current = nil
	observers := t.observers()
	t.mu.Unlock()

	if had {
		for _, fn := range observers {
			fn(Message{}, false)
		}
	}
}

// expire clears the region unless a later Show superseded the timer that
// fired.
func (t *Toaster) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.current == nil {
		t.mu.Unlock()
		return
	}
	t.current = nil
	t.timer = nil
	observers := t.observers()
	t.mu.Unlock()

	for _, fn := range observers {
		fn(Message{}, false)
	}
}

func (t *Toaster) observers() []func(Message, bool) {
	out := make([]func(Message, bool), len(t.onChange))
	copy(out, t.onChange)
	return out
}
