package timeutil

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// Timer is a re-armable, idempotent one-shot timer. Start is a no-op while
// the timer is already pending, and Cancel is a no-op if the timer is not
// pending -- exactly the semantics the refill engine needs to "arm a pulse
// if one is not already armed, then unschedule itself once it fires"
// (spec.md §4.2) without the call site tracking any extra state.
type Timer struct {
	clk clock.Clock
	d   time.Duration

	mu      sync.Mutex
	pending bool
	stop    chan struct{}

	C chan struct{}
}

// NewTimer creates a Timer that, once started, fires on C after d.
func NewTimer(clk clock.Clock, d time.Duration) *Timer {
	return &Timer{
		clk: clk,
		d:   d,
		C:   make(chan struct{}, 1),
	}
}

// Start arms the timer if it is not already pending. Returns true if this
// call armed it, false if it was already pending.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending {
		return false
	}
	t.pending = true
	t.stop = make(chan struct{})
	stop := t.stop
	after := t.clk.After(t.d)

	go func() {
		select {
		case <-after:
			t.mu.Lock()
			select {
			case <-stop:
				// Cancelled while the fire was in flight.
				t.mu.Unlock()
				return
			default:
			}
			t.pending = false
			t.mu.Unlock()
			select {
			case t.C <- struct{}{}:
			default:
			}
		case <-stop:
		}
	}()
	return true
}

// Cancel stops the timer if it is pending. Returns true if this call
// cancelled it, false if it was not pending.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.pending {
		return false
	}
	t.pending = false
	close(t.stop)
	return true
}

// Pending reports whether the timer is currently armed.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
