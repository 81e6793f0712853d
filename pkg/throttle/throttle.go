// Package throttle coalesces bursts of local edits into a single propagation.
//
// Each edit restarts one countdown. When the countdown runs out with no further edit, the most recent content is
// handed to the fire callback exactly once. An edit to a different file, or Cancel, drops whatever was pending:
// the throttle tracks one burst at a time, not one per file.
package throttle

import (
	"time"

	"github.com/astromechza/codecollab/pkg/clock"
	"github.com/astromechza/codecollab/pkg/loop"
)

const DefaultWindow = 250 * time.Millisecond

// PendingEdit is the un-propagated tail of a burst.
type PendingEdit struct {
	Filename string
	Content  string
	Deadline time.Time
}

// Throttle must only be used from the goroutine that drains its scheduler. The timer callback does nothing but
// post the expiry onto the scheduler, so fire always runs there too.
type Throttle struct {
	window time.Duration
	clock  clock.Clock
	sched  loop.Scheduler
	fire   func(PendingEdit)

	pending    *PendingEdit
	timer      clock.Timer
	generation uint64
}

func New(window time.Duration, clk clock.Clock, sched loop.Scheduler, fire func(PendingEdit)) *Throttle {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Throttle{window: window, clock: clk, sched: sched, fire: fire}
}

func (t *Throttle) Window() time.Duration {
	return t.window
}

// Touch records an edit and restarts the countdown.
func (t *Throttle) Touch(filename, content string) {
	t.stop()
	t.generation++
	generation := t.generation
	t.pending = &PendingEdit{Filename: filename, Content: content, Deadline: t.clock.Now().Add(t.window)}
	t.timer = t.clock.AfterFunc(t.window, func() {
		t.sched.Post(func() { t.expire(generation) })
	})
}

// Cancel drops the pending edit, if any, and reports whether there was one.
func (t *Throttle) Cancel() bool {
	had := t.pending != nil
	t.stop()
	t.generation++
	return had
}

// Flush fires the pending edit now instead of at its deadline and reports whether there was one.
func (t *Throttle) Flush() bool {
	if t.pending == nil {
		return false
	}
	edit := *t.pending
	t.stop()
	t.generation++
	t.fire(edit)
	return true
}

// Rename retargets a pending edit for oldName at newName without touching its deadline.
func (t *Throttle) Rename(oldName, newName string) {
	if t.pending != nil && t.pending.Filename == oldName {
		t.pending.Filename = newName
	}
}

func (t *Throttle) Pending() (PendingEdit, bool) {
	if t.pending == nil {
		return PendingEdit{}, false
	}
	return *t.pending, true
}

// PendingFor reports whether an edit to filename is waiting to propagate.
func (t *Throttle) PendingFor(filename string) bool {
	return t.pending != nil && t.pending.Filename == filename
}

func (t *Throttle) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
}

func (t *Throttle) expire(generation uint64) {
	// A superseded timer may already have posted its expiry before Stop.
	if generation != t.generation || t.pending == nil {
		return
	}
	edit := *t.pending
	t.pending = nil
	t.timer = nil
	t.fire(edit)
}
