package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	var fired []time.Time
	c.AfterFunc(250*time.Millisecond, func() { fired = append(fired, c.Now()) })

	c.Advance(249 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatal("fired before deadline")
	}
	c.Advance(time.Millisecond)
	if len(fired) != 1 {
		t.Fatalf("fired %d times, want 1", len(fired))
	}
	if want := epoch.Add(250 * time.Millisecond); !fired[0].Equal(want) {
		t.Fatalf("callback saw Now() = %v, want %v", fired[0], want)
	}
	c.Advance(time.Second)
	if len(fired) != 1 {
		t.Fatal("one-shot timer fired twice")
	}
}

func TestFakeStop(t *testing.T) {
	c := Fake(epoch)
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d", c.Pending())
	}
	if !timer.Stop() {
		t.Fatal("Stop() on active timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop() returned true")
	}
	c.Advance(2 * time.Second)
	if called {
		t.Fatal("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d after stop", c.Pending())
	}
}

func TestFakeDeadlineOrderAndRescheduling(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	c.AfterFunc(time.Second, func() {
		order = append(order, "a")
		// Scheduled from inside a callback, lands before "c".
		c.AfterFunc(time.Second, func() { order = append(order, "b") })
	})
	c.Advance(5 * time.Second)
	if got := len(order); got != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v", order)
	}
	if !c.Now().Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("Now() = %v", c.Now())
	}
}

func TestFakeAfter(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(time.Second)
	select {
	case <-ch:
		t.Fatal("After fired early")
	default:
	}
	c.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire")
	}
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(time.Minute)
	<-done
}
