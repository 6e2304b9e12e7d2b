package timeutil

import (
	"testing"
	"time"
)

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}
	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now() after advance = %v", got)
	}
}

func TestMockTimerFiresOnce(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its deadline")
	default:
	}

	c.Advance(31 * time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire past its deadline")
	}

	// Further advances must not fire again.
	c.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Fatal("timer fired twice")
	default:
	}
}

func TestMockTimerStop(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(time.Second)
	if !timer.Stop() {
		t.Error("Stop() on a pending timer should report true")
	}
	c.Advance(time.Minute)
	select {
	case <-timer.C():
		t.Error("stopped timer fired")
	default:
	}
	if timer.Stop() {
		t.Error("second Stop() should report false")
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before.Add(-time.Second)) {
		t.Errorf("RealClock.Now() = %v, too far behind %v", now, before)
	}
	timer := c.NewTimer(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("real timer did not fire")
	}
}
