package clock

import (
	"testing"
	"time"
)

var _ Clock = (*RealClock)(nil)

func TestRealClock_Now(t *testing.T) {
	c := NewRealClock()

	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, want within [%v, %v]", got, before, after)
	}
}

func TestRealClock_AfterFunc_Fires(t *testing.T) {
	c := NewRealClock()

	fired := make(chan struct{})
	timer := c.AfterFunc(5*time.Millisecond, func() { close(fired) })
	if timer == nil {
		t.Fatal("AfterFunc returned a nil Timer")
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}

	if timer.Stop() {
		t.Error("Stop() after firing should report false")
	}
}

func TestRealClock_AfterFunc_StopCancels(t *testing.T) {
	c := NewRealClock()

	fired := make(chan struct{})
	timer := c.AfterFunc(100*time.Millisecond, func() { close(fired) })

	if !timer.Stop() {
		t.Fatal("Stop() before firing should report true")
	}

	select {
	case <-fired:
		t.Error("callback fired after Stop()")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRealClock_AfterFunc_ZeroDuration(t *testing.T) {
	c := NewRealClock()

	fired := make(chan struct{})
	c.AfterFunc(0, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Error("zero-duration callback never fired")
	}
}
