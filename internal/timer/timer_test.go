package timer

import "testing"

func TestElapsedWraps(t *testing.T) {
	start := Time(0xFFFFFFF0)
	now := Time(0x10)
	if got := Elapsed(now, start); got != 0x20 {
		t.Errorf("expected 32ms across wrap, got %d", got)
	}
}

func TestReached(t *testing.T) {
	if Reached(174, 0, 175) {
		t.Error("174ms should not reach 175ms threshold")
	}
	if !Reached(175, 0, 175) {
		t.Error("175ms should reach 175ms threshold")
	}
}

func TestManualClock(t *testing.T) {
	var c ManualClock
	c.Set(100)
	if got := c.Advance(50); got != 150 {
		t.Errorf("expected 150, got %d", got)
	}
	if c.Now() != 150 {
		t.Errorf("expected Now 150, got %d", c.Now())
	}
}
