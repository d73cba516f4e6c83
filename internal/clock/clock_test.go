package clock_test

import (
	"testing"
	"time"

	"pkt.systems/sdpctrl/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealAfterDeliversOnce(t *testing.T) {
	t.Parallel()

	ch := clock.Real{}.After(10 * time.Millisecond)
	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("After did not trigger within timeout")
	}
}

func TestManualAdvanceFiresDueTimersInKeepAliveOrder(t *testing.T) {
	t.Parallel()

	mc := clock.NewManual(time.Unix(0, 0))
	early := mc.After(10 * time.Second)
	late := mc.After(30 * time.Second)

	mc.Advance(15 * time.Second)
	select {
	case <-early:
	default:
		t.Fatal("expected the 10s timer to have fired after a 15s advance")
	}
	select {
	case <-late:
		t.Fatal("expected the 30s timer not to have fired yet")
	default:
	}

	mc.Advance(20 * time.Second)
	select {
	case <-late:
	default:
		t.Fatal("expected the 30s timer to have fired after the second advance")
	}
}

func TestManualAfterWithNonPositiveDurationFiresImmediately(t *testing.T) {
	t.Parallel()

	mc := clock.NewManual(time.Unix(0, 0))
	select {
	case <-mc.After(0):
	default:
		t.Fatal("expected a zero-duration After to fire without an Advance")
	}
}
