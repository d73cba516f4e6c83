package sdpctrl

import (
	"testing"

	"pkt.systems/pslog"
)

func TestHandleSignalsNoopWhenNoneRaised(t *testing.T) {
	c := &Client{logger: pslog.NoopLogger()}
	keepRunning, err := c.handleSignals()
	if err != nil || !keepRunning {
		t.Fatalf("expected keepRunning=true err=nil, got keepRunning=%v err=%v", keepRunning, err)
	}
}

func TestHandleSignalsInterruptStopsTheLoop(t *testing.T) {
	c := &Client{logger: pslog.NoopLogger()}
	c.signals.int_.Store(true)

	keepRunning, err := c.handleSignals()
	if keepRunning {
		t.Fatal("expected keepRunning=false for SIGINT")
	}
	code, ok := codeOf(err)
	if !ok || code != CodeGotExitSig {
		t.Fatalf("expected CodeGotExitSig, got %v (ok=%v)", code, ok)
	}
	if c.signals.any() {
		t.Fatal("expected the sticky flag to be consumed")
	}
}

func TestHandleSignalsTermStopsTheLoop(t *testing.T) {
	c := &Client{logger: pslog.NoopLogger()}
	c.signals.term.Store(true)

	keepRunning, err := c.handleSignals()
	if keepRunning || err == nil {
		t.Fatalf("expected the loop to stop with an error, got keepRunning=%v err=%v", keepRunning, err)
	}
}

func TestHandleSignalsHupReinitsAndContinues(t *testing.T) {
	// With no ConfigFile set, reinit is a no-op success, so the loop
	// continues running after a HUP.
	c := &Client{logger: pslog.NoopLogger()}
	c.signals.hup.Store(true)

	keepRunning, err := c.handleSignals()
	if err != nil || !keepRunning {
		t.Fatalf("expected reinit to succeed and the loop to continue, got keepRunning=%v err=%v", keepRunning, err)
	}
	if c.signals.hup.Load() {
		t.Fatal("expected the HUP flag to be consumed")
	}
}

func TestHandleSignalsUsr1IsRecordedWithNoAction(t *testing.T) {
	c := &Client{logger: pslog.NoopLogger()}
	c.signals.usr1.Store(true)

	keepRunning, err := c.handleSignals()
	if err != nil || !keepRunning {
		t.Fatalf("expected SIGUSR1 to be a pure no-op, got keepRunning=%v err=%v", keepRunning, err)
	}
	if c.signals.usr1.Load() {
		t.Fatal("expected the USR1 flag to be consumed")
	}
}

func TestHandleSignalsUsr2IsRecordedWithNoAction(t *testing.T) {
	c := &Client{logger: pslog.NoopLogger()}
	c.signals.usr2.Store(true)

	keepRunning, err := c.handleSignals()
	if err != nil || !keepRunning {
		t.Fatalf("expected SIGUSR2 to be a pure no-op, got keepRunning=%v err=%v", keepRunning, err)
	}
	if c.signals.usr2.Load() {
		t.Fatal("expected the USR2 flag to be consumed")
	}
}

func TestHandleSignalsConsumesOnlyOneFlagPerCall(t *testing.T) {
	c := &Client{logger: pslog.NoopLogger()}
	c.signals.int_.Store(true)
	c.signals.term.Store(true)

	if _, err := c.handleSignals(); err == nil {
		t.Fatal("expected an error from the first consumed flag")
	}
	if !c.signals.term.Load() {
		t.Fatal("expected the second flag to remain set until the next call")
	}
}
