package sdpctrl

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// signalFlags mirrors the original's sig_atomic_t sticky flags: a signal
// handler only sets a bit, and the control loop clears and acts on it on
// its own schedule (spec §4E "signal handling is asynchronous, action is
// synchronous").
type signalFlags struct {
	hup  atomic.Bool
	int_ atomic.Bool
	term atomic.Bool
	usr1 atomic.Bool
	usr2 atomic.Bool
}

func (s *signalFlags) any() bool {
	return s.hup.Load() || s.int_.Load() || s.term.Load() || s.usr1.Load() || s.usr2.Load()
}

// watchSignals registers for HUP/INT/TERM/USR1/USR2/CHLD, the six signals
// the client catches (spec §4A/§6). The goroutine only flips sticky flags
// and reaps children; it does no logging or allocation, so it stays as
// close as Go's channel-based signal delivery allows to the async-signal-
// safety constraint a C handler is bound by. Logging happens later, on the
// control-loop goroutine, in handleSignals.
func (c *Client) watchSignals() (stop func()) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch,
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM,
		syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCHLD,
	)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, isOpen := <-ch:
				if !isOpen {
					return
				}
				switch sig {
				case syscall.SIGHUP:
					c.signals.hup.Store(true)
				case syscall.SIGINT:
					c.signals.int_.Store(true)
				case syscall.SIGTERM:
					c.signals.term.Store(true)
				case syscall.SIGUSR1:
					c.signals.usr1.Store(true)
				case syscall.SIGUSR2:
					c.signals.usr2.Store(true)
				case syscall.SIGCHLD:
					reapChildren()
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// reapChildren drains exited children non-blockingly, the equivalent of the
// original's waitpid(-1, NULL, WNOHANG) call inside its SIGCHLD handler.
func reapChildren() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
	}
}

// handleSignals implements the original's sdp_ctrl_client_handle_signals:
// consume at most one sticky flag per call, act on it, and report whether
// the loop should keep running. This runs on the control-loop goroutine, so
// unlike the flag-setting side in watchSignals it is free to log.
func (c *Client) handleSignals() (keepRunning bool, err error) {
	if c.signals.hup.CompareAndSwap(true, false) {
		c.log().Warn("got SIGHUP, reinitializing")
		if rerr := c.reinit(); rerr != nil {
			return false, rerr
		}
		return true, nil
	}
	if c.signals.int_.CompareAndSwap(true, false) {
		c.log().Warn("got SIGINT, exiting")
		return false, newError(CodeGotExitSig, nil)
	}
	if c.signals.term.CompareAndSwap(true, false) {
		c.log().Warn("got SIGTERM, exiting")
		return false, newError(CodeGotExitSig, nil)
	}
	if c.signals.usr1.CompareAndSwap(true, false) {
		c.log().Debug("got SIGUSR1")
		return true, nil
	}
	if c.signals.usr2.CompareAndSwap(true, false) {
		c.log().Debug("got SIGUSR2")
		return true, nil
	}
	return true, nil
}
