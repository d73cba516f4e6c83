package sdpctrl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"pkt.systems/pslog"

	"pkt.systems/sdpctrl/internal/pathutil"
)

// pidFile is an advisory-locked PID file, the single-instance mechanism the
// daemon lifecycle relies on (spec §4A). Go has no lockf(3); unix.Flock with
// LOCK_EX|LOCK_NB is the direct equivalent used across the pack for the same
// purpose.
type pidFile struct {
	path string
	f    *os.File
}

// acquirePIDFile opens path (creating it with mode 0600 if absent) and
// attempts an exclusive, non-blocking lock. If the lock is contended
// (EWOULDBLOCK), that is not an error: it returns the PID recorded in the
// file and ok=false, which callers use to report the existing owner. Any
// other lock error is fatal (spec §4A: "if the lock is unavailable due to
// contention... this is not an error... Any other lock error is fatal").
func acquirePIDFile(path string, logger pslog.Logger) (pf *pidFile, existingPID int, ok bool, err error) {
	if err := pathutil.VerifyPrivate(logger, path); err != nil {
		return nil, 0, false, newError(CodeFilesystemOperation, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, 0, false, newError(CodeFilesystemOperation, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			f.Close()
			return nil, 0, false, newError(CodeFilesystemOperation, err)
		}
		pid, rerr := readPIDFile(path)
		f.Close()
		if rerr != nil {
			return nil, 0, false, newError(CodeFilesystemOperation, rerr)
		}
		return nil, pid, false, nil
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, 0, false, newError(CodeFilesystemOperation, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, 0, false, newError(CodeFilesystemOperation, err)
	}

	return &pidFile{path: path, f: f}, 0, true, nil
}

// readPIDFile reads and parses a PID file's content without acquiring its
// lock, used both to report a competing instance's PID and by Stop/Restart
// to locate the running daemon.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pidfile: malformed content: %w", err)
	}
	return pid, nil
}

// Release unlocks and removes the PID file. Safe to call once; a second
// call is a no-op.
func (p *pidFile) Release() error {
	if p == nil || p.f == nil {
		return nil
	}
	_ = unix.Flock(int(p.f.Fd()), unix.LOCK_UN)
	name := p.f.Name()
	err := p.f.Close()
	p.f = nil
	_ = os.Remove(name)
	return err
}

// processAlive reports whether pid refers to a live process, using the
// signal-0 idiom (spec's kill(pid, 0) probe).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
