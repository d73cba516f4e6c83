package sdpctrl

import (
	"errors"
	"fmt"
)

// Code identifies a class of control-client failure. It mirrors the error
// taxonomy the original SDP control client surfaces to its caller.
type Code string

const (
	// CodeUninitialized indicates an operation on a Client that has not
	// completed configuration.
	CodeUninitialized Code = "uninitialized"
	// CodeMemoryAllocation indicates an allocation failure. Retained from
	// the taxonomy for parity; no code in this module returns it.
	CodeMemoryAllocation Code = "memory_allocation"
	// CodeFork indicates the daemonization step failed.
	CodeFork Code = "fork"
	// CodeFilesystemOperation indicates an open/lock/read/write/stat
	// failure against the PID file or a credential file.
	CodeFilesystemOperation Code = "filesystem_operation"
	// CodeProcExists indicates the PID-file lock is held by another live
	// instance.
	CodeProcExists Code = "proc_exists"
	// CodeConnDown indicates a request was attempted while disconnected.
	CodeConnDown Code = "conn_down"
	// CodeState indicates a request was attempted in a state that
	// disallows it.
	CodeState Code = "state"
	// CodeKeepAlive indicates a transport or codec failure during a
	// keep-alive exchange.
	CodeKeepAlive Code = "keep_alive"
	// CodeCredReq indicates a transport or codec failure during a
	// credential-update exchange.
	CodeCredReq Code = "cred_req"
	// CodeManyFailedReqs indicates max_request_attempts was exceeded; the
	// loop transitions to TimeToQuit.
	CodeManyFailedReqs Code = "many_failed_reqs"
	// CodeGotExitSig indicates the loop exited due to SIGINT/SIGTERM.
	CodeGotExitSig Code = "got_exit_sig"
)

// Error wraps a Code with an optional underlying cause, matching the
// original client's convention of a small error taxonomy overlaid on
// system-call-level detail.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sdpctrl: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("sdpctrl: %s", e.Code)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError constructs an *Error, wrapping err when non-nil.
func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// codeOf extracts the Code from err if it (or something it wraps) is an
// *Error, returning ok=false otherwise.
func codeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
