// Package transport defines the narrow contract the control loop consumes
// to talk to a controller (spec §4C) and a reference implementation over
// mutual TLS.
package transport

import "context"

// ConnState mirrors the two connection states the loop observes.
type ConnState int

const (
	// Disconnected means no live session to the controller.
	Disconnected ConnState = iota
	// Connected means a live session exists.
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Facade is the contract §4C describes: connect (optionally preceded by an
// SPA knock), disconnect (idempotent), send one framed message, and poll at
// most one queued inbound message without blocking.
type Facade interface {
	// Connect establishes the session, performing an SPA knock first when
	// configured. It is responsible for its own bounded retry loop; the
	// control loop only observes the final outcome.
	Connect(ctx context.Context) error
	// Disconnect tears the session down. Calling it while already
	// disconnected is a no-op.
	Disconnect() error
	// SendMsg transmits one framed message, blocking up to the configured
	// write timeout.
	SendMsg(ctx context.Context, text string) error
	// GetMsg performs a non-blocking read of at most one pending inbound
	// message. bytes == 0 means nothing was queued, not an error.
	GetMsg() (msg string, bytes int, err error)
	// State reports the current connection state.
	State() ConnState
	// SetSPAKeys replaces the in-memory SPA keys used for future knocks.
	// It is called by the credential store only after the on-disk update
	// succeeds.
	SetSPAKeys(encryptionKey, hmacKey []byte) error
}
