package sdpctrl

import (
	"context"
	"sync"

	"pkt.systems/sdpctrl/internal/transport"
)

// fakeFacade is an in-memory transport.Facade for exercising the control
// loop and credential store without a real controller connection.
type fakeFacade struct {
	mu sync.Mutex

	state       transport.ConnState
	connectErr  error
	connectCall int

	outbox []string
	sendErr error

	inbox []string

	encKey, hmacKey []byte
}

func (f *fakeFacade) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCall++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = transport.Connected
	return nil
}

func (f *fakeFacade) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = transport.Disconnected
	return nil
}

func (f *fakeFacade) SendMsg(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.outbox = append(f.outbox, text)
	return nil
}

func (f *fakeFacade) GetMsg() (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return "", 0, nil
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return msg, len(msg), nil
}

func (f *fakeFacade) State() transport.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeFacade) SetSPAKeys(encryptionKey, hmacKey []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encKey = encryptionKey
	f.hmacKey = hmacKey
	return nil
}

func (f *fakeFacade) pushInbox(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, msg)
}

func (f *fakeFacade) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outbox) == 0 {
		return ""
	}
	return f.outbox[len(f.outbox)-1]
}
