package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"pkt.systems/sdpctrl/internal/spa"
)

// TLSConfig configures a TLSFacade.
type TLSConfig struct {
	CtrlAddr string
	CtrlPort int

	CertFile string
	KeyFile  string
	CAFile   string // optional; empty means use the system pool

	UseSPA           bool
	SPAEncryptionKey []byte
	SPAHMACKey       []byte
	PostSPADelay     time.Duration

	MaxConnAttempts       int
	InitConnRetryInterval time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	MessageQueueLen       int
}

// TLSFacade is the reference Facade implementation: a mutually
// authenticated TLS session, optionally preceded by an SPA knock, framed
// with newline-delimited JSON messages.
type TLSFacade struct {
	cfg TLSConfig

	mu    sync.Mutex
	conn  net.Conn
	state ConnState
	inbox chan string
	done  chan struct{}

	keyMu sync.RWMutex
}

// NewTLSFacade constructs a facade from cfg.
func NewTLSFacade(cfg TLSConfig) *TLSFacade {
	if cfg.MessageQueueLen <= 0 {
		cfg.MessageQueueLen = 10
	}
	return &TLSFacade{
		cfg:   cfg,
		state: Disconnected,
		inbox: make(chan string, cfg.MessageQueueLen),
	}
}

func (f *TLSFacade) addr() string {
	return fmt.Sprintf("%s:%d", f.cfg.CtrlAddr, f.cfg.CtrlPort)
}

// Connect performs an optional SPA knock, waits the configured post-SPA
// delay, then dials TLS with constant-interval retries up to
// MaxConnAttempts (spec §4C: the facade owns this retry loop).
func (f *TLSFacade) Connect(ctx context.Context) error {
	if f.State() == Connected {
		return nil
	}

	if f.cfg.UseSPA {
		if err := f.knock(); err != nil {
			return fmt.Errorf("transport: spa knock: %w", err)
		}
		if f.cfg.PostSPADelay > 0 {
			select {
			case <-time.After(f.cfg.PostSPADelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	tlsCfg, err := f.tlsClientConfig()
	if err != nil {
		return err
	}

	dialer := &tls.Dialer{Config: tlsCfg}
	operation := func() (net.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, f.cfg.ReadTimeout+5*time.Second)
		defer cancel()
		return dialer.DialContext(dialCtx, "tcp", f.addr())
	}

	maxAttempts := f.cfg.MaxConnAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	conn, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.cfg.InitConnRetryInterval)),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	if err != nil {
		return fmt.Errorf("transport: connect to %s: %w", f.addr(), err)
	}

	f.mu.Lock()
	f.conn = conn
	f.state = Connected
	f.done = make(chan struct{})
	f.mu.Unlock()

	go f.readLoop()
	return nil
}

// Disconnect tears the session down. Idempotent.
func (f *TLSFacade) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Disconnected {
		return nil
	}
	f.state = Disconnected
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	if f.conn != nil {
		err := f.conn.Close()
		f.conn = nil
		return err
	}
	return nil
}

// SendMsg writes one newline-delimited JSON message, blocking up to
// WriteTimeout.
func (f *TLSFacade) SendMsg(ctx context.Context, text string) error {
	f.mu.Lock()
	conn := f.conn
	state := f.state
	f.mu.Unlock()
	if state == Disconnected || conn == nil {
		return fmt.Errorf("transport: send while disconnected")
	}
	if f.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	}
	_, err := conn.Write([]byte(text + "\n"))
	return err
}

// GetMsg performs a non-blocking read of one queued inbound message.
func (f *TLSFacade) GetMsg() (string, int, error) {
	select {
	case msg := <-f.inbox:
		return msg, len(msg), nil
	default:
		return "", 0, nil
	}
}

// State reports the current connection state.
func (f *TLSFacade) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetSPAKeys replaces the in-memory SPA keys used by future knocks.
func (f *TLSFacade) SetSPAKeys(encryptionKey, hmacKey []byte) error {
	f.keyMu.Lock()
	defer f.keyMu.Unlock()
	f.cfg.SPAEncryptionKey = append([]byte(nil), encryptionKey...)
	f.cfg.SPAHMACKey = append([]byte(nil), hmacKey...)
	return nil
}

func (f *TLSFacade) knock() error {
	f.keyMu.RLock()
	encKey := append([]byte(nil), f.cfg.SPAEncryptionKey...)
	hmacKey := append([]byte(nil), f.cfg.SPAHMACKey...)
	f.keyMu.RUnlock()

	payload := []byte(fmt.Sprintf("sdpctrl-knock:%d", time.Now().UnixNano()))
	packet, err := spa.Build(payload, encKey, hmacKey)
	if err != nil {
		return err
	}
	return spa.Send(f.addr(), packet, f.cfg.WriteTimeout)
}

func (f *TLSFacade) tlsClientConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(f.cfg.CertFile, f.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load client cert/key: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if f.cfg.CAFile != "" {
		data, err := os.ReadFile(f.cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("transport: no certificates found in %s", f.cfg.CAFile)
		}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   f.cfg.CtrlAddr,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (f *TLSFacade) readLoop() {
	f.mu.Lock()
	conn := f.conn
	done := f.done
	f.mu.Unlock()
	if conn == nil {
		return
	}
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if trimmed := trimNewline(line); trimmed != "" {
			select {
			case f.inbox <- trimmed:
			default:
				// Queue full: drop oldest rather than grow unbounded.
				select {
				case <-f.inbox:
				default:
				}
				select {
				case f.inbox <- trimmed:
				default:
				}
			}
		}
		if err != nil {
			_ = f.Disconnect()
			return
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
