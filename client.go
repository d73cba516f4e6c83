package sdpctrl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"pkt.systems/pslog"

	"pkt.systems/sdpctrl/internal/clock"
	"pkt.systems/sdpctrl/internal/logfields"
	"pkt.systems/sdpctrl/internal/pathutil"
	"pkt.systems/sdpctrl/internal/transport"
)

// Option customizes a Client at construction time.
type Option func(*Client)

// WithLogger supplies a logger for client diagnostics. Passing nil falls
// back to pslog.NoopLogger().
func WithLogger(logger pslog.Logger) Option {
	return func(c *Client) {
		if logger == nil {
			c.logger = pslog.NoopLogger()
			return
		}
		c.logger = logfields.WithSubsystem(logger, "sdpctrl")
	}
}

// WithTransport overrides the transport facade, primarily for tests. The
// default is a *transport.TLSFacade built from cfg.
func WithTransport(f transport.Facade) Option {
	return func(c *Client) {
		if f != nil {
			c.transport = f
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(cl clock.Clock) Option {
	return func(c *Client) {
		if cl != nil {
			c.clock = cl
		}
	}
}

// WithMetrics attaches a metrics sink. A nil sink (the default) makes every
// metrics call a no-op.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Client is one SDP control-client session: identity/config, policy timers,
// mode flags, and the mutable runtime state the control loop advances.
type Client struct {
	cfg       Config
	transport transport.Facade
	logger    pslog.Logger
	clock     clock.Clock
	metrics   *Metrics

	// correlationID tags every log line this session produces. Outbound
	// envelopes do not carry it.
	correlationID string

	mu sync.Mutex

	// clientState is the control loop's own state (spec §3 client_state);
	// connState lives on the transport facade.
	clientState State

	lastContact       time.Time
	lastCredUpdate    time.Time
	lastAccessUpdate  time.Time
	initialConnTime   time.Time
	lastReqTime       time.Time
	reqRetryInterval  time.Duration
	reqAttempts       int

	signals signalFlags

	// pid and pidLock are populated by Start in the process that runs the
	// loop (foreground, or the daemon child); nil/zero when Run is called
	// directly.
	pid     int
	pidLock *pidFile

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Client from cfg. Defaults are applied and paths are
// expanded, then cfg.Validate is called; New returns its error unchanged on
// failure.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.applyDefaults()
	if err := expandConfigPaths(&cfg); err != nil {
		return nil, newError(CodeFilesystemOperation, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:              cfg,
		logger:           pslog.NoopLogger(),
		clock:            clock.Real{},
		correlationID:    uuid.NewString(),
		clientState:      StateReady,
		reqRetryInterval: cfg.InitReqRetryInterval,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := verifyConfigPermissions(&cfg, c.log()); err != nil {
		return nil, newError(CodeFilesystemOperation, err)
	}

	if c.transport == nil {
		c.transport = transport.NewTLSFacade(transport.TLSConfig{
			CtrlAddr:              cfg.CtrlAddr,
			CtrlPort:              cfg.CtrlPort,
			CertFile:              cfg.CertFile,
			KeyFile:               cfg.KeyFile,
			UseSPA:                cfg.UseSPA,
			SPAEncryptionKey:      cfg.SPAEncryptionKey,
			SPAHMACKey:            cfg.SPAHMACKey,
			PostSPADelay:          cfg.PostSPADelay,
			MaxConnAttempts:       cfg.MaxConnAttempts,
			InitConnRetryInterval: cfg.InitConnRetryInterval,
			ReadTimeout:           cfg.ReadTimeout,
			WriteTimeout:          cfg.WriteTimeout,
			MessageQueueLen:       cfg.MessageQueueLen,
		})
	}

	c.logger = c.logger.With("correlation_id", c.correlationID)
	return c, nil
}

// expandConfigPaths applies shell-style ~/env expansion to every path field
// cfg carries, so config files can use "~/.sdp/client.key"-style entries.
func expandConfigPaths(cfg *Config) error {
	for _, p := range []*string{&cfg.CertFile, &cfg.KeyFile, &cfg.ConfigFile, &cfg.FwknopConfigFile, &cfg.PIDFile} {
		expanded, err := pathutil.ExpandUserAndEnv(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// verifyConfigPermissions audits every credential-bearing path cfg
// references for the user-only permission bits the original client
// requires (spec §4A "verify file perms").
func verifyConfigPermissions(cfg *Config, logger pslog.Logger) error {
	for _, p := range []string{cfg.CertFile, cfg.KeyFile, cfg.ConfigFile, cfg.FwknopConfigFile} {
		if p == "" {
			continue
		}
		if err := pathutil.VerifyPrivate(logger, p); err != nil {
			return err
		}
	}
	return nil
}

// log returns the client's logger. It is always non-nil.
func (c *Client) log() pslog.Logger {
	if c.logger == nil {
		return pslog.NoopLogger()
	}
	return c.logger
}

// State reports the control loop's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientState
}

// setState transitions clientState and logs the change at debug level; the
// control loop is the only caller.
func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.clientState
	c.clientState = s
	c.mu.Unlock()
	if prev != s {
		c.log().Debug("state transition", "from", prev.String(), "to", s.String())
	}
}

// Describe returns a short human-readable summary of the session:
// correlation ID, loop state, controller address and last contact. The
// status CLI subcommand does not call it.
func (c *Client) Describe() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lastContact := "never"
	if !c.lastContact.IsZero() {
		lastContact = humanize.Time(c.lastContact)
	}
	return fmt.Sprintf("sdpctrl[%s] state=%s ctrl=%s:%d last_contact=%s",
		c.correlationID, c.clientState, c.cfg.CtrlAddr, c.cfg.CtrlPort, lastContact)
}

// ControllerAddr returns the configured controller hostname/address.
func (c *Client) ControllerAddr() string {
	return c.cfg.CtrlAddr
}

// ControllerPort returns the configured controller port.
func (c *Client) ControllerPort() int {
	return c.cfg.CtrlPort
}

// Close releases resources without going through the daemon lifecycle
// (pidfile release, transport disconnect). It is safe to call more than
// once.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	var err error
	if c.transport != nil {
		err = c.transport.Disconnect()
	}
	if c.pidLock != nil {
		_ = c.pidLock.Release()
	}
	return err
}

// Run blocks the caller and drives the control loop until ctx is canceled,
// a fatal error occurs, or (when cfg.RemainConnected is false) one
// keep-alive/credential cycle completes. It is the embeddable equivalent of
// the daemon's main loop (spec §4E).
func (c *Client) Run(ctx context.Context) error {
	defer close(c.doneCh)
	return c.controlLoop(ctx)
}
