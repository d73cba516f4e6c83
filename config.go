package sdpctrl

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Limits mirrors the SDP control-client protocol's hard bounds (spec §6).
const (
	MaxServerStrLen = 50
	MaxConfigLineLen = 1024
	MaxRawKeyLen     = 128
	MaxB64KeyLen     = 180
	maxMsgQLen       = 100
	maxPostSPADelay  = 10 * time.Second
)

// Defaults mirror sdp_ctrl_client_config.h in the original implementation.
const (
	DefaultUseSPA               = false
	DefaultUseSyslog            = false
	DefaultRemainConnected      = false
	DefaultForeground           = true
	DefaultMaxConnAttempts      = 3
	DefaultMaxReqAttempts       = 3
	DefaultInitReqRetryInterval = 10 * time.Second
	DefaultInitConnRetryInterval = 5 * time.Second
	DefaultCredUpdateInterval   = 7200 * time.Second
	DefaultAccessUpdateInterval = 86400 * time.Second
	DefaultKeepAliveInterval    = 60 * time.Second
	DefaultMsgQLen              = 10
	DefaultPostSPADelay         = 500 * time.Millisecond
	DefaultReadTimeout          = 1 * time.Second
	DefaultWriteTimeout         = 1 * time.Second
)

// Config holds the identity/config and policy-timer attributes of a Client
// (spec §3's "identity/config" and "policy timers" groups).
type Config struct {
	// CtrlAddr and CtrlPort locate the controller.
	CtrlAddr string
	CtrlPort int
	// CtrlStanza names the fwknop rc stanza for this client. It is parsed
	// and stored only; the reference transport's SPA knock does not use it.
	CtrlStanza string

	// CertFile/KeyFile hold the TLS client certificate/key. ConfigFile is
	// this client's own config file; FwknopConfigFile is the fwknop config
	// file. Both are rewritten in place by the credential store.
	CertFile         string
	KeyFile          string
	ConfigFile       string
	FwknopConfigFile string
	PIDFile          string

	// SPAEncryptionKey and SPAHMACKey are opaque byte strings used to
	// build the pre-connect SPA knock.
	SPAEncryptionKey []byte
	SPAHMACKey       []byte

	// Policy timers.
	CredUpdateInterval       time.Duration
	AccessUpdateInterval     time.Duration
	KeepAliveInterval        time.Duration
	InitReqRetryInterval     time.Duration
	MaxReqAttempts           int
	InitConnRetryInterval    time.Duration
	MaxConnAttempts          int
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	MessageQueueLen          int
	PostSPADelay             time.Duration

	// Mode flags.
	Foreground      bool
	RemainConnected bool
	UseSPA          bool
	UseSyslog       bool
	Verbosity       int
}

// applyDefaults fills unset zero-value fields with the protocol defaults.
func (c *Config) applyDefaults() {
	if c.CredUpdateInterval == 0 {
		c.CredUpdateInterval = DefaultCredUpdateInterval
	}
	if c.AccessUpdateInterval == 0 {
		c.AccessUpdateInterval = DefaultAccessUpdateInterval
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.InitReqRetryInterval == 0 {
		c.InitReqRetryInterval = DefaultInitReqRetryInterval
	}
	if c.MaxReqAttempts == 0 {
		c.MaxReqAttempts = DefaultMaxReqAttempts
	}
	if c.InitConnRetryInterval == 0 {
		c.InitConnRetryInterval = DefaultInitConnRetryInterval
	}
	if c.MaxConnAttempts == 0 {
		c.MaxConnAttempts = DefaultMaxConnAttempts
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MessageQueueLen == 0 {
		c.MessageQueueLen = DefaultMsgQLen
	}
	if c.MessageQueueLen > maxMsgQLen {
		c.MessageQueueLen = maxMsgQLen
	}
	if c.PostSPADelay == 0 {
		c.PostSPADelay = DefaultPostSPADelay
	}
	if c.PostSPADelay > maxPostSPADelay {
		c.PostSPADelay = maxPostSPADelay
	}
}

// Validate rejects configurations that violate the protocol's stated limits
// (spec §6 "Limits").
func (c *Config) Validate() error {
	if len(c.CtrlAddr) > MaxServerStrLen {
		return newError(CodeState, fmt.Errorf("CTRL_ADDR exceeds %d characters", MaxServerStrLen))
	}
	if len(c.SPAEncryptionKey) > MaxRawKeyLen {
		return newError(CodeState, fmt.Errorf("SPA_ENCRYPTION_KEY exceeds %d bytes", MaxRawKeyLen))
	}
	if len(c.SPAHMACKey) > MaxRawKeyLen {
		return newError(CodeState, fmt.Errorf("SPA_HMAC_KEY exceeds %d bytes", MaxRawKeyLen))
	}
	if c.PIDFile == "" {
		return newError(CodeState, fmt.Errorf("PID_FILE is required"))
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return newError(CodeState, fmt.Errorf("CERT_FILE and KEY_FILE are required"))
	}
	return nil
}

// isEmptyConfigLine reports whether a config-file line should be skipped, per
// the original's IS_EMPTY_LINE macro (comments start with '#' or ';').
func isEmptyConfigLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	switch trimmed[0] {
	case '#', ';':
		return true
	}
	return false
}

// ParseConfigFile parses the line-oriented "KEY VALUE" format the SDP
// control client and fwknop share. Each entry updates fields on cfg,
// leaving already-set fields untouched when a key is absent, and defaults
// are applied once parsing completes.
//
// The format is intentionally not delegated to a generic config library
// (viper/yaml/toml): the credential store must later rewrite only the
// SPA_ENCRYPTION_KEY/SPA_HMAC_KEY lines of this same file while preserving
// every other line byte-for-byte, which a round-tripping structured parser
// cannot guarantee.
func ParseConfigFile(r io.Reader, cfg *Config) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, MaxConfigLineLen), MaxConfigLineLen)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(line) > MaxConfigLineLen {
			return newError(CodeFilesystemOperation, fmt.Errorf("config line %d exceeds %d characters", lineNo, MaxConfigLineLen))
		}
		if isEmptyConfigLine(line) {
			continue
		}
		key, val, ok := splitConfigLine(line)
		if !ok {
			continue
		}
		if err := setConfigEntry(cfg, key, val); err != nil {
			return fmt.Errorf("config line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return newError(CodeFilesystemOperation, err)
	}
	cfg.applyDefaults()
	return nil
}

// LoadConfigFile opens path and parses it via ParseConfigFile.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, newError(CodeFilesystemOperation, err)
	}
	defer f.Close()
	var cfg Config
	cfg.ConfigFile = path
	if err := ParseConfigFile(f, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitConfigLine(line string) (key, val string, ok bool) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(fields) == 0 {
		return "", "", false
	}
	key = strings.ToUpper(strings.TrimSpace(fields[0]))
	if len(fields) == 2 {
		val = strings.TrimSpace(fields[1])
	}
	if key == "" {
		return "", "", false
	}
	return key, val, true
}

func setConfigEntry(cfg *Config, key, val string) error {
	switch key {
	case "CTRL_PORT":
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("CTRL_PORT: %w", err)
		}
		cfg.CtrlPort = port
	case "CTRL_ADDR":
		cfg.CtrlAddr = val
	case "CTRL_STANZA":
		cfg.CtrlStanza = val
	case "USE_SPA":
		cfg.UseSPA = parseConfigBool(val)
	case "REMAIN_CONNECTED":
		cfg.RemainConnected = parseConfigBool(val)
	case "FOREGROUND":
		cfg.Foreground = parseConfigBool(val)
	case "USE_SYSLOG":
		cfg.UseSyslog = parseConfigBool(val)
	case "VERBOSITY":
		v, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("VERBOSITY: %w", err)
		}
		cfg.Verbosity = v
	case "KEY_FILE":
		cfg.KeyFile = val
	case "CERT_FILE":
		cfg.CertFile = val
	case "SPA_ENCRYPTION_KEY":
		key, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return fmt.Errorf("SPA_ENCRYPTION_KEY: %w", err)
		}
		cfg.SPAEncryptionKey = key
	case "SPA_HMAC_KEY":
		key, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return fmt.Errorf("SPA_HMAC_KEY: %w", err)
		}
		cfg.SPAHMACKey = key
	case "MSG_Q_LEN":
		v, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("MSG_Q_LEN: %w", err)
		}
		cfg.MessageQueueLen = v
	case "POST_SPA_DELAY":
		d, err := parseConfigSeconds(val)
		if err != nil {
			return fmt.Errorf("POST_SPA_DELAY: %w", err)
		}
		cfg.PostSPADelay = d
	case "READ_TIMEOUT":
		d, err := parseConfigSeconds(val)
		if err != nil {
			return fmt.Errorf("READ_TIMEOUT: %w", err)
		}
		cfg.ReadTimeout = d
	case "WRITE_TIMEOUT":
		d, err := parseConfigSeconds(val)
		if err != nil {
			return fmt.Errorf("WRITE_TIMEOUT: %w", err)
		}
		cfg.WriteTimeout = d
	case "CRED_UPDATE_INTERVAL":
		d, err := parseConfigSeconds(val)
		if err != nil {
			return fmt.Errorf("CRED_UPDATE_INTERVAL: %w", err)
		}
		cfg.CredUpdateInterval = d
	case "ACCESS_UPDATE_INTERVAL":
		d, err := parseConfigSeconds(val)
		if err != nil {
			return fmt.Errorf("ACCESS_UPDATE_INTERVAL: %w", err)
		}
		cfg.AccessUpdateInterval = d
	case "MAX_CONN_ATTEMPTS":
		v, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("MAX_CONN_ATTEMPTS: %w", err)
		}
		cfg.MaxConnAttempts = v
	case "INIT_CONN_RETRY_INTERVAL":
		d, err := parseConfigSeconds(val)
		if err != nil {
			return fmt.Errorf("INIT_CONN_RETRY_INTERVAL: %w", err)
		}
		cfg.InitConnRetryInterval = d
	case "KEEP_ALIVE_INTERVAL":
		d, err := parseConfigSeconds(val)
		if err != nil {
			return fmt.Errorf("KEEP_ALIVE_INTERVAL: %w", err)
		}
		cfg.KeepAliveInterval = d
	case "MAX_REQUEST_ATTEMPTS":
		v, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("MAX_REQUEST_ATTEMPTS: %w", err)
		}
		cfg.MaxReqAttempts = v
	case "INIT_REQUEST_RETRY_INTERVAL":
		d, err := parseConfigSeconds(val)
		if err != nil {
			return fmt.Errorf("INIT_REQUEST_RETRY_INTERVAL: %w", err)
		}
		cfg.InitReqRetryInterval = d
	case "PID_FILE":
		cfg.PIDFile = val
	case "FWKNOP_CONFIG_FILE":
		cfg.FwknopConfigFile = val
	default:
		// Unknown keys are ignored, matching the original's tolerant
		// config parser: forward compatibility over strictness.
	}
	return nil
}

func parseConfigBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseConfigSeconds(val string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}
