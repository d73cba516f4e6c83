package sdpctrl

import (
	"strings"
	"testing"
	"time"
)

func TestParseConfigFileAppliesKnownKeys(t *testing.T) {
	body := strings.NewReader(`
# comment line
; also a comment

CTRL_ADDR ctrl.example.net
CTRL_PORT 4711
CTRL_STANZA prod-gw
USE_SPA yes
REMAIN_CONNECTED true
CERT_FILE /etc/sdpctrl/client.crt
KEY_FILE /etc/sdpctrl/client.key
FWKNOP_CONFIG_FILE /etc/sdpctrl/fwknoprc
SPA_ENCRYPTION_KEY YWJjZA==
SPA_HMAC_KEY ZWZnaA==
KEEP_ALIVE_INTERVAL 45
MAX_REQUEST_ATTEMPTS 5
PID_FILE /var/run/sdpctrl.pid
UNKNOWN_FUTURE_KEY whatever
`)

	var cfg Config
	if err := ParseConfigFile(body, &cfg); err != nil {
		t.Fatalf("ParseConfigFile: %v", err)
	}

	if cfg.CtrlAddr != "ctrl.example.net" || cfg.CtrlPort != 4711 {
		t.Fatalf("unexpected ctrl addr/port: %q %d", cfg.CtrlAddr, cfg.CtrlPort)
	}
	if cfg.CtrlStanza != "prod-gw" {
		t.Fatalf("unexpected stanza: %q", cfg.CtrlStanza)
	}
	if !cfg.UseSPA || !cfg.RemainConnected {
		t.Fatalf("expected UseSPA and RemainConnected true")
	}
	if cfg.FwknopConfigFile != "/etc/sdpctrl/fwknoprc" {
		t.Fatalf("unexpected fwknop config file: %q", cfg.FwknopConfigFile)
	}
	if cfg.KeepAliveInterval != 45*time.Second {
		t.Fatalf("unexpected keep-alive interval: %v", cfg.KeepAliveInterval)
	}
	if cfg.MaxReqAttempts != 5 {
		t.Fatalf("unexpected max request attempts: %d", cfg.MaxReqAttempts)
	}
	if cfg.PIDFile != "/var/run/sdpctrl.pid" {
		t.Fatalf("unexpected pid file: %q", cfg.PIDFile)
	}
	if string(cfg.SPAEncryptionKey) != "abcd" {
		t.Fatalf("expected SPA_ENCRYPTION_KEY to be base64-decoded to %q, got %q", "abcd", cfg.SPAEncryptionKey)
	}
	if string(cfg.SPAHMACKey) != "efgh" {
		t.Fatalf("expected SPA_HMAC_KEY to be base64-decoded to %q, got %q", "efgh", cfg.SPAHMACKey)
	}
	// Defaults must still be applied for anything not set above.
	if cfg.CredUpdateInterval != DefaultCredUpdateInterval {
		t.Fatalf("expected default cred update interval, got %v", cfg.CredUpdateInterval)
	}
}

func TestConfigValidateRequiresCoreFields(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty config")
	}

	cfg = Config{
		PIDFile:  "/var/run/sdpctrl.pid",
		CertFile: "/etc/sdpctrl/client.crt",
		KeyFile:  "/etc/sdpctrl/client.key",
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigMessageQueueLenClamped(t *testing.T) {
	cfg := Config{MessageQueueLen: maxMsgQLen + 50}
	cfg.applyDefaults()
	if cfg.MessageQueueLen != maxMsgQLen {
		t.Fatalf("expected MessageQueueLen clamped to %d, got %d", maxMsgQLen, cfg.MessageQueueLen)
	}
}
