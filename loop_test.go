package sdpctrl

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/sdpctrl/internal/clock"
	"pkt.systems/sdpctrl/internal/codec"
	"pkt.systems/sdpctrl/internal/transport"
)

func newLoopTestClient(t *testing.T, mc *clock.Manual, fake *fakeFacade) *Client {
	t.Helper()
	cfg := Config{
		KeepAliveInterval:    30 * time.Second,
		CredUpdateInterval:   time.Hour,
		InitReqRetryInterval: 5 * time.Second,
		MaxReqAttempts:       3,
		MessageQueueLen:      4,
	}
	return &Client{
		cfg:              cfg,
		logger:           pslog.NoopLogger(),
		clock:            mc,
		transport:        fake,
		clientState:      StateReady,
		reqRetryInterval: cfg.InitReqRetryInterval,
	}
}

func TestConsiderKeepAliveSendsWhenDue(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	fake := &fakeFacade{state: transport.Connected}
	c := newLoopTestClient(t, mc, fake)
	c.lastContact = mc.Now()

	mc.Advance(31 * time.Second)

	if err := c.considerKeepAlive(context.Background()); err != nil {
		t.Fatalf("considerKeepAlive: %v", err)
	}
	if c.State() != StateKeepAliveRequesting {
		t.Fatalf("expected StateKeepAliveRequesting, got %v", c.State())
	}
	if fake.lastSent() == "" {
		t.Fatal("expected a keep-alive message to be sent")
	}
}

func TestConsiderKeepAliveDoublesBackoffOnRetry(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	fake := &fakeFacade{state: transport.Connected}
	c := newLoopTestClient(t, mc, fake)
	c.lastContact = mc.Now()

	mc.Advance(31 * time.Second)
	if err := c.considerKeepAlive(context.Background()); err != nil {
		t.Fatalf("first considerKeepAlive: %v", err)
	}
	firstInterval := c.reqRetryInterval

	// No response arrives; advance past the retry interval and retry.
	mc.Advance(firstInterval + time.Second)
	if err := c.considerKeepAlive(context.Background()); err != nil {
		t.Fatalf("second considerKeepAlive: %v", err)
	}
	if c.State() != StateKeepAliveUnfulfilled {
		t.Fatalf("expected StateKeepAliveUnfulfilled, got %v", c.State())
	}
	if c.reqRetryInterval != firstInterval*2 {
		t.Fatalf("expected retry interval to double from %v, got %v", firstInterval, c.reqRetryInterval)
	}
	if c.reqAttempts != 2 {
		t.Fatalf("expected 2 attempts recorded, got %d", c.reqAttempts)
	}
}

func TestConsiderKeepAliveGivesUpAfterMaxAttempts(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	fake := &fakeFacade{state: transport.Connected}
	c := newLoopTestClient(t, mc, fake)
	c.lastContact = mc.Now()

	mc.Advance(31 * time.Second)
	var lastErr error
	for i := 0; i < c.cfg.MaxReqAttempts+1; i++ {
		lastErr = c.considerKeepAlive(context.Background())
		if lastErr != nil {
			break
		}
		mc.Advance(c.reqRetryInterval + time.Second)
	}

	if lastErr == nil {
		t.Fatal("expected considerKeepAlive to eventually fail")
	}
	code, ok := codeOf(lastErr)
	if !ok || code != CodeManyFailedReqs {
		t.Fatalf("expected CodeManyFailedReqs, got %v (ok=%v)", code, ok)
	}
	if c.State() != StateTimeToQuit {
		t.Fatalf("expected StateTimeToQuit, got %v", c.State())
	}
	if fake.State() != transport.Disconnected {
		t.Fatal("expected transport to be disconnected after giving up")
	}
}

func TestCheckInboxClearsStateOnKeepAliveFulfillment(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	fake := &fakeFacade{state: transport.Connected}
	c := newLoopTestClient(t, mc, fake)
	c.setRequestVars(StateKeepAliveRequesting)

	fake.pushInbox(`{"subject":"keep_alive_fulfilling"}`)

	if err := c.checkInbox(context.Background()); err != nil {
		t.Fatalf("checkInbox: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("expected StateReady after fulfillment, got %v", c.State())
	}
	if c.reqAttempts != 0 {
		t.Fatalf("expected reqAttempts reset to 0, got %d", c.reqAttempts)
	}
}

func TestCheckInboxDropsMalformedEnvelopes(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	fake := &fakeFacade{state: transport.Connected}
	c := newLoopTestClient(t, mc, fake)

	fake.pushInbox(`not json`)
	if err := c.checkInbox(context.Background()); err != nil {
		t.Fatalf("expected malformed envelopes to be dropped, not fatal: %v", err)
	}
}

func TestConsiderKeepAliveNoopWhenDisconnected(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	fake := &fakeFacade{state: transport.Disconnected}
	c := newLoopTestClient(t, mc, fake)

	if err := c.considerKeepAlive(context.Background()); err != nil {
		t.Fatalf("expected no error while disconnected, got %v", err)
	}
	if fake.lastSent() != "" {
		t.Fatal("expected no message sent while disconnected")
	}
}

// TestProcessCredUpdateRoundTripsBase64Keys drives a credential update the
// way it actually arrives: a base64-encoded wire payload, decoded once by
// decodeCredentialPayload, applied by applyCredentials, and re-encoded to
// base64 text on disk. It fails if the wire/disk/in-memory key
// representations ever drift out of sync (spec §8 S1, one-shot refresh).
func TestProcessCredUpdateRoundTripsBase64Keys(t *testing.T) {
	dir := t.TempDir()
	rawEnc := []byte{0x01, 0x02, 0x03, 0xff, 0xfe}
	rawHMAC := []byte{0xaa, 0xbb, 0xcc, 0x00}

	cfg := Config{
		CertFile:         filepath.Join(dir, "client.crt"),
		KeyFile:          filepath.Join(dir, "client.key"),
		ConfigFile:       filepath.Join(dir, "client.conf"),
		FwknopConfigFile: filepath.Join(dir, "fwknoprc"),
		MessageQueueLen:  4,
	}
	if err := os.WriteFile(cfg.ConfigFile, nil, 0o600); err != nil {
		t.Fatalf("seed config file: %v", err)
	}
	if err := os.WriteFile(cfg.FwknopConfigFile, nil, 0o600); err != nil {
		t.Fatalf("seed fwknop file: %v", err)
	}

	mc := clock.NewManual(time.Unix(0, 0))
	fake := &fakeFacade{state: transport.Connected}
	c := &Client{
		cfg:         cfg,
		logger:      pslog.NoopLogger(),
		clock:       mc,
		transport:   fake,
		clientState: StateCredRequesting,
	}

	payload := &codec.CredentialPayload{
		TLSClientCertPEM: "new-cert-pem",
		TLSClientKeyPEM:  "new-key-pem",
		SPAEncryptionKey: base64.StdEncoding.EncodeToString(rawEnc),
		SPAHMACKey:       base64.StdEncoding.EncodeToString(rawHMAC),
	}

	if err := c.processCredUpdate(context.Background(), payload); err != nil {
		t.Fatalf("processCredUpdate: %v", err)
	}

	if string(fake.encKey) != string(rawEnc) || string(fake.hmacKey) != string(rawHMAC) {
		t.Fatalf("transport did not receive raw decoded keys: enc=%x hmac=%x", fake.encKey, fake.hmacKey)
	}

	clientConf, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		t.Fatalf("read config file: %v", err)
	}
	if !strings.Contains(string(clientConf), "SPA_ENCRYPTION_KEY "+payload.SPAEncryptionKey) {
		t.Fatalf("expected on-disk key to remain base64 text, got: %q", clientConf)
	}

	reloaded, err := LoadConfigFile(cfg.ConfigFile)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if string(reloaded.SPAEncryptionKey) != string(rawEnc) {
		t.Fatalf("reloaded config did not decode back to the original raw key: %x", reloaded.SPAEncryptionKey)
	}
}

func TestRequestKeepAliveRejectsNonRequestingState(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	fake := &fakeFacade{state: transport.Connected}
	c := newLoopTestClient(t, mc, fake)
	c.clientState = StateTimeToQuit

	err := c.requestKeepAlive(context.Background())
	if err == nil {
		t.Fatal("expected an error requesting a keep-alive from StateTimeToQuit")
	}
	var target *Error
	if !errors.As(err, &target) || target.Code != CodeState {
		t.Fatalf("expected CodeState, got %v", err)
	}
}
