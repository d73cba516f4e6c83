package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/pslog"
)

func TestExpandUserAndEnvExpandsHomeAndEnvVars(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}
	os.Setenv("SDPCTRL_TEST_DIR", "creds")
	defer os.Unsetenv("SDPCTRL_TEST_DIR")

	got, err := ExpandUserAndEnv("~/$SDPCTRL_TEST_DIR/client.key")
	if err != nil {
		t.Fatalf("ExpandUserAndEnv: %v", err)
	}
	want := filepath.Join(home, "creds", "client.key")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandUserAndEnvEmptyIsEmpty(t *testing.T) {
	got, err := ExpandUserAndEnv("   ")
	if err != nil || got != "" {
		t.Fatalf("expected empty result, got %q err=%v", got, err)
	}
}

func TestVerifyPrivateAllowsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist")
	if err := VerifyPrivate(pslog.NoopLogger(), path); err != nil {
		t.Fatalf("expected missing files to be allowed, got %v", err)
	}
}

func TestVerifyPrivateLogsButAllowsGroupReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.key")
	if err := os.WriteFile(path, []byte("secret"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	logger := &capturingLogger{}
	if err := VerifyPrivate(logger, path); err != nil {
		t.Fatalf("expected a loose-permission file to be logged, not rejected: %v", err)
	}
	if len(logger.warnings) == 0 {
		t.Fatal("expected a warning to be logged for a group-readable credential file")
	}
}

func TestVerifyPrivateAcceptsUserOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.key")
	if err := os.WriteFile(path, []byte("secret"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	logger := &capturingLogger{}
	if err := VerifyPrivate(logger, path); err != nil {
		t.Fatalf("expected a 0600 file owned by us to pass, got %v", err)
	}
	if len(logger.warnings) != 0 {
		t.Fatalf("expected no warnings for a properly-permissioned file, got %v", logger.warnings)
	}
}

func TestVerifyPrivateLogsButAllowsSpuriousOwnerExecuteBit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.key")
	if err := os.WriteFile(path, []byte("secret"), 0o700); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	logger := &capturingLogger{}
	if err := VerifyPrivate(logger, path); err != nil {
		t.Fatalf("expected an owner-execute file to be logged, not rejected: %v", err)
	}
	if len(logger.warnings) == 0 {
		t.Fatal("expected a warning to be logged for mode 0700, which is not exactly 0600")
	}
}

func TestVerifyPrivateRejectsNonRegularNonSymlink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-a-file")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := VerifyPrivate(pslog.NoopLogger(), dir); err == nil {
		t.Fatal("expected an error for a path that is a directory")
	}
}

// capturingLogger records Warn calls so tests can assert a mismatch was
// logged instead of returned as an error.
type capturingLogger struct {
	pslog.Logger
	warnings []string
}

func (l *capturingLogger) Warn(msg string, _ ...any) {
	l.warnings = append(l.warnings, msg)
}
