// Package pathutil expands and validates the filesystem paths a Client
// reads its credentials and config from.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
)

// ExpandUserAndEnv expands shell-style path components in p.
// It supports:
//   - environment variable tokens via os.ExpandEnv (for example $HOME, ${HOME})
//   - leading "~/" or "~\" to the current user's home directory
//
// The returned path is not normalized to absolute form; callers retain
// control over relative-path handling.
func ExpandUserAndEnv(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return p, nil
}

// VerifyPrivate checks that path is a regular file (or symlink) owned by
// the calling user with mode exactly 0600, matching the original client's
// file-permission audit for credentials and the PID file. Missing files
// are not an error: callers create them on first use.
//
// Per the original audit, only "not a regular file or symlink" and an
// unexpected stat error abort the caller. A loose permission mode or a
// UID mismatch is logged and otherwise ignored: it is a misconfiguration
// worth flagging, not by itself a reason to refuse to start.
func VerifyPrivate(logger pslog.Logger, path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	mode := info.Mode()
	if !mode.IsRegular() && mode&os.ModeSymlink == 0 {
		return fmt.Errorf("pathutil: %s is not a regular file or symbolic link", path)
	}

	if logger == nil {
		logger = pslog.NoopLogger()
	}

	if mode.Perm() != 0o600 {
		logger.Warn("file permissions should be exactly user read/write (0600)", "path", path, "mode", mode.Perm().String())
	}

	checkOwner(logger, path, info)
	return nil
}
