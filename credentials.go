package sdpctrl

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
)

// CredentialBundle is the transient value the codec produces when a
// credential update arrives (spec §3). It is consumed exactly once by
// applyCredentials and then discarded.
type CredentialBundle struct {
	// TLSClientCertPEM and TLSClientKeyPEM are PEM-encoded text.
	TLSClientCertPEM []byte
	TLSClientKeyPEM  []byte
	// SPAEncryptionKey and SPAHMACKey are the new SPA keys, opaque byte
	// strings (typically base64 text in the config files).
	SPAEncryptionKey []byte
	SPAHMACKey       []byte
}

// backupOf reads the current content of path, or nil if the file does not
// exist yet (in which case a rollback simply removes the file).
func backupOf(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, newError(CodeFilesystemOperation, err)
	}
	return data, true, nil
}

// restoreFile puts path back to the state captured by backupOf. If the file
// did not previously exist, it is removed.
func restoreFile(path string, data []byte, existed bool) {
	if !existed {
		_ = os.Remove(path)
		return
	}
	_ = os.WriteFile(path, data, 0o600)
}

// writeCredFile writes data to path with mode 0600, having first captured a
// backup of the prior content for rollback.
func writeCredFile(path string, data []byte) (rollback func(), err error) {
	prev, existed, err := backupOf(path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, newError(CodeFilesystemOperation, err)
	}
	return func() { restoreFile(path, prev, existed) }, nil
}

// applyCredentials implements the credential store's atomic update protocol
// (spec §4B): cert -> key -> client-config SPA keys -> fwknop-config SPA
// keys, in that fixed order, with backup/restore rollback in reverse order
// on any failure. Only after all four writes succeed are the in-memory SPA
// keys copied into transport; the previous in-memory keys are retained
// until the new ones are copied successfully.
func (c *Client) applyCredentials(bundle CredentialBundle) error {
	var rollbacks []func()
	rollbackAll := func() {
		for i := len(rollbacks) - 1; i >= 0; i-- {
			rollbacks[i]()
		}
	}

	rb, err := writeCredFile(c.cfg.CertFile, bundle.TLSClientCertPEM)
	if err != nil {
		return err
	}
	rollbacks = append(rollbacks, rb)

	rb, err = writeCredFile(c.cfg.KeyFile, bundle.TLSClientKeyPEM)
	if err != nil {
		rollbackAll()
		return err
	}
	rollbacks = append(rollbacks, rb)

	rb, err = replaceSPAKeysInFile(c.cfg.ConfigFile, bundle.SPAEncryptionKey, bundle.SPAHMACKey)
	if err != nil {
		rollbackAll()
		return err
	}
	rollbacks = append(rollbacks, rb)

	rb, err = replaceSPAKeysInFile(c.cfg.FwknopConfigFile, bundle.SPAEncryptionKey, bundle.SPAHMACKey)
	if err != nil {
		rollbackAll()
		return err
	}
	rollbacks = append(rollbacks, rb)

	// All four writes succeeded: swap the in-memory keys used by the
	// transport facade. Old keys are only discarded after the new ones
	// are copied.
	newEnc := append([]byte(nil), bundle.SPAEncryptionKey...)
	newHMAC := append([]byte(nil), bundle.SPAHMACKey...)
	if c.transport != nil {
		if err := c.transport.SetSPAKeys(newEnc, newHMAC); err != nil {
			// Files are already consistent; the next restart re-reads
			// them. This is a non-fatal warning, not a rollback trigger.
			c.log().Warn("credential store: in-memory SPA key swap failed, files already updated", "error", err)
		}
	}
	c.cfg.SPAEncryptionKey = newEnc
	c.cfg.SPAHMACKey = newHMAC

	return nil
}

// replaceSPAKeysInFile rewrites only the SPA_ENCRYPTION_KEY and
// SPA_HMAC_KEY lines of an SDP-style config file, preserving every other
// line (comments, blank lines, unrelated keys, and their original
// formatting) byte-for-byte. It returns a rollback closure restoring the
// prior file content.
func replaceSPAKeysInFile(path string, encKey, hmacKey []byte) (rollback func(), err error) {
	prev, existed, err := backupOf(path)
	if err != nil {
		return nil, err
	}

	updated, err := rewriteSPAKeyLines(prev, encKey, hmacKey)
	if err != nil {
		return nil, newError(CodeFilesystemOperation, err)
	}
	if err := os.WriteFile(path, updated, 0o600); err != nil {
		return nil, newError(CodeFilesystemOperation, err)
	}
	return func() { restoreFile(path, prev, existed) }, nil
}

// rewriteSPAKeyLines rewrites the SPA_ENCRYPTION_KEY/SPA_HMAC_KEY lines with
// encKey/hmacKey re-encoded as base64 text, matching the on-disk
// representation these config files use (spec §6: "base64-encoded key <=
// 180 chars"). encKey/hmacKey are always raw binary in memory; base64 is
// strictly a wire/on-disk encoding.
func rewriteSPAKeyLines(content []byte, encKey, hmacKey []byte) ([]byte, error) {
	encB64 := base64.StdEncoding.EncodeToString(encKey)
	hmacB64 := base64.StdEncoding.EncodeToString(hmacKey)

	lines := bytes.Split(content, []byte("\n"))
	sawEnc, sawHMAC := false, false
	for i, line := range lines {
		key, _, ok := splitConfigLine(string(line))
		if !ok || isEmptyConfigLine(string(line)) {
			continue
		}
		switch key {
		case "SPA_ENCRYPTION_KEY":
			lines[i] = []byte(fmt.Sprintf("SPA_ENCRYPTION_KEY %s", encB64))
			sawEnc = true
		case "SPA_HMAC_KEY":
			lines[i] = []byte(fmt.Sprintf("SPA_HMAC_KEY %s", hmacB64))
			sawHMAC = true
		}
	}
	if !sawEnc {
		lines = append(lines, []byte(fmt.Sprintf("SPA_ENCRYPTION_KEY %s", encB64)))
	}
	if !sawHMAC {
		lines = append(lines, []byte(fmt.Sprintf("SPA_HMAC_KEY %s", hmacB64)))
	}
	return bytes.Join(lines, []byte("\n")), nil
}
