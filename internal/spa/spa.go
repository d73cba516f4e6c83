// Package spa builds and sends the Single Packet Authorization knock that
// asks a controller's gateway to open the control port to the sender
// (spec GLOSSARY: SPA).
package spa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen    = 8
	pbkdf2Iter = 5000
	keyLen     = 32
)

// Packet is a single SPA knock payload, encrypted and authenticated for the
// configured stanza before being written to the wire.
type Packet struct {
	// Digest is the packet's SHA-256 digest as sent, which a replay-cache
	// collaborator on the controller side keys its dedup store by. It is
	// exposed for callers that log or test against it; this package never
	// stores digests itself (spec §1 Non-goals: no server-side pieces).
	Digest string
	// Raw is the base64-encoded packet as written to the socket.
	Raw []byte
}

// Build encrypts payload under encryptionKey and appends an HMAC-SHA256
// keyed by hmacKey, producing a base64 packet in the fwknop SPA family's
// shape: base64(salt || iv || ciphertext || hmac).
func Build(payload []byte, encryptionKey, hmacKey []byte) (*Packet, error) {
	if len(encryptionKey) == 0 || len(hmacKey) == 0 {
		return nil, errors.New("spa: encryption and hmac keys are required")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("spa: generate salt: %w", err)
	}

	derivedEnc := pbkdf2.Key(encryptionKey, salt, pbkdf2Iter, keyLen, sha256.New)

	block, err := aes.NewCipher(derivedEnc)
	if err != nil {
		return nil, fmt.Errorf("spa: init cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("spa: generate iv: %w", err)
	}
	padded := pkcs7Pad(payload, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	body := append(append(append([]byte{}, salt...), iv...), ciphertext...)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(body)
	digest := mac.Sum(nil)

	full := append(body, digest...)
	raw := make([]byte, base64.StdEncoding.EncodedLen(len(full)))
	base64.StdEncoding.Encode(raw, full)

	sum := sha256.Sum256(full)
	return &Packet{
		Digest: base64.StdEncoding.EncodeToString(sum[:]),
		Raw:    raw,
	}, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

// Send writes packet to addr over UDP and returns immediately; SPA knocks
// are fire-and-forget by design (there is no reply).
func Send(addr string, packet *Packet, timeout time.Duration) error {
	conn, err := net.DialTimeout("udp", addr, timeout)
	if err != nil {
		return fmt.Errorf("spa: dial %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("spa: set write deadline: %w", err)
	}
	if _, err := conn.Write(packet.Raw); err != nil {
		return fmt.Errorf("spa: write: %w", err)
	}
	return nil
}
