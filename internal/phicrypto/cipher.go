// Package phicrypto encrypts intake fields one at a time with
// XChaCha20-Poly1305. Each ciphertext is self-describing:
//
//	version(1) | len(keyID)(1) | keyID | nonce(24) | sealed
//
// The header is authenticated as associated data, so a ciphertext cannot be
// replayed under a different key id.
package phicrypto

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	dErrors "intakehub/pkg/domain-errors"
)

const envelopeV1 byte = 1

// Cipher encrypts and decrypts single field values.
type Cipher struct {
	keys KeyProvider
	rand io.Reader
}

// New constructs a Cipher over an injected key provider.
func New(keys KeyProvider) *Cipher {
	return &Cipher{keys: keys, rand: rand.Reader}
}

// Encrypt seals plaintext under the active key. The empty string is a
// valid plaintext and round-trips.
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) ([]byte, error) {
	key, err := c.keys.Active(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncryption, "encryption key unavailable")
	}
	aead, err := chacha20poly1305.NewX(key.Material)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncryption, "invalid encryption key")
	}

	header := make([]byte, 0, 2+len(key.ID))
	header = append(header, envelopeV1, byte(len(key.ID)))
	header = append(header, key.ID...)

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncryption, "nonce generation failed")
	}

	out := make([]byte, 0, len(header)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, []byte(plaintext), header), nil
}

// Decrypt opens a ciphertext produced by Encrypt under any retained key.
func (c *Cipher) Decrypt(ctx context.Context, ciphertext []byte) (string, error) {
	header, keyID, body, err := splitEnvelope(ciphertext)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDecryption, "malformed ciphertext")
	}
	key, err := c.keys.Lookup(ctx, keyID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDecryption, "decryption key unavailable")
	}
	aead, err := chacha20poly1305.NewX(key.Material)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDecryption, "invalid decryption key")
	}
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return "", dErrors.New(dErrors.CodeDecryption, "malformed ciphertext")
	}
	nonce, sealed := body[:aead.NonceSize()], body[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, header)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDecryption, "ciphertext failed authentication")
	}
	return string(plain), nil
}

func splitEnvelope(b []byte) (header []byte, keyID string, body []byte, err error) {
	if len(b) < 2 {
		return nil, "", nil, errors.New("ciphertext too short")
	}
	if b[0] != envelopeV1 {
		return nil, "", nil, fmt.Errorf("unsupported envelope version %d", b[0])
	}
	idLen := int(b[1])
	if len(b) < 2+idLen {
		return nil, "", nil, errors.New("truncated key id")
	}
	return b[:2+idLen], string(b[2 : 2+idLen]), b[2+idLen:], nil
}

// Fingerprint returns a keyed hash of parts for duplicate detection. The
// HMAC key is derived from the active key with HKDF, so fingerprints are not
// reversible without the key ring.
func (c *Cipher) Fingerprint(ctx context.Context, parts ...string) (string, error) {
	key, err := c.keys.Active(ctx)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeEncryption, "encryption key unavailable")
	}
	macKey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, key.Material, nil, []byte("intakehub/duplicate-fingerprint/v1"))
	if _, err := io.ReadFull(kdf, macKey); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeEncryption, "fingerprint key derivation failed")
	}
	mac := hmac.New(sha256.New, macKey)
	for _, p := range parts {
		// length-prefix each part so ("ab","c") and ("a","bc") differ
		_, _ = fmt.Fprintf(mac, "%d:%s|", len(p), p)
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}
