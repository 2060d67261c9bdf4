package phicrypto

//go:generate mockgen -source=keys.go -destination=mocks/keys-mocks.go -package=mocks KeyProvider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrKeyUnavailable is returned by providers that cannot produce a key.
var ErrKeyUnavailable = errors.New("encryption key unavailable")

// Key is one symmetric key and its identifier.
type Key struct {
	ID       string
	Material []byte
}

// KeyProvider supplies the active key for encryption and any retained key
// for decryption. Implementations may call a secret manager.
type KeyProvider interface {
	Active(ctx context.Context) (Key, error)
	Lookup(ctx context.Context, id string) (Key, error)
}

// StaticKeyProvider serves keys loaded once at startup. Older keys stay in
// the ring so rows written before a rotation remain readable.
type StaticKeyProvider struct {
	keys   map[string][]byte
	active string
}

// NewStaticKeyProvider decodes base64 keys and checks their size.
func NewStaticKeyProvider(encoded map[string]string, activeID string) (*StaticKeyProvider, error) {
	keys := make(map[string][]byte, len(encoded))
	for id, enc := range encoded {
		if len(id) == 0 || len(id) > 255 {
			return nil, fmt.Errorf("key id %q must be 1-255 bytes", id)
		}
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decode key %q: %w", id, err)
		}
		if len(raw) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key %q must be %d bytes, got %d", id, chacha20poly1305.KeySize, len(raw))
		}
		keys[id] = raw
	}
	if activeID != "" {
		if _, ok := keys[activeID]; !ok {
			return nil, fmt.Errorf("active key %q is not in the key ring", activeID)
		}
	}
	return &StaticKeyProvider{keys: keys, active: activeID}, nil
}

// NewEphemeralKeyProvider generates one random key held only in memory.
// Anything it encrypts is unreadable after a restart.
func NewEphemeralKeyProvider() (*StaticKeyProvider, error) {
	raw := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return &StaticKeyProvider{keys: map[string][]byte{"ephemeral": raw}, active: "ephemeral"}, nil
}

func (p *StaticKeyProvider) Active(_ context.Context) (Key, error) {
	material, ok := p.keys[p.active]
	if !ok {
		return Key{}, ErrKeyUnavailable
	}
	return Key{ID: p.active, Material: material}, nil
}

func (p *StaticKeyProvider) Lookup(_ context.Context, id string) (Key, error) {
	material, ok := p.keys[id]
	if !ok {
		return Key{}, fmt.Errorf("key %q: %w", id, ErrKeyUnavailable)
	}
	return Key{ID: id, Material: material}, nil
}
