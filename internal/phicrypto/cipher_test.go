package phicrypto_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"intakehub/internal/phicrypto"
	"intakehub/internal/phicrypto/mocks"
	dErrors "intakehub/pkg/domain-errors"
)

func keyB64(fill byte) string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{fill}, 32))
}

func newCipher(t *testing.T, keys map[string]string, active string) *phicrypto.Cipher {
	t.Helper()
	provider, err := phicrypto.NewStaticKeyProvider(keys, active)
	require.NoError(t, err)
	return phicrypto.New(provider)
}

func TestRoundTrip(t *testing.T) {
	c := newCipher(t, map[string]string{"k1": keyB64(1)}, "k1")
	ctx := context.Background()

	inputs := []string{
		"",
		"Jane",
		"2012-03-04",
		"a|b,c;d\te\nf\"g'h",
		"José Ñúñez 😀",
		`["Counseling","Other Service"]`,
		string(bytes.Repeat([]byte("x"), 10_000)),
	}
	for _, in := range inputs {
		ct, err := c.Encrypt(ctx, in)
		require.NoError(t, err)
		if in != "" {
			assert.NotContains(t, string(ct), in)
		}
		out, err := c.Decrypt(ctx, ct)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	c := newCipher(t, map[string]string{"k1": keyB64(1)}, "k1")
	a, err := c.Encrypt(context.Background(), "Jane")
	require.NoError(t, err)
	b, err := c.Encrypt(context.Background(), "Jane")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c := newCipher(t, map[string]string{"k1": keyB64(1)}, "k1")
	ct, err := c.Encrypt(context.Background(), "Jane")
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xff
	_, err = c.Decrypt(context.Background(), ct)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDecryption))

	_, err = c.Decrypt(context.Background(), []byte{9, 0})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDecryption))

	_, err = c.Decrypt(context.Background(), nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDecryption))
}

func TestRotationKeepsOldCiphertextReadable(t *testing.T) {
	old := newCipher(t, map[string]string{"2024": keyB64(1)}, "2024")
	ct, err := old.Encrypt(context.Background(), "Doe")
	require.NoError(t, err)

	rotated := newCipher(t, map[string]string{"2024": keyB64(1), "2025": keyB64(2)}, "2025")
	out, err := rotated.Decrypt(context.Background(), ct)
	require.NoError(t, err)
	assert.Equal(t, "Doe", out)

	retired := newCipher(t, map[string]string{"2025": keyB64(2)}, "2025")
	_, err = retired.Decrypt(context.Background(), ct)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDecryption))
}

func TestEncryptFailsWhenKeyUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	keys := mocks.NewMockKeyProvider(ctrl)
	keys.EXPECT().Active(gomock.Any()).Return(phicrypto.Key{}, phicrypto.ErrKeyUnavailable)

	_, err := phicrypto.New(keys).Encrypt(context.Background(), "Jane")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEncryption))
	assert.ErrorIs(t, err, phicrypto.ErrKeyUnavailable)
}

func TestFingerprintIsStableAndKeyed(t *testing.T) {
	a := newCipher(t, map[string]string{"k1": keyB64(1)}, "k1")
	b := newCipher(t, map[string]string{"k1": keyB64(2)}, "k1")
	ctx := context.Background()

	f1, err := a.Fingerprint(ctx, "jane", "doe", "2012-03-04")
	require.NoError(t, err)
	f2, err := a.Fingerprint(ctx, "jane", "doe", "2012-03-04")
	require.NoError(t, err)
	f3, err := b.Fingerprint(ctx, "jane", "doe", "2012-03-04")
	require.NoError(t, err)
	f4, err := a.Fingerprint(ctx, "janed", "oe", "2012-03-04")
	require.NoError(t, err)

	assert.Equal(t, f1, f2)
	assert.NotEqual(t, f1, f3)
	assert.NotEqual(t, f1, f4)
	assert.NotContains(t, f1, "jane")
}

func TestStaticKeyProviderValidation(t *testing.T) {
	_, err := phicrypto.NewStaticKeyProvider(map[string]string{"k": "not-base64!"}, "k")
	assert.Error(t, err)
	_, err = phicrypto.NewStaticKeyProvider(map[string]string{"k": base64.StdEncoding.EncodeToString([]byte("short"))}, "k")
	assert.Error(t, err)
	_, err = phicrypto.NewStaticKeyProvider(map[string]string{"k": keyB64(1)}, "missing")
	assert.Error(t, err)
}

func TestEphemeralKeyProviderRoundTrip(t *testing.T) {
	provider, err := phicrypto.NewEphemeralKeyProvider()
	require.NoError(t, err)
	c := phicrypto.New(provider)

	ct, err := c.Encrypt(context.Background(), "Wilhelmina")
	require.NoError(t, err)
	pt, err := c.Decrypt(context.Background(), ct)
	require.NoError(t, err)
	assert.Equal(t, "Wilhelmina", pt)
}
