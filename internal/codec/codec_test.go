package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := NewAESCodec("test-master-key")

	bundle := Bundle{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}

	ciphertext, err := c.Encrypt(bundle)
	require.NoError(t, err)
	require.NotEmpty(t, ciphertext)
	assert.NotContains(t, ciphertext, "access-123")

	got, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, bundle, got)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c := NewAESCodec("test-master-key")
	bundle := Bundle{AccessToken: "same"}

	first, err := c.Encrypt(bundle)
	require.NoError(t, err)
	second, err := c.Encrypt(bundle)
	require.NoError(t, err)

	// Fresh salt and nonce per encryption.
	assert.NotEqual(t, first, second)
}

func TestDecryptWithWrongKey(t *testing.T) {
	ciphertext, err := NewAESCodec("key-one").Encrypt(Bundle{AccessToken: "secret"})
	require.NoError(t, err)

	_, err = NewAESCodec("key-two").Decrypt(ciphertext)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptCredential))
}

func TestDecryptCorruptInput(t *testing.T) {
	c := NewAESCodec("test-master-key")

	cases := []struct {
		name       string
		ciphertext string
	}{
		{"not base64", "not-valid-base64!!!"},
		{"empty", ""},
		{"truncated", "YWJj"},
		{"random garbage", "YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXphYmNkZWZnaGlqa2xtbm9wcXJzdHV2d3h5eg=="},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decrypt(tc.ciphertext)
			assert.True(t, errors.Is(err, ErrCorruptCredential), "expected ErrCorruptCredential, got %v", err)
		})
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	c := NewAESCodec("test-master-key")
	ciphertext, err := c.Encrypt(Bundle{AccessToken: "secret"})
	require.NoError(t, err)

	tampered := []byte(ciphertext)
	tampered[len(tampered)-5] ^= 1

	_, err = c.Decrypt(string(tampered))
	assert.True(t, errors.Is(err, ErrCorruptCredential))
}
