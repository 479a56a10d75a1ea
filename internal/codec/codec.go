// Package codec encrypts and decrypts OAuth credential bundles for
// storage at rest. Bundles only ever exist in plaintext in memory; the
// persisted form is an opaque base64 string produced here.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrCorruptCredential is returned when a ciphertext was not produced
// by this codec or the configured key has changed since encryption.
var ErrCorruptCredential = errors.New("corrupt credential ciphertext")

const (
	saltSize = 32
	keyIter  = 10000
	keyLen   = 32
)

// Bundle is a plaintext OAuth credential bundle. It is never persisted
// in this form.
type Bundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	// ExpiresIn is the declared lifetime of the access token in
	// seconds, counted from the connection's issuance timestamp.
	// Zero means the token does not expire.
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

// Codec is the symmetric credential codec contract.
type Codec interface {
	Encrypt(b Bundle) (string, error)
	Decrypt(ciphertext string) (Bundle, error)
}

// AESCodec implements Codec with AES-256-GCM. Each encryption uses a
// fresh random salt for PBKDF2 key derivation, so identical bundles do
// not produce identical ciphertexts. The stored framing is
// base64(salt || nonce || ciphertext).
type AESCodec struct {
	masterKey []byte
}

// NewAESCodec derives the codec's key material from the configured
// master key string.
func NewAESCodec(masterKey string) *AESCodec {
	hash := sha256.Sum256([]byte(masterKey))
	return &AESCodec{masterKey: hash[:]}
}

// Encrypt serializes and encrypts a bundle for storage.
func (c *AESCodec) Encrypt(b Bundle) (string, error) {
	plaintext, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundle: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := c.newGCM(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	framed := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	framed = append(framed, salt...)
	framed = append(framed, nonce...)
	framed = append(framed, sealed...)

	return base64.StdEncoding.EncodeToString(framed), nil
}

// Decrypt reverses Encrypt. Any framing or authentication failure is
// reported as ErrCorruptCredential.
func (c *AESCodec) Decrypt(ciphertext string) (Bundle, error) {
	framed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: invalid encoding", ErrCorruptCredential)
	}

	// 12 is the minimum GCM nonce size.
	if len(framed) < saltSize+12 {
		return Bundle{}, fmt.Errorf("%w: truncated", ErrCorruptCredential)
	}

	salt := framed[:saltSize]
	rest := framed[saltSize:]

	gcm, err := c.newGCM(salt)
	if err != nil {
		return Bundle{}, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return Bundle{}, fmt.Errorf("%w: missing nonce", ErrCorruptCredential)
	}

	plaintext, err := gcm.Open(nil, rest[:nonceSize], rest[nonceSize:], nil)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: authentication failed", ErrCorruptCredential)
	}

	var b Bundle
	if err := json.Unmarshal(plaintext, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: invalid payload", ErrCorruptCredential)
	}

	return b, nil
}

func (c *AESCodec) newGCM(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.masterKey, salt, keyIter, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
