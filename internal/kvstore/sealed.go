package kvstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// SealKeySize is the AES-256 key length.
const SealKeySize = 32

// ErrUnsealable is returned when a stored value fails authentication,
// for example after the key was rotated.
var ErrUnsealable = errors.New("stored value cannot be decrypted")

// Sealer encrypts values with AES-256-GCM before they reach the backing
// store. The scope and key name are bound as additional data, so a value
// copied under another key or into another context does not open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer. key must be exactly 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != SealKeySize {
		return nil, fmt.Errorf("seal key must be exactly %d bytes", SealKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

// Wrap returns a Store that seals values written to store. scope is the
// prefix store was scoped to, usually ContextPrefix(id).
func (s *Sealer) Wrap(store Store, scope string) Store {
	return &sealed{store: store, scope: scope, sealer: s}
}

// Seal encrypts plaintext for key. The output is base64(nonce || ciphertext).
func (s *Sealer) Seal(key, plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(key))
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(key, value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealable, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("%w: value too short", ErrUnsealable)
	}

	plaintext, err := s.aead.Open(nil, raw[:n], raw[n:], []byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealable, err)
	}
	return string(plaintext), nil
}

type sealed struct {
	store  Store
	scope  string
	sealer *Sealer
}

func (s *sealed) GetItem(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.store.GetItem(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	plaintext, err := s.sealer.Open(s.scope+key, value)
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return plaintext, true, nil
}

func (s *sealed) SetItem(ctx context.Context, key, value string) error {
	ciphertext, err := s.sealer.Seal(s.scope+key, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return s.store.SetItem(ctx, key, ciphertext)
}

func (s *sealed) RemoveItem(ctx context.Context, key string) error {
	return s.store.RemoveItem(ctx, key)
}
