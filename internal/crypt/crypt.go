// Package crypt seals short values with a shared secret. It backs the
// handshake challenge: the server encrypts a known sentinel and the client
// proves it holds the same secret by decrypting it.
package crypt

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SaltSize is the length of the random salt prefixed to every ciphertext.
	SaltSize = 16
	// NonceSize is the AEAD nonce length that follows the salt.
	NonceSize = chacha20poly1305.NonceSize

	argonTime    = 1
	argonMemory  = 19 * 1024
	argonThreads = 1
)

var (
	// ErrEmptySecret is returned when no secret was supplied.
	ErrEmptySecret = errors.New("crypt: empty secret")
	// ErrDecrypt is returned when the secret is wrong or the ciphertext has been modified.
	ErrDecrypt = errors.New("crypt: wrong secret or corrupted ciphertext")
)

func deriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Encrypt seals plaintext under a key derived from secret. The result is
// salt || nonce || ciphertext and differs on every call.
func Encrypt(plaintext []byte, secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	out := make([]byte, SaltSize+NonceSize, SaltSize+NonceSize+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(out[:SaltSize+NonceSize]); err != nil {
		return nil, fmt.Errorf("crypt: read random: %w", err)
	}
	salt, nonce := out[:SaltSize], out[SaltSize:]

	key := deriveKey(secret, salt)
	defer zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(out, nonce, plaintext, salt), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(sealed []byte, secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if len(sealed) < SaltSize+NonceSize+chacha20poly1305.Overhead {
		return nil, ErrDecrypt
	}
	salt := sealed[:SaltSize]
	nonce := sealed[SaltSize : SaltSize+NonceSize]

	key := deriveKey(secret, salt)
	defer zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, sealed[SaltSize+NonceSize:], salt)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}
