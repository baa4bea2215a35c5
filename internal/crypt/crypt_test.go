package crypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	sealed, err := Encrypt([]byte("Decrypt me"), "secret")
	require.NoError(t, err)
	assert.Len(t, sealed, SaltSize+NonceSize+len("Decrypt me")+16)

	plain, err := Decrypt(sealed, "secret")
	require.NoError(t, err)
	assert.Equal(t, "Decrypt me", string(plain))
}

func TestDecryptWrongSecret(t *testing.T) {
	sealed, err := Encrypt([]byte("Decrypt me"), "secret")
	require.NoError(t, err)

	_, err = Decrypt(sealed, "other")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptTampered(t *testing.T) {
	sealed, err := Encrypt([]byte("Decrypt me"), "secret")
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = Decrypt(sealed, "secret")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptShortInput(t *testing.T) {
	_, err := Decrypt([]byte("tiny"), "secret")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEmptySecret(t *testing.T) {
	_, err := Encrypt([]byte("x"), "")
	assert.ErrorIs(t, err, ErrEmptySecret)
	_, err = Decrypt(make([]byte, 64), "")
	assert.ErrorIs(t, err, ErrEmptySecret)
}
