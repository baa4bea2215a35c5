package protocol

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeWithoutSecret(t *testing.T) {
	value, err := NewChallenge("")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(Sentinel)), value)
	assert.NoError(t, VerifyChallenge(value, ""))
}

func TestChallengeWithSecret(t *testing.T) {
	secrets := []string{"hunter2", "a", "pässwörd with spaces"}

	for _, secret := range secrets {
		t.Run(secret, func(t *testing.T) {
			value, err := NewChallenge(secret)
			require.NoError(t, err)

			assert.NoError(t, VerifyChallenge(value, secret))
			assert.ErrorIs(t, VerifyChallenge(value, secret+"x"), ErrChallengeMismatch)
			assert.ErrorIs(t, VerifyChallenge(value, ""), ErrChallengeMismatch)
		})
	}
}

func TestChallengeIsFreshPerCall(t *testing.T) {
	first, err := NewChallenge("secret")
	require.NoError(t, err)
	second, err := NewChallenge("secret")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestVerifyChallengeRejectsGarbage(t *testing.T) {
	assert.ErrorIs(t, VerifyChallenge("%%%", ""), ErrChallengeEncoding)
	assert.ErrorIs(t, VerifyChallenge(base64.StdEncoding.EncodeToString([]byte("nope")), ""), ErrChallengeMismatch)
	assert.ErrorIs(t, VerifyChallenge(base64.StdEncoding.EncodeToString([]byte("short")), "secret"), ErrChallengeMismatch)
}
