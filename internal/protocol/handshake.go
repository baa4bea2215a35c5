package protocol

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/Tyrowin/msger/internal/crypt"
)

const (
	// HeaderUsername carries the display name on the upgrade request.
	HeaderUsername = "username"
	// HeaderChallenge carries the validation challenge on the upgrade response.
	HeaderChallenge = "msger_crypt"
	// HeaderProof optionally carries the client's own sealed sentinel on the
	// upgrade request, for servers that verify secret knowledge.
	HeaderProof = "msger_proof"
	// Sentinel is the plaintext both sides expect the challenge to open to.
	Sentinel = "Decrypt me"
)

var (
	// ErrChallengeEncoding is returned when a challenge is not valid base64.
	ErrChallengeEncoding = errors.New("protocol: challenge is not valid base64")
	// ErrChallengeMismatch is returned when a challenge does not open to the sentinel.
	ErrChallengeMismatch = errors.New("protocol: challenge does not match sentinel")
)

// NewChallenge returns the header value for a handshake. With an empty
// secret it is the base64 sentinel; otherwise the sentinel is sealed first.
func NewChallenge(secret string) (string, error) {
	payload := []byte(Sentinel)
	if secret != "" {
		sealed, err := crypt.Encrypt(payload, secret)
		if err != nil {
			return "", fmt.Errorf("seal challenge: %w", err)
		}
		payload = sealed
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// VerifyChallenge checks that value opens to the sentinel under secret. A
// client without a secret compares the decoded bytes to the sentinel directly.
func VerifyChallenge(value, secret string) error {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeEncoding, err)
	}

	if secret != "" {
		raw, err = crypt.Decrypt(raw, secret)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrChallengeMismatch, err)
		}
	}

	if subtle.ConstantTimeCompare(raw, []byte(Sentinel)) != 1 {
		return ErrChallengeMismatch
	}
	return nil
}
