// Package session manages the receiver's time-boxed decryption session.
//
// A session is an X25519 key pair plus a signed authorization binding its
// public key, the contract scope and the validity window to the receiver's
// identity. The receiver signs once per session; every decrypt within the
// window reuses the same authorization. The oracle seals plaintext to the
// session public key, so the private key never leaves the client.
package session

import (
	"context"
	"time"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/sealbox"
)

const (
	DefaultDurationDays = 7
	DefaultSkew         = 5 * time.Minute

	// Audience is the JWT audience of session authorizations.
	Audience = "oracle"

	ClaimPublicKey = "pk"
	ClaimScope     = "scope"
	ClaimStart     = "start"
	ClaimDays      = "days"
)

type Session struct {
	Identity       domain.Identity
	Scope          string
	Keys           sealbox.KeyPair
	StartTimestamp int64
	DurationDays   int
	// Signature is the signed authorization artifact.
	Signature string
}

func (s *Session) Expires() time.Time {
	return time.Unix(s.StartTimestamp, 0).Add(time.Duration(s.DurationDays) * 24 * time.Hour)
}

// Valid reports whether the session may still be used at now, keeping skew
// in reserve so the oracle does not see it expire mid-request.
func (s *Session) Valid(now time.Time, skew time.Duration) bool {
	if s == nil || s.Signature == "" || s.DurationDays <= 0 {
		return false
	}
	return now.Before(s.Expires().Add(-skew))
}

func (s *Session) Authorization() Authorization {
	return Authorization{
		Receiver:       s.Identity,
		PublicKey:      s.Keys.Public,
		Scope:          s.Scope,
		StartTimestamp: s.StartTimestamp,
		DurationDays:   s.DurationDays,
	}
}

// Authorization is what the receiver signs to open a session.
type Authorization struct {
	Receiver       domain.Identity
	PublicKey      sealbox.PublicKey
	Scope          string
	StartTimestamp int64
	DurationDays   int
}

// Signer obtains the receiver's signature over an Authorization. It is the
// only step that may wait for the user. A refusal must return an error
// wrapping domain.ErrSignatureRejected.
type Signer interface {
	Identity() domain.Identity
	SignAuthorization(ctx context.Context, a Authorization) (string, error)
}

// DecryptRequest asks the oracle for the plaintext of handles on behalf of a
// session.
type DecryptRequest struct {
	Handles        []string          `json:"handles"`
	Scope          string            `json:"scope"`
	Receiver       domain.Identity   `json:"receiver"`
	PublicKey      sealbox.PublicKey `json:"publicKey"`
	StartTimestamp int64             `json:"startTimestamp"`
	DurationDays   int               `json:"durationDays"`
	Authorization  string            `json:"authorization"`
}

// Oracle returns, per handle, the plaintext sealed to the session public key
// with the handle as associated data. Handles the oracle will not serve are
// left out of the result.
type Oracle interface {
	Decrypt(ctx context.Context, req DecryptRequest) (map[string][]byte, error)
}
