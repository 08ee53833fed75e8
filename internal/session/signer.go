package session

import (
	"context"
	"fmt"
	"time"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/jwtsigner"
)

// JWTSigner signs authorizations as EdDSA JWTs for the oracle. Confirm, when
// set, is asked before every signature and may refuse.
type JWTSigner struct {
	Signer  *jwtsigner.Signer
	Confirm func(ctx context.Context, a Authorization) error
}

func (j *JWTSigner) Identity() domain.Identity { return j.Signer.Identity() }

func (j *JWTSigner) SignAuthorization(ctx context.Context, a Authorization) (string, error) {
	if j.Confirm != nil {
		if err := j.Confirm(ctx, a); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: %v", domain.ErrSignatureRejected, err)
		}
	}
	start := time.Unix(a.StartTimestamp, 0)
	expires := start.Add(time.Duration(a.DurationDays) * 24 * time.Hour)
	return j.Signer.SignWindow(Audience, start, expires, map[string]any{
		ClaimPublicKey: a.PublicKey.String(),
		ClaimScope:     a.Scope,
		ClaimStart:     a.StartTimestamp,
		ClaimDays:      a.DurationDays,
	})
}
