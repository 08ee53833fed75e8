// Package jwtsigner issues and verifies EdDSA JWTs for self-certifying
// identities. The subject of every token is the signer's identity, so a
// verifier recovers the public key from the token itself.
package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sealedmsg/internal/domain"
)

// Signer holds an Ed25519 keypair for issuing JWTs.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	Issuer  string
}

// Generate creates a signer with a fresh random key.
func Generate(iss string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newSigner(priv, iss), nil
}

// NewFromBase64 creates a signer from base64-encoded ed25519 private key bytes.
func NewFromBase64(privB64, iss string) (*Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key size")
	}
	return newSigner(ed25519.PrivateKey(raw), iss), nil
}

func newSigner(priv ed25519.PrivateKey, iss string) *Signer {
	return &Signer{private: priv, public: priv.Public().(ed25519.PublicKey), Issuer: iss}
}

func (s *Signer) Identity() domain.Identity { return domain.IdentityFromPublicKey(s.public) }

// PrivateBase64 exports the private key in the form NewFromBase64 accepts.
func (s *Signer) PrivateBase64() string { return base64.StdEncoding.EncodeToString(s.private) }

// Sign issues a JWT for the signer's identity valid for ttl from now.
func (s *Signer) Sign(aud string, ttl time.Duration, claims map[string]any) (string, error) {
	now := time.Now()
	return s.SignWindow(aud, now, now.Add(ttl), claims)
}

// SignWindow issues a JWT valid between notBefore and expires.
func (s *Signer) SignWindow(aud string, notBefore, expires time.Time, claims map[string]any) (string, error) {
	m := jwt.MapClaims{}
	for k, v := range claims {
		m[k] = v
	}
	if s.Issuer != "" {
		m["iss"] = s.Issuer
	}
	m["sub"] = s.Identity().String()
	m["aud"] = aud
	m["iat"] = time.Now().Unix()
	m["nbf"] = notBefore.Unix()
	m["exp"] = expires.Unix()

	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, m)
	return t.SignedString(s.private)
}

// Verifier checks tokens issued by any identity for one audience.
type Verifier struct {
	Audience string
	Leeway   time.Duration
	Now      func() time.Time
}

// Verify validates the signature against the key encoded in sub and returns
// the caller identity with the remaining claims. All failures wrap
// domain.ErrNotAuthorized.
func (v Verifier) Verify(token string) (domain.Identity, jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(v.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.Leeway),
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		sub, err := t.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		return domain.Identity(sub).PublicKey()
	}, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrNotAuthorized, err)
	}
	sub, _ := claims.GetSubject()
	return domain.Identity(sub), claims, nil
}
