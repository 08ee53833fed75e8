// Package oracle implements the decryption oracle. Senders seal the inline
// ciphertext of a message to the oracle's public key; the oracle opens it
// for the receiver once the ledger reports the message unlocked, and hands
// the plaintext back sealed to the receiver's session key.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/jwtsigner"
	"sealedmsg/internal/observability/metrics"
	"sealedmsg/internal/sealbox"
	"sealedmsg/internal/session"
)

const (
	MaxHandles      = 16
	MaxSessionDays  = 30
	limiterCapacity = 4096
)

// AccessChecker answers whether reader may have handle decrypted now.
type AccessChecker interface {
	CheckAccess(ctx context.Context, reader domain.Identity, handle string) (uint64, error)
}

// SealHandle produces the content handle a sender stores on the ledger.
func SealHandle(oracle sealbox.PublicKey, scope string, inline []byte) (string, error) {
	return sealbox.SealString(oracle, inline, []byte(scope))
}

type Service struct {
	keys     sealbox.KeyPair
	scope    string
	acl      AccessChecker
	verifier jwtsigner.Verifier
	limiters *lru.Cache[domain.Identity, *rate.Limiter]
	limit    rate.Limit
	burst    int
	logger   *slog.Logger
}

type Option func(*Service)

// WithRateLimit bounds decrypt requests per receiver identity.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Service) {
		s.limit = rate.Limit(perSecond)
		s.burst = burst
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.verifier.Now = now } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }

func New(keys sealbox.KeyPair, scope string, acl AccessChecker, opts ...Option) (*Service, error) {
	limiters, err := lru.New[domain.Identity, *rate.Limiter](limiterCapacity)
	if err != nil {
		return nil, err
	}
	s := &Service{
		keys:     keys,
		scope:    scope,
		acl:      acl,
		verifier: jwtsigner.Verifier{Audience: session.Audience, Leeway: 30 * time.Second},
		limiters: limiters,
		limit:    rate.Inf,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) PublicKey() sealbox.PublicKey { return s.keys.Public }

func (s *Service) Scope() string { return s.scope }

// Decrypt serves every handle the receiver may read. Handles that are
// locked, not addressed to the receiver, or do not open are left out.
func (s *Service) Decrypt(ctx context.Context, req session.DecryptRequest) (map[string][]byte, error) {
	if len(req.Handles) == 0 || len(req.Handles) > MaxHandles {
		return nil, fmt.Errorf("%w: between 1 and %d handles required", domain.ErrValidation, MaxHandles)
	}
	if err := s.authorize(req); err != nil {
		s.logger.Warn("oracle authorization rejected", "receiver", req.Receiver, "error", err)
		return nil, err
	}
	if !s.allow(req.Receiver) {
		return nil, fmt.Errorf("%w: rate limited", domain.ErrNotReady)
	}

	out := make(map[string][]byte, len(req.Handles))
	for _, h := range req.Handles {
		if _, done := out[h]; done {
			continue
		}
		if _, err := s.acl.CheckAccess(ctx, req.Receiver, h); err != nil {
			if errors.Is(err, domain.ErrAuthorization) || errors.Is(err, domain.ErrStateConflict) {
				metrics.OracleDecryptionsTotal.WithLabelValues("denied").Inc()
				continue
			}
			return nil, domain.Transient("ledger access check", err)
		}
		plain, err := sealbox.OpenString(s.keys, h, []byte(s.scope))
		if err != nil {
			metrics.OracleDecryptionsTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("handle did not open", "error", err)
			continue
		}
		box, err := sealbox.Seal(req.PublicKey, plain, []byte(h))
		if err != nil {
			return nil, err
		}
		out[h] = box
		metrics.OracleDecryptionsTotal.WithLabelValues("served").Inc()
	}
	s.logger.Info("oracle decrypt", "receiver", req.Receiver, "requested", len(req.Handles), "served", len(out))
	return out, nil
}

// authorize checks that the request carries a session authorization signed
// by the receiver and bound to the session key, scope and window it claims.
func (s *Service) authorize(req session.DecryptRequest) error {
	if req.Scope != s.scope {
		return fmt.Errorf("%w: scope mismatch", domain.ErrNotAuthorized)
	}
	if req.DurationDays <= 0 || req.DurationDays > MaxSessionDays {
		return fmt.Errorf("%w: session duration out of range", domain.ErrValidation)
	}
	id, claims, err := s.verifier.Verify(req.Authorization)
	if err != nil {
		return err
	}
	if id != req.Receiver {
		return fmt.Errorf("%w: authorization signed by another identity", domain.ErrNotAuthorized)
	}
	if str(claims, session.ClaimPublicKey) != req.PublicKey.String() ||
		str(claims, session.ClaimScope) != req.Scope ||
		num(claims, session.ClaimStart) != req.StartTimestamp ||
		num(claims, session.ClaimDays) != int64(req.DurationDays) {
		return fmt.Errorf("%w: authorization does not match session", domain.ErrNotAuthorized)
	}
	return nil
}

func (s *Service) allow(id domain.Identity) bool {
	if s.limit == rate.Inf {
		return true
	}
	l, ok := s.limiters.Get(id)
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters.Add(id, l)
	}
	return l.Allow()
}

func str(c jwt.MapClaims, key string) string {
	v, _ := c[key].(string)
	return v
}

func num(c jwt.MapClaims, key string) int64 {
	switch v := c[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	return -1
}
