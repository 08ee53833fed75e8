package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/sealbox"
)

type Manager struct {
	signer Signer
	oracle Oracle
	store  Store

	scope  string
	days   int
	skew   time.Duration
	now    func() time.Time
	logger *slog.Logger

	// mu serializes session creation so concurrent decrypts share one
	// signature prompt.
	mu     sync.Mutex
	flight singleflight.Group
}

type Option func(*Manager)

func WithScope(scope string) Option         { return func(m *Manager) { m.scope = scope } }
func WithDurationDays(days int) Option      { return func(m *Manager) { m.days = days } }
func WithSkew(d time.Duration) Option       { return func(m *Manager) { m.skew = d } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithLogger(l *slog.Logger) Option      { return func(m *Manager) { m.logger = l } }
func WithStore(s Store) Option              { return func(m *Manager) { m.store = s } }

// NewManager wires a manager. signer and oracle may be nil while the client
// is still starting; Decrypt then fails with a retryable not-ready error.
func NewManager(signer Signer, oracle Oracle, opts ...Option) *Manager {
	m := &Manager{
		signer: signer,
		oracle: oracle,
		store:  NewMemoryStore(),
		days:   DefaultDurationDays,
		skew:   DefaultSkew,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Decrypt exchanges handle for its plaintext. Concurrent calls for the same
// handle share one oracle round trip.
func (m *Manager) Decrypt(ctx context.Context, handle string) ([]byte, error) {
	if m.signer == nil || m.oracle == nil || m.store == nil {
		return nil, domain.ErrSessionUnavailable
	}
	if handle == "" {
		return nil, fmt.Errorf("%w: empty handle", domain.ErrValidation)
	}
	// The shared round trip outlives any single caller; each caller only
	// abandons its own wait.
	ch := m.flight.DoChan(handle, func() (any, error) {
		return m.decrypt(context.WithoutCancel(ctx), handle)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (m *Manager) decrypt(ctx context.Context, handle string) ([]byte, error) {
	sess, err := m.ensure(ctx)
	if err != nil {
		return nil, err
	}
	out, err := m.oracle.Decrypt(ctx, DecryptRequest{
		Handles:        []string{handle},
		Scope:          sess.Scope,
		Receiver:       sess.Identity,
		PublicKey:      sess.Keys.Public,
		StartTimestamp: sess.StartTimestamp,
		DurationDays:   sess.DurationDays,
		Authorization:  sess.Signature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Transient("oracle decrypt", err)
	}
	box, ok := out[handle]
	if !ok {
		return nil, domain.ErrDecryptionFailed
	}
	plain, err := sealbox.Open(sess.Keys, box, []byte(handle))
	if err != nil {
		m.logger.Warn("oracle response did not open with session key", "error", err)
		return nil, domain.ErrDecryptionFailed
	}
	return plain, nil
}

// Current returns the cached session if it is still usable.
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	if m.store == nil || m.signer == nil {
		return nil, domain.ErrSessionUnavailable
	}
	sess, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !m.usable(sess) {
		return nil, nil
	}
	return sess, nil
}

func (m *Manager) usable(sess *Session) bool {
	return sess != nil &&
		sess.Identity == m.signer.Identity() &&
		sess.Scope == m.scope &&
		sess.Valid(m.now(), m.skew)
}

func (m *Manager) ensure(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load session: %v", domain.ErrNotReady, err)
	}
	if m.usable(sess) {
		return sess, nil
	}

	kp, err := sealbox.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	sess = &Session{
		Identity:       m.signer.Identity(),
		Scope:          m.scope,
		Keys:           kp,
		StartTimestamp: m.now().Unix(),
		DurationDays:   m.days,
	}
	sig, err := m.signer.SignAuthorization(ctx, sess.Authorization())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if domain.KindOf(err) == nil {
			err = fmt.Errorf("%w: sign authorization: %v", domain.ErrNotReady, err)
		}
		return nil, err
	}
	sess.Signature = sig
	if err := m.store.Save(ctx, sess); err != nil {
		m.logger.Warn("session not persisted", "error", err)
	}
	m.logger.Info("decryption session started", "scope", sess.Scope, "expires", sess.Expires())
	return sess, nil
}

// Reset discards the cached session; the next decrypt signs a new one.
func (m *Manager) Reset(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Clear(ctx)
}
