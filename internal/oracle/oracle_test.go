package oracle_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/jwtsigner"
	"sealedmsg/internal/oracle"
	"sealedmsg/internal/sealbox"
	"sealedmsg/internal/session"
)

const scope = "sealedmsg-test"

type fakeACL struct {
	allowed map[string]domain.Identity
	err     error
}

func (f *fakeACL) CheckAccess(_ context.Context, reader domain.Identity, handle string) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if owner, ok := f.allowed[handle]; ok && owner == reader {
		return 1, nil
	}
	return 0, domain.ErrNotAuthorized
}

func setupOracle(t *testing.T, acl oracle.AccessChecker, opts ...oracle.Option) (*oracle.Service, *oracle.Client) {
	t.Helper()
	kp, created, err := oracle.LoadOrCreateKey(filepath.Join(t.TempDir(), "oracle", "key.json"))
	if err != nil || !created {
		t.Fatalf("create key = %v, %v", created, err)
	}
	svc, err := oracle.New(kp, scope, acl, opts...)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	srv := httptest.NewServer(oracle.NewRouter(svc))
	t.Cleanup(srv.Close)
	return svc, oracle.NewClient(srv.URL, nil)
}

func newReceiver(t *testing.T) *jwtsigner.Signer {
	t.Helper()
	s, err := jwtsigner.Generate("")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return s
}

func TestDecryptThroughSession(t *testing.T) {
	receiver := newReceiver(t)
	acl := &fakeACL{allowed: map[string]domain.Identity{}}
	_, client := setupOracle(t, acl)
	ctx := context.Background()

	pk, gotScope, err := client.PublicKey(ctx)
	if err != nil || gotScope != scope {
		t.Fatalf("pubkey = %q, %v", gotScope, err)
	}
	handle, err := oracle.SealHandle(pk, scope, []byte("hello receiver"))
	if err != nil {
		t.Fatalf("seal handle: %v", err)
	}
	acl.allowed[handle] = receiver.Identity()

	m := session.NewManager(&session.JWTSigner{Signer: receiver}, client, session.WithScope(scope))
	plain, err := m.Decrypt(ctx, handle)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plain) != "hello receiver" {
		t.Fatalf("plaintext = %q", plain)
	}
}

func TestDeniedHandleIsOmitted(t *testing.T) {
	receiver, other := newReceiver(t), newReceiver(t)
	acl := &fakeACL{allowed: map[string]domain.Identity{}}
	svc, client := setupOracle(t, acl)

	handle, err := oracle.SealHandle(svc.PublicKey(), scope, []byte("for someone else"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	acl.allowed[handle] = other.Identity()

	m := session.NewManager(&session.JWTSigner{Signer: receiver}, client, session.WithScope(scope))
	if _, err := m.Decrypt(context.Background(), handle); !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Fatalf("expected decryption failed, got %v", err)
	}
}

func TestHandleSealedForAnotherScopeDoesNotOpen(t *testing.T) {
	receiver := newReceiver(t)
	acl := &fakeACL{allowed: map[string]domain.Identity{}}
	svc, _ := setupOracle(t, acl)

	handle, err := oracle.SealHandle(svc.PublicKey(), "other-scope", []byte("x"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	acl.allowed[handle] = receiver.Identity()

	m := session.NewManager(&session.JWTSigner{Signer: receiver}, svc, session.WithScope(scope))
	if _, err := m.Decrypt(context.Background(), handle); !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Fatalf("expected decryption failed, got %v", err)
	}
}

func signedRequest(t *testing.T, signer *jwtsigner.Signer, handle string) session.DecryptRequest {
	t.Helper()
	kp, err := sealbox.GenerateKeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	auth := session.Authorization{
		Receiver:       signer.Identity(),
		PublicKey:      kp.Public,
		Scope:          scope,
		StartTimestamp: time.Now().Unix(),
		DurationDays:   1,
	}
	tok, err := (&session.JWTSigner{Signer: signer}).SignAuthorization(context.Background(), auth)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return session.DecryptRequest{
		Handles:        []string{handle},
		Scope:          scope,
		Receiver:       signer.Identity(),
		PublicKey:      kp.Public,
		StartTimestamp: auth.StartTimestamp,
		DurationDays:   1,
		Authorization:  tok,
	}
}

func TestAuthorizationBinding(t *testing.T) {
	receiver, mallory := newReceiver(t), newReceiver(t)
	svc, client := setupOracle(t, &fakeACL{})
	ctx := context.Background()
	handle, _ := oracle.SealHandle(svc.PublicKey(), scope, []byte("x"))

	swappedKey := signedRequest(t, receiver, handle)
	other, _ := sealbox.GenerateKeyPair()
	swappedKey.PublicKey = other.Public
	if _, err := client.Decrypt(ctx, swappedKey); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("swapped session key: %v", err)
	}

	impersonated := signedRequest(t, mallory, handle)
	impersonated.Receiver = receiver.Identity()
	if _, err := client.Decrypt(ctx, impersonated); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("impersonation: %v", err)
	}

	wrongScope := signedRequest(t, receiver, handle)
	wrongScope.Scope = "elsewhere"
	if _, err := client.Decrypt(ctx, wrongScope); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("wrong scope: %v", err)
	}

	stretched := signedRequest(t, receiver, handle)
	stretched.DurationDays = 7
	if _, err := client.Decrypt(ctx, stretched); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("stretched window: %v", err)
	}

	empty := signedRequest(t, receiver, handle)
	empty.Handles = nil
	if _, err := client.Decrypt(ctx, empty); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("no handles: %v", err)
	}
}

func TestExpiredAuthorizationRejected(t *testing.T) {
	receiver := newReceiver(t)
	later := time.Now().Add(48 * time.Hour)
	svc, _ := setupOracle(t, &fakeACL{}, oracle.WithClock(func() time.Time { return later }))
	handle, _ := oracle.SealHandle(svc.PublicKey(), scope, []byte("x"))

	if _, err := svc.Decrypt(context.Background(), signedRequest(t, receiver, handle)); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected expired authorization to be rejected, got %v", err)
	}
}

func TestRateLimitPerIdentity(t *testing.T) {
	receiver, other := newReceiver(t), newReceiver(t)
	svc, client := setupOracle(t, &fakeACL{}, oracle.WithRateLimit(0.001, 2))
	ctx := context.Background()
	handle, _ := oracle.SealHandle(svc.PublicKey(), scope, []byte("x"))

	for i := 0; i < 2; i++ {
		if _, err := client.Decrypt(ctx, signedRequest(t, receiver, handle)); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := client.Decrypt(ctx, signedRequest(t, receiver, handle))
	if !errors.Is(err, domain.ErrNotReady) || !domain.Retryable(err) {
		t.Fatalf("expected retryable rate limit, got %v", err)
	}
	if _, err := client.Decrypt(ctx, signedRequest(t, other, handle)); err != nil {
		t.Fatalf("other identity should have its own budget: %v", err)
	}
}

func TestLedgerOutageIsTransient(t *testing.T) {
	receiver := newReceiver(t)
	svc, client := setupOracle(t, &fakeACL{err: domain.Transient("ledger", errors.New("connection refused"))})
	handle, _ := oracle.SealHandle(svc.PublicKey(), scope, []byte("x"))

	_, err := client.Decrypt(context.Background(), signedRequest(t, receiver, handle))
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestKeyFileReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	first, created, err := oracle.LoadOrCreateKey(path)
	if err != nil || !created {
		t.Fatalf("create = %v, %v", created, err)
	}
	again, created, err := oracle.LoadOrCreateKey(path)
	if err != nil || created {
		t.Fatalf("reload = %v, %v", created, err)
	}
	if first != again {
		t.Fatalf("reloaded key differs")
	}
}
