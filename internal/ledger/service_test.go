package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/jwtsigner"
	"sealedmsg/internal/ledger"
	"sealedmsg/internal/policy"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupLedger(t *testing.T) (*ledger.Service, *ledger.Store, *clock) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := ledger.OpenDB("sqlite:file:"+name+"?mode=memory&cache=shared", 0)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := ledger.NewStore(db)
	if err := store.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	clk := &clock{now: time.Unix(1_700_000_000, 0).UTC()}
	svc := ledger.NewService(store, policy.New(policy.WithClock(clk.Now)), nil)
	return svc, store, clk
}

func newIdentity(t *testing.T) domain.Identity {
	t.Helper()
	s, err := jwtsigner.Generate("")
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return s.Identity()
}

func TestCreateValidation(t *testing.T) {
	svc, _, clk := setupLedger(t)
	ctx := context.Background()
	alice, bob := newIdentity(t), newIdentity(t)

	cases := []struct {
		name   string
		sender domain.Identity
		in     ledger.CreateInput
		want   error
	}{
		{"self addressed", alice, ledger.CreateInput{Receiver: alice, ContentHandle: "h", Mask: domain.CondPayment, RequiredPayment: 1}, domain.ErrSelfAddressed},
		{"bad receiver", alice, ledger.CreateInput{Receiver: "nope", ContentHandle: "h", Mask: domain.CondPayment, RequiredPayment: 1}, domain.ErrInvalidIdentity},
		{"no handle", alice, ledger.CreateInput{Receiver: bob, Mask: domain.CondPayment, RequiredPayment: 1}, domain.ErrValidation},
		{"empty mask", alice, ledger.CreateInput{Receiver: bob, ContentHandle: "h"}, domain.ErrInvalidMask},
		{"unknown bit", alice, ledger.CreateInput{Receiver: bob, ContentHandle: "h", Mask: 0x04}, domain.ErrInvalidMask},
		{"past unlock", alice, ledger.CreateInput{Receiver: bob, ContentHandle: "h", Mask: domain.CondTime, UnlockTime: clk.now.Unix()}, domain.ErrUnlockTimeInPast},
		{"zero payment", alice, ledger.CreateInput{Receiver: bob, ContentHandle: "h", Mask: domain.CondPayment}, domain.ErrInvalidAmount},
		{"bad preview hash", alice, ledger.CreateInput{Receiver: bob, ContentHandle: "h", Mask: domain.CondPayment, RequiredPayment: 1, Preview: &domain.PreviewMeta{ShortHash: "0OIl00"}}, domain.ErrInvalidShortHash},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateMessage(ctx, tc.sender, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTimeAndPaymentLifecycle(t *testing.T) {
	svc, store, clk := setupLedger(t)
	ctx := context.Background()
	alice, bob := newIdentity(t), newIdentity(t)

	id, err := svc.CreateMessage(ctx, alice, ledger.CreateInput{
		Receiver:        bob,
		ContentHandle:   "handle-1",
		Mask:            domain.CondTime | domain.CondPayment,
		UnlockTime:      clk.now.Add(time.Hour).Unix(),
		RequiredPayment: 100,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	md, err := svc.Pay(ctx, bob, id, 60, time.Time{})
	if err != nil {
		t.Fatalf("pay 60: %v", err)
	}
	if md.PaidAmount != 60 || md.IsUnlocked {
		t.Fatalf("after partial payment: %+v", md)
	}

	md, err = svc.Pay(ctx, bob, id, 40, time.Time{})
	if err != nil {
		t.Fatalf("pay 40: %v", err)
	}
	if md.PaidAmount != 100 || md.IsUnlocked {
		t.Fatalf("paid before unlock time should stay locked: %+v", md)
	}
	if _, err := svc.ReadContent(ctx, bob, id); !errors.Is(err, domain.ErrStillLocked) {
		t.Fatalf("expected still locked, got %v", err)
	}
	if _, err := svc.Pay(ctx, bob, id, 1, time.Time{}); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Fatalf("expected already paid, got %v", err)
	}

	clk.Advance(time.Hour)
	md, err = svc.GetMetadata(ctx, alice, id)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if !md.IsUnlocked || md.IsRead {
		t.Fatalf("expected unlocked and unread: %+v", md)
	}
	handle, err := svc.ReadContent(ctx, bob, id)
	if err != nil || handle != "handle-1" {
		t.Fatalf("read content = %q, %v", handle, err)
	}

	payments, err := store.Payments(ctx, id)
	if err != nil {
		t.Fatalf("payments: %v", err)
	}
	if len(payments) != 2 || payments[0].Amount != 60 || payments[1].Amount != 40 {
		t.Fatalf("unexpected payment rows: %+v", payments)
	}
}

func TestPaymentOvershootAndStale(t *testing.T) {
	svc, _, clk := setupLedger(t)
	ctx := context.Background()
	alice, bob := newIdentity(t), newIdentity(t)

	id, err := svc.CreateMessage(ctx, alice, ledger.CreateInput{
		Receiver: bob, ContentHandle: "h", Mask: domain.CondPayment, RequiredPayment: 100,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Pay(ctx, bob, id, 10, clk.now.Add(-time.Minute)); !errors.Is(err, domain.ErrStalePayment) {
		t.Fatalf("expected stale payment, got %v", err)
	}
	if _, err := svc.Pay(ctx, bob, id, 0, time.Time{}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := svc.Pay(ctx, alice, id, 10, time.Time{}); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("sender must not pay, got %v", err)
	}

	md, err := svc.Pay(ctx, bob, id, 150, time.Time{})
	if err != nil {
		t.Fatalf("overpay: %v", err)
	}
	if md.PaidAmount != 150 || !md.IsUnlocked {
		t.Fatalf("overpayment should unlock: %+v", md)
	}
}

func TestConcurrentPartialPaymentsAreSummed(t *testing.T) {
	svc, store, _ := setupLedger(t)
	ctx := context.Background()
	alice, bob := newIdentity(t), newIdentity(t)

	// SQLite has no row locks; one connection serializes the transactions
	// the way the row lock does on postgres.
	sqlDB, err := store.DB.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	id, err := svc.CreateMessage(ctx, alice, ledger.CreateInput{
		Receiver: bob, ContentHandle: "h", Mask: domain.CondPayment, RequiredPayment: 100,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const payers = 15
	var wg sync.WaitGroup
	errs := make(chan error, payers)
	for i := 0; i < payers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Pay(ctx, bob, id, 10, time.Time{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrAlreadyPaid):
		default:
			t.Fatalf("unexpected payment error: %v", err)
		}
	}
	if accepted != 10 {
		t.Fatalf("accepted payments = %d, want 10", accepted)
	}

	md, err := svc.GetMetadata(ctx, bob, id)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md.PaidAmount != 100 || !md.IsUnlocked {
		t.Fatalf("after concurrent payments: %+v", md)
	}
	pays, err := store.Payments(ctx, id)
	if err != nil {
		t.Fatalf("payments: %v", err)
	}
	if len(pays) != 10 {
		t.Fatalf("recorded payments = %d, want 10", len(pays))
	}
}

func TestPayTimeOnlyMessage(t *testing.T) {
	svc, _, clk := setupLedger(t)
	ctx := context.Background()
	alice, bob := newIdentity(t), newIdentity(t)

	id, err := svc.CreateMessage(ctx, alice, ledger.CreateInput{
		Receiver: bob, ContentHandle: "h", Mask: domain.CondTime, UnlockTime: clk.now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Pay(ctx, bob, id, 10, time.Time{}); !errors.Is(err, domain.ErrNoPaymentCondition) {
		t.Fatalf("expected no payment condition, got %v", err)
	}
}

func TestAuthorization(t *testing.T) {
	svc, _, clk := setupLedger(t)
	ctx := context.Background()
	alice, bob, eve := newIdentity(t), newIdentity(t), newIdentity(t)

	id, err := svc.CreateMessage(ctx, alice, ledger.CreateInput{
		Receiver: bob, ContentHandle: "h", Mask: domain.CondTime, UnlockTime: clk.now.Add(time.Second).Unix(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clk.Advance(time.Second)

	if _, err := svc.GetMetadata(ctx, eve, id); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("third party metadata: %v", err)
	}
	if _, err := svc.ReadContent(ctx, alice, id); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("sender content: %v", err)
	}
	if _, err := svc.MarkRead(ctx, eve, id); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("third party read: %v", err)
	}
	if _, err := svc.GetMetadata(ctx, bob, id+100); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkReadLatchesOnce(t *testing.T) {
	svc, _, clk := setupLedger(t)
	ctx := context.Background()
	alice, bob := newIdentity(t), newIdentity(t)

	id, err := svc.CreateMessage(ctx, alice, ledger.CreateInput{
		Receiver: bob, ContentHandle: "h", Mask: domain.CondTime, UnlockTime: clk.now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.MarkRead(ctx, bob, id); !errors.Is(err, domain.ErrStillLocked) {
		t.Fatalf("expected still locked, got %v", err)
	}

	clk.Advance(time.Minute)
	latched, err := svc.MarkRead(ctx, bob, id)
	if err != nil || !latched {
		t.Fatalf("first read = %v, %v", latched, err)
	}
	latched, err = svc.MarkRead(ctx, bob, id)
	if err != nil || latched {
		t.Fatalf("second read = %v, %v", latched, err)
	}

	md, err := svc.GetMetadata(ctx, bob, id)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if !md.IsRead || !md.IsUnlocked {
		t.Fatalf("read message should report read and unlocked: %+v", md)
	}
}

func TestCheckAccess(t *testing.T) {
	svc, _, clk := setupLedger(t)
	ctx := context.Background()
	alice, bob := newIdentity(t), newIdentity(t)

	id, err := svc.CreateMessage(ctx, alice, ledger.CreateInput{
		Receiver: bob, ContentHandle: "sealed-handle", Mask: domain.CondTime, UnlockTime: clk.now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.CheckAccess(ctx, bob, "sealed-handle"); !errors.Is(err, domain.ErrStillLocked) {
		t.Fatalf("expected still locked, got %v", err)
	}
	clk.Advance(time.Minute)
	got, err := svc.CheckAccess(ctx, bob, "sealed-handle")
	if err != nil || got != id {
		t.Fatalf("check access = %d, %v", got, err)
	}
	if _, err := svc.CheckAccess(ctx, alice, "sealed-handle"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("sender access: %v", err)
	}
	if _, err := svc.CheckAccess(ctx, bob, "unknown"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("unknown handle: %v", err)
	}
}

func TestInboxNewestFirst(t *testing.T) {
	svc, _, clk := setupLedger(t)
	ctx := context.Background()
	alice, bob := newIdentity(t), newIdentity(t)

	var ids []uint64
	for i, h := range []string{"a", "b", "c"} {
		clk.Advance(time.Second)
		id, err := svc.CreateMessage(ctx, alice, ledger.CreateInput{
			Receiver: bob, ContentHandle: h, Mask: domain.CondPayment, RequiredPayment: uint64(i + 1),
			Preview: &domain.PreviewMeta{MimeType: "image/jpeg"},
		})
		if err != nil {
			t.Fatalf("create %s: %v", h, err)
		}
		ids = append(ids, id)
	}

	out, err := svc.Inbox(ctx, bob, 2)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(out) != 2 || out[0].ID != ids[2] || out[1].ID != ids[1] {
		t.Fatalf("unexpected inbox order: %+v", out)
	}
	if out[0].Preview == nil || out[0].Preview.MimeType != "image/jpeg" {
		t.Fatalf("preview meta not persisted: %+v", out[0].Preview)
	}
	empty, err := svc.Inbox(ctx, alice, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("sender inbox = %v, %v", empty, err)
	}
}
