package policy_test

import (
	"errors"
	"testing"
	"time"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/policy"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSatisfiedAllOf(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	eng := policy.New(policy.WithClock(fixedClock(now)))

	cases := []struct {
		name   string
		cond   policy.Conditions
		expect bool
	}{
		{"time only before", policy.Conditions{Mask: domain.CondTime, UnlockTime: now.Add(time.Second)}, false},
		{"time only at boundary", policy.Conditions{Mask: domain.CondTime, UnlockTime: now}, true},
		{"time only after", policy.Conditions{Mask: domain.CondTime, UnlockTime: now.Add(-time.Second)}, true},
		{"payment only short by one", policy.Conditions{Mask: domain.CondPayment, RequiredPayment: 100, PaidAmount: 99}, false},
		{"payment only exact", policy.Conditions{Mask: domain.CondPayment, RequiredPayment: 100, PaidAmount: 100}, true},
		{"payment only over", policy.Conditions{Mask: domain.CondPayment, RequiredPayment: 100, PaidAmount: 150}, true},
		{"both, time missing", policy.Conditions{Mask: domain.CondTime | domain.CondPayment, UnlockTime: now.Add(time.Second), RequiredPayment: 10, PaidAmount: 10}, false},
		{"both, payment missing", policy.Conditions{Mask: domain.CondTime | domain.CondPayment, UnlockTime: now, RequiredPayment: 10, PaidAmount: 9}, false},
		{"both hold", policy.Conditions{Mask: domain.CondTime | domain.CondPayment, UnlockTime: now, RequiredPayment: 10, PaidAmount: 10}, true},
		{"empty mask", policy.Conditions{Mask: 0}, false},
		{"unknown bit", policy.Conditions{Mask: 0x04}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := eng.Satisfied(tc.cond); got != tc.expect {
				t.Fatalf("Satisfied = %v, want %v", got, tc.expect)
			}
		})
	}
}

func TestDeprecatedAnyOfIsOptIn(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cond := policy.Conditions{
		Mask:            domain.CondTime | domain.CondPayment,
		UnlockTime:      now.Add(-time.Minute),
		RequiredPayment: 100,
	}

	if policy.New(policy.WithClock(fixedClock(now))).Satisfied(cond) {
		t.Fatalf("default engine must require every condition")
	}
	if !policy.New(policy.WithClock(fixedClock(now)), policy.WithDeprecatedAnyOf()).Satisfied(cond) {
		t.Fatalf("any-of engine should unlock on the time condition alone")
	}
}

func TestTimeAndPaymentScenario(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	now := start
	eng := policy.New(policy.WithClock(func() time.Time { return now }))

	cond := policy.Conditions{
		Mask:            domain.CondTime | domain.CondPayment,
		UnlockTime:      start.Add(time.Hour),
		RequiredPayment: 100,
	}
	if st := eng.State(cond, false); st != policy.Locked {
		t.Fatalf("initial state = %s", st)
	}

	cond.PaidAmount += 60
	if st := eng.State(cond, false); st != policy.Locked {
		t.Fatalf("after partial payment state = %s", st)
	}

	cond.PaidAmount += 40
	if st := eng.State(cond, false); st != policy.Locked {
		t.Fatalf("after full payment but before unlock time state = %s", st)
	}

	now = start.Add(time.Hour)
	if st := eng.State(cond, false); st != policy.Unlocked {
		t.Fatalf("after both conditions state = %s", st)
	}
	if st := eng.State(cond, true); st != policy.Read {
		t.Fatalf("read latch state = %s", st)
	}
}

func TestCheckPayment(t *testing.T) {
	created := time.Unix(1_700_000_000, 0)
	eng := policy.New(policy.WithClock(fixedClock(created)))
	base := policy.Conditions{Mask: domain.CondPayment, RequiredPayment: 100}

	if err := eng.CheckPayment(base, 60, created, created); err != nil {
		t.Fatalf("partial payment rejected: %v", err)
	}

	paid := base
	paid.PaidAmount = 100
	if err := eng.CheckPayment(paid, 1, created, created); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Fatalf("expected already paid, got %v", err)
	}

	partial := base
	partial.PaidAmount = 90
	if err := eng.CheckPayment(partial, 50, created, created); err != nil {
		t.Fatalf("overpayment should be accepted: %v", err)
	}

	if err := eng.CheckPayment(base, 10, created.Add(-time.Second), created); !errors.Is(err, domain.ErrStalePayment) {
		t.Fatalf("expected stale payment, got %v", err)
	}
	if err := eng.CheckPayment(base, 0, created, created); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	nearCap := base
	nearCap.RequiredPayment = policy.MaxAmount
	nearCap.PaidAmount = policy.MaxAmount - 5
	if err := eng.CheckPayment(nearCap, 5, created, created); err != nil {
		t.Fatalf("payment reaching the cap rejected: %v", err)
	}
	if err := eng.CheckPayment(nearCap, 6, created, created); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount past the signed 64-bit range, got %v", err)
	}
	if err := eng.CheckPayment(base, policy.MaxAmount+1, created, created); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for oversized payment, got %v", err)
	}
	timeOnly := policy.Conditions{Mask: domain.CondTime}
	if err := eng.CheckPayment(timeOnly, 10, created, created); !errors.Is(err, domain.ErrNoPaymentCondition) {
		t.Fatalf("expected no payment condition, got %v", err)
	}
}

func TestCheckCreate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	eng := policy.New(policy.WithClock(fixedClock(now)))

	if err := eng.CheckCreate(policy.Conditions{Mask: 0}); !errors.Is(err, domain.ErrInvalidMask) {
		t.Fatalf("expected invalid mask, got %v", err)
	}
	if err := eng.CheckCreate(policy.Conditions{Mask: domain.CondTime, UnlockTime: now}); !errors.Is(err, domain.ErrUnlockTimeInPast) {
		t.Fatalf("expected past unlock time, got %v", err)
	}
	if err := eng.CheckCreate(policy.Conditions{Mask: domain.CondPayment}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := eng.CheckCreate(policy.Conditions{Mask: domain.CondPayment, RequiredPayment: policy.MaxAmount + 1}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount above the signed 64-bit range, got %v", err)
	}
	if err := eng.CheckCreate(policy.Conditions{Mask: domain.CondPayment, RequiredPayment: policy.MaxAmount}); err != nil {
		t.Fatalf("price at the cap rejected: %v", err)
	}
	ok := policy.Conditions{Mask: domain.CondTime | domain.CondPayment, UnlockTime: now.Add(time.Minute), RequiredPayment: 5}
	if err := eng.CheckCreate(ok); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}
}
