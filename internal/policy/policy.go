// Package policy evaluates and guards the unlock state of a message.
//
// Conditions combine with AND: every bit set in the mask must hold before a
// message leaves the Locked state. The retired any-of rule is still available
// through WithDeprecatedAnyOf for compatibility with old messages, but must be
// requested explicitly.
package policy

import (
	"log/slog"
	"math"
	"time"

	"sealedmsg/internal/domain"
)

// MaxAmount bounds required and paid amounts so they fit a signed 64-bit
// database column.
const MaxAmount uint64 = math.MaxInt64

type State int

const (
	Locked State = iota
	Unlocked
	Read
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	case Read:
		return "read"
	default:
		return "unknown"
	}
}

// Conditions is the subset of a message the engine needs. PaidAmount must be
// freshly loaded by the caller; the engine never caches it.
type Conditions struct {
	Mask            domain.Mask
	UnlockTime      time.Time
	RequiredPayment uint64
	PaidAmount      uint64
}

type combine int

const (
	allOf combine = iota
	anyOf
)

type Engine struct {
	mode combine
	now  func() time.Time
}

type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDeprecatedAnyOf unlocks a message when any single condition holds.
//
// Deprecated: the any-of rule lets a receiver skip payment once the unlock
// time passes. Use the default all-of rule for new messages.
func WithDeprecatedAnyOf() Option {
	return func(e *Engine) { e.mode = anyOf }
}

func New(opts ...Option) *Engine {
	e := &Engine{mode: allOf, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.mode == anyOf {
		slog.Warn("policy: deprecated any-of unlock rule enabled")
	}
	return e
}

func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) ValidateMask(m domain.Mask) error {
	if !m.Valid() {
		return domain.ErrInvalidMask
	}
	return nil
}

// TimeHolds reports whether the time predicate holds at now.
func TimeHolds(c Conditions, now time.Time) bool {
	return !now.Before(c.UnlockTime)
}

// PaymentHolds reports whether the payment predicate holds.
func PaymentHolds(c Conditions) bool {
	return c.PaidAmount >= c.RequiredPayment
}

// Satisfied reports whether the message may leave the Locked state now.
func (e *Engine) Satisfied(c Conditions) bool {
	return e.SatisfiedAt(c, e.now())
}

func (e *Engine) SatisfiedAt(c Conditions, now time.Time) bool {
	if !c.Mask.Valid() {
		return false
	}
	var results []bool
	if c.Mask.Has(domain.CondTime) {
		results = append(results, TimeHolds(c, now))
	}
	if c.Mask.Has(domain.CondPayment) {
		results = append(results, PaymentHolds(c))
	}
	if e.mode == anyOf {
		for _, ok := range results {
			if ok {
				return true
			}
		}
		return false
	}
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// State derives the lifecycle state. Read is terminal and wins over the
// conditions; a read message never reports Locked again.
func (e *Engine) State(c Conditions, isRead bool) State {
	if isRead {
		return Read
	}
	if e.Satisfied(c) {
		return Unlocked
	}
	return Locked
}

// CheckPayment validates an incoming payment against freshly loaded
// conditions. Partial payments are accepted until the requirement is met;
// a payment that overshoots the requirement is accepted as well.
func (e *Engine) CheckPayment(c Conditions, amount uint64, paidAt, createdAt time.Time) error {
	if !c.Mask.Has(domain.CondPayment) {
		return domain.ErrNoPaymentCondition
	}
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	if paidAt.Before(createdAt) {
		return domain.ErrStalePayment
	}
	if c.PaidAmount >= c.RequiredPayment {
		return domain.ErrAlreadyPaid
	}
	if c.PaidAmount > MaxAmount || amount > MaxAmount-c.PaidAmount {
		return domain.ErrInvalidAmount
	}
	return nil
}

// CheckCreate validates the unlock policy of a new message.
func (e *Engine) CheckCreate(c Conditions) error {
	if err := e.ValidateMask(c.Mask); err != nil {
		return err
	}
	if c.Mask.Has(domain.CondTime) && !c.UnlockTime.After(e.now()) {
		return domain.ErrUnlockTimeInPast
	}
	if c.Mask.Has(domain.CondPayment) && (c.RequiredPayment == 0 || c.RequiredPayment > MaxAmount) {
		return domain.ErrInvalidAmount
	}
	return nil
}
