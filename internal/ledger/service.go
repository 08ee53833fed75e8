// Package ledger persists messages and enforces their unlock policy.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/mapping"
	"sealedmsg/internal/msgjson"
	"sealedmsg/internal/observability/metrics"
	"sealedmsg/internal/policy"
)

const maxHandleLength = 4096

type CreateInput struct {
	Receiver        domain.Identity     `json:"receiver"`
	ContentHandle   string              `json:"contentHandle"`
	UnlockTime      int64               `json:"unlockTime"`
	RequiredPayment uint64              `json:"requiredPayment"`
	Mask            domain.Mask         `json:"mask"`
	Preview         *domain.PreviewMeta `json:"preview,omitempty"`
}

type Service struct {
	store  *Store
	engine *policy.Engine
	logger *slog.Logger
}

func NewService(store *Store, engine *policy.Engine, logger *slog.Logger) *Service {
	if engine == nil {
		engine = policy.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, engine: engine, logger: logger}
}

func conditions(m *Message) policy.Conditions {
	return policy.Conditions{
		Mask:            domain.Mask(m.Mask),
		UnlockTime:      time.Unix(m.UnlockTime, 0),
		RequiredPayment: m.RequiredPayment,
		PaidAmount:      m.PaidAmount,
	}
}

func (s *Service) state(m *Message) policy.State {
	return s.engine.State(conditions(m), m.IsRead)
}

func (s *Service) metadata(m *Message) domain.Metadata {
	return domain.Metadata{
		ID:              m.ID,
		Sender:          domain.Identity(m.Sender),
		Receiver:        domain.Identity(m.Receiver),
		Mask:            domain.Mask(m.Mask),
		UnlockTime:      m.UnlockTime,
		RequiredPayment: m.RequiredPayment,
		PaidAmount:      m.PaidAmount,
		IsUnlocked:      s.state(m) != policy.Locked,
		IsRead:          m.IsRead,
		Preview:         m.Preview.V,
		CreatedAt:       m.CreatedAt,
	}
}

func notFound(err error) error {
	if errors.Is(err, ErrRecordNotFound) {
		return domain.ErrMessageNotFound
	}
	return err
}

func (s *Service) CreateMessage(ctx context.Context, sender domain.Identity, in CreateInput) (uint64, error) {
	if err := sender.Validate(); err != nil {
		return 0, err
	}
	if err := in.Receiver.Validate(); err != nil {
		return 0, err
	}
	if sender == in.Receiver {
		return 0, domain.ErrSelfAddressed
	}
	if in.ContentHandle == "" || len(in.ContentHandle) > maxHandleLength {
		return 0, fmt.Errorf("%w: content handle missing or too long", domain.ErrValidation)
	}
	cond := policy.Conditions{
		Mask:            in.Mask,
		UnlockTime:      time.Unix(in.UnlockTime, 0),
		RequiredPayment: in.RequiredPayment,
	}
	if err := s.engine.CheckCreate(cond); err != nil {
		return 0, err
	}
	if in.Preview != nil && in.Preview.ShortHash != "" && !mapping.ValidShortHash(in.Preview.ShortHash) {
		return 0, domain.ErrInvalidShortHash
	}
	msg := &Message{
		Sender:        sender.String(),
		Receiver:      in.Receiver.String(),
		Mask:          uint8(in.Mask),
		ContentHandle: in.ContentHandle,
		Preview:       msgjson.Of(in.Preview),
		CreatedAt:     s.engine.Now().UTC(),
	}
	if in.Mask.Has(domain.CondTime) {
		msg.UnlockTime = in.UnlockTime
	}
	if in.Mask.Has(domain.CondPayment) {
		msg.RequiredPayment = in.RequiredPayment
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return 0, err
	}
	metrics.MessagesCreatedTotal.WithLabelValues(strconv.Itoa(int(in.Mask))).Inc()
	s.logger.Info("message created", "message_id", msg.ID, "mask", int(in.Mask))
	return msg.ID, nil
}

// GetMetadata is visible to the sender and the receiver only.
func (s *Service) GetMetadata(ctx context.Context, caller domain.Identity, id uint64) (domain.Metadata, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return domain.Metadata{}, notFound(err)
	}
	if caller.String() != msg.Sender && caller.String() != msg.Receiver {
		return domain.Metadata{}, domain.ErrNotAuthorized
	}
	return s.metadata(msg), nil
}

// ReadContent returns the content handle to the receiver once unlocked.
func (s *Service) ReadContent(ctx context.Context, caller domain.Identity, id uint64) (string, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return "", notFound(err)
	}
	if caller.String() != msg.Receiver {
		return "", domain.ErrNotAuthorized
	}
	if s.state(msg) == policy.Locked {
		return "", domain.ErrStillLocked
	}
	return msg.ContentHandle, nil
}

// Pay adds amount to the message's paid total. The paid amount is re-read
// under a row lock before it is compared with the requirement, so concurrent
// payments are summed and never both judged against a stale total. paidAt is
// when the payment was observed; zero means now.
func (s *Service) Pay(ctx context.Context, payer domain.Identity, id, amount uint64, paidAt time.Time) (domain.Metadata, error) {
	now := s.engine.Now().UTC()
	if paidAt.IsZero() || paidAt.After(now) {
		paidAt = now
	}
	var out domain.Metadata
	err := s.store.WithTx(ctx, func(tx *Store) error {
		msg, err := tx.LockMessage(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if payer.String() != msg.Receiver {
			return domain.ErrNotAuthorized
		}
		if err := s.engine.CheckPayment(conditions(msg), amount, paidAt, msg.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.AddPayment(ctx, id, payer.String(), amount, paidAt); err != nil {
			return err
		}
		msg.PaidAmount += amount
		out = s.metadata(msg)
		return nil
	})
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	metrics.PaymentsTotal.WithLabelValues(result).Inc()
	if err != nil {
		s.logger.Info("payment rejected", "message_id", id, "error", err)
		return domain.Metadata{}, err
	}
	s.logger.Info("payment accepted", "message_id", id, "paid_amount", out.PaidAmount, "unlocked", out.IsUnlocked)
	return out, nil
}

// MarkRead sets the read latch. Only the receiver may latch and only once
// the message is unlocked. It reports whether this call set the latch;
// repeats succeed without latching again.
func (s *Service) MarkRead(ctx context.Context, caller domain.Identity, id uint64) (bool, error) {
	var latched bool
	err := s.store.WithTx(ctx, func(tx *Store) error {
		msg, err := tx.LockMessage(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if caller.String() != msg.Receiver {
			return domain.ErrNotAuthorized
		}
		switch s.state(msg) {
		case policy.Read:
			return nil
		case policy.Locked:
			return domain.ErrStillLocked
		}
		latched, err = tx.MarkRead(ctx, id, s.engine.Now().UTC())
		return err
	})
	if err != nil {
		return false, err
	}
	if latched {
		metrics.MessagesReadTotal.Inc()
		s.logger.Info("message read", "message_id", id)
	}
	return latched, nil
}

// Inbox lists messages addressed to caller, newest first.
func (s *Service) Inbox(ctx context.Context, caller domain.Identity, limit int) ([]domain.Metadata, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	msgs, err := s.store.Inbox(ctx, caller.String(), limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Metadata, 0, len(msgs))
	for i := range msgs {
		out = append(out, s.metadata(&msgs[i]))
	}
	return out, nil
}

// CheckAccess answers whether reader may have handle decrypted now. Unknown
// handles are reported as not authorized.
func (s *Service) CheckAccess(ctx context.Context, reader domain.Identity, handle string) (uint64, error) {
	msg, err := s.store.MessageByHandle(ctx, handle)
	if errors.Is(err, ErrRecordNotFound) {
		return 0, domain.ErrNotAuthorized
	}
	if err != nil {
		return 0, err
	}
	if reader.String() != msg.Receiver {
		return 0, domain.ErrNotAuthorized
	}
	if s.state(msg) == policy.Locked {
		return 0, domain.ErrStillLocked
	}
	return msg.ID, nil
}
