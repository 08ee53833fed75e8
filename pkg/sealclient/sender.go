package sealclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sealedmsg/internal/content"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/ledger"
	"sealedmsg/internal/oracle"
	"sealedmsg/internal/policy"
	"sealedmsg/internal/preview"
	"sealedmsg/internal/sealbox"
)

type SendInput struct {
	Receiver        domain.Identity
	Text            string
	File            *content.File
	Mask            domain.Mask
	UnlockTime      time.Time
	RequiredPayment uint64
	// Preview is disclosed before the message unlocks. When nil and
	// AutoPreview is set, an image attachment is downscaled into one.
	Preview     *preview.Derivative
	AutoPreview bool
}

type Sent struct {
	ID        uint64
	ShortHash string
	// PreviewErr is set when the message was created but its preview could
	// not be published.
	PreviewErr error
}

type Sender struct {
	ledger    Ledger
	codec     *content.Codec
	previews  *preview.Pipeline
	oracleKey sealbox.PublicKey
	scope     string
	policy    *policy.Engine
	logger    *slog.Logger
}

func NewSender(cfg Config) *Sender {
	cfg = cfg.withDefaults()
	return &Sender{
		ledger:    cfg.Ledger,
		codec:     cfg.Codec,
		previews:  cfg.Previews,
		oracleKey: cfg.OracleKey,
		scope:     cfg.Scope,
		policy:    cfg.Policy,
		logger:    cfg.Logger,
	}
}

func (s *Sender) validate(in SendInput) error {
	if err := in.Receiver.Validate(); err != nil {
		return err
	}
	if in.Receiver == s.ledger.Identity() {
		return domain.ErrSelfAddressed
	}
	if in.Text == "" && in.File == nil {
		return domain.ErrEmptyContent
	}
	return s.policy.CheckCreate(policy.Conditions{
		Mask:            in.Mask,
		UnlockTime:      in.UnlockTime,
		RequiredPayment: in.RequiredPayment,
	})
}

// Send validates in, encodes and seals the payload, and commits it to the
// ledger. Overflowed content is published before the ledger write that
// references it.
func (s *Sender) Send(ctx context.Context, in SendInput) (Sent, error) {
	if s.ledger == nil || s.codec == nil {
		return Sent{}, fmt.Errorf("%w: sender not configured", domain.ErrNotReady)
	}
	if err := s.validate(in); err != nil {
		return Sent{}, err
	}
	d, err := s.derivePreview(in)
	if err != nil {
		return Sent{}, err
	}

	enc, err := s.codec.Encode(ctx, content.Payload{Text: in.Text, File: in.File})
	if err != nil {
		return Sent{}, err
	}
	handle, err := oracle.SealHandle(s.oracleKey, s.scope, enc.Inline[:])
	if err != nil {
		return Sent{}, err
	}

	create := ledger.CreateInput{
		Receiver:        in.Receiver,
		ContentHandle:   handle,
		Mask:            in.Mask,
		RequiredPayment: in.RequiredPayment,
	}
	if in.Mask.Has(domain.CondTime) {
		create.UnlockTime = in.UnlockTime.Unix()
	}
	var meta domain.PreviewMeta
	if d != nil {
		meta = domain.PreviewMeta{MimeType: d.MimeType(), ShortHash: enc.OverflowRef}
		if in.File != nil {
			meta.FileName = in.File.Name
		}
		create.Preview = &meta
	}
	id, err := s.ledger.CreateMessage(ctx, create)
	if err != nil {
		return Sent{}, err
	}
	out := Sent{ID: id, ShortHash: enc.OverflowRef}
	s.logger.Info("message sent", "message_id", id, "short_hash", enc.OverflowRef, "mask", int(in.Mask))

	if d != nil {
		if s.previews == nil {
			out.PreviewErr = fmt.Errorf("%w: preview registry not configured", domain.ErrNotReady)
		} else if err := s.previews.Publish(ctx, id, *d, meta); err != nil {
			out.PreviewErr = err
		}
		if out.PreviewErr != nil {
			s.logger.Warn("preview not published", "message_id", id, "error", out.PreviewErr)
		}
	}
	return out, nil
}

func (s *Sender) derivePreview(in SendInput) (*preview.Derivative, error) {
	if in.Preview != nil {
		return in.Preview, nil
	}
	if !in.AutoPreview || in.File == nil || !strings.HasPrefix(in.File.MimeType, "image/") {
		return nil, nil
	}
	d, err := preview.Downscale(in.File.Data, preview.DefaultMaxDimension)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
