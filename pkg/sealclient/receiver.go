package sealclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"sealedmsg/internal/content"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/poll"
	"sealedmsg/internal/preview"
)

type Receiver struct {
	ledger    Ledger
	codec     *content.Codec
	decrypter Decrypter
	previews  *preview.Pipeline
	interval  time.Duration
	plain     *lru.Cache[uint64, content.Payload]
	logger    *slog.Logger
}

func NewReceiver(cfg Config) *Receiver {
	cfg = cfg.withDefaults()
	plain, _ := lru.New[uint64, content.Payload](cfg.CacheSize)
	return &Receiver{
		ledger:    cfg.Ledger,
		codec:     cfg.Codec,
		decrypter: cfg.Decrypter,
		previews:  cfg.Previews,
		interval:  cfg.PollInterval,
		plain:     plain,
		logger:    cfg.Logger,
	}
}

func (r *Receiver) Status(ctx context.Context, id uint64) (domain.Metadata, error) {
	return r.ledger.GetMetadata(ctx, id)
}

func (r *Receiver) Inbox(ctx context.Context, limit int) ([]domain.Metadata, error) {
	return r.ledger.Inbox(ctx, limit)
}

func (r *Receiver) Pay(ctx context.Context, id, amount uint64) (domain.Metadata, error) {
	if amount == 0 {
		return domain.Metadata{}, domain.ErrInvalidAmount
	}
	return r.ledger.Pay(ctx, id, amount)
}

// Preview returns the published preview of id, or nil when there is none.
func (r *Receiver) Preview(ctx context.Context, id uint64) (*domain.PreviewRecord, error) {
	if r.previews == nil {
		return nil, fmt.Errorf("%w: preview registry not configured", domain.ErrNotReady)
	}
	return r.previews.Fetch(ctx, id)
}

// WaitUnlocked polls the ledger until id reports unlocked or ctx ends.
// Authorization and lookup failures end the wait at once; transport errors
// are retried on the next tick.
func (r *Receiver) WaitUnlocked(ctx context.Context, id uint64) (domain.Metadata, error) {
	var md domain.Metadata
	out, err := poll.Until(ctx, poll.Policy{Interval: r.interval}, func(ctx context.Context) (bool, error) {
		m, err := r.ledger.GetMetadata(ctx, id)
		if err != nil {
			if domain.Retryable(err) {
				return false, err
			}
			return false, poll.Stop(err)
		}
		md = m
		return m.IsUnlocked, nil
	})
	if out == poll.Done {
		return md, nil
	}
	return md, err
}

// Read decrypts and decodes message id, then latches it read. The latch is
// only set after the plaintext was recovered, and not at all once ctx is
// done. Reads of an already decoded message are served from memory.
func (r *Receiver) Read(ctx context.Context, id uint64) (content.Payload, error) {
	if p, ok := r.plain.Get(id); ok {
		return p, nil
	}
	if r.decrypter == nil || r.codec == nil {
		return content.Payload{}, domain.ErrSessionUnavailable
	}
	handle, err := r.ledger.ReadContent(ctx, id)
	if err != nil {
		return content.Payload{}, err
	}
	inline, err := r.decrypter.Decrypt(ctx, handle)
	if err != nil {
		return content.Payload{}, err
	}
	payload, err := r.codec.Decode(ctx, inline)
	if err != nil {
		var re *domain.ResolutionError
		if errors.As(err, &re) {
			r.logger.Warn("message content unresolved", "message_id", id, "short_hash", re.ShortHash)
		}
		return content.Payload{}, err
	}
	if err := ctx.Err(); err != nil {
		return content.Payload{}, err
	}
	latched, err := r.ledger.MarkRead(ctx, id)
	if err != nil {
		return content.Payload{}, err
	}
	r.plain.Add(id, payload)
	r.logger.Info("message read", "message_id", id, "latched", latched)
	return payload, nil
}
