// Package preview publishes and polls for the low fidelity preview that a
// receiver may see while a message is still locked.
package preview

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/poll"
)

// Backend is the preview service. GetPreview returns nil, nil when the
// service has no record for the message.
type Backend interface {
	PutPreview(ctx context.Context, rec domain.PreviewRecord) error
	GetPreview(ctx context.Context, messageID uint64) (*domain.PreviewRecord, error)
}

// DefaultWatchPolicy gives up after three consecutive misses.
var DefaultWatchPolicy = poll.Fixed(5*time.Second, 3)

const settledCacheSize = 512

type Pipeline struct {
	backend Backend
	policy  poll.Policy
	settled *lru.Cache[uint64, domain.PreviewRecord]
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Pipeline)

func WithWatchPolicy(p poll.Policy) Option  { return func(pl *Pipeline) { pl.policy = p } }
func WithLogger(l *slog.Logger) Option       { return func(pl *Pipeline) { pl.logger = l } }
func WithClock(now func() time.Time) Option { return func(pl *Pipeline) { pl.now = now } }

func NewPipeline(backend Backend, opts ...Option) *Pipeline {
	settled, _ := lru.New[uint64, domain.PreviewRecord](settledCacheSize)
	p := &Pipeline{
		backend: backend,
		policy:  DefaultWatchPolicy,
		settled: settled,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stores d as the preview of messageID, replacing any previous one.
func (p *Pipeline) Publish(ctx context.Context, messageID uint64, d Derivative, meta domain.PreviewMeta) error {
	if d.Len() == 0 {
		return domain.ErrEmptyContent
	}
	now := p.now().UTC()
	rec := domain.PreviewRecord{
		MessageID:      messageID,
		PreviewDataURL: d.DataURL(),
		MimeType:       d.MimeType(),
		ShortHash:      meta.ShortHash,
		FileName:       meta.FileName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.backend.PutPreview(ctx, rec); err != nil {
		return domain.Transient("publish preview", err)
	}
	p.logger.Debug("preview published", "message_id", messageID, "bytes", d.Len())
	return nil
}

// Fetch returns the preview of messageID, or nil when none exists yet.
func (p *Pipeline) Fetch(ctx context.Context, messageID uint64) (*domain.PreviewRecord, error) {
	if rec, ok := p.settled.Get(messageID); ok {
		return &rec, nil
	}
	rec, err := p.backend.GetPreview(ctx, messageID)
	if err != nil {
		return nil, domain.Transient("fetch preview", err)
	}
	if rec != nil {
		p.settled.Add(messageID, *rec)
	}
	return rec, nil
}

// Watch polls for the preview under the pipeline's bounded policy and calls
// onFound once if it shows up. A message whose preview was already found is
// settled: Watch calls onFound from memory without polling. onFound never
// runs after ctx is done.
func (p *Pipeline) Watch(ctx context.Context, messageID uint64, onFound func(domain.PreviewRecord)) (poll.Outcome, error) {
	var found *domain.PreviewRecord
	out, err := poll.Until(ctx, p.policy, func(ctx context.Context) (bool, error) {
		rec, err := p.Fetch(ctx, messageID)
		if err != nil {
			return false, err
		}
		found = rec
		return rec != nil, nil
	})
	if out == poll.GaveUp {
		p.logger.Debug("preview polling gave up", "message_id", messageID, "error", err)
	}
	if out != poll.Done || found == nil {
		return out, err
	}
	if ctx.Err() != nil {
		return poll.Cancelled, ctx.Err()
	}
	if onFound != nil {
		onFound(*found)
	}
	return poll.Done, nil
}
