// Package registry serves the mapping and preview records and mirrors blobs
// from the content store.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/mapping"
	"sealedmsg/internal/observability/metrics"
	"sealedmsg/internal/preview"
)

const (
	mappingFile = "mappings.json"
	previewFile = "previews.json"
)

type Service struct {
	mappings *JSONStore[domain.MappingRecord]
	previews *JSONStore[domain.PreviewRecord]
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(l *slog.Logger) Option       { return func(s *Service) { s.logger = l } }

// New opens (and creates) the two stores under dataDir.
func New(dataDir string, opts ...Option) (*Service, error) {
	s := &Service{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	var err error
	if s.mappings, err = OpenJSONStore[domain.MappingRecord](filepath.Join(dataDir, mappingFile), s.logger); err != nil {
		return nil, err
	}
	if s.previews, err = OpenJSONStore[domain.PreviewRecord](filepath.Join(dataDir, previewFile), s.logger); err != nil {
		return nil, err
	}
	return s, nil
}

// PutMapping upserts rec. The server stamps updatedAt, so the last write
// wins.
func (s *Service) PutMapping(_ context.Context, rec domain.MappingRecord) (domain.MappingRecord, error) {
	if !mapping.ValidShortHash(rec.ShortHash) {
		return domain.MappingRecord{}, domain.ErrInvalidShortHash
	}
	if rec.FullHash == "" {
		return domain.MappingRecord{}, fmt.Errorf("%w: fullHash is required", domain.ErrValidation)
	}
	if rec.FileSize < 0 {
		return domain.MappingRecord{}, fmt.Errorf("%w: negative fileSize", domain.ErrValidation)
	}
	rec.UpdatedAt = s.now().UTC()
	out, err := s.mappings.Upsert(rec.ShortHash, func(domain.MappingRecord, bool) domain.MappingRecord { return rec })
	if err != nil {
		return domain.MappingRecord{}, err
	}
	s.logger.Info("mapping upserted", "short_hash", rec.ShortHash)
	return out, nil
}

func (s *Service) GetMapping(_ context.Context, shortHash string) (domain.MappingRecord, error) {
	if !mapping.ValidShortHash(shortHash) {
		return domain.MappingRecord{}, domain.ErrInvalidShortHash
	}
	rec, ok, err := s.mappings.Get(shortHash)
	if err != nil {
		return domain.MappingRecord{}, err
	}
	if !ok {
		return domain.MappingRecord{}, &domain.ResolutionError{ShortHash: shortHash, Reason: "no mapping"}
	}
	return rec, nil
}

// PutPreview upserts the preview for rec.MessageID, keeping the original
// createdAt.
func (s *Service) PutPreview(_ context.Context, rec domain.PreviewRecord) (domain.PreviewRecord, error) {
	if rec.MessageID == 0 {
		return domain.PreviewRecord{}, fmt.Errorf("%w: messageId is required", domain.ErrValidation)
	}
	mimeType, _, err := preview.ParseDataURL(rec.PreviewDataURL)
	if err != nil {
		return domain.PreviewRecord{}, err
	}
	if rec.MimeType == "" {
		rec.MimeType = mimeType
	}
	if rec.ShortHash != "" && !mapping.ValidShortHash(rec.ShortHash) {
		return domain.PreviewRecord{}, domain.ErrInvalidShortHash
	}
	now := s.now().UTC()
	key := strconv.FormatUint(rec.MessageID, 10)
	out, err := s.previews.Upsert(key, func(prev domain.PreviewRecord, exists bool) domain.PreviewRecord {
		rec.CreatedAt = now
		if exists && !prev.CreatedAt.IsZero() {
			rec.CreatedAt = prev.CreatedAt
		}
		rec.UpdatedAt = now
		return rec
	})
	if err != nil {
		return domain.PreviewRecord{}, err
	}
	metrics.PreviewsPublishedTotal.Inc()
	s.logger.Info("preview upserted", "message_id", rec.MessageID)
	return out, nil
}

func (s *Service) GetPreview(_ context.Context, messageID uint64) (domain.PreviewRecord, error) {
	rec, ok, err := s.previews.Get(strconv.FormatUint(messageID, 10))
	if err != nil {
		return domain.PreviewRecord{}, err
	}
	if !ok {
		return domain.PreviewRecord{}, fmt.Errorf("%w: no preview for message %d", domain.ErrResolution, messageID)
	}
	return rec, nil
}
