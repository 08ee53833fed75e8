// Package content turns message payloads into fixed-width inline values.
//
// Short text without attachments is stored inline, zero padded. Anything
// else is uploaded as a metadata blob and the inline value becomes
// OverflowPrefix followed by a short hash that resolves to the blob.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"sealedmsg/internal/blob"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/mapping"
)

const (
	InlineCapacity = 32
	OverflowPrefix = "F:"

	maxShortHashAttempts = 5
)

type File struct {
	Name     string
	MimeType string
	Data     []byte
}

type Payload struct {
	Text string
	File *File
}

type Encoded struct {
	Inline      [InlineCapacity]byte
	OverflowRef string
}

func (e Encoded) Overflowed() bool { return e.OverflowRef != "" }

type Uploader interface {
	Put(ctx context.Context, data []byte, attrs blob.Attrs) (string, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, address string) ([]byte, error)
}

type Mapper interface {
	Publish(ctx context.Context, rec domain.MappingRecord) error
	Resolve(ctx context.Context, shortHash string) (string, bool)
	Known(ctx context.Context, shortHash string) bool
}

type Codec struct {
	uploader       Uploader
	fetcher        Fetcher
	mapper         Mapper
	collisionCheck bool
	newShortHash   func() (string, error)
	now            func() time.Time
	logger         *slog.Logger
}

type Option func(*Codec)

// WithCollisionCheck makes Encode draw a new short hash while the mapping
// layer already knows the drawn one.
func WithCollisionCheck() Option { return func(c *Codec) { c.collisionCheck = true } }

func WithShortHashFunc(f func() (string, error)) Option {
	return func(c *Codec) { c.newShortHash = f }
}

func WithClock(now func() time.Time) Option { return func(c *Codec) { c.now = now } }

func WithLogger(l *slog.Logger) Option { return func(c *Codec) { c.logger = l } }

func NewCodec(up Uploader, fetch Fetcher, m Mapper, opts ...Option) *Codec {
	c := &Codec{
		uploader:     up,
		fetcher:      fetch,
		mapper:       m,
		newShortHash: mapping.NewShortHash,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Inlinable reports whether p fits the inline value and survives Decode's
// trailing byte trim unchanged.
func Inlinable(p Payload) bool {
	if p.File != nil || p.Text == "" || len(p.Text) > InlineCapacity {
		return false
	}
	if strings.HasPrefix(p.Text, OverflowPrefix) {
		return false
	}
	return !isPadding(p.Text[len(p.Text)-1])
}

func validate(p Payload) error {
	if p.Text == "" && p.File == nil {
		return domain.ErrEmptyContent
	}
	if !utf8.ValidString(p.Text) {
		return fmt.Errorf("%w: text is not valid UTF-8", domain.ErrValidation)
	}
	if p.File != nil && (p.File.Name == "" || len(p.File.Data) == 0) {
		return fmt.Errorf("%w: file attachment needs a name and data", domain.ErrValidation)
	}
	return nil
}

// Encode validates p and produces its inline value. The overflow path
// uploads and publishes before returning, so the short hash is resolvable by
// the time the caller writes it anywhere. Any upload failure fails the whole
// encode.
func (c *Codec) Encode(ctx context.Context, p Payload) (Encoded, error) {
	var out Encoded
	if err := validate(p); err != nil {
		return out, err
	}
	if Inlinable(p) {
		copy(out.Inline[:], p.Text)
		return out, nil
	}
	if c.uploader == nil || c.mapper == nil {
		return out, fmt.Errorf("%w: content store not configured", domain.ErrNotReady)
	}

	now := c.now().UTC()
	var meta Metadata = TextMetadata{Text: p.Text, CreatedAt: now}
	rec := domain.MappingRecord{}
	if p.File != nil {
		fileAddr, err := c.uploader.Put(ctx, p.File.Data, blob.Attrs{
			blob.AttrKind:        "file",
			blob.AttrContentType: p.File.MimeType,
		})
		if err != nil {
			return out, domain.Transient("upload file", err)
		}
		meta = FileMetadata{
			Message:     p.Text,
			FileName:    p.File.Name,
			FileSize:    int64(len(p.File.Data)),
			MimeType:    p.File.MimeType,
			FileAddress: fileAddr,
			CreatedAt:   now,
		}
		rec.FileName = p.File.Name
		rec.FileSize = int64(len(p.File.Data))
		rec.MimeType = p.File.MimeType
	}
	body, err := MarshalMetadata(meta)
	if err != nil {
		return out, err
	}

	sh, err := c.shortHash(ctx)
	if err != nil {
		return out, err
	}
	fullHash, err := c.uploader.Put(ctx, body, blob.Attrs{
		blob.AttrShortHash:   sh,
		blob.AttrKind:        "metadata",
		blob.AttrContentType: "application/json",
	})
	if err != nil {
		return out, domain.Transient("upload metadata", err)
	}
	rec.ShortHash = sh
	rec.FullHash = fullHash
	if err := c.mapper.Publish(ctx, rec); err != nil {
		return out, err
	}
	copy(out.Inline[:], OverflowPrefix+sh)
	out.OverflowRef = sh
	c.logger.Debug("payload overflowed", "short_hash", sh, "kind", meta.Kind())
	return out, nil
}

func (c *Codec) shortHash(ctx context.Context) (string, error) {
	for i := 0; i < maxShortHashAttempts; i++ {
		sh, err := c.newShortHash()
		if err != nil {
			return "", fmt.Errorf("short hash: %w", err)
		}
		if !c.collisionCheck || !c.mapper.Known(ctx, sh) {
			return sh, nil
		}
		c.logger.Warn("short hash collision, drawing again", "short_hash", sh)
	}
	return "", fmt.Errorf("%w: no free short hash after %d attempts", domain.ErrStateConflict, maxShortHashAttempts)
}

// Decode is the inverse of Encode. Unresolvable overflow references come
// back as *domain.ResolutionError carrying the short hash.
func (c *Codec) Decode(ctx context.Context, inline []byte) (Payload, error) {
	text := string(TrimPadding(inline))
	if !strings.HasPrefix(text, OverflowPrefix) {
		if text == "" {
			return Payload{}, domain.ErrEmptyContent
		}
		return Payload{Text: text}, nil
	}
	sh := strings.TrimPrefix(text, OverflowPrefix)
	if !mapping.ValidShortHash(sh) {
		return Payload{}, &domain.ResolutionError{ShortHash: sh, Reason: "malformed reference"}
	}
	if c.mapper == nil || c.fetcher == nil {
		return Payload{}, fmt.Errorf("%w: content resolver not configured", domain.ErrNotReady)
	}
	fullHash, ok := c.mapper.Resolve(ctx, sh)
	if !ok {
		return Payload{}, &domain.ResolutionError{ShortHash: sh}
	}
	body, err := c.fetch(ctx, sh, fullHash)
	if err != nil {
		return Payload{}, err
	}
	meta, err := UnmarshalMetadata(body)
	if err != nil {
		return Payload{}, &domain.ResolutionError{ShortHash: sh, Reason: "malformed metadata"}
	}
	switch m := meta.(type) {
	case TextMetadata:
		return Payload{Text: m.Text}, nil
	case FileMetadata:
		data, err := c.fetch(ctx, sh, m.FileAddress)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Text: m.Message, File: &File{Name: m.FileName, MimeType: m.MimeType, Data: data}}, nil
	}
	return Payload{}, &domain.ResolutionError{ShortHash: sh, Reason: "unknown metadata"}
}

func (c *Codec) fetch(ctx context.Context, sh, address string) ([]byte, error) {
	data, err := c.fetcher.Fetch(ctx, address)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, blob.ErrNotFound):
		return nil, &domain.ResolutionError{ShortHash: sh, Reason: "blob not found"}
	default:
		return nil, domain.Transient("fetch blob", err)
	}
}

// TrimPadding drops trailing NUL and control bytes.
func TrimPadding(b []byte) []byte {
	return bytes.TrimRightFunc(b, func(r rune) bool { return r < 0x80 && isPadding(byte(r)) })
}

func isPadding(b byte) bool { return b < 0x20 || b == 0x7f }
