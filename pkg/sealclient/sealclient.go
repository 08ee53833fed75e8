// Package sealclient is the sender and receiver side of sealed messages. It
// composes the content codec, the ledger, the decryption session and the
// preview pipeline into the two user-facing flows.
package sealclient

import (
	"context"
	"log/slog"
	"time"

	"sealedmsg/internal/content"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/ledger"
	"sealedmsg/internal/policy"
	"sealedmsg/internal/preview"
	"sealedmsg/internal/sealbox"
)

// Ledger is the message ledger as seen by one identity.
type Ledger interface {
	Identity() domain.Identity
	CreateMessage(ctx context.Context, in ledger.CreateInput) (uint64, error)
	GetMetadata(ctx context.Context, id uint64) (domain.Metadata, error)
	ReadContent(ctx context.Context, id uint64) (string, error)
	Pay(ctx context.Context, id, amount uint64) (domain.Metadata, error)
	MarkRead(ctx context.Context, id uint64) (bool, error)
	Inbox(ctx context.Context, limit int) ([]domain.Metadata, error)
}

// Decrypter exchanges a content handle for its inline plaintext.
type Decrypter interface {
	Decrypt(ctx context.Context, handle string) ([]byte, error)
}

const (
	DefaultPollInterval = 5 * time.Second
	DefaultCacheSize    = 256
)

type Config struct {
	Ledger    Ledger
	Codec     *content.Codec
	Decrypter Decrypter
	Previews  *preview.Pipeline
	// OracleKey and Scope seal inline values for the decryption oracle.
	OracleKey    sealbox.PublicKey
	Scope        string
	PollInterval time.Duration
	CacheSize    int
	Policy       *policy.Engine
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.Policy == nil {
		c.Policy = policy.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
