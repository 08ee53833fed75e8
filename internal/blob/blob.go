// Package blob stores immutable content-addressed blobs and fetches them
// back through mirrored gateways.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrNotFound = errors.New("blob: not found")

// Attribute keys recognised by stores.
const (
	AttrShortHash   = "short-hash"
	AttrContentType = "content-type"
	AttrKind        = "kind"
)

// Attrs are small string attributes attached to a blob and searchable with
// FindByAttribute.
type Attrs map[string]string

type Object struct {
	Address string
	Size    int64
	Attrs   Attrs
	ModTime time.Time
}

type Store interface {
	// Put stores data under its content address and returns the address.
	Put(ctx context.Context, data []byte, attrs Attrs) (string, error)
	Get(ctx context.Context, address string) ([]byte, error)
	Stat(ctx context.Context, address string) (Object, error)
	// FindByAttribute scans at most limit of the most recently written blobs
	// and returns the address of the first whose attribute key equals value.
	FindByAttribute(ctx context.Context, key, value string, limit int) (string, error)
}

// Address is the lowercase hex SHA-256 of data.
func Address(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsContentAddress reports whether s has the shape of an Address result.
// Legacy objects may live under other names.
func IsContentAddress(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ValidName rejects names that cannot be used as object keys or URL path
// segments.
func ValidName(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// StoreFetcher reads straight from a Store, for callers that sit next to the
// store instead of behind a gateway.
type StoreFetcher struct {
	Store Store
}

func (f StoreFetcher) Fetch(ctx context.Context, address string) ([]byte, error) {
	return f.Store.Get(ctx, address)
}

func (f StoreFetcher) Exists(ctx context.Context, address string) bool {
	_, err := f.Store.Stat(ctx, address)
	return err == nil
}
