package registry

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sealedmsg/internal/blob"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/mapping"
)

const tinyPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func newService(t *testing.T, now *time.Time) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	svc, err := New(filepath.Join(dir, "nested", "data"), WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, filepath.Join(dir, "nested", "data")
}

func TestJSONStoreCorruptedFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := OpenJSONStore[domain.MappingRecord](path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if n, err := s.Len(); err != nil || n != 0 {
		t.Fatalf("corrupted store should read empty, got %d %v", n, err)
	}
	if _, err := s.Upsert("abc", func(domain.MappingRecord, bool) domain.MappingRecord {
		return domain.MappingRecord{ShortHash: "abc", FullHash: "x"}
	}); err != nil {
		t.Fatalf("upsert after corruption: %v", err)
	}
	rec, ok, err := s.Get("abc")
	if err != nil || !ok || rec.FullHash != "x" {
		t.Fatalf("get: %+v %v %v", rec, ok, err)
	}
}

func TestMappingUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newService(t, &now)

	rec := domain.MappingRecord{ShortHash: "ABC123", FullHash: "addr"}
	if _, err := svc.PutMapping(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	now = now.Add(time.Hour)
	if _, err := svc.PutMapping(ctx, rec); err != nil {
		t.Fatalf("put again: %v", err)
	}
	if n, _ := svc.mappings.Len(); n != 1 {
		t.Fatalf("expected exactly one record, got %d", n)
	}
	got, err := svc.GetMapping(ctx, "ABC123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UpdatedAt.Equal(now.UTC()) {
		t.Fatalf("updatedAt = %v, want %v", got.UpdatedAt, now)
	}
	if _, err := svc.PutMapping(ctx, domain.MappingRecord{ShortHash: "bad!", FullHash: "x"}); !errors.Is(err, domain.ErrInvalidShortHash) {
		t.Fatalf("expected invalid short hash, got %v", err)
	}
	var rerr *domain.ResolutionError
	if _, err := svc.GetMapping(ctx, "ZZZ999"); !errors.As(err, &rerr) || rerr.ShortHash != "ZZZ999" {
		t.Fatalf("expected resolution error, got %v", err)
	}
}

func TestPreviewUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0)
	now := created
	svc, _ := newService(t, &now)

	if _, err := svc.PutPreview(ctx, domain.PreviewRecord{MessageID: 4, PreviewDataURL: tinyPNG}); err != nil {
		t.Fatalf("put: %v", err)
	}
	now = now.Add(time.Minute)
	out, err := svc.PutPreview(ctx, domain.PreviewRecord{MessageID: 4, PreviewDataURL: tinyPNG, FileName: "b.png"})
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	if !out.CreatedAt.Equal(created.UTC()) || !out.UpdatedAt.Equal(now.UTC()) {
		t.Fatalf("timestamps: created %v updated %v", out.CreatedAt, out.UpdatedAt)
	}
	if out.MimeType != "image/png" || out.FileName != "b.png" {
		t.Fatalf("unexpected record %+v", out)
	}
	if _, err := svc.PutPreview(ctx, domain.PreviewRecord{MessageID: 5, PreviewDataURL: "plain text"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRouterWithClient(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newService(t, &now)
	store := blob.NewMemoryStore()
	srv := httptest.NewServer(NewRouter(svc, store, RouterConfig{}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client())

	if rec, err := c.GetMapping(ctx, "ABC123"); err != nil || rec != nil {
		t.Fatalf("missing mapping should be nil, nil: %+v %v", rec, err)
	}
	if err := c.PutMapping(ctx, domain.MappingRecord{ShortHash: "ABC123", FullHash: "addr", FileName: "a.txt"}); err != nil {
		t.Fatalf("put mapping: %v", err)
	}
	rec, err := c.GetMapping(ctx, "ABC123")
	if err != nil || rec == nil || rec.FullHash != "addr" || rec.FileName != "a.txt" {
		t.Fatalf("get mapping: %+v %v", rec, err)
	}
	if err := c.PutMapping(ctx, domain.MappingRecord{ShortHash: "nope", FullHash: "addr"}); !errors.Is(err, domain.ErrInvalidShortHash) {
		t.Fatalf("invalid short hash should survive the wire, got %v", err)
	}

	if p, err := c.GetPreview(ctx, 1); err != nil || p != nil {
		t.Fatalf("missing preview should be nil, nil: %+v %v", p, err)
	}
	if err := c.PutPreview(ctx, domain.PreviewRecord{MessageID: 1, PreviewDataURL: tinyPNG}); err != nil {
		t.Fatalf("put preview: %v", err)
	}
	if p, err := c.GetPreview(ctx, 1); err != nil || p == nil || p.MimeType != "image/png" {
		t.Fatalf("get preview: %+v %v", p, err)
	}

	addr, err := c.Put(ctx, []byte("metadata"), blob.Attrs{blob.AttrShortHash: "ABC123"})
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}
	data, err := blob.NewGateway([]string{c.BlobURL()}, blob.WithHTTPClient(srv.Client())).Fetch(ctx, addr)
	if err != nil || string(data) != "metadata" {
		t.Fatalf("gateway fetch: %q %v", data, err)
	}
	found, err := c.FindByAttribute(ctx, blob.AttrShortHash, "ABC123", 10)
	if err != nil || found != addr {
		t.Fatalf("find: %q %v", found, err)
	}
	if _, err := c.FindByAttribute(ctx, blob.AttrShortHash, "ZZZ999", 10); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolverAgainstRegistry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newService(t, &now)
	srv := httptest.NewServer(NewRouter(svc, blob.NewMemoryStore(), RouterConfig{}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client())
	gw := blob.NewGateway([]string{c.BlobURL()}, blob.WithHTTPClient(srv.Client()))

	addr, err := c.Put(ctx, []byte("{}"), blob.Attrs{blob.AttrShortHash: "Srch12"})
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}
	r := mapping.NewResolver(mapping.WithBackend(c), mapping.WithProber(gw), mapping.WithSearcher(c))
	full, ok := r.Resolve(ctx, "Srch12")
	if !ok || full != addr {
		t.Fatalf("resolve via search: %q %v", full, ok)
	}
	// The search hit healed the registry mapping.
	if rec, _ := c.GetMapping(ctx, "Srch12"); rec == nil || rec.FullHash != addr {
		t.Fatalf("mapping not written back: %+v", rec)
	}
	if _, ok := mapping.NewResolver(mapping.WithBackend(c), mapping.WithProber(gw), mapping.WithSearcher(c)).Resolve(ctx, "ABC123"); ok {
		t.Fatalf("unknown short hash resolved")
	}
}
