package blob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sealedmsg/internal/domain"
)

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	addr, err := s.Put(ctx, []byte("hello"), Attrs{AttrShortHash: "abc"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if addr != Address([]byte("hello")) || !IsContentAddress(addr) {
		t.Fatalf("unexpected address %q", addr)
	}
	got, err := s.Get(ctx, addr)
	if err != nil || string(got) != "hello" {
		t.Fatalf("get: %q %v", got, err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	obj, err := s.Stat(ctx, addr)
	if err != nil || obj.Size != 5 || obj.Attrs[AttrShortHash] != "abc" {
		t.Fatalf("stat: %+v %v", obj, err)
	}
}

func TestFindByAttributeScansNewestPage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Unix(1_700_000_000, 0)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	old, _ := s.Put(ctx, []byte("old"), Attrs{AttrShortHash: "target"})
	for i := 0; i < 5; i++ {
		_, _ = s.Put(ctx, []byte{byte(i)}, Attrs{AttrShortHash: "other"})
	}

	if _, err := s.FindByAttribute(ctx, AttrShortHash, "target", 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("object outside the scanned page should not match, got %v", err)
	}
	got, err := s.FindByAttribute(ctx, AttrShortHash, "target", 10)
	if err != nil || got != old {
		t.Fatalf("find: %q %v", got, err)
	}
}

func TestValidName(t *testing.T) {
	for _, ok := range []string{"abc123", Address(nil), "Ab-_9"} {
		if !ValidName(ok) {
			t.Fatalf("%q should be valid", ok)
		}
	}
	for _, bad := range []string{"", "../etc", "a/b", "a b", strings.Repeat("a", 200)} {
		if ValidName(bad) {
			t.Fatalf("%q should be invalid", bad)
		}
	}
}

func blobServer(t *testing.T, blobs map[string][]byte, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		data, ok := blobs[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayFallthroughAndStickiness(t *testing.T) {
	payload := []byte("payload")
	addr := Address(payload)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	var emptyHits, goodHits atomic.Int32
	empty := blobServer(t, map[string][]byte{}, &emptyHits)
	good := blobServer(t, map[string][]byte{addr: payload}, &goodHits)

	g := NewGateway([]string{broken.URL, empty.URL, good.URL}, WithTimeout(time.Second))
	data, err := g.Fetch(context.Background(), addr)
	if err != nil || string(data) != "payload" {
		t.Fatalf("fetch: %q %v", data, err)
	}
	if emptyHits.Load() != 1 || goodHits.Load() != 1 {
		t.Fatalf("expected each mirror to be tried once, got empty=%d good=%d", emptyHits.Load(), goodHits.Load())
	}

	if _, err := g.Fetch(context.Background(), addr); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if emptyHits.Load() != 1 {
		t.Fatalf("last successful gateway should be tried first")
	}
}

func TestGatewayIntegrityAndExhaustion(t *testing.T) {
	addr := Address([]byte("real"))
	liar := blobServer(t, map[string][]byte{addr: []byte("fake")}, nil)
	empty := blobServer(t, map[string][]byte{}, nil)

	g := NewGateway([]string{liar.URL})
	if _, err := g.Fetch(context.Background(), addr); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("tampered blob should fail as transient, got %v", err)
	}

	g = NewGateway([]string{empty.URL, empty.URL})
	if _, err := g.Fetch(context.Background(), addr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := NewGateway(nil).Fetch(context.Background(), addr); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected not ready without gateways, got %v", err)
	}
}

func TestGatewayTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	payload := []byte("x")
	good := blobServer(t, map[string][]byte{"legacy1": payload}, nil)

	g := NewGateway([]string{slow.URL, good.URL}, WithTimeout(50*time.Millisecond))
	data, err := g.Fetch(context.Background(), "legacy1")
	if err != nil || string(data) != "x" {
		t.Fatalf("fetch after timeout: %q %v", data, err)
	}
}
