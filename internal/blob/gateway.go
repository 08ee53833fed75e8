package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/observability/metrics"
)

const (
	DefaultGatewayTimeout = 5 * time.Second
	maxBlobBytes          = 32 << 20
)

var ErrIntegrity = errors.New("blob: content does not match address")

// Gateway fetches blobs from an ordered list of mirrored HTTP gateways. Each
// mirror gets its own timeout; the first success wins and is tried first on
// the next fetch.
type Gateway struct {
	bases   []string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
	last    atomic.Int32
}

type GatewayOption func(*Gateway)

func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.client = c }
}

func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway takes base URLs; a blob is fetched from base + "/" + address.
func NewGateway(bases []string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		timeout: DefaultGatewayTimeout,
		client:  http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, b := range bases {
		if b = strings.TrimRight(strings.TrimSpace(b), "/"); b != "" {
			g.bases = append(g.bases, b)
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// order starts at the last gateway that answered.
func (g *Gateway) order() []int {
	n := len(g.bases)
	first := int(g.last.Load())
	if first >= n {
		first = 0
	}
	idx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		idx = append(idx, (first+i)%n)
	}
	return idx
}

// Fetch returns the blob stored under address. ErrNotFound means every
// gateway answered 404; other exhaustion is reported as domain.ErrTransient.
// Content addresses are verified against the body.
func (g *Gateway) Fetch(ctx context.Context, address string) ([]byte, error) {
	if !ValidName(address) {
		return nil, fmt.Errorf("%w: invalid blob address", domain.ErrValidation)
	}
	if len(g.bases) == 0 {
		return nil, fmt.Errorf("%w: no blob gateways configured", domain.ErrNotReady)
	}
	var lastErr error
	notFound := 0
	for _, i := range g.order() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := g.fetchOne(ctx, g.bases[i], address)
		switch {
		case err == nil:
			g.last.Store(int32(i))
			metrics.BlobGatewayFetchesTotal.WithLabelValues("ok").Inc()
			return data, nil
		case errors.Is(err, ErrNotFound):
			notFound++
			metrics.BlobGatewayFetchesTotal.WithLabelValues("not_found").Inc()
		default:
			metrics.BlobGatewayFetchesTotal.WithLabelValues("error").Inc()
			g.logger.Debug("blob gateway failed", "gateway", g.bases[i], "address", address, "error", err)
		}
		lastErr = err
	}
	if notFound == len(g.bases) {
		return nil, ErrNotFound
	}
	return nil, domain.Transient("blob gateways exhausted", lastErr)
}

// Exists is a cheap probe used by resolution; any failure reads as absent.
func (g *Gateway) Exists(ctx context.Context, address string) bool {
	_, err := g.Fetch(ctx, address)
	return err == nil
}

func (g *Gateway) fetchOne(ctx context.Context, base, address string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+address, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("gateway status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBlobBytes {
		return nil, fmt.Errorf("blob exceeds %d bytes", maxBlobBytes)
	}
	if IsContentAddress(address) && Address(data) != address {
		return nil, ErrIntegrity
	}
	return data, nil
}
