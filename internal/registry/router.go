package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sealedmsg/internal/blob"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/httpx"
	"sealedmsg/internal/observability/middleware"
)

const (
	maxRecordBody = 256 << 10
	maxBlobBody   = 32 << 20

	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

// searchable lists the blob attributes accepted on upload.
var searchable = []string{blob.AttrShortHash, blob.AttrKind, blob.AttrContentType}

type RouterConfig struct {
	CORSOrigins []string
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
}

type handler struct {
	svc   *Service
	blobs blob.Store
}

// NewRouter exposes svc and, when blobs is non-nil, a blob gateway mirror.
func NewRouter(svc *Service, blobs blob.Store, cfg RouterConfig) http.Handler {
	h := &handler{svc: svc, blobs: blobs}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithRequestAndTrace)
	r.Use(middleware.WithMetrics(routePattern))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: originsOrAny(cfg.CORSOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(httpx.LogRequests)

	r.Get("/healthz", httpx.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/mapping", h.putMapping)
	r.Get("/mapping/{shortHash}", h.getMapping)
	r.Post("/preview", h.putPreview)
	r.Get("/preview/{messageId}", h.getPreview)

	r.Route("/blob", func(r chi.Router) {
		r.Post("/", h.putBlob)
		r.Get("/", h.findBlob)
		r.Get("/{address}", h.getBlob)
	})
	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func originsOrAny(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	return nil
}

func (h *handler) putMapping(w http.ResponseWriter, r *http.Request) {
	var rec domain.MappingRecord
	if err := decodeBody(w, r, &rec); err != nil {
		httpx.WriteError(w, err)
		return
	}
	out, err := h.svc.PutMapping(r.Context(), rec)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) getMapping(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetMapping(r.Context(), chi.URLParam(r, "shortHash"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (h *handler) putPreview(w http.ResponseWriter, r *http.Request) {
	var rec domain.PreviewRecord
	if err := decodeBody(w, r, &rec); err != nil {
		httpx.WriteError(w, err)
		return
	}
	out, err := h.svc.PutPreview(r.Context(), rec)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) getPreview(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "messageId"), 10, 64)
	if err != nil {
		httpx.WriteError(w, fmt.Errorf("%w: invalid messageId", domain.ErrValidation))
		return
	}
	rec, err := h.svc.GetPreview(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

type blobAddress struct {
	Address string `json:"address"`
}

func (h *handler) requireBlobs(w http.ResponseWriter) bool {
	if h.blobs == nil {
		httpx.WriteError(w, fmt.Errorf("%w: no blob store configured", domain.ErrNotReady))
		return false
	}
	return true
}

func (h *handler) putBlob(w http.ResponseWriter, r *http.Request) {
	if !h.requireBlobs(w) {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobBody))
	if err != nil || len(data) == 0 {
		httpx.WriteError(w, fmt.Errorf("%w: blob body missing or too large", domain.ErrValidation))
		return
	}
	attrs := blob.Attrs{}
	q := r.URL.Query()
	for _, k := range searchable {
		if v := q.Get(k); v != "" {
			attrs[k] = v
		}
	}
	addr, err := h.blobs.Put(r.Context(), data, attrs)
	if err != nil {
		httpx.WriteError(w, domain.Transient("blob put", err))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, blobAddress{Address: addr})
}

func (h *handler) getBlob(w http.ResponseWriter, r *http.Request) {
	if !h.requireBlobs(w) {
		return
	}
	addr := chi.URLParam(r, "address")
	if !blob.ValidName(addr) {
		httpx.WriteError(w, fmt.Errorf("%w: invalid blob address", domain.ErrValidation))
		return
	}
	data, err := h.blobs.Get(r.Context(), addr)
	if errors.Is(err, blob.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		httpx.WriteError(w, domain.Transient("blob get", err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if blob.IsContentAddress(addr) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	_, _ = w.Write(data)
}

func (h *handler) findBlob(w http.ResponseWriter, r *http.Request) {
	if !h.requireBlobs(w) {
		return
	}
	q := r.URL.Query()
	key, value := q.Get("key"), q.Get("value")
	if key == "" || value == "" {
		httpx.WriteError(w, fmt.Errorf("%w: key and value are required", domain.ErrValidation))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > maxSearchLimit {
		limit = defaultSearchLimit
	}
	addr, err := h.blobs.FindByAttribute(r.Context(), key, value, limit)
	if errors.Is(err, blob.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		httpx.WriteError(w, domain.Transient("blob search", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, blobAddress{Address: addr})
}
