package ledger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sealedmsg/internal/authz"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/httpx"
	"sealedmsg/internal/jwtsigner"
	"sealedmsg/internal/observability/middleware"
)

// Audience is the JWT audience clients use when calling the ledger.
const Audience = "ledger"

const (
	maxBody = 64 << 10

	defaultInboxLimit = 50
	maxInboxLimit     = 500
)

type RouterConfig struct {
	// ServiceToken guards /internal routes; empty disables them.
	ServiceToken string
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
	TokenSkew time.Duration
	Now       func() time.Time
}

type handler struct {
	svc *Service
}

type createResponse struct {
	ID uint64 `json:"id"`
}

type contentResponse struct {
	ContentHandle string `json:"contentHandle"`
}

type payRequest struct {
	Amount uint64 `json:"amount"`
	// PaidAt is unix seconds; zero means now.
	PaidAt int64 `json:"paidAt,omitempty"`
}

type readResponse struct {
	Latched bool `json:"latched"`
}

type accessRequest struct {
	Reader        domain.Identity `json:"reader"`
	ContentHandle string          `json:"contentHandle"`
}

type accessResponse struct {
	MessageID uint64 `json:"messageId"`
}

func NewRouter(svc *Service, cfg RouterConfig) http.Handler {
	h := &handler{svc: svc}
	verifier := jwtsigner.Verifier{Audience: Audience, Leeway: cfg.TokenSkew, Now: cfg.Now}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithRequestAndTrace)
	r.Use(middleware.WithMetrics(routePattern))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	}
	r.Use(httpx.LogRequests)

	r.Get("/healthz", httpx.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authz.Identity(verifier))
		r.Post("/messages", h.create)
		r.Get("/messages/{id}", h.metadata)
		r.Get("/messages/{id}/content", h.content)
		r.Post("/messages/{id}/pay", h.pay)
		r.Post("/messages/{id}/read", h.markRead)
		r.Get("/inbox", h.inbox)
	})

	if cfg.ServiceToken != "" {
		r.With(authz.ServiceToken(cfg.ServiceToken)).Post("/internal/access", h.checkAccess)
	}
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

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	return nil
}

func messageID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid message id", domain.ErrValidation)
	}
	return id, nil
}

func caller(r *http.Request) domain.Identity {
	id, _ := authz.IdentityFrom(r.Context())
	return id
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := decodeBody(w, r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := h.svc.CreateMessage(r.Context(), caller(r), in)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createResponse{ID: id})
}

func (h *handler) metadata(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	md, err := h.svc.GetMetadata(r.Context(), caller(r), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, md)
}

func (h *handler) content(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	handle, err := h.svc.ReadContent(r.Context(), caller(r), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, contentResponse{ContentHandle: handle})
}

func (h *handler) pay(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req payRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	var paidAt time.Time
	if req.PaidAt > 0 {
		paidAt = time.Unix(req.PaidAt, 0)
	}
	md, err := h.svc.Pay(r.Context(), caller(r), id, req.Amount, paidAt)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, md)
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	latched, err := h.svc.MarkRead(r.Context(), caller(r), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, readResponse{Latched: latched})
}

func (h *handler) inbox(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxInboxLimit {
		limit = defaultInboxLimit
	}
	out, err := h.svc.Inbox(r.Context(), caller(r), limit)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	id, err := h.svc.CheckAccess(r.Context(), req.Reader, req.ContentHandle)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accessResponse{MessageID: id})
}
