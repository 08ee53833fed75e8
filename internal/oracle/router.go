package oracle

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/httpx"
	"sealedmsg/internal/observability/middleware"
	"sealedmsg/internal/session"
)

const maxBody = 64 << 10

type Handler struct {
	svc *Service
}

type pubkeyResponse struct {
	PublicKey string `json:"publicKey"`
	Scope     string `json:"scope"`
}

type decryptResponse struct {
	// Results maps handle to the plaintext sealed to the session key.
	Results map[string][]byte `json:"results"`
}

func NewRouter(svc *Service) http.Handler {
	h := &Handler{svc: svc}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpx.Healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /pubkey", h.handlePubkey)
	mux.HandleFunc("POST /decrypt", h.handleDecrypt)

	return middleware.WithRequestAndTrace(middleware.WithMetrics(pathLabel)(httpx.LogRequests(mux)))
}

func pathLabel(r *http.Request) string {
	switch r.URL.Path {
	case "/healthz", "/pubkey", "/decrypt":
		return r.URL.Path
	default:
		return "other"
	}
}

func (h *Handler) handlePubkey(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, pubkeyResponse{
		PublicKey: h.svc.PublicKey().String(),
		Scope:     h.svc.Scope(),
	})
}

func (h *Handler) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req session.DecryptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		httpx.WriteError(w, domain.ErrValidation)
		return
	}
	out, err := h.svc.Decrypt(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, decryptResponse{Results: out})
}
