// Package authz authenticates callers of the HTTP services.
package authz

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/httpx"
	"sealedmsg/internal/jwtsigner"
	"sealedmsg/internal/observability/metrics"
	obsmw "sealedmsg/internal/observability/middleware"
)

// ServiceTokenHeader carries the shared secret of service-to-service calls.
const ServiceTokenHeader = "X-Service-Token"

type identityKey struct{}

type claimsKey struct{}

// Identity requires a bearer JWT signed by the identity in its subject and
// addressed to v.Audience.
func Identity(v jwtsigner.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := "success"
			defer func() { metrics.AuthenticationAttemptsTotal.WithLabelValues("identity", result).Inc() }()
			attrs := obsmw.LogAttrs(r.Context())

			tok := httpx.BearerToken(r)
			if tok == "" {
				result = "failure"
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				slog.Warn("auth missing bearer", attrs...)
				return
			}
			id, claims, err := v.Verify(tok)
			if err != nil {
				result = "failure"
				http.Error(w, "invalid token", http.StatusUnauthorized)
				slog.Warn("auth invalid token", append(attrs, "error", err)...)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey{}, id)
			ctx = context.WithValue(ctx, claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}

func ClaimsFrom(ctx context.Context) jwt.MapClaims {
	c, _ := ctx.Value(claimsKey{}).(jwt.MapClaims)
	return c
}

// ServiceToken requires the shared service token. An empty token rejects
// every request.
func ServiceToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ServiceTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				metrics.AuthenticationAttemptsTotal.WithLabelValues("service", "failure").Inc()
				httpx.WriteError(w, domain.ErrNotAuthorized)
				return
			}
			metrics.AuthenticationAttemptsTotal.WithLabelValues("service", "success").Inc()
			next.ServeHTTP(w, r)
		})
	}
}
