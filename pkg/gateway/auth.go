package gateway

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/thinrelay/thinrelay/pkg/keystore"
	"github.com/thinrelay/thinrelay/pkg/observability"
)

type identityContextKey struct{}

// authenticate resolves the bearer credential through the key store and
// attaches the tenant identity to the request context. Auth failures answer
// 401 immediately; nothing downstream runs without an identity.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := bearerToken(r)
		if secret == "" {
			observability.AuthFailuresTotal.Inc()
			writeError(w, http.StatusUnauthorized, "missing bearer credential")
			return
		}

		identity, err := s.keys.Resolve(r.Context(), secret)
		if err != nil {
			if keystore.IsAuthError(err) {
				observability.AuthFailuresTotal.Inc()
				writeError(w, http.StatusUnauthorized, "invalid credential")
				return
			}
			s.logger.Error("Credential resolution failed",
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "authentication unavailable")
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
		ctx = observability.WithTenantID(ctx, identity.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom returns the authenticated tenant identity from the context
func identityFrom(ctx context.Context) *keystore.TenantIdentity {
	identity, _ := ctx.Value(identityContextKey{}).(*keystore.TenantIdentity)
	return identity
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
