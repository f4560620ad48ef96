package middleware

import (
	"net/http"

	"github.com/BradenHooton/registrar/internal/services"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
)

// RequestMeta resolves the caller's address and user agent once per request.
// Forwarding headers are only believed from trusted proxies.
func RequestMeta(ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := services.WithRequestMeta(r.Context(), services.RequestMeta{
				IPAddress: pkghttp.ExtractClientIP(r, ipConfig),
				UserAgent: pkghttp.ExtractUserAgent(r),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
