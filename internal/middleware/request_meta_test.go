package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/registrar/internal/middleware"
	"github.com/BradenHooton/registrar/internal/services"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestRequestMeta(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"direct client", "203.0.113.7:5555", "", "203.0.113.7"},
		{"trusted proxy forwards", "10.0.0.5:443", "198.51.100.9, 10.0.0.5", "198.51.100.9"},
		{"untrusted peer cannot spoof", "203.0.113.7:5555", "198.51.100.9", "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got services.RequestMeta
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = services.RequestMetaFrom(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			req.Header.Set("User-Agent", "Firefox")
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			middleware.RequestMeta(pkghttp.NewIPConfig([]string{"10.0.0.0/8"}))(next).ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got.IPAddress)
			assert.Equal(t, "Firefox", got.UserAgent)
		})
	}
}
