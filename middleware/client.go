package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// DeviceIDHeader carries the client-chosen device identifier.
const DeviceIDHeader = "X-Device-ID"

// ClientOptions controls how ClientContext derives the client IP.
type ClientOptions struct {
	// TrustForwardedFor takes the first X-Forwarded-For entry instead of
	// RemoteAddr. Enable it only behind a proxy that overwrites the header.
	TrustForwardedFor bool
}

// ClientContext attaches client IP, user agent and device id to the
// request context.
func ClientContext(opts ClientOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authcore.WithClientIP(r.Context(), clientIP(r, opts.TrustForwardedFor))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())
			if id := strings.TrimSpace(r.Header.Get(DeviceIDHeader)); id != "" {
				ctx = authcore.WithDeviceID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RefreshToken reads the refresh token from the named cookie, falling
// back to an "Authorization: Bearer" header.
func RefreshToken(r *http.Request, cookieName string) (string, bool) {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
