package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// NewCheckOrigin builds the upgrader's origin policy. Requests without an
// Origin header come from non-browser clients and pass. Browser origins must
// match one of allowed exactly (case-insensitive, trailing slash ignored) or
// allowed must contain "*". In development any loopback origin passes.
func NewCheckOrigin(allowed []string, isDevelopment bool) func(r *http.Request) bool {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		origins[normalizeOrigin(o)] = struct{}{}
	}
	_, wildcard := origins["*"]

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		if _, ok := origins[normalizeOrigin(origin)]; ok {
			return true
		}
		if isDevelopment && isLoopbackOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_ip", r.RemoteAddr, "path", r.URL.Path)
		return false
	}
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
