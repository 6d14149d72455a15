package middleware

import (
	"net/http"
	"strings"

	"github.com/breatheroute/aqimap/internal/api/models"
)

// APIContentSecurityPolicy forbids everything; JSON responses load nothing.
const APIContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// MapContentSecurityPolicy allows the Leaflet bundle from unpkg, the tile
// server of tileURL and the inline marker scripts of the map page. tileURL is
// a Leaflet URL template such as https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png.
func MapContentSecurityPolicy(tileURL string) string {
	return "default-src 'none'; " +
		"script-src 'unsafe-inline' https://unpkg.com; " +
		"style-src 'unsafe-inline' https://unpkg.com; " +
		"img-src data: https://unpkg.com " + tileSource(tileURL) + "; " +
		"frame-ancestors 'none'"
}

// tileSource turns a tile URL template into a CSP source expression. A
// placeholder in the leftmost host label becomes a wildcard; placeholders
// anywhere else widen the source to the scheme.
func tileSource(tileURL string) string {
	scheme, rest, ok := strings.Cut(tileURL, "://")
	if !ok || rest == "" {
		return "https:"
	}
	host, _, _ := strings.Cut(rest, "/")

	if strings.HasPrefix(host, "{") {
		if _, after, found := strings.Cut(host, "}"); found {
			host = "*" + after
		}
	}
	if host == "" || strings.ContainsAny(host, "{} ;,") {
		return scheme + ":"
	}
	return scheme + "://" + host
}

// SecurityHeaders adds standard security headers to all HTTP responses.
// Headers set:
//   - X-Content-Type-Options: nosniff
//   - X-Frame-Options: DENY
//   - Strict-Transport-Security: max-age=31536000; includeSubDomains
//   - Content-Security-Policy: APIContentSecurityPolicy
//   - Referrer-Policy: strict-origin-when-cross-origin
//   - Permissions-Policy: geolocation=(), camera=(), microphone=()
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", APIContentSecurityPolicy)
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")

		next.ServeHTTP(w, r)
	})
}

// ContentSecurityPolicy overrides the policy set by SecurityHeaders for the
// routes it wraps.
func ContentSecurityPolicy(policy string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Security-Policy", policy)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTLS rejects requests that a proxy reports as plain HTTP through
// X-Forwarded-Proto. Requests without the header are direct connections and
// pass through.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proto := r.Header.Get("X-Forwarded-Proto")
			if proto != "" && proto != "https" {
				problem := models.NewTLSRequired(GetRequestID(r.Context()))
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
