package middleware

import (
	"net/http"
	"os"
	"strconv"
)

// RequestSizeLimit limits the maximum size of request bodies
func RequestSizeLimit(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders adds security-related HTTP headers.
// The API serves JSON only, so the content policy denies everything.
func SecurityHeaders() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")

			// Strict Transport Security (HSTS) - only if HTTPS
			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			csp := "default-src 'none'; frame-ancestors 'none'"
			if cspEnv := os.Getenv("CSP_POLICY"); cspEnv != "" {
				csp = cspEnv
			}
			w.Header().Set("Content-Security-Policy", csp)
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")

			next.ServeHTTP(w, r)
		})
	}
}

// GetMaxRequestSize returns the maximum request size from environment or default
func GetMaxRequestSize() int64 {
	const defaultMaxSize = 10 * 1024 * 1024 // 10MB default

	if maxSizeEnv := os.Getenv("MAX_REQUEST_SIZE_MB"); maxSizeEnv != "" {
		if maxSizeMB, err := strconv.ParseInt(maxSizeEnv, 10, 64); err == nil && maxSizeMB > 0 {
			return maxSizeMB * 1024 * 1024
		}
	}

	return defaultMaxSize
}
