package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davidmoltin/site-integrations/pkg/auth"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(auth.UserID(r.Context())))
	})
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestBearerAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret")
	valid, err := jwtManager.GenerateToken("foreman-1", time.Hour)
	require.NoError(t, err)
	otherKey, err := auth.NewJWTManager("other-secret").GenerateToken("foreman-1", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		required   bool
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "optional without header is anonymous", header: "", wantStatus: http.StatusOK, wantBody: ""},
		{name: "required without header", required: true, header: "", wantStatus: http.StatusUnauthorized},
		{name: "valid token sets user", header: "Bearer " + valid, wantStatus: http.StatusOK, wantBody: "foreman-1"},
		{name: "lowercase scheme", header: "bearer " + valid, wantStatus: http.StatusOK, wantBody: "foreman-1"},
		{name: "wrong key", header: "Bearer " + otherKey, wantStatus: http.StatusUnauthorized},
		{name: "malformed header", header: "Token abc", wantStatus: http.StatusUnauthorized},
		{name: "invalid token even when optional", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewUnregistered()
			h := BearerAuth(jwtManager, tt.required, m, logger.NewNop())(echoUser())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, w.Body.String())
				return
			}
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestBearerAuth_RecordsValidations(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret")
	token, err := jwtManager.GenerateToken("u1", time.Hour)
	require.NoError(t, err)

	m := metrics.NewUnregistered()
	h := BearerAuth(jwtManager, false, m, logger.NewNop())(echoUser())

	for _, header := range []string{"Bearer " + token, "Bearer bad", "Bearer " + token} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 2.0, counterValue(t, m.AuthTokenValidations.WithLabelValues("true")))
	assert.Equal(t, 1.0, counterValue(t, m.AuthTokenValidations.WithLabelValues("false")))
}

func TestRateLimiter_ByCaller(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, ByCaller, logger.NewNop())
	h := rl.Middleware()(echoUser())

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:5678"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234"), "other callers have their own bucket")
}

func TestRateLimiter_ByURLParam(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, ByURLParam("platform"), logger.NewNop())

	r := chi.NewRouter()
	r.With(rl.Middleware()).Post("/webhooks/{platform}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	send := func(platform string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/"+platform, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, send("whatsapp").Code)
	limited := send("whatsapp")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1000", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, send("google_workspace").Code)
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil, logger.NewNop())
	rl.getLimiter("a")
	rl.getLimiter("b")
	require.Equal(t, 2, rl.size())

	rl.evictIdle(time.Now().Add(time.Minute))
	assert.Equal(t, 0, rl.size())
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	m := metrics.NewUnregistered()

	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/api/v1/actions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/actions/act-1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/actions/act-2", nil))

	assert.Equal(t, 2.0, counterValue(t, m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/actions/{id}", "4xx")))
}

func TestNormalizeStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", normalizeStatusCode(204))
	assert.Equal(t, "3xx", normalizeStatusCode(302))
	assert.Equal(t, "4xx", normalizeStatusCode(429))
	assert.Equal(t, "5xx", normalizeStatusCode(503))
	assert.Equal(t, "101", normalizeStatusCode(101))
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders()(echoUser())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}
