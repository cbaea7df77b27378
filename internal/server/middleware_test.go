package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_CORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		corsOrigin     string
		method         string
		shouldCallNext bool
	}{
		{"GET with wildcard", "*", http.MethodGet, true},
		{"POST with specific origin", "https://example.com", http.MethodPost, true},
		{"OPTIONS preflight", "*", http.MethodOptions, false},
		{"empty origin", "", http.MethodGet, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &Server{corsOrigin: tt.corsOrigin}

			nextCalled := false
			next := func(w http.ResponseWriter, _ *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusAccepted)
			}

			w := httptest.NewRecorder()
			server.corsMiddleware("/test", next)(w, httptest.NewRequest(tt.method, "/test", nil))

			assert.Equal(t, tt.corsOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
			assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
			assert.Equal(t, tt.shouldCallNext, nextCalled)
			if tt.shouldCallNext {
				assert.Equal(t, http.StatusAccepted, w.Code)
			} else {
				assert.Equal(t, http.StatusOK, w.Code)
			}
		})
	}
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	s := &Server{}
	var seen string
	h := s.requestIDMiddleware(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	assert.Empty(t, RequestID(context.Background()))
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, helloWorldStub(), Config{
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
	})

	send := func() *httptest.ResponseRecorder {
		req := multipartRequest(t, "/extract", "image", "scan.png", testutil.SamplePNG(t), nil)
		req.RemoteAddr = "10.0.0.1:5555"
		return serve(s, req)
	}

	w := send()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = send()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "minute", w.Header().Get("X-RateLimit-Type"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])

	// health is not limited
	w = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleRateLimitError(t *testing.T) {
	s := &Server{}

	t.Run("quota", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleRateLimitError(w, &QuotaExceededError{
			Type: "data", Limit: 100, Used: 90, Resets: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		})
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "data", w.Header().Get("X-Quota-Type"))
		assert.Equal(t, "90", w.Header().Get("X-Quota-Used"))
		assert.Equal(t, "Fri, 02 Jan 2026 00:00:00 GMT", w.Header().Get("X-Quota-Resets"))
	})

	t.Run("unknown error", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleRateLimitError(w, errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.7"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 203.0.113.8 "}, "10.0.0.1:80", "203.0.113.8"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:80", "198.51.100.2"},
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
