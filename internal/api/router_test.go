package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/meridian-geo/meridian/internal/api/handlers"
	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/geoip"
	"github.com/meridian-geo/meridian/internal/locate"
	"github.com/meridian-geo/meridian/internal/ratelimit"
	"github.com/meridian-geo/meridian/internal/storage"
)

func TestMethodMux(t *testing.T) {
	getHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("GET response"))
	})

	postHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("POST response"))
	})

	handlers := map[string]http.Handler{
		http.MethodGet:  getHandler,
		http.MethodPost: postHandler,
	}

	mux := methodMux(handlers)

	tests := []struct {
		name         string
		method       string
		expectStatus int
		expectBody   string
		expectAllow  string
	}{
		{
			name:         "GET allowed",
			method:       http.MethodGet,
			expectStatus: http.StatusOK,
			expectBody:   "GET response",
		},
		{
			name:         "POST allowed",
			method:       http.MethodPost,
			expectStatus: http.StatusCreated,
			expectBody:   "POST response",
		},
		{
			name:         "PUT not allowed",
			method:       http.MethodPut,
			expectStatus: http.StatusMethodNotAllowed,
			expectAllow:  "GET, POST",
		},
		{
			name:         "DELETE not allowed",
			method:       http.MethodDelete,
			expectStatus: http.StatusMethodNotAllowed,
			expectAllow:  "GET, POST",
		},
		{
			name:         "PATCH not allowed",
			method:       http.MethodPatch,
			expectStatus: http.StatusMethodNotAllowed,
			expectAllow:  "GET, POST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != tt.expectStatus {
				t.Errorf("expected status %d, got %d", tt.expectStatus, w.Code)
			}

			if tt.expectBody != "" {
				body := w.Body.String()
				if body != tt.expectBody {
					t.Errorf("expected body %q, got %q", tt.expectBody, body)
				}
			}

			if tt.expectAllow != "" {
				allow := w.Header().Get("Allow")
				if allow != tt.expectAllow {
					t.Errorf("expected Allow header %q, got %q", tt.expectAllow, allow)
				}
			}
		})
	}
}

func TestAllowedMethods(t *testing.T) {
	tests := []struct {
		name     string
		handlers map[string]http.Handler
		expected string
	}{
		{
			name: "single method",
			handlers: map[string]http.Handler{
				http.MethodGet: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
			},
			expected: "GET",
		},
		{
			name: "two methods sorted",
			handlers: map[string]http.Handler{
				http.MethodPost: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
				http.MethodGet:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
			},
			expected: "GET, POST",
		},
		{
			name: "multiple methods sorted",
			handlers: map[string]http.Handler{
				http.MethodPut:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
				http.MethodGet:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
				http.MethodDelete: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
				http.MethodPost:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
			},
			expected: "DELETE, GET, POST, PUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := allowedMethods(tt.handlers)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestMethodMuxEmptyHandlers(t *testing.T) {
	handlers := map[string]http.Handler{}
	mux := methodMux(handlers)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d for empty handlers, got %d", http.StatusMethodNotAllowed, w.Code)
	}

	allow := w.Header().Get("Allow")
	if allow != "" {
		t.Errorf("expected empty Allow header, got %q", allow)
	}
}

type staticKeyStore map[string]storage.APIKey

func (s staticKeyStore) Get(_ context.Context, key string) (storage.APIKey, error) {
	if k, ok := s[key]; ok {
		return k, nil
	}
	return storage.APIKey{}, storage.ErrKeyNotFound
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	up := handlers.PingFunc(func(context.Context) error { return nil })
	svc := Services{
		Keys:     staticKeyStore{},
		Limiter:  ratelimit.New(nil),
		GeoIP:    geoip.Null{},
		Position: locate.NewSearcher(locate.KindPosition),
		Region:   locate.NewSearcher(locate.KindRegion),
		DB:       up,
		Redis:    up,
		Version:  "1.0.0",
		Commit:   "abc123",
		Tag:      "v1.0.0",
	}
	return NewRouter(config.Config{}, zerolog.Nop(), svc)
}

func TestRouterOpsEndpoints(t *testing.T) {
	router := newTestRouter(t)

	t.Run("heartbeat", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/__heartbeat__", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
		}
		if got := w.Header().Get("Access-Control-Max-Age"); got != "2592000" {
			t.Errorf("Access-Control-Max-Age = %q, want 2592000", got)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal heartbeat body: %v", err)
		}
		if body["status"] != "OK" {
			t.Errorf("status = %q, want OK", body["status"])
		}
	})

	t.Run("heartbeat rejects unsupported methods", func(t *testing.T) {
		for _, method := range []string{http.MethodDelete, http.MethodPatch, http.MethodPut} {
			req := httptest.NewRequest(method, "/__heartbeat__", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s: expected 405, got %d", method, w.Code)
			}
		}
	})

	t.Run("monitor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/__monitor__", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		// GeoIP is the null database here, so the node reports down.
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", w.Code)
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal monitor body: %v", err)
		}
		for _, service := range []string{"database", "geoip", "redis"} {
			if _, ok := body[service]; !ok {
				t.Errorf("monitor response missing %q", service)
			}
		}
	})

	t.Run("version", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/__version__", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), sourceURL) {
			t.Errorf("version body missing source URL: %s", w.Body.String())
		}
	})

	t.Run("metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})
}

func TestRouterLocateEndpoints(t *testing.T) {
	router := newTestRouter(t)

	t.Run("geolocate without key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/geolocate", strings.NewReader("{}"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	})

	t.Run("geolocate rejects GET", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/geolocate?key=test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", w.Code)
		}
		if got := w.Header().Get("Allow"); got != "POST" {
			t.Errorf("Allow = %q, want POST", got)
		}
	})

	t.Run("country with unknown key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/country?key=unknown", strings.NewReader("{}"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
		var doc struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
			t.Fatalf("unmarshal error body: %v", err)
		}
		if doc.Error.Code != http.StatusForbidden {
			t.Errorf("error code = %d, want 403", doc.Error.Code)
		}
	})

	t.Run("request id echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/__heartbeat__", nil)
		req.Header.Set("X-Request-ID", "test-request-id")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got != "test-request-id" {
			t.Errorf("X-Request-ID = %q, want test-request-id", got)
		}
	})
}
