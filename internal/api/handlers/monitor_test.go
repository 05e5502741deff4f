package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meridian-geo/meridian/internal/geoip"
)

type fakeGeoDB struct {
	up  bool
	age int
}

func (f fakeGeoDB) Lookup(string) *geoip.Record { return nil }
func (f fakeGeoDB) Ping() bool                  { return f.up }
func (f fakeGeoDB) AgeInDays() int              { return f.age }
func (f fakeGeoDB) Close() error                { return nil }

func TestHeartbeat(t *testing.T) {
	handler := Heartbeat()

	t.Run("get", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/__heartbeat__", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if body["status"] != "OK" {
			t.Errorf("status = %q, want OK", body["status"])
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
		}
	})

	t.Run("options preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/__heartbeat__", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("preflight body should be empty, got %q", w.Body.String())
		}
		if got := w.Header().Get("Access-Control-Max-Age"); got != "2592000" {
			t.Errorf("Access-Control-Max-Age = %q, want 2592000", got)
		}
	})
}

type monitorBody struct {
	Database struct {
		Up bool `json:"up"`
	} `json:"database"`
	GeoIP struct {
		Up        bool `json:"up"`
		AgeInDays int  `json:"age_in_days"`
	} `json:"geoip"`
	Redis struct {
		Up bool `json:"up"`
	} `json:"redis"`
}

func runMonitor(t *testing.T, db, redis Pinger, geodb geoip.Database) (int, monitorBody) {
	t.Helper()
	handler := NewMonitorHandler(db, redis, geodb)
	req := httptest.NewRequest(http.MethodGet, "/__monitor__", nil)
	w := httptest.NewRecorder()
	handler.Monitor(w, req)

	var body monitorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal monitor body: %v", err)
	}
	return w.Code, body
}

func TestMonitorAllUp(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })

	code, body := runMonitor(t, up, up, fakeGeoDB{up: true, age: 3})

	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !body.Database.Up || !body.Redis.Up || !body.GeoIP.Up {
		t.Errorf("all services should report up: %+v", body)
	}
	if body.GeoIP.AgeInDays != 3 {
		t.Errorf("geoip age = %d, want 3", body.GeoIP.AgeInDays)
	}
}

func TestMonitorDatabaseDown(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	code, body := runMonitor(t, down, up, fakeGeoDB{up: true})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if body.Database.Up {
		t.Error("database should report down")
	}
	if !body.Redis.Up {
		t.Error("redis should still report up")
	}
}

func TestMonitorGeoIPDown(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })

	code, body := runMonitor(t, up, up, fakeGeoDB{up: false})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if body.GeoIP.Up {
		t.Error("geoip should report down")
	}
	if body.GeoIP.AgeInDays != -1 {
		t.Errorf("geoip age = %d, want -1 when unavailable", body.GeoIP.AgeInDays)
	}
}
