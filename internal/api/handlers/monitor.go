package handlers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-geo/meridian/internal/geoip"
)

// Pinger checks that a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to the Pinger interface.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Heartbeat answers load balancer probes. It never consults backing
// services; a database outage must not make the balancer pull the
// node. OPTIONS gets an empty 200 so browser preflights succeed.
func Heartbeat() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		monitorCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
}

// monitorCORS lets external monitoring pages poll the ops endpoints
// from any origin.
func monitorCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Max-Age", "2592000")
}

// MonitorHandler reports the health of every backing service for the
// external monitoring system.
type MonitorHandler struct {
	db    Pinger
	redis Pinger
	geoip geoip.Database
}

func NewMonitorHandler(db, redis Pinger, geodb geoip.Database) *MonitorHandler {
	return &MonitorHandler{db: db, redis: redis, geoip: geodb}
}

type serviceStatus struct {
	Up   bool  `json:"up"`
	Time int64 `json:"time"`
}

type geoipServiceStatus struct {
	Up        bool  `json:"up"`
	Time      int64 `json:"time"`
	AgeInDays int   `json:"age_in_days"`
}

type monitorResponse struct {
	Database serviceStatus      `json:"database"`
	GeoIP    geoipServiceStatus `json:"geoip"`
	Redis    serviceStatus      `json:"redis"`
}

const monitorTimeout = 5 * time.Second

func (h *MonitorHandler) Monitor(w http.ResponseWriter, r *http.Request) {
	monitorCORS(w)
	ctx, cancel := context.WithTimeout(r.Context(), monitorTimeout)
	defer cancel()

	var resp monitorResponse
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp.Database = pingService(ctx, h.db)
		return nil
	})
	g.Go(func() error {
		resp.Redis = pingService(ctx, h.redis)
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		if h.geoip.Ping() {
			resp.GeoIP = geoipServiceStatus{
				Up:        true,
				Time:      time.Since(start).Milliseconds(),
				AgeInDays: h.geoip.AgeInDays(),
			}
		} else {
			resp.GeoIP = geoipServiceStatus{AgeInDays: -1}
		}
		return nil
	})
	_ = g.Wait()

	status := http.StatusOK
	if !resp.Database.Up || !resp.Redis.Up || !resp.GeoIP.Up {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func pingService(ctx context.Context, p Pinger) serviceStatus {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return serviceStatus{}
	}
	return serviceStatus{Up: true, Time: time.Since(start).Milliseconds()}
}
