package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-geo/meridian/internal/api/apierror"
	"github.com/meridian-geo/meridian/internal/api/middleware"
	"github.com/meridian-geo/meridian/internal/geoip"
	"github.com/meridian-geo/meridian/internal/locate"
	"github.com/meridian-geo/meridian/internal/metrics"
	"github.com/meridian-geo/meridian/internal/ratelimit"
	"github.com/meridian-geo/meridian/internal/storage"
)

// LocateDeps bundles the plumbing every location endpoint shares: API
// key lookup, the daily quota limiter, the GeoIP reader and the proxy
// ranges whose forwarding headers we trust for client addresses.
type LocateDeps struct {
	Keys           storage.KeyStore
	Limiter        *ratelimit.Limiter
	GeoIP          geoip.Database
	TrustedProxies []string
}

// checkAPIKey implements the shared admission flow: count the request
// per key, log a unique-IP sample for keys that opted in, and enforce
// the daily quota. A storage outage lets the request through with a
// zero-value key so positioning keeps working while the database is
// down.
func (d LocateDeps) checkAPIKey(w http.ResponseWriter, r *http.Request, metricPath string, apiType locate.QueryType) (storage.APIKey, bool) {
	ctx := r.Context()

	keyText := r.URL.Query().Get("key")
	if keyText == "" {
		metrics.APIRequestsTotal.WithLabelValues(metricPath, "none").Inc()
		apierror.Write(w, r, apierror.InvalidAPIKey, nil)
		return storage.APIKey{}, false
	}

	key, err := d.Keys.Get(ctx, keyText)
	switch {
	case err == nil && key.Allowed(string(apiType)):
		metrics.APIRequestsTotal.WithLabelValues(metricPath, key.Name).Inc()
		if key.ShouldLog(string(apiType)) {
			if ip := middleware.ClientIP(r, d.TrustedProxies); ip != "" {
				d.Limiter.LogUniqueIP(ctx, string(apiType), key.Name, ip, time.Now())
			}
		}
		if err := d.Limiter.Allow(ctx, keyText, metricPath, key.MaxReq, time.Now()); err != nil {
			if errors.Is(err, ratelimit.ErrDailyLimitExceeded) {
				apierror.Write(w, r, apierror.DailyLimitExceeded, nil)
				return storage.APIKey{}, false
			}
			// The quota cannot be enforced without Redis, so a capped
			// key gets a 503 rather than a free pass.
			apierror.Write(w, r, apierror.ServiceUnavailable, err)
			return storage.APIKey{}, false
		}
		return key, true
	case err == nil, errors.Is(err, storage.ErrKeyNotFound):
		// Unknown key, or a real key without access to this API.
		metrics.APIRequestsTotal.WithLabelValues(metricPath, "invalid").Inc()
		apierror.Write(w, r, apierror.InvalidAPIKey, nil)
		return storage.APIKey{}, false
	default:
		zerolog.Ctx(ctx).Warn().Err(err).Msg("api key check skipped")
		return storage.APIKey{}, true
	}
}

// buildQuery decodes the body and canonicalizes it into a query.
func (d LocateDeps) buildQuery(w http.ResponseWriter, r *http.Request, key storage.APIKey, apiType locate.QueryType) (*locate.Query, bool) {
	req, err := decodeGeolocateRequest(r)
	if err != nil {
		apierror.Write(w, r, apierror.ParseError, err)
		return nil, false
	}

	cells, wifis, fallback := req.observations()
	q, err := locate.NewQuery(locate.Params{
		APIKey:   key,
		Type:     apiType,
		IP:       middleware.ClientIP(r, d.TrustedProxies),
		GeoIP:    d.GeoIP,
		Fallback: fallback,
		Cells:    cells,
		Wifis:    wifis,
	})
	if err != nil {
		apierror.Write(w, r, apierror.ServiceUnavailable, err)
		return nil, false
	}
	return q, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
