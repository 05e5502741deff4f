package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/meridian-geo/meridian/internal/api/handlers"
	"github.com/meridian-geo/meridian/internal/api/middleware"
	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/geoip"
	"github.com/meridian-geo/meridian/internal/locate"
	"github.com/meridian-geo/meridian/internal/metrics"
	"github.com/meridian-geo/meridian/internal/ratelimit"
	"github.com/meridian-geo/meridian/internal/storage"
)

// Services bundles the shared backends the router wires into the
// request handlers. The serve command owns their lifecycles; the
// router only routes.
type Services struct {
	Keys     storage.KeyStore
	Limiter  *ratelimit.Limiter
	GeoIP    geoip.Database
	Position *locate.Searcher
	Region   *locate.Searcher

	// DB and Redis answer the monitoring endpoint.
	DB    handlers.Pinger
	Redis handlers.Pinger

	// Build metadata served at /__version__.
	Version string
	Commit  string
	Tag     string
}

// NewRouter assembles the HTTP surface: the two location endpoints,
// the ops endpoints and the middleware chain around them.
func NewRouter(cfg config.Config, logger zerolog.Logger, svc Services) http.Handler {
	deps := handlers.LocateDeps{
		Keys:           svc.Keys,
		Limiter:        svc.Limiter,
		GeoIP:          svc.GeoIP,
		TrustedProxies: cfg.RateLimit.TrustedProxies,
	}
	geolocate := handlers.NewGeolocateHandler(deps, svc.Position)
	region := handlers.NewRegionHandler(deps, svc.Region)
	monitor := handlers.NewMonitorHandler(svc.DB, svc.Redis, svc.GeoIP)

	heartbeat := handlers.Heartbeat()
	mux := http.NewServeMux()
	mux.Handle("/", LandingHandler())
	mux.Handle("/__heartbeat__", methodMux(map[string]http.Handler{
		http.MethodGet:     heartbeat,
		http.MethodHead:    heartbeat,
		http.MethodPost:    heartbeat,
		http.MethodOptions: heartbeat,
	}))
	mux.Handle("/__monitor__", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(monitor.Monitor),
	}))
	mux.Handle("/__version__", methodMux(map[string]http.Handler{
		http.MethodGet: VersionHandler(svc.Version, svc.Commit, svc.Tag),
	}))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/v1/openapi.json", OpenAPIHandler())
	mux.Handle("/v1/geolocate", methodMux(map[string]http.Handler{
		http.MethodPost: http.HandlerFunc(geolocate.Locate),
	}))
	mux.Handle("/v1/country", methodMux(map[string]http.Handler{
		http.MethodPost: http.HandlerFunc(region.Region),
	}))

	// Innermost listed first. Requests pass recovery, correlation,
	// access logging, tracing and metrics before the per-IP limiter
	// decides whether the mux sees them at all.
	var handler http.Handler = mux
	handler = middleware.RateLimit(cfg.RateLimit)(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.RequestLogging(handler)
	handler = middleware.CorrelationID(logger)(handler)
	handler = middleware.Recovery(logger)(handler)
	return handler
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
