package api

import (
	"encoding/json"
	"net/http"

	"github.com/meridian-geo/meridian/internal/api/apierror"
)

// landingResponse is the directory document served at the root path.
type landingResponse struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Source      string            `json:"source"`
	Endpoints   map[string]string `json:"endpoints"`
}

// LandingHandler serves a small JSON directory at "/". The root
// pattern also catches every path no other route claims, so anything
// but "/" itself answers with the standard not-found document.
func LandingHandler() http.Handler {
	doc := landingResponse{
		Name:        "meridian",
		Description: "Crowd-sourced geolocation service.",
		Source:      sourceURL,
		Endpoints: map[string]string{
			"POST /v1/geolocate":   "Resolve a position from cell, wifi and IP signals.",
			"POST /v1/country":     "Resolve a country from the same signals.",
			"GET /v1/openapi.json": "Machine-readable API description.",
			"GET /__heartbeat__":   "Liveness probe.",
			"GET /__monitor__":     "Dependency health.",
			"GET /__version__":     "Build fingerprint.",
			"GET /metrics":         "Prometheus metrics.",
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			apierror.Write(w, r, apierror.NotFound, nil)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(doc)
	})
}
