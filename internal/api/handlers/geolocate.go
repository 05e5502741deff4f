package handlers

import (
	"net/http"

	"github.com/meridian-geo/meridian/internal/api/apierror"
	"github.com/meridian-geo/meridian/internal/locate"
)

// GeolocateHandler serves POST /v1/geolocate: resolve a query to a
// single position estimate.
type GeolocateHandler struct {
	deps     LocateDeps
	searcher *locate.Searcher
}

func NewGeolocateHandler(deps LocateDeps, searcher *locate.Searcher) *GeolocateHandler {
	return &GeolocateHandler{deps: deps, searcher: searcher}
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type geolocateResponse struct {
	Location latLng  `json:"location"`
	Accuracy float64 `json:"accuracy"`

	// Fallback names the degraded lookup that produced the estimate,
	// "lacf" or "ipf", so clients can judge the answer.
	Fallback string `json:"fallback,omitempty"`
}

func (h *GeolocateHandler) Locate(w http.ResponseWriter, r *http.Request) {
	key, ok := h.deps.checkAPIKey(w, r, "v1.geolocate", locate.TypeLocate)
	if !ok {
		return
	}
	q, ok := h.deps.buildQuery(w, r, key, locate.TypeLocate)
	if !ok {
		return
	}

	result := h.searcher.Search(r.Context(), q)
	if result.Empty() {
		apierror.Write(w, r, apierror.NotFound, nil)
		return
	}

	writeJSON(w, http.StatusOK, geolocateResponse{
		Location: latLng{Lat: result.Lat, Lng: result.Lon},
		Accuracy: result.Accuracy,
		Fallback: result.Fallback,
	})
}
