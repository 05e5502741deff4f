package handlers

import (
	"net/http"

	"github.com/meridian-geo/meridian/internal/locate"
)

// RegionHandler serves POST /v1/country: resolve a query to the
// country it most likely originates from. A miss is not an error; the
// response simply carries null fields.
type RegionHandler struct {
	deps     LocateDeps
	searcher *locate.Searcher
}

func NewRegionHandler(deps LocateDeps, searcher *locate.Searcher) *RegionHandler {
	return &RegionHandler{deps: deps, searcher: searcher}
}

type regionResponse struct {
	CountryCode *string `json:"country_code"`
	CountryName *string `json:"country_name"`
	Fallback    string  `json:"fallback,omitempty"`
}

func (h *RegionHandler) Region(w http.ResponseWriter, r *http.Request) {
	key, ok := h.deps.checkAPIKey(w, r, "v1.country", locate.TypeRegion)
	if !ok {
		return
	}
	q, ok := h.deps.buildQuery(w, r, key, locate.TypeRegion)
	if !ok {
		return
	}

	result := h.searcher.Search(r.Context(), q)

	var resp regionResponse
	if !result.Empty() {
		code, name := result.RegionCode, result.RegionName
		resp.CountryCode = &code
		resp.CountryName = &name
		resp.Fallback = result.Fallback
	}
	writeJSON(w, http.StatusOK, resp)
}
