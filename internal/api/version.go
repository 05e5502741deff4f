package api

import (
	"encoding/json"
	"net/http"
)

const sourceURL = "https://github.com/meridian-geo/meridian"

// versionResponse is the deployment fingerprint served at /__version__.
type versionResponse struct {
	Commit  string `json:"commit"`
	Source  string `json:"source"`
	Tag     string `json:"tag"`
	Version string `json:"version"`
}

// VersionHandler returns the handler for the /__version__ endpoint.
// Values are set via ldflags during build:
//   - version: application version (e.g. "2.1.0" or "dev")
//   - commit: git commit hash
//   - tag: git tag the build was cut from, empty for untagged builds
func VersionHandler(version, commit, tag string) http.Handler {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := versionResponse{
			Commit:  commit,
			Source:  sourceURL,
			Tag:     tag,
			Version: version,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	})
}
