package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"sigs.k8s.io/yaml"
)

const openAPISourcePath = "specs/openapi.yaml"

var (
	openAPIJSON    []byte
	openAPIJSONErr error
	openAPIOnce    sync.Once
)

// OpenAPIHandler serves the API contract as JSON, converting the YAML
// source once on first use.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		openAPIOnce.Do(func() {
			data, err := os.ReadFile(resolveOpenAPIPath())
			if err != nil {
				openAPIJSONErr = err
				return
			}
			openAPIJSON, openAPIJSONErr = yaml.YAMLToJSON(data)
		})

		if openAPIJSONErr != nil {
			http.Error(w, "openapi unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(openAPIJSON)
	}
}

// resolveOpenAPIPath locates the contract file. Deployments run from
// the repository root; tests run from their package directory, so fall
// back to walking up to the module root.
func resolveOpenAPIPath() string {
	if _, err := os.Stat(openAPISourcePath); err == nil {
		return openAPISourcePath
	}
	if root, err := repoRoot(); err == nil {
		return filepath.Join(root, openAPISourcePath)
	}
	return openAPISourcePath
}

// repoRoot walks up from the working directory to the nearest
// directory holding a go.mod.
func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
