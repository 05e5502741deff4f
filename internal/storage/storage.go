// Package storage defines the persistence interfaces the positioning
// pipeline consumes. Implementations live in subpackages.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when an API key does not exist.
var ErrKeyNotFound = errors.New("storage: api key not found")

// StationFix is the aggregated position estimate for one station,
// built from crowd-sourced observations.
type StationFix struct {
	Lat      float64
	Lon      float64
	Radius   float64
	Samples  int
	LastSeen time.Time
}

// StationStore loads station fixes in bulk, keyed by the canonical
// station identity. Stations missing from the result map are unknown.
type StationStore interface {
	LoadCells(ctx context.Context, ids []string) (map[string]StationFix, error)
	LoadCellAreas(ctx context.Context, ids []string) (map[string]StationFix, error)
	LoadWifis(ctx context.Context, macs []string) (map[string]StationFix, error)
}

// KeyStore resolves API keys.
type KeyStore interface {
	// Get returns the key record, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (APIKey, error)
}

// APIKey is one row of the api_keys table. The zero value is an
// invalid key with every permission off, which is what request
// handling falls back to when the database is unreachable.
type APIKey struct {
	Key           string
	Name          string
	AllowFallback bool
	AllowLocate   bool
	AllowRegion   bool

	// MaxReq is the daily request limit, zero meaning unlimited.
	MaxReq int

	LogLocate bool
	LogRegion bool
	CreatedAt time.Time
}

// Valid reports whether the key refers to an existing record.
func (k APIKey) Valid() bool {
	return k.Key != ""
}

// Allowed reports whether the key may use the given API at all.
func (k APIKey) Allowed(apiType string) bool {
	switch apiType {
	case "locate":
		return k.AllowLocate
	case "region":
		return k.AllowRegion
	}
	return false
}

// ShouldLog reports whether queries under this key contribute to
// per-key metrics.
func (k APIKey) ShouldLog(apiType string) bool {
	switch apiType {
	case "locate":
		return k.LogLocate
	case "region":
		return k.LogRegion
	}
	return false
}
