// Package internal documents the positioning service internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, and routing
// - locate: query model and the position/region source cascade
// - geoip, geocode, geomath: IP lookups, region boundaries, geodesy
// - fallback: the external location provider client and cache
// - storage: database access and repositories (pgx + Postgres)
// - config, metrics, ratelimit, telemetry: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
