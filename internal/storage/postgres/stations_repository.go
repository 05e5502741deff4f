package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-geo/meridian/internal/metrics"
	"github.com/meridian-geo/meridian/internal/storage"
)

// StationRepository loads aggregated station fixes. All lookups are
// bulk loads keyed by the canonical station identity, so one query
// serves a whole location request.
type StationRepository struct {
	db dbConn
}

// NewStationRepository creates a station repository on the given pool.
func NewStationRepository(db dbConn) *StationRepository {
	return &StationRepository{db: db}
}

// LoadCells returns the known fixes among the given cell ids.
func (r *StationRepository) LoadCells(ctx context.Context, ids []string) (map[string]storage.StationFix, error) {
	const query = `
		SELECT station_id, lat, lon, radius, samples, last_seen
		FROM cell_stations
		WHERE station_id = ANY($1)
	`
	return r.loadFixes(ctx, "load_cells", query, ids)
}

// LoadCellAreas returns the known fixes among the given area ids.
func (r *StationRepository) LoadCellAreas(ctx context.Context, ids []string) (map[string]storage.StationFix, error) {
	const query = `
		SELECT area_id, lat, lon, radius, samples, last_seen
		FROM cell_areas
		WHERE area_id = ANY($1)
	`
	return r.loadFixes(ctx, "load_cell_areas", query, ids)
}

// LoadWifis returns the known fixes among the given MAC addresses.
func (r *StationRepository) LoadWifis(ctx context.Context, macs []string) (map[string]storage.StationFix, error) {
	const query = `
		SELECT mac, lat, lon, radius, samples, last_seen
		FROM wifi_stations
		WHERE mac = ANY($1)
	`
	return r.loadFixes(ctx, "load_wifis", query, macs)
}

func (r *StationRepository) loadFixes(ctx context.Context, operation, query string, ids []string) (result map[string]storage.StationFix, err error) {
	if len(ids) == 0 {
		return map[string]storage.StationFix{}, nil
	}

	start := time.Now()
	defer func() { metrics.RecordQuery(operation, start, err) }()

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	result = make(map[string]storage.StationFix, len(ids))
	for rows.Next() {
		var (
			id  string
			fix storage.StationFix
		)
		if err = rows.Scan(&id, &fix.Lat, &fix.Lon, &fix.Radius, &fix.Samples, &fix.LastSeen); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", operation, err)
		}
		result[id] = fix
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return result, nil
}
