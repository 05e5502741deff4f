package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-geo/meridian/internal/metrics"
	"github.com/meridian-geo/meridian/internal/storage"
)

// KeyRepository manages API key records.
type KeyRepository struct {
	db dbConn
}

// NewKeyRepository creates a key repository on the given pool.
func NewKeyRepository(db dbConn) *KeyRepository {
	return &KeyRepository{db: db}
}

const keyColumns = `key, name, allow_fallback, allow_locate, allow_region,
	       maxreq, log_locate, log_region, created_at`

// Get returns the key record, or storage.ErrKeyNotFound.
func (r *KeyRepository) Get(ctx context.Context, key string) (storage.APIKey, error) {
	const query = `
		SELECT ` + keyColumns + `
		FROM api_keys
		WHERE key = $1
	`

	var apiKey storage.APIKey
	start := time.Now()
	err := r.db.QueryRow(ctx, query, key).Scan(
		&apiKey.Key,
		&apiKey.Name,
		&apiKey.AllowFallback,
		&apiKey.AllowLocate,
		&apiKey.AllowRegion,
		&apiKey.MaxReq,
		&apiKey.LogLocate,
		&apiKey.LogRegion,
		&apiKey.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// a missing key is an expected outcome, not a database error
		metrics.RecordQuery("get_key", start, nil)
		return storage.APIKey{}, storage.ErrKeyNotFound
	}
	metrics.RecordQuery("get_key", start, err)
	if err != nil {
		return storage.APIKey{}, fmt.Errorf("get key: %w", err)
	}
	return apiKey, nil
}

// Create inserts a new key record.
func (r *KeyRepository) Create(ctx context.Context, apiKey storage.APIKey) (err error) {
	const query = `
		INSERT INTO api_keys (
			key, name, allow_fallback, allow_locate, allow_region,
			maxreq, log_locate, log_region, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	start := time.Now()
	defer func() { metrics.RecordQuery("create_key", start, err) }()

	createdAt := apiKey.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.db.Exec(ctx, query,
		apiKey.Key,
		apiKey.Name,
		apiKey.AllowFallback,
		apiKey.AllowLocate,
		apiKey.AllowRegion,
		apiKey.MaxReq,
		apiKey.LogLocate,
		apiKey.LogRegion,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

// List returns all key records, oldest first.
func (r *KeyRepository) List(ctx context.Context) (keys []storage.APIKey, err error) {
	const query = `
		SELECT ` + keyColumns + `
		FROM api_keys
		ORDER BY created_at, key
	`

	start := time.Now()
	defer func() { metrics.RecordQuery("list_keys", start, err) }()

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var apiKey storage.APIKey
		if err = rows.Scan(
			&apiKey.Key,
			&apiKey.Name,
			&apiKey.AllowFallback,
			&apiKey.AllowLocate,
			&apiKey.AllowRegion,
			&apiKey.MaxReq,
			&apiKey.LogLocate,
			&apiKey.LogRegion,
			&apiKey.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("list keys: scan: %w", err)
		}
		keys = append(keys, apiKey)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}
