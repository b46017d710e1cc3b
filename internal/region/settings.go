package region

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Settings is the key/value configuration for one region.
type Settings map[string]string

// Cents returns the value at key parsed as integer cents, or def when the
// key is absent or malformed.
func (s Settings) Cents(key string, def int64) int64 {
	raw, ok := s[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// Float returns the value at key parsed as a float, or def.
func (s Settings) Float(key string, def float64) float64 {
	raw, ok := s[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

const cacheKey = "region_settings:%s"

// Store reads region settings, caching whole regions in Redis. The cache is
// best-effort: any Redis failure falls through to Postgres.
type Store struct {
	pool   *pgxpool.Pool
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewStore(pool *pgxpool.Pool, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{pool: pool, rdb: rdb, ttl: ttl, logger: logger}
}

func (s *Store) Load(ctx context.Context, region string) (Settings, error) {
	key := fmt.Sprintf(cacheKey, region)

	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
			var cached Settings
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key, value
		FROM region_settings
		WHERE region = $1`, region)
	if err != nil {
		return nil, fmt.Errorf("query region settings: %w", err)
	}
	defer rows.Close()

	settings := Settings{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(settings); err == nil {
			if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil && s.logger != nil {
				s.logger.Warn("region settings cache write failed", "region", region, "error", err)
			}
		}
	}

	return settings, nil
}
