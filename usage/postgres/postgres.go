// Package postgres provides a PostgreSQL-backed UsageStore for imagegate,
// plus best-effort metrics snapshot persistence.
//
// The check-and-increment runs inside a transaction with a row lock, so it
// is atomic across concurrent requests and safe for multi-instance
// deployments.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/imagegate"
)

// Store is a PostgreSQL-backed UsageStore and MetricsStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	minInterval time.Duration
	caps        map[imagegate.Tier]int
}

var (
	_ imagegate.UsageStore   = (*Store)(nil)
	_ imagegate.MetricsStore = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "imagegate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed UsageStore enforcing the given
// minimum interval and per-tier daily caps.
func New(pool *pgxpool.Pool, minInterval time.Duration, caps map[imagegate.Tier]int, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "imagegate_",
		minInterval: minInterval,
		caps:        caps,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) usageTable() string    { return s.tablePrefix + "usage" }
func (s *Store) profilesTable() string { return s.tablePrefix + "profiles" }
func (s *Store) metricsTable() string  { return s.tablePrefix + "metrics" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			client_key TEXT PRIMARY KEY,
			day_key TEXT NOT NULL,
			used_today INT NOT NULL DEFAULT 0,
			last_request_ms BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS %s (
			client_key TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'free'
		);
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			cache_hits BIGINT NOT NULL,
			cache_misses BIGINT NOT NULL,
			deduped_hits BIGINT NOT NULL,
			busy_rejects BIGINT NOT NULL,
			total_requests BIGINT NOT NULL,
			total_success BIGINT NOT NULL,
			total_errors BIGINT NOT NULL,
			last_latency_ms BIGINT
		);
	`, s.usageTable(), s.profilesTable(), s.metricsTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("imagegate/postgres: ensure schema: %w", err)
	}
	return nil
}

// Allow runs the atomic check-and-increment for clientKey.
func (s *Store) Allow(ctx context.Context, clientKey string, tier imagegate.Tier, now time.Time) error {
	limit := s.caps[tier]
	day := now.UTC().Format("2006-01-02")
	nowMs := now.UnixMilli()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("imagegate/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Create the record lazily, then lock it for the check.
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (client_key, day_key) VALUES ($1, $2) ON CONFLICT (client_key) DO NOTHING`,
			s.usageTable()),
		clientKey, day,
	)
	if err != nil {
		return fmt.Errorf("imagegate/postgres: upsert usage: %w", err)
	}

	var dayKey string
	var usedToday int
	var lastMs int64
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT day_key, used_today, last_request_ms FROM %s WHERE client_key = $1 FOR UPDATE`,
			s.usageTable()),
		clientKey,
	).Scan(&dayKey, &usedToday, &lastMs)
	if err != nil {
		return fmt.Errorf("imagegate/postgres: lock usage: %w", err)
	}

	// Lazy daily reset.
	if dayKey != day {
		usedToday = 0
		lastMs = 0
	}

	if lastMs > 0 && nowMs-lastMs < s.minInterval.Milliseconds() {
		return &imagegate.ThrottleError{
			Err:  imagegate.ErrTooFrequent,
			Wait: time.Duration(s.minInterval.Milliseconds()-(nowMs-lastMs)) * time.Millisecond,
		}
	}
	if usedToday >= limit {
		return &imagegate.ThrottleError{Err: imagegate.ErrDailyLimit, Cap: limit}
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET day_key = $1, used_today = $2, last_request_ms = $3 WHERE client_key = $4`,
			s.usageTable()),
		day, usedToday+1, nowMs, clientKey,
	)
	if err != nil {
		return fmt.Errorf("imagegate/postgres: count usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("imagegate/postgres: commit: %w", err)
	}
	return nil
}

// Tier looks up the stored tier for a client.
func (s *Store) Tier(ctx context.Context, clientKey string) (imagegate.Tier, bool, error) {
	var tier string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT tier FROM %s WHERE client_key = $1`, s.profilesTable()),
		clientKey,
	).Scan(&tier)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("imagegate/postgres: tier: %w", err)
	}
	return imagegate.ParseTier(tier), true, nil
}

// SetTier stores the tier for a client (upsert).
func (s *Store) SetTier(ctx context.Context, clientKey string, tier imagegate.Tier) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (client_key, tier) VALUES ($1, $2)
			ON CONFLICT (client_key) DO UPDATE SET tier = $2`, s.profilesTable()),
		clientKey, string(tier),
	)
	if err != nil {
		return fmt.Errorf("imagegate/postgres: set tier: %w", err)
	}
	return nil
}

// AppendSnapshot records a metrics snapshot. Best-effort telemetry; the
// flusher ignores the returned error.
func (s *Store) AppendSnapshot(ctx context.Context, snap imagegate.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s
			(cache_hits, cache_misses, deduped_hits, busy_rejects, total_requests, total_success, total_errors, last_latency_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.metricsTable()),
		snap.CacheHits, snap.CacheMisses, snap.DedupedHits, snap.BusyRejects,
		snap.TotalRequests, snap.TotalSuccess, snap.TotalErrors, snap.LastLatencyMs,
	)
	if err != nil {
		return fmt.Errorf("imagegate/postgres: append snapshot: %w", err)
	}
	return nil
}

// CleanupUsage removes usage rows older than the given number of days.
func (s *Store) CleanupUsage(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format("2006-01-02")
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE day_key < $1`, s.usageTable()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("imagegate/postgres: cleanup usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
