package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grcorsair/corsair/pkg/credential"
)

// SQLIdempotencyStore persists idempotency records in a relational table.
// Works against sqlite and postgres through database/sql; the placeholder
// style is chosen at construction.
type SQLIdempotencyStore struct {
	db       *sql.DB
	postgres bool
}

// NewSQLIdempotencyStore migrates the table. postgres selects $n
// placeholders instead of ?.
func NewSQLIdempotencyStore(db *sql.DB, postgres bool) (*SQLIdempotencyStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS idempotency_records (
		key          TEXT PRIMARY KEY,
		route        TEXT,
		request_hash TEXT NOT NULL,
		status       TEXT NOT NULL,
		response     BLOB,
		expires_at   TEXT NOT NULL
	);`
	if postgres {
		schema = `
	CREATE TABLE IF NOT EXISTS idempotency_records (
		key          TEXT PRIMARY KEY,
		route        TEXT,
		request_hash TEXT NOT NULL,
		status       TEXT NOT NULL,
		response     BYTEA,
		expires_at   TEXT NOT NULL
	);`
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("api: idempotency migrate: %w", err)
	}
	return &SQLIdempotencyStore{db: db, postgres: postgres}, nil
}

func (s *SQLIdempotencyStore) ph(n int) string {
	if s.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Get returns the record for key, nil when absent or expired.
func (s *SQLIdempotencyStore) Get(ctx context.Context, key string) (*credential.StoredResponse, error) {
	query := fmt.Sprintf(`
		SELECT key, route, request_hash, status, response, expires_at
		FROM idempotency_records WHERE key = %s`, s.ph(1))

	var r credential.StoredResponse
	var route sql.NullString
	var response []byte
	var expiresAt string
	err := s.db.QueryRowContext(ctx, query, key).
		Scan(&r.Key, &route, &r.RequestHash, &r.Status, &response, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("api: idempotency get: %w", err)
	}
	r.Route = route.String
	r.Response = response
	r.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("api: idempotency expires_at: %w", err)
	}
	if time.Now().After(r.ExpiresAt) {
		return nil, nil
	}
	return &r, nil
}

// Put upserts the record for key.
func (s *SQLIdempotencyStore) Put(ctx context.Context, key string, r *credential.StoredResponse) error {
	query := fmt.Sprintf(`
		INSERT INTO idempotency_records (key, route, request_hash, status, response, expires_at)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT(key) DO UPDATE SET
			route = excluded.route,
			request_hash = excluded.request_hash,
			status = excluded.status,
			response = excluded.response,
			expires_at = excluded.expires_at`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))

	_, err := s.db.ExecContext(ctx, query,
		key, r.Route, r.RequestHash, r.Status, r.Response,
		r.ExpiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("api: idempotency put: %w", err)
	}
	return nil
}

// RedisIdempotencyStore keeps idempotency records in Redis with TTL-based
// expiry.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore wraps a Redis client.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: "corsair:idem:"}
}

// Get returns the record for key, nil on miss.
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*credential.StoredResponse, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("api: redis idempotency get: %w", err)
	}
	var r credential.StoredResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("api: redis idempotency decode: %w", err)
	}
	return &r, nil
}

// Put stores the record with a TTL matching its expiry.
func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, r *credential.StoredResponse) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("api: redis idempotency encode: %w", err)
	}
	ttl := time.Until(r.ExpiresAt)
	if ttl <= 0 {
		return s.client.Del(ctx, s.prefix+key).Err()
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("api: redis idempotency set: %w", err)
	}
	return nil
}
