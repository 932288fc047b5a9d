package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"mirror-ledger/models"
)

const trailCountKey = "mirrorledger:trail_count"

// PostgresStore wraps PostgreSQL persistence with Redis caching for
// hot counters.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates a new PostgreSQL store with connection pooling
// and a Redis cache, configured from the environment.
func NewPostgres() (*PostgresStore, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "mirrorledger")
	password := getEnv("POSTGRES_PASSWORD", "mirrorledger")
	dbname := getEnv("POSTGRES_DB", "mirrorledger")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	store := &PostgresStore{pool: pool, redis: redisClient}
	if err := store.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the pool and the Redis client.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return s.redis.Close()
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS leaders (
			id BIGINT PRIMARY KEY,
			address TEXT NOT NULL,
			max_followers_cap INT NOT NULL,
			follower_count INT NOT NULL,
			volume_in NUMERIC(78, 0) NOT NULL,
			active BOOLEAN NOT NULL,
			registered_block BIGINT NOT NULL,
			last_trail_block BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id BIGINT PRIMARY KEY,
			follower TEXT NOT NULL,
			leader TEXT NOT NULL,
			max_alloc NUMERIC(78, 0) NOT NULL,
			used_alloc NUMERIC(78, 0) NOT NULL,
			slippage_bps INT NOT NULL,
			opened_block BIGINT NOT NULL,
			active BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS replicas (
			id BIGINT PRIMARY KEY,
			follower TEXT NOT NULL,
			leader TEXT NOT NULL,
			token_in TEXT NOT NULL,
			token_out TEXT NOT NULL,
			amount_in NUMERIC(78, 0) NOT NULL,
			opened_block BIGINT NOT NULL,
			closed BOOLEAN NOT NULL,
			amount_out_on_close NUMERIC(78, 0)
		)`,
		`CREATE TABLE IF NOT EXISTS trails (
			id BIGINT PRIMARY KEY,
			leader TEXT NOT NULL,
			follower TEXT NOT NULL,
			token_in TEXT NOT NULL,
			token_out TEXT NOT NULL,
			amount_in NUMERIC(78, 0) NOT NULL,
			amount_out NUMERIC(78, 0) NOT NULL,
			block BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trails_leader ON trails(leader)`,
		`CREATE INDEX IF NOT EXISTS idx_trails_follower ON trails(follower)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration: %w", err)
		}
	}
	return nil
}

// SaveLeader upserts a leader profile snapshot.
func (s *PostgresStore) SaveLeader(ctx context.Context, p models.LeaderProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leaders (id, address, max_followers_cap, follower_count, volume_in, active, registered_block, last_trail_block)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			follower_count = EXCLUDED.follower_count,
			volume_in = EXCLUDED.volume_in,
			active = EXCLUDED.active,
			last_trail_block = EXCLUDED.last_trail_block`,
		p.ID, p.Address.Hex(), p.MaxFollowersCap, p.FollowerCount, p.VolumeIn.String(),
		p.Active, p.RegisteredBlock, p.LastTrailBlock)
	if err != nil {
		return fmt.Errorf("postgres: save leader %d: %w", p.ID, err)
	}
	return nil
}

// SaveSession upserts a session snapshot.
func (s *PostgresStore) SaveSession(ctx context.Context, m models.MirrorSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, follower, leader, max_alloc, used_alloc, slippage_bps, opened_block, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			used_alloc = EXCLUDED.used_alloc,
			active = EXCLUDED.active`,
		m.ID, m.Follower.Hex(), m.Leader.Hex(), m.MaxAlloc.String(), m.UsedAlloc.String(),
		m.SlippageBps, m.OpenedBlock, m.Active)
	if err != nil {
		return fmt.Errorf("postgres: save session %d: %w", m.ID, err)
	}
	return nil
}

// SaveReplica upserts a replica position snapshot.
func (s *PostgresStore) SaveReplica(ctx context.Context, r models.ReplicaPosition) error {
	var outOnClose interface{}
	if r.AmountOutOnClose != nil {
		outOnClose = r.AmountOutOnClose.String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replicas (id, follower, leader, token_in, token_out, amount_in, opened_block, closed, amount_out_on_close)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			closed = EXCLUDED.closed,
			amount_out_on_close = EXCLUDED.amount_out_on_close`,
		r.ID, r.Follower.Hex(), r.Leader.Hex(), r.TokenIn.Hex(), r.TokenOut.Hex(),
		r.AmountIn.String(), r.OpenedBlock, r.Closed, outOnClose)
	if err != nil {
		return fmt.Errorf("postgres: save replica %d: %w", r.ID, err)
	}
	return nil
}

// AppendTrail inserts an immutable trail record and bumps the cached
// count. The cache update is best effort.
func (s *PostgresStore) AppendTrail(ctx context.Context, rec models.TrailRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trails (id, leader, follower, token_in, token_out, amount_in, amount_out, block)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Leader.Hex(), rec.Follower.Hex(), rec.TokenIn.Hex(), rec.TokenOut.Hex(),
		rec.AmountIn.String(), rec.AmountOut.String(), rec.Block)
	if err != nil {
		return fmt.Errorf("postgres: append trail %d: %w", rec.ID, err)
	}
	s.redis.Incr(ctx, trailCountKey)
	return nil
}

// GetTrail loads one trail record by id.
func (s *PostgresStore) GetTrail(ctx context.Context, id uint64) (*models.TrailRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, leader, follower, token_in, token_out, amount_in::TEXT, amount_out::TEXT, block
		FROM trails WHERE id = $1`, id)
	rec, err := scanTrail(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: trail %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListLeaderTrails returns the most recent trails for a leader.
func (s *PostgresStore) ListLeaderTrails(ctx context.Context, leader common.Address, limit int) ([]models.TrailRecord, error) {
	return s.listTrails(ctx, "leader", leader, limit)
}

// ListFollowerTrails returns the most recent trails for a follower.
func (s *PostgresStore) ListFollowerTrails(ctx context.Context, follower common.Address, limit int) ([]models.TrailRecord, error) {
	return s.listTrails(ctx, "follower", follower, limit)
}

func (s *PostgresStore) listTrails(ctx context.Context, column string, addr common.Address, limit int) ([]models.TrailRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, leader, follower, token_in, token_out, amount_in::TEXT, amount_out::TEXT, block
		FROM trails WHERE %s = $1 ORDER BY id DESC LIMIT $2`, column)

	rows, err := s.pool.Query(ctx, query, addr.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trails: %w", err)
	}
	defer rows.Close()

	var out []models.TrailRecord
	for rows.Next() {
		rec, err := scanTrail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// TrailCount reads the cached count, falling back to the database on a
// cache miss.
func (s *PostgresStore) TrailCount(ctx context.Context) (int, error) {
	if raw, err := s.redis.Get(ctx, trailCountKey).Result(); err == nil {
		if n, err := strconv.Atoi(raw); err == nil {
			return n, nil
		}
	}

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: trail count: %w", err)
	}
	s.redis.Set(ctx, trailCountKey, n, 0)
	return n, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
