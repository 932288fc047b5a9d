package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"mirror-ledger/models"
)

// Store wraps SQLite persistence for the trade journal. Amounts are
// stored as decimal text so wei values never lose precision.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	store := &Store{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) runMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS leaders (
			id INTEGER PRIMARY KEY,
			address TEXT NOT NULL,
			max_followers_cap INTEGER NOT NULL,
			follower_count INTEGER NOT NULL,
			volume_in TEXT NOT NULL,
			active INTEGER NOT NULL,
			registered_block INTEGER NOT NULL,
			last_trail_block INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			follower TEXT NOT NULL,
			leader TEXT NOT NULL,
			max_alloc TEXT NOT NULL,
			used_alloc TEXT NOT NULL,
			slippage_bps INTEGER NOT NULL,
			opened_block INTEGER NOT NULL,
			active INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS replicas (
			id INTEGER PRIMARY KEY,
			follower TEXT NOT NULL,
			leader TEXT NOT NULL,
			token_in TEXT NOT NULL,
			token_out TEXT NOT NULL,
			amount_in TEXT NOT NULL,
			opened_block INTEGER NOT NULL,
			closed INTEGER NOT NULL,
			amount_out_on_close TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS trails (
			id INTEGER PRIMARY KEY,
			leader TEXT NOT NULL,
			follower TEXT NOT NULL,
			token_in TEXT NOT NULL,
			token_out TEXT NOT NULL,
			amount_in TEXT NOT NULL,
			amount_out TEXT NOT NULL,
			block INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trails_leader ON trails(leader)`,
		`CREATE INDEX IF NOT EXISTS idx_trails_follower ON trails(follower)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migration: %w", err)
		}
	}
	return nil
}

// SaveLeader upserts a leader profile snapshot.
func (s *Store) SaveLeader(ctx context.Context, p models.LeaderProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaders (id, address, max_followers_cap, follower_count, volume_in, active, registered_block, last_trail_block)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			follower_count = excluded.follower_count,
			volume_in = excluded.volume_in,
			active = excluded.active,
			last_trail_block = excluded.last_trail_block`,
		p.ID, p.Address.Hex(), p.MaxFollowersCap, p.FollowerCount, p.VolumeIn.String(),
		boolToInt(p.Active), p.RegisteredBlock, p.LastTrailBlock)
	if err != nil {
		return fmt.Errorf("storage: save leader %d: %w", p.ID, err)
	}
	return nil
}

// SaveSession upserts a session snapshot.
func (s *Store) SaveSession(ctx context.Context, m models.MirrorSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, follower, leader, max_alloc, used_alloc, slippage_bps, opened_block, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			used_alloc = excluded.used_alloc,
			active = excluded.active`,
		m.ID, m.Follower.Hex(), m.Leader.Hex(), m.MaxAlloc.String(), m.UsedAlloc.String(),
		m.SlippageBps, m.OpenedBlock, boolToInt(m.Active))
	if err != nil {
		return fmt.Errorf("storage: save session %d: %w", m.ID, err)
	}
	return nil
}

// SaveReplica upserts a replica position snapshot.
func (s *Store) SaveReplica(ctx context.Context, r models.ReplicaPosition) error {
	var outOnClose interface{}
	if r.AmountOutOnClose != nil {
		outOnClose = r.AmountOutOnClose.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replicas (id, follower, leader, token_in, token_out, amount_in, opened_block, closed, amount_out_on_close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			closed = excluded.closed,
			amount_out_on_close = excluded.amount_out_on_close`,
		r.ID, r.Follower.Hex(), r.Leader.Hex(), r.TokenIn.Hex(), r.TokenOut.Hex(),
		r.AmountIn.String(), r.OpenedBlock, boolToInt(r.Closed), outOnClose)
	if err != nil {
		return fmt.Errorf("storage: save replica %d: %w", r.ID, err)
	}
	return nil
}

// AppendTrail inserts an immutable trail record.
func (s *Store) AppendTrail(ctx context.Context, rec models.TrailRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trails (id, leader, follower, token_in, token_out, amount_in, amount_out, block)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Leader.Hex(), rec.Follower.Hex(), rec.TokenIn.Hex(), rec.TokenOut.Hex(),
		rec.AmountIn.String(), rec.AmountOut.String(), rec.Block)
	if err != nil {
		return fmt.Errorf("storage: append trail %d: %w", rec.ID, err)
	}
	return nil
}

// GetTrail loads one trail record by id.
func (s *Store) GetTrail(ctx context.Context, id uint64) (*models.TrailRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, leader, follower, token_in, token_out, amount_in, amount_out, block
		FROM trails WHERE id = ?`, id)
	rec, err := scanTrail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage: trail %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListLeaderTrails returns the most recent trails for a leader.
func (s *Store) ListLeaderTrails(ctx context.Context, leader common.Address, limit int) ([]models.TrailRecord, error) {
	return s.listTrails(ctx, "leader", leader, limit)
}

// ListFollowerTrails returns the most recent trails for a follower.
func (s *Store) ListFollowerTrails(ctx context.Context, follower common.Address, limit int) ([]models.TrailRecord, error) {
	return s.listTrails(ctx, "follower", follower, limit)
}

func (s *Store) listTrails(ctx context.Context, column string, addr common.Address, limit int) ([]models.TrailRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, leader, follower, token_in, token_out, amount_in, amount_out, block
		FROM trails WHERE %s = ? ORDER BY id DESC LIMIT ?`, column)

	rows, err := s.db.QueryContext(ctx, query, addr.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list trails: %w", err)
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

// TrailCount returns the number of journaled trails.
func (s *Store) TrailCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: trail count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrail(row rowScanner) (*models.TrailRecord, error) {
	var (
		rec                       models.TrailRecord
		leader, follower          string
		tokenIn, tokenOut         string
		amountInRaw, amountOutRaw string
	)
	if err := row.Scan(&rec.ID, &leader, &follower, &tokenIn, &tokenOut, &amountInRaw, &amountOutRaw, &rec.Block); err != nil {
		return nil, err
	}
	rec.Leader = common.HexToAddress(leader)
	rec.Follower = common.HexToAddress(follower)
	rec.TokenIn = common.HexToAddress(tokenIn)
	rec.TokenOut = common.HexToAddress(tokenOut)

	var err error
	if rec.AmountIn, err = parseAmount(amountInRaw); err != nil {
		return nil, err
	}
	if rec.AmountOut, err = parseAmount(amountOutRaw); err != nil {
		return nil, err
	}
	return &rec, nil
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("storage: bad amount %q", raw)
	}
	return v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
