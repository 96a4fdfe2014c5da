package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/repository"
)

// Schema creates the tables the store reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_id      TEXT PRIMARY KEY,
	pool_address TEXT NOT NULL,
	pool_type    TEXT NOT NULL,
	snapshot     JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pools_address_idx ON pools (pool_address);
`

// Store serves pool snapshots from Postgres. It satisfies
// repository.PoolRepository.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// UpsertPools inserts or replaces pool snapshots.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		snapshot, err := json.Marshal(pool)
		if err != nil {
			return fmt.Errorf("marshal pool %s: %w", pool.ID, err)
		}
		batch.Queue(`
			INSERT INTO pools (pool_id, pool_address, pool_type, snapshot, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				pool_address = EXCLUDED.pool_address,
				pool_type = EXCLUDED.pool_type,
				snapshot = EXCLUDED.snapshot,
				updated_at = now()
		`,
			model.NormalizeID(pool.ID),
			addressKey(pool.Address),
			pool.PoolType.String(),
			snapshot,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Find(ctx context.Context, id string) (model.Pool, bool, error) {
	return s.FindBy(ctx, repository.AttributeID, id)
}

func (s *Store) FindBy(ctx context.Context, attr repository.Attribute, value string) (model.Pool, bool, error) {
	var query, arg string
	switch attr {
	case repository.AttributeID:
		query, arg = `SELECT snapshot FROM pools WHERE pool_id=$1`, model.NormalizeID(value)
	case repository.AttributeAddress:
		if !common.IsHexAddress(value) {
			return model.Pool{}, false, nil
		}
		query, arg = `SELECT snapshot FROM pools WHERE pool_address=$1 LIMIT 1`, addressKey(common.HexToAddress(value))
	default:
		return model.Pool{}, false, fmt.Errorf("unsupported attribute %q", attr)
	}

	var snapshot []byte
	if err := s.pool.QueryRow(ctx, query, arg).Scan(&snapshot); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pool{}, false, nil
		}
		return model.Pool{}, false, err
	}
	var pool model.Pool
	if err := json.Unmarshal(snapshot, &pool); err != nil {
		return model.Pool{}, false, fmt.Errorf("decode pool %s: %w", value, err)
	}
	return pool, true, nil
}

func addressKey(address common.Address) string {
	return strings.ToLower(address.Hex())
}
