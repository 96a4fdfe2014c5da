// Package repository resolves pool snapshots by id or address.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/model"
)

// Attribute names a pool field that FindBy can match on.
type Attribute string

const (
	AttributeID      Attribute = "id"
	AttributeAddress Attribute = "address"
)

// PoolRepository is a read-only pool source. found is false when nothing
// matches; err is reserved for lookup failures.
type PoolRepository interface {
	Find(ctx context.Context, id string) (model.Pool, bool, error)
	FindBy(ctx context.Context, attr Attribute, value string) (model.Pool, bool, error)
}

// MemoryRepository serves pools from an in-memory snapshot.
type MemoryRepository struct {
	byID      map[string]model.Pool
	byAddress map[common.Address]model.Pool
}

func NewMemoryRepository(pools []model.Pool) *MemoryRepository {
	repo := &MemoryRepository{
		byID:      make(map[string]model.Pool, len(pools)),
		byAddress: make(map[common.Address]model.Pool, len(pools)),
	}
	for _, pool := range pools {
		repo.byID[model.NormalizeID(pool.ID)] = pool
		repo.byAddress[pool.Address] = pool
	}
	return repo
}

func (r *MemoryRepository) Find(_ context.Context, id string) (model.Pool, bool, error) {
	pool, ok := r.byID[model.NormalizeID(id)]
	if !ok {
		return model.Pool{}, false, nil
	}
	return pool.Clone(), true, nil
}

func (r *MemoryRepository) FindBy(ctx context.Context, attr Attribute, value string) (model.Pool, bool, error) {
	switch attr {
	case AttributeID:
		return r.Find(ctx, value)
	case AttributeAddress:
		if !common.IsHexAddress(value) {
			return model.Pool{}, false, nil
		}
		pool, ok := r.byAddress[common.HexToAddress(value)]
		if !ok {
			return model.Pool{}, false, nil
		}
		return pool.Clone(), true, nil
	default:
		return model.Pool{}, false, fmt.Errorf("unsupported attribute %q", attr)
	}
}

// Pools returns every pool in the snapshot.
func (r *MemoryRepository) Pools() []model.Pool {
	out := make([]model.Pool, 0, len(r.byID))
	for _, pool := range r.byID {
		out = append(out, pool.Clone())
	}
	return out
}

// LoadFile reads a JSON array of pools.
func LoadFile(path string) ([]model.Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pools file: %w", err)
	}
	var pools []model.Pool
	if err := json.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("parse pools file: %w", err)
	}
	for i, pool := range pools {
		if strings.TrimSpace(pool.ID) == "" {
			return nil, fmt.Errorf("pool %d: missing id", i)
		}
	}
	return pools, nil
}
