package graph

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/poolmath"
	"nestedLiquidity/internal/relayer"
	"nestedLiquidity/internal/repository"
)

// BuilderConfig tunes graph construction.
type BuilderConfig struct {
	// PrefetchWorkers bounds concurrent repository lookups made to warm a
	// cache before the serial descent. Zero disables prefetching.
	PrefetchWorkers int
}

// Builder resolves a root pool into a Graph.
type Builder struct {
	repo   repository.PoolRepository
	cfg    BuilderConfig
	logger *zap.Logger
}

func NewBuilder(repo repository.PoolRepository, cfg BuilderConfig, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{repo: repo, cfg: cfg, logger: logger}
}

// BuildGraphFromRootPool builds the tree below poolID. Linear pools whose
// main token is in tokensToUnwrap route through their wrapped token.
func (b *Builder) BuildGraphFromRootPool(ctx context.Context, poolID string, tokensToUnwrap []common.Address) (*Graph, error) {
	root, ok, err := b.repo.Find(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("find root pool %s: %w", poolID, err)
	}
	if !ok {
		return nil, fmt.Errorf("root pool %s: %w", poolID, model.ErrPoolDoesNotExist)
	}

	if b.cfg.PrefetchWorkers > 0 {
		if err := b.prefetch(ctx, root); err != nil {
			return nil, err
		}
	}

	unwrap := make(map[common.Address]bool, len(tokensToUnwrap))
	for _, token := range tokensToUnwrap {
		unwrap[token] = true
	}

	g := &Graph{Pools: make(map[string]model.Pool)}
	rootIndex, err := b.buildFromPool(ctx, g, root.Address, NoParent, fixedpoint.One, unwrap)
	if err != nil {
		return nil, err
	}
	g.Root = rootIndex
	if err := CheckSize(g); err != nil {
		return nil, fmt.Errorf("root pool %s: %w", poolID, err)
	}

	b.logger.Debug("graph built",
		zap.String("pool_id", poolID),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("pools", len(g.Pools)),
	)
	return g, nil
}

// CheckSize rejects graphs whose node indexes would collide in the chained
// reference keys of a multicall.
func CheckSize(g *Graph) error {
	if len(g.Nodes) >= relayer.MaxPathNodes {
		return fmt.Errorf("%d nodes, at most %d: %w", len(g.Nodes), relayer.MaxPathNodes-1, model.ErrGraphTooLarge)
	}
	return nil
}

func (b *Builder) buildFromPool(
	ctx context.Context,
	g *Graph,
	address common.Address,
	parent int,
	proportion *big.Int,
	unwrap map[common.Address]bool,
) (int, error) {
	pool, ok, err := b.repo.FindBy(ctx, repository.AttributeAddress, address.Hex())
	if err != nil {
		return 0, fmt.Errorf("find pool %s: %w", address.Hex(), err)
	}
	if !ok {
		if parent == NoParent {
			return 0, fmt.Errorf("pool %s: %w", address.Hex(), model.ErrPoolDoesNotExist)
		}
		parentPool, _ := g.Pool(g.Node(parent))
		return b.addInput(g, address, parent, proportion, parentPool), nil
	}

	joinAction, exitAction, ok := pool.PoolType.Actions()
	if !ok {
		return 0, fmt.Errorf("pool %s type %s: %w", pool.ID, pool.PoolType, model.ErrUnsupportedPoolType)
	}

	spotPrices, err := poolmath.SpotPrices(pool)
	if err != nil {
		return 0, err
	}

	decimals := uint8(18)
	if bpt := pool.BptIndex(); bpt >= 0 {
		decimals = pool.Tokens[bpt].Decimals
	}

	index := g.Add(Node{
		Index:              len(g.Nodes),
		Address:            pool.Address,
		ID:                 pool.ID,
		Kind:               KindPool,
		PoolType:           pool.PoolType,
		JoinAction:         joinAction,
		ExitAction:         exitAction,
		Parent:             parent,
		ProportionOfParent: proportion,
		Decimals:           decimals,
		Balance:            fixedpoint.OrZero(pool.TotalShares),
		PriceRate:          big.NewInt(1e18),
		SpotPrices:         spotPrices,
	})
	g.Pools[model.NormalizeID(pool.ID)] = pool

	if pool.PoolType.IsLinear() {
		return index, b.addLinearChildren(g, index, pool, unwrap)
	}

	total := new(big.Int)
	balances := make([]*big.Int, len(pool.Tokens))
	for i, token := range pool.Tokens {
		balances[i] = poolmath.Upscale(fixedpoint.OrZero(token.Balance), poolmath.DecimalScalingFactor(token))
		if token.Address != pool.Address {
			total.Add(total, balances[i])
		}
	}

	for i, token := range pool.Tokens {
		if token.Address == pool.Address {
			continue
		}
		var share *big.Int
		switch {
		case pool.PoolType == model.PoolTypeWeighted:
			share = fixedpoint.OrZero(token.Weight)
		case total.Sign() == 0:
			share = new(big.Int)
		default:
			share = new(big.Int).Mul(balances[i], fixedpoint.One)
			share.Quo(share, total)
		}
		childProportion := new(big.Int).Mul(share, proportion)
		childProportion.Quo(childProportion, fixedpoint.One)

		child, err := b.buildFromPool(ctx, g, token.Address, index, childProportion, unwrap)
		if err != nil {
			return 0, err
		}
		g.Nodes[index].Children = append(g.Nodes[index].Children, child)
	}
	return index, nil
}

func (b *Builder) addLinearChildren(g *Graph, index int, pool model.Pool, unwrap map[common.Address]bool) error {
	main, ok := pool.MainToken()
	if !ok {
		return fmt.Errorf("linear pool %s has no main token: %w", pool.ID, model.ErrUnsupportedPoolType)
	}
	proportion := g.Nodes[index].ProportionOfParent

	if !unwrap[main.Address] {
		child := b.addInput(g, main.Address, index, proportion, pool)
		g.Nodes[index].Children = append(g.Nodes[index].Children, child)
		return nil
	}

	wrapped, ok := pool.WrappedToken()
	if !ok {
		return fmt.Errorf("linear pool %s has no wrapped token: %w", pool.ID, model.ErrUnsupportedPoolType)
	}
	wrappedIndex := g.Add(Node{
		Index:              len(g.Nodes),
		Address:            wrapped.Address,
		ID:                 TokenNodeID,
		Kind:               KindWrappedToken,
		PoolType:           pool.PoolType,
		JoinAction:         model.JoinActionWrap,
		ExitAction:         model.ExitActionUnwrap,
		Parent:             index,
		ProportionOfParent: proportion,
		Decimals:           wrapped.Decimals,
		Balance:            fixedpoint.OrZero(wrapped.Balance),
		PriceRate:          rateOrOne(wrapped.PriceRate),
	})
	g.Nodes[index].Children = append(g.Nodes[index].Children, wrappedIndex)

	input := b.addInput(g, main.Address, wrappedIndex, proportion, pool)
	g.Nodes[wrappedIndex].Children = append(g.Nodes[wrappedIndex].Children, input)
	return nil
}

// addInput appends a leaf token node. Balance, decimals and rate come from
// the owning pool's slot for the token.
func (b *Builder) addInput(g *Graph, address common.Address, parent int, proportion *big.Int, owner model.Pool) int {
	decimals := uint8(18)
	balance := new(big.Int)
	rate := big.NewInt(1e18)
	if i := owner.TokenIndex(address); i >= 0 {
		token := owner.Tokens[i]
		decimals = token.Decimals
		balance = fixedpoint.OrZero(token.Balance)
		rate = rateOrOne(token.PriceRate)
	}
	return g.Add(Node{
		Index:              len(g.Nodes),
		Address:            address,
		ID:                 TokenNodeID,
		Kind:               KindInput,
		JoinAction:         model.JoinActionInput,
		ExitAction:         model.ExitActionOutput,
		Parent:             parent,
		ProportionOfParent: proportion,
		IsLeaf:             true,
		Decimals:           decimals,
		Balance:            balance,
		PriceRate:          rate,
	})
}

// prefetch resolves every pool reachable from root level by level with
// bounded concurrency so the serial descent is served from cache.
func (b *Builder) prefetch(ctx context.Context, root model.Pool) error {
	level := []model.Pool{root}
	seen := map[common.Address]bool{root.Address: true}

	for len(level) > 0 {
		var addresses []common.Address
		for _, pool := range level {
			if pool.PoolType.IsLinear() {
				continue
			}
			for _, token := range pool.Tokens {
				if token.Address == pool.Address || seen[token.Address] {
					continue
				}
				seen[token.Address] = true
				addresses = append(addresses, token.Address)
			}
		}

		found := make([]*model.Pool, len(addresses))
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(b.cfg.PrefetchWorkers)
		for i, address := range addresses {
			i, address := i, address
			group.Go(func() error {
				pool, ok, err := b.repo.FindBy(groupCtx, repository.AttributeAddress, address.Hex())
				if err != nil {
					return fmt.Errorf("prefetch %s: %w", address.Hex(), err)
				}
				if ok {
					found[i] = &pool
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}

		level = level[:0]
		for _, pool := range found {
			if pool != nil {
				level = append(level, *pool)
			}
		}
	}
	return nil
}

func rateOrOne(rate *big.Int) *big.Int {
	if rate == nil || rate.Sign() == 0 {
		return big.NewInt(1e18)
	}
	return rate
}
