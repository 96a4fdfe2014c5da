package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nestedLiquidity/internal/config"
	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/repository"
	"nestedLiquidity/internal/storage/postgres"
)

type nodeSummary struct {
	Index              int            `json:"index"`
	Address            common.Address `json:"address"`
	ID                 string         `json:"id"`
	Kind               string         `json:"kind"`
	PoolType           string         `json:"pool_type,omitempty"`
	JoinAction         string         `json:"join_action"`
	ExitAction         string         `json:"exit_action"`
	Parent             int            `json:"parent"`
	Children           []int          `json:"children"`
	ProportionOfParent *big.Int       `json:"proportion_of_parent"`
	PriceRate          *big.Int       `json:"price_rate"`
	IsLeaf             bool           `json:"is_leaf"`
}

func summarize(g *graph.Graph) []nodeSummary {
	out := make([]nodeSummary, 0, len(g.Nodes))
	for _, i := range g.OrderByBfs() {
		n := g.Node(i)
		s := nodeSummary{
			Index:              n.Index,
			Address:            n.Address,
			ID:                 n.ID,
			Kind:               n.Kind.String(),
			JoinAction:         string(n.JoinAction),
			ExitAction:         string(n.ExitAction),
			Parent:             n.Parent,
			Children:           n.Children,
			ProportionOfParent: n.ProportionOfParent,
			PriceRate:          n.PriceRate,
			IsLeaf:             n.IsLeaf,
		}
		if n.Kind == graph.KindPool {
			s.PoolType = n.PoolType.String()
		}
		out = append(out, s)
	}
	return out
}

func runGraph(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	poolID := mustString(cmd, "pool")
	if poolID == "" {
		return fmt.Errorf("pool id is required")
	}
	unwrap, err := parseAddresses(config.StringSlice(cmd.Flags(), "unwrap"))
	if err != nil {
		return err
	}

	g, err := a.builder.BuildGraphFromRootPool(ctx, poolID, unwrap)
	if err != nil {
		return err
	}
	a.logger.Info("graph built", zap.String("pool_id", poolID), zap.Int("nodes", len(g.Nodes)))
	return printJSON(summarize(g))
}

func runImportPools(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgFile := mustString(cmd, "config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	in := mustString(cmd, "in")
	if in == "" {
		in = cfg.PoolsFile
	}
	if in == "" {
		return fmt.Errorf("in is required")
	}
	if cfg.PgDSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}

	pools, err := repository.LoadFile(in)
	if err != nil {
		return err
	}
	store, err := postgres.NewStore(ctx, cfg.PgDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if err := store.UpsertPools(ctx, pools); err != nil {
		return err
	}
	logger.Info("pools imported", zap.String("path", in), zap.Int("pools", len(pools)))
	return nil
}
