package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nestedLiquidity/internal/chain"
	"nestedLiquidity/internal/config"
	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/metrics"
	"nestedLiquidity/internal/repository"
	"nestedLiquidity/internal/simulation"
	"nestedLiquidity/internal/storage"
	"nestedLiquidity/internal/storage/postgres"
)

// app holds everything a planning command needs. close releases what was
// opened, in reverse order.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.PlannerMetrics
	builder  *graph.Builder
	sim      simulation.Simulator
	sink     storage.Sink
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if err := metrics.WriteTextfile(a.cfg.MetricsFile, a.registry); err != nil {
		a.logger.Warn("metrics textfile", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// newApp loads configuration and wires the repository, graph builder and,
// when withSimulation is set, the configured simulation backend.
func newApp(ctx context.Context, cmd *cobra.Command, withSimulation bool) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		sink:     storage.NewJsonlStorage(cfg.Out),
	}
	a.metrics = metrics.New(a.registry)

	repo, err := a.openRepository(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.builder = graph.NewBuilder(
		repository.NewCachedRepository(repo, repository.NewCache()),
		graph.BuilderConfig{PrefetchWorkers: cfg.PrefetchWorkers},
		logger,
	)

	if withSimulation {
		if a.sim, err = a.openSimulator(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openRepository(ctx context.Context) (repository.PoolRepository, error) {
	switch {
	case a.cfg.PgDSN != "":
		store, err := postgres.NewStore(ctx, a.cfg.PgDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case a.cfg.PoolsFile != "":
		pools, err := repository.LoadFile(a.cfg.PoolsFile)
		if err != nil {
			return nil, err
		}
		a.logger.Info("pool snapshot loaded", zap.String("path", a.cfg.PoolsFile), zap.Int("pools", len(pools)))
		return repository.NewMemoryRepository(pools), nil
	default:
		return nil, fmt.Errorf("pools-file or pg-dsn is required")
	}
}

func (a *app) openSimulator(ctx context.Context) (simulation.Simulator, error) {
	deps := simulation.Deps{Logger: a.logger, Metrics: a.metrics}
	if a.cfg.RPCURL != "" {
		client, err := chain.NewClient(ctx, a.cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("connect rpc: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		chainID, err := client.GetChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		a.logger.Info("rpc connected", zap.String("chain_id", chainID.String()))
		deps.Caller = client
	}

	sim, err := simulation.New(ctx, simulation.Config{
		Backend: simulation.Backend(a.cfg.Simulation),
		Tenderly: simulation.TenderlyConfig{
			URL:         a.cfg.TenderlyURL,
			AccessKey:   a.cfg.TenderlyAccessKey,
			BlockNumber: a.cfg.TenderlyBlock,
		},
		Retry: simulation.RetryConfig{
			MaxRetries: a.cfg.MaxRetries,
			BaseDelay:  a.cfg.RetryBackoff,
		},
	}, deps)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { simulation.Close(sim) })
	return &timeoutSimulator{next: sim, timeout: a.cfg.SimulationTimeout}, nil
}

// timeoutSimulator bounds every simulation call. The planners themselves
// only honour the caller's context.
type timeoutSimulator struct {
	next    simulation.Simulator
	timeout time.Duration
}

func (s *timeoutSimulator) Simulate(ctx context.Context, req simulation.Request) ([]*big.Int, error) {
	if s.timeout <= 0 {
		return s.next.Simulate(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Simulate(ctx, req)
}
