package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nestedLiquidity/internal/config"
	"nestedLiquidity/internal/exits"
	"nestedLiquidity/internal/joins"
	"nestedLiquidity/internal/storage"
)

func runJoin(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	poolID, _ := cmd.Flags().GetString("pool")
	if poolID == "" {
		return fmt.Errorf("pool id is required")
	}
	user, err := parseAddress(mustString(cmd, "user"), "user")
	if err != nil {
		return err
	}
	relayer, err := parseAddress(a.cfg.Relayer, "relayer")
	if err != nil {
		return err
	}
	tokensIn, err := parseAddresses(config.StringSlice(cmd.Flags(), "tokens"))
	if err != nil {
		return err
	}
	amountsIn, err := parseAmounts(config.StringSlice(cmd.Flags(), "amounts"))
	if err != nil {
		return err
	}
	wrap, err := parseAddresses(config.StringSlice(cmd.Flags(), "wrap"))
	if err != nil {
		return err
	}
	authorisation, err := parseBytes(mustString(cmd, "authorisation"))
	if err != nil {
		return err
	}

	cfg := joins.Config{Relayer: relayer}
	if a.cfg.WrappedNativeAsset != "" {
		if cfg.WrappedNativeAsset, err = parseAddress(a.cfg.WrappedNativeAsset, "wrapped-native"); err != nil {
			return err
		}
	}
	joiner := joins.New(cfg, a.builder, a.sim, a.logger, a.metrics)

	a.logger.Info("join start",
		zap.String("pool_id", poolID),
		zap.Int("tokens", len(tokensIn)),
		zap.String("simulation", a.cfg.Simulation),
		zap.Int64("slippage_bps", a.cfg.SlippageBps),
	)
	artifact, err := joiner.BuildJoin(ctx, joins.Params{
		PoolID:        poolID,
		TokensIn:      tokensIn,
		AmountsIn:     amountsIn,
		User:          user,
		SlippageBps:   big.NewInt(a.cfg.SlippageBps),
		Authorisation: authorisation,
		WrapTokens:    wrap,
	})
	if err != nil {
		return err
	}
	a.logger.Info("join planned",
		zap.String("expected_out", artifact.ExpectedOut.String()),
		zap.String("min_out", artifact.MinOut.String()),
		zap.String("price_impact", artifact.PriceImpact.String()),
	)
	record, err := storage.JoinRecord(poolID, artifact, time.Now())
	if err != nil {
		return err
	}
	return emit(a, record)
}

func runExit(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	poolID, _ := cmd.Flags().GetString("pool")
	if poolID == "" {
		return fmt.Errorf("pool id is required")
	}
	user, err := parseAddress(mustString(cmd, "user"), "user")
	if err != nil {
		return err
	}
	relayer, err := parseAddress(a.cfg.Relayer, "relayer")
	if err != nil {
		return err
	}
	amounts, err := parseAmounts([]string{mustString(cmd, "amount")})
	if err != nil {
		return err
	}
	if len(amounts) != 1 {
		return fmt.Errorf("amount is required")
	}
	unwrap, err := parseAddresses(config.StringSlice(cmd.Flags(), "unwrap"))
	if err != nil {
		return err
	}
	authorisation, err := parseBytes(mustString(cmd, "authorisation"))
	if err != nil {
		return err
	}

	exiter := exits.New(exits.Config{Relayer: relayer}, a.builder, a.sim, a.logger, a.metrics)
	proportional, _ := cmd.Flags().GetBool("proportional")
	params := exits.Params{
		PoolID:         poolID,
		AmountIn:       amounts[0],
		User:           user,
		SlippageBps:    big.NewInt(a.cfg.SlippageBps),
		Authorisation:  authorisation,
		TokensToUnwrap: unwrap,
		Proportional:   proportional,
	}

	a.logger.Info("exit start",
		zap.String("pool_id", poolID),
		zap.String("amount_in", params.AmountIn.String()),
		zap.Bool("proportional", proportional),
		zap.String("simulation", a.cfg.Simulation),
	)
	if info, _ := cmd.Flags().GetBool("info"); info {
		estimate, err := exiter.ExitInfo(ctx, params)
		if err != nil {
			return err
		}
		return printJSON(estimate)
	}

	artifact, err := exiter.BuildExit(ctx, params)
	if err != nil {
		return err
	}
	a.logger.Info("exit planned",
		zap.Int("tokens_out", len(artifact.TokensOut)),
		zap.Int("unwrapped", len(artifact.TokensToUnwrap)),
		zap.String("price_impact", artifact.PriceImpact.String()),
	)
	record, err := storage.ExitRecord(poolID, artifact, time.Now())
	if err != nil {
		return err
	}
	return emit(a, record)
}

// emit appends the record to the output file and prints its artifact.
func emit(a *app, record storage.Record) error {
	if err := a.sink.PutRecords([]storage.Record{record}); err != nil {
		return err
	}
	a.logger.Debug("artifact stored",
		zap.String("operation", string(record.Operation)),
		zap.Int("calls", record.CallCount),
	)
	return printJSON(record.Artifact)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
