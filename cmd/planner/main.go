package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "planner",
		Short:        "Nested pool join and exit planner",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("pools-file", "", "JSON pool snapshot file")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN of the pool repository")
	root.PersistentFlags().Int("prefetch-workers", 4, "concurrent pool lookups while building a graph (0 disables)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Plan a join into a nested pool",
		RunE:  runJoin,
	}
	addPlanFlags(joinCmd)
	joinCmd.Flags().StringSlice("tokens", nil, "input tokens (comma-separated, native for the native asset)")
	joinCmd.Flags().StringSlice("amounts", nil, "raw input amounts (comma-separated)")
	joinCmd.Flags().StringSlice("wrap", nil, "main tokens to wrap before joining their linear pool")
	joinCmd.Flags().String("wrapped-native", "", "wrapped native asset address")
	root.AddCommand(joinCmd)

	exitCmd := &cobra.Command{
		Use:   "exit",
		Short: "Plan an exit from a nested pool",
		RunE:  runExit,
	}
	addPlanFlags(exitCmd)
	exitCmd.Flags().String("amount", "", "raw BPT amount to exit")
	exitCmd.Flags().StringSlice("unwrap", nil, "main tokens to receive through their wrapper")
	exitCmd.Flags().Bool("info", false, "only estimate amounts out with the vault model")
	exitCmd.Flags().Bool("proportional", false, "exit every pool for all of its tokens in one pass")
	root.AddCommand(exitCmd)

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the pool graph below a root pool",
		RunE:  runGraph,
	}
	graphCmd.Flags().String("pool", "", "root pool id")
	graphCmd.Flags().StringSlice("unwrap", nil, "main tokens to route through their wrapper")
	root.AddCommand(graphCmd)

	importCmd := &cobra.Command{
		Use:   "import-pools",
		Short: "Load a JSON pool snapshot into Postgres",
		RunE:  runImportPools,
	}
	importCmd.Flags().String("in", "", "input JSON pool snapshot")
	importCmd.Flags().Bool("migrate", true, "create tables before importing")
	root.AddCommand(importCmd)

	return root
}

func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().String("pool", "", "root pool id")
	cmd.Flags().String("user", "", "address funding and receiving the multicall")
	cmd.Flags().String("relayer", "", "batch relayer address")
	cmd.Flags().String("authorisation", "", "signed relayer approval (hex); prepends setRelayerApproval")
	cmd.Flags().Int64("slippage-bps", 50, "slippage tolerance in basis points")
	cmd.Flags().String("rpc", "", "RPC URL for static simulation")
	cmd.Flags().String("simulation", "vault-model", "simulation backend (vault-model, static, tenderly)")
	cmd.Flags().String("tenderly-url", "", "Tenderly node gateway URL")
	cmd.Flags().String("tenderly-access-key", "", "Tenderly access key")
	cmd.Flags().Uint64("tenderly-block", 0, "fork block, 0 means latest")
	cmd.Flags().Duration("simulation-timeout", 30*time.Second, "timeout of one simulation call")
	cmd.Flags().Int("max-retries", 2, "retries of remote simulation on transport errors")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("out", "./data/artifacts.jsonl", "output artifacts JSONL path")
	cmd.Flags().String("metrics-file", "", "optional Prometheus textfile path")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
