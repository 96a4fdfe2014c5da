package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL             string
	Relayer            string
	WrappedNativeAsset string
	PoolsFile          string
	PgDSN              string
	Simulation         string
	TenderlyURL        string
	TenderlyAccessKey  string
	TenderlyBlock      uint64
	SimulationTimeout  time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	SlippageBps        int64
	PrefetchWorkers    int
	Out                string
	MetricsFile        string
	LogLevel           string
}

// Load merges .env, config file, environment variables, and flags into
// Config. Variables already set in the environment win over .env.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("simulation", "vault-model")
	v.SetDefault("simulation-timeout", 30*time.Second)
	v.SetDefault("max-retries", 2)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("slippage-bps", int64(50))
	v.SetDefault("prefetch-workers", 4)
	v.SetDefault("out", "./data/artifacts.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:             v.GetString("rpc"),
		Relayer:            v.GetString("relayer"),
		WrappedNativeAsset: v.GetString("wrapped-native"),
		PoolsFile:          v.GetString("pools-file"),
		PgDSN:              v.GetString("pg-dsn"),
		Simulation:         v.GetString("simulation"),
		TenderlyURL:        v.GetString("tenderly-url"),
		TenderlyAccessKey:  v.GetString("tenderly-access-key"),
		TenderlyBlock:      v.GetUint64("tenderly-block"),
		SimulationTimeout:  v.GetDuration("simulation-timeout"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryBackoff:       v.GetDuration("retry-backoff"),
		SlippageBps:        v.GetInt64("slippage-bps"),
		PrefetchWorkers:    v.GetInt("prefetch-workers"),
		Out:                v.GetString("out"),
		MetricsFile:        v.GetString("metrics-file"),
		LogLevel:           v.GetString("log-level"),
	}

	return cfg, nil
}

// StringSlice reads a list flag or key that may also arrive as one comma
// separated string from the environment.
func StringSlice(flags *pflag.FlagSet, key string) []string {
	v := viper.New()
	v.SetEnvPrefix("PLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if f := flags.Lookup(key); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
	return getStringSlice(v, key)
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
