package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestedLiquidity/internal/fixtures"
	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/repository"
)

func writePools(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(fixtures.All())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pools.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestSummarizeBoosted(t *testing.T) {
	builder := graph.NewBuilder(repository.NewMemoryRepository(fixtures.All()), graph.BuilderConfig{}, nil)
	g, err := builder.BuildGraphFromRootPool(context.Background(), fixtures.BbaUSDID, nil)
	require.NoError(t, err)

	nodes := summarize(g)
	require.Len(t, nodes, 7)
	assert.Equal(t, 0, nodes[0].Index)
	assert.Equal(t, "Pool", nodes[0].Kind)
	assert.Equal(t, graph.NoParent, nodes[0].Parent)
	assert.Len(t, nodes[0].Children, 3)
	for _, n := range nodes[4:] {
		assert.Equal(t, "Input", n.Kind)
		assert.Empty(t, n.PoolType)
		assert.True(t, n.IsLeaf)
	}
}

func TestGraphCommandRequiresPool(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"graph", "--pools-file", writePools(t)})
	assert.ErrorContains(t, root.Execute(), "pool id is required")
}

func TestGraphCommandRequiresRepository(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"graph", "--pool", fixtures.BbaUSDID})
	assert.ErrorContains(t, root.Execute(), "pools-file or pg-dsn is required")
}

func TestExitCommandWritesArtifact(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out", "artifacts.jsonl")
	root := newRootCmd()
	root.SetArgs([]string{
		"exit",
		"--pools-file", writePools(t),
		"--pool", fixtures.BbaDAIID,
		"--amount", fixtures.E18(100).String(),
		"--user", fixtures.User.Hex(),
		"--relayer", fixtures.Relayer.Hex(),
		"--out", out,
		"--log-level", "error",
	})
	require.NoError(t, root.Execute())

	file, err := os.Open(out)
	require.NoError(t, err)
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	require.True(t, scanner.Scan())
	var record struct {
		Operation string   `json:"operation"`
		PoolID    string   `json:"pool_id"`
		Calls     []string `json:"calls"`
		CallCount int      `json:"call_count"`
		Artifact  struct {
			To                 common.Address `json:"to"`
			ExpectedAmountsOut []json.Number  `json:"expected_amounts_out"`
		} `json:"artifact"`
	}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
	assert.Equal(t, "exit", record.Operation)
	assert.Equal(t, fixtures.BbaDAIID, record.PoolID)
	// A linear pool exits with a single swap out of its BPT.
	assert.Equal(t, []string{"swap"}, record.Calls)
	assert.Equal(t, 1, record.CallCount)
	assert.Equal(t, fixtures.Relayer, record.Artifact.To)
	assert.Equal(t, []json.Number{json.Number(fixtures.E18(100).String())}, record.Artifact.ExpectedAmountsOut)
	assert.False(t, scanner.Scan())
}

func TestJoinCommandRejectsMismatchedInputs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{
		"join",
		"--pools-file", writePools(t),
		"--pool", fixtures.BbaUSDID,
		"--tokens", fixtures.DAI.Hex() + "," + fixtures.USDC.Hex(),
		"--amounts", fixtures.E18(1).String(),
		"--user", fixtures.User.Hex(),
		"--relayer", fixtures.Relayer.Hex(),
		"--out", filepath.Join(t.TempDir(), "artifacts.jsonl"),
		"--log-level", "error",
	})
	assert.Error(t, root.Execute())
}
