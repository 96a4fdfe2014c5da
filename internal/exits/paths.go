package exits

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/model"
)

// Path walks from the root down to one output token, or through the whole
// tree when Proportional is set.
type Path struct {
	Graph *graph.Graph
	// Nodes are arena indexes from the root to the output, or every node
	// in breadth-first order.
	Nodes []int
	// AmountIn is the share of the exited BPT routed through this path.
	AmountIn *big.Int
	// Proportional paths exit every pool for all of its tokens at once.
	Proportional bool
}

// Output returns the output node the path ends at.
func (p Path) Output() *graph.Node {
	return p.Graph.Node(p.Nodes[len(p.Nodes)-1])
}

// contains reports whether node idx lies on the path.
func (p Path) contains(idx int) bool {
	for _, n := range p.Nodes {
		if n == idx {
			return true
		}
	}
	return false
}

// children returns the children of idx that lie on the path.
func (p Path) children(idx int) []*graph.Node {
	var out []*graph.Node
	for _, child := range p.Graph.ChildrenOf(idx) {
		if p.contains(child.Index) {
			out = append(out, child)
		}
	}
	return out
}

// outputs returns the output nodes of the path in path order.
func (p Path) outputs() []int {
	var out []int
	for _, idx := range p.Nodes {
		if p.Graph.Node(idx).IsOutput() {
			out = append(out, idx)
		}
	}
	return out
}

// outputNodes returns every output node in breadth-first order.
func outputNodes(g *graph.Graph) []int {
	var out []int
	for _, i := range g.OrderByBfs() {
		if g.Node(i).IsOutput() {
			out = append(out, i)
		}
	}
	return out
}

// sortedTokens deduplicates the addresses of nodes and sorts them
// ascending.
func sortedTokens(g *graph.Graph, nodes []int) []common.Address {
	seen := make(map[common.Address]bool, len(nodes))
	var out []common.Address
	for _, i := range nodes {
		address := g.Node(i).Address
		if seen[address] {
			continue
		}
		seen[address] = true
		out = append(out, address)
	}
	sort.Slice(out, func(a, b int) bool {
		return bytes.Compare(out[a].Bytes(), out[b].Bytes()) < 0
	})
	return out
}

// getProportionalPath builds the single path of a proportional exit: every
// node in breadth-first order, so outputs keep the order of outputNodes.
func getProportionalPath(g *graph.Graph, amountIn *big.Int) []Path {
	return []Path{{
		Graph:        g.Clone(),
		Nodes:        g.OrderByBfs(),
		AmountIn:     new(big.Int).Set(amountIn),
		Proportional: true,
	}}
}

// supportsProportional reports whether every pool that splits into several
// tokens can be exited for all of them at once. Only weighted pools and
// composable stable pools past their first version offer that exit.
func supportsProportional(g *graph.Graph) bool {
	for _, idx := range g.OrderByBfs() {
		node := g.Node(idx)
		if len(node.Children) < 2 {
			continue
		}
		if node.Kind != graph.KindPool || node.ExitAction != model.ExitActionExitPool {
			return false
		}
		pool, ok := g.Pool(node)
		if !ok {
			return false
		}
		switch {
		case pool.PoolType.IsWeighted():
		case pool.PoolType.Kind(pool.PoolTypeVersion) == model.PoolKindComposableStableV2:
		default:
			return false
		}
	}
	return true
}

// getExitPaths builds one path per output node. Each path exits the share
// of amountIn given by the output's cumulative proportion; rounding dust
// goes to the last path.
func getExitPaths(g *graph.Graph, outputs []int, amountIn *big.Int) []Path {
	paths := make([]Path, len(outputs))
	total := new(big.Int)
	for k, idx := range outputs {
		nodes := []int{idx}
		for parent := g.Node(idx).Parent; parent != graph.NoParent; parent = g.Node(parent).Parent {
			nodes = append(nodes, parent)
		}
		for a, b := 0, len(nodes)-1; a < b; a, b = a+1, b-1 {
			nodes[a], nodes[b] = nodes[b], nodes[a]
		}

		share := new(big.Int).Mul(g.Node(idx).ProportionOfParent, amountIn)
		share.Quo(share, fixedpoint.One)
		total.Add(total, share)
		paths[k] = Path{Graph: g.Clone(), Nodes: nodes, AmountIn: share}
	}
	if len(paths) > 0 {
		last := paths[len(paths)-1].AmountIn
		last.Add(last, new(big.Int).Sub(amountIn, total))
	}
	return paths
}
