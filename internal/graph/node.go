// Package graph builds the tree of pools and tokens reachable from a root
// pool. Nodes live in an arena; parent and child links are arena indexes.
package graph

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/model"
)

// NodeKind distinguishes pool nodes from token-only nodes.
type NodeKind int

const (
	KindPool NodeKind = iota
	KindInput
	KindWrappedToken
)

func (k NodeKind) String() string {
	switch k {
	case KindPool:
		return "Pool"
	case KindInput:
		return "Input"
	case KindWrappedToken:
		return "WrappedToken"
	default:
		return "Unknown"
	}
}

// NoParent marks the root.
const NoParent = -1

// TokenNodeID is the id carried by token-only nodes.
const TokenNodeID = "N/A"

// Node is a pool or a token in the graph.
type Node struct {
	// Index is the node's creation order. It doubles as the chained
	// reference key of the node's output and is stable across clones.
	Index      int
	Address    common.Address
	ID         string
	Kind       NodeKind
	PoolType   model.PoolType
	JoinAction model.JoinAction
	ExitAction model.ExitAction

	Children []int
	Parent   int

	ProportionOfParent *big.Int
	IsLeaf             bool
	Decimals           uint8
	Balance            *big.Int
	PriceRate          *big.Int
	SpotPrices         map[common.Address]*big.Int

	// Amount is the literal input of an input node while lowering a join.
	Amount *big.Int
	// Skipped marks a node that takes no part in the current path.
	Skipped bool
}

// IsInput reports whether the node receives funds straight from the user on
// join.
func (n *Node) IsInput() bool {
	return n.JoinAction == model.JoinActionInput
}

// IsOutput reports whether the node pays out to the user on exit.
func (n *Node) IsOutput() bool {
	return n.ExitAction == model.ExitActionOutput
}

// Considered reports whether a node contributes to the current join path.
// Input nodes need a positive amount; other nodes must not be skipped.
func (n *Node) Considered() bool {
	if n.IsInput() {
		return n.Amount != nil && n.Amount.Sign() > 0
	}
	return !n.Skipped
}

func (n Node) clone() Node {
	out := n
	out.Children = append([]int(nil), n.Children...)
	if n.Amount != nil {
		out.Amount = new(big.Int).Set(n.Amount)
	}
	// ProportionOfParent, Balance, PriceRate and SpotPrices are never
	// mutated after the build and are shared.
	return out
}

// Graph is an arena of nodes rooted at Root.
type Graph struct {
	Nodes []Node
	Root  int
	// Pools holds every pool resolved while building, by normalized id.
	Pools map[string]model.Pool
}

// Node returns the node at index i.
func (g *Graph) Node(i int) *Node {
	return &g.Nodes[i]
}

// RootNode returns the root pool node.
func (g *Graph) RootNode() *Node {
	return &g.Nodes[g.Root]
}

// Parent returns the parent of node i, if any.
func (g *Graph) Parent(i int) (*Node, bool) {
	p := g.Nodes[i].Parent
	if p == NoParent {
		return nil, false
	}
	return &g.Nodes[p], true
}

// ChildrenOf returns the child nodes of node i in declaration order.
func (g *Graph) ChildrenOf(i int) []*Node {
	out := make([]*Node, 0, len(g.Nodes[i].Children))
	for _, c := range g.Nodes[i].Children {
		out = append(out, &g.Nodes[c])
	}
	return out
}

// Add appends a node and returns its arena position.
func (g *Graph) Add(n Node) int {
	g.Nodes = append(g.Nodes, n)
	return len(g.Nodes) - 1
}

// Clone deep-copies the arena so a path can rewrite amounts and skip flags
// without touching other paths.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Root:  g.Root,
		Pools: g.Pools,
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.clone()
	}
	return out
}

// Pool returns the snapshot of the pool behind a pool node.
func (g *Graph) Pool(n *Node) (model.Pool, bool) {
	if n.Kind != KindPool {
		return model.Pool{}, false
	}
	pool, ok := g.Pools[model.NormalizeID(n.ID)]
	return pool, ok
}

// PoolList returns the resolved pools ordered by id.
func (g *Graph) PoolList() []model.Pool {
	ids := make([]string, 0, len(g.Pools))
	for id := range g.Pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Pool, len(ids))
	for i, id := range ids {
		out[i] = g.Pools[id]
	}
	return out
}

// OrderByBfs returns node indexes in breadth-first order from the root.
func (g *Graph) OrderByBfs() []int {
	visited := make([]bool, len(g.Nodes))
	queue := []int{g.Root}
	visited[g.Root] = true
	ordered := make([]int, 0, len(g.Nodes))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		ordered = append(ordered, current)
		for _, c := range g.Nodes[current].Children {
			if visited[c] {
				continue
			}
			visited[c] = true
			queue = append(queue, c)
		}
	}
	return ordered
}

// ReverseBfs returns the join processing order, leaves first.
func (g *Graph) ReverseBfs() []int {
	ordered := g.OrderByBfs()
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

// LeafAddresses returns the address of every leaf, in BFS order and with
// duplicates kept.
func (g *Graph) LeafAddresses() []common.Address {
	var out []common.Address
	for _, i := range g.OrderByBfs() {
		if g.Nodes[i].IsLeaf {
			out = append(out, g.Nodes[i].Address)
		}
	}
	return out
}
