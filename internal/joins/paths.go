package joins

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/model"
)

// Path is one chain of joins ending at the root. It owns its arena so
// amounts and skip flags never leak between paths.
type Path struct {
	Graph *graph.Graph
	// Nodes are arena indexes in processing order, root last.
	Nodes []int

	// proportion of the nested pool a non-leaf path enters through.
	proportion *big.Int
}

// IsLeafJoin reports whether the path joins through every leaf of the tree
// at once, as opposed to entering from a single nested pool token.
func (p Path) IsLeafJoin() bool {
	return len(p.Nodes) > 0 && p.Graph.Node(p.Nodes[0]).IsLeaf
}

// GetJoinPaths splits the caller's tokens into join paths. Leaf tokens share
// a single path over the whole tree in ordered (leaves first) order. Every
// non-leaf token gets its own path from a synthesized input up to the root.
func GetJoinPaths(g *graph.Graph, ordered []int, tokensIn []common.Address, amountsIn []*big.Int) ([]Path, error) {
	if len(tokensIn) != len(amountsIn) {
		return nil, fmt.Errorf("%d tokens, %d amounts: %w", len(tokensIn), len(amountsIn), model.ErrInputLengthMismatch)
	}
	wanted := make(map[common.Address]bool, len(tokensIn))
	for i, token := range tokensIn {
		if amountsIn[i] != nil && amountsIn[i].Sign() > 0 {
			wanted[token] = true
		}
	}

	var (
		inputNodes   []int
		containsLeaf bool
		found        = make(map[common.Address]bool, len(wanted))
	)
	for _, i := range ordered {
		node := g.Node(i)
		if !wanted[node.Address] {
			continue
		}
		found[node.Address] = true
		inputNodes = append(inputNodes, i)
		if node.IsLeaf {
			containsLeaf = true
		}
	}
	for token := range wanted {
		if !found[token] {
			return nil, fmt.Errorf("token %s is not part of the pool tree: %w", token.Hex(), model.ErrInputTokenInvalid)
		}
	}

	var paths []Path
	if containsLeaf {
		paths = append(paths, Path{Graph: g.Clone(), Nodes: append([]int(nil), ordered...)})
	}

	for _, i := range inputNodes {
		if g.Node(i).IsLeaf {
			continue
		}
		path, err := nonLeafPath(g, i)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	// Input nodes added for nested tokens extend the arena past the built
	// graph.
	for _, path := range paths {
		if err := graph.CheckSize(path.Graph); err != nil {
			return nil, err
		}
	}

	updateInputAmounts(paths, tokensIn, amountsIn)
	return paths, nil
}

// nonLeafPath replaces the nested pool at index with an input node of its
// token and walks up to the root, skipping every sibling subtree.
func nonLeafPath(g *graph.Graph, index int) (Path, error) {
	original := g.Node(index)
	if original.Parent == graph.NoParent {
		return Path{}, fmt.Errorf("root token %s used as input: %w", original.Address.Hex(), model.ErrInputTokenInvalid)
	}

	clone := g.Clone()
	input := clone.Add(graph.Node{
		Index:              len(clone.Nodes),
		Address:            original.Address,
		ID:                 graph.TokenNodeID,
		Kind:               graph.KindInput,
		JoinAction:         model.JoinActionInput,
		ExitAction:         model.ExitActionOutput,
		Parent:             original.Parent,
		ProportionOfParent: fixedpoint.One,
		Decimals:           original.Decimals,
		Balance:            original.Balance,
		PriceRate:          big.NewInt(1e18),
	})

	nodes := []int{input}
	child, replaced := input, index
	for parentIndex := clone.Node(input).Parent; parentIndex != graph.NoParent; parentIndex = clone.Node(parentIndex).Parent {
		parent := clone.Node(parentIndex)
		for k, c := range parent.Children {
			if c == replaced {
				parent.Children[k] = child
				continue
			}
			skip(clone, c)
		}
		nodes = append(nodes, parentIndex)
		child, replaced = parentIndex, parentIndex
	}
	return Path{Graph: clone, Nodes: nodes, proportion: original.ProportionOfParent}, nil
}

func skip(g *graph.Graph, i int) {
	node := g.Node(i)
	node.Skipped = true
	node.Amount = nil
}

// updateInputAmounts writes the literal amount of every input node. Leaf
// inputs sharing a token split it by proportion; non-leaf paths sharing a
// token split it by the proportion of the pool they replace. Rounding dust
// goes to the first node of each token.
func updateInputAmounts(paths []Path, tokensIn []common.Address, amountsIn []*big.Int) {
	for _, path := range paths {
		if !path.IsLeafJoin() {
			continue
		}
		for i, token := range tokensIn {
			var (
				inputs      []*graph.Node
				proportions []*big.Int
			)
			for _, idx := range path.Nodes {
				node := path.Graph.Node(idx)
				if node.IsInput() && node.IsLeaf && node.Address == token {
					inputs = append(inputs, node)
					proportions = append(proportions, node.ProportionOfParent)
				}
			}
			for k, share := range leafShares(amountsIn[i], proportions) {
				inputs[k].Amount = share
			}
		}
	}

	for i, token := range tokensIn {
		var (
			inputs      []*graph.Node
			proportions []*big.Int
		)
		for _, path := range paths {
			if path.IsLeafJoin() {
				continue
			}
			input := path.Graph.Node(path.Nodes[0])
			if input.Address != token {
				continue
			}
			inputs = append(inputs, input)
			proportions = append(proportions, path.proportion)
		}
		for k, share := range pathShares(amountsIn[i], proportions) {
			inputs[k].Amount = share
		}
	}
}

// leafShares splits amount as floor(floor(p*1e18/total) * amount / 1e18)
// per proportion, adding the remainder to the first share.
func leafShares(amount *big.Int, proportions []*big.Int) []*big.Int {
	amount = fixedpoint.OrZero(amount)
	total := sum(proportions)
	shares := make([]*big.Int, len(proportions))
	for i, p := range proportions {
		if total.Sign() == 0 {
			shares[i] = new(big.Int)
			continue
		}
		inputProportion := new(big.Int).Mul(p, fixedpoint.One)
		inputProportion.Quo(inputProportion, total)
		share := new(big.Int).Mul(inputProportion, amount)
		shares[i] = share.Quo(share, fixedpoint.One)
	}
	addDust(shares, amount)
	return shares
}

// pathShares splits amount as floor(amount * p / total) per proportion,
// adding the remainder to the first share.
func pathShares(amount *big.Int, proportions []*big.Int) []*big.Int {
	amount = fixedpoint.OrZero(amount)
	total := sum(proportions)
	shares := make([]*big.Int, len(proportions))
	for i, p := range proportions {
		if total.Sign() == 0 {
			shares[i] = new(big.Int)
			continue
		}
		share := new(big.Int).Mul(amount, p)
		shares[i] = share.Quo(share, total)
	}
	addDust(shares, amount)
	return shares
}

func addDust(shares []*big.Int, amount *big.Int) {
	if len(shares) == 0 {
		return
	}
	diff := new(big.Int).Sub(amount, sum(shares))
	shares[0].Add(shares[0], diff)
}

func sum(values []*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}
