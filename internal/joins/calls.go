package joins

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/relayer"
	"nestedLiquidity/internal/simulation"
	"nestedLiquidity/internal/vaultmodel"
)

const swapDeadline = 3600

// callSet is one lowering of every join path into relayer calls.
type callSet struct {
	calls         []relayer.Call
	paths         []simulation.PathCalls
	data          []byte
	query         []byte
	outputIndexes []int
	deltas        vaultmodel.Deltas
}

// lowering carries the per-pass settings of createActionCalls. A nil
// minAmountsOut marks the simulation pass, which peeks every path's result
// and routes native joins through the wrapped native token.
type lowering struct {
	user          common.Address
	native        bool
	minAmountsOut []*big.Int
	deadline      *big.Int
}

func (l lowering) simulation() bool {
	return l.minAmountsOut == nil
}

// createCalls lowers paths and encodes them as a multicall. The query
// multicall never carries the relayer approval; the executable one has it
// prepended, which shifts every output index by one.
func (j *Joiner) createCalls(paths []Path, l lowering, authorisation []byte) (callSet, error) {
	set, err := j.createActionCalls(paths, l)
	if err != nil {
		return callSet{}, err
	}

	encoded, err := relayer.EncodeCalls(set.calls)
	if err != nil {
		return callSet{}, err
	}
	if set.query, err = relayer.EncodeQueryMulticall(encoded); err != nil {
		return callSet{}, err
	}

	if len(authorisation) > 0 {
		approval, err := relayer.EncodeSetRelayerApproval(j.cfg.Relayer, true, authorisation)
		if err != nil {
			return callSet{}, err
		}
		encoded = append([][]byte{approval}, encoded...)
		for i := range set.outputIndexes {
			set.outputIndexes[i]++
		}
	}
	if set.data, err = relayer.EncodeMulticall(encoded); err != nil {
		return callSet{}, err
	}
	return set, nil
}

func (j *Joiner) createActionCalls(paths []Path, l lowering) (callSet, error) {
	set := callSet{deltas: make(vaultmodel.Deltas)}

	for p, path := range paths {
		g := path.Graph
		pathCalls := simulation.PathCalls{Output: g.RootNode().Address}
		last := len(path.Nodes) - 1

		for i, idx := range path.Nodes {
			node := g.Node(idx)
			considered := consideredChildren(g, idx)
			if len(node.Children) > 0 && len(considered) == 0 {
				node.Skipped = true
				continue
			}

			sender := j.cfg.Relayer
			if anyInput(considered) {
				sender = l.user
			}
			isLast := i == last
			recipient := j.cfg.Relayer
			if isLast || (path.IsLeafJoin() && hasSiblingInput(g, idx)) {
				recipient = l.user
			}
			minOut := new(big.Int)
			if isLast && !l.simulation() {
				minOut = new(big.Int).Set(l.minAmountsOut[p])
			}

			var (
				call relayer.Call
				err  error
			)
			switch node.JoinAction {
			case model.JoinActionBatchSwap:
				call, err = j.createSwap(g, p, idx, minOut, sender, recipient, l, set.deltas)
			case model.JoinActionJoinPool:
				call, err = j.createJoinPool(g, p, idx, minOut, sender, recipient, l, set.deltas)
			case model.JoinActionWrap:
				call, err = j.createWrap(g, p, idx, sender, recipient, set.deltas)
			default:
				continue
			}
			if err != nil {
				return callSet{}, fmt.Errorf("path %d node %d: %w", p, idx, err)
			}
			set.calls = append(set.calls, call)
			pathCalls.Calls = append(pathCalls.Calls, call)
		}

		if l.simulation() {
			peek := relayer.PeekCall{Reference: relayer.ReadOnlyChainedReference(relayer.PathKey(p, g.Root))}
			set.calls = append(set.calls, peek)
			pathCalls.Calls = append(pathCalls.Calls, peek)
			set.outputIndexes = append(set.outputIndexes, len(set.calls)-1)
		}
		set.paths = append(set.paths, pathCalls)
	}
	return set, nil
}

func (j *Joiner) createSwap(
	g *graph.Graph,
	p, idx int,
	minOut *big.Int,
	sender, recipient common.Address,
	l lowering,
	deltas vaultmodel.Deltas,
) (relayer.Call, error) {
	node := g.Node(idx)
	if len(node.Children) != 1 {
		return nil, fmt.Errorf("swap into %s with %d children: %w", node.Address.Hex(), len(node.Children), model.ErrUnsupportedSwap)
	}
	child := g.Node(node.Children[0])
	amountIn := outputRef(p, child)

	assetIn := child.Address
	value := new(big.Int)
	if l.native && !l.simulation() && assetIn == j.cfg.WrappedNativeAsset {
		assetIn = common.Address{}
		value = amountIn.Big()
	}

	call := relayer.SwapCall{
		PoolID:   node.ID,
		AssetIn:  assetIn,
		AssetOut: node.Address,
		Amount:   amountIn,
		Funds: relayer.FundManagement{
			Sender:              sender,
			FromInternalBalance: allChildrenSendToInternal(g, idx),
			Recipient:           recipient,
			ToInternalBalance:   allSiblingsSendToInternal(g, idx),
		},
		Limit:           new(big.Int).Set(minOut),
		Deadline:        l.deadline,
		Value:           value,
		OutputReference: outputRef(p, node).Big(),
	}

	// Chained swaps move nothing between the user and the vault.
	if node.Parent == graph.NoParent {
		deltas.Add(node.Address, new(big.Int).Neg(minOut))
	}
	if child.IsInput() {
		deltas.Add(child.Address, amountIn.Big())
	}
	return call, nil
}

func (j *Joiner) createJoinPool(
	g *graph.Graph,
	p, idx int,
	minOut *big.Int,
	sender, recipient common.Address,
	l lowering,
	deltas vaultmodel.Deltas,
) (relayer.Call, error) {
	node := g.Node(idx)
	pool, ok := g.Pool(node)
	if !ok {
		return nil, fmt.Errorf("join %s: %w", node.ID, model.ErrPoolDoesNotExist)
	}

	tokens := make([]common.Address, 0, len(node.Children)+1)
	amounts := make([]relayer.Amount, 0, len(node.Children)+1)
	for _, child := range g.ChildrenOf(idx) {
		tokens = append(tokens, child.Address)
		if child.Considered() {
			amounts = append(amounts, outputRef(p, child))
		} else {
			amounts = append(amounts, relayer.Literal{Value: new(big.Int)})
		}
	}
	if node.PoolType == model.PoolTypeComposableStable {
		tokens = append(tokens, node.Address)
		amounts = append(amounts, relayer.Literal{Value: new(big.Int)})
	}

	order := relayer.SortAssets(tokens)
	assets := make([]common.Address, len(order))
	maxAmountsIn := make([]relayer.Amount, len(order))
	for i, k := range order {
		assets[i] = tokens[k]
		maxAmountsIn[i] = amounts[k]
	}

	value := new(big.Int)
	if l.native && !l.simulation() {
		for i, asset := range assets {
			if asset != j.cfg.WrappedNativeAsset {
				continue
			}
			assets[i] = common.Address{}
			if lit, ok := maxAmountsIn[i].(relayer.Literal); ok {
				value.Add(value, lit.Big())
			}
		}
	}

	call := relayer.JoinPoolCall{
		PoolID:              node.ID,
		Pool:                node.Address,
		Kind:                node.PoolType.Kind(pool.PoolTypeVersion),
		Sender:              sender,
		Recipient:           recipient,
		Assets:              assets,
		MaxAmountsIn:        maxAmountsIn,
		MinBptOut:           new(big.Int).Set(minOut),
		FromInternalBalance: allChildrenSendToInternal(g, idx),
		Value:               value,
		OutputReference:     outputRef(p, node).Big(),
	}

	if anyInput(consideredChildren(g, idx)) {
		for _, k := range order {
			if lit, ok := amounts[k].(relayer.Literal); ok {
				deltas.Add(tokens[k], lit.Big())
			}
		}
	}
	if node.Parent == graph.NoParent {
		deltas.Add(node.Address, new(big.Int).Neg(minOut))
	}
	return call, nil
}

// createWrap deposits the main token of a linear pool into its wrapper so
// the linear pool can be joined with the wrapped token.
func (j *Joiner) createWrap(
	g *graph.Graph,
	p, idx int,
	sender, recipient common.Address,
	deltas vaultmodel.Deltas,
) (relayer.Call, error) {
	node := g.Node(idx)
	if len(node.Children) != 1 {
		return nil, fmt.Errorf("wrap %s with %d children: %w", node.Address.Hex(), len(node.Children), model.ErrUnsupportedSwap)
	}
	linear, ok := g.Parent(idx)
	if !ok {
		return nil, fmt.Errorf("wrap %s has no linear pool: %w", node.Address.Hex(), model.ErrUnsupportedPoolType)
	}
	wrapper, err := linear.PoolType.Wrapper()
	if err != nil {
		return nil, err
	}
	child := g.Node(node.Children[0])
	amountIn := outputRef(p, child)

	if child.IsInput() {
		deltas.Add(child.Address, amountIn.Big())
	}
	return relayer.WrapCall{
		Wrapper:         wrapper,
		LinearPoolID:    linear.ID,
		WrappedToken:    node.Address,
		Sender:          sender,
		Recipient:       recipient,
		Amount:          amountIn,
		OutputReference: outputRef(p, node).Big(),
	}, nil
}

// outputRef is the amount a node hands to its parent: the literal amount of
// an input, the chained reference of a node that runs in this path, or zero.
// The root always stores its output so the result can be peeked.
func outputRef(path int, node *graph.Node) relayer.Amount {
	switch {
	case node.IsInput():
		if node.Amount == nil {
			return relayer.Literal{Value: new(big.Int)}
		}
		return relayer.Literal{Value: new(big.Int).Set(node.Amount)}
	case !node.Skipped || node.Parent == graph.NoParent:
		return relayer.Pending{Key: relayer.PathKey(path, node.Index)}
	default:
		return relayer.Literal{Value: new(big.Int)}
	}
}

func consideredChildren(g *graph.Graph, idx int) []*graph.Node {
	var out []*graph.Node
	for _, child := range g.ChildrenOf(idx) {
		if child.Considered() {
			out = append(out, child)
		}
	}
	return out
}

func anyInput(nodes []*graph.Node) bool {
	for _, n := range nodes {
		if n.IsInput() {
			return true
		}
	}
	return false
}

// hasSiblingInput reports whether the parent of idx takes user funds next
// to it, in which case idx must pay out to the user as well.
func hasSiblingInput(g *graph.Graph, idx int) bool {
	parent, ok := g.Parent(idx)
	if !ok {
		return false
	}
	return anyInput(consideredChildren(g, parent.Index))
}

// sendsToInternal reports whether a node leaves its output in the relayer's
// internal balance. Inputs come from the user, and joins and wraps always
// pay out to external balances.
func sendsToInternal(n *graph.Node) bool {
	switch n.JoinAction {
	case model.JoinActionInput, model.JoinActionJoinPool, model.JoinActionWrap:
		return false
	default:
		return true
	}
}

func allSend(nodes []*graph.Node) bool {
	if len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if !sendsToInternal(n) {
			return false
		}
	}
	return true
}

func allChildrenSendToInternal(g *graph.Graph, idx int) bool {
	return allSend(consideredChildren(g, idx))
}

func allSiblingsSendToInternal(g *graph.Graph, idx int) bool {
	parent, ok := g.Parent(idx)
	if !ok {
		return false
	}
	return allSend(consideredChildren(g, parent.Index))
}
