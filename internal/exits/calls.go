package exits

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/relayer"
	"nestedLiquidity/internal/simulation"
	"nestedLiquidity/internal/vaultmodel"
)

const swapDeadline = 3600

type callSet struct {
	calls         []relayer.Call
	paths         []simulation.PathCalls
	data          []byte
	query         []byte
	outputIndexes []int
	deltas        vaultmodel.Deltas
}

// lowering carries the per-pass settings of createActionCalls. A nil
// minAmountsOut marks the simulation pass, which peeks every output.
type lowering struct {
	user          common.Address
	minAmountsOut []*big.Int
	deadline      *big.Int
}

func (l lowering) simulation() bool {
	return l.minAmountsOut == nil
}

func (e *Exiter) createCalls(paths []Path, l lowering, authorisation []byte) (callSet, error) {
	set, err := e.createActionCalls(paths, l)
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
		approval, err := relayer.EncodeSetRelayerApproval(e.cfg.Relayer, true, authorisation)
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

func (e *Exiter) createActionCalls(paths []Path, l lowering) (callSet, error) {
	set := callSet{deltas: make(vaultmodel.Deltas)}

	base := 0
	for p, path := range paths {
		g := path.Graph
		pathCalls := simulation.PathCalls{Output: path.Output().Address}

		// slots maps each output of the path to its entry in minAmountsOut.
		slots := make(map[int]int)
		for k, idx := range path.outputs() {
			slots[idx] = base + k
		}
		base += len(slots)

		for _, idx := range path.Nodes {
			node := g.Node(idx)
			var exitChild *graph.Node
			if children := path.children(idx); len(children) > 0 {
				exitChild = children[0]
			}

			sender := e.sender(path, node, l)
			recipient := e.recipient(path, node, l)

			minOut := new(big.Int)
			if !l.simulation() && exitChild != nil {
				minOut = limit(path, exitChild, slots, l)
			}

			var (
				call relayer.Call
				err  error
			)
			switch node.ExitAction {
			case model.ExitActionUnwrap:
				call, err = e.createUnwrap(g, p, idx, exitChild, minOut, sender, recipient, set.deltas)
			case model.ExitActionBatchSwap:
				call, err = e.createSwap(g, p, path, idx, exitChild, minOut, sender, recipient, l, set.deltas)
			case model.ExitActionExitPool:
				if path.Proportional {
					call, err = e.createExitPoolProportional(g, p, path, idx, slots, sender, recipient, l, set.deltas)
				} else {
					call, err = e.createExitPool(g, p, path, idx, exitChild, minOut, sender, recipient, set.deltas)
				}
			case model.ExitActionOutput:
				if l.simulation() {
					call = relayer.PeekCall{Reference: relayer.ReadOnlyChainedReference(relayer.PathKey(p, node.Index))}
					set.outputIndexes = append(set.outputIndexes, len(set.calls))
				}
			}
			if err != nil {
				return callSet{}, fmt.Errorf("path %d node %d: %w", p, idx, err)
			}
			if call == nil {
				continue
			}
			set.calls = append(set.calls, call)
			pathCalls.Calls = append(pathCalls.Calls, call)
		}
		set.paths = append(set.paths, pathCalls)
	}
	return set, nil
}

// sender funds a node's call: the user at the root, otherwise whoever the
// parent paid.
func (e *Exiter) sender(path Path, node *graph.Node, l lowering) common.Address {
	if node.Parent == graph.NoParent {
		return l.user
	}
	return e.recipient(path, path.Graph.Node(node.Parent), l)
}

// recipient is the user when the call pays out any output, otherwise the
// relayer keeps the tokens for the next hop.
func (e *Exiter) recipient(path Path, node *graph.Node, l lowering) common.Address {
	for _, child := range path.children(node.Index) {
		if child.IsOutput() {
			return l.user
		}
	}
	return e.cfg.Relayer
}

// limit is the minimum a call must pay into child. Only the last hop before
// an output is limited; an unwrap is limited in the wrapped token it
// redeems.
func limit(path Path, child *graph.Node, slots map[int]int, l lowering) *big.Int {
	switch child.ExitAction {
	case model.ExitActionOutput:
		return new(big.Int).Set(l.minAmountsOut[slots[child.Index]])
	case model.ExitActionUnwrap:
		outputs := path.children(child.Index)
		if len(outputs) == 0 {
			return new(big.Int)
		}
		return fixedpoint.DivDown(l.minAmountsOut[slots[outputs[0].Index]], child.PriceRate)
	default:
		return new(big.Int)
	}
}

// toInternal reports whether node's call pays its children through the
// relayer's internal balance. A proportional exit pays every child in one
// transfer, so all of them must take internal balance.
func toInternal(path Path, node *graph.Node) bool {
	children := path.children(node.Index)
	if len(children) == 0 {
		return false
	}
	for _, child := range children {
		if !receivesFromInternal(child) {
			return false
		}
	}
	return true
}

// fromInternal reports whether node's call spends internal balance, which
// is how its parent paid it.
func fromInternal(path Path, node *graph.Node) bool {
	if node.Parent == graph.NoParent {
		return false
	}
	return toInternal(path, path.Graph.Node(node.Parent))
}

// amountIn is the path's literal share at the root and the reference the
// parent stored for every node below it.
func amountIn(p int, path Path, node *graph.Node) relayer.Amount {
	if node.Parent == graph.NoParent {
		return relayer.Literal{Value: new(big.Int).Set(path.AmountIn)}
	}
	return relayer.Pending{Key: relayer.PathKey(p, node.Index)}
}

func (e *Exiter) createUnwrap(
	g *graph.Graph,
	p, idx int,
	exitChild *graph.Node,
	minOut *big.Int,
	sender, recipient common.Address,
	deltas vaultmodel.Deltas,
) (relayer.Call, error) {
	node := g.Node(idx)
	if exitChild == nil {
		return nil, fmt.Errorf("unwrap %s has nothing to redeem into", node.Address.Hex())
	}
	linear, ok := g.Parent(idx)
	if !ok {
		return nil, fmt.Errorf("unwrap %s has no linear pool: %w", node.Address.Hex(), model.ErrUnsupportedPoolType)
	}
	wrapper, err := linear.PoolType.Wrapper()
	if err != nil {
		return nil, err
	}

	deltas.Add(exitChild.Address, new(big.Int).Neg(minOut))
	return relayer.UnwrapCall{
		Wrapper:         wrapper,
		LinearPoolID:    linear.ID,
		WrappedToken:    node.Address,
		Sender:          sender,
		Recipient:       recipient,
		Amount:          relayer.Pending{Key: relayer.PathKey(p, node.Index)},
		OutputReference: relayer.ChainedReference(relayer.PathKey(p, exitChild.Index)),
	}, nil
}

func (e *Exiter) createSwap(
	g *graph.Graph,
	p int,
	path Path,
	idx int,
	exitChild *graph.Node,
	minOut *big.Int,
	sender, recipient common.Address,
	l lowering,
	deltas vaultmodel.Deltas,
) (relayer.Call, error) {
	node := g.Node(idx)
	if exitChild == nil {
		return nil, fmt.Errorf("swap out of %s has no token out: %w", node.Address.Hex(), model.ErrUnsupportedSwap)
	}
	amount := amountIn(p, path, node)

	if exitChild.IsOutput() {
		deltas.Add(exitChild.Address, new(big.Int).Neg(minOut))
	}
	if node.Parent == graph.NoParent {
		deltas.Add(node.Address, amount.Big())
	}

	return relayer.SwapCall{
		PoolID:   node.ID,
		AssetIn:  node.Address,
		AssetOut: exitChild.Address,
		Amount:   amount,
		Funds: relayer.FundManagement{
			Sender:              sender,
			FromInternalBalance: fromInternal(path, node),
			Recipient:           recipient,
			ToInternalBalance:   toInternal(path, node),
		},
		Limit:           new(big.Int).Set(minOut),
		Deadline:        l.deadline,
		Value:           new(big.Int),
		OutputReference: relayer.ChainedReference(relayer.PathKey(p, exitChild.Index)),
	}, nil
}

func (e *Exiter) createExitPool(
	g *graph.Graph,
	p int,
	path Path,
	idx int,
	exitChild *graph.Node,
	minOut *big.Int,
	sender, recipient common.Address,
	deltas vaultmodel.Deltas,
) (relayer.Call, error) {
	node := g.Node(idx)
	if exitChild == nil {
		return nil, fmt.Errorf("exit %s has no token out: %w", node.ID, model.ErrInputTokenInvalid)
	}
	pool, ok := g.Pool(node)
	if !ok {
		return nil, fmt.Errorf("exit %s: %w", node.ID, model.ErrPoolDoesNotExist)
	}

	tokens := make([]common.Address, 0, len(node.Children)+1)
	for _, child := range g.ChildrenOf(idx) {
		tokens = append(tokens, child.Address)
	}
	if node.PoolType == model.PoolTypeComposableStable {
		tokens = append(tokens, node.Address)
	}
	order := relayer.SortAssets(tokens)
	assets := make([]common.Address, len(order))
	minAmountsOut := make([]*big.Int, len(order))
	outIndex, tokenIndex, userIndex := -1, -1, 0
	for i, k := range order {
		assets[i] = tokens[k]
		minAmountsOut[i] = new(big.Int)
		if assets[i] == exitChild.Address {
			minAmountsOut[i].Set(minOut)
			outIndex, tokenIndex = i, userIndex
		}
		if assets[i] != node.Address {
			userIndex++
		}
	}
	if outIndex < 0 {
		return nil, fmt.Errorf("exit %s: %s is not a pool token: %w", node.ID, exitChild.Address.Hex(), model.ErrInputTokenInvalid)
	}

	amount := amountIn(p, path, node)
	if node.Parent == graph.NoParent {
		deltas.Add(node.Address, amount.Big())
	}
	if exitChild.IsOutput() {
		deltas.Add(exitChild.Address, new(big.Int).Neg(minOut))
	}

	return relayer.ExitPoolCall{
		PoolID:            node.ID,
		Pool:              node.Address,
		Kind:              node.PoolType.Kind(pool.PoolTypeVersion),
		Sender:            sender,
		Recipient:         recipient,
		Assets:            assets,
		MinAmountsOut:     minAmountsOut,
		BptIn:             amount,
		TokenIndex:        tokenIndex,
		ToInternalBalance: toInternal(path, node),
		OutputReferences: []relayer.OutputReference{{
			Index: big.NewInt(int64(outIndex)),
			Key:   relayer.ChainedReference(relayer.PathKey(p, exitChild.Index)),
		}},
	}, nil
}

// createExitPoolProportional burns the node's BPT for every pool token at
// once. Each child gets its own output reference, and outputs or unwraps
// below the pool carry their limits.
func (e *Exiter) createExitPoolProportional(
	g *graph.Graph,
	p int,
	path Path,
	idx int,
	slots map[int]int,
	sender, recipient common.Address,
	l lowering,
	deltas vaultmodel.Deltas,
) (relayer.Call, error) {
	node := g.Node(idx)
	pool, ok := g.Pool(node)
	if !ok {
		return nil, fmt.Errorf("exit %s: %w", node.ID, model.ErrPoolDoesNotExist)
	}
	children := g.ChildrenOf(idx)
	if len(children) == 0 {
		return nil, fmt.Errorf("exit %s has no tokens out: %w", node.ID, model.ErrInputTokenInvalid)
	}

	tokens := make([]common.Address, 0, len(children)+1)
	limits := make(map[common.Address]*big.Int, len(children))
	refs := make(map[common.Address]uint64, len(children))
	for _, child := range children {
		tokens = append(tokens, child.Address)
		refs[child.Address] = relayer.PathKey(p, child.Index)
		if l.simulation() {
			limits[child.Address] = new(big.Int)
		} else {
			limits[child.Address] = limit(path, child, slots, l)
		}
	}
	if node.PoolType == model.PoolTypeComposableStable {
		tokens = append(tokens, node.Address)
	}

	order := relayer.SortAssets(tokens)
	assets := make([]common.Address, len(order))
	minAmountsOut := make([]*big.Int, len(order))
	var outputRefs []relayer.OutputReference
	for i, k := range order {
		assets[i] = tokens[k]
		minAmountsOut[i] = new(big.Int)
		if m, ok := limits[assets[i]]; ok {
			minAmountsOut[i].Set(m)
		}
		if key, ok := refs[assets[i]]; ok {
			outputRefs = append(outputRefs, relayer.OutputReference{
				Index: big.NewInt(int64(i)),
				Key:   relayer.ChainedReference(key),
			})
		}
	}

	amount := amountIn(p, path, node)
	if node.Parent == graph.NoParent {
		deltas.Add(node.Address, amount.Big())
	}
	for _, child := range children {
		if child.IsOutput() {
			deltas.Add(child.Address, new(big.Int).Neg(limits[child.Address]))
		}
	}

	return relayer.ExitPoolCall{
		PoolID:            node.ID,
		Pool:              node.Address,
		Kind:              node.PoolType.Kind(pool.PoolTypeVersion),
		Sender:            sender,
		Recipient:         recipient,
		Assets:            assets,
		MinAmountsOut:     minAmountsOut,
		BptIn:             amount,
		ToInternalBalance: toInternal(path, node),
		OutputReferences:  outputRefs,
		Proportional:      true,
	}, nil
}

// receivesFromInternal reports whether a node gets its tokens through the
// relayer's internal balance. The root, outputs, unwraps and pool exits
// always use external balances.
func receivesFromInternal(n *graph.Node) bool {
	if n.Parent == graph.NoParent {
		return false
	}
	switch n.ExitAction {
	case model.ExitActionOutput, model.ExitActionUnwrap, model.ExitActionExitPool:
		return false
	default:
		return true
	}
}
