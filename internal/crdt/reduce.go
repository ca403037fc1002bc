package crdt

import (
	"fmt"
	"sort"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/warpids"
)

// ReceiptResult classifies how an op resolved against the state it was
// folded into (spec §4.1).
type ReceiptResult string

const (
	ResultApplied    ReceiptResult = "applied"
	ResultSuperseded ReceiptResult = "superseded"
	ResultRedundant  ReceiptResult = "redundant"
)

// OpReceipt records one op's outcome. Winner is a structured EventId
// (spec §9 open question) rather than a free-form string; callers render it
// to text only at the logging boundary.
type OpReceipt struct {
	Op     Op
	Result ReceiptResult
	Winner *warpids.EventId
}

// Receipt records every op's outcome for one input patch.
type Receipt struct {
	Writer  string
	Lamport uint64
	SHA     string
	Ops     []OpReceipt
}

// ReduceOptions controls a single Reduce call.
type ReduceOptions struct {
	// Initial is the fold-starting state (spec §4.3 checkpoint fast-start).
	// The zero value means fold from Empty().
	Initial *WarpState
	// Receipts, when true, causes Reduce to also return one Receipt per
	// input patch (spec §4.1). Disabled by default: receipts are
	// allocation-heavy and the materialization cache is bypassed when they
	// are requested (spec §4.3).
	Receipts bool
	// Aborted is polled at the start of each patch; a checkAborted point
	// per spec §5. Nil means never abort.
	Aborted func() bool
}

// Reduce folds an ordered patch stream into a WarpState (spec §4.1). Patches
// for the same writer must already be presented in chain order (the
// materializer guarantees this by walking parent links); Reduce then
// globally stable-sorts by (lamport, writerId, patchSha) so cross-writer
// order never affects the result, while same-writer relative order (and
// thus each writer's monotonically increasing lamports) is preserved by the
// sort being stable and the keys including lamport. On error the returned
// state is always the zero value — a malformed patch fails the whole input,
// never leaving partial state.
func Reduce(patches []Decoded, opts ReduceOptions) (WarpState, []Receipt, error) {
	ordered := make([]Decoded, len(patches))
	copy(ordered, patches)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Patch.Lamport != b.Patch.Lamport {
			return a.Patch.Lamport < b.Patch.Lamport
		}
		if a.Patch.Writer != b.Patch.Writer {
			return a.Patch.Writer < b.Patch.Writer
		}
		return a.SHA < b.SHA
	})

	state := Empty()
	if opts.Initial != nil {
		state = opts.Initial.Clone()
	}

	var receipts []Receipt
	if opts.Receipts {
		receipts = make([]Receipt, 0, len(ordered))
	}

	for _, dp := range ordered {
		if opts.Aborted != nil && opts.Aborted() {
			return WarpState{}, nil, apperrors.New(apperrors.CodeOperationAborted, "reduce aborted")
		}
		receipt, err := applyPatch(&state, dp, opts.Receipts)
		if err != nil {
			return WarpState{}, nil, apperrors.Wrap(apperrors.CodeMalformedPatch, fmt.Sprintf("patch %s", dp.SHA), err)
		}
		if opts.Receipts {
			receipts = append(receipts, receipt)
		}
	}

	return state, receipts, nil
}

func applyPatch(state *WarpState, dp Decoded, withReceipts bool) (Receipt, error) {
	p := dp.Patch
	receipt := Receipt{Writer: p.Writer, Lamport: p.Lamport, SHA: dp.SHA}

	for i, op := range p.Ops {
		eventID := warpids.EventId{Lamport: p.Lamport, WriterID: p.Writer, PatchSHA: dp.SHA, OpIndex: uint32(i)}
		result, winner, err := applyOp(state, op, eventID)
		if err != nil {
			return Receipt{}, err
		}
		if withReceipts {
			receipt.Ops = append(receipt.Ops, OpReceipt{Op: op, Result: result, Winner: winner})
		}
	}
	return receipt, nil
}

func applyOp(state *WarpState, op Op, eventID warpids.EventId) (ReceiptResult, *warpids.EventId, error) {
	switch op.Type {
	case OpNodeAdd:
		if op.Node == "" {
			return "", nil, fmt.Errorf("NodeAdd with empty node id")
		}
		state.NodeAlive.Add(op.Node, op.Dot)
		state.ObservedFrontier.Advance(op.Dot.WriterID, op.Dot.Counter)
		return ResultApplied, nil, nil

	case OpNodeRemove:
		if op.Node == "" {
			return "", nil, fmt.Errorf("NodeRemove with empty node id")
		}
		state.NodeAlive.Remove(op.Node, op.ObservedDots)
		return ResultApplied, nil, nil

	case OpEdgeAdd:
		if op.From == "" || op.To == "" {
			return "", nil, fmt.Errorf("EdgeAdd with empty endpoint")
		}
		key := EncodeEdgeKey(op.From, op.To, op.Label)
		state.EdgeAlive.Add(key, op.Dot)
		state.ObservedFrontier.Advance(op.Dot.WriterID, op.Dot.Counter)
		if cur, ok := state.EdgeBirthEvent[key]; !ok || eventID.Greater(cur) {
			state.EdgeBirthEvent[key] = eventID
		}
		return ResultApplied, nil, nil

	case OpEdgeRemove:
		if op.From == "" || op.To == "" {
			return "", nil, fmt.Errorf("EdgeRemove with empty endpoint")
		}
		key := EncodeEdgeKey(op.From, op.To, op.Label)
		state.EdgeAlive.Remove(key, op.ObservedDots)
		return ResultApplied, nil, nil

	case OpPropSet:
		var key string
		switch op.Scope {
		case ScopeNode:
			if op.Node == "" || op.Key == "" {
				return "", nil, fmt.Errorf("node PropSet missing node or key")
			}
			key = EncodeNodePropKey(op.Node, op.Key)
		case ScopeEdge:
			if op.From == "" || op.To == "" || op.Key == "" {
				return "", nil, fmt.Errorf("edge PropSet missing endpoint or key")
			}
			key = EncodeEdgePropKey(op.From, op.To, op.Label, op.Key)
		default:
			return "", nil, fmt.Errorf("PropSet with unknown scope %q", op.Scope)
		}

		reg := state.Prop[key]
		if reg.IsSet() && !eventID.Greater(reg.EventID) {
			winner := reg.EventID
			if eventID.Compare(reg.EventID) == 0 {
				return ResultRedundant, &winner, nil
			}
			return ResultSuperseded, &winner, nil
		}
		reg.Set(eventID, op.Value)
		state.Prop[key] = reg
		return ResultApplied, nil, nil

	default:
		return "", nil, fmt.Errorf("unknown op type %q", op.Type)
	}
}
