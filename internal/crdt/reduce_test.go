package crdt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdb/warp/internal/warpids"
)

func writerAddNode(writer string, lamport uint64, counter uint64, node string) Decoded {
	return Decoded{
		SHA: writer + "-" + node,
		Patch: Patch{
			Schema:  SchemaVersion,
			Writer:  writer,
			Lamport: lamport,
			Context: warpids.VersionVector{},
			Ops: []Op{
				NodeAddOp(node, warpids.Dot{WriterID: writer, Counter: counter}),
			},
		},
	}
}

func TestReduceSingleWriterLinear(t *testing.T) {
	p1 := writerAddNode("a", 1, 1, "x")
	p2 := Decoded{
		SHA: "a-setk",
		Patch: Patch{
			Schema: SchemaVersion, Writer: "a", Lamport: 2,
			Ops: []Op{NodePropSetOp("x", "k", String("v"))},
		},
	}

	state, _, err := Reduce([]Decoded{p1, p2}, ReduceOptions{})
	require.NoError(t, err)

	assert.True(t, state.HasNode("x"))
	v, ok := state.NodeProp("x", "k")
	require.True(t, ok)
	assert.Equal(t, "v", v.S)
}

func TestReduceTwoWriterMergeHigherLamportWins(t *testing.T) {
	a := Decoded{SHA: "a1", Patch: Patch{Schema: SchemaVersion, Writer: "A", Lamport: 5, Ops: []Op{
		NodeAddOp("n", warpids.Dot{WriterID: "A", Counter: 1}),
		NodePropSetOp("n", "who", String("A")),
	}}}
	b := Decoded{SHA: "b1", Patch: Patch{Schema: SchemaVersion, Writer: "B", Lamport: 2, Ops: []Op{
		NodeAddOp("n", warpids.Dot{WriterID: "B", Counter: 1}),
		NodePropSetOp("n", "who", String("B")),
	}}}

	state, _, err := Reduce([]Decoded{a, b}, ReduceOptions{})
	require.NoError(t, err)

	assert.True(t, state.HasNode("n"))
	assert.ElementsMatch(t, []warpids.Dot{{WriterID: "A", Counter: 1}, {WriterID: "B", Counter: 1}}, state.NodeAlive.Dots("n"))
	who, ok := state.NodeProp("n", "who")
	require.True(t, ok)
	assert.Equal(t, "A", who.S)
}

func TestReduceEdgeRemoveReAddCleanSlate(t *testing.T) {
	add1 := Decoded{SHA: "p1", Patch: Patch{Schema: SchemaVersion, Writer: "w", Lamport: 1, Ops: []Op{
		EdgeAddOp("a", "b", "rel", warpids.Dot{WriterID: "w", Counter: 1}),
		EdgePropSetOp("a", "b", "rel", "weight", Int(42)),
	}}}
	remove := Decoded{SHA: "p2", Patch: Patch{Schema: SchemaVersion, Writer: "w", Lamport: 2, Ops: []Op{
		EdgeRemoveOp("a", "b", "rel", []warpids.Dot{{WriterID: "w", Counter: 1}}),
	}}}
	readd := Decoded{SHA: "p3", Patch: Patch{Schema: SchemaVersion, Writer: "w", Lamport: 3, Ops: []Op{
		EdgeAddOp("a", "b", "rel", warpids.Dot{WriterID: "w", Counter: 2}),
	}}}

	state, _, err := Reduce([]Decoded{add1, remove, readd}, ReduceOptions{})
	require.NoError(t, err)

	assert.True(t, state.HasEdge("a", "b", "rel"))
	props := state.EdgeProps("a", "b", "rel")
	assert.Empty(t, props, "stale property from tombstoned incarnation must not surface")

	// A later PropSet at lamport >= re-add lamport becomes visible again.
	lateSet := Decoded{SHA: "p4", Patch: Patch{Schema: SchemaVersion, Writer: "w", Lamport: 3, Ops: []Op{
		EdgePropSetOp("a", "b", "rel", "weight", Int(7)),
	}}}
	state2, _, err := Reduce([]Decoded{add1, remove, readd, lateSet}, ReduceOptions{})
	require.NoError(t, err)
	v, ok := state2.EdgeProp("a", "b", "rel", "weight")
	require.True(t, ok)
	assert.EqualValues(t, 7, v.I)
}

func buildSamplePatches() []Decoded {
	return []Decoded{
		writerAddNode("a", 1, 1, "n1"),
		writerAddNode("a", 2, 2, "n2"),
		writerAddNode("b", 3, 1, "n3"),
		{SHA: "a-edge", Patch: Patch{Schema: SchemaVersion, Writer: "a", Lamport: 4, Ops: []Op{
			EdgeAddOp("n1", "n2", "rel", warpids.Dot{WriterID: "a", Counter: 3}),
		}}},
		{SHA: "b-prop", Patch: Patch{Schema: SchemaVersion, Writer: "b", Lamport: 5, Ops: []Op{
			NodePropSetOp("n3", "k", Int(9)),
		}}},
	}
}

func TestReducePermutationInvariance(t *testing.T) {
	base := buildSamplePatches()
	baseState, _, err := Reduce(base, ReduceOptions{})
	require.NoError(t, err)
	baseHash := StateHash(baseState)

	rnd := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		shuffled := make([]Decoded, len(base))
		copy(shuffled, base)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		state, _, err := Reduce(shuffled, ReduceOptions{})
		require.NoError(t, err)
		assert.Equal(t, baseHash, StateHash(state), "trial %d", trial)
	}
}

func TestJoinLatticeLaws(t *testing.T) {
	a, _, err := Reduce(buildSamplePatches()[:2], ReduceOptions{})
	require.NoError(t, err)
	b, _, err := Reduce(buildSamplePatches()[2:4], ReduceOptions{})
	require.NoError(t, err)
	c, _, err := Reduce(buildSamplePatches()[4:], ReduceOptions{})
	require.NoError(t, err)
	empty := Empty()

	assert.Equal(t, StateHash(a.Join(b)), StateHash(b.Join(a)), "commutative")
	assert.Equal(t, StateHash(a.Join(b).Join(c)), StateHash(a.Join(b.Join(c))), "associative")
	assert.Equal(t, StateHash(a), StateHash(a.Join(a)), "idempotent")
	assert.Equal(t, StateHash(a), StateHash(a.Join(empty)), "identity")
}

func TestMonotonicity(t *testing.T) {
	a, _, err := Reduce(buildSamplePatches()[:2], ReduceOptions{})
	require.NoError(t, err)
	b, _, err := Reduce(buildSamplePatches()[2:], ReduceOptions{})
	require.NoError(t, err)
	joined := a.Join(b)

	for _, row := range SortedEntries(a.NodeAlive, func(e string) string { return e }) {
		for _, d := range row.Dots {
			assert.Contains(t, joined.NodeAlive.Dots(row.Elem), d)
		}
	}
	for writer, counter := range a.ObservedFrontier {
		assert.GreaterOrEqual(t, joined.ObservedFrontier[writer], counter)
	}
}

func TestReceiptsSupersededCarriesWinner(t *testing.T) {
	early := Decoded{SHA: "s1", Patch: Patch{Schema: SchemaVersion, Writer: "a", Lamport: 1, Ops: []Op{
		NodePropSetOp("n", "k", String("old")),
	}}}
	late := Decoded{SHA: "s2", Patch: Patch{Schema: SchemaVersion, Writer: "a", Lamport: 2, Ops: []Op{
		NodePropSetOp("n", "k", String("new")),
	}}}

	// Reduce sorts its input by lamport, so the late write must already be
	// folded into the initial state for the early one to lose to it.
	lateState, _, err := Reduce([]Decoded{late}, ReduceOptions{})
	require.NoError(t, err)

	_, receipts, err := Reduce([]Decoded{late, early}, ReduceOptions{Initial: &lateState, Receipts: true})
	require.NoError(t, err)
	require.Len(t, receipts, 2)

	var supersededSeen bool
	for _, r := range receipts {
		for _, opr := range r.Ops {
			if opr.Result == ResultSuperseded {
				supersededSeen = true
				require.NotNil(t, opr.Winner)
				assert.Equal(t, "a", opr.Winner.WriterID)
				assert.EqualValues(t, 2, opr.Winner.Lamport)
			}
		}
	}
	assert.True(t, supersededSeen)
}

func TestReduceMalformedPatchFailsWhole(t *testing.T) {
	bad := Decoded{SHA: "bad", Patch: Patch{Schema: SchemaVersion, Writer: "a", Lamport: 1, Ops: []Op{
		{Type: OpNodeAdd, Node: ""},
	}}}
	_, _, err := Reduce([]Decoded{bad}, ReduceOptions{})
	require.Error(t, err)
}
