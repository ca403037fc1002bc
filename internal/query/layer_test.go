package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/materialize"
	"github.com/warpdb/warp/internal/objectstore/memstore"
	"github.com/warpdb/warp/internal/warpids"
)

func newTestLayer(t *testing.T) *Layer {
	t.Helper()
	mat := materialize.New(memstore.New(), materialize.Options{})
	return New(mat)
}

func triangleState() crdt.WarpState {
	s := crdt.Empty()
	s.NodeAlive.Add("a", warpids.Dot{WriterID: "w", Counter: 1})
	s.NodeAlive.Add("b", warpids.Dot{WriterID: "w", Counter: 2})
	s.NodeAlive.Add("c", warpids.Dot{WriterID: "w", Counter: 3})
	s.EdgeAlive.Add(crdt.EncodeEdgeKey("a", "b", "knows"), warpids.Dot{WriterID: "w", Counter: 4})
	s.EdgeAlive.Add(crdt.EncodeEdgeKey("b", "c", "knows"), warpids.Dot{WriterID: "w", Counter: 5})
	s.EdgeAlive.Add(crdt.EncodeEdgeKey("c", "a", "knows"), warpids.Dot{WriterID: "w", Counter: 6})
	return s
}

func TestLayerStateWithoutSetStateRaisesNoState(t *testing.T) {
	l := newTestLayer(t)
	_, err := l.State()
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeNoState, appErr.Code)
}

func TestLayerHasNodeAndProps(t *testing.T) {
	l := newTestLayer(t)
	state := triangleState()
	state.Prop[crdt.EncodeNodePropKey("a", "name")] = crdt.LWWRegister{}
	reg := state.Prop[crdt.EncodeNodePropKey("a", "name")]
	reg.Set(warpids.EventId{Lamport: 1, WriterID: "w"}, crdt.String("alice"))
	state.Prop[crdt.EncodeNodePropKey("a", "name")] = reg
	l.SetState(state)

	ok, err := l.HasNode("a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.HasNode("zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	props, err := l.GetNodeProps("a")
	require.NoError(t, err)
	v, ok := props["name"]
	require.True(t, ok)
	assert.Equal(t, "alice", v.S)
}

func TestLayerGetEdgesDirection(t *testing.T) {
	l := newTestLayer(t)
	l.SetState(triangleState())

	out, err := l.GetEdges("a", DirOut)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].To)

	in, err := l.GetEdges("a", DirIn)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "c", in[0].From)

	both, err := l.GetEdges("a", DirBoth)
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestLayerNeighborsDeterministicOrder(t *testing.T) {
	l := newTestLayer(t)
	state := crdt.Empty()
	state.NodeAlive.Add("hub", warpids.Dot{WriterID: "w", Counter: 1})
	state.NodeAlive.Add("x", warpids.Dot{WriterID: "w", Counter: 2})
	state.NodeAlive.Add("y", warpids.Dot{WriterID: "w", Counter: 3})
	state.EdgeAlive.Add(crdt.EncodeEdgeKey("hub", "y", "b"), warpids.Dot{WriterID: "w", Counter: 4})
	state.EdgeAlive.Add(crdt.EncodeEdgeKey("hub", "x", "a"), warpids.Dot{WriterID: "w", Counter: 5})
	l.SetState(state)

	neighbors, err := l.Neighbors("hub", DirOut, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, neighbors)
}

func TestLayerNeighborsLabelFilter(t *testing.T) {
	l := newTestLayer(t)
	l.SetState(triangleState())

	neighbors, err := l.Neighbors("a", DirOut, LabelSet("nope"))
	require.NoError(t, err)
	assert.Empty(t, neighbors)

	neighbors, err = l.Neighbors("a", DirOut, LabelSet("knows"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, neighbors)
}

func TestLayerCheckFreshDetectsStaleState(t *testing.T) {
	l := newTestLayer(t)
	state := triangleState()
	state.ObservedFrontier = warpids.VersionVector{"w": 3}
	l.SetState(state)

	err := l.CheckFresh(warpids.VersionVector{"w": 3})
	require.NoError(t, err)

	err = l.CheckFresh(warpids.VersionVector{"w": 10})
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeStaleState, appErr.Code)
}
