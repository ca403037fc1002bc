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

func setNodeProp(state crdt.WarpState, node, key string, v crdt.Value, lamport uint64) {
	k := crdt.EncodeNodePropKey(node, key)
	reg := state.Prop[k]
	reg.Set(warpids.EventId{Lamport: lamport, WriterID: "w"}, v)
	state.Prop[k] = reg
}

func TestCompilePatternMatchesGlobStar(t *testing.T) {
	re, err := compilePattern("user:*")
	require.NoError(t, err)
	assert.True(t, re.MatchString("user:42"))
	assert.False(t, re.MatchString("order:42"))
}

func TestCompilePatternEscapesMetacharacters(t *testing.T) {
	re, err := compilePattern("a.b(c)")
	require.NoError(t, err)
	assert.True(t, re.MatchString("a.b(c)"))
	assert.False(t, re.MatchString("aXb(c)"))
}

func TestObserverScopesToMatchingNodes(t *testing.T) {
	mat := materialize.New(memstore.New(), materialize.Options{})
	l := New(mat)
	state := crdt.Empty()
	state.NodeAlive.Add("user:1", warpids.Dot{WriterID: "w", Counter: 1})
	state.NodeAlive.Add("order:1", warpids.Dot{WriterID: "w", Counter: 2})
	l.SetState(state)

	obs, err := NewObserver(l, "user:*", ObserverOptions{})
	require.NoError(t, err)

	nodes, err := obs.Nodes()
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1"}, nodes)

	_, err = obs.NodeProps("order:1")
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeOutOfScope, appErr.Code)
}

func TestObserverRedactsProps(t *testing.T) {
	mat := materialize.New(memstore.New(), materialize.Options{})
	l := New(mat)
	state := crdt.Empty()
	state.NodeAlive.Add("user:1", warpids.Dot{WriterID: "w", Counter: 1})
	setNodeProp(state, "user:1", "email", crdt.String("a@example.com"), 1)
	setNodeProp(state, "user:1", "name", crdt.String("alice"), 2)
	l.SetState(state)

	obs, err := NewObserver(l, "user:*", ObserverOptions{RedactProps: []string{"email"}})
	require.NoError(t, err)

	props, err := obs.NodeProps("user:1")
	require.NoError(t, err)
	_, hasEmail := props["email"]
	assert.False(t, hasEmail)
	assert.Equal(t, "alice", props["name"].S)
}

func TestObserverExposePropsAllowlist(t *testing.T) {
	mat := materialize.New(memstore.New(), materialize.Options{})
	l := New(mat)
	state := crdt.Empty()
	state.NodeAlive.Add("user:1", warpids.Dot{WriterID: "w", Counter: 1})
	setNodeProp(state, "user:1", "email", crdt.String("a@example.com"), 1)
	setNodeProp(state, "user:1", "name", crdt.String("alice"), 2)
	l.SetState(state)

	obs, err := NewObserver(l, "user:*", ObserverOptions{ExposeProps: []string{"name"}})
	require.NoError(t, err)

	props, err := obs.NodeProps("user:1")
	require.NoError(t, err)
	assert.Len(t, props, 1)
	assert.Equal(t, "alice", props["name"].S)
}
