package materialize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/objectstore/memstore"
	"github.com/warpdb/warp/internal/patch"
	"github.com/warpdb/warp/internal/warpids"
)

func commitPatch(t *testing.T, ctx context.Context, store *memstore.Store, graph, writer string, lamport uint64, ops []crdt.Op) string {
	t.Helper()
	p := crdt.Patch{Schema: crdt.SchemaVersion, Writer: writer, Lamport: lamport, Ops: ops}
	blob, err := patch.EncodeBlob(p)
	require.NoError(t, err)
	oid, err := store.WriteBlob(ctx, blob)
	require.NoError(t, err)

	ref := "refs/warp/" + graph + "/writers/" + writer
	var parents []string
	if head, ok, _ := store.ReadRef(ctx, ref); ok {
		parents = []string{head}
	}
	message := patch.FormatMessage(patch.Message{Graph: graph, Writer: writer, Lamport: lamport, PatchOID: oid, Schema: crdt.SchemaVersion})
	sha, err := store.CommitNode(ctx, objectstore.CommitSpec{Message: message, Parents: parents})
	require.NoError(t, err)
	require.NoError(t, store.UpdateRef(ctx, ref, sha))
	return sha
}

func TestMaterializeFoldsAllWriters(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	commitPatch(t, ctx, store, "demo", "w_a", 1, []crdt.Op{crdt.NodeAddOp("n1", warpids.Dot{WriterID: "w_a", Counter: 1})})
	commitPatch(t, ctx, store, "demo", "w_b", 2, []crdt.Op{crdt.NodeAddOp("n2", warpids.Dot{WriterID: "w_b", Counter: 1})})

	svc := New(store, Options{})
	state, _, err := svc.Materialize(ctx, "demo", MaterializeOptions{})
	require.NoError(t, err)

	assert.True(t, state.HasNode("n1"))
	assert.True(t, state.HasNode("n2"))
}

func TestMaterializeCachesResult(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	commitPatch(t, ctx, store, "demo", "w_a", 1, []crdt.Op{crdt.NodeAddOp("n1", warpids.Dot{WriterID: "w_a", Counter: 1})})

	svc := New(store, Options{})
	s1, _, err := svc.Materialize(ctx, "demo", MaterializeOptions{})
	require.NoError(t, err)

	svc.mu.Lock()
	cached := len(svc.cache)
	svc.mu.Unlock()
	assert.Equal(t, 1, cached)

	s2, _, err := svc.Materialize(ctx, "demo", MaterializeOptions{})
	require.NoError(t, err)
	assert.Equal(t, crdt.StateHash(s1), crdt.StateHash(s2))
}

func TestMaterializeCeilingExcludesLaterPatches(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	commitPatch(t, ctx, store, "demo", "w_a", 1, []crdt.Op{crdt.NodeAddOp("n1", warpids.Dot{WriterID: "w_a", Counter: 1})})
	commitPatch(t, ctx, store, "demo", "w_a", 2, []crdt.Op{crdt.NodeAddOp("n2", warpids.Dot{WriterID: "w_a", Counter: 2})})

	svc := New(store, Options{})
	ceiling := uint64(1)
	state, _, err := svc.Materialize(ctx, "demo", MaterializeOptions{Ceiling: &ceiling})
	require.NoError(t, err)

	assert.True(t, state.HasNode("n1"))
	assert.False(t, state.HasNode("n2"))
}

func TestCheckpointFastStartSkipsAppliedPatches(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	commitPatch(t, ctx, store, "demo", "w_a", 1, []crdt.Op{crdt.NodeAddOp("n1", warpids.Dot{WriterID: "w_a", Counter: 1})})

	svc := New(store, Options{})
	state, _, err := svc.Materialize(ctx, "demo", MaterializeOptions{})
	require.NoError(t, err)

	ckpt := NewCheckpointService(store)
	_, err = ckpt.Install(ctx, "demo", state, warpids.VersionVector{"w_a": 1})
	require.NoError(t, err)

	commitPatch(t, ctx, store, "demo", "w_a", 2, []crdt.Op{crdt.NodeAddOp("n2", warpids.Dot{WriterID: "w_a", Counter: 2})})

	svc2 := New(store, Options{})
	state2, _, err := svc2.Materialize(ctx, "demo", MaterializeOptions{})
	require.NoError(t, err)
	assert.True(t, state2.HasNode("n1"))
	assert.True(t, state2.HasNode("n2"))
}

func TestDiscoverTicksListsDistinctLamports(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	commitPatch(t, ctx, store, "demo", "w_a", 1, []crdt.Op{crdt.NodeAddOp("n1", warpids.Dot{WriterID: "w_a", Counter: 1})})
	commitPatch(t, ctx, store, "demo", "w_b", 3, []crdt.Op{crdt.NodeAddOp("n2", warpids.Dot{WriterID: "w_b", Counter: 1})})

	svc := New(store, Options{})
	ticks, err := svc.DiscoverTicks(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, ticks.Distinct)
}
