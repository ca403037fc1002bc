package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/materialize"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/objectstore/memstore"
	"github.com/warpdb/warp/internal/patch"
	"github.com/warpdb/warp/internal/warpids"
)

// commitPatch hand-builds and commits a single-op patch for writer at an
// explicit lamport, mirroring the materialize package's own test helper so
// writer chains used here have the exact shape ProcessSyncRequest walks.
func commitPatch(t *testing.T, ctx context.Context, store *memstore.Store, graph, writer string, lamport uint64, node string) string {
	t.Helper()
	p := crdt.Patch{
		Schema:  crdt.SchemaVersion,
		Writer:  writer,
		Lamport: lamport,
		Ops:     []crdt.Op{crdt.NodeAddOp(node, warpids.Dot{WriterID: writer, Counter: lamport})},
	}
	blob, err := patch.EncodeBlob(p)
	require.NoError(t, err)
	oid, err := store.WriteBlob(ctx, blob)
	require.NoError(t, err)

	ref := objectstore.WriterRef(graph, writer)
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

func TestLocalFrontierReflectsWriterTips(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	commitPatch(t, ctx, store, "g", "a", 1, "n1")

	svc := New(store, nil)
	vv, err := svc.LocalFrontier(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), vv["a"])
}

func TestProcessSyncRequestReturnsMissingPatches(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	commitPatch(t, ctx, store, "g", "a", 1, "n1")
	commitPatch(t, ctx, store, "g", "a", 2, "n2")

	svc := New(store, nil)
	resp, err := svc.ProcessSyncRequest(ctx, "g", NewRequest(nil))
	require.NoError(t, err)
	require.Len(t, resp.Patches, 2)
	assert.Equal(t, "a", resp.Patches[0].WriterID)
}

func TestProcessSyncRequestOmitsAlreadyKnownPatches(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	commitPatch(t, ctx, store, "g", "a", 1, "n1")
	commitPatch(t, ctx, store, "g", "a", 2, "n2")

	svc := New(store, nil)
	resp, err := svc.ProcessSyncRequest(ctx, "g", NewRequest(map[string]uint64{"a": 1}))
	require.NoError(t, err)
	require.Len(t, resp.Patches, 1)
}

func TestApplyResponseExtendsLocalWriterChain(t *testing.T) {
	ctx := context.Background()
	remote := memstore.New()
	commitPatch(t, ctx, remote, "g", "a", 1, "n1")
	remoteSvc := New(remote, nil)
	resp, err := remoteSvc.ProcessSyncRequest(ctx, "g", NewRequest(nil))
	require.NoError(t, err)

	local := memstore.New()
	mat := materialize.New(local, materialize.Options{})
	localSvc := New(local, nil)
	err = localSvc.ApplyResponse(ctx, mat, "g", resp)
	require.NoError(t, err)

	state, _, err := mat.Materialize(ctx, "g", materialize.MaterializeOptions{})
	require.NoError(t, err)
	assert.True(t, state.HasNode("n1"))
}

func TestApplyResponseRejectsBackfill(t *testing.T) {
	ctx := context.Background()
	remote := memstore.New()
	commitPatch(t, ctx, remote, "g", "a", 1, "n1")
	remoteSvc := New(remote, nil)
	resp, err := remoteSvc.ProcessSyncRequest(ctx, "g", NewRequest(nil))
	require.NoError(t, err)

	local := memstore.New()
	localSvc := New(local, nil)
	mat := materialize.New(local, materialize.Options{})
	require.NoError(t, localSvc.ApplyResponse(ctx, mat, "g", resp))

	// Re-applying the same already-known patch must be rejected as backfill.
	err = localSvc.ApplyResponse(ctx, mat, "g", resp)
	require.Error(t, err)
}

func TestApplyResponseRejectsDivergentLocalWrite(t *testing.T) {
	ctx := context.Background()
	remote := memstore.New()
	commitPatch(t, ctx, remote, "g", "a", 1, "n1")
	remoteSvc := New(remote, nil)
	resp, err := remoteSvc.ProcessSyncRequest(ctx, "g", NewRequest(nil))
	require.NoError(t, err)

	local := memstore.New()
	// A local write to writer a's chain lands first, at the same lamport
	// the remote response carries. Since the minimal wire envelope has no
	// parent link, this divergence surfaces the same way backfill does:
	// the incoming lamport no longer strictly exceeds the local frontier.
	commitPatch(t, ctx, local, "g", "a", 1, "local-only")

	localSvc := New(local, nil)
	mat := materialize.New(local, materialize.Options{})
	err = localSvc.ApplyResponse(ctx, mat, "g", resp)
	require.Error(t, err)
}

func TestWireRoundTripIsCanonicalJSON(t *testing.T) {
	req := NewRequest(map[string]uint64{"b": 2, "a": 1})
	data, err := MarshalCanonical(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"a":1`)

	var decoded Request
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req.Frontier, decoded.Frontier)
}
