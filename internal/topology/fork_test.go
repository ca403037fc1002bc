package topology

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/objectstore/memstore"
	"github.com/warpdb/warp/internal/patch"
	"github.com/warpdb/warp/internal/warpids"
)

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

func TestIsAncestorWalksLinearChain(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	first := commitPatch(t, ctx, store, "g", "a", 1, "n1")
	second := commitPatch(t, ctx, store, "g", "a", 2, "n2")

	ok, err := IsAncestor(ctx, store, first, second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsAncestor(ctx, store, second, first)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = IsAncestor(ctx, store, first, first)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestForkCreatesWriterRefAtAncestor(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	first := commitPatch(t, ctx, store, "g", "a", 1, "n1")
	commitPatch(t, ctx, store, "g", "a", 2, "n2")

	svc := NewForkService(store)
	ref, err := svc.Fork(ctx, ForkRequest{Graph: "g", Writer: "a", At: first, ForkName: "g-fork"})
	require.NoError(t, err)
	assert.Equal(t, objectstore.WriterRef("g-fork", "a"), ref)

	sha, ok, err := store.ReadRef(ctx, ref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, sha)
}

func TestForkRejectsUnknownWriter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	first := commitPatch(t, ctx, store, "g", "a", 1, "n1")

	svc := NewForkService(store)
	_, err := svc.Fork(ctx, ForkRequest{Graph: "g", Writer: "ghost", At: first, ForkName: "g-fork"})
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeForkWriterNotFound, appErr.Code)
}

func TestForkRejectsCommitNotInChain(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	commitPatch(t, ctx, store, "g", "a", 1, "n1")
	otherTip := commitPatch(t, ctx, store, "g", "b", 1, "m1")

	svc := NewForkService(store)
	_, err := svc.Fork(ctx, ForkRequest{Graph: "g", Writer: "a", At: otherTip, ForkName: "g-fork"})
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeForkPatchNotInChain, appErr.Code)
}

func TestForkRejectsExistingTargetGraph(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	first := commitPatch(t, ctx, store, "g", "a", 1, "n1")
	commitPatch(t, ctx, store, "taken", "a", 1, "n1")

	svc := NewForkService(store)
	_, err := svc.Fork(ctx, ForkRequest{Graph: "g", Writer: "a", At: first, ForkName: "taken"})
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeForkAlreadyExists, appErr.Code)
}
