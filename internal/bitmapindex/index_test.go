package bitmapindex

import (
	"context"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/objectstore/memstore"
	"github.com/warpdb/warp/internal/warpids"
)

func buildTestState() crdt.WarpState {
	s := crdt.Empty()
	s.NodeAlive.Add("a", warpids.Dot{WriterID: "w", Counter: 1})
	s.NodeAlive.Add("b", warpids.Dot{WriterID: "w", Counter: 2})
	s.NodeAlive.Add("c", warpids.Dot{WriterID: "w", Counter: 3})
	s.EdgeAlive.Add(crdt.EncodeEdgeKey("a", "b", "rel"), warpids.Dot{WriterID: "w", Counter: 4})
	s.EdgeAlive.Add(crdt.EncodeEdgeKey("b", "c", "rel"), warpids.Dot{WriterID: "w", Counter: 5})
	return s
}

func TestBuildAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	state := buildTestState()

	treeOID, err := NewBuilder(store, 2).Build(ctx, state)
	require.NoError(t, err)

	reader, err := Load(ctx, store, treeOID)
	require.NoError(t, err)
	assert.Equal(t, 3, reader.NodeCount())

	aID, ok := reader.IDFor("a")
	require.True(t, ok)
	bID, ok := reader.IDFor("b")
	require.True(t, ok)
	cID, ok := reader.IDFor("c")
	require.True(t, ok)

	fwd, err := reader.Forward(ctx, aID)
	require.NoError(t, err)
	assert.Equal(t, []uint32{uint32(bID)}, fwd)

	rev, err := reader.Reverse(ctx, cID)
	require.NoError(t, err)
	assert.Equal(t, []uint32{uint32(bID)}, rev)
}

func TestForwardReverseInvariantHoldsForEveryEdge(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	state := buildTestState()

	treeOID, err := NewBuilder(store, 1).Build(ctx, state)
	require.NoError(t, err)
	reader, err := Load(ctx, store, treeOID)
	require.NoError(t, err)

	for _, edgeKey := range state.EdgeAlive.Elements() {
		from, to, _, ok := crdt.DecodeEdgeKey(edgeKey)
		require.True(t, ok)
		fromID, _ := reader.IDFor(from)
		toID, _ := reader.IDFor(to)

		fwd, err := reader.Forward(ctx, fromID)
		require.NoError(t, err)
		assert.Contains(t, fwd, uint32(toID))

		rev, err := reader.Reverse(ctx, toID)
		require.NoError(t, err)
		assert.Contains(t, rev, uint32(fromID))
	}
}

func TestLoadRejectsTreeMissingMetaInfo(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	emptyTreeOID, err := store.WriteTree(ctx, map[string]string{})
	require.NoError(t, err)
	_, err = Load(ctx, store, emptyTreeOID)
	require.Error(t, err)
}

func TestLookupRejectsCorruptedShardChecksum(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	state := buildTestState()

	treeOID, err := NewBuilder(store, 2).Build(ctx, state)
	require.NoError(t, err)

	entries, err := store.ReadTreeOids(ctx, treeOID)
	require.NoError(t, err)

	shardOID, ok := entries[fwdShardKey(0)]
	require.True(t, ok)
	blob, err := store.ReadBlob(ctx, shardOID)
	require.NoError(t, err)
	var payload shardPayload
	require.NoError(t, cbor.Unmarshal(blob, &payload))
	payload.Checksum = "0000000000000000000000000000000000000000000000000000000000000000"
	corrupted, err := cbor.Marshal(payload)
	require.NoError(t, err)
	corruptedOID, err := store.WriteBlob(ctx, corrupted)
	require.NoError(t, err)
	entries[fwdShardKey(0)] = corruptedOID

	corruptedTreeOID, err := store.WriteTree(ctx, entries)
	require.NoError(t, err)

	reader, err := Load(ctx, store, corruptedTreeOID)
	require.NoError(t, err)

	aID, ok := reader.IDFor("a")
	require.True(t, ok)
	_, err = reader.Forward(ctx, aID)
	require.Error(t, err)

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.CodeShardValidationError, appErr.Code)
}
