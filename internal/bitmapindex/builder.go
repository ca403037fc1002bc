package bitmapindex

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/objectstore"
)

// Builder constructs a bitmap index from a materialized WarpState (spec
// §4.4). Build is O(E + N log N): one pass over alive edges after the
// sorted node-id space is assigned.
type Builder struct {
	store     objectstore.Store
	shardSize int
}

// NewBuilder returns a Builder backed by store. shardSize <= 0 uses the
// default.
func NewBuilder(store objectstore.Store, shardSize int) *Builder {
	if shardSize <= 0 {
		shardSize = defaultShardSize
	}
	return &Builder{store: store, shardSize: shardSize}
}

// Build assigns compact ids to every visible node in state, builds the
// forward/reverse roaring bitmaps from alive edges, and writes the
// content-addressed sharded tree, returning its tree oid.
func (b *Builder) Build(ctx context.Context, state crdt.WarpState) (string, error) {
	ids, lookup := nodeIDSpace(state)
	n := len(ids)

	forward := make([]*roaring.Bitmap, n)
	reverse := make([]*roaring.Bitmap, n)
	for i := range forward {
		forward[i] = roaring.New()
		reverse[i] = roaring.New()
	}

	for _, edgeKey := range state.EdgeAlive.Elements() {
		from, to, _, ok := crdt.DecodeEdgeKey(edgeKey)
		if !ok {
			continue
		}
		fromID, fok := lookup[from]
		toID, tok := lookup[to]
		if !fok || !tok {
			// Edges whose endpoints are not visible (a dangling reference from
			// a stale property, never a live node) are excluded at build time.
			continue
		}
		forward[fromID].Add(uint32(toID))
		reverse[toID].Add(uint32(fromID))
	}

	shardCount := 1
	if n > 0 {
		shardCount = (n + b.shardSize - 1) / b.shardSize
	}

	entries := make(map[string]string)

	metaIDs, err := cbor.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode meta_ids: %w", err)
	}
	metaIDsOID, err := b.store.WriteBlob(ctx, metaIDs)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "write meta_ids blob", err)
	}
	entries["meta_ids"] = metaIDsOID

	for shard := 0; shard < shardCount; shard++ {
		lo := shard * b.shardSize
		hi := lo + b.shardSize
		if hi > n {
			hi = n
		}

		fwdOID, err := writeShard(ctx, b.store, forward[lo:hi])
		if err != nil {
			return "", err
		}
		entries[fwdShardKey(shard)] = fwdOID

		revOID, err := writeShard(ctx, b.store, reverse[lo:hi])
		if err != nil {
			return "", err
		}
		entries[revShardKey(shard)] = revOID
	}

	meta := MetaInfo{NodeCount: n, ShardCount: shardCount, ShardSize: b.shardSize, CodecVersion: codecVersion}
	metaBlob, err := cbor.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode meta_info: %w", err)
	}
	metaOID, err := b.store.WriteBlob(ctx, metaBlob)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "write meta_info blob", err)
	}
	entries["meta_info"] = metaOID

	treeOID, err := b.store.WriteTree(ctx, entries)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "write index tree", err)
	}
	return treeOID, nil
}

// shardPayload is the wire form of one shard: each compact id's bitmap
// serialized independently, in id order within the shard's range, plus a
// checksum over those bytes so the loader can detect corruption that still
// decodes cleanly (spec §4.4).
type shardPayload struct {
	Bitmaps  [][]byte `cbor:"bitmaps"`
	Checksum string   `cbor:"checksum"`
}

// shardChecksum hashes bitmaps' encoded bytes, each length-prefixed so the
// boundary between bitmaps is part of the hashed input (two shards whose
// bitmaps concatenate to the same bytes but split differently must not
// collide).
func shardChecksum(bitmaps [][]byte) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, data := range bitmaps {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
		h.Write(lenBuf[:])
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeShard(ctx context.Context, store objectstore.Store, bitmaps []*roaring.Bitmap) (string, error) {
	payload := shardPayload{Bitmaps: make([][]byte, len(bitmaps))}
	for i, bm := range bitmaps {
		data, err := bm.ToBytes()
		if err != nil {
			return "", fmt.Errorf("serialize bitmap: %w", err)
		}
		payload.Bitmaps[i] = data
	}
	payload.Checksum = shardChecksum(payload.Bitmaps)

	blob, err := cbor.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode shard: %w", err)
	}
	oid, err := store.WriteBlob(ctx, blob)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "write shard blob", err)
	}
	return oid, nil
}
