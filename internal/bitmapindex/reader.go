package bitmapindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/objectstore"
)

// Reader loads a bitmap index tree written by Builder, reading meta eagerly
// and shards lazily on first access (spec §4.4).
type Reader struct {
	store   objectstore.Store
	treeOID string

	meta    MetaInfo
	ids     []string
	idByStr map[string]int

	mu        sync.Mutex
	fwdShards map[int][]*roaring.Bitmap
	revShards map[int][]*roaring.Bitmap
	entries   map[string]string
}

// Load reads treeOID's meta_info and meta_ids eagerly, validating the codec
// version, and returns a Reader ready to serve lookups. Shard blobs are only
// fetched the first time a lookup needs an id in their range.
func Load(ctx context.Context, store objectstore.Store, treeOID string) (*Reader, error) {
	entries, err := store.ReadTreeOids(ctx, treeOID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeShardLoadError, "read index tree", err)
	}

	metaOID, ok := entries["meta_info"]
	if !ok {
		return nil, apperrors.New(apperrors.CodeShardValidationError, "index tree missing meta_info")
	}
	metaBlob, err := store.ReadBlob(ctx, metaOID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeShardLoadError, "read meta_info blob", err)
	}
	var meta MetaInfo
	if err := cbor.Unmarshal(metaBlob, &meta); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeShardCorruptionError, "decode meta_info", err)
	}
	if meta.CodecVersion != codecVersion {
		return nil, apperrors.New(apperrors.CodeShardValidationError,
			fmt.Sprintf("index codec version %d unsupported (want %d)", meta.CodecVersion, codecVersion))
	}

	idsOID, ok := entries["meta_ids"]
	if !ok {
		return nil, apperrors.New(apperrors.CodeShardValidationError, "index tree missing meta_ids")
	}
	idsBlob, err := store.ReadBlob(ctx, idsOID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeShardLoadError, "read meta_ids blob", err)
	}
	var ids []string
	if err := cbor.Unmarshal(idsBlob, &ids); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeShardCorruptionError, "decode meta_ids", err)
	}
	if len(ids) != meta.NodeCount {
		return nil, apperrors.New(apperrors.CodeShardValidationError,
			fmt.Sprintf("meta_ids length %d does not match meta_info.n %d", len(ids), meta.NodeCount))
	}

	idByStr := make(map[string]int, len(ids))
	for i, id := range ids {
		idByStr[id] = i
	}

	return &Reader{
		store:     store,
		treeOID:   treeOID,
		meta:      meta,
		ids:       ids,
		idByStr:   idByStr,
		entries:   entries,
		fwdShards: make(map[int][]*roaring.Bitmap),
		revShards: make(map[int][]*roaring.Bitmap),
	}, nil
}

// NodeCount returns the number of nodes the index covers.
func (r *Reader) NodeCount() int { return r.meta.NodeCount }

// IDFor returns the compact id assigned to a node, if it is covered by the index.
func (r *Reader) IDFor(node string) (int, bool) {
	id, ok := r.idByStr[node]
	return id, ok
}

// NodeFor returns the node id a compact id was assigned to.
func (r *Reader) NodeFor(id int) (string, bool) {
	if id < 0 || id >= len(r.ids) {
		return "", false
	}
	return r.ids[id], true
}

// Forward returns the compact ids id points to.
func (r *Reader) Forward(ctx context.Context, id int) ([]uint32, error) {
	return r.lookup(ctx, id, true)
}

// Reverse returns the compact ids that point to id.
func (r *Reader) Reverse(ctx context.Context, id int) ([]uint32, error) {
	return r.lookup(ctx, id, false)
}

func (r *Reader) lookup(ctx context.Context, id int, forward bool) ([]uint32, error) {
	if id < 0 || id >= r.meta.NodeCount {
		return nil, apperrors.New(apperrors.CodeShardValidationError, fmt.Sprintf("id %d out of range [0,%d)", id, r.meta.NodeCount))
	}
	shard := shardIndex(id, r.meta.ShardSize)
	bitmaps, err := r.loadShard(ctx, shard, forward)
	if err != nil {
		return nil, err
	}
	offset := id - shard*r.meta.ShardSize
	return bitmaps[offset].ToArray(), nil
}

func (r *Reader) loadShard(ctx context.Context, shard int, forward bool) ([]*roaring.Bitmap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cache := r.revShards
	key := revShardKey(shard)
	if forward {
		cache = r.fwdShards
		key = fwdShardKey(shard)
	}
	if bitmaps, ok := cache[shard]; ok {
		return bitmaps, nil
	}

	oid, ok := r.entries[key]
	if !ok {
		return nil, apperrors.New(apperrors.CodeShardValidationError, fmt.Sprintf("index tree missing shard %q", key))
	}
	blob, err := r.store.ReadBlob(ctx, oid)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeShardLoadError, fmt.Sprintf("read shard %q", key), err)
	}
	var payload shardPayload
	if err := cbor.Unmarshal(blob, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeShardCorruptionError, fmt.Sprintf("decode shard %q", key), err)
	}
	if got := shardChecksum(payload.Bitmaps); got != payload.Checksum {
		return nil, apperrors.New(apperrors.CodeShardValidationError,
			fmt.Sprintf("shard %q checksum mismatch: recorded %s, computed %s", key, payload.Checksum, got))
	}

	bitmaps := make([]*roaring.Bitmap, len(payload.Bitmaps))
	for i, data := range payload.Bitmaps {
		bm := roaring.New()
		if _, err := bm.FromBuffer(data); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeShardCorruptionError, fmt.Sprintf("decode bitmap %d in shard %q", i, key), err)
		}
		bitmaps[i] = bm
	}
	cache[shard] = bitmaps
	return bitmaps, nil
}
