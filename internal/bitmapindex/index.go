// Package bitmapindex builds and reads a sharded roaring-bitmap adjacency
// index over a materialized WarpState (spec §4.4): O(1) forward/reverse
// neighbor lookup for the logical graph, keyed by a compact node-id space
// assigned from sorted node-id order.
package bitmapindex

import (
	"fmt"

	"github.com/warpdb/warp/internal/crdt"
)

// codecVersion is bumped whenever the on-disk shard layout changes
// incompatibly.
const codecVersion = 1

// defaultShardSize bounds how many compact node ids share one shard blob,
// keeping any single shard's serialized bitmaps bounded in size.
const defaultShardSize = 4096

// MetaInfo is the `meta_info` tree entry: enough to validate and navigate
// the rest of the index without touching any shard.
type MetaInfo struct {
	NodeCount    int `cbor:"n"`
	ShardCount   int `cbor:"shard_count"`
	ShardSize    int `cbor:"shard_size"`
	CodecVersion int `cbor:"codec_version"`
}

// shardIndex returns which shard compact id belongs to for the given shard size.
func shardIndex(id, shardSize int) int { return id / shardSize }

// fwdShardKey and revShardKey render the tree entry name for a forward/reverse shard.
func fwdShardKey(shard int) string { return fmt.Sprintf("shards_fwd_%d", shard) }
func revShardKey(shard int) string { return fmt.Sprintf("shards_rev_%d", shard) }

// nodeIDSpace assigns compact integer ids to every node in state by sorted
// node-id order (spec §4.4), returning the id list and a lookup from node id
// string to compact id.
func nodeIDSpace(state crdt.WarpState) ([]string, map[string]int) {
	ids := state.SortedNodeIDs()
	lookup := make(map[string]int, len(ids))
	for i, id := range ids {
		lookup[id] = i
	}
	return ids, lookup
}
