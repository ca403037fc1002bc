package engine

import (
	"context"
	"fmt"

	"github.com/warpdb/warp/internal/objectstore"
)

// GCPolicy decides what to do after a checkpoint has been installed. A
// policy never deletes objects itself (deletion is an external concern);
// it only marks collectible SHAs via the store's config entries, leaving
// actual reclamation to whatever out-of-process tool owns the store.
type GCPolicy interface {
	AfterCheckpoint(ctx context.Context, store objectstore.Store, graph, checkpointSHA string) error
}

// NoopGCPolicy never marks anything collectible. The default.
type NoopGCPolicy struct{}

func (NoopGCPolicy) AfterCheckpoint(context.Context, objectstore.Store, string, string) error {
	return nil
}

// KeepLastNCheckpoints walks graph's checkpoint chain back from the
// just-installed checkpoint; once it has seen N checkpoints, it records the
// boundary checkpoint's SHA as collectible under a per-graph config key,
// leaving everything at or before that boundary available for external GC
// and everything after it untouched.
type KeepLastNCheckpoints struct {
	N int
}

func (p KeepLastNCheckpoints) AfterCheckpoint(ctx context.Context, store objectstore.Store, graph, checkpointSHA string) error {
	if p.N <= 0 {
		return nil
	}
	sha := checkpointSHA
	count := 0
	for sha != "" {
		info, err := store.GetNodeInfo(ctx, sha)
		if err != nil {
			return fmt.Errorf("read checkpoint %s: %w", sha, err)
		}
		count++
		if count > p.N {
			return store.ConfigSet(ctx, collectibleKey(graph), sha)
		}
		if len(info.Parents) == 0 {
			return nil
		}
		sha = info.Parents[0]
	}
	return nil
}

func collectibleKey(graph string) string {
	return "gc-collectible-checkpoint:" + graph
}
