// Package materialize implements materialization, checkpointing, and
// time-travel over a writer-chain object store (spec §4.3): folding each
// writer's patch chain into a WarpState via crdt.Reduce, with checkpoint
// fast-start, a frontier+ceiling cache, and a secondary adjacency cache for
// repeated neighbor lookups.
package materialize

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/patch"
)

// maxChainWalkConcurrency bounds how many writer chains are walked
// concurrently per Materialize call.
const maxChainWalkConcurrency = 8

// walkWriterChain follows parent links from tip toward the root, decoding
// each patch commit lazily, and stops once a commit's lamport is <= floor
// (the checkpoint's recorded frontier for this writer) or the parent link is
// empty. Commits are returned oldest-first.
func walkWriterChain(ctx context.Context, store objectstore.Store, tip string, floor uint64, aborted func() bool) ([]crdt.Decoded, error) {
	var decoded []crdt.Decoded
	sha := tip
	for sha != "" {
		if aborted != nil && aborted() {
			return nil, apperrors.New(apperrors.CodeOperationAborted, "chain walk aborted")
		}

		info, err := store.GetNodeInfo(ctx, sha)
		if err != nil {
			return nil, fmt.Errorf("load commit %s: %w", sha, err)
		}

		msg, err := patch.ParseMessage(info.Message)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeMalformedPatch, fmt.Sprintf("commit %s is not a patch commit", sha), err)
		}
		if msg.Lamport <= floor {
			break
		}

		blob, err := store.ReadBlob(ctx, msg.PatchOID)
		if err != nil {
			return nil, fmt.Errorf("read patch blob %s: %w", msg.PatchOID, err)
		}
		p, err := patch.DecodeBlob(sha, blob)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, crdt.Decoded{SHA: sha, Patch: p})

		if len(info.Parents) == 0 {
			break
		}
		sha = info.Parents[0]
	}

	// Reverse into oldest-first order; Reduce re-sorts globally anyway, but
	// this keeps same-writer order intuitive for anyone inspecting the slice.
	for i, j := 0, len(decoded)-1; i < j; i, j = i+1, j-1 {
		decoded[i], decoded[j] = decoded[j], decoded[i]
	}
	return decoded, nil
}

// walkAllChains fans out walkWriterChain across every writer tip, bounded by
// maxChainWalkConcurrency, and returns the concatenation of every writer's
// decoded patches above its floor.
func walkAllChains(ctx context.Context, store objectstore.Store, tips map[string]string, floors map[string]uint64, aborted func() bool) ([]crdt.Decoded, error) {
	writers := make([]string, 0, len(tips))
	for w := range tips {
		writers = append(writers, w)
	}
	results := make([][]crdt.Decoded, len(writers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxChainWalkConcurrency)
	for i, w := range writers {
		i, w := i, w
		g.Go(func() error {
			chain, err := walkWriterChain(gctx, store, tips[w], floors[w], aborted)
			if err != nil {
				return err
			}
			results[i] = chain
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []crdt.Decoded
	for _, chain := range results {
		all = append(all, chain...)
	}
	return all, nil
}

// ceilingFilter drops every patch whose lamport exceeds ceiling. A nil
// ceiling means unbounded.
func ceilingFilter(patches []crdt.Decoded, ceiling *uint64) []crdt.Decoded {
	if ceiling == nil {
		return patches
	}
	out := make([]crdt.Decoded, 0, len(patches))
	for _, p := range patches {
		if p.Patch.Lamport <= *ceiling {
			out = append(out, p)
		}
	}
	return out
}
