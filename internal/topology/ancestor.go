// Package topology implements the managed-ref operations layered on top of
// a graph's writer chains: forking a new graph from an ancestor commit,
// compressing a writer's history into a replayable wormhole, and keeping
// otherwise-disconnected writer tips reachable from the coverage/head
// anchor (spec §3, §4.6).
package topology

import (
	"context"
	"fmt"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/objectstore"
)

// maxAncestorWalk bounds the ancestor BFS so a corrupt or cyclic store can't
// hang a caller forever.
const maxAncestorWalk = 200_000

// IsAncestor reports whether ancestor is reachable by walking parent links
// from descendant (inclusive: a commit is its own ancestor). This replaces
// the stubbed-always-false check the original managed-ref layer shipped
// with; a correct ancestor test lets fast-forward avoid an anchor commit
// whenever one is actually possible.
func IsAncestor(ctx context.Context, store objectstore.Store, ancestor, descendant string) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	visited := map[string]bool{descendant: true}
	queue := []string{descendant}
	for len(queue) > 0 {
		if len(visited) > maxAncestorWalk {
			return false, apperrors.New(apperrors.CodeForkPatchNotInChain, "ancestor walk exceeded bound")
		}
		cur := queue[0]
		queue = queue[1:]
		info, err := store.GetNodeInfo(ctx, cur)
		if err != nil {
			return false, fmt.Errorf("read commit %s: %w", cur, err)
		}
		for _, p := range info.Parents {
			if p == ancestor {
				return true, nil
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}
