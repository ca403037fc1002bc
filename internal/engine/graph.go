package engine

import (
	"context"
	"errors"
	"time"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/materialize"
	"github.com/warpdb/warp/internal/patch"
	"github.com/warpdb/warp/internal/query"
	syncpkg "github.com/warpdb/warp/internal/sync"
	"github.com/warpdb/warp/internal/topology"
)

// Graph is a handle bound to one graph name, the unit callers actually
// operate on day to day.
type Graph struct {
	engine *Engine
	name   string
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Layer returns the cached query layer for this graph. Reads against it
// bypass the call queue: the layer holds its own lock and serving stale
// reads against the last successfully cached state is the documented
// behavior (spec §4.5), not a race.
func (g *Graph) Layer() *query.Layer {
	return g.engine.graphStateFor(g.name).layer
}

// Subscribe registers handler for change notifications on this graph.
func (g *Graph) Subscribe(handler query.Handler, opts query.SubscribeOptions) (*query.Subscription, error) {
	gs := g.engine.graphStateFor(g.name)
	var current *crdt.WarpState
	if state, err := gs.layer.State(); err == nil {
		current = &state
	}
	return gs.subs.Subscribe(handler, opts, current), nil
}

// Commit applies fn against a freshly materialized snapshot of this graph's
// state and commits the resulting patch under writer's CAS, retrying a
// bounded number of times if another commit races it.
func (g *Graph) Commit(ctx context.Context, writer string, fn func(*patch.Builder)) (string, error) {
	var sha string
	err := g.engine.enqueue(ctx, func() error {
		s, err := g.engine.commitLocked(ctx, g.name, writer, fn)
		sha = s
		return err
	})
	return sha, err
}

const maxCommitAttempts = 3

// commitLocked runs on the call-queue worker goroutine.
func (e *Engine) commitLocked(ctx context.Context, graph, writer string, fn func(*patch.Builder)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		state, _, err := e.mat.Materialize(ctx, graph, materialize.MaterializeOptions{})
		if err != nil {
			return "", err
		}
		lamport, err := e.mat.CurrentLamport(ctx, graph)
		if err != nil {
			return "", err
		}

		snap := patch.Snapshot{MaxObservedLamport: lamport, ObservedFrontier: state.ObservedFrontier}
		sha, err := patch.Apply(ctx, e.store, graph, writer, snap, fn)
		if err == nil {
			e.afterMutation(ctx, graph, 1)
			return sha, nil
		}

		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeWriterRefAdvanced {
			lastErr = err
			continue
		}
		return "", err
	}
	return "", lastErr
}

// afterMutation refreshes the cached query state and subscriber diffs, and
// runs the auto-checkpoint policy, after a successful commit or sync apply;
// patches is how many patch commits the mutation added. Failures here are
// logged, not propagated: the mutation itself already succeeded.
func (e *Engine) afterMutation(ctx context.Context, graph string, patches int) {
	e.mat.InvalidateGraph(ctx, graph)
	gs := e.graphStateFor(graph)

	state, _, err := e.mat.Materialize(ctx, graph, materialize.MaterializeOptions{})
	if err != nil {
		e.log.Warn("post-commit materialize failed", "graph", graph, "error", err)
		return
	}
	gs.layer.SetState(state)
	gs.subs.Publish(state)
	gs.patchesSinceCheckpoint += patches

	if err := e.anchor.EnsureCoverage(ctx, graph); err != nil {
		e.log.Warn("anchor coverage update failed", "graph", graph, "error", err)
	}

	if e.autockpt.ShouldCheckpoint(gs.patchesSinceCheckpoint, time.Since(gs.lastCheckpointAt)) {
		if _, err := e.installCheckpoint(ctx, graph, state); err != nil {
			e.log.Warn("auto-checkpoint failed", "graph", graph, "error", err)
		}
	}
}

func (e *Engine) installCheckpoint(ctx context.Context, graph string, state crdt.WarpState) (string, error) {
	// The applied frontier is per-writer tip lamport, the floor the chain
	// walk compares against; state is materialized from these same tips.
	appliedVV, err := e.syncSvc.LocalFrontier(ctx, graph)
	if err != nil {
		return "", err
	}
	sha, err := e.ckpt.Install(ctx, graph, state, appliedVV)
	if err != nil {
		return "", err
	}
	e.mat.InvalidateGraph(ctx, graph)
	gs := e.graphStateFor(graph)
	gs.patchesSinceCheckpoint = 0
	gs.lastCheckpointAt = time.Now()

	if err := e.gc.AfterCheckpoint(ctx, e.store, graph, sha); err != nil {
		e.log.Warn("gc policy failed", "graph", graph, "checkpoint", sha, "error", err)
	}
	return sha, nil
}

// Materialize folds this graph's current (or time-traveled) state. A plain
// unbounded, receipt-free call also refreshes the cached query layer and
// publishes to subscribers; ceiling/receipt calls are one-off views and
// leave the cache untouched.
func (g *Graph) Materialize(ctx context.Context, opts materialize.MaterializeOptions) (crdt.WarpState, []crdt.Receipt, error) {
	var state crdt.WarpState
	var receipts []crdt.Receipt
	err := g.engine.enqueue(ctx, func() error {
		s, r, err := g.engine.mat.Materialize(ctx, g.name, opts)
		if err != nil {
			return err
		}
		state, receipts = s, r
		if opts.Ceiling == nil && !opts.Receipts {
			gs := g.engine.graphStateFor(g.name)
			gs.layer.SetState(s)
			gs.subs.Publish(s)
		}
		return nil
	})
	return state, receipts, err
}

// Checkpoint materializes the current unbounded state and installs it as a
// checkpoint, running the configured GC policy afterward.
func (g *Graph) Checkpoint(ctx context.Context) (string, error) {
	var sha string
	err := g.engine.enqueue(ctx, func() error {
		state, _, err := g.engine.mat.Materialize(ctx, g.name, materialize.MaterializeOptions{})
		if err != nil {
			return err
		}
		s, err := g.engine.installCheckpoint(ctx, g.name, state)
		sha = s
		return err
	})
	return sha, err
}

// EnsureCoverage refreshes the coverage/head anchor for this graph on
// demand (it is also refreshed automatically after every commit).
func (g *Graph) EnsureCoverage(ctx context.Context) error {
	return g.engine.enqueue(ctx, func() error {
		return g.engine.anchor.EnsureCoverage(ctx, g.name)
	})
}

// Sync exchanges frontiers with peer, applies whatever patches it returns,
// and refreshes the cached query state.
func (g *Graph) Sync(ctx context.Context, peer syncpkg.Peer) (syncpkg.Response, error) {
	var resp syncpkg.Response
	err := g.engine.enqueue(ctx, func() error {
		e := g.engine
		local, err := e.syncSvc.LocalFrontier(ctx, g.name)
		if err != nil {
			return err
		}
		r, err := peer.ProcessSyncRequest(ctx, syncpkg.NewRequest(local))
		if err != nil {
			return err
		}
		if err := e.syncSvc.ApplyResponse(ctx, e.mat, g.name, r); err != nil {
			return err
		}
		resp = r
		gs := e.graphStateFor(g.name)
		gs.lastSyncAt = time.Now()
		e.afterMutation(ctx, g.name, len(r.Patches))
		return nil
	})
	return resp, err
}

// Peer exposes this graph as a sync.Peer so another Engine (or an HTTP
// handler wrapping it) can pull from it.
func (g *Graph) Peer() syncpkg.Peer {
	return graphPeer{engine: g.engine, name: g.name}
}

type graphPeer struct {
	engine *Engine
	name   string
}

func (p graphPeer) ProcessSyncRequest(ctx context.Context, req syncpkg.Request) (syncpkg.Response, error) {
	return p.engine.syncSvc.ProcessSyncRequest(ctx, p.name, req)
}

// Fork creates a new graph whose writer chain starts by sharing this
// graph's history up to an ancestor commit, per topology.ForkService.
func (g *Graph) Fork(ctx context.Context, writer, at, forkName, forkWriterID string) (string, error) {
	var ref string
	err := g.engine.enqueue(ctx, func() error {
		r, err := g.engine.forkSvc.Fork(ctx, topology.ForkRequest{
			Graph: g.name, Writer: writer, At: at, ForkName: forkName, ForkWriterID: forkWriterID,
		})
		ref = r
		return err
	})
	return ref, err
}

// Wormhole compresses a range of writer's patch chain into a replayable
// provenance payload. Read-only over already-committed history, so it
// bypasses the call queue.
func (g *Graph) Wormhole(ctx context.Context, writer, fromSHA, toSHA string) (topology.Wormhole, error) {
	return g.engine.wormhole.Compress(ctx, topology.WormholeRequest{
		Graph: g.name, Writer: writer, FromSHA: fromSHA, ToSHA: toSHA,
	})
}
