package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdb/warp/internal/config"
	"github.com/warpdb/warp/internal/materialize"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/objectstore/memstore"
	"github.com/warpdb/warp/internal/patch"
)

func newTestEngine(t *testing.T, store objectstore.Store, cfg *config.Config) *Engine {
	t.Helper()
	e := New(Options{Store: store, Config: cfg})
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestCommitRefreshesCachedLayer(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := newTestEngine(t, store, nil)
	g := e.Graph("demo")

	_, err := g.Commit(ctx, "writer-a", func(b *patch.Builder) {
		b.AddNode("n1")
	})
	require.NoError(t, err)

	state, err := g.Layer().State()
	require.NoError(t, err)
	assert.True(t, state.HasNode("n1"))
}

func TestCommitAccumulatesAcrossCalls(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := newTestEngine(t, store, nil)
	g := e.Graph("demo")

	_, err := g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n1") })
	require.NoError(t, err)
	_, err = g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n2") })
	require.NoError(t, err)

	state, err := g.Layer().State()
	require.NoError(t, err)
	assert.True(t, state.HasNode("n1"))
	assert.True(t, state.HasNode("n2"))
}

func TestCommitEnsuresAnchorCoverage(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := newTestEngine(t, store, nil)
	g := e.Graph("demo")

	sha, err := g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n1") })
	require.NoError(t, err)

	head, ok, err := store.ReadRef(ctx, objectstore.CoverageHeadRef("demo"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sha, head)
}

func TestCheckpointInstallsAndResetsCounter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := newTestEngine(t, store, nil)
	g := e.Graph("demo")

	_, err := g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n1") })
	require.NoError(t, err)

	sha, err := g.Checkpoint(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sha)

	head, ok, err := store.ReadRef(ctx, objectstore.CheckpointsHeadRef("demo"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sha, head)

	gs := e.graphStateFor("demo")
	assert.Equal(t, 0, gs.patchesSinceCheckpoint)
}

func TestAutoCheckpointTriggersAfterNPatches(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cfg := config.Default()
	cfg.Checkpoint.EveryNPatches = 2
	e := newTestEngine(t, store, cfg)
	g := e.Graph("demo")

	_, err := g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n1") })
	require.NoError(t, err)
	_, ok, err := store.ReadRef(ctx, objectstore.CheckpointsHeadRef("demo"))
	require.NoError(t, err)
	assert.False(t, ok, "checkpoint should not yet trigger after a single patch")

	_, err = g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n2") })
	require.NoError(t, err)
	_, ok, err = store.ReadRef(ctx, objectstore.CheckpointsHeadRef("demo"))
	require.NoError(t, err)
	assert.True(t, ok, "checkpoint should trigger once patchesSinceCheckpoint reaches the configured N")
}

func TestSyncPullsPatchesFromPeerGraph(t *testing.T) {
	ctx := context.Background()
	storeA := memstore.New()
	storeB := memstore.New()
	engineA := newTestEngine(t, storeA, nil)
	engineB := newTestEngine(t, storeB, nil)

	graphA := engineA.Graph("demo")
	graphB := engineB.Graph("demo")

	_, err := graphA.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n1") })
	require.NoError(t, err)

	resp, err := graphB.Sync(ctx, graphA.Peer())
	require.NoError(t, err)
	assert.Len(t, resp.Patches, 1)

	state, err := graphB.Layer().State()
	require.NoError(t, err)
	assert.True(t, state.HasNode("n1"))
}

func TestMaterializeWithCeilingDoesNotRefreshCache(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := newTestEngine(t, store, nil)
	g := e.Graph("demo")

	_, err := g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n1") })
	require.NoError(t, err)

	ceiling := uint64(0)
	_, _, err = g.Materialize(ctx, materialize.MaterializeOptions{Ceiling: &ceiling})
	require.NoError(t, err)

	state, err := g.Layer().State()
	require.NoError(t, err)
	assert.True(t, state.HasNode("n1"), "ceiling materialize must not clobber the live cached state")
}

func TestHealthReportsStoreAndGraphStatus(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := newTestEngine(t, store, nil)
	g := e.Graph("demo")

	_, err := g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n1") })
	require.NoError(t, err)

	report, err := e.Health(ctx)
	require.NoError(t, err)
	assert.True(t, report.Store.OK)

	gh, ok := report.Graphs["demo"]
	require.True(t, ok)
	assert.True(t, gh.HasMaterializedState)
	assert.Equal(t, uint64(1), gh.ObservedLamport)
}

func TestCommitContextCancelledBeforeEnqueueReturnsAborted(t *testing.T) {
	store := memstore.New()
	e := newTestEngine(t, store, nil)
	g := e.Graph("demo")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n1") })
	require.Error(t, err)
}

func TestCloseStopsCallQueue(t *testing.T) {
	store := memstore.New()
	e := New(Options{Store: store})
	require.NoError(t, e.Close())

	g := e.Graph("demo")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := g.Commit(ctx, "writer-a", func(b *patch.Builder) { b.AddNode("n1") })
	assert.Error(t, err)
}
