// Package engine implements the WarpGraph facade: one Engine binds the
// object store to materialization, patch commits, sync, and topology
// operations, and owns every graph's cached query state. Every exported
// method takes a context.Context; mutating calls are funneled through an
// internal call queue (a buffered channel of closures run by a single
// goroutine) so that commit/materialize/sync/checkpoint calls against one
// Engine instance are observably serialized — the consumer side of the
// channel-fed worker pool internal/ingestion/processor.go's
// parseFilesParallel uses to fan work in, collapsed here to one consumer
// since serialization, not throughput, is what the call queue is for.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/config"
	"github.com/warpdb/warp/internal/logging"
	"github.com/warpdb/warp/internal/materialize"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/query"
	syncpkg "github.com/warpdb/warp/internal/sync"
	"github.com/warpdb/warp/internal/topology"
)

const callQueueDepth = 64

// Options configures a new Engine.
type Options struct {
	Store    objectstore.Store
	Config   *config.Config
	Log      *slog.Logger
	GCPolicy GCPolicy
}

// Engine is the top-level handle a caller opens once and shares across every
// graph it operates on.
type Engine struct {
	store objectstore.Store
	cfg   *config.Config
	log   *slog.Logger

	mat      *materialize.Service
	ckpt     *materialize.CheckpointService
	syncSvc  *syncpkg.Service
	forkSvc  *topology.ForkService
	wormhole *topology.WormholeService
	anchor   *topology.AnchorService
	gc       GCPolicy
	autockpt materialize.AutoCheckpointPolicy

	mu     sync.Mutex
	graphs map[string]*graphState

	queue     chan func()
	closed    chan struct{}
	closeOnce sync.Once
}

// graphState is the mutable per-graph bookkeeping an Engine keeps: the
// cached query layer and its subscribers, plus the counters the
// auto-checkpoint policy and Health reporting read.
type graphState struct {
	layer *query.Layer
	subs  *query.SubscriptionManager

	patchesSinceCheckpoint int
	lastCheckpointAt       time.Time
	lastSyncAt             time.Time
}

// New returns a running Engine over store. The caller must eventually call
// Close.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	gc := opts.GCPolicy
	if gc == nil {
		gc = NoopGCPolicy{}
	}

	mat := materialize.New(opts.Store, materialize.Options{
		Log:            logging.Component(log, "materialize"),
		AdjacencyCache: cfg.Cache.AdjacencyEntries,
	})

	e := &Engine{
		store:    opts.Store,
		cfg:      cfg,
		log:      logging.Component(log, "engine"),
		mat:      mat,
		ckpt:     materialize.NewCheckpointService(opts.Store),
		syncSvc:  syncpkg.New(opts.Store, logging.Component(log, "sync")),
		forkSvc:  topology.NewForkService(opts.Store),
		wormhole: topology.NewWormholeService(opts.Store),
		anchor:   topology.NewAnchorService(opts.Store, logging.Component(log, "topology-anchor")),
		gc:       gc,
		autockpt: autoCheckpointFromConfig(cfg.Checkpoint),
		graphs:   make(map[string]*graphState),
		queue:    make(chan func(), callQueueDepth),
		closed:   make(chan struct{}),
	}
	go e.run()
	return e
}

func autoCheckpointFromConfig(cfg config.CheckpointConfig) materialize.AutoCheckpointPolicy {
	if cfg.EveryNPatches > 0 {
		return materialize.EveryNPatches(cfg.EveryNPatches)
	}
	if cfg.EveryInterval > 0 {
		return materialize.EveryInterval(cfg.EveryInterval)
	}
	return materialize.Never{}
}

func (e *Engine) run() {
	for {
		select {
		case job := <-e.queue:
			job()
		case <-e.closed:
			return
		}
	}
}

// Close stops the call queue worker. Idempotent; in-flight calls still
// drain before the worker exits since run() only checks closed between jobs.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

// enqueue runs fn on the call queue's single worker goroutine and blocks
// until it returns (or ctx is cancelled first).
func (e *Engine) enqueue(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	job := func() { result <- fn() }

	select {
	case e.queue <- job:
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.CodeOperationAborted, "enqueue aborted", ctx.Err())
	case <-e.closed:
		return apperrors.New(apperrors.CodeOperationAborted, "engine is closed")
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.CodeOperationAborted, "call aborted", ctx.Err())
	}
}

// graphStateFor returns (creating if necessary) the bookkeeping for graph.
func (e *Engine) graphStateFor(graph string) *graphState {
	e.mu.Lock()
	defer e.mu.Unlock()
	gs, ok := e.graphs[graph]
	if !ok {
		gs = &graphState{layer: query.New(e.mat), subs: query.NewSubscriptionManager()}
		e.graphs[graph] = gs
	}
	return gs
}

// Graph returns a handle scoped to name. Handles are cheap; callers may
// create one per use or hold onto it.
func (e *Engine) Graph(name string) *Graph {
	return &Graph{engine: e, name: name}
}
