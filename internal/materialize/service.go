package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/logging"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/patch"
)

// Adjacency is the secondary cache entry: outgoing/incoming neighbor sets
// keyed by node id, built once per distinct materialized state and reused
// across repeated traversal calls (spec §4.3).
type Adjacency struct {
	Out map[string][]string
	In  map[string][]string
}

// Options configures a Service.
type Options struct {
	Log            *slog.Logger
	AdjacencyCache int // entries kept by the LRU adjacency cache; <=0 uses a sane default
}

// Service materializes graphs from a content-addressed writer-chain object
// store, memoizing (frontierHash, ceiling) -> WarpState in an unbounded map
// that InvalidateGraph clears. Concurrent Materialize misses for the same key
// are not coalesced; singleflight deduplicates only concurrent adjacency
// builds in Neighbors.
type Service struct {
	store objectstore.Store
	log   *slog.Logger

	mu    sync.Mutex
	cache map[cacheKey]crdt.WarpState
	group singleflight.Group

	adjacency *lru.Cache
}

type cacheKey struct {
	frontierHash string
	ceiling      string // "" for unbounded, else the uint64 ceiling rendered
}

// New returns a Service backed by store.
func New(store objectstore.Store, opts Options) *Service {
	size := opts.AdjacencyCache
	if size <= 0 {
		size = 256
	}
	adj, _ := lru.New(size) // size > 0 always here; error only on size <= 0
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		store:     store,
		log:       log,
		cache:     make(map[cacheKey]crdt.WarpState),
		adjacency: adj,
	}
}

// MaterializeOptions controls a single Materialize call (spec §4.3).
type MaterializeOptions struct {
	// Ceiling restricts materialization to patches with lamport <= *Ceiling.
	// Nil means no ceiling (materialize to the current tips).
	Ceiling *uint64
	// Receipts requests a crdt.Receipt per folded patch. Bypasses the cache:
	// receipts are allocation-heavy and not worth memoizing (spec §4.3).
	Receipts bool
	// Aborted is polled at chain-walk and reduce loop heads.
	Aborted func() bool
}

// Materialize folds graph's current writer tips (or a time-traveled ceiling
// view of them) into a WarpState.
func (s *Service) Materialize(ctx context.Context, graph string, opts MaterializeOptions) (crdt.WarpState, []crdt.Receipt, error) {
	tips, err := writerTips(ctx, s.store, graph)
	if err != nil {
		return crdt.WarpState{}, nil, err
	}

	key := cacheKey{frontierHash: frontierHash(tips)}
	if opts.Ceiling != nil {
		key.ceiling = fmt.Sprintf("%d", *opts.Ceiling)
	}

	if !opts.Receipts {
		if state, ok := s.lookupCache(key); ok {
			return state, nil, nil
		}
	}

	state, receipts, err := s.materializeUncached(ctx, graph, tips, opts)
	if err != nil {
		return crdt.WarpState{}, nil, err
	}

	if !opts.Receipts {
		s.storeCache(key, state)
	}
	s.log.Debug("materialized", "graph", graph, "writers", len(tips), "ceiling", opts.Ceiling)
	return state, receipts, nil
}

func (s *Service) materializeUncached(ctx context.Context, graph string, tips map[string]string, opts MaterializeOptions) (crdt.WarpState, []crdt.Receipt, error) {
	ckpt, err := loadLatestCheckpoint(ctx, s.store, graph)
	if err != nil {
		return crdt.WarpState{}, nil, err
	}

	var initial *crdt.WarpState
	floors := make(map[string]uint64)
	if ckpt != nil && checkpointUsable(ckpt, opts.Ceiling) {
		state := crdt.FromWireState(ckpt.State)
		initial = &state
		for w, c := range ckpt.AppliedVV {
			floors[w] = c
		}
	}

	patches, err := walkAllChains(ctx, s.store, tips, floors, opts.Aborted)
	if err != nil {
		return crdt.WarpState{}, nil, err
	}
	patches = ceilingFilter(patches, opts.Ceiling)

	state, receipts, err := crdt.Reduce(patches, crdt.ReduceOptions{
		Initial:  initial,
		Receipts: opts.Receipts,
		Aborted:  opts.Aborted,
	})
	if err != nil {
		return crdt.WarpState{}, nil, err
	}
	return state, receipts, nil
}

// CurrentLamport returns the highest lamport value recorded across graph's
// writer tips (0 if the graph has no writers yet). Every patch commit
// carries the engine-wide lamport that was current when it was made, so the
// furthest-advanced tip already reflects the whole graph's clock — this
// never needs a full chain walk the way DiscoverTicks does.
func (s *Service) CurrentLamport(ctx context.Context, graph string) (uint64, error) {
	tips, err := writerTips(ctx, s.store, graph)
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, sha := range tips {
		info, err := s.store.GetNodeInfo(ctx, sha)
		if err != nil {
			return 0, fmt.Errorf("read tip %s: %w", sha, err)
		}
		msg, err := patch.ParseMessage(info.Message)
		if err != nil {
			return 0, err
		}
		if msg.Lamport > max {
			max = msg.Lamport
		}
	}
	return max, nil
}

// InvalidateGraph drops every cached materialization (of any ceiling) for
// graph. Called on commit, sync-apply, and checkpoint install (spec §4.3).
// The cache is keyed by frontier hash across all graphs sharing a Service, so
// this clears conservatively rather than tracking per-graph membership.
func (s *Service) InvalidateGraph(_ context.Context, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[cacheKey]crdt.WarpState)
	s.adjacency.Purge()
}

func (s *Service) lookupCache(key cacheKey) (crdt.WarpState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.cache[key]
	return state, ok
}

func (s *Service) storeCache(key cacheKey, state crdt.WarpState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = state
}

// Neighbors returns (building and caching, if necessary) the adjacency view
// for state, keyed by its StateHash.
func (s *Service) Neighbors(state crdt.WarpState) Adjacency {
	h := crdt.StateHash(state)
	if v, ok := s.adjacency.Get(h); ok {
		return v.(Adjacency)
	}

	v, _, _ := s.group.Do("adj:"+h, func() (any, error) {
		adj := buildAdjacency(state)
		s.adjacency.Add(h, adj)
		return adj, nil
	})
	return v.(Adjacency)
}

func buildAdjacency(state crdt.WarpState) Adjacency {
	out := Adjacency{Out: make(map[string][]string), In: make(map[string][]string)}
	for _, edgeKey := range state.EdgeAlive.Elements() {
		from, to, _, ok := crdt.DecodeEdgeKey(edgeKey)
		if !ok {
			continue
		}
		out.Out[from] = append(out.Out[from], to)
		out.In[to] = append(out.In[to], from)
	}
	for k := range out.Out {
		sort.Strings(out.Out[k])
	}
	for k := range out.In {
		sort.Strings(out.In[k])
	}
	return out
}

// writerTips reads every writer ref under graph and returns writer -> tip SHA.
func writerTips(ctx context.Context, store objectstore.Store, graph string) (map[string]string, error) {
	if err := objectstore.ValidateGraphName(graph); err != nil {
		return nil, err
	}
	refs, err := store.ListRefs(ctx, objectstore.WritersPrefix(graph))
	if err != nil {
		return nil, fmt.Errorf("list writer refs: %w", err)
	}
	prefix := objectstore.WritersPrefix(graph)
	tips := make(map[string]string, len(refs))
	for _, ref := range refs {
		writer := ref[len(prefix):]
		sha, ok, err := store.ReadRef(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("read ref %s: %w", ref, err)
		}
		if ok {
			tips[writer] = sha
		}
	}
	return tips, nil
}

// frontierHash hashes the sorted writer->tip map, the cache key component
// spec §4.3 calls the frontierHash.
func frontierHash(tips map[string]string) string {
	writers := make([]string, 0, len(tips))
	for w := range tips {
		writers = append(writers, w)
	}
	sort.Strings(writers)

	return crdt.FrontierHash(writers, tips)
}

// checkpointUsable reports whether ckpt can be used as a fast-start base for
// a materialization bounded by ceiling: either there is no ceiling, or the
// checkpoint's applied frontier is dominated by it.
func checkpointUsable(ckpt *checkpoint, ceiling *uint64) bool {
	if ceiling == nil {
		return true
	}
	for _, lamport := range ckpt.AppliedVV {
		if lamport > *ceiling {
			return false
		}
	}
	return true
}
