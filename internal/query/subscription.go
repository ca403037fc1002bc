package query

import (
	"context"
	"sync"
	"time"

	"github.com/warpdb/warp/internal/crdt"
)

// StateDiff describes what changed between two materializations (spec
// §4.5). Zero-value fields mean "nothing changed in that dimension" — an
// empty StateDiff is never delivered to a handler.
type StateDiff struct {
	Nodes NodeDiff
	Edges EdgeDiff
	Props PropDiff
}

// NodeDiff lists node ids added or removed since the last diff.
type NodeDiff struct {
	Added   []string
	Removed []string
}

// EdgeDiff lists edges added or removed since the last diff.
type EdgeDiff struct {
	Added   []Edge
	Removed []Edge
}

// PropDiff lists properties set or removed since the last diff, keyed by the
// same encoded property key crdt.WarpState.Prop uses.
type PropDiff struct {
	Set     map[string]crdt.Value
	Removed []string
}

// IsEmpty reports whether the diff carries no change at all.
func (d StateDiff) IsEmpty() bool {
	return len(d.Nodes.Added) == 0 && len(d.Nodes.Removed) == 0 &&
		len(d.Edges.Added) == 0 && len(d.Edges.Removed) == 0 &&
		len(d.Props.Set) == 0 && len(d.Props.Removed) == 0
}

// Handler receives delivered diffs and transport errors. A handler that
// panics or returns is isolated from every other handler: one handler's
// failure never blocks another's delivery (spec §4.5).
type Handler struct {
	OnChange func(StateDiff)
	OnError  func(error)
}

func (h Handler) deliver(diff StateDiff) {
	defer func() {
		if r := recover(); r != nil && h.OnError != nil {
			func() {
				defer func() { _ = recover() }() // a panicking OnError is swallowed too
				h.OnError(panicToError(r))
			}()
		}
	}()
	if h.OnChange != nil {
		h.OnChange(diff)
	}
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValue{r}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return "query: handler panicked" }

// SubscribeOptions configures Subscribe.
type SubscribeOptions struct {
	// Replay, if true, delivers the full cached state as an additions-only
	// diff immediately on subscribe (or on the next materialize if no state
	// is cached yet).
	Replay bool
}

// Subscription is a live registration returned by Subscribe; cancel it with
// Close.
type Subscription struct {
	mgr *SubscriptionManager
	id  uint64
}

// Close unregisters the subscription. Idempotent.
func (s *Subscription) Close() {
	s.mgr.remove(s.id)
}

// SubscriptionManager fans a sequence of materializations out to registered
// handlers as StateDiffs, diffed against each handler's own last-seen state
// so a late subscriber's replay doesn't desync earlier subscribers (spec
// §4.5).
type SubscriptionManager struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*registration
	lastErr error
}

type registration struct {
	handler Handler
	prev    crdt.WarpState
	hasPrev bool
}

// NewSubscriptionManager returns an empty manager.
func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{subs: make(map[uint64]*registration)}
}

// Subscribe registers handler against the manager. A non-nil current is the
// baseline the handler's later diffs are computed from; if opts.Replay is
// also true, the handler immediately receives an additions-only diff of
// *current. With a nil current, the next call to Publish delivers the whole
// published state as additions.
func (m *SubscriptionManager) Subscribe(handler Handler, opts SubscribeOptions, current *crdt.WarpState) *Subscription {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	reg := &registration{handler: handler}
	if current != nil {
		reg.prev = *current
		reg.hasPrev = true
	}
	m.subs[id] = reg
	m.mu.Unlock()

	if opts.Replay && current != nil {
		diff := diffStates(crdt.Empty(), *current)
		if !diff.IsEmpty() {
			handler.deliver(diff)
		}
	}
	return &Subscription{mgr: m, id: id}
}

func (m *SubscriptionManager) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}

// Publish diffs next against every registration's own last-seen state and
// delivers non-empty diffs. Each handler is isolated: a panic or reported
// error from one never prevents delivery to the others.
func (m *SubscriptionManager) Publish(next crdt.WarpState) {
	m.mu.Lock()
	regs := make([]*registration, 0, len(m.subs))
	for _, r := range m.subs {
		regs = append(regs, r)
	}
	m.mu.Unlock()

	for _, r := range regs {
		var diff StateDiff
		if r.hasPrev {
			diff = diffStates(r.prev, next)
		} else {
			diff = diffStates(crdt.Empty(), next)
		}
		r.prev = next
		r.hasPrev = true
		if diff.IsEmpty() {
			continue
		}
		r.handler.deliver(diff)
	}
}

// diffStates computes the StateDiff from prev to next. It compares alive-set
// membership and property values directly rather than walking patches, so
// it is correct regardless of how many patches separate the two
// materializations.
func diffStates(prev, next crdt.WarpState) StateDiff {
	var diff StateDiff

	prevNodes := toSet(prev.SortedNodeIDs())
	for _, n := range next.SortedNodeIDs() {
		if _, ok := prevNodes[n]; !ok {
			diff.Nodes.Added = append(diff.Nodes.Added, n)
		}
	}
	for n := range prevNodes {
		if !next.HasNode(n) {
			diff.Nodes.Removed = append(diff.Nodes.Removed, n)
		}
	}

	prevEdges := toSet(prev.EdgeAlive.Elements())
	nextEdges := toSet(next.EdgeAlive.Elements())
	for key := range nextEdges {
		if _, ok := prevEdges[key]; !ok {
			if from, to, label, ok := crdt.DecodeEdgeKey(key); ok {
				diff.Edges.Added = append(diff.Edges.Added, Edge{From: from, To: to, Label: label})
			}
		}
	}
	for key := range prevEdges {
		if _, ok := nextEdges[key]; !ok {
			if from, to, label, ok := crdt.DecodeEdgeKey(key); ok {
				diff.Edges.Removed = append(diff.Edges.Removed, Edge{From: from, To: to, Label: label})
			}
		}
	}

	set := make(map[string]crdt.Value)
	var removed []string
	for key, reg := range next.Prop {
		if !reg.IsSet() {
			continue
		}
		prevReg, had := prev.Prop[key]
		if !had || !prevReg.IsSet() || !prevReg.Value.Equal(reg.Value) {
			set[key] = reg.Value
		}
	}
	for key, reg := range prev.Prop {
		if !reg.IsSet() {
			continue
		}
		if nextReg, ok := next.Prop[key]; !ok || !nextReg.IsSet() {
			removed = append(removed, key)
		}
	}
	diff.Props.Set = set
	diff.Props.Removed = removed

	return diff
}

// Watcher polls a materialize-backed Layer for frontier changes and
// publishes diffs through a SubscriptionManager, the mechanism behind
// watch(pattern, ...)'s optional polling interval (spec §4.5, minimum
// 1000ms).
type Watcher struct {
	layer    *Layer
	manager  *SubscriptionManager
	interval time.Duration

	mu       sync.Mutex
	lastHash string
}

const minWatchInterval = 1000 * time.Millisecond

// NewWatcher returns a Watcher polling layer every interval (clamped to
// minWatchInterval) and publishing diffs through manager.
func NewWatcher(layer *Layer, manager *SubscriptionManager, interval time.Duration) *Watcher {
	if interval < minWatchInterval {
		interval = minWatchInterval
	}
	return &Watcher{layer: layer, manager: manager, interval: interval}
}

// Run polls until ctx is cancelled. hasFrontierChanged is called each tick;
// when it reports a new frontier hash, Run materializes via refresh and
// publishes the result.
func (w *Watcher) Run(ctx context.Context, hasFrontierChanged func() (hash string, changed bool), refresh func() (crdt.WarpState, error)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			hash, changed := hasFrontierChanged()
			w.mu.Lock()
			same := hash == w.lastHash
			w.mu.Unlock()
			if !changed && same {
				continue
			}
			state, err := refresh()
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.lastHash = hash
			w.mu.Unlock()
			w.layer.SetState(state)
			w.manager.Publish(state)
		}
	}
}
