// Package query implements read access over a materialized WarpState (spec
// §4.5): cached-state accessors, graph traversal, observer views, and change
// subscriptions. The layer never touches the object store directly — it
// operates solely on crdt.WarpState and the adjacency a materialize.Service
// builds from it, per the Open Question decision that logical traversal
// never walks commit parents.
package query

import (
	"sync"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/materialize"
	"github.com/warpdb/warp/internal/warpids"
)

// Layer serves reads against whatever state was last cached by SetState. It
// holds no reference to the object store or the engine's call queue; the
// caller (internal/engine) is responsible for calling SetState after every
// successful materialize.
type Layer struct {
	mat *materialize.Service

	mu       sync.RWMutex
	state    crdt.WarpState
	hasState bool
}

// New returns a Layer that uses mat to build/reuse adjacency views.
func New(mat *materialize.Service) *Layer {
	return &Layer{mat: mat}
}

// SetState installs state as the layer's cached view, the effect of a
// successful materialize.
func (l *Layer) SetState(state crdt.WarpState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	l.hasState = true
}

// State returns the cached state, raising E_NO_STATE if none has ever been
// installed.
func (l *Layer) State() (crdt.WarpState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.hasState {
		return crdt.WarpState{}, apperrors.New(apperrors.CodeNoState, "no materialized state cached")
	}
	return l.state, nil
}

// CheckFresh raises E_STALE_STATE if the cached state's observed frontier no
// longer dominates refFrontier (spec §4.5's optional strictness check).
func (l *Layer) CheckFresh(refFrontier warpids.VersionVector) error {
	state, err := l.State()
	if err != nil {
		return err
	}
	if !state.ObservedFrontier.Dominates(refFrontier) {
		return apperrors.New(apperrors.CodeStaleState, "cached state frontier does not dominate ref frontier")
	}
	return nil
}

// HasNode reports whether node is alive in the cached state.
func (l *Layer) HasNode(node string) (bool, error) {
	state, err := l.State()
	if err != nil {
		return false, err
	}
	return state.HasNode(node), nil
}

// GetNodeProps returns every property set on node.
func (l *Layer) GetNodeProps(node string) (map[string]crdt.Value, error) {
	state, err := l.State()
	if err != nil {
		return nil, err
	}
	return state.NodeProps(node), nil
}

// GetEdgeProps returns every non-stale property on the edge (spec §4.5: the
// §4.1 staleness filter is applied by WarpState.EdgeProps itself).
func (l *Layer) GetEdgeProps(from, to, label string) (map[string]crdt.Value, error) {
	state, err := l.State()
	if err != nil {
		return nil, err
	}
	return state.EdgeProps(from, to, label), nil
}

// Direction selects which edges Neighbors/traversals consider.
type Direction int

const (
	DirOut Direction = iota
	DirIn
	DirBoth
)

// Edge is one (from,to,label) tuple in the cached state.
type Edge struct {
	From  string
	To    string
	Label string
}

// GetEdges returns every alive edge incident to node in the given direction.
func (l *Layer) GetEdges(node string, dir Direction) ([]Edge, error) {
	state, err := l.State()
	if err != nil {
		return nil, err
	}
	adj := l.mat.Neighbors(state)

	var out []Edge
	if dir == DirOut || dir == DirBoth {
		for _, to := range adj.Out[node] {
			for label := range edgeLabels(state, node, to) {
				out = append(out, Edge{From: node, To: to, Label: label})
			}
		}
	}
	if dir == DirIn || dir == DirBoth {
		for _, from := range adj.In[node] {
			for label := range edgeLabels(state, from, node) {
				out = append(out, Edge{From: from, To: node, Label: label})
			}
		}
	}
	return out, nil
}

// edgeLabels returns the set of labels for which (from,to,label) is alive.
// The adjacency cache only tracks endpoint pairs, so this re-derives labels
// from the ORSet directly; graphs with parallel multi-label edges between
// the same pair pay a linear scan here rather than a second cache dimension.
func edgeLabels(state crdt.WarpState, from, to string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, key := range state.EdgeAlive.Elements() {
		f, t, label, ok := crdt.DecodeEdgeKey(key)
		if ok && f == from && t == to {
			out[label] = struct{}{}
		}
	}
	return out
}

// Neighbors returns the distinct neighbor node ids reachable from node in
// the given direction, sorted by (neighborId, label) for deterministic
// iteration (spec §4.5).
func (l *Layer) Neighbors(node string, dir Direction, labelFilter LabelFilter) ([]string, error) {
	edges, err := l.GetEdges(node, dir)
	if err != nil {
		return nil, err
	}
	sortEdges(node, edges)

	seen := make(map[string]struct{})
	var out []string
	for _, e := range edges {
		if labelFilter != nil && !labelFilter(e.Label) {
			continue
		}
		other := e.To
		if other == node {
			other = e.From
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out, nil
}

// LabelFilter reports whether an edge label should be considered. nil means
// accept every label.
type LabelFilter func(label string) bool

// LabelSet returns a LabelFilter accepting any label in labels.
func LabelSet(labels ...string) LabelFilter {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return func(label string) bool {
		_, ok := set[label]
		return ok
	}
}
