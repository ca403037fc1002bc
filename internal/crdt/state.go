package crdt

import (
	"sort"

	"github.com/warpdb/warp/internal/warpids"
)

// WarpState is the fully materialized logical graph (spec §3).
type WarpState struct {
	NodeAlive        *ORSet[string]
	EdgeAlive        *ORSet[string]
	Prop             map[string]LWWRegister
	EdgeBirthEvent   map[string]warpids.EventId
	ObservedFrontier warpids.VersionVector
}

// Empty returns the identity element of Join: no nodes, no edges, no
// properties, no observed dots.
func Empty() WarpState {
	return WarpState{
		NodeAlive:        NewORSet[string](),
		EdgeAlive:        NewORSet[string](),
		Prop:             make(map[string]LWWRegister),
		EdgeBirthEvent:   make(map[string]warpids.EventId),
		ObservedFrontier: make(warpids.VersionVector),
	}
}

// Clone returns a deep, independent copy.
func (s WarpState) Clone() WarpState {
	prop := make(map[string]LWWRegister, len(s.Prop))
	for k, v := range s.Prop {
		prop[k] = v.Clone()
	}
	birth := make(map[string]warpids.EventId, len(s.EdgeBirthEvent))
	for k, v := range s.EdgeBirthEvent {
		birth[k] = v
	}
	return WarpState{
		NodeAlive:        s.NodeAlive.Clone(),
		EdgeAlive:        s.EdgeAlive.Clone(),
		Prop:             prop,
		EdgeBirthEvent:   birth,
		ObservedFrontier: s.ObservedFrontier.Clone(),
	}
}

// Join folds other into s, returning a fresh WarpState. Join is commutative,
// associative, and idempotent, and Join(s, Empty()) == s (spec §8).
func (s WarpState) Join(other WarpState) WarpState {
	out := WarpState{
		NodeAlive:        s.NodeAlive.Join(other.NodeAlive),
		EdgeAlive:        s.EdgeAlive.Join(other.EdgeAlive),
		Prop:             make(map[string]LWWRegister, len(s.Prop)+len(other.Prop)),
		EdgeBirthEvent:   make(map[string]warpids.EventId, len(s.EdgeBirthEvent)+len(other.EdgeBirthEvent)),
		ObservedFrontier: s.ObservedFrontier.Merge(other.ObservedFrontier),
	}
	for k, v := range s.Prop {
		out.Prop[k] = v
	}
	for k, v := range other.Prop {
		if cur, ok := out.Prop[k]; ok {
			out.Prop[k] = cur.Join(v)
		} else {
			out.Prop[k] = v
		}
	}
	for k, v := range s.EdgeBirthEvent {
		out.EdgeBirthEvent[k] = v
	}
	for k, v := range other.EdgeBirthEvent {
		if cur, ok := out.EdgeBirthEvent[k]; !ok || v.Greater(cur) {
			out.EdgeBirthEvent[k] = v
		}
	}
	return out
}

// HasNode reports whether node is currently alive.
func (s WarpState) HasNode(node string) bool { return s.NodeAlive.Contains(node) }

// HasEdge reports whether the edge (from,to,label) is currently alive.
func (s WarpState) HasEdge(from, to, label string) bool {
	return s.EdgeAlive.Contains(EncodeEdgeKey(from, to, label))
}

// NodeProp returns a node property value and whether it is set (and not
// stale — node properties have no birth-event staleness rule, unlike edge
// properties).
func (s WarpState) NodeProp(node, key string) (Value, bool) {
	reg, ok := s.Prop[EncodeNodePropKey(node, key)]
	if !ok || !reg.IsSet() {
		return Value{}, false
	}
	return reg.Value, true
}

// EdgeProp returns an edge property value, applying the §4.1 staleness
// filter: a property is visible only if its EventId is >= the edge's birth
// event. A tombstoned-then-re-added edge hides properties from the earlier
// incarnation without deleting their registers (a later join may still
// matter for some other edge key).
func (s WarpState) EdgeProp(from, to, label, key string) (Value, bool) {
	edgeKey := EncodeEdgeKey(from, to, label)
	propKey := EncodeEdgePropKey(from, to, label, key)
	reg, ok := s.Prop[propKey]
	if !ok || !reg.IsSet() {
		return Value{}, false
	}
	birth, hasBirth := s.EdgeBirthEvent[edgeKey]
	if hasBirth && reg.EventID.Less(birth) {
		return Value{}, false
	}
	return reg.Value, true
}

// EdgeProps returns every non-stale property on the given edge.
func (s WarpState) EdgeProps(from, to, label string) map[string]Value {
	edgeKey := EncodeEdgeKey(from, to, label)
	prefix := "E\x00" + from + "\x00" + to + "\x00" + label + "\x00"
	birth, hasBirth := s.EdgeBirthEvent[edgeKey]
	out := make(map[string]Value)
	for k, reg := range s.Prop {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if !reg.IsSet() {
			continue
		}
		if hasBirth && reg.EventID.Less(birth) {
			continue
		}
		out[k[len(prefix):]] = reg.Value
	}
	return out
}

// NodeProps returns every set property on the given node.
func (s WarpState) NodeProps(node string) map[string]Value {
	prefix := node + "\x00"
	out := make(map[string]Value)
	for k, reg := range s.Prop {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		// Edge property keys start with "E\x00", so for a node whose id is
		// "E" they share this prefix; skip them so only node properties
		// are returned.
		if _, _, ok := IsEdgePropKey(k); ok {
			continue
		}
		if !reg.IsSet() {
			continue
		}
		out[k[len(prefix):]] = reg.Value
	}
	return out
}

// SortedNodeIDs returns every alive node id in ascending order, the input
// the bitmap index builder assigns compact ids from (spec §4.4).
func (s WarpState) SortedNodeIDs() []string {
	ids := s.NodeAlive.Elements()
	sort.Strings(ids)
	return ids
}
