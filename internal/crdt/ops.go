package crdt

import "github.com/warpdb/warp/internal/warpids"

// OpType tags which variant an Op holds.
type OpType string

const (
	OpNodeAdd    OpType = "NodeAdd"
	OpNodeRemove OpType = "NodeRemove"
	OpEdgeAdd    OpType = "EdgeAdd"
	OpEdgeRemove OpType = "EdgeRemove"
	OpPropSet    OpType = "PropSet"
)

// PropScope distinguishes a PropSet targeting a node vs. an edge.
type PropScope string

const (
	ScopeNode PropScope = "node"
	ScopeEdge PropScope = "edge"
)

// Op is the tagged-union operation type from spec §3. Only the fields
// relevant to Type are populated; this mirrors a sum type without generated
// code, matching the teacher codebase's plain-struct style.
type Op struct {
	Type OpType `cbor:"type"`

	// NodeAdd / NodeRemove
	Node         string        `cbor:"node,omitempty"`
	ObservedDots []warpids.Dot `cbor:"observed_dots,omitempty"`
	Dot          warpids.Dot   `cbor:"dot,omitempty"`

	// EdgeAdd / EdgeRemove
	From  string `cbor:"from,omitempty"`
	To    string `cbor:"to,omitempty"`
	Label string `cbor:"label,omitempty"`

	// PropSet
	Scope PropScope `cbor:"scope,omitempty"`
	Key   string    `cbor:"key,omitempty"`
	Value Value     `cbor:"value,omitempty"`
}

// NodeAddOp builds a NodeAdd op.
func NodeAddOp(node string, dot warpids.Dot) Op {
	return Op{Type: OpNodeAdd, Node: node, Dot: dot}
}

// NodeRemoveOp builds a NodeRemove op tombstoning observed.
func NodeRemoveOp(node string, observed []warpids.Dot) Op {
	return Op{Type: OpNodeRemove, Node: node, ObservedDots: observed}
}

// EdgeAddOp builds an EdgeAdd op.
func EdgeAddOp(from, to, label string, dot warpids.Dot) Op {
	return Op{Type: OpEdgeAdd, From: from, To: to, Label: label, Dot: dot}
}

// EdgeRemoveOp builds an EdgeRemove op tombstoning observed.
func EdgeRemoveOp(from, to, label string, observed []warpids.Dot) Op {
	return Op{Type: OpEdgeRemove, From: from, To: to, Label: label, ObservedDots: observed}
}

// NodePropSetOp builds a PropSet op targeting a node property.
func NodePropSetOp(node, key string, value Value) Op {
	return Op{Type: OpPropSet, Scope: ScopeNode, Node: node, Key: key, Value: value}
}

// EdgePropSetOp builds a PropSet op targeting an edge property.
func EdgePropSetOp(from, to, label, key string, value Value) Op {
	return Op{Type: OpPropSet, Scope: ScopeEdge, From: from, To: to, Label: label, Key: key, Value: value}
}

// SchemaVersion is the only patch schema this implementation produces or accepts.
const SchemaVersion = 2

// Patch is the schema-2 envelope from spec §3: a writer's ordered ops at one
// Lamport tick, plus the version vector it was built against.
type Patch struct {
	Schema  int                   `cbor:"schema"`
	Writer  string                `cbor:"writer"`
	Lamport uint64                `cbor:"lamport"`
	Context warpids.VersionVector `cbor:"context"`
	Ops     []Op                  `cbor:"ops"`
}

// Decoded pairs a Patch with the commit SHA it was read from, the shape the
// join reducer (spec §4.1) and materializer operate on.
type Decoded struct {
	SHA   string
	Patch Patch
}
