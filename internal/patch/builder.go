package patch

import (
	"context"
	"fmt"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/warpids"
)

// Snapshot is the slice of materialized state a Builder needs to pick a
// Lamport tick and resolve tombstone dots: the highest lamport ever observed
// (own commits plus every materialized patch) and the writer's current
// observed frontier.
type Snapshot struct {
	MaxObservedLamport uint64
	ObservedFrontier   warpids.VersionVector
}

// Builder accumulates ops for a single writer and commits them as one patch
// under per-writer CAS (spec §4.2). A Builder is single-use: call Commit (or
// let it be discarded) once, then start a fresh one for the next patch.
type Builder struct {
	store   objectstore.Store
	graph   string
	writer  string
	snap    Snapshot
	oldHead string
	hasHead bool
	ops     []crdt.Op
}

// BeginPatch captures the writer ref's current tip as the Builder's
// expectedOldHead and returns a Builder ready to accumulate ops.
func BeginPatch(ctx context.Context, store objectstore.Store, graph, writer string, snap Snapshot) (*Builder, error) {
	if err := objectstore.ValidateGraphName(graph); err != nil {
		return nil, err
	}
	if err := objectstore.ValidateWriterID(writer); err != nil {
		return nil, err
	}
	ref := objectstore.WriterRef(graph, writer)
	head, ok, err := store.ReadRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("read writer ref %s: %w", ref, err)
	}
	return &Builder{
		store:   store,
		graph:   graph,
		writer:  writer,
		snap:    snap,
		oldHead: head,
		hasHead: ok,
	}, nil
}

// nextCounter returns the next free per-writer dot counter, derived from the
// writer's own entry in the observed frontier.
func (b *Builder) nextCounter() uint64 {
	return b.snap.ObservedFrontier[b.writer] + uint64(len(b.ops)) + 1
}

// AddNode appends a NodeAdd op and returns the dot assigned to it, so callers
// can reference it later in the same patch (e.g. an edge endpoint).
func (b *Builder) AddNode(node string) warpids.Dot {
	dot := warpids.Dot{WriterID: b.writer, Counter: b.nextCounter()}
	b.ops = append(b.ops, crdt.NodeAddOp(node, dot))
	return dot
}

// RemoveNode appends a NodeRemove op tombstoning observed, the dots the
// caller's materialized view currently attributes to node.
func (b *Builder) RemoveNode(node string, observed []warpids.Dot) {
	b.ops = append(b.ops, crdt.NodeRemoveOp(node, observed))
}

// AddEdge appends an EdgeAdd op and returns the dot assigned to it.
func (b *Builder) AddEdge(from, to, label string) warpids.Dot {
	dot := warpids.Dot{WriterID: b.writer, Counter: b.nextCounter()}
	b.ops = append(b.ops, crdt.EdgeAddOp(from, to, label, dot))
	return dot
}

// RemoveEdge appends an EdgeRemove op tombstoning observed.
func (b *Builder) RemoveEdge(from, to, label string, observed []warpids.Dot) {
	b.ops = append(b.ops, crdt.EdgeRemoveOp(from, to, label, observed))
}

// SetNodeProp appends a PropSet op targeting a node property.
func (b *Builder) SetNodeProp(node, key string, value crdt.Value) {
	b.ops = append(b.ops, crdt.NodePropSetOp(node, key, value))
}

// SetEdgeProp appends a PropSet op targeting an edge property.
func (b *Builder) SetEdgeProp(from, to, label, key string, value crdt.Value) {
	b.ops = append(b.ops, crdt.EdgePropSetOp(from, to, label, key, value))
}

// Commit encodes the accumulated ops as a patch, writes the blob, creates a
// commit with parent = expectedOldHead, then CAS-updates the writer ref.
// A CAS loss leaves the blob and commit object as garbage and returns
// apperrors.CodeWriterRefAdvanced naming the actual tip, instructing the
// caller to re-materialize and retry.
func (b *Builder) Commit(ctx context.Context) (string, error) {
	if len(b.ops) == 0 {
		return "", apperrors.New(apperrors.CodeEmptyPatch, "patch has no ops")
	}

	lamport := b.snap.MaxObservedLamport
	if lamport < 1 {
		lamport = 1
	} else {
		lamport++
	}

	p := crdt.Patch{
		Schema:  crdt.SchemaVersion,
		Writer:  b.writer,
		Lamport: lamport,
		Context: b.snap.ObservedFrontier.Clone(),
		Ops:     b.ops,
	}

	blob, err := EncodeBlob(p)
	if err != nil {
		return "", err
	}
	patchOID, err := b.store.WriteBlob(ctx, blob)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "write patch blob", err)
	}

	var parents []string
	if b.hasHead {
		parents = []string{b.oldHead}
	}
	message := FormatMessage(Message{
		Graph:    b.graph,
		Writer:   b.writer,
		Lamport:  lamport,
		PatchOID: patchOID,
		Schema:   crdt.SchemaVersion,
	})
	sha, err := b.store.CommitNode(ctx, objectstore.CommitSpec{Message: message, Parents: parents})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "create patch commit", err)
	}

	ref := objectstore.WriterRef(b.graph, b.writer)
	if err := b.store.CompareAndSwapRef(ctx, ref, b.oldHead, sha); err != nil {
		var casErr *objectstore.CASConflictError
		if ok := asCASConflict(err, &casErr); ok {
			return "", apperrors.New(apperrors.CodeWriterRefAdvanced,
				fmt.Sprintf("writer %s ref advanced: expected %q, actual %q", b.writer, casErr.Expected, casErr.Actual)).
				WithContext("expected", casErr.Expected).
				WithContext("actual", casErr.Actual)
		}
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "CAS writer ref", err)
	}
	return sha, nil
}

func asCASConflict(err error, target **objectstore.CASConflictError) bool {
	if c, ok := err.(*objectstore.CASConflictError); ok {
		*target = c
		return true
	}
	return false
}

// Apply runs fn against a fresh Builder and commits it. Retrying on a lost
// CAS race (apperrors.CodeWriterRefAdvanced) is the caller's responsibility —
// a single call never re-reads the ref itself.
func Apply(ctx context.Context, store objectstore.Store, graph, writer string, snap Snapshot, fn func(*Builder)) (string, error) {
	b, err := BeginPatch(ctx, store, graph, writer, snap)
	if err != nil {
		return "", err
	}
	fn(b)
	return b.Commit(ctx)
}
