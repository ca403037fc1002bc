package materialize

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/patch"
	"github.com/warpdb/warp/internal/warpids"
)

// Tree entry names a checkpoint commit's tree holds (spec §6).
const (
	stateTreeEntry     = "state.cbor"
	frontierTreeEntry  = "frontier.cbor"
	appliedVVTreeEntry = "appliedVV.cbor"
)

// checkpoint is a loaded checkpoint commit: its SHA and the three decoded
// tree entries spec §6 requires.
type checkpoint struct {
	SHA       string
	State     crdt.WireState
	Frontier  map[string]string     // writer -> tip sha as of this checkpoint
	AppliedVV warpids.VersionVector // writer -> highest lamport folded into State
}

// CheckpointService installs and loads checkpoints (spec §4.3/§6): a commit
// whose tree holds the materialized state, the writer tips it was built
// from, and the per-writer lamport frontier already folded into it, plus a
// state-hash trailer field the loader verifies on every load.
type CheckpointService struct {
	store objectstore.Store
}

// NewCheckpointService returns a CheckpointService backed by store.
func NewCheckpointService(store objectstore.Store) *CheckpointService {
	return &CheckpointService{store: store}
}

// Install serializes state (and the writer tips and applied version vector
// it was folded through) into a new checkpoint commit and advances
// refs/warp/<graph>/checkpoints/head to it. Unlike writer refs, the
// checkpoints head is not CAS-guarded: only the owning engine installs
// checkpoints, serialized by its own call queue (spec §5).
func (c *CheckpointService) Install(ctx context.Context, graph string, state crdt.WarpState, appliedVV warpids.VersionVector) (string, error) {
	tips, err := writerTips(ctx, c.store, graph)
	if err != nil {
		return "", err
	}

	stateOID, err := c.writeBlob(ctx, state.ToWire(), stateTreeEntry)
	if err != nil {
		return "", err
	}
	frontierOID, err := c.writeBlob(ctx, tips, frontierTreeEntry)
	if err != nil {
		return "", err
	}
	appliedVVOID, err := c.writeBlob(ctx, appliedVV.Clone(), appliedVVTreeEntry)
	if err != nil {
		return "", err
	}

	treeOID, err := c.store.WriteTree(ctx, map[string]string{
		stateTreeEntry:     stateOID,
		frontierTreeEntry:  frontierOID,
		appliedVVTreeEntry: appliedVVOID,
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "write checkpoint tree", err)
	}

	var parents []string
	if head, ok, err := c.store.ReadRef(ctx, objectstore.CheckpointsHeadRef(graph)); err != nil {
		return "", fmt.Errorf("read checkpoints head: %w", err)
	} else if ok {
		parents = []string{head}
	}

	message := patch.FormatCheckpointMessage(patch.CheckpointMessage{
		Graph:       graph,
		StateHash:   crdt.StateHash(state),
		FrontierOID: frontierOID,
	})
	sha, err := c.store.CommitNode(ctx, objectstore.CommitSpec{Message: message, Parents: parents, Tree: treeOID})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "create checkpoint commit", err)
	}
	if err := c.store.UpdateRef(ctx, objectstore.CheckpointsHeadRef(graph), sha); err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "advance checkpoints head", err)
	}
	return sha, nil
}

func (c *CheckpointService) writeBlob(ctx context.Context, v any, entry string) (string, error) {
	blob, err := cbor.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", entry, err)
	}
	oid, err := c.store.WriteBlob(ctx, blob)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "write "+entry, err)
	}
	return oid, nil
}

// loadLatestCheckpoint reads graph's checkpoints/head, if any, decodes its
// tree, and verifies the decoded state against the commit's eg-state-hash
// trailer, raising CodeStateHashMismatch on a mismatch. Returns (nil, nil)
// when no checkpoint has ever been installed.
func loadLatestCheckpoint(ctx context.Context, store objectstore.Store, graph string) (*checkpoint, error) {
	sha, ok, err := store.ReadRef(ctx, objectstore.CheckpointsHeadRef(graph))
	if err != nil {
		return nil, fmt.Errorf("read checkpoints head: %w", err)
	}
	if !ok {
		return nil, nil
	}

	info, err := store.GetNodeInfo(ctx, sha)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint commit %s: %w", sha, err)
	}
	msg, err := patch.ParseCheckpointMessage(info.Message)
	if err != nil {
		return nil, err
	}
	if info.Tree == "" {
		return nil, apperrors.New(apperrors.CodeMalformedPatch, fmt.Sprintf("checkpoint %s has no tree", sha))
	}

	entries, err := store.ReadTreeOids(ctx, info.Tree)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint tree %s: %w", info.Tree, err)
	}
	stateOID, ok := entries[stateTreeEntry]
	if !ok {
		return nil, apperrors.New(apperrors.CodeMalformedPatch, fmt.Sprintf("checkpoint %s tree missing %s", sha, stateTreeEntry))
	}

	stateBlob, err := store.ReadBlob(ctx, stateOID)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", stateTreeEntry, stateOID, err)
	}
	var wire crdt.WireState
	if err := cbor.Unmarshal(stateBlob, &wire); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedPatch, "decode checkpoint state", err)
	}

	if gotHash := crdt.StateHash(crdt.FromWireState(wire)); gotHash != msg.StateHash {
		return nil, apperrors.New(apperrors.CodeStateHashMismatch,
			fmt.Sprintf("checkpoint %s: trailer eg-state-hash %s does not match decoded state hash %s", sha, msg.StateHash, gotHash))
	}

	var frontier map[string]string
	if oid, ok := entries[frontierTreeEntry]; ok {
		blob, err := store.ReadBlob(ctx, oid)
		if err != nil {
			return nil, fmt.Errorf("read %s %s: %w", frontierTreeEntry, oid, err)
		}
		if err := cbor.Unmarshal(blob, &frontier); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeMalformedPatch, "decode checkpoint frontier", err)
		}
	}

	appliedVV := warpids.VersionVector{}
	if oid, ok := entries[appliedVVTreeEntry]; ok {
		blob, err := store.ReadBlob(ctx, oid)
		if err != nil {
			return nil, fmt.Errorf("read %s %s: %w", appliedVVTreeEntry, oid, err)
		}
		if err := cbor.Unmarshal(blob, &appliedVV); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeMalformedPatch, "decode checkpoint applied version vector", err)
		}
	}

	return &checkpoint{SHA: sha, State: wire, Frontier: frontier, AppliedVV: appliedVV}, nil
}
