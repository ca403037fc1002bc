package topology

import (
	"context"
	"fmt"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/objectstore"
)

// ForkRequest names a source writer chain, an ancestor commit within it, and
// the destination graph/writer to create (spec §4.6: "fork({from, at,
// forkName, forkWriterId?})").
type ForkRequest struct {
	Graph        string // source graph
	Writer       string // source writer whose chain to fork
	At           string // commit sha within Writer's chain to fork at
	ForkName     string // destination graph name; must not already have refs
	ForkWriterID string // destination writer id; defaults to Writer if empty
}

// ForkService creates new graphs by pointing a fresh writer ref at an
// existing commit, relying on content-addressing to share history for free.
type ForkService struct {
	store objectstore.Store
}

// NewForkService returns a ForkService over store.
func NewForkService(store objectstore.Store) *ForkService {
	return &ForkService{store: store}
}

// Fork validates req and creates refs/warp/<forkName>/writers/<forkWriterId>
// pointing at req.At, returning that ref.
func (f *ForkService) Fork(ctx context.Context, req ForkRequest) (string, error) {
	if err := objectstore.ValidateGraphName(req.Graph); err != nil {
		return "", err
	}
	if err := objectstore.ValidateWriterID(req.Writer); err != nil {
		return "", err
	}
	if err := objectstore.ValidateOID(req.At); err != nil {
		return "", err
	}
	if err := objectstore.ValidateGraphName(req.ForkName); err != nil {
		return "", apperrors.Wrap(apperrors.CodeForkNameInvalid, "invalid fork name", err)
	}
	forkWriterID := req.ForkWriterID
	if forkWriterID == "" {
		forkWriterID = req.Writer
	}
	if err := objectstore.ValidateWriterID(forkWriterID); err != nil {
		return "", err
	}

	sourceRef := objectstore.WriterRef(req.Graph, req.Writer)
	tip, ok, err := f.store.ReadRef(ctx, sourceRef)
	if err != nil {
		return "", fmt.Errorf("read source writer ref %s: %w", sourceRef, err)
	}
	if !ok {
		return "", apperrors.New(apperrors.CodeForkWriterNotFound,
			fmt.Sprintf("writer %s has no chain in graph %s", req.Writer, req.Graph))
	}

	exists, err := f.store.NodeExists(ctx, req.At)
	if err != nil {
		return "", fmt.Errorf("check fork commit %s: %w", req.At, err)
	}
	if !exists {
		return "", apperrors.New(apperrors.CodeForkPatchNotFound,
			fmt.Sprintf("commit %s does not exist", req.At))
	}

	ancestor, err := IsAncestor(ctx, f.store, req.At, tip)
	if err != nil {
		return "", err
	}
	if !ancestor {
		return "", apperrors.New(apperrors.CodeForkPatchNotInChain,
			fmt.Sprintf("commit %s is not an ancestor of writer %s's tip %s", req.At, req.Writer, tip))
	}

	existingRefs, err := f.store.ListRefs(ctx, fmt.Sprintf("refs/warp/%s/", req.ForkName))
	if err != nil {
		return "", fmt.Errorf("list fork target refs: %w", err)
	}
	if len(existingRefs) > 0 {
		return "", apperrors.New(apperrors.CodeForkAlreadyExists,
			fmt.Sprintf("graph %s already has refs", req.ForkName))
	}

	destRef := objectstore.WriterRef(req.ForkName, forkWriterID)
	if err := f.store.UpdateRef(ctx, destRef, req.At); err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistWriteFailed, "create forked writer ref", err)
	}
	return destRef, nil
}
