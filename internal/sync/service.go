package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/logging"
	"github.com/warpdb/warp/internal/materialize"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/patch"
	"github.com/warpdb/warp/internal/warpids"
)

const maxFetchConcurrency = 8

// Peer is the in-process sync transport (spec §4.6): an object another
// Service exposes so two Services can exchange frontiers without an HTTP
// round trip.
type Peer interface {
	ProcessSyncRequest(ctx context.Context, req Request) (Response, error)
}

// Service implements one graph's anti-entropy participant: it knows how to
// answer a peer's sync request from its own store, and how to apply a
// peer's response to its own writer chains.
type Service struct {
	store objectstore.Store
	log   *slog.Logger
}

// New returns a Service over store.
func New(store objectstore.Store, log *slog.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{store: store, log: logging.Component(log, "sync")}
}

// LocalFrontier reads graph's current writer tips, expressed as a
// VersionVector over each writer's highest committed lamport (read from the
// tip commit's trailer), the form spec §4.6 exchanges.
func (s *Service) LocalFrontier(ctx context.Context, graph string) (warpids.VersionVector, error) {
	tips, err := writerTips(ctx, s.store, graph)
	if err != nil {
		return nil, err
	}
	vv := make(warpids.VersionVector, len(tips))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFetchConcurrency)
	for writer, sha := range tips {
		writer, sha := writer, sha
		g.Go(func() error {
			info, err := s.store.GetNodeInfo(gctx, sha)
			if err != nil {
				return fmt.Errorf("read tip %s for writer %s: %w", sha, writer, err)
			}
			msg, err := patch.ParseMessage(info.Message)
			if err != nil {
				return err
			}
			mu.Lock()
			vv[writer] = msg.Lamport
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vv, nil
}

// ProcessSyncRequest answers req with every patch graph's writers hold that
// req.Frontier does not yet reflect (spec §4.6, §6).
func (s *Service) ProcessSyncRequest(ctx context.Context, graph string, req Request) (Response, error) {
	tips, err := writerTips(ctx, s.store, graph)
	if err != nil {
		return Response{}, err
	}

	var envelopes []PatchEnvelope
	for writer, tip := range tips {
		floor := req.Frontier[writer]
		missing, err := collectMissingPatches(ctx, s.store, tip, floor)
		if err != nil {
			return Response{}, err
		}
		envelopes = append(envelopes, missing...)
	}

	local, err := s.LocalFrontier(ctx, graph)
	if err != nil {
		return Response{}, err
	}
	return Response{Type: responseType, Frontier: local, Patches: envelopes}, nil
}

// collectMissingPatches walks tip's chain back to (but not including) the
// commit at lamport <= floor, returning each patch commit as a
// PatchEnvelope, oldest first.
func collectMissingPatches(ctx context.Context, store objectstore.Store, tip string, floor uint64) ([]PatchEnvelope, error) {
	var out []PatchEnvelope
	sha := tip
	for sha != "" {
		info, err := store.GetNodeInfo(ctx, sha)
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", sha, err)
		}
		msg, err := patch.ParseMessage(info.Message)
		if err != nil {
			return nil, err
		}
		if msg.Lamport <= floor {
			break
		}
		blob, err := store.ReadBlob(ctx, msg.PatchOID)
		if err != nil {
			return nil, fmt.Errorf("read patch blob %s: %w", msg.PatchOID, err)
		}
		out = append(out, PatchEnvelope{WriterID: msg.Writer, SHA: sha, PatchBytes: blob})
		if len(info.Parents) == 0 {
			break
		}
		sha = info.Parents[0]
	}
	reverseEnvelopes(out)
	return out, nil
}

func reverseEnvelopes(envs []PatchEnvelope) {
	for i, j := 0, len(envs)-1; i < j; i, j = i+1, j-1 {
		envs[i], envs[j] = envs[j], envs[i]
	}
}

// ApplyResponse validates and applies every patch in resp against graph's
// local writer chains, extending each writer ref via CAS (spec §4.6). Each
// writer's own patches must arrive oldest-first, which ProcessSyncRequest
// guarantees.
func (s *Service) ApplyResponse(ctx context.Context, mat *materialize.Service, graph string, resp Response) error {
	byWriter := make(map[string][]PatchEnvelope)
	for _, env := range resp.Patches {
		byWriter[env.WriterID] = append(byWriter[env.WriterID], env)
	}

	for writer, envs := range byWriter {
		if err := s.applyWriterChain(ctx, graph, writer, envs); err != nil {
			return err
		}
	}
	if mat != nil {
		mat.InvalidateGraph(ctx, graph)
	}
	return nil
}

// applyWriterChain validates and CAS-applies one writer's incoming patches,
// in order, against that writer's own ref in graph. The wire envelope
// carries no explicit parent link (spec §6's minimal PatchEnvelope is
// {writerId, sha, patchBytes}), so divergence is detected indirectly: a
// lamport that does not exceed the local head's is rejected as backfill
// (CodeBackfillRejected), and a concurrent local write racing this apply is
// caught by the CAS at commit time and reported as CodeWriterForkDetected
// (documented in DESIGN.md as a simplification of the minimal wire
// contract).
func (s *Service) applyWriterChain(ctx context.Context, graph, writer string, envs []PatchEnvelope) error {
	ref := objectstore.WriterRef(graph, writer)
	head, hasHead, err := s.store.ReadRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("read writer ref %s: %w", ref, err)
	}

	lastLamport, err := headLamport(ctx, s.store, head, hasHead)
	if err != nil {
		return err
	}

	for _, env := range envs {
		p, err := patch.DecodeBlob(env.SHA, env.PatchBytes)
		if err != nil {
			return err
		}
		if p.Writer != writer {
			return apperrors.New(apperrors.CodeMalformedPatch,
				fmt.Sprintf("envelope writer %q does not match patch writer %q", writer, p.Writer))
		}
		if hasHead && p.Lamport <= lastLamport {
			return apperrors.New(apperrors.CodeBackfillRejected,
				fmt.Sprintf("incoming patch at lamport %d does not extend local frontier at %d", p.Lamport, lastLamport))
		}

		patchOID, err := s.store.WriteBlob(ctx, env.PatchBytes)
		if err != nil {
			return apperrors.Wrap(apperrors.CodePersistWriteFailed, "write synced patch blob", err)
		}
		var parents []string
		if hasHead {
			parents = []string{head}
		}
		message := patch.FormatMessage(patch.Message{
			Graph:    graph,
			Writer:   writer,
			Lamport:  p.Lamport,
			PatchOID: patchOID,
			Schema:   p.Schema,
		})
		sha, err := s.store.CommitNode(ctx, objectstore.CommitSpec{Message: message, Parents: parents})
		if err != nil {
			return apperrors.Wrap(apperrors.CodePersistWriteFailed, "create synced patch commit", err)
		}
		if err := s.store.CompareAndSwapRef(ctx, ref, head, sha); err != nil {
			if casErr, ok := err.(*objectstore.CASConflictError); ok {
				return apperrors.New(apperrors.CodeWriterForkDetected,
					fmt.Sprintf("writer %s ref advanced concurrently during sync apply: expected %q, actual %q", writer, casErr.Expected, casErr.Actual))
			}
			return apperrors.Wrap(apperrors.CodePersistWriteFailed, "CAS writer ref during sync apply", err)
		}
		head = sha
		hasHead = true
		lastLamport = p.Lamport
	}
	return nil
}

func headLamport(ctx context.Context, store objectstore.Store, head string, hasHead bool) (uint64, error) {
	if !hasHead {
		return 0, nil
	}
	info, err := store.GetNodeInfo(ctx, head)
	if err != nil {
		return 0, fmt.Errorf("read writer head %s: %w", head, err)
	}
	msg, err := patch.ParseMessage(info.Message)
	if err != nil {
		return 0, err
	}
	return msg.Lamport, nil
}

func writerTips(ctx context.Context, store objectstore.Store, graph string) (map[string]string, error) {
	if err := objectstore.ValidateGraphName(graph); err != nil {
		return nil, err
	}
	prefix := objectstore.WritersPrefix(graph)
	refs, err := store.ListRefs(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list writer refs: %w", err)
	}
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
