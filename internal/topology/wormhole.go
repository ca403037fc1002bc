package topology

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/objectstore"
	"github.com/warpdb/warp/internal/patch"
)

// Wormhole is a contiguous range of one writer's patches compressed into a
// single provenance payload that preserves exact replay (spec §4.6).
// Payload is a sequence of length-prefixed patch blobs in causal order,
// oldest first — a shape under which two adjacent wormholes compose by
// plain byte concatenation (the "monoid" the spec calls for).
type Wormhole struct {
	Graph   string
	Writer  string
	FromSHA string
	ToSHA   string
	Payload []byte
}

// WormholeRequest names the range to compress: writer's chain in graph,
// from FromSHA (exclusive) to ToSHA (inclusive).
type WormholeRequest struct {
	Graph   string
	Writer  string
	FromSHA string
	ToSHA   string
}

// WormholeService builds and composes Wormholes over a store.
type WormholeService struct {
	store objectstore.Store
}

// NewWormholeService returns a WormholeService over store.
func NewWormholeService(store objectstore.Store) *WormholeService {
	return &WormholeService{store: store}
}

// Compress validates req and builds the Wormhole covering (FromSHA, ToSHA].
func (w *WormholeService) Compress(ctx context.Context, req WormholeRequest) (Wormhole, error) {
	for _, sha := range []string{req.FromSHA, req.ToSHA} {
		exists, err := w.store.NodeExists(ctx, sha)
		if err != nil {
			return Wormhole{}, fmt.Errorf("check commit %s: %w", sha, err)
		}
		if !exists {
			return Wormhole{}, apperrors.New(apperrors.CodeWormholeSHANotFound, fmt.Sprintf("commit %s does not exist", sha))
		}
	}

	// Walk back from ToSHA to FromSHA, collecting every commit along the
	// way (exclusive of FromSHA). A single-parent walk is correct because
	// writer chains never merge.
	var chain []objectstore.NodeInfo
	sha := req.ToSHA
	for sha != req.FromSHA {
		info, err := w.store.GetNodeInfo(ctx, sha)
		if err != nil {
			return Wormhole{}, fmt.Errorf("read commit %s: %w", sha, err)
		}
		if patch.CommitKind(info.Message) != "patch" {
			return Wormhole{}, apperrors.New(apperrors.CodeWormholeNotPatch,
				fmt.Sprintf("commit %s is not a patch commit", info.SHA))
		}
		msg, err := patch.ParseMessage(info.Message)
		if err != nil {
			return Wormhole{}, err
		}
		if msg.Writer != req.Writer {
			return Wormhole{}, apperrors.New(apperrors.CodeWormholeMultiWriter,
				fmt.Sprintf("commit %s belongs to writer %s, not %s", info.SHA, msg.Writer, req.Writer))
		}
		chain = append(chain, info)
		if len(info.Parents) == 0 {
			return Wormhole{}, apperrors.New(apperrors.CodeWormholeInvalidRange,
				fmt.Sprintf("%s is not an ancestor of %s within writer %s's chain", req.FromSHA, req.ToSHA, req.Writer))
		}
		sha = info.Parents[0]
	}

	// chain is newest-first; emit oldest-first so the payload replays in
	// causal order.
	payload := make([]byte, 0, len(chain)*64)
	for i := len(chain) - 1; i >= 0; i-- {
		info := chain[i]
		msg, err := patch.ParseMessage(info.Message)
		if err != nil {
			return Wormhole{}, err
		}
		blob, err := w.store.ReadBlob(ctx, msg.PatchOID)
		if err != nil {
			return Wormhole{}, fmt.Errorf("read patch blob %s: %w", msg.PatchOID, err)
		}
		payload = appendLengthPrefixed(payload, blob)
	}

	return Wormhole{Graph: req.Graph, Writer: req.Writer, FromSHA: req.FromSHA, ToSHA: req.ToSHA, Payload: payload}, nil
}

// Compose concatenates two adjacent wormholes (a.ToSHA == b.FromSHA, same
// graph/writer) into the wormhole covering their combined range.
func Compose(a, b Wormhole) (Wormhole, error) {
	if a.Graph != b.Graph || a.Writer != b.Writer {
		return Wormhole{}, apperrors.New(apperrors.CodeWormholeMultiWriter, "cannot compose wormholes from different writers")
	}
	if a.ToSHA != b.FromSHA {
		return Wormhole{}, apperrors.New(apperrors.CodeWormholeInvalidRange, "wormholes are not adjacent")
	}
	payload := make([]byte, 0, len(a.Payload)+len(b.Payload))
	payload = append(payload, a.Payload...)
	payload = append(payload, b.Payload...)
	return Wormhole{Graph: a.Graph, Writer: a.Writer, FromSHA: a.FromSHA, ToSHA: b.ToSHA, Payload: payload}, nil
}

// Patches decodes a Wormhole's payload back into its constituent patch blobs,
// oldest first, verifying the range "preserves exact replay".
func (w Wormhole) Patches() ([][]byte, error) {
	var out [][]byte
	buf := w.Payload
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, apperrors.New(apperrors.CodeWormholeInvalidRange, "truncated wormhole payload")
		}
		n := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < n {
			return nil, apperrors.New(apperrors.CodeWormholeInvalidRange, "truncated wormhole payload")
		}
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	return out, nil
}

func appendLengthPrefixed(dst, blob []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(blob)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, blob...)
	return dst
}
