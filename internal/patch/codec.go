package patch

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
)

// EncodeBlob renders a Patch as the CBOR bytes stored in the patch blob
// (spec §6: `{schema:2, writer, lamport, context, ops:[...]}`, op
// discriminator the `type` key — carried here via Op.Type).
func EncodeBlob(p crdt.Patch) ([]byte, error) {
	if p.Schema == 0 {
		p.Schema = crdt.SchemaVersion
	}
	data, err := cbor.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode patch blob: %w", err)
	}
	return data, nil
}

// DecodeBlob parses a patch blob previously produced by EncodeBlob.
// Decoding failures are reported as apperrors.CodeMalformedPatch per spec §7.
func DecodeBlob(sha string, data []byte) (crdt.Patch, error) {
	var p crdt.Patch
	if err := cbor.Unmarshal(data, &p); err != nil {
		return crdt.Patch{}, apperrors.Wrap(apperrors.CodeMalformedPatch, "decode patch blob "+sha, err)
	}
	if p.Schema != crdt.SchemaVersion {
		return crdt.Patch{}, apperrors.New(apperrors.CodeMalformedPatch, fmt.Sprintf("patch %s: unsupported schema %d", sha, p.Schema))
	}
	return p, nil
}
