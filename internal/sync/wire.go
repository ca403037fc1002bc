// Package sync implements WARP's frontier-based anti-entropy protocol (spec
// §4.6): exchanging version vectors, fetching missing patches, and
// validating each incoming patch's lamport against the receiver's current
// head commit for that writer before it is allowed to extend the writer's
// chain. The receiver's checkpoint frontier is not consulted.
package sync

import (
	"encoding/json"

	"github.com/warpdb/warp/internal/warpids"
)

// Request is the canonical sync-request wire message (spec §6): the
// caller's frontier, so the peer can compute what it is ahead by. Fields
// are declared in JSON-key sort order so struct encoding is already
// canonical.
type Request struct {
	Frontier warpids.VersionVector `json:"frontier"`
	Type     string                `json:"type"`
}

// PatchEnvelope carries one raw patch commit across the wire: its writer,
// commit sha, and the encoded patch blob bytes (spec §6). Field order
// follows the JSON-key sort order (patchBytes, sha, writerId).
type PatchEnvelope struct {
	PatchBytes []byte `json:"patchBytes"`
	SHA        string `json:"sha"`
	WriterID   string `json:"writerId"`
}

// Response is the canonical sync-response wire message: the peer's own
// frontier plus every patch the caller's frontier was missing. Field order
// follows the JSON-key sort order (frontier, patches, type).
type Response struct {
	Frontier warpids.VersionVector `json:"frontier"`
	Patches  []PatchEnvelope       `json:"patches"`
	Type     string                `json:"type"`
}

const (
	requestType  = "sync-request"
	responseType = "sync-response"
)

// NewRequest wraps a frontier as a sync-request.
func NewRequest(frontier warpids.VersionVector) Request {
	return Request{Type: requestType, Frontier: frontier}
}

// MarshalCanonical renders v as canonical JSON (spec §6): object keys in
// sorted order. encoding/json already sorts map keys, and the wire structs
// above declare their fields in JSON-key sort order, so a plain Marshal is
// already canonical without a second pass.
func MarshalCanonical(v any) ([]byte, error) {
	return json.Marshal(v)
}
