package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/warpids"
)

func TestEncodeDecodeBlobRoundTrip(t *testing.T) {
	p := crdt.Patch{
		Writer:  "w_a",
		Lamport: 3,
		Context: warpids.VersionVector{"w_a": 2},
		Ops: []crdt.Op{
			crdt.NodeAddOp("n1", warpids.Dot{WriterID: "w_a", Counter: 3}),
			crdt.NodePropSetOp("n1", "k", crdt.String("v")),
		},
	}

	blob, err := EncodeBlob(p)
	require.NoError(t, err)

	got, err := DecodeBlob("deadbeef", blob)
	require.NoError(t, err)

	assert.Equal(t, crdt.SchemaVersion, got.Schema)
	assert.Equal(t, p.Writer, got.Writer)
	assert.Equal(t, p.Lamport, got.Lamport)
	assert.Len(t, got.Ops, 2)
}

func TestDecodeBlobRejectsUnsupportedSchema(t *testing.T) {
	p := crdt.Patch{Schema: 99, Writer: "w_a", Lamport: 1}
	blob, err := EncodeBlob(p)
	require.NoError(t, err)

	_, err = DecodeBlob("sha", blob)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeMalformedPatch, appErr.Code)
}

func TestDecodeBlobRejectsGarbage(t *testing.T) {
	_, err := DecodeBlob("sha", []byte("not cbor"))
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeMalformedPatch, appErr.Code)
}
