package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdb/warp/internal/crdt"
)

func TestFormatParseMessageRoundTrip(t *testing.T) {
	m := Message{
		Graph:    "demo",
		Writer:   "w_a",
		Lamport:  7,
		PatchOID: "abc123",
		Schema:   crdt.SchemaVersion,
	}

	rendered := FormatMessage(m)
	assert.Contains(t, rendered, PatchSubject)

	got, err := ParseMessage(rendered)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestParseMessageRejectsNonPatchTrailer(t *testing.T) {
	_, err := ParseMessage("warp:checkpoint\n\neg-kind: checkpoint\n")
	require.Error(t, err)
}

func TestParseMessageRejectsIncompleteTrailer(t *testing.T) {
	_, err := ParseMessage("warp:patch\n\neg-kind: patch\neg-lamport: 1\neg-schema: 2\n")
	require.Error(t, err)
}

func TestTrailerFormatSortsFieldsDeterministically(t *testing.T) {
	t1 := Trailer{Subject: "warp:patch", Fields: map[string]string{"eg-b": "2", "eg-a": "1"}}
	t2 := Trailer{Subject: "warp:patch", Fields: map[string]string{"eg-a": "1", "eg-b": "2"}}
	assert.Equal(t, t1.Format(), t2.Format())
}
