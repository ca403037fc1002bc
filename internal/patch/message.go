package patch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
)

// Trailer is the generic `first line / blank line / key: value...` commit
// message shape spec §6 uses for both patch and checkpoint commits. Keeping
// the parser generic here lets the materialize package reuse it for
// checkpoint messages without duplicating the format.
type Trailer struct {
	Subject string
	Fields  map[string]string
}

// Format renders the trailer deterministically: subject line, blank line,
// then fields sorted by key so commit messages are byte-stable for a given
// logical content (useful for tests and for content-addressed dedup).
func (t Trailer) Format() string {
	keys := make([]string, 0, len(t.Fields))
	for k := range t.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(t.Subject)
	b.WriteString("\n\n")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(t.Fields[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseTrailer splits a commit message into its subject and `eg-*` fields.
func ParseTrailer(message string) Trailer {
	lines := strings.Split(message, "\n")
	t := Trailer{Fields: make(map[string]string)}
	if len(lines) > 0 {
		t.Subject = lines[0]
	}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		t.Fields[key] = val
	}
	return t
}

// PatchSubject is the fixed first line of every patch commit message.
const PatchSubject = "warp:patch"

// Message is the decoded form of a patch commit's trailer fields (spec §6).
type Message struct {
	Graph     string
	Writer    string
	Lamport   uint64
	PatchOID  string
	Schema    int
}

// FormatMessage renders m as a full commit message per spec §6.
func FormatMessage(m Message) string {
	t := Trailer{
		Subject: PatchSubject,
		Fields: map[string]string{
			"eg-kind":      "patch",
			"eg-graph":     m.Graph,
			"eg-writer":    m.Writer,
			"eg-lamport":   strconv.FormatUint(m.Lamport, 10),
			"eg-patch-oid": m.PatchOID,
			"eg-schema":    strconv.Itoa(crdt.SchemaVersion),
		},
	}
	return t.Format()
}

// ParseMessage extracts a patch Message from a commit message, failing if it
// is not a well-formed `warp:patch` trailer.
func ParseMessage(commitMessage string) (Message, error) {
	t := ParseTrailer(commitMessage)
	if t.Subject != PatchSubject || t.Fields["eg-kind"] != "patch" {
		return Message{}, apperrors.New(apperrors.CodeMalformedPatch, "commit message is not a warp:patch trailer")
	}
	lamport, err := strconv.ParseUint(t.Fields["eg-lamport"], 10, 64)
	if err != nil {
		return Message{}, apperrors.Wrap(apperrors.CodeMalformedPatch, "invalid eg-lamport", err)
	}
	schema, err := strconv.Atoi(t.Fields["eg-schema"])
	if err != nil {
		return Message{}, apperrors.Wrap(apperrors.CodeMalformedPatch, "invalid eg-schema", err)
	}
	m := Message{
		Graph:    t.Fields["eg-graph"],
		Writer:   t.Fields["eg-writer"],
		Lamport:  lamport,
		PatchOID: t.Fields["eg-patch-oid"],
		Schema:   schema,
	}
	if m.Graph == "" || m.Writer == "" || m.PatchOID == "" {
		return Message{}, apperrors.New(apperrors.CodeMalformedPatch, fmt.Sprintf("incomplete patch trailer: %+v", t.Fields))
	}
	return m, nil
}

// AnchorSubject is the fixed first line of an anchor commit message (spec
// §3): a commit whose only purpose is to keep otherwise-disconnected writer
// tips reachable from a managed ref.
const AnchorSubject = "warp:anchor"

// AnchorMessage is the decoded form of an anchor commit's trailer fields.
type AnchorMessage struct {
	Graph string
}

// FormatAnchorMessage renders m as a full anchor commit message.
func FormatAnchorMessage(m AnchorMessage) string {
	t := Trailer{
		Subject: AnchorSubject,
		Fields: map[string]string{
			"eg-kind":  "anchor",
			"eg-graph": m.Graph,
		},
	}
	return t.Format()
}

// ParseAnchorMessage extracts an AnchorMessage, failing if the commit
// message is not a well-formed `warp:anchor` trailer.
func ParseAnchorMessage(commitMessage string) (AnchorMessage, error) {
	t := ParseTrailer(commitMessage)
	if t.Subject != AnchorSubject || t.Fields["eg-kind"] != "anchor" {
		return AnchorMessage{}, apperrors.New(apperrors.CodeMalformedPatch, "commit message is not a warp:anchor trailer")
	}
	return AnchorMessage{Graph: t.Fields["eg-graph"]}, nil
}

// CommitKind classifies a commit message by its subject line: "patch",
// "checkpoint", "anchor", or "unknown" for anything else. Callers that need
// to walk mixed commit history (fork/wormhole validation) use this instead
// of attempting each ParseXMessage in turn.
func CommitKind(commitMessage string) string {
	t := ParseTrailer(commitMessage)
	switch t.Subject {
	case PatchSubject:
		return "patch"
	case CheckpointSubject:
		return "checkpoint"
	case AnchorSubject:
		return "anchor"
	default:
		return "unknown"
	}
}

// CheckpointSubject is the fixed first line of every checkpoint commit message.
const CheckpointSubject = "warp:checkpoint"

// CheckpointMessage is the decoded form of a checkpoint commit's trailer
// fields: which graph it covers, the state hash to verify the tree's
// state.cbor against on load, the oid of the tree's frontier.cbor entry, and
// an optional bitmap-index tree oid for checkpoints that carry one.
type CheckpointMessage struct {
	Graph       string
	StateHash   string
	FrontierOID string
	IndexOID    string // optional; "" when this checkpoint has no index attached
	Schema      int
}

// FormatCheckpointMessage renders m as a full checkpoint commit message.
func FormatCheckpointMessage(m CheckpointMessage) string {
	fields := map[string]string{
		"eg-kind":         "checkpoint",
		"eg-graph":        m.Graph,
		"eg-state-hash":   m.StateHash,
		"eg-frontier-oid": m.FrontierOID,
		"eg-schema":       strconv.Itoa(crdt.SchemaVersion),
	}
	if m.IndexOID != "" {
		fields["eg-index-oid"] = m.IndexOID
	}
	t := Trailer{Subject: CheckpointSubject, Fields: fields}
	return t.Format()
}

// ParseCheckpointMessage extracts a CheckpointMessage, failing if the commit
// message is not a well-formed `warp:checkpoint` trailer.
func ParseCheckpointMessage(commitMessage string) (CheckpointMessage, error) {
	t := ParseTrailer(commitMessage)
	if t.Subject != CheckpointSubject || t.Fields["eg-kind"] != "checkpoint" {
		return CheckpointMessage{}, apperrors.New(apperrors.CodeMalformedPatch, "commit message is not a warp:checkpoint trailer")
	}
	schema, err := strconv.Atoi(t.Fields["eg-schema"])
	if err != nil {
		return CheckpointMessage{}, apperrors.Wrap(apperrors.CodeMalformedPatch, "invalid eg-schema", err)
	}
	m := CheckpointMessage{
		Graph:       t.Fields["eg-graph"],
		StateHash:   t.Fields["eg-state-hash"],
		FrontierOID: t.Fields["eg-frontier-oid"],
		IndexOID:    t.Fields["eg-index-oid"],
		Schema:      schema,
	}
	if m.Graph == "" || m.StateHash == "" || m.FrontierOID == "" {
		return CheckpointMessage{}, apperrors.New(apperrors.CodeMalformedPatch, fmt.Sprintf("incomplete checkpoint trailer: %+v", t.Fields))
	}
	return m, nil
}
