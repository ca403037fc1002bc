package crdt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/warpdb/warp/internal/warpids"
)

// StateHash computes the canonical, deterministic hash of s (spec §4.7):
// sorted nodeAlive/edgeAlive entries and dots, sorted property entries with
// their EventIds and serialized values, sorted observedFrontier. Used as a
// materialization cache key, a checkpoint integrity field, and the oracle
// for join-order-invariance tests.
func StateHash(s WarpState) string {
	h := sha256.New()

	writeLine := func(parts ...string) {
		h.Write([]byte(strings.Join(parts, "\x1f")))
		h.Write([]byte{'\n'})
	}

	for _, row := range SortedEntries(s.NodeAlive, func(e string) string { return e }) {
		writeLine(append([]string{"N", row.Elem}, dotStrings(row.Dots)...)...)
	}
	for _, row := range SortedEntries(s.EdgeAlive, func(e string) string { return e }) {
		writeLine(append([]string{"E", row.Elem}, dotStrings(row.Dots)...)...)
	}

	propKeys := make([]string, 0, len(s.Prop))
	for k := range s.Prop {
		propKeys = append(propKeys, k)
	}
	sort.Strings(propKeys)
	for _, k := range propKeys {
		reg := s.Prop[k]
		if !reg.IsSet() {
			continue
		}
		writeLine("P", k, reg.EventID.String(), reg.Value.Canonical())
	}

	for _, w := range s.ObservedFrontier.SortedWriters() {
		writeLine("F", w, fmt.Sprintf("%d", s.ObservedFrontier[w]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// FrontierHash hashes a sorted writer->tip map, used as the materialization
// cache key's frontierHash component (spec §4.3). sortedWriters must already
// be in ascending order; tips maps writer id to its current tip SHA.
func FrontierHash(sortedWriters []string, tips map[string]string) string {
	h := sha256.New()
	for _, w := range sortedWriters {
		h.Write([]byte(w))
		h.Write([]byte{0x1f})
		h.Write([]byte(tips[w]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func dotStrings(dots []warpids.Dot) []string {
	out := make([]string, len(dots))
	for i, d := range dots {
		out[i] = d.String()
	}
	return out
}

