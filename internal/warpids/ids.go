// Package warpids defines the primitive identifiers and clocks every other
// WARP package builds on: EventId (total order for LWW resolution), Dot
// (CRDT add-event membership), and VersionVector (per-writer frontier).
package warpids

import (
	"crypto/rand"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// crockfordAlphabet excludes i, l, o, u per spec §6's writer-id canonical form.
const crockfordAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// NewWriterID generates a canonical `w_` + 26-char Crockford Base32 writer id
// from 128 bits of CSPRNG entropy. Arbitrary ref-safe strings are also valid
// writer ids (see objectstore.ValidateWriterID); this is only the default
// generator.
func NewWriterID() (string, error) {
	var entropy [16]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return "", fmt.Errorf("generate writer id entropy: %w", err)
	}
	return "w_" + encodeCrockford(entropy[:]), nil
}

// encodeCrockford renders 128 bits as 26 Crockford Base32 characters
// (5 bits/char * 26 = 130 bits, rounded up from 128).
func encodeCrockford(data []byte) string {
	var bits uint64
	var bitCount uint
	var out strings.Builder
	i := 0
	for out.Len() < 26 {
		for bitCount < 5 && i < len(data) {
			bits = (bits << 8) | uint64(data[i])
			bitCount += 8
			i++
		}
		if bitCount < 5 {
			bits <<= 5 - bitCount
			bitCount = 5
		}
		shift := bitCount - 5
		idx := (bits >> shift) & 0x1F
		out.WriteByte(crockfordAlphabet[idx])
		bitCount -= 5
	}
	return out.String()
}

// EventId totally orders every op in the system: lexicographic on
// (lamport, writerId, patchSha, opIndex).
type EventId struct {
	Lamport  uint64
	WriterID string
	PatchSHA string
	OpIndex  uint32
}

// Compare returns -1, 0, or 1 as e sorts before, equal to, or after o.
func (e EventId) Compare(o EventId) int {
	if e.Lamport != o.Lamport {
		if e.Lamport < o.Lamport {
			return -1
		}
		return 1
	}
	if e.WriterID != o.WriterID {
		if e.WriterID < o.WriterID {
			return -1
		}
		return 1
	}
	if e.PatchSHA != o.PatchSHA {
		if e.PatchSHA < o.PatchSHA {
			return -1
		}
		return 1
	}
	if e.OpIndex != o.OpIndex {
		if e.OpIndex < o.OpIndex {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether e sorts strictly before o.
func (e EventId) Less(o EventId) bool { return e.Compare(o) < 0 }

// Greater reports whether e sorts strictly after o.
func (e EventId) Greater(o EventId) bool { return e.Compare(o) > 0 }

func (e EventId) String() string {
	return fmt.Sprintf("%d:%s:%s:%d", e.Lamport, e.WriterID, e.PatchSHA, e.OpIndex)
}

// Zero is the smallest possible EventId, useful as a default "nothing has
// ever happened" sentinel for birth-event comparisons.
var Zero = EventId{}

// Dot tags a single CRDT add event, canonically serialized as "writerId:counter".
type Dot struct {
	WriterID string
	Counter  uint64
}

func (d Dot) String() string {
	return d.WriterID + ":" + strconv.FormatUint(d.Counter, 10)
}

// ParseDot parses the canonical "writerId:counter" form.
func ParseDot(s string) (Dot, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return Dot{}, fmt.Errorf("malformed dot %q", s)
	}
	counter, err := strconv.ParseUint(s[idx+1:], 10, 64)
	if err != nil {
		return Dot{}, fmt.Errorf("malformed dot counter %q: %w", s, err)
	}
	return Dot{WriterID: s[:idx], Counter: counter}, nil
}

// VersionVector maps writerId to the highest observed counter for that
// writer. The zero value is the empty vector (identity for Merge).
type VersionVector map[string]uint64

// Clone returns an independent copy.
func (vv VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(vv))
	for k, v := range vv {
		out[k] = v
	}
	return out
}

// Merge returns the per-writer maximum of vv and other, without mutating
// either input.
func (vv VersionVector) Merge(other VersionVector) VersionVector {
	out := vv.Clone()
	for w, c := range other {
		if c > out[w] {
			out[w] = c
		}
	}
	return out
}

// Advance bumps writer w's counter to max(current, counter), mutating vv in
// place, and returns vv for chaining.
func (vv VersionVector) Advance(w string, counter uint64) VersionVector {
	if counter > vv[w] {
		vv[w] = counter
	}
	return vv
}

// Dominates reports whether vv >= other pointwise (every writer counter in
// other is <= the corresponding counter in vv).
func (vv VersionVector) Dominates(other VersionVector) bool {
	for w, c := range other {
		if vv[w] < c {
			return false
		}
	}
	return true
}

// Comparable reports whether vv and other are pointwise comparable: one
// dominates the other (equal vectors are comparable too).
func Comparable(a, b VersionVector) bool {
	return a.Dominates(b) || b.Dominates(a)
}

// Equal reports whether vv and other carry identical (writer, counter) pairs,
// ignoring zero-valued absent entries.
func (vv VersionVector) Equal(other VersionVector) bool {
	for w, c := range vv {
		if c != 0 && other[w] != c {
			return false
		}
	}
	for w, c := range other {
		if c != 0 && vv[w] != c {
			return false
		}
	}
	return true
}

// SortedWriters returns the writer ids present in vv in ascending order, for
// deterministic iteration (frontier hashing, receipts).
func (vv VersionVector) SortedWriters() []string {
	out := make([]string, 0, len(vv))
	for w := range vv {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
