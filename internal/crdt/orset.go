package crdt

import (
	"sort"

	"github.com/warpdb/warp/internal/warpids"
)

// ORSet is an Observed-Remove Set over T (spec §3): entries map each element
// to the set of dots that added it; tombstones record every dot that has
// ever been removed. An element is visible iff at least one of its dots is
// not tombstoned. A tombstoned dot never revives even if an Add for it is
// replayed — that invariant is enforced by always consulting tombstones
// before considering a dot live.
type ORSet[T comparable] struct {
	entries    map[T]map[warpids.Dot]struct{}
	tombstones map[warpids.Dot]struct{}
}

// NewORSet returns an empty set.
func NewORSet[T comparable]() *ORSet[T] {
	return &ORSet[T]{
		entries:    make(map[T]map[warpids.Dot]struct{}),
		tombstones: make(map[warpids.Dot]struct{}),
	}
}

// Add records dot as having added elem. A previously-tombstoned dot is
// refused (it can never revive an element).
func (s *ORSet[T]) Add(elem T, dot warpids.Dot) {
	if _, dead := s.tombstones[dot]; dead {
		return
	}
	set, ok := s.entries[elem]
	if !ok {
		set = make(map[warpids.Dot]struct{})
		s.entries[elem] = set
	}
	set[dot] = struct{}{}
}

// Remove tombstones every dot in observed for elem, then purges them from
// entries. Dots not currently attributed to elem are still tombstoned (a
// remover can only tombstone what it observed, but tombstoning is otherwise
// unconditional per spec §3).
func (s *ORSet[T]) Remove(elem T, observed []warpids.Dot) {
	for _, d := range observed {
		s.tombstones[d] = struct{}{}
	}
	if set, ok := s.entries[elem]; ok {
		for _, d := range observed {
			delete(set, d)
		}
		if len(set) == 0 {
			delete(s.entries, elem)
		}
	}
}

// TombstoneDots marks each dot in dots as dead without attempting to look up
// or mutate any element's entry, the form a checkpoint restore needs since it
// only knows the flat tombstone list, not which element each dot once
// belonged to.
func (s *ORSet[T]) TombstoneDots(dots []warpids.Dot) {
	for _, d := range dots {
		s.tombstones[d] = struct{}{}
	}
}

// Dots returns the live dots currently attributed to elem (empty if elem is
// not visible). The caller must not mutate the returned slice's backing
// store assumptions; a fresh slice is returned each call.
func (s *ORSet[T]) Dots(elem T) []warpids.Dot {
	set, ok := s.entries[elem]
	if !ok {
		return nil
	}
	out := make([]warpids.Dot, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// Contains reports whether elem is currently visible (has at least one live
// dot).
func (s *ORSet[T]) Contains(elem T) bool {
	set, ok := s.entries[elem]
	return ok && len(set) > 0
}

// Elements returns the currently visible elements. Order is unspecified;
// callers needing determinism should sort.
func (s *ORSet[T]) Elements() []T {
	out := make([]T, 0, len(s.entries))
	for e, set := range s.entries {
		if len(set) > 0 {
			out = append(out, e)
		}
	}
	return out
}

// Join merges other into a fresh ORSet: union of entries, union of
// tombstones, then purge any dot now known tombstoned from entries. Join is
// commutative, associative, and idempotent (spec §8).
func (s *ORSet[T]) Join(other *ORSet[T]) *ORSet[T] {
	out := NewORSet[T]()
	for d := range s.tombstones {
		out.tombstones[d] = struct{}{}
	}
	for d := range other.tombstones {
		out.tombstones[d] = struct{}{}
	}
	merge := func(src map[T]map[warpids.Dot]struct{}) {
		for elem, dots := range src {
			for d := range dots {
				if _, dead := out.tombstones[d]; dead {
					continue
				}
				set, ok := out.entries[elem]
				if !ok {
					set = make(map[warpids.Dot]struct{})
					out.entries[elem] = set
				}
				set[d] = struct{}{}
			}
		}
	}
	merge(s.entries)
	merge(other.entries)
	for elem, set := range out.entries {
		if len(set) == 0 {
			delete(out.entries, elem)
		}
	}
	return out
}

// Clone returns a deep, independent copy.
func (s *ORSet[T]) Clone() *ORSet[T] {
	out := NewORSet[T]()
	for d := range s.tombstones {
		out.tombstones[d] = struct{}{}
	}
	for elem, dots := range s.entries {
		set := make(map[warpids.Dot]struct{}, len(dots))
		for d := range dots {
			set[d] = struct{}{}
		}
		out.entries[elem] = set
	}
	return out
}

// SortedEntries returns (element, sorted dots) pairs ordered by element's
// string form, used by the canonical state hash (spec §4.7).
func SortedEntries[T comparable](s *ORSet[T], key func(T) string) []struct {
	Elem T
	Dots []warpids.Dot
} {
	type row struct {
		Elem T
		Dots []warpids.Dot
	}
	rows := make([]row, 0, len(s.entries))
	for elem, dots := range s.entries {
		if len(dots) == 0 {
			continue
		}
		ds := make([]warpids.Dot, 0, len(dots))
		for d := range dots {
			ds = append(ds, d)
		}
		sort.Slice(ds, func(i, j int) bool {
			if ds[i].WriterID != ds[j].WriterID {
				return ds[i].WriterID < ds[j].WriterID
			}
			return ds[i].Counter < ds[j].Counter
		})
		rows = append(rows, row{Elem: elem, Dots: ds})
	}
	sort.Slice(rows, func(i, j int) bool { return key(rows[i].Elem) < key(rows[j].Elem) })
	out := make([]struct {
		Elem T
		Dots []warpids.Dot
	}, len(rows))
	for i, r := range rows {
		out[i] = struct {
			Elem T
			Dots []warpids.Dot
		}{Elem: r.Elem, Dots: r.Dots}
	}
	return out
}

// SortedTombstones returns every tombstoned dot in deterministic order.
func (s *ORSet[T]) SortedTombstones() []warpids.Dot {
	out := make([]warpids.Dot, 0, len(s.tombstones))
	for d := range s.tombstones {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WriterID != out[j].WriterID {
			return out[i].WriterID < out[j].WriterID
		}
		return out[i].Counter < out[j].Counter
	})
	return out
}
