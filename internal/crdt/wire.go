package crdt

import (
	"sort"

	"github.com/warpdb/warp/internal/warpids"
)

// WireState is the checkpoint-serializable form of a WarpState (spec §4.3):
// plain slices and maps a cbor.Marshaler can round-trip, since ORSet and
// LWWRegister keep their invariant-enforcing fields unexported.
type WireState struct {
	NodeAlive        []WireSetEntry        `cbor:"node_alive"`
	NodeTombstones   []warpids.Dot         `cbor:"node_tombstones"`
	EdgeAlive        []WireSetEntry        `cbor:"edge_alive"`
	EdgeTombstones   []warpids.Dot         `cbor:"edge_tombstones"`
	Props            []WireProp            `cbor:"props"`
	EdgeBirthEvent   []WireBirthEntry      `cbor:"edge_birth_event"`
	ObservedFrontier warpids.VersionVector `cbor:"observed_frontier"`
}

// WireSetEntry is one ORSet element with the dots that currently add it.
type WireSetEntry struct {
	Elem string        `cbor:"elem"`
	Dots []warpids.Dot `cbor:"dots"`
}

// WireProp is one property register: key, the winning EventId, and value.
type WireProp struct {
	Key     string         `cbor:"key"`
	EventID warpids.EventId `cbor:"event_id"`
	Value   Value          `cbor:"value"`
}

// WireBirthEntry is one edge's recorded birth event.
type WireBirthEntry struct {
	EdgeKey string          `cbor:"edge_key"`
	EventID warpids.EventId `cbor:"event_id"`
}

// ToWire renders s in its checkpoint-serializable form, in deterministic
// (sorted) order so two equal states always serialize identically.
func (s WarpState) ToWire() WireState {
	w := WireState{
		NodeTombstones:   s.NodeAlive.SortedTombstones(),
		EdgeTombstones:   s.EdgeAlive.SortedTombstones(),
		ObservedFrontier: s.ObservedFrontier.Clone(),
	}
	for _, row := range SortedEntries(s.NodeAlive, func(e string) string { return e }) {
		w.NodeAlive = append(w.NodeAlive, WireSetEntry{Elem: row.Elem, Dots: row.Dots})
	}
	for _, row := range SortedEntries(s.EdgeAlive, func(e string) string { return e }) {
		w.EdgeAlive = append(w.EdgeAlive, WireSetEntry{Elem: row.Elem, Dots: row.Dots})
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
		w.Props = append(w.Props, WireProp{Key: k, EventID: reg.EventID, Value: reg.Value})
	}

	edgeKeys := make([]string, 0, len(s.EdgeBirthEvent))
	for k := range s.EdgeBirthEvent {
		edgeKeys = append(edgeKeys, k)
	}
	sort.Strings(edgeKeys)
	for _, k := range edgeKeys {
		w.EdgeBirthEvent = append(w.EdgeBirthEvent, WireBirthEntry{EdgeKey: k, EventID: s.EdgeBirthEvent[k]})
	}
	return w
}

// FromWireState rebuilds a WarpState from its checkpoint-serialized form.
func FromWireState(w WireState) WarpState {
	s := Empty()
	for _, entry := range w.NodeAlive {
		for _, d := range entry.Dots {
			s.NodeAlive.Add(entry.Elem, d)
		}
	}
	s.NodeAlive.TombstoneDots(w.NodeTombstones)
	for _, entry := range w.EdgeAlive {
		for _, d := range entry.Dots {
			s.EdgeAlive.Add(entry.Elem, d)
		}
	}
	s.EdgeAlive.TombstoneDots(w.EdgeTombstones)
	for _, p := range w.Props {
		reg := s.Prop[p.Key]
		reg.Set(p.EventID, p.Value)
		s.Prop[p.Key] = reg
	}
	for _, b := range w.EdgeBirthEvent {
		s.EdgeBirthEvent[b.EdgeKey] = b.EventID
	}
	s.ObservedFrontier = w.ObservedFrontier.Clone()
	return s
}
