package materialize

import (
	"context"
	"sort"
)

// Ticks is the result of discoverTicks (spec §4.3): every distinct lamport
// value observed across all writers, plus a per-writer histogram, so a
// caller can pick a valid ceiling for a time-traveled materialize.
type Ticks struct {
	Distinct      []uint64
	PerWriterTick map[string][]uint64
}

// DiscoverTicks walks every writer chain in full (ignoring any checkpoint
// fast-start, since the whole point is to enumerate every tick a ceiling
// could land on) and returns the distinct lamport values observed.
func (s *Service) DiscoverTicks(ctx context.Context, graph string) (Ticks, error) {
	tips, err := writerTips(ctx, s.store, graph)
	if err != nil {
		return Ticks{}, err
	}
	patches, err := walkAllChains(ctx, s.store, tips, nil, nil)
	if err != nil {
		return Ticks{}, err
	}

	seen := make(map[uint64]struct{})
	perWriter := make(map[string]map[uint64]struct{})
	for _, p := range patches {
		seen[p.Patch.Lamport] = struct{}{}
		w := perWriter[p.Patch.Writer]
		if w == nil {
			w = make(map[uint64]struct{})
			perWriter[p.Patch.Writer] = w
		}
		w[p.Patch.Lamport] = struct{}{}
	}

	out := Ticks{PerWriterTick: make(map[string][]uint64, len(perWriter))}
	for tick := range seen {
		out.Distinct = append(out.Distinct, tick)
	}
	sort.Slice(out.Distinct, func(i, j int) bool { return out.Distinct[i] < out.Distinct[j] })
	for w, ticks := range perWriter {
		list := make([]uint64, 0, len(ticks))
		for t := range ticks {
			list = append(list, t)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		out.PerWriterTick[w] = list
	}
	return out, nil
}
