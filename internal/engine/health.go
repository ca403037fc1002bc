package engine

import (
	"context"
	"time"

	"github.com/warpdb/warp/internal/objectstore"
)

// GraphHealth reports one graph's cached-state and timing status.
type GraphHealth struct {
	HasMaterializedState bool
	ObservedLamport      uint64
	LastCheckpointAt     time.Time
	LastSyncAt           time.Time
}

// HealthReport is the result of Engine.Health: object-store reachability
// plus per-graph status for every graph this Engine has touched since
// start-up.
type HealthReport struct {
	Store  objectstore.PingResult
	Graphs map[string]GraphHealth
}

// Health pings the object store and reports status for every graph this
// Engine has seen. It does not go through the call queue: it only reads
// already-cached state and the store's own Ping, neither of which needs
// serialization against in-flight mutations.
func (e *Engine) Health(ctx context.Context) (HealthReport, error) {
	ping, err := e.store.Ping(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	e.mu.Lock()
	snapshot := make(map[string]*graphState, len(e.graphs))
	for name, gs := range e.graphs {
		snapshot[name] = gs
	}
	e.mu.Unlock()

	graphs := make(map[string]GraphHealth, len(snapshot))
	for name, gs := range snapshot {
		lamport, err := e.mat.CurrentLamport(ctx, name)
		if err != nil {
			e.log.Warn("health: current lamport lookup failed", "graph", name, "error", err)
		}
		_, stateErr := gs.layer.State()
		graphs[name] = GraphHealth{
			HasMaterializedState: stateErr == nil,
			ObservedLamport:      lamport,
			LastCheckpointAt:     gs.lastCheckpointAt,
			LastSyncAt:           gs.lastSyncAt,
		}
	}

	return HealthReport{Store: ping, Graphs: graphs}, nil
}
