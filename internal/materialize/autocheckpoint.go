package materialize

import "time"

// AutoCheckpointPolicy decides whether a freshly materialized state is worth
// checkpointing (spec §4.3). Auto-checkpointing is always skipped when the
// caller materialized with a ceiling: compressing history below a
// time-traveled view would make that view unreachable later.
type AutoCheckpointPolicy interface {
	ShouldCheckpoint(patchesSinceLastCheckpoint int, elapsedSinceLastCheckpoint time.Duration) bool
}

// EveryNPatches triggers a checkpoint once at least N patches have been
// folded since the last one.
type EveryNPatches int

func (n EveryNPatches) ShouldCheckpoint(patchesSinceLastCheckpoint int, _ time.Duration) bool {
	return patchesSinceLastCheckpoint >= int(n)
}

// EveryInterval triggers a checkpoint once at least the given duration has
// elapsed since the last one.
type EveryInterval time.Duration

func (d EveryInterval) ShouldCheckpoint(_ int, elapsedSinceLastCheckpoint time.Duration) bool {
	return elapsedSinceLastCheckpoint >= time.Duration(d)
}

// Never never triggers an automatic checkpoint.
type Never struct{}

func (Never) ShouldCheckpoint(int, time.Duration) bool { return false }
