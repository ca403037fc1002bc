package crdt

import "github.com/warpdb/warp/internal/warpids"

// LWWRegister holds the value written by the greatest EventId observed so
// far (spec §3). The zero value is an empty register (no EventId, Null
// value) and always loses to any real write.
type LWWRegister struct {
	EventID warpids.EventId
	Value   Value
	set     bool
}

// Set assigns (id, v) if id is greater than the currently-held EventId, or
// if the register has never been set. Returns true if the write took effect.
func (r *LWWRegister) Set(id warpids.EventId, v Value) bool {
	if !r.set || id.Greater(r.EventID) {
		r.EventID = id
		r.Value = v
		r.set = true
		return true
	}
	return false
}

// IsSet reports whether the register has ever been written.
func (r *LWWRegister) IsSet() bool { return r.set }

// Join returns whichever of r, other carries the greater EventId (spec §3).
// Unset registers always lose to set ones.
func (r LWWRegister) Join(other LWWRegister) LWWRegister {
	switch {
	case !r.set:
		return other
	case !other.set:
		return r
	case other.EventID.Greater(r.EventID):
		return other
	default:
		return r
	}
}

// Clone returns an independent copy (registers hold no shared mutable state
// beyond Value's slices/maps, which are treated as immutable once set).
func (r LWWRegister) Clone() LWWRegister { return r }
