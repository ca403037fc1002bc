// Package crdt implements the state model in spec §3/§4.1: ORSets, LWW
// registers, the WarpState they compose into, and the deterministic join
// reducer that folds an ordered patch stream into state.
package crdt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags which variant a Value holds.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
)

// Value is the recursive, JSON-shaped property value type spec §9 calls for:
// null, bool, int, float, string, bytes, list, or map. It is the payload of
// every PropSet op and every LWWRegister.
type Value struct {
	Kind ValueKind
	B    bool
	I    int64
	F    float64
	S    string
	Bin  []byte
	L    []Value
	M    map[string]Value
}

func Null() Value              { return Value{Kind: KindNull} }
func Bool(b bool) Value        { return Value{Kind: KindBool, B: b} }
func Int(i int64) Value        { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value    { return Value{Kind: KindFloat, F: f} }
func String(s string) Value    { return Value{Kind: KindString, S: s} }
func Bytes(b []byte) Value     { return Value{Kind: KindBytes, Bin: b} }
func List(v ...Value) Value    { return Value{Kind: KindList, L: v} }
func Map(m map[string]Value) Value {
	return Value{Kind: KindMap, M: m}
}

// Equal reports deep, kind-aware equality.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.B == o.B
	case KindInt:
		return v.I == o.I
	case KindFloat:
		return v.F == o.F
	case KindString:
		return v.S == o.S
	case KindBytes:
		if len(v.Bin) != len(o.Bin) {
			return false
		}
		for i := range v.Bin {
			if v.Bin[i] != o.Bin[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.L) != len(o.L) {
			return false
		}
		for i := range v.L {
			if !v.L[i].Equal(o.L[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.M) != len(o.M) {
			return false
		}
		for k, vv := range v.M {
			ov, ok := o.M[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Canonical renders v as a deterministic string used as an integrity input
// for state hashing (spec §4.7). It is not meant to be parsed back.
func (v Value) Canonical() string {
	var b strings.Builder
	v.writeCanonical(&b)
	return b.String()
}

func (v Value) writeCanonical(b *strings.Builder) {
	switch v.Kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if v.B {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindInt:
		b.WriteString(strconv.FormatInt(v.I, 10))
	case KindFloat:
		b.WriteString(strconv.FormatFloat(v.F, 'g', -1, 64))
	case KindString:
		b.WriteByte('"')
		b.WriteString(v.S)
		b.WriteByte('"')
	case KindBytes:
		b.WriteString(fmt.Sprintf("b64:%x", v.Bin))
	case KindList:
		b.WriteByte('[')
		for i, e := range v.L {
			if i > 0 {
				b.WriteByte(',')
			}
			e.writeCanonical(b)
		}
		b.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.M))
		for k := range v.M {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(k)
			b.WriteString("\":")
			v.M[k].writeCanonical(b)
		}
		b.WriteByte('}')
	}
}
