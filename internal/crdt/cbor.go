package crdt

import "github.com/fxamacker/cbor/v2"

// cborValue is the wire shape for Value: a flat struct with one active field
// per Kind, `omitempty` keeping the encoding compact. Value implements
// cbor.Marshaler/Unmarshaler in terms of it so patches nest Values (in lists
// and maps) without any special-casing at the call site.
type cborValue struct {
	Kind ValueKind          `cbor:"k"`
	B    bool               `cbor:"b,omitempty"`
	I    int64              `cbor:"i,omitempty"`
	F    float64            `cbor:"f,omitempty"`
	S    string             `cbor:"s,omitempty"`
	Bin  []byte             `cbor:"bin,omitempty"`
	L    []Value            `cbor:"l,omitempty"`
	M    map[string]Value   `cbor:"m,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler.
func (v Value) MarshalCBOR() ([]byte, error) {
	cv := cborValue{Kind: v.Kind, B: v.B, I: v.I, F: v.F, S: v.S, Bin: v.Bin, L: v.L, M: v.M}
	return cbor.Marshal(cv)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var cv cborValue
	if err := cbor.Unmarshal(data, &cv); err != nil {
		return err
	}
	v.Kind = cv.Kind
	v.B = cv.B
	v.I = cv.I
	v.F = cv.F
	v.S = cv.S
	v.Bin = cv.Bin
	v.L = cv.L
	v.M = cv.M
	return nil
}
