// Package telemetry models the latest readings of a device and fetches them
// from the telemetry store.
package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is one telemetry reading: null, a number, a string or a bool.
// The zero Value is null.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

// Null returns the absent value.
func Null() Value { return Value{} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the absent value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// FromAny converts a decoded JSON value. Unsupported types (objects,
// arrays) become null so they never satisfy a numeric condition.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return Number(f)
		}
		return String(x.String())
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case Value:
		return x
	default:
		return Null()
	}
}

// Float64 coerces the value to a number. Numbers pass through, strings are
// parsed after trimming, and everything else fails. NaN and infinities
// never coerce.
func (v Value) Float64() (float64, bool) {
	var f float64
	switch v.kind {
	case KindNumber:
		f = v.num
	case KindString:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Any returns the JSON friendly Go value.
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.b
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "null"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// Snapshot is the latest value of every field reported by one device.
type Snapshot map[string]Value

// SnapshotFromMap builds a snapshot from decoded JSON.
func SnapshotFromMap(m map[string]any) Snapshot {
	s := make(Snapshot, len(m))
	for k, v := range m {
		s[k] = FromAny(v)
	}
	return s
}

// Get returns the value of field and whether the field was reported.
func (s Snapshot) Get(field string) (Value, bool) {
	v, ok := s[field]
	return v, ok
}

// IsEmpty reports whether the device reported nothing.
func (s Snapshot) IsEmpty() bool {
	return len(s) == 0
}

// Raw converts the snapshot back to plain Go values for storage.
func (s Snapshot) Raw() map[string]any {
	m := make(map[string]any, len(s))
	for k, v := range s {
		m[k] = v.Any()
	}
	return m
}
