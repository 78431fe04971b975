// Package fsvalue implements the tagged-union document field value and its
// total order, independent of any wire encoding.
package fsvalue

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/cuemby/firekit/pkg/resource"
)

// Kind identifies the tag of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindMinKey
	KindBool
	KindNaN
	KindInt32
	KindInt64
	KindDouble
	KindDecimal128
	KindTimestamp
	KindBSONTimestamp
	KindString
	KindRegex
	KindObjectID
	KindBytes
	KindBSONBinary
	KindReference
	KindGeoPoint
	KindArray
	KindMap
	KindMaxKey
)

// rank groups kinds into the sparsest-first order buckets from spec §4.6.
// All numeric kinds (int32/int64/double/decimal128) share a rank: within
// that rank values compare as reals, not by declared kind.
func rank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindMinKey:
		return 1
	case KindBool:
		return 2
	case KindNaN:
		return 3
	case KindInt32, KindInt64, KindDouble, KindDecimal128:
		return 4
	case KindTimestamp:
		return 5
	case KindBSONTimestamp:
		return 6
	case KindString:
		return 7
	case KindRegex:
		return 8
	case KindObjectID:
		return 9
	case KindBytes:
		return 10
	case KindBSONBinary:
		return 11
	case KindReference:
		return 12
	case KindGeoPoint:
		return 13
	case KindArray:
		return 14
	case KindMap:
		return 15
	case KindMaxKey:
		return 16
	default:
		panic(fmt.Sprintf("fsvalue: unknown kind %d", k))
	}
}

// Timestamp is a seconds+nanoseconds instant, compared seconds-first.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// GeoPoint is a latitude/longitude pair, compared lat-first.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// BSONTimestamp is the MongoDB-interop timestamp extension: a seconds value
// plus a per-second increment counter.
type BSONTimestamp struct {
	T uint32
	I uint32
}

// BSONBinary is the MongoDB-interop binary extension, tagged with a subtype.
type BSONBinary struct {
	Subtype byte
	Data    []byte
}

// Regex is the MongoDB-interop regular-expression extension.
type Regex struct {
	Pattern string
	Options string
}

// Value is a tagged union over the field-value kinds in spec §3.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bs    []byte
	ts    Timestamp
	bts   BSONTimestamp
	bbin  BSONBinary
	rx    Regex
	ref   resource.Path
	geo   GeoPoint
	arr   []Value
	m     map[string]Value
}

func Null() Value                  { return Value{kind: KindNull} }
func MinKey() Value                { return Value{kind: KindMinKey} }
func MaxKey() Value                { return Value{kind: KindMaxKey} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func NaN() Value                   { return Value{kind: KindNaN, f: math.NaN()} }
func Int32(i int32) Value          { return Value{kind: KindInt32, i: int64(i)} }
func Int64(i int64) Value          { return Value{kind: KindInt64, i: i} }
func Double(f float64) Value {
	if math.IsNaN(f) {
		return NaN()
	}
	return Value{kind: KindDouble, f: f}
}
func Decimal128(s string) Value       { return Value{kind: KindDecimal128, s: s} }
func TimestampValue(ts Timestamp) Value { return Value{kind: KindTimestamp, ts: ts} }
func BSONTimestampValue(v BSONTimestamp) Value { return Value{kind: KindBSONTimestamp, bts: v} }
func String(s string) Value           { return Value{kind: KindString, s: s} }
func RegexValue(v Regex) Value        { return Value{kind: KindRegex, rx: v} }
func ObjectID(hex string) Value       { return Value{kind: KindObjectID, s: hex} }
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bs: cp}
}
func BSONBinaryValue(v BSONBinary) Value {
	cp := make([]byte, len(v.Data))
	copy(cp, v.Data)
	return Value{kind: KindBSONBinary, bbin: BSONBinary{Subtype: v.Subtype, Data: cp}}
}
func Reference(p resource.Path) Value { return Value{kind: KindReference, ref: p} }
func GeoPointValue(g GeoPoint) Value  { return Value{kind: KindGeoPoint, geo: g} }

// Array builds an array Value, copying the element slice.
func Array(elems ...Value) Value {
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{kind: KindArray, arr: cp}
}

// Map builds a map Value, copying the field map.
func Map(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload; only meaningful when Kind() == KindBool.
func (v Value) AsBool() bool { return v.b }

// AsInt64 returns the integer payload; meaningful for KindInt32/KindInt64.
func (v Value) AsInt64() int64 { return v.i }

// AsFloat64 returns the float payload; meaningful for KindDouble/KindNaN.
func (v Value) AsFloat64() float64 { return v.f }

// AsString returns the string payload; meaningful for KindString/KindObjectID/KindDecimal128.
func (v Value) AsString() string { return v.s }

// AsBytes returns the byte payload; meaningful for KindBytes.
func (v Value) AsBytes() []byte { return v.bs }

// AsTimestamp returns the timestamp payload; meaningful for KindTimestamp.
func (v Value) AsTimestamp() Timestamp { return v.ts }

// AsReference returns the reference payload; meaningful for KindReference.
func (v Value) AsReference() resource.Path { return v.ref }

// AsGeoPoint returns the geopoint payload; meaningful for KindGeoPoint.
func (v Value) AsGeoPoint() GeoPoint { return v.geo }

// AsArray returns the array payload; meaningful for KindArray.
func (v Value) AsArray() []Value { return v.arr }

// AsMap returns the map payload; meaningful for KindMap.
func (v Value) AsMap() map[string]Value { return v.m }

// AsRegex returns the regex payload; meaningful for KindRegex.
func (v Value) AsRegex() Regex { return v.rx }

// AsBSONTimestamp returns the BSON timestamp payload.
func (v Value) AsBSONTimestamp() BSONTimestamp { return v.bts }

// AsBSONBinary returns the BSON binary payload.
func (v Value) AsBSONBinary() BSONBinary { return v.bbin }

func isNumeric(k Kind) bool {
	switch k {
	case KindInt32, KindInt64, KindDouble, KindDecimal128:
		return true
	default:
		return false
	}
}

func (v Value) numeric() float64 {
	switch v.kind {
	case KindInt32, KindInt64:
		return float64(v.i)
	case KindDouble:
		f := v.f
		if f == 0 {
			return 0 // normalize -0 to 0
		}
		return f
	case KindDecimal128:
		var f float64
		_, err := fmt.Sscanf(v.s, "%g", &f)
		if err != nil {
			return 0
		}
		return f
	default:
		panic("fsvalue: not numeric")
	}
}

// CompareUTF8Strings returns -1, 0, or 1 comparing the raw UTF-8 byte
// encoding of a and b, never the UTF-16 code-unit order.
func CompareUTF8Strings(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}

func sign(i int) int {
	switch {
	case i < 0:
		return -1
	case i > 0:
		return 1
	default:
		return 0
	}
}

// Compare returns -1, 0, or 1 placing a before, at, or after b in the total
// order defined by spec §4.6.
func Compare(a, b Value) int {
	ra, rb := rank(a.kind), rank(b.kind)
	if ra != rb {
		return sign(ra - rb)
	}
	switch a.kind {
	case KindNull, KindNaN, KindMinKey, KindMaxKey:
		return 0
	case KindBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case KindInt32, KindInt64, KindDouble, KindDecimal128:
		af, bf := a.numeric(), b.numeric()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case KindTimestamp:
		if a.ts.Seconds != b.ts.Seconds {
			return sign(int(a.ts.Seconds - b.ts.Seconds))
		}
		return sign(int(a.ts.Nanos - b.ts.Nanos))
	case KindBSONTimestamp:
		if a.bts.T != b.bts.T {
			return sign(int(a.bts.T) - int(b.bts.T))
		}
		return sign(int(a.bts.I) - int(b.bts.I))
	case KindString:
		return CompareUTF8Strings(a.s, b.s)
	case KindRegex:
		if c := CompareUTF8Strings(a.rx.Pattern, b.rx.Pattern); c != 0 {
			return c
		}
		return CompareUTF8Strings(a.rx.Options, b.rx.Options)
	case KindObjectID:
		return CompareUTF8Strings(a.s, b.s)
	case KindBytes:
		return bytes.Compare(a.bs, b.bs)
	case KindBSONBinary:
		if a.bbin.Subtype != b.bbin.Subtype {
			return sign(int(a.bbin.Subtype) - int(b.bbin.Subtype))
		}
		return bytes.Compare(a.bbin.Data, b.bbin.Data)
	case KindReference:
		return a.ref.Compare(b.ref)
	case KindGeoPoint:
		if a.geo.Lat != b.geo.Lat {
			return sign(int((a.geo.Lat - b.geo.Lat) * 1e9))
		}
		if a.geo.Lng != b.geo.Lng {
			return sign(int((a.geo.Lng - b.geo.Lng) * 1e9))
		}
		return 0
	case KindArray:
		return compareArrays(a.arr, b.arr)
	case KindMap:
		return compareMaps(a.m, b.m)
	default:
		panic(fmt.Sprintf("fsvalue: unhandled kind %d", a.kind))
	}
}

func compareArrays(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return sign(len(a) - len(b))
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return CompareUTF8Strings(keys[i], keys[j]) < 0 })
	return keys
}

func compareMaps(a, b map[string]Value) int {
	ka, kb := sortedKeys(a), sortedKeys(b)
	n := len(ka)
	if len(kb) < n {
		n = len(kb)
	}
	for i := 0; i < n; i++ {
		if c := CompareUTF8Strings(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := Compare(a[ka[i]], b[kb[i]]); c != 0 {
			return c
		}
	}
	return sign(len(ka) - len(kb))
}

// Equal reports value equality under the aggregation rules of spec §4.6:
// numeric equivalence ignores the int/double distinction, NaN equals NaN,
// and null equals null. Arrays and maps are equal iff their elements/fields
// are equal under this same relation.
func Equal(a, b Value) bool {
	switch {
	case a.kind == KindNull && b.kind == KindNull:
		return true
	case a.kind == KindNaN && b.kind == KindNaN:
		return true
	case isNumeric(a.kind) && isNumeric(b.kind):
		return a.numeric() == b.numeric()
	case a.kind != b.kind:
		return false
	}
	switch a.kind {
	case KindMinKey, KindMaxKey:
		return true
	case KindBool:
		return a.b == b.b
	case KindTimestamp:
		return a.ts == b.ts
	case KindBSONTimestamp:
		return a.bts == b.bts
	case KindString, KindObjectID:
		return a.s == b.s
	case KindRegex:
		return a.rx == b.rx
	case KindBytes:
		return bytes.Equal(a.bs, b.bs)
	case KindBSONBinary:
		return a.bbin.Subtype == b.bbin.Subtype && bytes.Equal(a.bbin.Data, b.bbin.Data)
	case KindReference:
		return a.ref.Equal(b.ref)
	case KindGeoPoint:
		return a.geo == b.geo
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ArrayContains reports whether v appears in arr under the aggregation
// equality relation (NaN equals NaN, 3 equals 3.0).
func ArrayContains(arr []Value, v Value) bool {
	for _, e := range arr {
		if Equal(e, v) {
			return true
		}
	}
	return false
}
