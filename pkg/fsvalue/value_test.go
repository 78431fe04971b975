package fsvalue

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOrderingHeterogeneousValues exercises spec §8 scenario 6.
func TestOrderingHeterogeneousValues(t *testing.T) {
	values := []Value{
		String("a"),
		Int64(1),
		NaN(),
		Null(),
		Bytes([]byte{0}),
	}
	sort.Slice(values, func(i, j int) bool { return Compare(values[i], values[j]) < 0 })

	got := make([]Kind, len(values))
	for i, v := range values {
		got[i] = v.Kind()
	}
	want := []Kind{KindNull, KindNaN, KindInt64, KindString, KindBytes}
	assert.Equal(t, want, got)
}

func TestNumericCrossKindOrdering(t *testing.T) {
	assert.Equal(t, 0, Compare(Int64(3), Double(3.0)))
	assert.Equal(t, 0, Compare(Double(-0.0), Int64(0)))
	assert.Negative(t, Compare(Int64(2), Double(3.0)))
}

func TestMinMaxKeyCrossKindRules(t *testing.T) {
	assert.Positive(t, Compare(MinKey(), Null()))
	for _, v := range []Value{Null(), Bool(true), NaN(), Int64(1), String("z"), Array(Int64(1)), Map(map[string]Value{"a": Int64(1)})} {
		assert.Positive(t, Compare(MaxKey(), v))
	}
}

func TestCompareUTF8StringsProperty(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	alphabets := []string{"a", "b", "z", "é", "中", "", "ab"}
	for i := 0; i < 200; i++ {
		a := alphabets[r.Intn(len(alphabets))] + alphabets[r.Intn(len(alphabets))]
		b := alphabets[r.Intn(len(alphabets))] + alphabets[r.Intn(len(alphabets))]
		want := bytes.Compare([]byte(a), []byte(b))
		if want < 0 {
			want = -1
		} else if want > 0 {
			want = 1
		}
		assert.Equal(t, want, CompareUTF8Strings(a, b), "a=%q b=%q", a, b)
	}
}

func TestArrayAndMapOrdering(t *testing.T) {
	a := Array(Int64(1), Int64(2))
	b := Array(Int64(1), Int64(3))
	c := Array(Int64(1))
	assert.Negative(t, Compare(a, b))
	assert.Positive(t, Compare(a, c)) // longer array with equal prefix sorts after

	m1 := Map(map[string]Value{"a": Int64(1)})
	m2 := Map(map[string]Value{"a": Int64(1), "b": Int64(2)})
	assert.Negative(t, Compare(m1, m2))
}

func TestEqualAggregationRules(t *testing.T) {
	require.True(t, Equal(Int64(3), Double(3.0)))
	require.True(t, Equal(NaN(), NaN()))
	require.True(t, Equal(Null(), Null()))
	require.False(t, Equal(Int64(3), Int64(4)))
	require.True(t, ArrayContains([]Value{Int64(1), NaN()}, NaN()))
	require.True(t, ArrayContains([]Value{Double(3)}, Int64(3)))
}

func TestEqualArraysAndMaps(t *testing.T) {
	a := Array(Int64(1), String("x"))
	b := Array(Double(1), String("x"))
	assert.True(t, Equal(a, b))

	m1 := Map(map[string]Value{"a": Int64(1), "b": Null()})
	m2 := Map(map[string]Value{"b": Null(), "a": Double(1)})
	assert.True(t, Equal(m1, m2))
}
