package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/firekit/pkg/fsvalue"
	"github.com/cuemby/firekit/pkg/resource"
)

func roundTrip(t *testing.T, v fsvalue.Value) fsvalue.Value {
	t.Helper()
	return FromProtoValue(ToProtoValue(v))
}

func TestValueRoundTripPrimitiveKinds(t *testing.T) {
	cases := []fsvalue.Value{
		fsvalue.Null(),
		fsvalue.Bool(true),
		fsvalue.Int64(42),
		fsvalue.Double(3.5),
		fsvalue.String("hello"),
		fsvalue.Bytes([]byte{1, 2, 3}),
		fsvalue.GeoPointValue(fsvalue.GeoPoint{Lat: 1.5, Lng: -2.5}),
		fsvalue.TimestampValue(fsvalue.Timestamp{Seconds: 100, Nanos: 7}),
		fsvalue.Array(fsvalue.Int64(1), fsvalue.String("x")),
		fsvalue.Map(map[string]fsvalue.Value{"a": fsvalue.Int64(1)}),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		assert.True(t, fsvalue.Equal(v, got), "round trip of kind %v", v.Kind())
	}
}

// TestValueRoundTripExtensionKinds covers the extension-kind smuggling
// through a tagged MapValue (wire has no native slot for these), spec §3's
// additional tagged variants.
func TestValueRoundTripExtensionKinds(t *testing.T) {
	cases := []fsvalue.Value{
		fsvalue.MinKey(),
		fsvalue.MaxKey(),
		fsvalue.Int32(7),
		fsvalue.Decimal128("1.5"),
		fsvalue.ObjectID("abc123"),
		fsvalue.RegexValue(fsvalue.Regex{Pattern: "^a", Options: "i"}),
		fsvalue.BSONTimestampValue(fsvalue.BSONTimestamp{T: 1, I: 2}),
		fsvalue.BSONBinaryValue(fsvalue.BSONBinary{Subtype: 0, Data: []byte{9}}),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		assert.Equal(t, v.Kind(), got.Kind())
		assert.True(t, fsvalue.Equal(v, got), "round trip of kind %v", v.Kind())
	}
}

func TestReferenceRoundTripPreservesRelativePath(t *testing.T) {
	p := resource.ParsePath("users/abc")
	v := fsvalue.Reference(p)
	got := roundTrip(t, v)
	require.Equal(t, fsvalue.KindReference, got.Kind())
	assert.True(t, p.Equal(got.AsReference()))
}

func TestFullDocumentNameAndRelativePathRoundTrip(t *testing.T) {
	dbPath := "projects/proj/databases/(default)"
	p := resource.ParsePath("users/abc/orders/1")
	name := FullDocumentName(dbPath, p)
	assert.Equal(t, dbPath+"/documents/users/abc/orders/1", name)
	assert.True(t, RelativePath(name).Equal(p))
}

func TestFullDocumentNameForRootPath(t *testing.T) {
	dbPath := "projects/proj/databases/(default)"
	assert.Equal(t, dbPath+"/documents", FullDocumentName(dbPath, resource.Root))
}

func TestDocumentRoundTrip(t *testing.T) {
	fields := map[string]fsvalue.Value{"name": fsvalue.String("ada"), "age": fsvalue.Int64(30)}
	name := "projects/proj/databases/(default)/documents/users/abc"
	pdoc := ToProtoDocument(name, fields)

	snap := FromProtoDocument("projects/proj/databases/(default)", pdoc, time.Unix(5, 0))
	assert.Equal(t, "abc", snap.Ref.Path.ID())
	require.True(t, snap.Exists())
	got, ok := snap.Get("name")
	require.True(t, ok)
	assert.True(t, fsvalue.Equal(fsvalue.String("ada"), got))
}
