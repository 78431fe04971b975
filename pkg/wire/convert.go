package wire

import (
	"fmt"
	"time"

	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"
	latlngpb "google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cuemby/firekit/pkg/fsdoc"
	"github.com/cuemby/firekit/pkg/fsquery"
	"github.com/cuemby/firekit/pkg/fsvalue"
	"github.com/cuemby/firekit/pkg/resource"
)

// extTag is the map key the wire encoding uses to smuggle the extended value
// kinds (§3: min-key, object-id, regex, int32, decimal128, BSON timestamp,
// BSON binary, max-key) through firestorepb.Value's MapValue, since the
// published proto has no native slot for them. Ordering and equality over
// the decoded fsvalue.Value are unaffected by which wire shape carries them.
const extTag = "__firekit_ext__"

// ToProtoValue converts a domain Value to its wire representation.
func ToProtoValue(v fsvalue.Value) *firestorepb.Value {
	switch v.Kind() {
	case fsvalue.KindNull:
		return &firestorepb.Value{ValueType: &firestorepb.Value_NullValue{}}
	case fsvalue.KindBool:
		return &firestorepb.Value{ValueType: &firestorepb.Value_BooleanValue{BooleanValue: v.AsBool()}}
	case fsvalue.KindInt64:
		return &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: v.AsInt64()}}
	case fsvalue.KindDouble, fsvalue.KindNaN:
		return &firestorepb.Value{ValueType: &firestorepb.Value_DoubleValue{DoubleValue: v.AsFloat64()}}
	case fsvalue.KindTimestamp:
		ts := v.AsTimestamp()
		return &firestorepb.Value{ValueType: &firestorepb.Value_TimestampValue{
			TimestampValue: &timestamppb.Timestamp{Seconds: ts.Seconds, Nanos: ts.Nanos},
		}}
	case fsvalue.KindString:
		return &firestorepb.Value{ValueType: &firestorepb.Value_StringValue{StringValue: v.AsString()}}
	case fsvalue.KindBytes:
		return &firestorepb.Value{ValueType: &firestorepb.Value_BytesValue{BytesValue: v.AsBytes()}}
	case fsvalue.KindReference:
		return &firestorepb.Value{ValueType: &firestorepb.Value_ReferenceValue{ReferenceValue: v.AsReference().String()}}
	case fsvalue.KindGeoPoint:
		g := v.AsGeoPoint()
		return &firestorepb.Value{ValueType: &firestorepb.Value_GeoPointValue{
			GeoPointValue: &latlngpb.LatLng{Latitude: g.Lat, Longitude: g.Lng},
		}}
	case fsvalue.KindArray:
		elems := v.AsArray()
		out := make([]*firestorepb.Value, len(elems))
		for i, e := range elems {
			out[i] = ToProtoValue(e)
		}
		return &firestorepb.Value{ValueType: &firestorepb.Value_ArrayValue{ArrayValue: &firestorepb.ArrayValue{Values: out}}}
	case fsvalue.KindMap:
		return &firestorepb.Value{ValueType: &firestorepb.Value_MapValue{MapValue: &firestorepb.MapValue{Fields: toProtoFields(v.AsMap())}}}
	default:
		return extToProto(v)
	}
}

func toProtoFields(m map[string]fsvalue.Value) map[string]*firestorepb.Value {
	out := make(map[string]*firestorepb.Value, len(m))
	for k, val := range m {
		out[k] = ToProtoValue(val)
	}
	return out
}

// extToProto encodes the extension kinds as a tagged MapValue.
func extToProto(v fsvalue.Value) *firestorepb.Value {
	fields := map[string]*firestorepb.Value{}
	switch v.Kind() {
	case fsvalue.KindMinKey:
		fields[extTag] = stringVal("minKey")
	case fsvalue.KindMaxKey:
		fields[extTag] = stringVal("maxKey")
	case fsvalue.KindInt32:
		fields[extTag] = stringVal("int32")
		fields["v"] = &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: v.AsInt64()}}
	case fsvalue.KindDecimal128:
		fields[extTag] = stringVal("decimal128")
		fields["v"] = stringVal(v.AsString())
	case fsvalue.KindObjectID:
		fields[extTag] = stringVal("objectId")
		fields["v"] = stringVal(v.AsString())
	case fsvalue.KindRegex:
		r := v.AsRegex()
		fields[extTag] = stringVal("regex")
		fields["pattern"] = stringVal(r.Pattern)
		fields["options"] = stringVal(r.Options)
	case fsvalue.KindBSONTimestamp:
		bt := v.AsBSONTimestamp()
		fields[extTag] = stringVal("bsonTimestamp")
		fields["t"] = &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: int64(bt.T)}}
		fields["i"] = &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: int64(bt.I)}}
	case fsvalue.KindBSONBinary:
		bb := v.AsBSONBinary()
		fields[extTag] = stringVal("bsonBinary")
		fields["subtype"] = &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: int64(bb.Subtype)}}
		fields["data"] = &firestorepb.Value{ValueType: &firestorepb.Value_BytesValue{BytesValue: bb.Data}}
	default:
		panic(fmt.Sprintf("wire: unconvertible value kind %d", v.Kind()))
	}
	return &firestorepb.Value{ValueType: &firestorepb.Value_MapValue{MapValue: &firestorepb.MapValue{Fields: fields}}}
}

func stringVal(s string) *firestorepb.Value {
	return &firestorepb.Value{ValueType: &firestorepb.Value_StringValue{StringValue: s}}
}

// FromProtoValue converts a wire Value to its domain representation.
func FromProtoValue(pv *firestorepb.Value) fsvalue.Value {
	if pv == nil {
		return fsvalue.Null()
	}
	switch t := pv.ValueType.(type) {
	case *firestorepb.Value_NullValue:
		return fsvalue.Null()
	case *firestorepb.Value_BooleanValue:
		return fsvalue.Bool(t.BooleanValue)
	case *firestorepb.Value_IntegerValue:
		return fsvalue.Int64(t.IntegerValue)
	case *firestorepb.Value_DoubleValue:
		return fsvalue.Double(t.DoubleValue)
	case *firestorepb.Value_TimestampValue:
		return fsvalue.TimestampValue(fsvalue.Timestamp{Seconds: t.TimestampValue.GetSeconds(), Nanos: t.TimestampValue.GetNanos()})
	case *firestorepb.Value_StringValue:
		return fsvalue.String(t.StringValue)
	case *firestorepb.Value_BytesValue:
		return fsvalue.Bytes(t.BytesValue)
	case *firestorepb.Value_ReferenceValue:
		return fsvalue.Reference(resource.ParsePath(referencePathSuffix(t.ReferenceValue)))
	case *firestorepb.Value_GeoPointValue:
		return fsvalue.GeoPointValue(fsvalue.GeoPoint{Lat: t.GeoPointValue.GetLatitude(), Lng: t.GeoPointValue.GetLongitude()})
	case *firestorepb.Value_ArrayValue:
		vals := t.ArrayValue.GetValues()
		out := make([]fsvalue.Value, len(vals))
		for i, e := range vals {
			out[i] = FromProtoValue(e)
		}
		return fsvalue.Array(out...)
	case *firestorepb.Value_MapValue:
		if ext, ok := t.MapValue.GetFields()[extTag]; ok {
			return extFromProto(ext.GetStringValue(), t.MapValue.GetFields())
		}
		return fsvalue.Map(fromProtoFields(t.MapValue.GetFields()))
	default:
		return fsvalue.Null()
	}
}

func extFromProto(tag string, fields map[string]*firestorepb.Value) fsvalue.Value {
	switch tag {
	case "minKey":
		return fsvalue.MinKey()
	case "maxKey":
		return fsvalue.MaxKey()
	case "int32":
		return fsvalue.Int32(int32(fields["v"].GetIntegerValue()))
	case "decimal128":
		return fsvalue.Decimal128(fields["v"].GetStringValue())
	case "objectId":
		return fsvalue.ObjectID(fields["v"].GetStringValue())
	case "regex":
		return fsvalue.RegexValue(fsvalue.Regex{Pattern: fields["pattern"].GetStringValue(), Options: fields["options"].GetStringValue()})
	case "bsonTimestamp":
		return fsvalue.BSONTimestampValue(fsvalue.BSONTimestamp{T: uint32(fields["t"].GetIntegerValue()), I: uint32(fields["i"].GetIntegerValue())})
	case "bsonBinary":
		return fsvalue.BSONBinaryValue(fsvalue.BSONBinary{Subtype: byte(fields["subtype"].GetIntegerValue()), Data: fields["data"].GetBytesValue()})
	default:
		return fsvalue.Null()
	}
}

func fromProtoFields(m map[string]*firestorepb.Value) map[string]fsvalue.Value {
	out := make(map[string]fsvalue.Value, len(m))
	for k, v := range m {
		out[k] = FromProtoValue(v)
	}
	return out
}

// referencePathSuffix strips the "projects/{p}/databases/{d}/documents/"
// prefix a fully qualified reference name carries, leaving the relative
// resource path this package's resource.Path models.
func referencePathSuffix(name string) string {
	const marker = "/documents/"
	if i := indexOf(name, marker); i >= 0 {
		return name[i+len(marker):]
	}
	return name
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// RelativePath strips the "projects/{p}/databases/{d}/documents/" prefix
// from a fully qualified document resource name, returning the relative
// Path this package's domain types address documents by.
func RelativePath(name string) resource.Path {
	return resource.ParsePath(referencePathSuffix(name))
}

// FullDocumentName builds the fully qualified "projects/{p}/databases/{d}/documents/{path}"
// resource name the wire protocol requires for document references.
func FullDocumentName(databasePath string, p resource.Path) string {
	if p.Len() == 0 {
		return databasePath + "/documents"
	}
	return databasePath + "/documents/" + p.String()
}

// ToProtoDocument converts a document snapshot's fields into a wire Document
// addressed at name.
func ToProtoDocument(name string, fields map[string]fsvalue.Value) *firestorepb.Document {
	return &firestorepb.Document{
		Name:   name,
		Fields: toProtoFields(fields),
	}
}

// FromProtoDocument converts a wire Document into a domain Snapshot, relative
// to databasePath. readTime is the transport-level read time accompanying
// the response carrying doc (BatchGetDocuments/RunQuery read time).
func FromProtoDocument(databasePath string, doc *firestorepb.Document, readTime time.Time) fsdoc.Snapshot {
	relative := referencePathSuffix(doc.GetName())
	return fsdoc.Snapshot{
		Ref:        fsdoc.Ref{Path: resource.ParsePath(relative)},
		Fields:     fromProtoFields(doc.GetFields()),
		CreateTime: doc.GetCreateTime().AsTime(),
		UpdateTime: doc.GetUpdateTime().AsTime(),
		ReadTime:   readTime,
	}
}

// ToStructuredQuery converts a domain Query into the wire StructuredQuery
// and the parent resource name RunQuery addresses it against.
func ToStructuredQuery(databasePath string, q fsquery.Query) (parent string, sq *firestorepb.StructuredQuery) {
	parent = FullDocumentName(databasePath, q.Parent)
	sq = &firestorepb.StructuredQuery{
		From: []*firestorepb.StructuredQuery_CollectionSelector{{
			CollectionId:   q.CollectionID,
			AllDescendants: q.AllDescendants,
		}},
		Offset: q.Offset,
	}
	if len(q.Filters) > 0 {
		sq.Where = toCompositeFilter(q.Filters)
	}
	for _, o := range q.Orders {
		sq.OrderBy = append(sq.OrderBy, &firestorepb.StructuredQuery_Order{
			Field:     &firestorepb.StructuredQuery_FieldReference{FieldPath: o.Field},
			Direction: toProtoDirection(o.Direction),
		})
	}
	if q.StartCursor != nil {
		sq.StartAt = toProtoCursor(*q.StartCursor)
	}
	if q.EndCursor != nil {
		sq.EndAt = toProtoCursor(*q.EndCursor)
	}
	if q.Limit != nil {
		sq.Limit = wrapperspb.Int32(*q.Limit)
	}
	if len(q.SelectFields) > 0 {
		var fields []*firestorepb.StructuredQuery_FieldReference
		for _, f := range q.SelectFields {
			fields = append(fields, &firestorepb.StructuredQuery_FieldReference{FieldPath: f})
		}
		sq.Select = &firestorepb.StructuredQuery_Projection{Fields: fields}
	}
	return parent, sq
}

func toProtoDirection(d fsquery.Direction) firestorepb.StructuredQuery_Direction {
	if d == fsquery.Descending {
		return firestorepb.StructuredQuery_DESCENDING
	}
	return firestorepb.StructuredQuery_ASCENDING
}

func toProtoCursor(c fsquery.Cursor) *firestorepb.Cursor {
	values := make([]*firestorepb.Value, len(c.Values))
	for i, v := range c.Values {
		values[i] = ToProtoValue(v)
	}
	return &firestorepb.Cursor{Values: values, Before: c.Before}
}

func toCompositeFilter(filters []fsquery.Filter) *firestorepb.StructuredQuery_Filter {
	var conds []*firestorepb.StructuredQuery_Filter
	for _, f := range filters {
		conds = append(conds, toFieldFilter(f))
	}
	if len(conds) == 1 {
		return conds[0]
	}
	return &firestorepb.StructuredQuery_Filter{
		FilterType: &firestorepb.StructuredQuery_Filter_CompositeFilter{
			CompositeFilter: &firestorepb.StructuredQuery_CompositeFilter{
				Op:      firestorepb.StructuredQuery_CompositeFilter_AND,
				Filters: conds,
			},
		},
	}
}

var fieldFilterOps = map[fsquery.Op]firestorepb.StructuredQuery_FieldFilter_Operator{
	fsquery.OpLessThan:           firestorepb.StructuredQuery_FieldFilter_LESS_THAN,
	fsquery.OpLessThanOrEqual:    firestorepb.StructuredQuery_FieldFilter_LESS_THAN_OR_EQUAL,
	fsquery.OpGreaterThan:        firestorepb.StructuredQuery_FieldFilter_GREATER_THAN,
	fsquery.OpGreaterThanOrEqual: firestorepb.StructuredQuery_FieldFilter_GREATER_THAN_OR_EQUAL,
	fsquery.OpEqual:              firestorepb.StructuredQuery_FieldFilter_EQUAL,
	fsquery.OpNotEqual:           firestorepb.StructuredQuery_FieldFilter_NOT_EQUAL,
	fsquery.OpArrayContains:      firestorepb.StructuredQuery_FieldFilter_ARRAY_CONTAINS,
	fsquery.OpArrayContainsAny:   firestorepb.StructuredQuery_FieldFilter_ARRAY_CONTAINS_ANY,
	fsquery.OpIn:                 firestorepb.StructuredQuery_FieldFilter_IN,
	fsquery.OpNotIn:              firestorepb.StructuredQuery_FieldFilter_NOT_IN,
}

func toFieldFilter(f fsquery.Filter) *firestorepb.StructuredQuery_Filter {
	return &firestorepb.StructuredQuery_Filter{
		FilterType: &firestorepb.StructuredQuery_Filter_FieldFilter{
			FieldFilter: &firestorepb.StructuredQuery_FieldFilter{
				Field:    &firestorepb.StructuredQuery_FieldReference{FieldPath: f.Field},
				Op:       fieldFilterOps[f.Op],
				Value:    ToProtoValue(f.Value),
			},
		},
	}
}
