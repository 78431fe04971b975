package txn

import (
	firestorepb "google.golang.org/genproto/googleapis/firestore/v1"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/cuemby/firekit/pkg/wire"
)

// ToProtoWrite converts one buffered Write into the wire Write message
// Commit/BatchWrite carry, resolved against databasePath. Exported for
// bulkwriter, which dispatches writes outside of a Transaction.
func ToProtoWrite(databasePath string, w Write) *firestorepb.Write {
	return toProtoWrite(databasePath, w)
}

// toProtoWrite converts one buffered Write into the wire Write message
// Commit/BatchWrite carry, resolved against databasePath.
func toProtoWrite(databasePath string, w Write) *firestorepb.Write {
	name := wire.FullDocumentName(databasePath, w.Ref.Path)
	pw := &firestorepb.Write{}

	switch w.Kind {
	case WriteDelete:
		pw.Operation = &firestorepb.Write_Delete{Delete: name}
	case WriteVerify:
		// Verify-only writes carry no operation, just a precondition.
	default:
		doc := wire.ToProtoDocument(name, w.Fields)
		pw.Operation = &firestorepb.Write_Update{Update: doc}
		if len(w.UpdateMask) > 0 {
			pw.UpdateMask = &firestorepb.DocumentMask{FieldPaths: w.UpdateMask}
		}
	}

	if len(w.Transforms) > 0 {
		pw.UpdateTransforms = toProtoTransforms(w.Transforms)
	}
	if w.Precondition != nil {
		pw.CurrentDocument = toProtoPrecondition(*w.Precondition)
	}
	return pw
}

func toProtoTransforms(ts []FieldTransform) []*firestorepb.DocumentTransform_FieldTransform {
	out := make([]*firestorepb.DocumentTransform_FieldTransform, len(ts))
	for i, t := range ts {
		ft := &firestorepb.DocumentTransform_FieldTransform{FieldPath: t.Field}
		switch t.Kind {
		case TransformServerTimestamp:
			ft.TransformType = &firestorepb.DocumentTransform_FieldTransform_SetToServerValue{
				SetToServerValue: firestorepb.DocumentTransform_FieldTransform_REQUEST_TIME,
			}
		case TransformArrayUnion:
			ft.TransformType = &firestorepb.DocumentTransform_FieldTransform_AppendMissingElements{
				AppendMissingElements: &firestorepb.ArrayValue{Values: []*firestorepb.Value{wire.ToProtoValue(t.Value)}},
			}
		case TransformArrayRemove:
			ft.TransformType = &firestorepb.DocumentTransform_FieldTransform_RemoveAllFromArray{
				RemoveAllFromArray: &firestorepb.ArrayValue{Values: []*firestorepb.Value{wire.ToProtoValue(t.Value)}},
			}
		case TransformIncrement:
			ft.TransformType = &firestorepb.DocumentTransform_FieldTransform_Increment{Increment: wire.ToProtoValue(t.Value)}
		case TransformMin:
			ft.TransformType = &firestorepb.DocumentTransform_FieldTransform_Minimum{Minimum: wire.ToProtoValue(t.Value)}
		case TransformMax:
			ft.TransformType = &firestorepb.DocumentTransform_FieldTransform_Maximum{Maximum: wire.ToProtoValue(t.Value)}
		}
		out[i] = ft
	}
	return out
}

func toProtoPrecondition(p Precondition) *firestorepb.Precondition {
	pc := &firestorepb.Precondition{}
	if p.Exists != nil {
		pc.ConditionType = &firestorepb.Precondition_Exists{Exists: *p.Exists}
	} else if p.UpdateTime != nil {
		pc.ConditionType = &firestorepb.Precondition_UpdateTime{UpdateTime: timestamppb.New(*p.UpdateTime)}
	}
	return pc
}
