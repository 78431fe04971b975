package txn

import (
	"time"

	"github.com/cuemby/firekit/pkg/fsdoc"
	"github.com/cuemby/firekit/pkg/fsvalue"
)

// TransformKind is one of the server-side field transforms spec §6 names.
type TransformKind int

const (
	TransformServerTimestamp TransformKind = iota
	TransformArrayUnion
	TransformArrayRemove
	TransformIncrement
	TransformMin
	TransformMax
)

// FieldTransform is a single server-side transform, either accompanying an
// update Write or riding standalone.
type FieldTransform struct {
	Field  string
	Kind   TransformKind
	Value  fsvalue.Value // operand for ArrayUnion/ArrayRemove/Increment/Min/Max; unused for ServerTimestamp
}

// Precondition constrains a Write to only apply if the document's current
// server state matches.
type Precondition struct {
	// Exists, when non-nil, requires the document to (not) exist.
	Exists *bool
	// UpdateTime, when non-nil, requires the document's last update time to
	// match exactly (optimistic concurrency for read-modify-write).
	UpdateTime *time.Time
}

// WriteKind tags the operation a Write performs (spec §6: update, delete,
// transform, verify).
type WriteKind int

const (
	WriteUpdate WriteKind = iota
	WriteDelete
	WriteVerify
)

// Write is one buffered mutation. Create/Set/Update/Delete below build
// Writes with the field-mask and precondition conventions Firestore's wire
// protocol expects; transaction and BulkWriter commit them in buffered
// order.
type Write struct {
	Ref          fsdoc.Ref
	Kind         WriteKind
	Fields       map[string]fsvalue.Value
	UpdateMask   []string // nil means "replace the whole document" (Set/Create)
	Transforms   []FieldTransform
	Precondition *Precondition
}

func exists(b bool) *bool { return &b }

// Create buffers a document creation: fails server-side if the document
// already exists.
func Create(ref fsdoc.Ref, fields map[string]fsvalue.Value) Write {
	return Write{Ref: ref, Kind: WriteUpdate, Fields: fields, Precondition: &Precondition{Exists: exists(false)}}
}

// Set buffers a full-document replace, creating the document if absent.
func Set(ref fsdoc.Ref, fields map[string]fsvalue.Value) Write {
	return Write{Ref: ref, Kind: WriteUpdate, Fields: fields}
}

// Update buffers a merge of the given top-level fields into an existing
// document; the document must already exist.
func Update(ref fsdoc.Ref, fields map[string]fsvalue.Value) Write {
	mask := make([]string, 0, len(fields))
	for k := range fields {
		mask = append(mask, k)
	}
	return Write{Ref: ref, Kind: WriteUpdate, Fields: fields, UpdateMask: mask, Precondition: &Precondition{Exists: exists(true)}}
}

// Delete buffers a document deletion.
func Delete(ref fsdoc.Ref) Write {
	return Write{Ref: ref, Kind: WriteDelete}
}
