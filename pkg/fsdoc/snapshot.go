// Package fsdoc defines the document reference and snapshot types shared by
// the query, transaction, and watch engines.
package fsdoc

import (
	"time"

	"github.com/cuemby/firekit/pkg/fsvalue"
	"github.com/cuemby/firekit/pkg/resource"
)

// Ref identifies a document by its resource path.
type Ref struct {
	Path resource.Path
}

// Equal reports whether two refs name the same document.
func (r Ref) Equal(o Ref) bool { return r.Path.Equal(o.Path) }

// Snapshot is a point-in-time read of a document: its reference, optional
// field map, and the three timestamps spec §3 defines. Fields is nil when
// the document does not exist.
type Snapshot struct {
	Ref        Ref
	Fields     map[string]fsvalue.Value
	CreateTime time.Time
	UpdateTime time.Time
	ReadTime   time.Time
}

// Exists reports whether the document had fields at ReadTime.
func (s Snapshot) Exists() bool { return s.Fields != nil }

// Get returns the top-level field named name. Nested field-path parsing is
// out of this core's scope (spec §1); name is matched as a literal map key.
func (s Snapshot) Get(name string) (fsvalue.Value, bool) {
	if name == "__name__" {
		return fsvalue.Reference(s.Ref.Path), true
	}
	v, ok := s.Fields[name]
	return v, ok
}

// Equal implements the equality rule from spec §3: two snapshots are equal
// iff their reference, field map, createTime, and updateTime all match.
// ReadTime is excluded since it is read-path metadata, not document state.
func (s Snapshot) Equal(o Snapshot) bool {
	if !s.Ref.Equal(o.Ref) {
		return false
	}
	if !s.CreateTime.Equal(o.CreateTime) || !s.UpdateTime.Equal(o.UpdateTime) {
		return false
	}
	if s.Exists() != o.Exists() {
		return false
	}
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for k, v := range s.Fields {
		ov, ok := o.Fields[k]
		if !ok || !fsvalue.Equal(v, ov) {
			return false
		}
	}
	return true
}
