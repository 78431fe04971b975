// Package watch implements the streaming Watch engine from spec §4.4: the
// Listen-stream state machine, pending-change accumulation, snapshot
// assembly with stable docChange ordering, and resume/filter-mismatch
// reconnection.
package watch

import (
	"sort"
	"time"

	"github.com/cuemby/firekit/pkg/fsdoc"
	"github.com/cuemby/firekit/pkg/fsquery"
	"github.com/cuemby/firekit/pkg/fsvalue"
)

// ChangeKind tags how a document moved between two consecutive snapshots.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

// DocChange describes one document's movement between the previous and the
// newly emitted snapshot. OldIndex/NewIndex are -1 when not applicable
// (Added has no OldIndex, Removed has no NewIndex).
type DocChange struct {
	Kind     ChangeKind
	Doc      fsdoc.Snapshot
	OldIndex int
	NewIndex int
}

// Equal reports whether two DocChanges describe the same movement of
// equal document snapshots.
func (c DocChange) Equal(o DocChange) bool {
	return c.Kind == o.Kind && c.OldIndex == o.OldIndex && c.NewIndex == o.NewIndex && c.Doc.Equal(o.Doc)
}

// QuerySnapshot is one emitted, ordered view of a Watch target (spec §3/§4.4).
type QuerySnapshot struct {
	Query    fsquery.Query
	Docs     []fsdoc.Snapshot
	Changes  []DocChange
	ReadTime time.Time
}

// Equal implements the required observable equality from spec §4.4: equal
// query, pairwise-equal ordered docs, and pairwise-equal docChanges.
func (s QuerySnapshot) Equal(o QuerySnapshot) bool {
	if !s.Query.Equal(o.Query) || len(s.Docs) != len(o.Docs) || len(s.Changes) != len(o.Changes) {
		return false
	}
	for i := range s.Docs {
		if !s.Docs[i].Equal(o.Docs[i]) {
			return false
		}
	}
	for i := range s.Changes {
		if !s.Changes[i].Equal(o.Changes[i]) {
			return false
		}
	}
	return true
}

// pendingOp is one accumulated-but-not-yet-applied change for a document
// reference within the current snapshot window (spec §4.4).
type pendingOp struct {
	doc       fsdoc.Snapshot
	tombstone bool
}

// targetState is the per-target mutable state spec §3 describes: the
// ordered doc tree, the doc map, pending changes awaiting the next
// snapshot point, the current flag, and the resume token. It is owned by
// exactly one Watcher goroutine (spec §5) and never accessed concurrently.
type targetState struct {
	query        fsquery.Query
	docs         []fsdoc.Snapshot     // ordered by query.Comparator()
	docMap       map[string]fsdoc.Snapshot
	pending      map[string]pendingOp
	current      bool
	resumeToken  []byte
	lastReadTime time.Time
}

func newTargetState(q fsquery.Query) *targetState {
	return &targetState{
		query:   q,
		docMap:  map[string]fsdoc.Snapshot{},
		pending: map[string]pendingOp{},
	}
}

// reset implements the RESET target-change handling: discard pendingChanges
// and the docMap/docTree, clear current, preserve the resume token.
func (s *targetState) reset() {
	s.docs = nil
	s.docMap = map[string]fsdoc.Snapshot{}
	s.pending = map[string]pendingOp{}
	s.current = false
}

// applyDocChange stores (or overwrites) a pending update for a document
// appearing in the target's change set.
func (s *targetState) applyDocChange(doc fsdoc.Snapshot) {
	s.pending[doc.Ref.Path.String()] = pendingOp{doc: doc}
}

// applyDocTombstone stores a pending removal (documentDelete/Remove, or a
// documentChange whose removedTargetIds names this target).
func (s *targetState) applyDocTombstone(ref fsdoc.Ref) {
	s.pending[ref.Path.String()] = pendingOp{doc: fsdoc.Snapshot{Ref: ref}, tombstone: true}
}

// key is the docMap/pending key for a snapshot.
func key(s fsdoc.Snapshot) string { return s.Ref.Path.String() }

// assemble applies the accumulated pendingChanges against the prior
// docMap/docs, producing the next QuerySnapshot and diff (spec §4.4 steps
// 1-4). It mutates s in place (new docMap/docs, pending cleared) and
// returns the snapshot to emit; an empty pending set still produces a
// snapshot, with no Changes.
func (s *targetState) assemble(readTime time.Time) QuerySnapshot {
	oldDocs := s.docs
	oldIndex := make(map[string]int, len(oldDocs))
	for i, d := range oldDocs {
		oldIndex[key(d)] = i
	}

	newMap := make(map[string]fsdoc.Snapshot, len(s.docMap))
	for k, v := range s.docMap {
		newMap[k] = v
	}

	type diffEntry struct {
		k    string
		kind ChangeKind
		doc  fsdoc.Snapshot
	}
	var diffs []diffEntry

	for k, op := range s.pending {
		old, wasPresent := s.docMap[k]
		if op.tombstone {
			if wasPresent {
				delete(newMap, k)
				diffs = append(diffs, diffEntry{k: k, kind: Removed, doc: old})
			}
			continue
		}
		op.doc.ReadTime = readTime
		newMap[k] = op.doc
		switch {
		case !wasPresent:
			diffs = append(diffs, diffEntry{k: k, kind: Added, doc: op.doc})
		case old.UpdateTime.Equal(op.doc.UpdateTime) && fieldsEqual(old, op.doc):
			// Non-changing modify: skip (spec §4.4 step 2).
		default:
			diffs = append(diffs, diffEntry{k: k, kind: Modified, doc: op.doc})
		}
	}

	newDocs := make([]fsdoc.Snapshot, 0, len(newMap))
	for _, v := range newMap {
		newDocs = append(newDocs, v)
	}
	fsquery.SortSnapshots(s.query, newDocs)
	newIndex := make(map[string]int, len(newDocs))
	for i, d := range newDocs {
		newIndex[key(d)] = i
	}

	var removed, added, modified []DocChange
	for _, d := range diffs {
		switch d.kind {
		case Removed:
			removed = append(removed, DocChange{Kind: Removed, Doc: d.doc, OldIndex: oldIndex[d.k], NewIndex: -1})
		case Added:
			added = append(added, DocChange{Kind: Added, Doc: d.doc, OldIndex: -1, NewIndex: newIndex[d.k]})
		case Modified:
			modified = append(modified, DocChange{Kind: Modified, Doc: d.doc, OldIndex: oldIndex[d.k], NewIndex: newIndex[d.k]})
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].OldIndex > removed[j].OldIndex })
	sort.Slice(added, func(i, j int) bool { return added[i].NewIndex < added[j].NewIndex })
	sort.Slice(modified, func(i, j int) bool { return modified[i].NewIndex < modified[j].NewIndex })

	changes := make([]DocChange, 0, len(removed)+len(added)+len(modified))
	changes = append(changes, removed...)
	changes = append(changes, added...)
	changes = append(changes, modified...)

	s.docMap = newMap
	s.docs = newDocs
	s.pending = map[string]pendingOp{}
	s.lastReadTime = readTime

	return QuerySnapshot{Query: s.query, Docs: newDocs, Changes: changes, ReadTime: readTime}
}

// fieldsEqual compares only field contents, independent of timestamps —
// the UpdateTime comparison in assemble already covers the timestamp half
// of spec §4.4 step 2's non-changing-modify test.
func fieldsEqual(a, b fsdoc.Snapshot) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for k, v := range a.Fields {
		ov, ok := b.Fields[k]
		if !ok || !fsvalue.Equal(v, ov) {
			return false
		}
	}
	return true
}
