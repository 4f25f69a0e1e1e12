package objdb

import "github.com/google/uuid"

// session is the internal record of one undo scope's mutations. The three
// buckets mirror spec §4.1: new object ids, pre-images of modified objects,
// and removed objects.
type session struct {
	handle    string
	creates   []ID
	preimages map[ID]Object
	removed   map[ID]Object
}

func newInternalSession() *session {
	return &session{
		preimages: make(map[ID]Object),
		removed:   make(map[ID]Object),
	}
}

// Session is a scoped undo handle returned by Database.StartUndoSession.
// Sessions nest: a child created while a parent is active merges into the
// parent on Commit, or is discarded (with its mutations reversed) on
// Rollback. A session not explicitly committed before it goes out of scope
// should be rolled back by the caller — there is no finalizer-based
// auto-rollback (Go has no RAII), so evaluators always defer Rollback and
// call Commit explicitly on success, matching the teacher's own
// snapshot/RevertToSnapshot discipline in storage/statedb.go.
type Session struct {
	db   *Database
	s    *session
	done bool
}

// StartUndoSession opens a new undo scope nested inside whatever session is
// currently active (or a root scope if none is).
func (db *Database) StartUndoSession() *Session {
	s := newInternalSession()
	s.handle = uuid.NewString()
	db.undo = append(db.undo, s)
	return &Session{db: db, s: s}
}

func (db *Database) top() *session {
	if len(db.undo) == 0 {
		return nil
	}
	return db.undo[len(db.undo)-1]
}

func (db *Database) recordCreate(id ID) {
	if s := db.top(); s != nil {
		s.creates = append(s.creates, id)
	}
}

func (db *Database) recordPreimage(id ID, preimage Object) {
	s := db.top()
	if s == nil {
		return
	}
	if _, exists := s.preimages[id]; !exists {
		s.preimages[id] = preimage
	}
}

func (db *Database) recordRemoved(id ID, obj Object) {
	if s := db.top(); s != nil {
		s.removed[id] = cloneFor(obj)
	}
}

// Commit finalizes the session's mutations. If a parent session is active,
// the mutations are merged into it (so an outer Rollback still reverses
// them); otherwise the undo records are simply discarded since the
// mutations are now permanent.
//
// Merge precedence for overlapping keys is: the EARLIEST recorded preimage
// wins, and a removal is only merged in if the parent holds neither a
// preimage nor an earlier removal for that key. A key created within the
// merged scope keeps its removal record, but Rollback's create pass drops
// that key first, so the removal is never reinserted. This is a deliberate
// refinement of the spec's literal "last-writer-wins on pre-images":
// keeping the oldest pre-image is what makes a subsequent full rollback of
// the parent scope correct (see DESIGN.md).
func (s *Session) Commit() {
	if s.done {
		return
	}
	s.done = true
	db := s.db
	if len(db.undo) == 0 || db.undo[len(db.undo)-1] != s.s {
		panic("objdb: Commit called out of order (not the innermost session)")
	}
	db.undo = db.undo[:len(db.undo)-1]

	parent := db.top()
	if parent == nil {
		return
	}
	parent.creates = append(parent.creates, s.s.creates...)
	for id, pre := range s.s.preimages {
		if _, exists := parent.preimages[id]; !exists {
			parent.preimages[id] = pre
		}
	}
	for id, obj := range s.s.removed {
		if _, hasPre := parent.preimages[id]; hasPre {
			continue
		}
		if _, exists := parent.removed[id]; !exists {
			parent.removed[id] = obj
		}
	}
}

// Rollback reverses every mutation recorded in this session, in the order:
// (1) newly created objects are dropped, highest instance first, (2)
// pre-images are restored for modified objects not already handled by (1),
// (3) removed objects are reinserted unless already handled by (1) or (2).
// This ordering (rather than the spec's literal restore-then-drop-then-
// reinsert list) is required to get create-then-modify-then-remove chains
// within a single session right; see DESIGN.md.
func (s *Session) Rollback() {
	if s.done {
		return
	}
	s.done = true
	db := s.db
	if len(db.undo) == 0 || db.undo[len(db.undo)-1] != s.s {
		panic("objdb: Rollback called out of order (not the innermost session)")
	}
	db.undo = db.undo[:len(db.undo)-1]

	handled := make(map[ID]bool)
	for i := len(s.s.creates) - 1; i >= 0; i-- {
		id := s.s.creates[i]
		ix := db.Index(id.Space, id.Type)
		ix.rawDelete(id)
		ix.rawNextSet(id.Instance)
		handled[id] = true
	}
	for id, pre := range s.s.preimages {
		if handled[id] {
			continue
		}
		ix := db.Index(id.Space, id.Type)
		ix.rawSet(id, pre)
		handled[id] = true
	}
	for id, obj := range s.s.removed {
		if handled[id] {
			continue
		}
		ix := db.Index(id.Space, id.Type)
		ix.rawSet(id, obj)
		handled[id] = true
	}
}

// Depth returns the number of currently nested undo sessions.
func (db *Database) Depth() int { return len(db.undo) }
