package objdb

import "fmt"

// Database owns every Index and the active undo-session stack. There are
// no package-level globals (per spec §9's "no singletons" design note): an
// explicit *Database is threaded through every evaluator.
type Database struct {
	indices map[key]*Index
	undo    []*session // stack; top is the active (innermost) session
}

type key struct {
	space Space
	typ   Type
}

// New creates an empty Database with no indices registered.
func New() *Database {
	return &Database{indices: make(map[key]*Index)}
}

// RegisterIndex creates and registers the index for (space,type). Calling
// it twice for the same pair is a programming error.
func (db *Database) RegisterIndex(space Space, typ Type) *Index {
	k := key{space, typ}
	if _, exists := db.indices[k]; exists {
		panic(fmt.Sprintf("objdb: index already registered for space=%d type=%d", space, typ))
	}
	ix := newIndex(db, space, typ)
	db.indices[k] = ix
	return ix
}

// Index returns the registered index for (space,type). create fails (per
// spec §4.1: "create fails if the index is uninitialized") by panicking
// here, since an uninitialized index reflects a wiring bug, not a
// transaction-level user error — callers resolve the index once at
// startup and hold the typed *Index, never looking it up mid-evaluation.
func (db *Database) Index(space Space, typ Type) *Index {
	ix, ok := db.indices[key{space, typ}]
	if !ok {
		panic(fmt.Sprintf("objdb: no index registered for space=%d type=%d", space, typ))
	}
	return ix
}

// Get resolves any object by id, regardless of which index owns it.
func (db *Database) Get(id ID) (Object, bool) {
	return db.Index(id.Space, id.Type).Get(id)
}
