package objdb

import "fmt"

// Object is implemented by every type stored in the database. SetID is
// called exactly once, by Index.Create, to assign the dense instance id.
type Object interface {
	ObjID() ID
	setID(ID)
}

// Base embeds into every concrete object type to provide ObjID/setID.
type Base struct {
	ID ID `json:"id"`
}

func (b *Base) ObjID() ID    { return b.ID }
func (b *Base) setID(id ID)  { b.ID = id }

// Hook is an observer callback fired after a mutation completes successfully.
// kind is "create", "modify", or "remove".
type Hook func(kind string, obj Object)

// Index stores every instance of one (space,type) pair. It assigns dense
// instance ids and owns the canonical copy of each object; secondary
// lookups are layered on top by the owning package (see market's price
// indices, or core's name/symbol uniqueness checks) using Each/Get.
type Index struct {
	space Space
	typ   Type

	next    uint64
	objects map[uint64]Object
	hooks   []Hook

	// db back-reference lets the index push undo records.
	db *Database
}

func newIndex(db *Database, space Space, typ Type) *Index {
	return &Index{space: space, typ: typ, objects: make(map[uint64]Object), db: db}
}

// Subscribe registers an observer hook fired after every successful
// create/modify/remove on this index.
func (ix *Index) Subscribe(h Hook) { ix.hooks = append(ix.hooks, h) }

func (ix *Index) fire(kind string, obj Object) {
	for _, h := range ix.hooks {
		h(kind, obj)
	}
}

// Create assigns the next dense instance id to obj, stores it, and records
// an undo entry in the active session (if any).
func (ix *Index) Create(obj Object) ID {
	id := New(ix.space, ix.typ, ix.next)
	ix.next++
	obj.setID(id)
	ix.objects[id.Instance] = obj
	ix.db.recordCreate(id)
	ix.fire("create", obj)
	return id
}

// Get returns the live object for id, or (nil,false) if absent.
func (ix *Index) Get(id ID) (Object, bool) {
	obj, ok := ix.objects[id.Instance]
	return obj, ok
}

// MustGet panics if id does not resolve; callers must only use it for ids
// already validated to exist (programming-error path per spec §4.1).
func (ix *Index) MustGet(id ID) Object {
	obj, ok := ix.Get(id)
	if !ok {
		panic(fmt.Sprintf("objdb: modify/get on nonexistent id %s", id))
	}
	return obj
}

// Modify applies fn to the live object referenced by id, recording a
// pre-image for undo before the mutation. fn must not change the object's
// own ID. Returns the nonexistent-id programming error as a panic per
// spec §4.1 ("modify on a nonexistent ID is a programming error").
func (ix *Index) Modify(id ID, fn func(obj Object)) {
	obj := ix.MustGet(id)
	ix.db.recordPreimage(id, cloneFor(obj))
	fn(obj)
	ix.fire("modify", obj)
}

// Remove deletes id from the index, recording the removed object so undo
// can reinsert it.
func (ix *Index) Remove(id ID) {
	obj := ix.MustGet(id)
	ix.db.recordRemoved(id, obj)
	delete(ix.objects, id.Instance)
	ix.fire("remove", obj)
}

// Each calls fn for every live object in ascending instance order. Callers
// needing price-ordered or name-ordered iteration collect objects with Each
// and sort them themselves (see market/book.go).
func (ix *Index) Each(fn func(Object)) {
	for i := uint64(0); i < ix.next; i++ {
		if obj, ok := ix.objects[i]; ok {
			fn(obj)
		}
	}
}

// Count returns the number of live objects.
func (ix *Index) Count() int { return len(ix.objects) }

// rawSet/rawDelete are used only by the undo machinery to restore
// pre-images and removed objects without re-recording undo entries.
func (ix *Index) rawSet(id ID, obj Object)  { ix.objects[id.Instance] = obj }
func (ix *Index) rawDelete(id ID)           { delete(ix.objects, id.Instance) }
func (ix *Index) rawNextSet(next uint64)    { ix.next = next }
func (ix *Index) rawNext() uint64           { return ix.next }

// cloneFor is supplied by the package storing the object (every concrete
// type implements Cloner); Index itself stays type-agnostic.
func cloneFor(obj Object) Object {
	c, ok := obj.(Cloner)
	if !ok {
		panic(fmt.Sprintf("objdb: type %T does not implement Cloner, cannot snapshot for undo", obj))
	}
	return c.Clone()
}

// Cloner is implemented by every concrete object type stored in the
// database so Modify can snapshot a pre-image cheaply and correctly
// (a shallow struct copy is not always sufficient when a field is itself
// a slice/map that Modify's fn might mutate in place).
type Cloner interface {
	Clone() Object
}
