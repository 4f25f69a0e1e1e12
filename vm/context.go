// Package vm implements the two-phase evaluate/apply transaction pipeline
// (C5): evaluate runs every operation's checks first, and only if every
// one succeeds does apply run for each in order, so a transaction commits
// atomically or not at all.
package vm

import (
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/fees"
)

// Context is threaded through every operation's Evaluate/Apply call. It
// carries no package-level globals (per the "no singletons" design note):
// every evaluator receives this explicit handle.
type Context struct {
	Chain    *core.Chain
	Fees     *fees.Schedule
	Block    *core.Block // nil while validating a mempool candidate
	Tx       *core.Transaction
	OpIndex  int
	Now      int64 // head time, unix seconds
	SignedKeys map[string]bool
	Emitter  *events.Emitter

	createdByOp map[int]objdb.ID
}

func newContext(chain *core.Chain, sched *fees.Schedule, block *core.Block, tx *core.Transaction, now int64, signed map[string]bool, emitter *events.Emitter) *Context {
	return &Context{
		Chain:       chain,
		Fees:        sched,
		Block:       block,
		Tx:          tx,
		Now:         now,
		SignedKeys:  signed,
		Emitter:     emitter,
		createdByOp: make(map[int]objdb.ID),
	}
}

// NoteCreated records the primary object an operation created, so later
// operations in the same transaction can reference it by relative id
// (§4.3). Modules that create exactly one headline object call this from
// Apply right after Index.Create.
func (c *Context) NoteCreated(id objdb.ID) {
	c.createdByOp[c.OpIndex] = id
}

// Resolve converts a possibly-relative id into an absolute one. Relative
// ids (space = relative_protocol_ids) name the operation index whose
// headline object they refer to.
func (c *Context) Resolve(id objdb.ID) (objdb.ID, error) {
	if !id.IsRelative() {
		return id, nil
	}
	resolved, ok := c.createdByOp[int(id.Instance)]
	if !ok {
		return objdb.ID{}, fmt.Errorf("vm: relative id references operation %d which produced no object", id.Instance)
	}
	return resolved, nil
}
