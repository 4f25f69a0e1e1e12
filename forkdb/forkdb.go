// Package forkdb implements the bounded fork tree and reorg algorithm (C9):
// it tracks every block received within the node's reorg window, applies the
// canonical branch's blocks speculatively under their own undo sessions, and
// switches the canonical head to whichever known chain is longest, rolling
// the losing branch back and replaying the winning one.
//
// core/objdb's undo sessions nest strictly LIFO (Session.Commit/Rollback
// both panic if called out of order — see core/objdb/undo.go), so only one
// branch's sessions can ever be open against the live Chain at a time. A
// reorg therefore always proceeds by unwinding the current head's sessions,
// innermost first, back to the common ancestor, then applying the new
// branch's blocks in order from there — never by holding two branches open
// simultaneously.
package forkdb

import (
	"fmt"
	"sort"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/vm"
)

// node is one tracked block: its undo session stays open for as long as the
// block remains within the reorg window, so the branch it belongs to can
// still be unwound if a competitor overtakes it.
type node struct {
	block    *core.Block
	session  *objdb.Session // nil once committed (irreversible), or while unapplied on a side branch
	parent   *node          // nil for the window's root (the last checkpoint)
	children []*node
}

// Tree tracks every block within maxDepth of the last checkpoint and picks
// the canonical head among them.
type Tree struct {
	chain    *core.Chain
	exec     *vm.Executor
	bc       *core.Blockchain
	emitter  *events.Emitter
	maxDepth int

	nodes map[string]*node // by block ID
	root  *node            // last irreversible checkpoint (session already nil)
	head  *node            // canonical tip among tracked nodes
}

// New creates a fork tree rooted at the chain's current tip (already
// committed, with no open session of its own). maxDepth bounds how many
// blocks past the checkpoint may be held open for reorg before the whole
// window is flushed and a fresh checkpoint starts.
func New(chain *core.Chain, exec *vm.Executor, bc *core.Blockchain, emitter *events.Emitter, checkpoint *core.Block, maxDepth int) *Tree {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	root := &node{block: checkpoint}
	t := &Tree{chain: chain, exec: exec, bc: bc, emitter: emitter, maxDepth: maxDepth, nodes: make(map[string]*node)}
	if checkpoint != nil {
		t.nodes[checkpoint.ID] = root
	}
	t.root = root
	t.head = root
	return t
}

// depth returns n's distance from the checkpoint root.
func depth(n *node) int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// PushBlock inserts block into the tree under its declared parent (which
// must already be tracked). A block that extends the current head is applied
// speculatively under its own undo session and becomes the head at once. A
// block on any other branch is stored unapplied and the head does not
// change; call Reconcile afterward to switch to that branch if it is now the
// longest known chain.
func (t *Tree) PushBlock(block *core.Block) error {
	if _, exists := t.nodes[block.ID]; exists {
		return nil
	}
	parent, ok := t.nodes[block.Header.PreviousID]
	if !ok {
		return fmt.Errorf("forkdb: block %s's parent %s is not tracked", block.ID, block.Header.PreviousID)
	}
	if parent != t.head {
		n := &node{block: block, parent: parent}
		parent.children = append(parent.children, n)
		t.nodes[block.ID] = n
		return nil
	}
	session, err := t.exec.ExecuteBlockUncommitted(block)
	if err != nil {
		return fmt.Errorf("forkdb: apply block %s: %w", block.ID, err)
	}
	if err := t.bc.AddBlock(block); err != nil {
		session.Rollback()
		return fmt.Errorf("forkdb: extend tip with %s: %w", block.ID, err)
	}
	n := &node{block: block, session: session, parent: parent}
	parent.children = append(parent.children, n)
	t.nodes[block.ID] = n
	t.head = n
	return nil
}

// Head returns the block currently treated as canonical.
func (t *Tree) Head() *core.Block { return t.head.block }

// switchTo rolls the current head back to ancestor (which must be on the
// path from root to head), innermost session first, and moves the
// blockchain's tip pointer back alongside it.
func (t *Tree) switchTo(ancestor *node) error {
	rolledBack := false
	for n := t.head; n != ancestor; n = n.parent {
		if n == nil {
			return fmt.Errorf("forkdb: %s is not an ancestor of the current head", ancestor.block.ID)
		}
		if n.session != nil {
			n.session.Rollback()
			n.session = nil
		}
		// Dropped nodes are no longer reachable by any live branch; forget them.
		delete(t.nodes, n.block.ID)
		rolledBack = true
	}
	if rolledBack {
		if err := t.bc.Rewind(ancestor.block); err != nil {
			return fmt.Errorf("forkdb: rewind to %s: %w", ancestor.block.ID, err)
		}
	}
	t.head = ancestor
	return nil
}

// commonAncestor walks both nodes back to their shared parent.
func commonAncestor(a, b *node) *node {
	seen := make(map[*node]bool)
	for n := a; n != nil; n = n.parent {
		seen[n] = true
	}
	for n := b; n != nil; n = n.parent {
		if seen[n] {
			return n
		}
	}
	return nil
}

// Reconcile switches the canonical head to candidate if it extends a longer
// chain than the current head, rolling back the shorter branch down to the
// common ancestor and replaying the winner's blocks in order.
func (t *Tree) Reconcile(candidate *core.Block) error {
	cn, ok := t.nodes[candidate.ID]
	if !ok {
		return fmt.Errorf("forkdb: candidate %s is not tracked", candidate.ID)
	}
	if depth(cn) <= depth(t.head) {
		return nil
	}
	ancestor := commonAncestor(t.head, cn)
	if ancestor == nil {
		return fmt.Errorf("forkdb: no common ancestor between %s and %s", t.head.block.ID, cn.block.ID)
	}
	oldHead := t.head.block.ID
	if err := t.switchTo(ancestor); err != nil {
		return err
	}

	// Collect the winning path from the ancestor down to the candidate and
	// replay it; those blocks were never executed while the losing branch
	// held the stack (only one branch can be open at a time), so each one
	// needs a fresh speculative apply now.
	var path []*node
	for n := cn; n != ancestor; n = n.parent {
		path = append(path, n)
	}
	sort.SliceStable(path, func(i, j int) bool { return depth(path[i]) < depth(path[j]) })

	for _, n := range path {
		session, err := t.exec.ExecuteBlockUncommitted(n.block)
		if err != nil {
			return fmt.Errorf("forkdb: replay %s: %w", n.block.ID, err)
		}
		if err := t.bc.AddBlock(n.block); err != nil {
			session.Rollback()
			return fmt.Errorf("forkdb: replay %s onto chain: %w", n.block.ID, err)
		}
		n.session = session
		t.head = n
	}
	if t.emitter != nil {
		t.emitter.Emit(events.Event{
			Type: events.EventReorg,
			Data: map[string]any{"from": oldHead, "to": t.head.block.ID, "depth": len(path)},
		})
	}
	return nil
}

// Finalize checkpoints the current head once it is maxDepth deep, committing
// every open session from head back to root and starting a fresh window.
// Commit only ever merges a child's preimages into its still-open parent
// (see core/objdb/undo.go), so the whole window must close together, top
// down, in one pass — there is no partial finalize of just the oldest block
// while newer ones remain independently revertible. In practice this means
// the node's effective reorg protection is "up to maxDepth blocks since the
// last checkpoint", not a perpetually sliding window.
func (t *Tree) Finalize() error {
	if depth(t.head) < t.maxDepth {
		return nil
	}
	// Sessions close newest first: the head's session sits on top of the
	// real undo stack, so it must commit before its parent's can.
	for n := t.head; n != t.root; n = n.parent {
		if n.session != nil {
			n.session.Commit()
			n.session = nil
		}
	}
	newRoot := t.head
	newRoot.parent = nil
	newRoot.children = nil
	t.nodes = map[string]*node{newRoot.block.ID: newRoot}
	t.root = newRoot
	return nil
}

