package storage_test

import (
	"testing"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/internal/testutil"
	"github.com/ledgerforge/forgechain/storage"
)

func newAttachedChain(t *testing.T) (*core.Chain, *storage.StateDB) {
	t.Helper()
	chain := core.NewChain()
	sdb := storage.NewStateDB(testutil.NewMemDB())
	storage.Attach(sdb, chain)
	return chain, sdb
}

func TestAttachMirrorsCreateIntoStateDB(t *testing.T) {
	chain, sdb := newAttachedChain(t)
	before := sdb.ComputeRoot()

	chain.Accounts.Create(&core.Account{Name: "alice"})

	after := sdb.ComputeRoot()
	if before == after {
		t.Error("creating an object should change the computed root")
	}
}

func TestAttachMirrorsModifyAndRemove(t *testing.T) {
	chain, sdb := newAttachedChain(t)
	id := chain.Accounts.Create(&core.Account{Name: "alice"})

	chain.Accounts.Modify(id, func(obj objdb.Object) { obj.(*core.Account).Name = "alice2" })
	modifiedRoot := sdb.ComputeRoot()

	chain.Accounts.Remove(id)
	afterRemove := sdb.ComputeRoot()

	_, empty := newAttachedChain(t)
	emptyRoot := empty.ComputeRoot()
	if afterRemove != emptyRoot {
		t.Errorf("removing the only object should return the root to empty, got %q want %q", afterRemove, emptyRoot)
	}
	if afterRemove == modifiedRoot {
		t.Error("remove should change the root relative to the modified state")
	}
}

func TestComputeRootIsDeterministic(t *testing.T) {
	chain, sdb := newAttachedChain(t)
	chain.Accounts.Create(&core.Account{Name: "alice"})
	chain.Accounts.Create(&core.Account{Name: "bob"})

	first := sdb.ComputeRoot()
	second := sdb.ComputeRoot()
	if first != second {
		t.Errorf("ComputeRoot should be pure: got %q then %q", first, second)
	}
}

func TestSnapshotAndRevertRestoresWriteBuffer(t *testing.T) {
	chain, sdb := newAttachedChain(t)
	chain.Accounts.Create(&core.Account{Name: "alice"})
	rootAfterAlice := sdb.ComputeRoot()

	snap, err := sdb.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	chain.Accounts.Create(&core.Account{Name: "bob"})
	if sdb.ComputeRoot() == rootAfterAlice {
		t.Fatal("adding bob should have changed the root")
	}

	if err := sdb.RevertToSnapshot(snap); err != nil {
		t.Fatalf("RevertToSnapshot: %v", err)
	}
	if got := sdb.ComputeRoot(); got != rootAfterAlice {
		t.Errorf("root after revert: got %q want %q", got, rootAfterAlice)
	}
}

func TestRevertToInvalidSnapshotFails(t *testing.T) {
	_, sdb := newAttachedChain(t)
	if err := sdb.RevertToSnapshot(5); err == nil {
		t.Error("expected an error reverting to a snapshot that was never taken")
	}
}

func TestCommitPersistsAndClearsWriteBuffer(t *testing.T) {
	chain, sdb := newAttachedChain(t)
	chain.Accounts.Create(&core.Account{Name: "alice"})
	rootBeforeCommit := sdb.ComputeRoot()

	// A snapshot taken before commit is no longer valid once committed.
	stale, err := sdb.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot before commit: %v", err)
	}

	if err := sdb.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got := sdb.ComputeRoot(); got != rootBeforeCommit {
		t.Errorf("root should be unchanged across a commit: got %q want %q", got, rootBeforeCommit)
	}

	if err := sdb.RevertToSnapshot(stale); err == nil {
		t.Error("expected stale snapshot indices to be invalidated by Commit")
	}
}
