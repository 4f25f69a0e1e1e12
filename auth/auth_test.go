package auth

import (
	"testing"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
)

func newKeyedAccount(chain *core.Chain, pubHex string, threshold uint32, entries []core.AuthEntry) objdb.ID {
	auth := core.Authority{WeightThreshold: threshold, Auths: entries}
	return chain.Accounts.Create(&core.Account{Owner: auth, Active: auth})
}

func keyEntry(chain *core.Chain, pubHex string, weight uint16) core.AuthEntry {
	keyID := chain.Keys.Create(&core.Key{PublicKey: pubHex})
	return core.AuthEntry{IsKey: true, Key: keyID, Weight: weight}
}

func TestRequireSatisfiedBySingleKey(t *testing.T) {
	chain := core.NewChain()
	accID := newKeyedAccount(chain, "", 1, []core.AuthEntry{keyEntry(chain, "aaaa", 1)})

	r := New(chain, map[string]bool{"aaaa": true})
	if err := r.Require(accID, Active); err != nil {
		t.Fatalf("expected authority satisfied: %v", err)
	}
}

func TestRequireUnsatisfiedWithoutSignature(t *testing.T) {
	chain := core.NewChain()
	accID := newKeyedAccount(chain, "", 1, []core.AuthEntry{keyEntry(chain, "aaaa", 1)})

	r := New(chain, map[string]bool{"bbbb": true})
	if err := r.Require(accID, Active); err == nil {
		t.Error("expected unsatisfied authority error")
	}
}

func TestRequireWeightedThreshold(t *testing.T) {
	chain := core.NewChain()
	accID := newKeyedAccount(chain, "", 3, []core.AuthEntry{
		keyEntry(chain, "aaaa", 1),
		keyEntry(chain, "bbbb", 2),
	})

	r := New(chain, map[string]bool{"aaaa": true})
	if err := r.Require(accID, Active); err == nil {
		t.Error("weight 1 of 3 should not satisfy threshold")
	}

	r2 := New(chain, map[string]bool{"aaaa": true, "bbbb": true})
	if err := r2.Require(accID, Active); err != nil {
		t.Errorf("weight 3 of 3 should satisfy threshold: %v", err)
	}
}

func TestOwnerSatisfiesActiveRequirement(t *testing.T) {
	chain := core.NewChain()
	ownerAuth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{keyEntry(chain, "owner-key", 1)}}
	activeAuth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{keyEntry(chain, "active-key", 1)}}
	accID := chain.Accounts.Create(&core.Account{Owner: ownerAuth, Active: activeAuth})

	r := New(chain, map[string]bool{"owner-key": true})
	if err := r.Require(accID, Active); err != nil {
		t.Errorf("owner signature should satisfy an active requirement: %v", err)
	}
}

func TestActiveDoesNotSatisfyOwnerRequirement(t *testing.T) {
	chain := core.NewChain()
	ownerAuth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{keyEntry(chain, "owner-key", 1)}}
	activeAuth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{keyEntry(chain, "active-key", 1)}}
	accID := chain.Accounts.Create(&core.Account{Owner: ownerAuth, Active: activeAuth})

	r := New(chain, map[string]bool{"active-key": true})
	if err := r.Require(accID, Owner); err == nil {
		t.Error("an active-only signature should not satisfy an owner requirement")
	}
}

func TestNestedAccountAuthority(t *testing.T) {
	chain := core.NewChain()
	// child account is controlled by a single key.
	childID := newKeyedAccount(chain, "", 1, []core.AuthEntry{keyEntry(chain, "child-key", 1)})
	// parent account delegates its active authority entirely to the child account.
	parentAuth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{{IsKey: false, Account: childID, Weight: 1}}}
	parentID := chain.Accounts.Create(&core.Account{Owner: parentAuth, Active: parentAuth})

	r := New(chain, map[string]bool{"child-key": true})
	if err := r.Require(parentID, Active); err != nil {
		t.Errorf("expected nested account authority to resolve through the child's key: %v", err)
	}
}

func TestNestedAccountAuthorityBeyondMaxDepthFails(t *testing.T) {
	chain := core.NewChain()
	leafID := newKeyedAccount(chain, "", 1, []core.AuthEntry{keyEntry(chain, "leaf-key", 1)})

	// Build a chain of accounts longer than MaxDepth, each delegating to the next.
	current := leafID
	for i := 0; i < MaxDepth+2; i++ {
		a := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{{IsKey: false, Account: current, Weight: 1}}}
		current = chain.Accounts.Create(&core.Account{Owner: a, Active: a})
	}

	r := New(chain, map[string]bool{"leaf-key": true})
	if err := r.Require(current, Active); err == nil {
		t.Error("expected authority recursion beyond MaxDepth to fail")
	}
}

func TestRequireUnknownAccountFails(t *testing.T) {
	chain := core.NewChain()
	r := New(chain, map[string]bool{"aaaa": true})
	unknown := objdb.New(objdb.SpaceProtocol, objdb.TypeAccount, 999)
	if err := r.Require(unknown, Active); err == nil {
		t.Error("expected error requiring authority of an unknown account")
	}
}
