// Package auth implements the weighted multi-signature authority resolver
// (C4): a transaction's signatures must satisfy the weight threshold of
// every authority its operations require, recursing through account
// authorities up to a bounded depth.
package auth

import (
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
)

// Class selects which of an account's two authorities to check.
type Class int

const (
	Active Class = iota
	Owner
)

// MaxDepth bounds authority recursion (§4.2); paths beyond this are
// treated as unsatisfied, not as an error — another path may still meet
// the threshold.
const MaxDepth = 2

type cacheKey struct {
	account objdb.ID
	class   Class
}

// Resolver checks whether a set of signed keys satisfies an account's
// authority, memoizing satisfied (account,class) pairs within one
// evaluation so repeated requirements across operations in the same
// transaction do not re-traverse the authority graph.
type Resolver struct {
	chain      *core.Chain
	signedKeys map[string]bool // hex pubkey -> signed
	satisfied  map[cacheKey]bool
}

// New creates a Resolver scoped to one transaction's signed-key set.
func New(chain *core.Chain, signedKeys map[string]bool) *Resolver {
	return &Resolver{chain: chain, signedKeys: signedKeys, satisfied: make(map[cacheKey]bool)}
}

// Require fails with ErrUnauthorized unless account's authority of class
// is satisfied by the resolver's signed-key set. Per §4.2, an operation
// requiring owner also counts a satisfied owner toward its active
// requirement, so callers needing active-or-owner call Require(id, Active)
// after first trying Owner only when the operation explicitly demands it.
func (r *Resolver) Require(account objdb.ID, class Class) error {
	if r.satisfiesAccount(account, class, 0) {
		return nil
	}
	// Owner always also satisfies an active requirement.
	if class == Active && r.satisfiesAccount(account, Owner, 0) {
		return nil
	}
	return fmt.Errorf("%w: account %s authority %v not satisfied", txerr.ErrUnauthorized, account, class)
}

func (r *Resolver) satisfiesAccount(account objdb.ID, class Class, depth int) bool {
	key := cacheKey{account, class}
	if r.satisfied[key] {
		return true
	}
	obj, ok := r.chain.Accounts.Get(account)
	if !ok {
		return false
	}
	acc := obj.(*core.Account)
	authority := acc.Active
	if class == Owner {
		authority = acc.Owner
	}
	result := r.satisfiesAuthority(authority, depth)
	if result {
		r.satisfied[key] = true
	}
	return result
}

func (r *Resolver) satisfiesAuthority(authority core.Authority, depth int) bool {
	if depth > MaxDepth {
		return false
	}
	var weight uint32
	for _, entry := range authority.Auths {
		if r.satisfiesEntry(entry, depth) {
			weight += uint32(entry.Weight)
			if weight >= authority.WeightThreshold {
				return true
			}
		}
	}
	return weight >= authority.WeightThreshold
}

func (r *Resolver) satisfiesEntry(entry core.AuthEntry, depth int) bool {
	if entry.IsKey {
		obj, ok := r.chain.Keys.Get(entry.Key)
		if !ok {
			return false
		}
		k := obj.(*core.Key)
		return r.signedKeys[k.PublicKey]
	}
	if depth+1 > MaxDepth {
		return false
	}
	return r.satisfiesAccount(entry.Account, Active, depth+1)
}
