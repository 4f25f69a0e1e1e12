// Package governance implements the stakeholder-facing operations outside
// the asset/account/market core: delegate and witness registration and
// pay, the proposal system (C11), vesting balances, withdraw permissions,
// and worker funding proposals.
package governance

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
	"github.com/ledgerforge/forgechain/crypto"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/vm"
)

func init() {
	vm.Register(core.OpDelegateCreate, decodeDelegateCreate)
	vm.Register(core.OpWitnessCreate, decodeWitnessCreate)
	vm.Register(core.OpWitnessUpdate, decodeWitnessUpdate)
	vm.Register(core.OpWitnessClaimPay, decodeWitnessClaimPay)
}

// --- delegate_create ---

type DelegateCreatePayload struct {
	Account objdb.ID `json:"account"`
}

type delegateCreateOp struct{ p DelegateCreatePayload }

func decodeDelegateCreate(raw json.RawMessage) (vm.Op, error) {
	var p DelegateCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode delegate_create: %w", err)
	}
	return &delegateCreateOp{p}, nil
}

func (o *delegateCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Account} }
func (o *delegateCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *delegateCreateOp) FeePayer() objdb.ID         { return o.p.Account }
func (o *delegateCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *delegateCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, ok := ctx.Chain.Accounts.Get(o.p.Account); !ok {
		return nil, fmt.Errorf("%w: account %s does not exist", txerr.ErrUnknown, o.p.Account)
	}
	var dup bool
	ctx.Chain.Delegates.Each(func(obj objdb.Object) {
		if obj.(*core.Delegate).Account == o.p.Account {
			dup = true
		}
	})
	if dup {
		return nil, fmt.Errorf("%w: account %s is already a delegate", txerr.ErrDuplicate, o.p.Account)
	}
	return nil, nil
}

func (o *delegateCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	id := ctx.Chain.Delegates.Create(&core.Delegate{Account: o.p.Account})
	ctx.NoteCreated(id)
	return nil
}

// --- witness_create ---

type WitnessCreatePayload struct {
	Account        objdb.ID `json:"account"`
	SigningKey     objdb.ID `json:"signing_key"`
	InitialSecretHash string `json:"initial_secret_hash"` // hex sha256 commitment for the witness's first slot
}

type witnessCreateOp struct{ p WitnessCreatePayload }

func decodeWitnessCreate(raw json.RawMessage) (vm.Op, error) {
	var p WitnessCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode witness_create: %w", err)
	}
	if p.InitialSecretHash == "" {
		return nil, fmt.Errorf("%w: initial_secret_hash required", txerr.ErrMalformed)
	}
	return &witnessCreateOp{p}, nil
}

func (o *witnessCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Account} }
func (o *witnessCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *witnessCreateOp) FeePayer() objdb.ID         { return o.p.Account }
func (o *witnessCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *witnessCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, ok := ctx.Chain.Accounts.Get(o.p.Account); !ok {
		return nil, fmt.Errorf("%w: account %s does not exist", txerr.ErrUnknown, o.p.Account)
	}
	if _, ok := ctx.Chain.Keys.Get(o.p.SigningKey); !ok {
		return nil, fmt.Errorf("%w: signing key %s does not exist", txerr.ErrUnknown, o.p.SigningKey)
	}
	var dup bool
	ctx.Chain.Witnesses.Each(func(obj objdb.Object) {
		if obj.(*core.Witness).Account == o.p.Account {
			dup = true
		}
	})
	if dup {
		return nil, fmt.Errorf("%w: account %s is already a witness", txerr.ErrDuplicate, o.p.Account)
	}
	return nil, nil
}

func (o *witnessCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	id := ctx.Chain.Witnesses.Create(&core.Witness{
		Account:        o.p.Account,
		SigningKey:     o.p.SigningKey,
		NextSecretHash: o.p.InitialSecretHash,
	})
	ctx.NoteCreated(id)
	return nil
}

// --- witness_update ---

type WitnessUpdatePayload struct {
	Witness       objdb.ID  `json:"witness"`
	Account       objdb.ID  `json:"account"`
	NewSigningKey *objdb.ID `json:"new_signing_key,omitempty"`
}

type witnessUpdateOp struct{ p WitnessUpdatePayload }

func decodeWitnessUpdate(raw json.RawMessage) (vm.Op, error) {
	var p WitnessUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode witness_update: %w", err)
	}
	return &witnessUpdateOp{p}, nil
}

func (o *witnessUpdateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Account} }
func (o *witnessUpdateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *witnessUpdateOp) FeePayer() objdb.ID         { return o.p.Account }
func (o *witnessUpdateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *witnessUpdateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.Witnesses.Get(o.p.Witness)
	if !ok {
		return nil, fmt.Errorf("%w: witness %s does not exist", txerr.ErrUnknown, o.p.Witness)
	}
	if obj.(*core.Witness).Account != o.p.Account {
		return nil, fmt.Errorf("%w: %s does not own witness %s", txerr.ErrUnauthorized, o.p.Account, o.p.Witness)
	}
	if o.p.NewSigningKey != nil {
		if _, ok := ctx.Chain.Keys.Get(*o.p.NewSigningKey); !ok {
			return nil, fmt.Errorf("%w: signing key %s does not exist", txerr.ErrUnknown, *o.p.NewSigningKey)
		}
	}
	return nil, nil
}

func (o *witnessUpdateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	ctx.Chain.Witnesses.Modify(o.p.Witness, func(obj objdb.Object) {
		if o.p.NewSigningKey != nil {
			obj.(*core.Witness).SigningKey = *o.p.NewSigningKey
		}
	})
	return nil
}

// --- witness_claim_pay ---

type WitnessClaimPayPayload struct {
	Witness objdb.ID `json:"witness"`
	Account objdb.ID `json:"account"`
}

type witnessClaimPayOp struct{ p WitnessClaimPayPayload }

func decodeWitnessClaimPay(raw json.RawMessage) (vm.Op, error) {
	var p WitnessClaimPayPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode witness_claim_pay: %w", err)
	}
	return &witnessClaimPayOp{p}, nil
}

func (o *witnessClaimPayOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Account} }
func (o *witnessClaimPayOp) RequiredOwner() []objdb.ID  { return nil }
func (o *witnessClaimPayOp) FeePayer() objdb.ID         { return o.p.Account }
func (o *witnessClaimPayOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *witnessClaimPayOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.Witnesses.Get(o.p.Witness)
	if !ok {
		return nil, fmt.Errorf("%w: witness %s does not exist", txerr.ErrUnknown, o.p.Witness)
	}
	w := obj.(*core.Witness)
	if w.Account != o.p.Account {
		return nil, fmt.Errorf("%w: %s does not own witness %s", txerr.ErrUnauthorized, o.p.Account, o.p.Witness)
	}
	if w.PayPendingBalance <= 0 {
		return nil, fmt.Errorf("%w: witness %s has no pending pay", txerr.ErrInvariantViolated, o.p.Witness)
	}
	return nil, nil
}

func (o *witnessClaimPayOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	obj, _ := ctx.Chain.Witnesses.Get(o.p.Witness)
	w := obj.(*core.Witness)
	amount := w.PayPendingBalance
	accObj, _ := ctx.Chain.Accounts.Get(o.p.Account)
	bal := ctx.Chain.BalanceOf(accObj.(*core.Account))
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(core.CoreAssetID, amount)
	})
	ctx.Chain.Witnesses.Modify(o.p.Witness, func(obj objdb.Object) {
		obj.(*core.Witness).PayPendingBalance = 0
	})
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{Type: events.EventTransfer, TxID: ctx.Tx.ID, Data: map[string]any{"witness_pay_claim": o.p.Witness.String(), "amount": amount}})
	}
	return nil
}

// HashSecret computes the sha256 hex commitment a witness publishes one
// slot ahead of revealing the matching preimage (§4.5's secret chain).
func HashSecret(secret string) string {
	return crypto.Hash([]byte(secret))
}
