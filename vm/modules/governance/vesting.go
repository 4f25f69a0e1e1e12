package governance

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
	"github.com/ledgerforge/forgechain/vm"
)

func init() {
	vm.Register(core.OpVestingBalanceCreate, decodeVestingCreate)
	vm.Register(core.OpVestingBalanceWithdraw, decodeVestingWithdraw)
}

// --- vesting_balance_create ---

type VestingBalanceCreatePayload struct {
	Creator     objdb.ID               `json:"creator"`
	Owner       objdb.ID               `json:"owner"`
	Amount      core.Amount            `json:"amount"`
	Policy      core.VestingPolicyKind `json:"policy"`
	DurationSec int64                  `json:"duration_sec,omitempty"`
}

type vestingCreateOp struct{ p VestingBalanceCreatePayload }

func decodeVestingCreate(raw json.RawMessage) (vm.Op, error) {
	var p VestingBalanceCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode vesting_balance_create: %w", err)
	}
	if p.Amount.Value <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", txerr.ErrMalformed)
	}
	if p.Policy == core.VestingLinear && p.DurationSec <= 0 {
		return nil, fmt.Errorf("%w: linear vesting requires duration_sec > 0", txerr.ErrMalformed)
	}
	return &vestingCreateOp{p}, nil
}

func (o *vestingCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Creator} }
func (o *vestingCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *vestingCreateOp) FeePayer() objdb.ID         { return o.p.Creator }
func (o *vestingCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *vestingCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	creatorObj, ok := ctx.Chain.Accounts.Get(o.p.Creator)
	if !ok {
		return nil, fmt.Errorf("%w: creator %s does not exist", txerr.ErrUnknown, o.p.Creator)
	}
	if _, ok := ctx.Chain.Accounts.Get(o.p.Owner); !ok {
		return nil, fmt.Errorf("%w: owner %s does not exist", txerr.ErrUnknown, o.p.Owner)
	}
	bal := ctx.Chain.BalanceOf(creatorObj.(*core.Account))
	if bal.Get(o.p.Amount.AssetID) < o.p.Amount.Value {
		return nil, fmt.Errorf("%w: insufficient balance to fund vesting", txerr.ErrInsufficientBalance)
	}
	return nil, nil
}

func (o *vestingCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	creatorObj, _ := ctx.Chain.Accounts.Get(o.p.Creator)
	bal := ctx.Chain.BalanceOf(creatorObj.(*core.Account))
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(o.p.Amount.AssetID, -o.p.Amount.Value)
	})
	id := ctx.Chain.VestingBalances.Create(&core.VestingBalance{
		Owner:       o.p.Owner,
		AssetID:     o.p.Amount.AssetID,
		Balance:     o.p.Amount.Value,
		Policy:      o.p.Policy,
		BeginTime:   ctx.Now,
		DurationSec: o.p.DurationSec,
		LastUpdate:  ctx.Now,
	})
	ctx.NoteCreated(id)
	return nil
}

// --- vesting_balance_withdraw ---

type VestingBalanceWithdrawPayload struct {
	VestingBalance objdb.ID `json:"vesting_balance"`
	Owner          objdb.ID `json:"owner"`
	Amount         int64    `json:"amount"`
}

type vestingWithdrawOp struct{ p VestingBalanceWithdrawPayload }

func decodeVestingWithdraw(raw json.RawMessage) (vm.Op, error) {
	var p VestingBalanceWithdrawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode vesting_balance_withdraw: %w", err)
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", txerr.ErrMalformed)
	}
	return &vestingWithdrawOp{p}, nil
}

func (o *vestingWithdrawOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Owner} }
func (o *vestingWithdrawOp) RequiredOwner() []objdb.ID  { return nil }
func (o *vestingWithdrawOp) FeePayer() objdb.ID         { return o.p.Owner }
func (o *vestingWithdrawOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *vestingWithdrawOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.VestingBalances.Get(o.p.VestingBalance)
	if !ok {
		return nil, fmt.Errorf("%w: vesting balance %s does not exist", txerr.ErrUnknown, o.p.VestingBalance)
	}
	v := obj.(*core.VestingBalance)
	if v.Owner != o.p.Owner {
		return nil, fmt.Errorf("%w: %s does not own vesting balance %s", txerr.ErrUnauthorized, o.p.Owner, o.p.VestingBalance)
	}
	if o.p.Amount > v.Available(ctx.Now) {
		return nil, fmt.Errorf("%w: only %d available", txerr.ErrInsufficientBalance, v.Available(ctx.Now))
	}
	return nil, nil
}

func (o *vestingWithdrawOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	obj, _ := ctx.Chain.VestingBalances.Get(o.p.VestingBalance)
	v := obj.(*core.VestingBalance)
	assetID := v.AssetID
	ctx.Chain.VestingBalances.Modify(o.p.VestingBalance, func(obj objdb.Object) {
		obj.(*core.VestingBalance).Withdraw(o.p.Amount, ctx.Now)
	})
	ownerObj, _ := ctx.Chain.Accounts.Get(o.p.Owner)
	bal := ctx.Chain.BalanceOf(ownerObj.(*core.Account))
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(assetID, o.p.Amount)
	})
	return nil
}
