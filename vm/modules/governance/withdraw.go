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
	vm.Register(core.OpWithdrawPermissionCreate, decodeWithdrawCreate)
	vm.Register(core.OpWithdrawPermissionUpdate, decodeWithdrawUpdate)
	vm.Register(core.OpWithdrawPermissionClaim, decodeWithdrawClaim)
	vm.Register(core.OpWithdrawPermissionDelete, decodeWithdrawDelete)
}

// --- withdraw_permission_create ---

type WithdrawPermissionCreatePayload struct {
	Withdrawer       objdb.ID    `json:"withdrawer"`
	Authorized       objdb.ID    `json:"authorized"`
	Allowance        core.Amount `json:"allowance"`
	PeriodSec        int64       `json:"period_sec"`
	PeriodsUntilExpiration uint32 `json:"periods_until_expiration"`
}

type withdrawCreateOp struct{ p WithdrawPermissionCreatePayload }

func decodeWithdrawCreate(raw json.RawMessage) (vm.Op, error) {
	var p WithdrawPermissionCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode withdraw_permission_create: %w", err)
	}
	if p.PeriodSec <= 0 || p.PeriodsUntilExpiration == 0 {
		return nil, fmt.Errorf("%w: period_sec and periods_until_expiration must be positive", txerr.ErrMalformed)
	}
	return &withdrawCreateOp{p}, nil
}

func (o *withdrawCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Withdrawer} }
func (o *withdrawCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *withdrawCreateOp) FeePayer() objdb.ID         { return o.p.Withdrawer }
func (o *withdrawCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *withdrawCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, ok := ctx.Chain.Accounts.Get(o.p.Withdrawer); !ok {
		return nil, fmt.Errorf("%w: withdrawer %s does not exist", txerr.ErrUnknown, o.p.Withdrawer)
	}
	if _, ok := ctx.Chain.Accounts.Get(o.p.Authorized); !ok {
		return nil, fmt.Errorf("%w: authorized account %s does not exist", txerr.ErrUnknown, o.p.Authorized)
	}
	return nil, nil
}

func (o *withdrawCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	id := ctx.Chain.WithdrawPermissions.Create(&core.WithdrawPermission{
		Withdrawer:       o.p.Withdrawer,
		Authorized:       o.p.Authorized,
		AssetID:          o.p.Allowance.AssetID,
		PeriodAmount:     o.p.Allowance.Value,
		PeriodStartTime:  ctx.Now,
		PeriodSec:        o.p.PeriodSec,
		RemainingPeriods: o.p.PeriodsUntilExpiration,
	})
	ctx.NoteCreated(id)
	return nil
}

// --- withdraw_permission_update ---

type WithdrawPermissionUpdatePayload struct {
	Permission             objdb.ID    `json:"permission"`
	Withdrawer             objdb.ID    `json:"withdrawer"`
	Allowance              core.Amount `json:"allowance"`
	PeriodSec              int64       `json:"period_sec"`
	PeriodsUntilExpiration uint32      `json:"periods_until_expiration"`
}

type withdrawUpdateOp struct{ p WithdrawPermissionUpdatePayload }

func decodeWithdrawUpdate(raw json.RawMessage) (vm.Op, error) {
	var p WithdrawPermissionUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode withdraw_permission_update: %w", err)
	}
	return &withdrawUpdateOp{p}, nil
}

func (o *withdrawUpdateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Withdrawer} }
func (o *withdrawUpdateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *withdrawUpdateOp) FeePayer() objdb.ID         { return o.p.Withdrawer }
func (o *withdrawUpdateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *withdrawUpdateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.WithdrawPermissions.Get(o.p.Permission)
	if !ok {
		return nil, fmt.Errorf("%w: permission %s does not exist", txerr.ErrUnknown, o.p.Permission)
	}
	if obj.(*core.WithdrawPermission).Withdrawer != o.p.Withdrawer {
		return nil, fmt.Errorf("%w: %s does not own permission %s", txerr.ErrUnauthorized, o.p.Withdrawer, o.p.Permission)
	}
	return nil, nil
}

func (o *withdrawUpdateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	ctx.Chain.WithdrawPermissions.Modify(o.p.Permission, func(obj objdb.Object) {
		w := obj.(*core.WithdrawPermission)
		w.AssetID = o.p.Allowance.AssetID
		w.PeriodAmount = o.p.Allowance.Value
		w.PeriodSec = o.p.PeriodSec
		w.RemainingPeriods = o.p.PeriodsUntilExpiration
		w.PeriodStartTime = ctx.Now
	})
	return nil
}

// --- withdraw_permission_claim ---

type WithdrawPermissionClaimPayload struct {
	Permission objdb.ID    `json:"permission"`
	Authorized objdb.ID    `json:"authorized"`
	Amount     core.Amount `json:"amount_to_withdraw"`
}

type withdrawClaimOp struct{ p WithdrawPermissionClaimPayload }

func decodeWithdrawClaim(raw json.RawMessage) (vm.Op, error) {
	var p WithdrawPermissionClaimPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode withdraw_permission_claim: %w", err)
	}
	return &withdrawClaimOp{p}, nil
}

func (o *withdrawClaimOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Authorized} }
func (o *withdrawClaimOp) RequiredOwner() []objdb.ID  { return nil }
func (o *withdrawClaimOp) FeePayer() objdb.ID         { return o.p.Authorized }
func (o *withdrawClaimOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *withdrawClaimOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.WithdrawPermissions.Get(o.p.Permission)
	if !ok {
		return nil, fmt.Errorf("%w: permission %s does not exist", txerr.ErrUnknown, o.p.Permission)
	}
	w := obj.(*core.WithdrawPermission)
	if w.Authorized != o.p.Authorized {
		return nil, fmt.Errorf("%w: %s is not authorized on permission %s", txerr.ErrUnauthorized, o.p.Authorized, o.p.Permission)
	}
	if w.AssetID != o.p.Amount.AssetID || o.p.Amount.Value > w.PeriodAmount {
		return nil, fmt.Errorf("%w: claim exceeds the permission's period allowance", txerr.ErrInsufficientBalance)
	}
	if ctx.Now < w.PeriodStartTime || ctx.Now >= w.PeriodStartTime+w.PeriodSec {
		return nil, fmt.Errorf("%w: outside the current withdrawal period", txerr.ErrMalformed)
	}
	if w.RemainingPeriods == 0 {
		return nil, fmt.Errorf("%w: permission %s exhausted", txerr.ErrExpired, o.p.Permission)
	}
	withdrawerObj, ok := ctx.Chain.Accounts.Get(w.Withdrawer)
	if !ok {
		return nil, fmt.Errorf("%w: withdrawer %s does not exist", txerr.ErrUnknown, w.Withdrawer)
	}
	bal := ctx.Chain.BalanceOf(withdrawerObj.(*core.Account))
	if bal.Get(o.p.Amount.AssetID) < o.p.Amount.Value {
		return nil, fmt.Errorf("%w: withdrawer has insufficient balance", txerr.ErrInsufficientBalance)
	}
	return nil, nil
}

func (o *withdrawClaimOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	obj, _ := ctx.Chain.WithdrawPermissions.Get(o.p.Permission)
	w := obj.(*core.WithdrawPermission)
	withdrawerObj, _ := ctx.Chain.Accounts.Get(w.Withdrawer)
	fromBal := ctx.Chain.BalanceOf(withdrawerObj.(*core.Account))
	authorizedObj, _ := ctx.Chain.Accounts.Get(o.p.Authorized)
	toBal := ctx.Chain.BalanceOf(authorizedObj.(*core.Account))

	ctx.Chain.AccountBalances.Modify(fromBal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(o.p.Amount.AssetID, -o.p.Amount.Value)
	})
	ctx.Chain.AccountBalances.Modify(toBal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(o.p.Amount.AssetID, o.p.Amount.Value)
	})
	ctx.Chain.WithdrawPermissions.Modify(o.p.Permission, func(obj objdb.Object) {
		p := obj.(*core.WithdrawPermission)
		p.PeriodStartTime += p.PeriodSec
		p.RemainingPeriods--
	})
	return nil
}

// --- withdraw_permission_delete ---

type WithdrawPermissionDeletePayload struct {
	Permission objdb.ID `json:"permission"`
	Withdrawer objdb.ID `json:"withdrawer"`
}

type withdrawDeleteOp struct{ p WithdrawPermissionDeletePayload }

func decodeWithdrawDelete(raw json.RawMessage) (vm.Op, error) {
	var p WithdrawPermissionDeletePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode withdraw_permission_delete: %w", err)
	}
	return &withdrawDeleteOp{p}, nil
}

func (o *withdrawDeleteOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Withdrawer} }
func (o *withdrawDeleteOp) RequiredOwner() []objdb.ID  { return nil }
func (o *withdrawDeleteOp) FeePayer() objdb.ID         { return o.p.Withdrawer }
func (o *withdrawDeleteOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *withdrawDeleteOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.WithdrawPermissions.Get(o.p.Permission)
	if !ok {
		return nil, fmt.Errorf("%w: permission %s does not exist", txerr.ErrUnknown, o.p.Permission)
	}
	if obj.(*core.WithdrawPermission).Withdrawer != o.p.Withdrawer {
		return nil, fmt.Errorf("%w: %s does not own permission %s", txerr.ErrUnauthorized, o.p.Withdrawer, o.p.Permission)
	}
	return nil, nil
}

func (o *withdrawDeleteOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	ctx.Chain.WithdrawPermissions.Remove(o.p.Permission)
	return nil
}
