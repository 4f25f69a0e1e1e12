// Package fees implements the per-operation fee schedule and the
// non-core-asset fee-pool exchange (C6).
package fees

import (
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
)

// Schedule holds one base fee per operation variant plus a data-byte rate
// for variable-length fields (§6).
type Schedule struct {
	Base         map[core.OpType]int64
	DataByteRate int64
}

// Default returns a schedule with conservative flat fees, grounded on the
// same "one constant per operation" shape the teacher's executor used for
// its single flat tx.Fee, generalized to a per-variant table.
func Default() *Schedule {
	s := &Schedule{DataByteRate: 10, Base: make(map[core.OpType]int64)}
	flat := int64(100)
	for _, op := range []core.OpType{
		core.OpTransfer, core.OpKeyCreate, core.OpAccountCreate, core.OpAccountUpdate,
		core.OpAccountWhitelist, core.OpAccountUpgradeToPrime, core.OpAssetCreate,
		core.OpAssetUpdate, core.OpAssetIssue, core.OpAssetFundFeePool, core.OpAssetWhitelist,
		core.OpAssetPublishFeed, core.OpAssetGlobalSettle, core.OpDelegateCreate,
		core.OpWitnessCreate, core.OpWitnessUpdate, core.OpWitnessClaimPay,
		core.OpLimitOrderCreate, core.OpLimitOrderCancel, core.OpShortOrderCreate,
		core.OpShortOrderCancel, core.OpCallOrderUpdate, core.OpForceSettle,
		core.OpProposalCreate, core.OpProposalUpdate, core.OpProposalDelete,
		core.OpVestingBalanceCreate, core.OpVestingBalanceWithdraw,
		core.OpWithdrawPermissionCreate, core.OpWithdrawPermissionUpdate,
		core.OpWithdrawPermissionClaim, core.OpWithdrawPermissionDelete, core.OpWorkerCreate,
	} {
		s.Base[op] = flat
	}
	// Account/asset creation and proposals carry more state; charge more.
	s.Base[core.OpAccountCreate] = 5000
	s.Base[core.OpAssetCreate] = 50000
	s.Base[core.OpProposalCreate] = 2000
	return s
}

// Compute returns the core-asset fee for op with a payload of payloadBytes.
func (s *Schedule) Compute(op core.OpType, payloadBytes int) (int64, error) {
	base, ok := s.Base[op]
	if !ok {
		return 0, fmt.Errorf("fees: no schedule entry for operation %q", op)
	}
	return base + s.DataByteRate*int64(payloadBytes), nil
}

// Charge debits the payer for feeDeclared of feeAsset, realizing feeCore
// (feeDeclared converted to the core asset) as the accounting delta
// described in §4.3: if feeAsset is the core asset, feeDeclared==feeCore
// and the payer's core balance is debited directly, with the amount
// accruing to the core asset's accumulated_fees. Otherwise feeCore is
// drawn from feeAsset's fee_pool and feeDeclared accrues to its
// accumulated_fees.
func Charge(chain *core.Chain, payer *core.AccountBalance, feeAsset *core.Asset, feeDeclared, feeCore int64) error {
	if payer.Get(feeAsset.ObjID()) < feeDeclared {
		return fmt.Errorf("%w: need %d of asset %s for fee, have %d", txerr.ErrInsufficientBalance, feeDeclared, feeAsset.Symbol, payer.Get(feeAsset.ObjID()))
	}

	if feeAsset.ObjID() == core.CoreAssetID {
		payer.Add(core.CoreAssetID, -feeDeclared)
		coreDyn, _ := chain.DynamicAssetDatas.Get(feeAsset.DynamicData)
		chain.DynamicAssetDatas.Modify(coreDyn.ObjID(), func(o objdb.Object) {
			o.(*core.DynamicAssetData).AccumulatedFees += feeCore
		})
		return nil
	}

	dynObj, _ := chain.DynamicAssetDatas.Get(feeAsset.DynamicData)
	dyn := dynObj.(*core.DynamicAssetData)
	if dyn.FeePool < feeCore {
		return fmt.Errorf("%w: fee pool has %d, needs %d", txerr.ErrInsufficientFeePool, dyn.FeePool, feeCore)
	}
	payer.Add(feeAsset.ObjID(), -feeDeclared)
	chain.DynamicAssetDatas.Modify(dyn.ObjID(), func(o objdb.Object) {
		d := o.(*core.DynamicAssetData)
		d.FeePool -= feeCore
		d.AccumulatedFees += feeDeclared
	})
	return nil
}

// Convert computes the core-asset amount equivalent to declaredAmount of
// feeAsset at its core_exchange_rate (quote is always the core asset).
func Convert(feeAsset *core.Asset, declaredAmount int64) int64 {
	return feeAsset.CoreExchangeRate.Convert(declaredAmount)
}
