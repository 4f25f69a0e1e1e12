package fees

import (
	"testing"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
)

func TestDefaultScheduleCoversEveryOpType(t *testing.T) {
	s := Default()
	ops := []core.OpType{
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
	}
	for _, op := range ops {
		if _, ok := s.Base[op]; !ok {
			t.Errorf("missing fee schedule entry for %s", op)
		}
	}
}

func TestComputeChargesDataByteRate(t *testing.T) {
	s := Default()
	base := s.Base[core.OpTransfer]
	fee, err := s.Compute(core.OpTransfer, 50)
	if err != nil {
		t.Fatal(err)
	}
	if want := base + s.DataByteRate*50; fee != want {
		t.Errorf("fee = %d, want %d", fee, want)
	}
}

func TestComputeUnknownOpErrors(t *testing.T) {
	s := &Schedule{Base: map[core.OpType]int64{}}
	if _, err := s.Compute(core.OpTransfer, 0); err == nil {
		t.Error("expected error for operation missing from schedule")
	}
}

func newCoreAssetChain(t *testing.T) (*core.Chain, *core.Asset) {
	t.Helper()
	chain := core.NewChain()
	dynID := chain.DynamicAssetDatas.Create(&core.DynamicAssetData{})
	assetID := chain.Assets.Create(&core.Asset{
		Symbol: "CORE", Precision: 5, MaxSupply: 1 << 62,
		CoreExchangeRate: core.Price{Base: core.Amount{Value: 1}, Quote: core.Amount{Value: 1}},
		DynamicData:      dynID,
	})
	if assetID != core.CoreAssetID {
		t.Fatalf("core asset id mismatch: got %s want %s", assetID, core.CoreAssetID)
	}
	obj, _ := chain.Assets.Get(assetID)
	return chain, obj.(*core.Asset)
}

func TestChargeCoreAssetDebitsPayerAndAccrues(t *testing.T) {
	chain, coreAsset := newCoreAssetChain(t)
	accID := chain.Accounts.Create(&core.Account{})
	balID := chain.AccountBalances.Create(&core.AccountBalance{Owner: accID, Balances: make(map[uint64]int64)})
	chain.AccountBalances.Modify(balID, func(o objdb.Object) { o.(*core.AccountBalance).Add(core.CoreAssetID, 1000) })
	bal, _ := chain.AccountBalances.Get(balID)

	if err := Charge(chain, bal.(*core.AccountBalance), coreAsset, 100, 100); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if got := bal.(*core.AccountBalance).Get(core.CoreAssetID); got != 900 {
		t.Errorf("payer balance after charge: got %d want 900", got)
	}
	dynObj, _ := chain.DynamicAssetDatas.Get(coreAsset.DynamicData)
	if got := dynObj.(*core.DynamicAssetData).AccumulatedFees; got != 100 {
		t.Errorf("accumulated fees: got %d want 100", got)
	}
}

func TestChargeInsufficientBalanceFails(t *testing.T) {
	chain, coreAsset := newCoreAssetChain(t)
	accID := chain.Accounts.Create(&core.Account{})
	balID := chain.AccountBalances.Create(&core.AccountBalance{Owner: accID, Balances: make(map[uint64]int64)})
	bal, _ := chain.AccountBalances.Get(balID)

	if err := Charge(chain, bal.(*core.AccountBalance), coreAsset, 100, 100); err == nil {
		t.Error("expected insufficient balance error")
	}
}

func TestConvertUsesExchangeRate(t *testing.T) {
	asset := &core.Asset{CoreExchangeRate: core.Price{Base: core.Amount{Value: 2}, Quote: core.Amount{Value: 1}}}
	// 2 units of asset == 1 core unit, so 10 units of asset convert to 5 core.
	if got := Convert(asset, 10); got != 5 {
		t.Errorf("Convert: got %d want 5", got)
	}
}
