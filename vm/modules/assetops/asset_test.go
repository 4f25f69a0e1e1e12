package assetops

import (
	"testing"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/crypto"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/fees"
	"github.com/ledgerforge/forgechain/vm"
)

type testEnv struct {
	chain   *core.Chain
	exec    *vm.Executor
	priv    crypto.PrivateKey
	keyID   objdb.ID
	issuer  objdb.ID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	chain := core.NewChain()
	dynID := chain.DynamicAssetDatas.Create(&core.DynamicAssetData{})
	coreID := chain.Assets.Create(&core.Asset{
		Symbol: "CORE", Precision: 5, MaxSupply: 1 << 62,
		CoreExchangeRate: core.Price{Base: core.Amount{Value: 1}, Quote: core.Amount{Value: 1}},
		DynamicData:      dynID,
	})
	if coreID != core.CoreAssetID {
		t.Fatalf("core asset id mismatch: got %s want %s", coreID, core.CoreAssetID)
	}

	keyID := chain.Keys.Create(&core.Key{PublicKey: pub.Hex()})
	auth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{{IsKey: true, Key: keyID, Weight: 1}}}
	accID := chain.Accounts.Create(&core.Account{Name: "issuer", Owner: auth, Active: auth, MemoKey: keyID})
	balID := chain.AccountBalances.Create(&core.AccountBalance{Owner: accID, Balances: make(map[uint64]int64)})
	chain.AccountBalances.Modify(balID, func(obj objdb.Object) { obj.(*core.AccountBalance).Add(core.CoreAssetID, 1_000_000_000) })
	chain.Accounts.Modify(accID, func(obj objdb.Object) { obj.(*core.Account).Balance = balID })

	exec := vm.NewExecutor(chain, fees.Default(), events.NewEmitter())
	return &testEnv{chain: chain, exec: exec, priv: priv, keyID: keyID, issuer: accID}
}

func (e *testEnv) send(t *testing.T, ops ...core.Operation) error {
	t.Helper()
	tx := core.NewTransaction("test-chain", 9999999999, 0, 0, ops)
	tx.Sign(e.priv)
	return e.exec.ExecuteTx(nil, tx)
}

func exchangeRate() core.Price {
	return core.Price{Base: core.Amount{AssetID: core.CoreAssetID, Value: 1}, Quote: core.Amount{Value: 1}}
}

func TestAssetCreateRejectsDuplicateSymbol(t *testing.T) {
	env := newTestEnv(t)
	payload := AssetCreatePayload{
		Issuer: env.issuer, Symbol: "USD", Precision: 2, MaxSupply: 1_000_000,
		CoreExchangeRate: exchangeRate(),
	}
	if err := env.send(t, core.MustOperation(core.OpAssetCreate, payload)); err != nil {
		t.Fatalf("first asset_create should succeed: %v", err)
	}
	if err := env.send(t, core.MustOperation(core.OpAssetCreate, payload)); err == nil {
		t.Error("expected duplicate symbol to be rejected")
	}
}

func TestAssetCreateMarketIssuedWiresBitassetData(t *testing.T) {
	env := newTestEnv(t)
	payload := AssetCreatePayload{
		Issuer: env.issuer, Symbol: "BITUSD", Precision: 4, MaxSupply: 1_000_000,
		CoreExchangeRate: exchangeRate(), IsMarketIssued: true, BackingAsset: core.CoreAssetID,
	}
	if err := env.send(t, core.MustOperation(core.OpAssetCreate, payload)); err != nil {
		t.Fatalf("asset_create: %v", err)
	}

	asset, ok := env.chain.AssetBySymbol("BITUSD")
	if !ok {
		t.Fatal("BITUSD should exist")
	}
	if !asset.IsMarketIssued() {
		t.Error("expected the market-issued permission bit to be set")
	}
	if _, ok := env.chain.BitassetDatas.Get(asset.BitassetData); !ok {
		t.Error("expected a BitassetData object to be created for a market-issued asset")
	}
}

func TestAssetIssueRejectsNonIssuer(t *testing.T) {
	env := newTestEnv(t)
	createOp := core.MustOperation(core.OpAssetCreate, AssetCreatePayload{
		Issuer: env.issuer, Symbol: "USD", Precision: 2, MaxSupply: 1_000_000, CoreExchangeRate: exchangeRate(),
	})
	if err := env.send(t, createOp); err != nil {
		t.Fatalf("asset_create: %v", err)
	}
	asset, _ := env.chain.AssetBySymbol("USD")

	otherAuth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{{IsKey: true, Key: env.keyID, Weight: 1}}}
	otherID := env.chain.Accounts.Create(&core.Account{Name: "mallory", Owner: otherAuth, Active: otherAuth, MemoKey: env.keyID})

	issueOp := core.MustOperation(core.OpAssetIssue, AssetIssuePayload{
		Issuer: otherID, AssetIssue: core.Amount{AssetID: asset.ObjID(), Value: 100}, IssueTo: env.issuer,
	})
	if err := env.send(t, issueOp); err == nil {
		t.Error("expected asset_issue by a non-issuer to fail")
	}
}

func TestAssetIssueCreditsRecipientAndSupply(t *testing.T) {
	env := newTestEnv(t)
	createOp := core.MustOperation(core.OpAssetCreate, AssetCreatePayload{
		Issuer: env.issuer, Symbol: "USD", Precision: 2, MaxSupply: 1_000_000, CoreExchangeRate: exchangeRate(),
	})
	if err := env.send(t, createOp); err != nil {
		t.Fatalf("asset_create: %v", err)
	}
	asset, _ := env.chain.AssetBySymbol("USD")

	issueOp := core.MustOperation(core.OpAssetIssue, AssetIssuePayload{
		Issuer: env.issuer, AssetIssue: core.Amount{AssetID: asset.ObjID(), Value: 5000}, IssueTo: env.issuer,
	})
	if err := env.send(t, issueOp); err != nil {
		t.Fatalf("asset_issue: %v", err)
	}

	issuerObj, _ := env.chain.Accounts.Get(env.issuer)
	bal := env.chain.BalanceOf(issuerObj.(*core.Account))
	if got := bal.Get(asset.ObjID()); got != 5000 {
		t.Errorf("issued balance: got %d want 5000", got)
	}

	dynObj, _ := env.chain.DynamicAssetDatas.Get(asset.DynamicData)
	if got := dynObj.(*core.DynamicAssetData).CurrentSupply; got != 5000 {
		t.Errorf("current supply: got %d want 5000", got)
	}
}

func TestAssetIssueRejectsExceedingMaxSupply(t *testing.T) {
	env := newTestEnv(t)
	createOp := core.MustOperation(core.OpAssetCreate, AssetCreatePayload{
		Issuer: env.issuer, Symbol: "USD", Precision: 2, MaxSupply: 100, CoreExchangeRate: exchangeRate(),
	})
	if err := env.send(t, createOp); err != nil {
		t.Fatalf("asset_create: %v", err)
	}
	asset, _ := env.chain.AssetBySymbol("USD")

	issueOp := core.MustOperation(core.OpAssetIssue, AssetIssuePayload{
		Issuer: env.issuer, AssetIssue: core.Amount{AssetID: asset.ObjID(), Value: 1000}, IssueTo: env.issuer,
	})
	if err := env.send(t, issueOp); err == nil {
		t.Error("expected issuance beyond max_supply to fail")
	}
}

func TestFundFeePoolDebitsFunderAndCreditsPool(t *testing.T) {
	env := newTestEnv(t)
	createOp := core.MustOperation(core.OpAssetCreate, AssetCreatePayload{
		Issuer: env.issuer, Symbol: "USD", Precision: 2, MaxSupply: 1_000_000, CoreExchangeRate: exchangeRate(),
	})
	if err := env.send(t, createOp); err != nil {
		t.Fatalf("asset_create: %v", err)
	}
	asset, _ := env.chain.AssetBySymbol("USD")

	fundOp := core.MustOperation(core.OpAssetFundFeePool, FundFeePoolPayload{
		Funder: env.issuer, Asset: asset.ObjID(), Amount: 1000,
	})
	if err := env.send(t, fundOp); err != nil {
		t.Fatalf("asset_fund_fee_pool: %v", err)
	}

	dynObj, _ := env.chain.DynamicAssetDatas.Get(asset.DynamicData)
	if got := dynObj.(*core.DynamicAssetData).FeePool; got != 1000 {
		t.Errorf("fee pool: got %d want 1000", got)
	}
}

func TestPublishFeedUpdatesMedianFeed(t *testing.T) {
	env := newTestEnv(t)
	createOp := core.MustOperation(core.OpAssetCreate, AssetCreatePayload{
		Issuer: env.issuer, Symbol: "BITUSD", Precision: 4, MaxSupply: 1_000_000,
		CoreExchangeRate: exchangeRate(), IsMarketIssued: true, BackingAsset: core.CoreAssetID,
	})
	if err := env.send(t, createOp); err != nil {
		t.Fatalf("asset_create: %v", err)
	}
	asset, _ := env.chain.AssetBySymbol("BITUSD")

	feed := core.PriceFeed{
		SettlementPrice:            core.Price{Base: core.Amount{AssetID: core.CoreAssetID, Value: 2}, Quote: core.Amount{AssetID: asset.ObjID(), Value: 1}},
		MaintenanceCollateralRatio: 1750,
	}
	publishOp := core.MustOperation(core.OpAssetPublishFeed, PublishFeedPayload{
		Publisher: env.issuer, Asset: asset.ObjID(), Feed: feed,
	})
	if err := env.send(t, publishOp); err != nil {
		t.Fatalf("asset_publish_feed: %v", err)
	}

	bitObj, _ := env.chain.BitassetDatas.Get(asset.BitassetData)
	bit := bitObj.(*core.BitassetData)
	if bit.MedianFeed.MaintenanceCollateralRatio != 1750 {
		t.Errorf("median feed not updated: got %+v", bit.MedianFeed)
	}
}

func TestGlobalSettleRejectsNonMarketIssuedAsset(t *testing.T) {
	env := newTestEnv(t)
	createOp := core.MustOperation(core.OpAssetCreate, AssetCreatePayload{
		Issuer: env.issuer, Symbol: "USD", Precision: 2, MaxSupply: 1_000_000, CoreExchangeRate: exchangeRate(),
	})
	if err := env.send(t, createOp); err != nil {
		t.Fatalf("asset_create: %v", err)
	}
	asset, _ := env.chain.AssetBySymbol("USD")

	settleOp := core.MustOperation(core.OpAssetGlobalSettle, GlobalSettlePayload{
		Issuer: env.issuer, Asset: asset.ObjID(), SettlePrice: exchangeRate(),
	})
	if err := env.send(t, settleOp); err == nil {
		t.Error("expected global settle on a non-market-issued asset to fail")
	}
}

func TestGlobalSettleMarksBitassetSettled(t *testing.T) {
	env := newTestEnv(t)
	createOp := core.MustOperation(core.OpAssetCreate, AssetCreatePayload{
		Issuer: env.issuer, Symbol: "BITUSD", Precision: 4, MaxSupply: 1_000_000,
		CoreExchangeRate: exchangeRate(), IsMarketIssued: true, BackingAsset: core.CoreAssetID,
	})
	if err := env.send(t, createOp); err != nil {
		t.Fatalf("asset_create: %v", err)
	}
	asset, _ := env.chain.AssetBySymbol("BITUSD")

	settleOp := core.MustOperation(core.OpAssetGlobalSettle, GlobalSettlePayload{
		Issuer: env.issuer, Asset: asset.ObjID(), SettlePrice: exchangeRate(),
	})
	if err := env.send(t, settleOp); err != nil {
		t.Fatalf("asset_global_settle: %v", err)
	}

	bitObj, _ := env.chain.BitassetDatas.Get(asset.BitassetData)
	if !bitObj.(*core.BitassetData).GlobalSettled {
		t.Error("expected GlobalSettled to be true after asset_global_settle")
	}

	if err := env.send(t, settleOp); err == nil {
		t.Error("expected a second global settle to fail")
	}
}
