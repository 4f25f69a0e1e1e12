package maintenance

import (
	"testing"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
)

func newMaintenanceChain(t *testing.T) *core.Chain {
	t.Helper()
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
	chain.GlobalProperties.Create(&core.GlobalProperty{MaintenanceIntervalSec: 3600, RandomSeed: "seed"})
	return chain
}

func newVoter(t *testing.T, chain *core.Chain, stake int64, votes []objdb.ID) objdb.ID {
	t.Helper()
	accID := chain.Accounts.Create(&core.Account{Votes: votes})
	balID := chain.AccountBalances.Create(&core.AccountBalance{Owner: accID, Balances: make(map[uint64]int64)})
	chain.AccountBalances.Modify(balID, func(obj objdb.Object) { obj.(*core.AccountBalance).Add(core.CoreAssetID, stake) })
	chain.Accounts.Modify(accID, func(obj objdb.Object) { obj.(*core.Account).Balance = balID })
	return accID
}

func TestRunTalliesVotesIntoActiveWitnesses(t *testing.T) {
	chain := newMaintenanceChain(t)
	w1 := chain.Witnesses.Create(&core.Witness{})
	w2 := chain.Witnesses.Create(&core.Witness{})

	newVoter(t, chain, 100, []objdb.ID{w1})
	newVoter(t, chain, 50, []objdb.ID{w2})
	newVoter(t, chain, 25, []objdb.ID{w2})

	r := New(chain, nil)
	if err := r.Run(1000); err != nil {
		t.Fatalf("Run: %v", err)
	}

	global := chain.Global()
	if len(global.ActiveWitnesses) != 2 {
		t.Fatalf("expected 2 active witnesses, got %d", len(global.ActiveWitnesses))
	}
	if global.ActiveWitnesses[0] != w1 {
		t.Errorf("w1 has more votes (100 vs 75), expected it ranked first, got %s", global.ActiveWitnesses[0])
	}

	w1Obj, _ := chain.Witnesses.Get(w1)
	if got := w1Obj.(*core.Witness).TotalVotes; got != 100 {
		t.Errorf("w1 TotalVotes: got %d want 100", got)
	}
	w2Obj, _ := chain.Witnesses.Get(w2)
	if got := w2Obj.(*core.Witness).TotalVotes; got != 75 {
		t.Errorf("w2 TotalVotes: got %d want 75", got)
	}
}

func TestRunCapsActiveWitnessesAtMax(t *testing.T) {
	chain := newMaintenanceChain(t)
	var ids []objdb.ID
	for i := 0; i < maxActiveWitnesses+5; i++ {
		id := chain.Witnesses.Create(&core.Witness{})
		ids = append(ids, id)
		newVoter(t, chain, int64(maxActiveWitnesses+5-i), []objdb.ID{id})
	}

	r := New(chain, nil)
	if err := r.Run(1000); err != nil {
		t.Fatalf("Run: %v", err)
	}
	global := chain.Global()
	if len(global.ActiveWitnesses) != maxActiveWitnesses {
		t.Errorf("active witnesses: got %d want %d", len(global.ActiveWitnesses), maxActiveWitnesses)
	}
	// Highest-staked witness (ids[0], most votes) must have made the cut.
	found := false
	for _, id := range global.ActiveWitnesses {
		if id == ids[0] {
			found = true
		}
	}
	if !found {
		t.Error("highest-voted witness should be in the active set")
	}
}

func TestRunAccruesWitnessPayAndMintsSupply(t *testing.T) {
	chain := newMaintenanceChain(t)
	w1 := chain.Witnesses.Create(&core.Witness{})
	newVoter(t, chain, 10, []objdb.ID{w1})

	r := New(chain, nil)
	if err := r.Run(1000); err != nil {
		t.Fatalf("Run: %v", err)
	}

	w1Obj, _ := chain.Witnesses.Get(w1)
	if got := w1Obj.(*core.Witness).PayPendingBalance; got != witnessDailyPay {
		t.Errorf("PayPendingBalance: got %d want %d", got, witnessDailyPay)
	}

	assetObj, _ := chain.Assets.Get(core.CoreAssetID)
	dynObj, _ := chain.DynamicAssetDatas.Get(assetObj.(*core.Asset).DynamicData)
	if got := dynObj.(*core.DynamicAssetData).CurrentSupply; got != witnessDailyPay {
		t.Errorf("CurrentSupply after mint: got %d want %d", got, witnessDailyPay)
	}
}

func TestRunAdvancesNextMaintenanceAndRandomSeed(t *testing.T) {
	chain := newMaintenanceChain(t)
	before := chain.Global().RandomSeed

	r := New(chain, nil)
	if err := r.Run(5000); err != nil {
		t.Fatalf("Run: %v", err)
	}

	global := chain.Global()
	if global.NextMaintenance != 5000+3600 {
		t.Errorf("NextMaintenance: got %d want %d", global.NextMaintenance, 5000+3600)
	}
	if global.RandomSeed == before {
		t.Error("random seed should rotate every maintenance pass")
	}
}

func TestRunExpiresStaleProposals(t *testing.T) {
	chain := newMaintenanceChain(t)
	expiredID := chain.Proposals.Create(&core.Proposal{Expiration: 100})
	liveID := chain.Proposals.Create(&core.Proposal{Expiration: 10000})

	r := New(chain, nil)
	if err := r.Run(500); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := chain.Proposals.Get(expiredID); ok {
		t.Error("expired proposal should have been removed")
	}
	if _, ok := chain.Proposals.Get(liveID); !ok {
		t.Error("unexpired proposal should remain")
	}
}

func TestRunPaysApprovedRefundWorker(t *testing.T) {
	chain := newMaintenanceChain(t)
	ownerID := newVoter(t, chain, 0, nil)

	// Approval quorum is 1/10th of current supply (0 initially), so any
	// positive TotalVotesFor clears it trivially at genesis-like supply 0.
	chain.Workers.Create(&core.Worker{
		Owner: ownerID, DailyPay: 42, WorkBegin: 0, WorkEnd: 9999,
		Kind: core.RefundWorker, TotalVotesFor: 1,
	})

	r := New(chain, nil)
	if err := r.Run(500); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ownerObj, _ := chain.Accounts.Get(ownerID)
	bal := chain.BalanceOf(ownerObj.(*core.Account))
	if got := bal.Get(core.CoreAssetID); got != 42 {
		t.Errorf("refund worker payout: got %d want 42", got)
	}
}

func TestRunSkipsWorkerOutsideItsActiveWindow(t *testing.T) {
	chain := newMaintenanceChain(t)
	ownerID := newVoter(t, chain, 0, nil)
	chain.Workers.Create(&core.Worker{
		Owner: ownerID, DailyPay: 42, WorkBegin: 10000, WorkEnd: 20000,
		Kind: core.RefundWorker, TotalVotesFor: 1,
	})

	r := New(chain, nil)
	if err := r.Run(500); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ownerObj, _ := chain.Accounts.Get(ownerID)
	bal := chain.BalanceOf(ownerObj.(*core.Account))
	if got := bal.Get(core.CoreAssetID); got != 0 {
		t.Errorf("worker outside its window should not be paid, got %d", got)
	}
}

func TestRunVestingWorkerCreatesVestingBalance(t *testing.T) {
	chain := newMaintenanceChain(t)
	ownerID := newVoter(t, chain, 0, nil)
	chain.Workers.Create(&core.Worker{
		Owner: ownerID, DailyPay: 7, WorkBegin: 0, WorkEnd: 9999,
		Kind: core.VestingWorker, TotalVotesFor: 1,
		VestingSpec: core.VestingBalance{DurationSec: 86400},
	})

	r := New(chain, nil)
	if err := r.Run(500); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var found *core.VestingBalance
	chain.VestingBalances.Each(func(obj objdb.Object) { found = obj.(*core.VestingBalance) })
	if found == nil {
		t.Fatal("expected a vesting balance to be created for the vesting worker")
	}
	if found.Owner != ownerID || found.Balance != 7 || found.AssetID != core.CoreAssetID {
		t.Errorf("unexpected vesting balance: %+v", found)
	}
}
