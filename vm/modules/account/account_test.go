package account

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
	account objdb.ID
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
	accID := chain.Accounts.Create(&core.Account{Name: "alice", Owner: auth, Active: auth, MemoKey: keyID})
	balID := chain.AccountBalances.Create(&core.AccountBalance{Owner: accID, Balances: make(map[uint64]int64)})
	chain.AccountBalances.Modify(balID, func(obj objdb.Object) { obj.(*core.AccountBalance).Add(core.CoreAssetID, 1_000_000_000) })
	chain.Accounts.Modify(accID, func(obj objdb.Object) { obj.(*core.Account).Balance = balID })

	exec := vm.NewExecutor(chain, fees.Default(), events.NewEmitter())
	return &testEnv{chain: chain, exec: exec, priv: priv, keyID: keyID, account: accID}
}

func (e *testEnv) send(t *testing.T, ops ...core.Operation) error {
	t.Helper()
	tx := core.NewTransaction("test-chain", 9999999999, 0, 0, ops)
	tx.Sign(e.priv)
	return e.exec.ExecuteTx(nil, tx)
}

func TestKeyCreateRejectsDuplicatePublicKey(t *testing.T) {
	env := newTestEnv(t)
	_, pub, _ := crypto.GenerateKeyPair()

	op := core.MustOperation(core.OpKeyCreate, KeyCreatePayload{Creator: env.account, PublicKey: pub.Hex()})
	if err := env.send(t, op); err != nil {
		t.Fatalf("first key_create should succeed: %v", err)
	}
	if err := env.send(t, op); err == nil {
		t.Error("expected duplicate public key to be rejected")
	}
}

func TestAccountCreateRejectsDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	payload := AccountCreatePayload{
		Name: "bob", Owner: core.Authority{WeightThreshold: 1}, Active: core.Authority{WeightThreshold: 1},
		MemoKey: env.keyID, Registrar: env.account,
	}
	op := core.MustOperation(core.OpAccountCreate, payload)
	if err := env.send(t, op); err != nil {
		t.Fatalf("first account_create should succeed: %v", err)
	}

	dup := core.MustOperation(core.OpAccountCreate, payload)
	if err := env.send(t, dup); err == nil {
		t.Error("expected duplicate account name to be rejected")
	}

	if _, ok := env.chain.AccountByName("bob"); !ok {
		t.Error("account 'bob' should exist after successful creation")
	}
}

func TestAccountUpgradeToPrimeDebitsFeeAndSetsFlag(t *testing.T) {
	env := newTestEnv(t)
	op := core.MustOperation(core.OpAccountUpgradeToPrime, AccountUpgradePayload{Account: env.account})
	if err := env.send(t, op); err != nil {
		t.Fatalf("account_upgrade_to_prime: %v", err)
	}

	obj, _ := env.chain.Accounts.Get(env.account)
	acc := obj.(*core.Account)
	if !acc.Prime {
		t.Error("account should be marked prime after upgrade")
	}

	bal := env.chain.BalanceOf(acc)
	if bal.Get(core.CoreAssetID) >= 1_000_000_000 {
		t.Error("prime upgrade should have debited the core balance")
	}
}

func TestAccountUpgradeToPrimeRejectsSecondUpgrade(t *testing.T) {
	env := newTestEnv(t)
	op := core.MustOperation(core.OpAccountUpgradeToPrime, AccountUpgradePayload{Account: env.account})
	if err := env.send(t, op); err != nil {
		t.Fatalf("first upgrade: %v", err)
	}
	if err := env.send(t, op); err == nil {
		t.Error("expected a second prime upgrade to fail")
	}
}

func TestTransferMovesBalanceBetweenAccounts(t *testing.T) {
	env := newTestEnv(t)
	bobAuth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{{IsKey: true, Key: env.keyID, Weight: 1}}}
	bobID := env.chain.Accounts.Create(&core.Account{Name: "bob", Owner: bobAuth, Active: bobAuth, MemoKey: env.keyID})
	bobBalID := env.chain.AccountBalances.Create(&core.AccountBalance{Owner: bobID, Balances: make(map[uint64]int64)})
	env.chain.Accounts.Modify(bobID, func(obj objdb.Object) { obj.(*core.Account).Balance = bobBalID })

	op := core.MustOperation(core.OpTransfer, TransferPayload{
		From: env.account, To: bobID, Amount: core.Amount{AssetID: core.CoreAssetID, Value: 1000},
	})
	if err := env.send(t, op); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	bobObj, _ := env.chain.Accounts.Get(bobID)
	bobBal := env.chain.BalanceOf(bobObj.(*core.Account))
	if got := bobBal.Get(core.CoreAssetID); got != 1000 {
		t.Errorf("bob's balance: got %d want 1000", got)
	}
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	bobAuth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{{IsKey: true, Key: env.keyID, Weight: 1}}}
	bobID := env.chain.Accounts.Create(&core.Account{Name: "bob", Owner: bobAuth, Active: bobAuth, MemoKey: env.keyID})
	bobBalID := env.chain.AccountBalances.Create(&core.AccountBalance{Owner: bobID, Balances: make(map[uint64]int64)})
	env.chain.Accounts.Modify(bobID, func(obj objdb.Object) { obj.(*core.Account).Balance = bobBalID })

	op := core.MustOperation(core.OpTransfer, TransferPayload{
		From: env.account, To: bobID, Amount: core.Amount{AssetID: core.CoreAssetID, Value: 10_000_000_000},
	})
	if err := env.send(t, op); err == nil {
		t.Error("expected transfer exceeding balance to fail")
	}
}

func TestAccountUpdateChangesMemoKey(t *testing.T) {
	env := newTestEnv(t)
	_, newPub, _ := crypto.GenerateKeyPair()
	newKeyID := env.chain.Keys.Create(&core.Key{PublicKey: newPub.Hex()})

	op := core.MustOperation(core.OpAccountUpdate, AccountUpdatePayload{
		Account: env.account, NewMemoKey: &newKeyID,
	})
	if err := env.send(t, op); err != nil {
		t.Fatalf("account_update: %v", err)
	}

	obj, _ := env.chain.Accounts.Get(env.account)
	if obj.(*core.Account).MemoKey != newKeyID {
		t.Error("memo key should have been updated")
	}
}
