package tests

import (
	"testing"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/fees"
	"github.com/ledgerforge/forgechain/vm"
	"github.com/ledgerforge/forgechain/wallet"

	_ "github.com/ledgerforge/forgechain/vm/modules/account"
	_ "github.com/ledgerforge/forgechain/vm/modules/assetops"
)

// newTestChain builds a chain with the core asset and one funded account per
// wallet, wired with an Active authority that wallet can sign for.
func newTestChain(t *testing.T, wallets ...*wallet.Wallet) (*core.Chain, map[*wallet.Wallet]objdb.ID) {
	t.Helper()
	chain := core.NewChain()

	dynID := chain.DynamicAssetDatas.Create(&core.DynamicAssetData{})
	coreID := chain.Assets.Create(&core.Asset{
		Symbol:           "CORE",
		Precision:        5,
		MaxSupply:        1 << 62,
		CoreExchangeRate: core.Price{Base: core.Amount{Value: 1}, Quote: core.Amount{Value: 1}},
		DynamicData:      dynID,
	})
	if coreID != core.CoreAssetID {
		t.Fatalf("core asset id mismatch: got %s want %s", coreID, core.CoreAssetID)
	}

	ids := make(map[*wallet.Wallet]objdb.ID, len(wallets))
	for i, w := range wallets {
		keyID := chain.Keys.Create(&core.Key{PublicKey: w.PubKey()})
		auth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{{IsKey: true, Key: keyID, Weight: 1}}}
		accID := chain.Accounts.Create(&core.Account{Name: wName(i), Owner: auth, Active: auth, MemoKey: keyID})
		balID := chain.AccountBalances.Create(&core.AccountBalance{Owner: accID, Balances: make(map[uint64]int64)})
		chain.Accounts.Modify(accID, func(obj objdb.Object) { obj.(*core.Account).Balance = balID })
		ids[w] = accID
	}
	return chain, ids
}

func wName(i int) string {
	names := []string{"alice", "bob", "carol", "dave"}
	if i < len(names) {
		return names[i]
	}
	return "acct"
}

func fund(chain *core.Chain, account objdb.ID, amount int64) {
	obj, _ := chain.Accounts.Get(account)
	acc := obj.(*core.Account)
	chain.AccountBalances.Modify(acc.Balance, func(o objdb.Object) {
		o.(*core.AccountBalance).Add(core.CoreAssetID, amount)
	})
}

func TestTransferMovesBalance(t *testing.T) {
	sender, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	receiver, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	chain, ids := newTestChain(t, sender, receiver)
	fund(chain, ids[sender], 1000)

	exec := vm.NewExecutor(chain, fees.Default(), events.NewEmitter())
	block := core.NewBlock(1, "prev", 1000, "witness", "", "", nil)

	tx, err := sender.Transfer("test-chain", 9999999999, 0, 0, ids[sender], ids[receiver], core.Amount{AssetID: core.CoreAssetID, Value: 300}, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("ExecuteTx: %v", err)
	}

	senderBal := chain.BalanceOf(mustAccount(chain, ids[sender]))
	receiverBal := chain.BalanceOf(mustAccount(chain, ids[receiver]))

	want := int64(1000 - 300 - fees.Default().Base[core.OpTransfer])
	if got := senderBal.Get(core.CoreAssetID); got != want {
		t.Errorf("sender balance: got %d want %d", got, want)
	}
	if got := receiverBal.Get(core.CoreAssetID); got != 300 {
		t.Errorf("receiver balance: got %d want 300", got)
	}
}

func TestTransferRejectsUnsignedAccount(t *testing.T) {
	sender, _ := wallet.Generate()
	receiver, _ := wallet.Generate()
	impostor, _ := wallet.Generate()
	chain, ids := newTestChain(t, sender, receiver)
	fund(chain, ids[sender], 1000)

	exec := vm.NewExecutor(chain, fees.Default(), events.NewEmitter())
	block := core.NewBlock(1, "prev", 1000, "witness", "", "", nil)

	// Build the operation by hand so it claims to move sender's funds, then
	// sign with impostor's key instead of sender's.
	op, err := wallet.Op(core.OpTransfer, struct {
		From   objdb.ID    `json:"from"`
		To     objdb.ID    `json:"to"`
		Amount core.Amount `json:"amount"`
	}{From: ids[sender], To: ids[receiver], Amount: core.Amount{AssetID: core.CoreAssetID, Value: 300}})
	if err != nil {
		t.Fatal(err)
	}
	tx := impostor.NewTx("test-chain", 9999999999, 0, 0, []core.Operation{op})

	if err := exec.ExecuteTx(block, tx); err == nil {
		t.Error("expected authority failure when signer does not control the sending account")
	}
}

func TestTransactionExpired(t *testing.T) {
	sender, _ := wallet.Generate()
	receiver, _ := wallet.Generate()
	chain, ids := newTestChain(t, sender, receiver)
	fund(chain, ids[sender], 1000)

	exec := vm.NewExecutor(chain, fees.Default(), events.NewEmitter())
	block := core.NewBlock(1, "prev", 1000, "witness", "", "", nil)

	tx, err := sender.Transfer("test-chain", 1, 0, 0, ids[sender], ids[receiver], core.Amount{AssetID: core.CoreAssetID, Value: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := exec.ExecuteTx(block, tx); err == nil {
		t.Error("expired transaction should fail execution")
	}
}

func mustAccount(chain *core.Chain, id objdb.ID) *core.Account {
	obj, ok := chain.Accounts.Get(id)
	if !ok {
		panic("account not found: " + id.String())
	}
	return obj.(*core.Account)
}
