package tests

import (
	"encoding/json"
	"testing"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/indexer"
	"github.com/ledgerforge/forgechain/internal/testutil"
	"github.com/ledgerforge/forgechain/rpc"
)

// newTestRPCHandler builds an RPC handler backed by an in-memory chain with
// one account (with a CORE balance) and no blocks yet.
func newTestRPCHandler(t *testing.T) (*rpc.Handler, *core.Chain, objdb.ID) {
	t.Helper()
	db := testutil.NewMemDB()
	blockStore := testutil.NewMemBlockStore()
	bc := core.NewBlockchain(blockStore)
	mp := core.NewMempool()
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	chain := core.NewChain()

	keyID := chain.Keys.Create(&core.Key{PublicKey: "deadbeef"})
	auth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{{IsKey: true, Key: keyID, Weight: 1}}}
	accID := chain.Accounts.Create(&core.Account{Name: "alice", Owner: auth, Active: auth, MemoKey: keyID})
	balID := chain.AccountBalances.Create(&core.AccountBalance{Owner: accID, Balances: make(map[uint64]int64)})
	chain.Accounts.Modify(accID, func(obj objdb.Object) { obj.(*core.Account).Balance = balID })

	return rpc.NewHandler(bc, mp, chain, idx, "test-chain"), chain, accID
}

func dispatch(handler *rpc.Handler, method string, params any) rpc.Response {
	raw, _ := json.Marshal(params)
	return handler.Dispatch(rpc.Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  raw,
	})
}

func TestRPCGetBlockHeight(t *testing.T) {
	handler, _, _ := newTestRPCHandler(t)
	resp := dispatch(handler, "getBlockHeight", struct{}{})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	var height int64
	switch v := resp.Result.(type) {
	case int64:
		height = v
	case float64:
		height = int64(v)
	default:
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if height != 0 {
		t.Errorf("height: got %d want 0", height)
	}
}

func TestRPCGetBalance(t *testing.T) {
	handler, _, accID := newTestRPCHandler(t)
	resp := dispatch(handler, "getBalance", map[string]string{"account": accID.String()})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	if resp.Result == nil {
		t.Fatal("expected a balance object")
	}
}

func TestRPCGetBalanceUnknownAccount(t *testing.T) {
	handler, _, _ := newTestRPCHandler(t)
	unknown := objdb.New(objdb.SpaceProtocol, objdb.TypeAccount, 9999)
	resp := dispatch(handler, "getBalance", map[string]string{"account": unknown.String()})
	if resp.Error == nil {
		t.Error("expected error for unknown account")
	}
}

func TestRPCGetAccountByName(t *testing.T) {
	handler, _, _ := newTestRPCHandler(t)
	resp := dispatch(handler, "getAccount", map[string]string{"name": "alice"})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	if resp.Result == nil {
		t.Fatal("expected an account object")
	}
}

func TestRPCGetMempoolSize(t *testing.T) {
	handler, _, _ := newTestRPCHandler(t)
	resp := dispatch(handler, "getMempoolSize", struct{}{})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	size, _ := resp.Result.(float64)
	if int(size) != 0 {
		t.Errorf("mempool size: got %d want 0", int(size))
	}
}

func TestRPCMethodNotFound(t *testing.T) {
	handler, _, _ := newTestRPCHandler(t)
	resp := dispatch(handler, "nonExistentMethod", struct{}{})
	if resp.Error == nil {
		t.Error("expected error for unknown method")
	}
	if resp.Error.Code != rpc.CodeMethodNotFound {
		t.Errorf("error code: got %d want %d", resp.Error.Code, rpc.CodeMethodNotFound)
	}
}

func TestRPCSendTxWrongChainID(t *testing.T) {
	handler, _, _ := newTestRPCHandler(t)
	tx := core.Transaction{ChainID: "other-chain", Expiration: 9999999999}
	resp := dispatch(handler, "sendTx", tx)
	if resp.Error == nil {
		t.Error("expected error for mismatched chain id")
	}
}
