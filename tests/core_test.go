package tests

import (
	"testing"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/crypto"
	"github.com/ledgerforge/forgechain/wallet"
)

func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(pub.Hex()) != 64 {
		t.Errorf("pubkey hex length: got %d want 64", len(pub.Hex()))
	}
	addr := pub.Address()
	if len(addr) != 40 {
		t.Errorf("address length: got %d want 40", len(addr))
	}
	if priv.Public().Hex() != pub.Hex() {
		t.Error("derived public key does not match")
	}
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello forgechain")
	sig := crypto.Sign(priv, data)
	if err := crypto.Verify(pub, data, sig); err != nil {
		t.Errorf("valid signature failed: %v", err)
	}
	if err := crypto.Verify(pub, []byte("tampered"), sig); err == nil {
		t.Error("tampered data should fail verification")
	}
}

func TestObjIDRoundtrip(t *testing.T) {
	id := objdb.New(objdb.SpaceProtocol, objdb.TypeAccount, 42)
	parsed, err := objdb.Parse(id.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != id {
		t.Errorf("roundtrip mismatch: got %s want %s", parsed, id)
	}
}

func TestTransactionSignVerify(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	from := objdb.New(objdb.SpaceProtocol, objdb.TypeAccount, 1)
	to := objdb.New(objdb.SpaceProtocol, objdb.TypeAccount, 2)

	tx, err := w.Transfer("test-chain", 9999999999, 0, 0, from, to, core.Amount{AssetID: core.CoreAssetID, Value: 100}, "")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tx.ID == "" {
		t.Error("tx ID should be set after signing")
	}
	if len(tx.Signatures) != 1 {
		t.Fatalf("signatures: got %d want 1", len(tx.Signatures))
	}
	signed, err := tx.SignedKeys([]crypto.PublicKey{w.PrivKey().Public()})
	if err != nil {
		t.Fatalf("SignedKeys: %v", err)
	}
	if !signed[w.PubKey()] {
		t.Error("wallet's own key should appear in signed set")
	}

	// Tamper with the digest-covered body: ID should no longer match what
	// the signature was computed over.
	tx.Expiration = 1
	if digest := tx.Digest(); digest == tx.ID {
		t.Error("tampered transaction should produce a different digest")
	}
}

func TestBlockSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	block := core.NewBlock(1, "prev", 1000, pub.Hex(), "", "", nil)
	block.Sign(priv)

	if block.ID == "" {
		t.Error("id should be set after signing")
	}
	if block.ComputeID() != block.ID {
		t.Error("ComputeID() does not match stored id")
	}
	if err := block.Verify(pub); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
	if err := block.VerifyIntegrity(); err != nil {
		t.Errorf("VerifyIntegrity failed: %v", err)
	}
}

func TestMempool(t *testing.T) {
	mp := core.NewMempool()
	w, _ := wallet.Generate()
	from := objdb.New(objdb.SpaceProtocol, objdb.TypeAccount, 1)
	to := objdb.New(objdb.SpaceProtocol, objdb.TypeAccount, 2)

	tx, err := w.Transfer("test-chain", 9999999999, 0, 0, from, to, core.Amount{AssetID: core.CoreAssetID, Value: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := mp.Add(tx, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if mp.Size() != 1 {
		t.Errorf("size: got %d want 1", mp.Size())
	}
	if err := mp.Add(tx, 0); err == nil {
		t.Error("adding duplicate tx should fail")
	}

	pending := mp.Pending(10)
	if len(pending) != 1 {
		t.Errorf("pending: got %d want 1", len(pending))
	}

	mp.Remove([]string{tx.ID})
	if mp.Size() != 0 {
		t.Error("pool should be empty after remove")
	}
}

func TestMempoolRejectsExpired(t *testing.T) {
	mp := core.NewMempool()
	w, _ := wallet.Generate()
	from := objdb.New(objdb.SpaceProtocol, objdb.TypeAccount, 1)
	to := objdb.New(objdb.SpaceProtocol, objdb.TypeAccount, 2)

	tx, err := w.Transfer("test-chain", 100, 0, 0, from, to, core.Amount{AssetID: core.CoreAssetID, Value: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := mp.Add(tx, 200); err == nil {
		t.Error("expired transaction should be rejected")
	}
}
