package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as a memo/voting key).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// Op builds a core.Operation from a typed payload, for use with NewTx.
func Op(typ core.OpType, payload any) (core.Operation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return core.Operation{}, fmt.Errorf("wallet: encode %s payload: %w", typ, err)
	}
	return core.Operation{Type: typ, Payload: data}, nil
}

// NewTx builds and signs a transaction carrying ops. refBlockNum/refBlockPrefix
// bind the transaction to a recent block (TaPoS) and must come from the head
// block the caller last observed; expiration is a unix-second deadline.
func (w *Wallet) NewTx(chainID string, expiration int64, refBlockNum uint16, refBlockPrefix uint32, ops []core.Operation) *core.Transaction {
	tx := core.NewTransaction(chainID, expiration, refBlockNum, refBlockPrefix, ops)
	tx.Sign(w.priv)
	return tx
}

// Transfer builds and signs a single-operation transfer transaction.
func (w *Wallet) Transfer(chainID string, expiration int64, refBlockNum uint16, refBlockPrefix uint32, from, to objdb.ID, amount core.Amount, memo string) (*core.Transaction, error) {
	op, err := Op(core.OpTransfer, transferPayload{From: from, To: to, Amount: amount, Memo: memo})
	if err != nil {
		return nil, err
	}
	return w.NewTx(chainID, expiration, refBlockNum, refBlockPrefix, []core.Operation{op}), nil
}

// transferPayload mirrors vm/modules/account.TransferPayload; duplicated here
// rather than imported to keep wallet free of a dependency on the vm modules
// (which in turn depend on the full chain/executor stack a CLI wallet has no
// need to pull in).
type transferPayload struct {
	From   objdb.ID    `json:"from"`
	To     objdb.ID    `json:"to"`
	Amount core.Amount `json:"amount"`
	Memo   string      `json:"memo,omitempty"`
}
