package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ledgerforge/forgechain/crypto"
)

// BlockHeader contains the block metadata hashed and signed by the
// producing witness (§4.5, §6).
type BlockHeader struct {
	BlockNum         int64  `json:"block_num"`
	PreviousID       string `json:"previous_id"`
	Timestamp        int64  `json:"timestamp"` // unix seconds, multiple of block_interval
	WitnessID        string `json:"witness_id"`
	RevealedSecret   string `json:"revealed_secret"`    // secret preimage, must hash to the prior commitment
	NextSecretHash   string `json:"next_secret_hash"`   // hex sha256 commitment for the following slot
	TransactionRoot  string `json:"transaction_root"`
}

// Block is a signed header plus its ordered transactions.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	ID           string         `json:"id"`
	Signature    string         `json:"signature"`
}

// ComputeID returns the hash of the serialized header. Empty only if
// json.Marshal fails, which does not happen for this struct shape.
func (b *Block) ComputeID() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets ID and the witness signature over it.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.ID = b.ComputeID()
	b.Signature = crypto.Sign(priv, []byte(b.ID))
}

// Verify checks ID consistency and the witness signature.
func (b *Block) Verify(pub crypto.PublicKey) error {
	if computed := b.ComputeID(); b.ID != computed {
		return fmt.Errorf("core: block id mismatch: stored %s computed %s", b.ID, computed)
	}
	return crypto.Verify(pub, []byte(b.ID), b.Signature)
}

// VerifyIntegrity checks header/body consistency independent of the
// witness signature: id and transaction-root correctness.
func (b *Block) VerifyIntegrity() error {
	if computed := b.ComputeID(); b.ID != computed {
		return fmt.Errorf("core: block id mismatch: stored %s computed %s", b.ID, computed)
	}
	if root := ComputeTransactionRoot(b.Transactions); b.Header.TransactionRoot != root {
		return errors.New("core: transaction_root mismatch")
	}
	return nil
}

// ComputeTransactionRoot builds a deterministic root hash over all
// transaction digests. Each digest is length-prefixed to prevent boundary
// ambiguity between different transaction sets hashing to the same bytes.
func ComputeTransactionRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, tx := range txs {
		id := []byte(tx.ID)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(id)))
		buf.Write(lenBuf[:])
		buf.Write(id)
	}
	return crypto.Hash(buf.Bytes())
}

// NewBlock creates an unsigned block for witnessID at timestamp, revealing
// previousSecret (must hash to the witness's committed next_secret) and
// committing nextSecretHash for the following slot.
func NewBlock(blockNum int64, previousID string, timestamp int64, witnessID, previousSecret, nextSecretHash string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			BlockNum:        blockNum,
			PreviousID:      previousID,
			Timestamp:       timestamp,
			WitnessID:       witnessID,
			RevealedSecret:  previousSecret,
			NextSecretHash:  nextSecretHash,
			TransactionRoot: ComputeTransactionRoot(txs),
		},
		Transactions: txs,
	}
}
