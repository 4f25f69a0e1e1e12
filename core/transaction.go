package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ledgerforge/forgechain/crypto"
)

// OpType identifies an operation variant (§4.3's operation catalog).
type OpType string

const (
	OpTransfer               OpType = "transfer"
	OpKeyCreate              OpType = "key_create"
	OpAccountCreate          OpType = "account_create"
	OpAccountUpdate          OpType = "account_update"
	OpAccountWhitelist       OpType = "account_whitelist"
	OpAccountUpgradeToPrime  OpType = "account_upgrade_to_prime"
	OpAssetCreate            OpType = "asset_create"
	OpAssetUpdate            OpType = "asset_update"
	OpAssetIssue             OpType = "asset_issue"
	OpAssetFundFeePool       OpType = "asset_fund_fee_pool"
	OpAssetWhitelist         OpType = "asset_whitelist"
	OpAssetPublishFeed       OpType = "asset_publish_feed"
	OpAssetGlobalSettle      OpType = "asset_global_settle"
	OpDelegateCreate         OpType = "delegate_create"
	OpWitnessCreate          OpType = "witness_create"
	OpWitnessUpdate          OpType = "witness_update"
	OpWitnessClaimPay        OpType = "witness_claim_pay"
	OpLimitOrderCreate       OpType = "limit_order_create"
	OpLimitOrderCancel       OpType = "limit_order_cancel"
	OpShortOrderCreate       OpType = "short_order_create"
	OpShortOrderCancel       OpType = "short_order_cancel"
	OpCallOrderUpdate        OpType = "call_order_update"
	OpForceSettle            OpType = "force_settle"
	OpProposalCreate         OpType = "proposal_create"
	OpProposalUpdate         OpType = "proposal_update"
	OpProposalDelete         OpType = "proposal_delete"
	OpVestingBalanceCreate   OpType = "vesting_balance_create"
	OpVestingBalanceWithdraw OpType = "vesting_balance_withdraw"
	OpWithdrawPermissionCreate OpType = "withdraw_permission_create"
	OpWithdrawPermissionUpdate OpType = "withdraw_permission_update"
	OpWithdrawPermissionClaim  OpType = "withdraw_permission_claim"
	OpWithdrawPermissionDelete OpType = "withdraw_permission_delete"
	OpWorkerCreate           OpType = "worker_create"
)

// Operation is one polymorphic entry in a transaction's operation list.
type Operation struct {
	Type    OpType          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Transaction is the atomic unit of work on the chain: an ordered list of
// operations, bound to a recent block (TaPoS) and signed by one or more
// keys. All operations in a transaction commit together or not at all
// (§4.3).
type Transaction struct {
	ID              string      `json:"id"`
	ChainID         string      `json:"chain_id"`
	Expiration      int64       `json:"expiration"` // unix seconds
	RefBlockNum     uint16      `json:"ref_block_num"`
	RefBlockPrefix  uint32      `json:"ref_block_prefix"`
	Operations      []Operation `json:"operations"`
	Signatures      []string    `json:"signatures"` // hex-encoded ed25519 signatures
}

// signingBody holds the fields covered by the digest (§6: chain-id followed
// by the canonical serialization of all fields except signatures).
type signingBody struct {
	ChainID        string      `json:"chain_id"`
	Expiration     int64       `json:"expiration"`
	RefBlockNum    uint16      `json:"ref_block_num"`
	RefBlockPrefix uint32      `json:"ref_block_prefix"`
	Operations     []Operation `json:"operations"`
}

// Digest returns the deterministic hash of the transaction's signable body.
// Returns an empty string only if json.Marshal fails, which cannot happen
// for this struct shape.
func (tx *Transaction) Digest() string {
	body := signingBody{
		ChainID:        tx.ChainID,
		Expiration:     tx.Expiration,
		RefBlockNum:    tx.RefBlockNum,
		RefBlockPrefix: tx.RefBlockPrefix,
		Operations:     tx.Operations,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign appends a signature over the digest and (re)computes ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	digest := tx.Digest()
	tx.ID = digest
	tx.Signatures = append(tx.Signatures, crypto.Sign(priv, []byte(digest)))
}

// SignedKeys checks every signature in tx.Signatures against every
// candidate key and returns the hex pubkeys that signed — the
// "SignedKeys" set the authority resolver (C4) consumes. candidates is
// every key referenced by any authority touched by the transaction's
// operations; the caller (the vm package) gathers that set so this method
// stays free of any database dependency.
func (tx *Transaction) SignedKeys(candidates []crypto.PublicKey) (map[string]bool, error) {
	if len(tx.Signatures) == 0 {
		return nil, errors.New("core: transaction has no signatures")
	}
	digest := []byte(tx.Digest())
	signed := make(map[string]bool)
	for _, sig := range tx.Signatures {
		for _, pub := range candidates {
			if crypto.Verify(pub, digest, sig) == nil {
				signed[pub.Hex()] = true
				break
			}
		}
	}
	if len(signed) == 0 {
		return nil, fmt.Errorf("core: no signature verified against any candidate key")
	}
	return signed, nil
}

// NewTransaction builds an unsigned transaction bound to a recent block.
func NewTransaction(chainID string, expiration int64, refBlockNum uint16, refBlockPrefix uint32, ops []Operation) *Transaction {
	return &Transaction{
		ChainID:        chainID,
		Expiration:     expiration,
		RefBlockNum:    refBlockNum,
		RefBlockPrefix: refBlockPrefix,
		Operations:     ops,
	}
}

// MustOperation marshals payload into an Operation of the given type; it
// panics on marshal failure since payload is always a concrete struct
// literal at call sites (wallet tx builders), never user input.
func MustOperation(typ OpType, payload any) Operation {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("core: marshal operation payload: %v", err))
	}
	return Operation{Type: typ, Payload: raw}
}
