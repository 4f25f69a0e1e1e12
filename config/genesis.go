package config

import (
	"fmt"
	"strings"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/crypto"
)

// GenesisHash is a canonical all-zeros previous id for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// IsGenesisHash returns true if the id is the canonical genesis prev-id.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}

// BuildGenesisChain populates an empty core.Chain with the core asset,
// every genesis account and its balance, every genesis witness, and the
// initial GlobalProperty, then returns the unsigned genesis block (C12).
// Block 0 carries no witness signature: there is no prior secret
// commitment for any witness to reveal, so the schedule starts clean at
// block 1.
func BuildGenesisChain(cfg *Config, chain *core.Chain, timestamp int64) (*core.Block, error) {
	if len(cfg.Genesis.Accounts) == 0 {
		return nil, fmt.Errorf("config: genesis.accounts must not be empty")
	}

	accountIDs := make(map[string]objdb.ID, len(cfg.Genesis.Accounts))
	for _, ga := range cfg.Genesis.Accounts {
		if _, err := crypto.PubKeyFromHex(ga.PubKey); err != nil {
			return nil, fmt.Errorf("genesis account %q: invalid pub_key: %w", ga.Name, err)
		}
		keyID := chain.Keys.Create(&core.Key{PublicKey: ga.PubKey})
		auth := core.Authority{WeightThreshold: 1, Auths: []core.AuthEntry{{IsKey: true, Key: keyID, Weight: 1}}}

		accID := chain.Accounts.Create(&core.Account{
			Name:    ga.Name,
			Owner:   auth,
			Active:  auth,
			MemoKey: keyID,
		})
		balID := chain.AccountBalances.Create(&core.AccountBalance{Owner: accID, Balances: make(map[uint64]int64)})
		chain.Accounts.Modify(accID, func(obj objdb.Object) {
			obj.(*core.Account).Balance = balID
		})
		chain.AccountBalances.Modify(balID, func(obj objdb.Object) {
			obj.(*core.AccountBalance).Add(core.CoreAssetID, ga.Balance)
		})
		accountIDs[ga.Name] = accID
	}

	// The first genesis account is the de-facto issuer of the core asset,
	// same role graphene-derived chains give the reserved committee account.
	issuer := accountIDs[cfg.Genesis.Accounts[0].Name]
	var totalSupply int64
	for _, ga := range cfg.Genesis.Accounts {
		totalSupply += ga.Balance
	}
	dynID := chain.DynamicAssetDatas.Create(&core.DynamicAssetData{CurrentSupply: totalSupply})
	coreAssetID := chain.Assets.Create(&core.Asset{
		Symbol:           "CORE",
		Issuer:           issuer,
		Precision:        5,
		MaxSupply:        1 << 62,
		CoreExchangeRate: core.Price{Base: core.Amount{Value: 1}, Quote: core.Amount{Value: 1}},
		DynamicData:      dynID,
	})
	if coreAssetID != core.CoreAssetID {
		return nil, fmt.Errorf("config: core asset id mismatch: got %s want %s (objdb index ordering changed)", coreAssetID, core.CoreAssetID)
	}
	chain.DynamicAssetDatas.Modify(dynID, func(obj objdb.Object) {
		obj.(*core.DynamicAssetData).AssetID = coreAssetID
	})

	witnessIDs := make([]objdb.ID, 0, len(cfg.Genesis.Witnesses))
	for _, gw := range cfg.Genesis.Witnesses {
		accID, ok := accountIDs[gw.AccountName]
		if !ok {
			return nil, fmt.Errorf("genesis witness: account %q not found among genesis.accounts", gw.AccountName)
		}
		if _, err := crypto.PubKeyFromHex(gw.SigningKey); err != nil {
			return nil, fmt.Errorf("genesis witness %q: invalid signing_key: %w", gw.AccountName, err)
		}
		keyID := chain.Keys.Create(&core.Key{PublicKey: gw.SigningKey})
		witnessID := chain.Witnesses.Create(&core.Witness{
			Account:        accID,
			SigningKey:     keyID,
			NextSecretHash: gw.InitialSecretHash,
		})
		witnessIDs = append(witnessIDs, witnessID)
	}

	blockInterval := cfg.Genesis.BlockIntervalSec
	if blockInterval == 0 {
		blockInterval = 3
	}
	maintenanceInterval := cfg.Genesis.MaintenanceIntervalSec
	if maintenanceInterval == 0 {
		maintenanceInterval = 3600
	}
	chain.GlobalProperties.Create(&core.GlobalProperty{
		BlockIntervalSec:               blockInterval,
		MaintenanceIntervalSec:         maintenanceInterval,
		MaxBlockSize:                   2 * 1024 * 1024,
		MaxTransactionSize:             64 * 1024,
		MaxTransactionExpirationSec:    86400,
		MaxUndoHistory:                 10000,
		MaxFeedProducers:               11,
		MaxMarketFeePercent:            10000,
		MaxSigCheckDepth:               2,
		GenesisProposalReviewPeriodSec: 86400 * 2,
		ActiveWitnesses:                witnessIDs,
		ActiveDelegates:                nil,
		RandomSeed:                     crypto.Hash([]byte(cfg.Genesis.ChainID)),
		NextMaintenance:                timestamp + int64(maintenanceInterval),
	})

	block := core.NewBlock(0, GenesisHash, timestamp, "", "", crypto.Hash([]byte(cfg.Genesis.ChainID)), nil)
	block.ID = block.ComputeID()
	return block, nil
}
