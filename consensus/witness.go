// Package consensus implements delegated-proof-of-stake block production
// (C8): deterministic witness scheduling over the active set maintained by
// C10, chained secret commit/reveal randomness, and block
// production/validation.
package consensus

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerforge/forgechain/config"
	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/crypto"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/market"
	"github.com/ledgerforge/forgechain/vm/modules/governance"
	"github.com/ledgerforge/forgechain/vm"
)

// packageLogger is the structured logger for the per-transaction block
// production loop, which runs every witness slot over every mempool
// candidate and is too high-volume for the plain log.Printf idiom used
// elsewhere. SetLogger overrides it; the default is a no-op.
var packageLogger = zap.NewNop()

// SetLogger installs the *zap.Logger used by block production and mempool
// rejection logging.
func SetLogger(l *zap.Logger) { packageLogger = l }

// Witness is the local block-production engine for one witness identity.
type Witness struct {
	cfg       *config.Config
	bc        *core.Blockchain
	chain     *core.Chain
	mempool   *core.Mempool
	exec      *vm.Executor
	market    *market.Engine
	emitter   *events.Emitter
	witnessID objdb.ID
	privKey   crypto.PrivateKey
	pubKey    crypto.PublicKey
	nextSecret string // preimage to reveal next round, set by Run/ProduceBlock
}

// New creates a block-production engine for the witness object witnessID,
// signing with privKey (must match the witness's registered SigningKey).
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	chain *core.Chain,
	mempool *core.Mempool,
	exec *vm.Executor,
	mkt *market.Engine,
	emitter *events.Emitter,
	witnessID objdb.ID,
	privKey crypto.PrivateKey,
) *Witness {
	return &Witness{
		cfg: cfg, bc: bc, chain: chain, mempool: mempool, exec: exec,
		market: mkt, emitter: emitter, witnessID: witnessID,
		privKey: privKey, pubKey: privKey.Public(),
	}
}

// scheduledWitness returns the active witness scheduled for slot, a
// deterministic rotation over GlobalProperty.ActiveWitnesses seeded by
// RandomSeed so the order is unpredictable ahead of the seed's reveal but
// reproducible by every node once it is known (§4.5).
func scheduledWitness(global *core.GlobalProperty, slot int64) (objdb.ID, bool) {
	n := len(global.ActiveWitnesses)
	if n == 0 {
		return objdb.ID{}, false
	}
	seed := uint64(0)
	for _, c := range global.RandomSeed {
		seed = seed*131 + uint64(c)
	}
	idx := (seed + uint64(slot)) % uint64(n)
	return global.ActiveWitnesses[idx], true
}

func slotFor(global *core.GlobalProperty, timestamp int64) int64 {
	interval := int64(global.BlockIntervalSec)
	if interval <= 0 {
		interval = 3
	}
	return timestamp / interval
}

// IsScheduled reports whether this node's witness is due to produce the
// block at the given slot timestamp.
func (w *Witness) IsScheduled(timestamp int64) bool {
	global := w.chain.Global()
	if global == nil {
		return false
	}
	scheduled, ok := scheduledWitness(global, slotFor(global, timestamp))
	return ok && scheduled == w.witnessID
}

// ProduceBlock builds, executes, signs and commits the next block for
// timestamp, revealing the secret committed in the previous block this
// witness produced and committing a freshly generated one for next round.
func (w *Witness) ProduceBlock(timestamp int64, revealSecret, nextSecret string) (*core.Block, error) {
	if !w.IsScheduled(timestamp) {
		return nil, errors.New("not scheduled for this slot")
	}
	return w.produce(timestamp, revealSecret, nextSecret)
}

func (w *Witness) produce(timestamp int64, revealSecret, nextSecret string) (*core.Block, error) {
	limit := w.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	candidates := w.mempool.Pending(limit)

	tip := w.bc.Tip()
	var prevID string
	var nextHeight int64
	if tip == nil {
		prevID = config.GenesisHash
		nextHeight = 1
	} else {
		prevID = tip.ID
		nextHeight = tip.Header.BlockNum + 1
	}

	// Header fields only (no transaction list yet): ExecuteTx reads the
	// timestamp/height off this for expiration/logging, not the tx list.
	provisional := core.NewBlock(nextHeight, prevID, timestamp, w.witnessID.String(), revealSecret, governance.HashSecret(nextSecret), nil)

	txs := make([]*core.Transaction, 0, len(candidates))
	var rejected []string
	for _, tx := range candidates {
		if err := w.exec.ExecuteTx(provisional, tx); err != nil {
			packageLogger.Debug("dropping invalid tx from mempool", zap.String("tx", tx.ID), zap.Error(err))
			rejected = append(rejected, tx.ID)
			continue
		}
		txs = append(txs, tx)
	}
	if len(rejected) > 0 {
		w.mempool.Remove(rejected)
	}

	block := core.NewBlock(nextHeight, prevID, timestamp, w.witnessID.String(), revealSecret, governance.HashSecret(nextSecret), txs)

	if err := w.runEndOfBlock(timestamp); err != nil {
		return nil, fmt.Errorf("end of block: %w", err)
	}

	block.Sign(w.privKey)

	if err := w.bc.AddBlock(block); err != nil {
		return nil, fmt.Errorf("add block: %w", err)
	}
	w.chain.Witnesses.Modify(w.witnessID, func(obj objdb.Object) {
		ww := obj.(*core.Witness)
		ww.LastSecret = revealSecret
		ww.NextSecretHash = governance.HashSecret(nextSecret)
	})
	w.nextSecret = nextSecret

	if w.emitter != nil {
		w.emitter.Emit(events.Event{
			Type:        events.EventBlockCommit,
			BlockHeight: block.Header.BlockNum,
			Data:        map[string]any{"hash": block.ID, "txs": len(block.Transactions), "witness": w.witnessID.String()},
		})
	}

	txIDs := make([]string, len(txs))
	for i, tx := range txs {
		txIDs[i] = tx.ID
	}
	w.mempool.Remove(txIDs)

	return block, nil
}

// runEndOfBlock performs the per-block housekeeping (§4.5): expire limit
// orders past their expiration, settle due force settlements, scan and
// liquidate under-collateralized call orders. Maintenance interval
// boundaries are handled by the maintenance package, invoked by the node
// wiring once NextMaintenance is reached, not here.
func (w *Witness) runEndOfBlock(now int64) error {
	w.market.ExpireOrders(now)
	if err := w.market.ProcessForceSettlements(now); err != nil {
		return err
	}
	return w.market.RunMarginCalls()
}

const maxBlockTimeDriftSec = int64(15)

// ValidateBlock checks a received block's witness schedule, secret chain,
// and linkage before it is applied.
func (w *Witness) ValidateBlock(block *core.Block) error {
	global := w.chain.Global()
	if global == nil {
		return errors.New("no global properties")
	}
	witnessIDStr := block.Header.WitnessID
	scheduled, ok := scheduledWitness(global, slotFor(global, block.Header.Timestamp))
	if !ok || scheduled.String() != witnessIDStr {
		return fmt.Errorf("wrong witness for slot: got %s want %s", witnessIDStr, scheduled)
	}

	obj, ok := w.chain.Witnesses.Get(scheduled)
	if !ok {
		return fmt.Errorf("unknown witness %s", witnessIDStr)
	}
	witness := obj.(*core.Witness)
	if witness.NextSecretHash != "" && governance.HashSecret(block.Header.RevealedSecret) != witness.NextSecretHash {
		return errors.New("revealed secret does not match prior commitment")
	}

	keyObj, ok := w.chain.Keys.Get(witness.SigningKey)
	if !ok {
		return fmt.Errorf("witness %s has no registered signing key", witnessIDStr)
	}
	pub, err := crypto.PubKeyFromHex(keyObj.(*core.Key).PublicKey)
	if err != nil {
		return fmt.Errorf("invalid signing key: %w", err)
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if err := block.VerifyIntegrity(); err != nil {
		return err
	}

	now := time.Now().Unix()
	if block.Header.Timestamp > now+maxBlockTimeDriftSec {
		return fmt.Errorf("block timestamp too far in future: %d (now %d)", block.Header.Timestamp, now)
	}

	tip := w.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PreviousID) {
			return errors.New("first block must reference genesis prev-id")
		}
	} else {
		if block.Header.PreviousID != tip.ID {
			return fmt.Errorf("prev_id mismatch: got %s want %s", block.Header.PreviousID, tip.ID)
		}
		if block.Header.BlockNum != tip.Header.BlockNum+1 {
			return fmt.Errorf("height mismatch: got %d want %d", block.Header.BlockNum, tip.Header.BlockNum+1)
		}
		if block.Header.Timestamp < tip.Header.Timestamp {
			return fmt.Errorf("block timestamp %d < previous block %d", block.Header.Timestamp, tip.Header.Timestamp)
		}
	}
	return nil
}

// Run starts the block-production loop, ticking every block interval. It
// blocks until done is closed. Each tick generates a fresh next-round
// secret; the caller is responsible for persisting it if the process must
// survive a restart mid-schedule (not handled here — single-process demo
// loop only).
func (w *Witness) Run(interval time.Duration, secretSource func() string, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	current := secretSource()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			now := time.Now().Unix()
			if !w.IsScheduled(now) {
				continue
			}
			next := secretSource()
			if _, err := w.produce(now, current, next); err != nil {
				packageLogger.Error("produce block", zap.Error(err))
				continue
			}
			current = next
		}
	}
}
