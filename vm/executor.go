package vm

import (
	"fmt"

	"github.com/ledgerforge/forgechain/auth"
	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
	"github.com/ledgerforge/forgechain/crypto"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/fees"
)

// Executor runs the two-phase evaluate/apply pipeline (C5) against a Chain
// using the global operation registry.
type Executor struct {
	chain   *core.Chain
	sched   *fees.Schedule
	emitter *events.Emitter
}

// NewExecutor creates an Executor over chain with the given fee schedule
// and event emitter.
func NewExecutor(chain *core.Chain, sched *fees.Schedule, emitter *events.Emitter) *Executor {
	return &Executor{chain: chain, sched: sched, emitter: emitter}
}

// ExecuteBlock applies every transaction in block sequentially under the
// block-level undo session; a failing transaction fails the whole block.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	blockSession := e.chain.DB.StartUndoSession()
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(block, tx); err != nil {
			blockSession.Rollback()
			return fmt.Errorf("vm: tx %s failed: %w", tx.ID, err)
		}
	}
	blockSession.Commit()
	return nil
}

// ExecuteBlockUncommitted applies block the same way ExecuteBlock does, but
// leaves the block-level undo session open and hands it back instead of
// committing it. The caller owns the session from here: Commit to keep the
// block's effects, or Rollback to undo them. This is what forkdb uses to
// apply a candidate block speculatively while a fork is still contested
// (C9) — the session must be closed (either way) before any other session
// is opened against the same chain, since the underlying undo stack is
// strictly LIFO (see core/objdb/undo.go).
func (e *Executor) ExecuteBlockUncommitted(block *core.Block) (*objdb.Session, error) {
	blockSession := e.chain.DB.StartUndoSession()
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(block, tx); err != nil {
			blockSession.Rollback()
			return nil, fmt.Errorf("vm: tx %s failed: %w", tx.ID, err)
		}
	}
	return blockSession, nil
}

// ExecuteTx runs one transaction's full evaluate-then-apply sequence
// inside its own nested undo session (rolled back whole on any failure, so
// a failed transaction leaves post-state == pre-state).
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	headTime := headTimeOf(block)
	if tx.Expiration < headTime {
		return fmt.Errorf("%w: transaction %s expired at %d (head %d)", txerr.ErrExpired, tx.ID, tx.Expiration, headTime)
	}

	candidates := collectCandidateKeys(e.chain)
	signed, err := tx.SignedKeys(candidates)
	if err != nil {
		return fmt.Errorf("%w: %v", txerr.ErrUnauthorized, err)
	}

	txSession := e.chain.DB.StartUndoSession()
	if err := e.run(block, tx, headTime, signed); err != nil {
		txSession.Rollback()
		return err
	}
	txSession.Commit()

	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: blockNumOf(block),
			Data:        map[string]any{"ops": len(tx.Operations)},
		})
	}
	return nil
}

func (e *Executor) run(block *core.Block, tx *core.Transaction, headTime int64, signed map[string]bool) error {
	resolver := auth.New(e.chain, signed)
	ops := make([]Op, len(tx.Operations))
	deltas := make([]Delta, len(tx.Operations))
	ctx := newContext(e.chain, e.sched, block, tx, headTime, signed, e.emitter)

	// Phase 1: evaluate every operation; nothing here may mutate
	// persistent state, only accumulate tentative deltas.
	for i, rawOp := range tx.Operations {
		ctx.OpIndex = i
		op, err := globalRegistry.Decode(rawOp.Type, rawOp.Payload)
		if err != nil {
			return fmt.Errorf("%w: operation %d: %v", txerr.ErrMalformed, i, err)
		}
		for _, acc := range op.RequiredOwner() {
			if err := resolver.Require(acc, auth.Owner); err != nil {
				return err
			}
		}
		for _, acc := range op.RequiredActive() {
			if err := resolver.Require(acc, auth.Active); err != nil {
				return err
			}
		}
		delta, err := op.Evaluate(ctx)
		if err != nil {
			return fmt.Errorf("operation %d (%s): %w", i, rawOp.Type, err)
		}
		ops[i] = op
		deltas[i] = delta
	}

	// Phase 2: every evaluate succeeded; charge fees and apply in order.
	for i, op := range ops {
		ctx.OpIndex = i
		if err := e.chargeFee(ctx, tx.Operations[i].Type, len(tx.Operations[i].Payload), op); err != nil {
			return fmt.Errorf("operation %d fee: %w", i, err)
		}
		if err := op.Apply(ctx, deltas[i]); err != nil {
			return fmt.Errorf("operation %d (%s) apply: %w", i, tx.Operations[i].Type, err)
		}
	}
	return nil
}

func (e *Executor) chargeFee(ctx *Context, typ core.OpType, payloadBytes int, op Op) error {
	coreFee, err := e.sched.Compute(typ, payloadBytes)
	if err != nil {
		return err
	}
	payerID := op.FeePayer()
	payerObj, ok := e.chain.Accounts.Get(payerID)
	if !ok {
		return fmt.Errorf("%w: fee payer %s does not exist", txerr.ErrUnknown, payerID)
	}
	payer := payerObj.(*core.Account)
	balance := e.chain.BalanceOf(payer)
	if balance == nil {
		return fmt.Errorf("%w: fee payer %s has no balance object", txerr.ErrUnknown, payerID)
	}

	declared := op.DeclaredFee()
	feeAssetObj, ok := e.chain.Assets.Get(declared.AssetID)
	if !ok {
		return fmt.Errorf("%w: fee asset %s does not exist", txerr.ErrUnknown, declared.AssetID)
	}
	feeAsset := feeAssetObj.(*core.Asset)

	coreEquivalent := coreFee
	if feeAsset.ObjID() != core.CoreAssetID {
		coreEquivalent = fees.Convert(feeAsset, declared.Value)
		if coreEquivalent < coreFee {
			return fmt.Errorf("%w: declared fee converts to %d core, schedule requires %d", txerr.ErrInsufficientBalance, coreEquivalent, coreFee)
		}
	}
	return fees.Charge(e.chain, balance, feeAsset, declared.Value, coreFee)
}

func headTimeOf(block *core.Block) int64 {
	if block == nil {
		return core.Now()
	}
	return block.Header.Timestamp
}

func blockNumOf(block *core.Block) int64 {
	if block == nil {
		return 0
	}
	return block.Header.BlockNum
}

// collectCandidateKeys gathers every registered key's public key, the pool
// SignedKeys is checked against. A real deployment would scope this to only
// the keys an operation's authorities could reference; the core's key count
// is small enough that scanning the index directly is cheap.
func collectCandidateKeys(chain *core.Chain) []crypto.PublicKey {
	var out []crypto.PublicKey
	chain.Keys.Each(func(obj objdb.Object) {
		k := obj.(*core.Key)
		pub, err := crypto.PubKeyFromHex(k.PublicKey)
		if err != nil {
			return
		}
		out = append(out, pub)
	})
	return out
}
