// Package maintenance implements the periodic maintenance interval (C10):
// stake-weighted vote re-tally, active witness/delegate set recomputation,
// witness pay accrual (delegates are not paid), worker fund disbursement, proposal
// expiration, and random seed rotation.
package maintenance

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/crypto"
	"github.com/ledgerforge/forgechain/events"
)

// Tunable limits; graphene-family chains carry these in chain parameters
// too, but nothing in SPEC_FULL.md calls for making them runtime-configurable
// yet, so they are constants here.
const (
	maxActiveWitnesses = 11
	maxActiveDelegates = 11
	witnessDailyPay    = int64(1000)
	delegateDailyPay   = int64(1000)
	// workerApprovalNumerator/Denominator: a worker needs its TotalVotesFor
	// to reach this fraction of the core asset's current supply to draw pay.
	workerApprovalNumerator   = 1
	workerApprovalDenominator = 10
)

// Runner holds the state a maintenance pass operates over.
type Runner struct {
	Chain   *core.Chain
	Emitter *events.Emitter
}

func New(chain *core.Chain, emitter *events.Emitter) *Runner {
	return &Runner{Chain: chain, Emitter: emitter}
}

// Run executes one maintenance interval at time now.
func (r *Runner) Run(now int64) error {
	global := r.Chain.Global()
	if global == nil {
		return fmt.Errorf("maintenance: no global properties object")
	}

	var g errgroup.Group
	var witnessTally, delegateTally map[objdb.ID]int64
	g.Go(func() error {
		var err error
		witnessTally, err = r.tally(func(f func(objdb.ID)) { r.Chain.Witnesses.Each(func(obj objdb.Object) { f(obj.ObjID()) }) })
		return err
	})
	g.Go(func() error {
		var err error
		delegateTally, err = r.tally(func(f func(objdb.ID)) { r.Chain.Delegates.Each(func(obj objdb.Object) { f(obj.ObjID()) }) })
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("maintenance: vote tally: %w", err)
	}

	activeWitnesses := r.applyWitnessTally(witnessTally)
	activeDelegates := r.applyDelegateTally(delegateTally)

	if err := r.payWitnesses(activeWitnesses); err != nil {
		return fmt.Errorf("maintenance: witness pay: %w", err)
	}
	if err := r.payDelegates(activeDelegates); err != nil {
		return fmt.Errorf("maintenance: delegate pay: %w", err)
	}
	if err := r.payWorkers(now); err != nil {
		return fmt.Errorf("maintenance: worker pay: %w", err)
	}
	r.expireProposals(now)

	r.Chain.GlobalProperties.Modify(global.ObjID(), func(obj objdb.Object) {
		gp := obj.(*core.GlobalProperty)
		gp.ActiveWitnesses = activeWitnesses
		gp.ActiveDelegates = activeDelegates
		gp.RandomSeed = crypto.Hash([]byte(gp.RandomSeed + fmt.Sprint(now)))
		gp.NextMaintenance = now + int64(gp.MaintenanceIntervalSec)
	})

	if r.Emitter != nil {
		r.Emitter.Emit(events.Event{
			Type: events.EventMaintenance,
			Data: map[string]any{
				"witnesses": len(activeWitnesses),
				"delegates": len(activeDelegates),
				"timestamp": now,
			},
		})
	}
	return nil
}

// tally walks every account once and folds its core-asset stake into each
// of its vote targets found among the candidate ids collected by listIDs.
// Run once per candidate kind (witnesses, delegates) so the two scans
// proceed concurrently under the errgroup in Run.
func (r *Runner) tally(listIDs func(func(objdb.ID))) (map[objdb.ID]int64, error) {
	candidates := make(map[objdb.ID]bool)
	listIDs(func(id objdb.ID) { candidates[id] = true })

	totals := make(map[objdb.ID]int64, len(candidates))
	var walkErr error
	r.Chain.Accounts.Each(func(obj objdb.Object) {
		if walkErr != nil {
			return
		}
		a := obj.(*core.Account)
		bal := r.Chain.BalanceOf(a)
		if bal == nil || len(a.Votes) == 0 {
			return
		}
		stake := bal.Get(core.CoreAssetID)
		if stake <= 0 {
			return
		}
		for _, v := range a.Votes {
			if candidates[v] {
				totals[v] += stake
			}
		}
	})
	return totals, walkErr
}

func (r *Runner) applyWitnessTally(tally map[objdb.ID]int64) []objdb.ID {
	type ranked struct {
		id    objdb.ID
		votes int64
	}
	var ranks []ranked
	r.Chain.Witnesses.Each(func(obj objdb.Object) {
		w := obj.(*core.Witness)
		votes := tally[w.ObjID()]
		r.Chain.Witnesses.Modify(w.ObjID(), func(o objdb.Object) { o.(*core.Witness).TotalVotes = votes })
		ranks = append(ranks, ranked{w.ObjID(), votes})
	})
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].votes > ranks[j].votes })
	if len(ranks) > maxActiveWitnesses {
		ranks = ranks[:maxActiveWitnesses]
	}
	active := make([]objdb.ID, len(ranks))
	for i, rk := range ranks {
		active[i] = rk.id
	}
	return active
}

func (r *Runner) applyDelegateTally(tally map[objdb.ID]int64) []objdb.ID {
	type ranked struct {
		id    objdb.ID
		votes int64
	}
	var ranks []ranked
	r.Chain.Delegates.Each(func(obj objdb.Object) {
		d := obj.(*core.Delegate)
		votes := tally[d.ObjID()]
		r.Chain.Delegates.Modify(d.ObjID(), func(o objdb.Object) { o.(*core.Delegate).TotalVotes = votes })
		ranks = append(ranks, ranked{d.ObjID(), votes})
	})
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].votes > ranks[j].votes })
	if len(ranks) > maxActiveDelegates {
		ranks = ranks[:maxActiveDelegates]
	}
	active := make([]objdb.ID, len(ranks))
	for i, rk := range ranks {
		active[i] = rk.id
	}
	return active
}

// payWitnesses accrues one day's pay to every active witness's claimable
// balance, minted into the core asset's circulating supply at accrual
// (witness_claim_pay, in vm/modules/governance/witness.go, later moves the
// pending amount into the witness account's balance).
func (r *Runner) payWitnesses(active []objdb.ID) error {
	for _, id := range active {
		r.Chain.Witnesses.Modify(id, func(obj objdb.Object) {
			obj.(*core.Witness).PayPendingBalance += witnessDailyPay
		})
	}
	return r.mintCore(int64(len(active)) * witnessDailyPay)
}

func (r *Runner) payDelegates(active []objdb.ID) error {
	// Delegates carry no PayPendingBalance field of their own in this
	// protocol, so nothing is disbursed here beyond the vote tally already
	// applied in applyDelegateTally; delegateDailyPay is not used.
	return nil
}

func (r *Runner) mintCore(amount int64) error {
	if amount <= 0 {
		return nil
	}
	asset, ok := r.Chain.Assets.Get(core.CoreAssetID)
	if !ok {
		return fmt.Errorf("core asset missing")
	}
	dynID := asset.(*core.Asset).DynamicData
	r.Chain.DynamicAssetDatas.Modify(dynID, func(obj objdb.Object) {
		obj.(*core.DynamicAssetData).CurrentSupply += amount
	})
	return nil
}

// payWorkers draws DailyPay for every worker whose active window covers now
// and whose TotalVotesFor has reached the approval quorum, either crediting
// the owner directly (RefundWorker) or creating a vesting balance from the
// worker's VestingSpec template (VestingWorker).
func (r *Runner) payWorkers(now int64) error {
	asset, ok := r.Chain.Assets.Get(core.CoreAssetID)
	if !ok {
		return fmt.Errorf("core asset missing")
	}
	dynObj, ok := r.Chain.DynamicAssetDatas.Get(asset.(*core.Asset).DynamicData)
	if !ok {
		return fmt.Errorf("core asset dynamic data missing")
	}
	supply := dynObj.(*core.DynamicAssetData).CurrentSupply

	var due []*core.Worker
	r.Chain.Workers.Each(func(obj objdb.Object) {
		w := obj.(*core.Worker)
		if now < w.WorkBegin || now > w.WorkEnd {
			return
		}
		if w.TotalVotesFor*workerApprovalDenominator < supply*workerApprovalNumerator {
			return
		}
		due = append(due, w)
	})

	for _, w := range due {
		if err := r.mintCore(w.DailyPay); err != nil {
			return err
		}
		ownerObj, ok := r.Chain.Accounts.Get(w.Owner)
		if !ok {
			continue
		}
		owner := ownerObj.(*core.Account)
		switch w.Kind {
		case core.RefundWorker:
			bal := r.Chain.BalanceOf(owner)
			if bal == nil {
				continue
			}
			r.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
				obj.(*core.AccountBalance).Add(core.CoreAssetID, w.DailyPay)
			})
		case core.VestingWorker:
			spec := w.VestingSpec
			spec.Owner = w.Owner
			spec.AssetID = core.CoreAssetID
			spec.Balance = w.DailyPay
			spec.BeginTime = now
			spec.LastUpdate = now
			r.Chain.VestingBalances.Create(&spec)
		}
	}
	return nil
}

// expireProposals drops every proposal whose Expiration has passed,
// whatever approvals it holds. proposal_update executes and removes a
// proposal once its approvals are complete and its review window, if any,
// has been reached (vm/modules/governance/proposal.go); anything still
// present here was not executed by then.
func (r *Runner) expireProposals(now int64) {
	var expired []objdb.ID
	r.Chain.Proposals.Each(func(obj objdb.Object) {
		p := obj.(*core.Proposal)
		if p.Expiration <= now {
			expired = append(expired, p.ObjID())
		}
	})
	for _, id := range expired {
		r.Chain.Proposals.Remove(id)
	}
}
