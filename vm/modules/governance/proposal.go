package governance

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/vm"
)

func init() {
	vm.Register(core.OpProposalCreate, decodeProposalCreate)
	vm.Register(core.OpProposalUpdate, decodeProposalUpdate)
	vm.Register(core.OpProposalDelete, decodeProposalDelete)
}

// --- proposal_create ---

type ProposalCreatePayload struct {
	Author          objdb.ID         `json:"author"`
	Expiration      int64            `json:"expiration"`
	ReviewPeriodSec int64            `json:"review_period_sec"`
	ProposedOps     []core.Operation `json:"proposed_ops"`
}

type proposalCreateOp struct{ p ProposalCreatePayload }

func decodeProposalCreate(raw json.RawMessage) (vm.Op, error) {
	var p ProposalCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode proposal_create: %w", err)
	}
	if len(p.ProposedOps) == 0 {
		return nil, fmt.Errorf("%w: proposal must contain at least one operation", txerr.ErrMalformed)
	}
	return &proposalCreateOp{p}, nil
}

func (o *proposalCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Author} }
func (o *proposalCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *proposalCreateOp) FeePayer() objdb.ID         { return o.p.Author }
func (o *proposalCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

// requiredApprovals decodes every proposed operation and unions its
// RequiredActive/RequiredOwner accounts; a proposal cannot execute until
// all of them have approved (C11).
func requiredApprovals(ops []core.Operation) (active, owner []objdb.ID, err error) {
	seenActive := make(map[objdb.ID]bool)
	seenOwner := make(map[objdb.ID]bool)
	for i, rawOp := range ops {
		decoded, derr := vm.Decode(rawOp.Type, rawOp.Payload)
		if derr != nil {
			return nil, nil, fmt.Errorf("proposed op %d: %w", i, derr)
		}
		for _, acc := range decoded.RequiredActive() {
			if !seenActive[acc] {
				seenActive[acc] = true
				active = append(active, acc)
			}
		}
		for _, acc := range decoded.RequiredOwner() {
			if !seenOwner[acc] {
				seenOwner[acc] = true
				owner = append(owner, acc)
			}
		}
	}
	return active, owner, nil
}

func (o *proposalCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, ok := ctx.Chain.Accounts.Get(o.p.Author); !ok {
		return nil, fmt.Errorf("%w: author %s does not exist", txerr.ErrUnknown, o.p.Author)
	}
	if o.p.Expiration < ctx.Now {
		return nil, fmt.Errorf("%w: expiration %d already past", txerr.ErrExpired, o.p.Expiration)
	}
	if _, _, err := requiredApprovals(o.p.ProposedOps); err != nil {
		return nil, fmt.Errorf("%w: %v", txerr.ErrMalformed, err)
	}
	return nil, nil
}

func (o *proposalCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	active, owner, err := requiredApprovals(o.p.ProposedOps)
	if err != nil {
		return err
	}
	body, err := json.Marshal(o.p.ProposedOps)
	if err != nil {
		return fmt.Errorf("marshal proposed ops: %w", err)
	}
	id := ctx.Chain.Proposals.Create(&core.Proposal{
		Author:                  o.p.Author,
		Expiration:              o.p.Expiration,
		ReviewPeriodSec:         o.p.ReviewPeriodSec,
		ProposedTransaction:     body,
		RequiredActiveApprovals: active,
		RequiredOwnerApprovals:  owner,
	})
	ctx.NoteCreated(id)
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{Type: events.EventProposalExec, TxID: ctx.Tx.ID, Data: map[string]any{"proposal": id.String(), "created": true}})
	}
	return nil
}

// --- proposal_update ---

// ProposalUpdatePayload adds or removes approvals; an approval is recorded
// as soon as the approving account's authority is checked (active for
// active approvals and removals, owner for owner approvals), and the
// proposal executes through the vm registry the moment every required
// approval is present and, when ReviewPeriodSec is set, now has reached
// Expiration minus ReviewPeriodSec.
type ProposalUpdatePayload struct {
	Proposal          objdb.ID   `json:"proposal"`
	Approver          objdb.ID   `json:"approver"`
	ActiveApprovalsToAdd []objdb.ID `json:"active_approvals_to_add,omitempty"`
	OwnerApprovalsToAdd  []objdb.ID `json:"owner_approvals_to_add,omitempty"`
	ApprovalsToRemove    []objdb.ID `json:"approvals_to_remove,omitempty"`
}

type proposalUpdateOp struct{ p ProposalUpdatePayload }

func decodeProposalUpdate(raw json.RawMessage) (vm.Op, error) {
	var p ProposalUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode proposal_update: %w", err)
	}
	return &proposalUpdateOp{p}, nil
}

func (o *proposalUpdateOp) RequiredActive() []objdb.ID {
	ids := append([]objdb.ID{o.p.Approver}, o.p.ActiveApprovalsToAdd...)
	return append(ids, o.p.ApprovalsToRemove...)
}
func (o *proposalUpdateOp) RequiredOwner() []objdb.ID { return o.p.OwnerApprovalsToAdd }
func (o *proposalUpdateOp) FeePayer() objdb.ID         { return o.p.Approver }
func (o *proposalUpdateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *proposalUpdateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, ok := ctx.Chain.Proposals.Get(o.p.Proposal); !ok {
		return nil, fmt.Errorf("%w: proposal %s does not exist", txerr.ErrUnknown, o.p.Proposal)
	}
	return nil, nil
}

func contains(ids []objdb.ID, target objdb.ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func removeID(ids []objdb.ID, target objdb.ID) []objdb.ID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func (o *proposalUpdateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	ctx.Chain.Proposals.Modify(o.p.Proposal, func(obj objdb.Object) {
		p := obj.(*core.Proposal)
		for _, acc := range o.p.ActiveApprovalsToAdd {
			if !contains(p.AvailableActiveApprovals, acc) {
				p.AvailableActiveApprovals = append(p.AvailableActiveApprovals, acc)
			}
		}
		for _, acc := range o.p.OwnerApprovalsToAdd {
			if !contains(p.AvailableOwnerApprovals, acc) {
				p.AvailableOwnerApprovals = append(p.AvailableOwnerApprovals, acc)
			}
		}
		for _, acc := range o.p.ApprovalsToRemove {
			p.AvailableActiveApprovals = removeID(p.AvailableActiveApprovals, acc)
			p.AvailableOwnerApprovals = removeID(p.AvailableOwnerApprovals, acc)
		}
	})

	obj, _ := ctx.Chain.Proposals.Get(o.p.Proposal)
	p := obj.(*core.Proposal)
	if !fullyApproved(p) {
		return nil
	}
	if p.ReviewPeriodSec > 0 && ctx.Now < p.Expiration-p.ReviewPeriodSec {
		return nil // review period not yet elapsed
	}
	return executeProposal(ctx, p, o.p.Proposal)
}

func fullyApproved(p *core.Proposal) bool {
	for _, req := range p.RequiredActiveApprovals {
		if !contains(p.AvailableActiveApprovals, req) {
			return false
		}
	}
	for _, req := range p.RequiredOwnerApprovals {
		if !contains(p.AvailableOwnerApprovals, req) {
			return false
		}
	}
	return true
}

// executeProposal runs every proposed operation through the same
// evaluate-then-apply discipline the top-level executor uses, then
// removes the proposal object. A failure here surfaces as this
// operation's own apply error, rolling back the whole enclosing
// transaction's undo session along with it (the proposal is not consumed
// on failure, so a later proposal_update can retry it).
func executeProposal(ctx *vm.Context, p *core.Proposal, id objdb.ID) error {
	var ops []core.Operation
	if err := json.Unmarshal(p.ProposedTransaction, &ops); err != nil {
		return fmt.Errorf("proposal %s: corrupt proposed operations: %w", id, err)
	}
	decoded := make([]vm.Op, len(ops))
	deltas := make([]vm.Delta, len(ops))
	for i, rawOp := range ops {
		op, err := vm.Decode(rawOp.Type, rawOp.Payload)
		if err != nil {
			return fmt.Errorf("proposal %s op %d: %w", id, i, err)
		}
		delta, err := op.Evaluate(ctx)
		if err != nil {
			return fmt.Errorf("proposal %s op %d evaluate: %w", id, i, err)
		}
		decoded[i] = op
		deltas[i] = delta
	}
	for i, op := range decoded {
		if err := op.Apply(ctx, deltas[i]); err != nil {
			return fmt.Errorf("proposal %s op %d apply: %w", id, i, err)
		}
	}
	ctx.Chain.Proposals.Remove(id)
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{Type: events.EventProposalExec, Data: map[string]any{"proposal": id.String(), "executed": true}})
	}
	return nil
}

// --- proposal_delete ---

type ProposalDeletePayload struct {
	Proposal objdb.ID `json:"proposal"`
	Author   objdb.ID `json:"author"`
}

type proposalDeleteOp struct{ p ProposalDeletePayload }

func decodeProposalDelete(raw json.RawMessage) (vm.Op, error) {
	var p ProposalDeletePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode proposal_delete: %w", err)
	}
	return &proposalDeleteOp{p}, nil
}

func (o *proposalDeleteOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Author} }
func (o *proposalDeleteOp) RequiredOwner() []objdb.ID  { return nil }
func (o *proposalDeleteOp) FeePayer() objdb.ID         { return o.p.Author }
func (o *proposalDeleteOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *proposalDeleteOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.Proposals.Get(o.p.Proposal)
	if !ok {
		return nil, fmt.Errorf("%w: proposal %s does not exist", txerr.ErrUnknown, o.p.Proposal)
	}
	if obj.(*core.Proposal).Author != o.p.Author {
		return nil, fmt.Errorf("%w: %s did not author proposal %s", txerr.ErrUnauthorized, o.p.Author, o.p.Proposal)
	}
	return nil, nil
}

func (o *proposalDeleteOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	ctx.Chain.Proposals.Remove(o.p.Proposal)
	return nil
}
