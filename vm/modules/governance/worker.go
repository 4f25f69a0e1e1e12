package governance

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
	"github.com/ledgerforge/forgechain/vm"
)

func init() {
	vm.Register(core.OpWorkerCreate, decodeWorkerCreate)
}

// --- worker_create ---

// WorkerCreatePayload registers a funding proposal. The daily pay draw
// happens during maintenance (C10): a worker inside its work window whose
// TotalVotesFor is at least one tenth of the core asset's current supply
// is paid DailyPay either straight to Owner (RefundWorker) or into a
// VestingBalance built from VestingSpec (VestingWorker). The maintenance
// vote tally covers witnesses and delegates only; it does not update
// TotalVotesFor.
type WorkerCreatePayload struct {
	Owner       objdb.ID         `json:"owner"`
	DailyPay    int64            `json:"daily_pay"`
	WorkBegin   int64            `json:"work_begin"`
	WorkEnd     int64            `json:"work_end"`
	Kind        core.WorkerKind  `json:"kind"`
	VestingSpec core.VestingBalance `json:"vesting_spec,omitempty"`
}

type workerCreateOp struct{ p WorkerCreatePayload }

func decodeWorkerCreate(raw json.RawMessage) (vm.Op, error) {
	var p WorkerCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode worker_create: %w", err)
	}
	if p.DailyPay <= 0 {
		return nil, fmt.Errorf("%w: daily_pay must be positive", txerr.ErrMalformed)
	}
	if p.WorkEnd <= p.WorkBegin {
		return nil, fmt.Errorf("%w: work_end must be after work_begin", txerr.ErrMalformed)
	}
	if p.Kind == core.VestingWorker && p.VestingSpec.Policy == core.VestingLinear && p.VestingSpec.DurationSec <= 0 {
		return nil, fmt.Errorf("%w: vesting worker with linear policy requires duration_sec > 0", txerr.ErrMalformed)
	}
	return &workerCreateOp{p}, nil
}

func (o *workerCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Owner} }
func (o *workerCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *workerCreateOp) FeePayer() objdb.ID         { return o.p.Owner }
func (o *workerCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *workerCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, ok := ctx.Chain.Accounts.Get(o.p.Owner); !ok {
		return nil, fmt.Errorf("%w: owner %s does not exist", txerr.ErrUnknown, o.p.Owner)
	}
	if o.p.WorkEnd < ctx.Now {
		return nil, fmt.Errorf("%w: work_end %d already past", txerr.ErrExpired, o.p.WorkEnd)
	}
	return nil, nil
}

func (o *workerCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	id := ctx.Chain.Workers.Create(&core.Worker{
		Owner:       o.p.Owner,
		DailyPay:    o.p.DailyPay,
		WorkBegin:   o.p.WorkBegin,
		WorkEnd:     o.p.WorkEnd,
		Kind:        o.p.Kind,
		VestingSpec: o.p.VestingSpec,
	})
	ctx.NoteCreated(id)
	return nil
}
