package vm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
)

// Delta is whatever tentative result an operation's Evaluate phase hands
// back to its own Apply phase; its shape is private to each module.
type Delta any

// Op is one decoded operation instance, implementing the evaluate/apply
// pair plus the authority and fee facts the pipeline needs before running
// either phase.
type Op interface {
	// RequiredActive/RequiredOwner list the accounts whose authority of
	// that class must be satisfied for this operation.
	RequiredActive() []objdb.ID
	RequiredOwner() []objdb.ID
	// FeePayer is the account debited for the operation's fee.
	FeePayer() objdb.ID
	// DeclaredFee is the amount and asset the transaction author supplied
	// to cover this operation's fee.
	DeclaredFee() core.Amount

	Evaluate(ctx *Context) (Delta, error)
	Apply(ctx *Context, delta Delta) error
}

// Decoder unmarshals a raw operation payload into an Op.
type Decoder func(raw json.RawMessage) (Op, error)

// Registry maps OpTypes to Decoders. Thread-safe for concurrent
// registration, mirroring the teacher's single-phase Handler registry.
type Registry struct {
	mu       sync.RWMutex
	decoders map[core.OpType]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[core.OpType]Decoder)}
}

func (r *Registry) Register(typ core.OpType, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[typ]; exists {
		panic(fmt.Sprintf("vm: decoder already registered for op %q", typ))
	}
	r.decoders[typ] = d
}

func (r *Registry) Decode(typ core.OpType, raw json.RawMessage) (Op, error) {
	r.mu.RLock()
	d, ok := r.decoders[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vm: no decoder registered for op %q", typ)
	}
	return d(raw)
}

// globalRegistry is the package-level registry every module self-registers
// into from its init().
var globalRegistry = NewRegistry()

// Register adds typ's decoder to the global registry.
func Register(typ core.OpType, d Decoder) {
	globalRegistry.Register(typ, d)
}

// Decode runs the global registry's decoder for typ. Exported so packages
// outside vm (proposal approval-requirement computation, in particular)
// can inspect an operation's RequiredActive/RequiredOwner without
// duplicating the registry.
func Decode(typ core.OpType, raw json.RawMessage) (Op, error) {
	return globalRegistry.Decode(typ, raw)
}
