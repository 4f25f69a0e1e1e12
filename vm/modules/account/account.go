// Package account implements the identity and transfer operations: key
// registration, account creation/update, whitelisting, prime upgrade, and
// core/non-core balance transfers.
package account

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
	vm.Register(core.OpKeyCreate, decodeKeyCreate)
	vm.Register(core.OpAccountCreate, decodeAccountCreate)
	vm.Register(core.OpAccountUpdate, decodeAccountUpdate)
	vm.Register(core.OpAccountWhitelist, decodeAccountWhitelist)
	vm.Register(core.OpAccountUpgradeToPrime, decodeAccountUpgradeToPrime)
	vm.Register(core.OpTransfer, decodeTransfer)
}

// --- key_create ---

type KeyCreatePayload struct {
	Creator   objdb.ID `json:"creator"`
	PublicKey string   `json:"public_key"`
}

type keyCreateOp struct{ p KeyCreatePayload }

func decodeKeyCreate(raw json.RawMessage) (vm.Op, error) {
	var p KeyCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode key_create: %w", err)
	}
	if p.PublicKey == "" {
		return nil, fmt.Errorf("%w: public_key required", txerr.ErrMalformed)
	}
	return &keyCreateOp{p}, nil
}

func (o *keyCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Creator} }
func (o *keyCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *keyCreateOp) FeePayer() objdb.ID         { return o.p.Creator }
func (o *keyCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *keyCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	var dup bool
	ctx.Chain.Keys.Each(func(obj objdb.Object) {
		if obj.(*core.Key).PublicKey == o.p.PublicKey {
			dup = true
		}
	})
	if dup {
		return nil, fmt.Errorf("%w: key %s already registered", txerr.ErrDuplicate, o.p.PublicKey)
	}
	return nil, nil
}

func (o *keyCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	id := ctx.Chain.Keys.Create(&core.Key{PublicKey: o.p.PublicKey})
	ctx.NoteCreated(id)
	return nil
}

// --- account_create ---

type AccountCreatePayload struct {
	Name            string         `json:"name"`
	Owner           core.Authority `json:"owner"`
	Active          core.Authority `json:"active"`
	MemoKey         objdb.ID       `json:"memo_key"`
	Registrar       objdb.ID       `json:"registrar"`
	Referrer        objdb.ID       `json:"referrer,omitempty"`
	ReferrerPercent uint16         `json:"referrer_percent"`
}

type accountCreateOp struct{ p AccountCreatePayload }

func decodeAccountCreate(raw json.RawMessage) (vm.Op, error) {
	var p AccountCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode account_create: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name required", txerr.ErrMalformed)
	}
	if p.ReferrerPercent > 10000 {
		return nil, fmt.Errorf("%w: referrer_percent must be <= 10000", txerr.ErrMalformed)
	}
	return &accountCreateOp{p}, nil
}

func (o *accountCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Registrar} }
func (o *accountCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *accountCreateOp) FeePayer() objdb.ID         { return o.p.Registrar }
func (o *accountCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *accountCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, exists := ctx.Chain.AccountByName(o.p.Name); exists {
		return nil, fmt.Errorf("%w: account name %q taken", txerr.ErrDuplicate, o.p.Name)
	}
	if o.p.Referrer != (objdb.ID{}) {
		if _, ok := ctx.Chain.Accounts.Get(o.p.Referrer); !ok {
			return nil, fmt.Errorf("%w: referrer %s does not exist", txerr.ErrUnknown, o.p.Referrer)
		}
	}
	return nil, nil
}

func (o *accountCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	acc := &core.Account{
		Name:            o.p.Name,
		Owner:           o.p.Owner,
		Active:          o.p.Active,
		MemoKey:         o.p.MemoKey,
		Referrer:        o.p.Referrer,
		ReferrerPercent: o.p.ReferrerPercent,
	}
	accID := ctx.Chain.Accounts.Create(acc)
	balID := ctx.Chain.AccountBalances.Create(&core.AccountBalance{Owner: accID, Balances: make(map[uint64]int64)})
	ctx.Chain.Accounts.Modify(accID, func(obj objdb.Object) {
		obj.(*core.Account).Balance = balID
	})
	ctx.NoteCreated(accID)

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventAccountCreate, TxID: ctx.Tx.ID,
			Data: map[string]any{"account": accID.String(), "name": o.p.Name},
		})
	}
	return nil
}

// --- account_update ---

type AccountUpdatePayload struct {
	Account   objdb.ID        `json:"account"`
	NewOwner  *core.Authority `json:"new_owner,omitempty"`
	NewActive *core.Authority `json:"new_active,omitempty"`
	NewMemoKey *objdb.ID      `json:"new_memo_key,omitempty"`
	NewVotes   []objdb.ID     `json:"new_votes,omitempty"`
}

type accountUpdateOp struct{ p AccountUpdatePayload }

func decodeAccountUpdate(raw json.RawMessage) (vm.Op, error) {
	var p AccountUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode account_update: %w", err)
	}
	return &accountUpdateOp{p}, nil
}

func (o *accountUpdateOp) RequiredActive() []objdb.ID {
	if o.p.NewOwner == nil {
		return []objdb.ID{o.p.Account}
	}
	return nil
}
func (o *accountUpdateOp) RequiredOwner() []objdb.ID {
	if o.p.NewOwner != nil {
		return []objdb.ID{o.p.Account}
	}
	return nil
}
func (o *accountUpdateOp) FeePayer() objdb.ID       { return o.p.Account }
func (o *accountUpdateOp) DeclaredFee() core.Amount { return core.Amount{AssetID: core.CoreAssetID} }

func (o *accountUpdateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, ok := ctx.Chain.Accounts.Get(o.p.Account); !ok {
		return nil, fmt.Errorf("%w: account %s does not exist", txerr.ErrUnknown, o.p.Account)
	}
	for _, v := range o.p.NewVotes {
		if _, ok := ctx.Chain.Witnesses.Get(v); ok {
			continue
		}
		if _, ok := ctx.Chain.Delegates.Get(v); ok {
			continue
		}
		return nil, fmt.Errorf("%w: vote target %s is neither a witness nor a delegate", txerr.ErrUnknown, v)
	}
	return nil, nil
}

func (o *accountUpdateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	ctx.Chain.Accounts.Modify(o.p.Account, func(obj objdb.Object) {
		a := obj.(*core.Account)
		if o.p.NewOwner != nil {
			a.Owner = *o.p.NewOwner
		}
		if o.p.NewActive != nil {
			a.Active = *o.p.NewActive
		}
		if o.p.NewMemoKey != nil {
			a.MemoKey = *o.p.NewMemoKey
		}
		if o.p.NewVotes != nil {
			a.Votes = o.p.NewVotes
		}
	})
	return nil
}

// --- account_whitelist ---

type AccountWhitelistPayload struct {
	Authorizer objdb.ID `json:"authorizer"`
	Target     objdb.ID `json:"account_to_list"`
	Whitelisted bool    `json:"whitelisted"`
}

type accountWhitelistOp struct{ p AccountWhitelistPayload }

func decodeAccountWhitelist(raw json.RawMessage) (vm.Op, error) {
	var p AccountWhitelistPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode account_whitelist: %w", err)
	}
	return &accountWhitelistOp{p}, nil
}

func (o *accountWhitelistOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Authorizer} }
func (o *accountWhitelistOp) RequiredOwner() []objdb.ID  { return nil }
func (o *accountWhitelistOp) FeePayer() objdb.ID         { return o.p.Authorizer }
func (o *accountWhitelistOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *accountWhitelistOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, ok := ctx.Chain.Accounts.Get(o.p.Target); !ok {
		return nil, fmt.Errorf("%w: account %s does not exist", txerr.ErrUnknown, o.p.Target)
	}
	return nil, nil
}

// Apply records no on-chain state: it only emits an event carrying the
// authorizer, the target account and the whitelisted flag. assetops'
// asset_whitelist operation likewise only emits an event; neither keeps a
// whitelist set.
func (o *accountWhitelistOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventAccountCreate, TxID: ctx.Tx.ID,
			Data: map[string]any{"whitelist_authorizer": o.p.Authorizer.String(), "target": o.p.Target.String(), "whitelisted": o.p.Whitelisted},
		})
	}
	return nil
}

// --- account_upgrade_to_prime ---

type AccountUpgradePayload struct {
	Account objdb.ID `json:"account"`
}

type upgradeOp struct{ p AccountUpgradePayload }

func decodeAccountUpgradeToPrime(raw json.RawMessage) (vm.Op, error) {
	var p AccountUpgradePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode account_upgrade_to_prime: %w", err)
	}
	return &upgradeOp{p}, nil
}

func (o *upgradeOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Account} }
func (o *upgradeOp) RequiredOwner() []objdb.ID  { return nil }
func (o *upgradeOp) FeePayer() objdb.ID         { return o.p.Account }
func (o *upgradeOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

const primeUpgradeFee = 100_000_000

func (o *upgradeOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.Accounts.Get(o.p.Account)
	if !ok {
		return nil, fmt.Errorf("%w: account %s does not exist", txerr.ErrUnknown, o.p.Account)
	}
	acc := obj.(*core.Account)
	if acc.Prime {
		return nil, fmt.Errorf("%w: account %s already prime", txerr.ErrInvariantViolated, o.p.Account)
	}
	bal := ctx.Chain.BalanceOf(acc)
	if bal.Get(core.CoreAssetID) < primeUpgradeFee {
		return nil, fmt.Errorf("%w: need %d core for prime upgrade", txerr.ErrInsufficientBalance, primeUpgradeFee)
	}
	return nil, nil
}

func (o *upgradeOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	obj, _ := ctx.Chain.Accounts.Get(o.p.Account)
	acc := obj.(*core.Account)
	bal := ctx.Chain.BalanceOf(acc)
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(o objdb.Object) {
		o.(*core.AccountBalance).Add(core.CoreAssetID, -primeUpgradeFee)
	})
	ctx.Chain.Accounts.Modify(o.p.Account, func(o objdb.Object) {
		o.(*core.Account).Prime = true
	})
	return nil
}

// --- transfer ---

type TransferPayload struct {
	From   objdb.ID   `json:"from"`
	To     objdb.ID   `json:"to"`
	Amount core.Amount `json:"amount"`
	Memo   string     `json:"memo,omitempty"`
}

type transferOp struct{ p TransferPayload }

func decodeTransfer(raw json.RawMessage) (vm.Op, error) {
	var p TransferPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode transfer: %w", err)
	}
	if p.Amount.Value <= 0 {
		return nil, fmt.Errorf("%w: transfer amount must be positive", txerr.ErrMalformed)
	}
	return &transferOp{p}, nil
}

func (o *transferOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.From} }
func (o *transferOp) RequiredOwner() []objdb.ID  { return nil }
func (o *transferOp) FeePayer() objdb.ID         { return o.p.From }
func (o *transferOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

type transferDelta struct {
	fromBal, toBal *core.AccountBalance
}

func (o *transferOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	fromObj, ok := ctx.Chain.Accounts.Get(o.p.From)
	if !ok {
		return nil, fmt.Errorf("%w: sender %s does not exist", txerr.ErrUnknown, o.p.From)
	}
	toObj, ok := ctx.Chain.Accounts.Get(o.p.To)
	if !ok {
		return nil, fmt.Errorf("%w: recipient %s does not exist", txerr.ErrUnknown, o.p.To)
	}
	if _, ok := ctx.Chain.Assets.Get(o.p.Amount.AssetID); !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.Amount.AssetID)
	}
	fromBal := ctx.Chain.BalanceOf(fromObj.(*core.Account))
	if fromBal.Get(o.p.Amount.AssetID) < o.p.Amount.Value {
		return nil, fmt.Errorf("%w: have %d, need %d", txerr.ErrInsufficientBalance, fromBal.Get(o.p.Amount.AssetID), o.p.Amount.Value)
	}
	toBal := ctx.Chain.BalanceOf(toObj.(*core.Account))
	return transferDelta{fromBal, toBal}, nil
}

func (o *transferOp) Apply(ctx *vm.Context, delta vm.Delta) error {
	d := delta.(transferDelta)
	ctx.Chain.AccountBalances.Modify(d.fromBal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(o.p.Amount.AssetID, -o.p.Amount.Value)
	})
	ctx.Chain.AccountBalances.Modify(d.toBal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(o.p.Amount.AssetID, o.p.Amount.Value)
	})
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventTransfer, TxID: ctx.Tx.ID,
			Data: map[string]any{"from": o.p.From.String(), "to": o.p.To.String(), "amount": o.p.Amount.Value, "asset": o.p.Amount.AssetID.String()},
		})
	}
	return nil
}
