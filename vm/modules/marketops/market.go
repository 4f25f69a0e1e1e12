// Package marketops wraps the matching engine's operations (limit/short
// order creation and cancellation, call order margin updates, and forced
// settlement) as vm.Op instances. All matching logic itself lives in the
// market package; these are thin evaluate/apply adapters.
package marketops

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
	"github.com/ledgerforge/forgechain/market"
	"github.com/ledgerforge/forgechain/vm"
)

func init() {
	vm.Register(core.OpLimitOrderCreate, decodeLimitOrderCreate)
	vm.Register(core.OpLimitOrderCancel, decodeLimitOrderCancel)
	vm.Register(core.OpShortOrderCreate, decodeShortOrderCreate)
	vm.Register(core.OpShortOrderCancel, decodeShortOrderCancel)
	vm.Register(core.OpCallOrderUpdate, decodeCallOrderUpdate)
	vm.Register(core.OpForceSettle, decodeForceSettle)
}

func engineOf(ctx *vm.Context) *market.Engine {
	return market.New(ctx.Chain, ctx.Fees, ctx.Emitter)
}

// --- limit_order_create ---

type LimitOrderCreatePayload struct {
	Seller     objdb.ID    `json:"seller"`
	Amount     core.Amount `json:"amount_to_sell"`
	MinReceive core.Amount `json:"min_to_receive"`
	Expiration int64       `json:"expiration"`
	FillOrKill bool        `json:"fill_or_kill"`
}

type limitCreateOp struct{ p LimitOrderCreatePayload }

func decodeLimitOrderCreate(raw json.RawMessage) (vm.Op, error) {
	var p LimitOrderCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode limit_order_create: %w", err)
	}
	if p.Amount.Value <= 0 || p.MinReceive.Value <= 0 {
		return nil, fmt.Errorf("%w: amounts must be positive", txerr.ErrMalformed)
	}
	return &limitCreateOp{p}, nil
}

func (o *limitCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Seller} }
func (o *limitCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *limitCreateOp) FeePayer() objdb.ID         { return o.p.Seller }
func (o *limitCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *limitCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	sellerObj, ok := ctx.Chain.Accounts.Get(o.p.Seller)
	if !ok {
		return nil, fmt.Errorf("%w: seller %s does not exist", txerr.ErrUnknown, o.p.Seller)
	}
	if _, ok := ctx.Chain.Assets.Get(o.p.Amount.AssetID); !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.Amount.AssetID)
	}
	if _, ok := ctx.Chain.Assets.Get(o.p.MinReceive.AssetID); !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.MinReceive.AssetID)
	}
	bal := ctx.Chain.BalanceOf(sellerObj.(*core.Account))
	if bal.Get(o.p.Amount.AssetID) < o.p.Amount.Value {
		return nil, fmt.Errorf("%w: have %d, need %d", txerr.ErrInsufficientBalance, bal.Get(o.p.Amount.AssetID), o.p.Amount.Value)
	}
	return nil, nil
}

func (o *limitCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	sellerObj, _ := ctx.Chain.Accounts.Get(o.p.Seller)
	bal := ctx.Chain.BalanceOf(sellerObj.(*core.Account))
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(o.p.Amount.AssetID, -o.p.Amount.Value)
	})

	order := &core.LimitOrder{
		Seller:     o.p.Seller,
		ForSale:    o.p.Amount.Value,
		SellPrice:  core.Price{Base: o.p.Amount, Quote: o.p.MinReceive},
		Expiration: o.p.Expiration,
		FillOrKill: o.p.FillOrKill,
	}
	id := ctx.Chain.LimitOrders.Create(order)
	ctx.NoteCreated(id)

	if _, err := engineOf(ctx).MatchLimitOrder(order); err != nil {
		return err
	}
	return nil
}

// --- limit_order_cancel ---

type LimitOrderCancelPayload struct {
	Seller objdb.ID `json:"seller"`
	Order  objdb.ID `json:"order"`
}

type limitCancelOp struct{ p LimitOrderCancelPayload }

func decodeLimitOrderCancel(raw json.RawMessage) (vm.Op, error) {
	var p LimitOrderCancelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode limit_order_cancel: %w", err)
	}
	return &limitCancelOp{p}, nil
}

func (o *limitCancelOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Seller} }
func (o *limitCancelOp) RequiredOwner() []objdb.ID  { return nil }
func (o *limitCancelOp) FeePayer() objdb.ID         { return o.p.Seller }
func (o *limitCancelOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *limitCancelOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.LimitOrders.Get(o.p.Order)
	if !ok {
		return nil, fmt.Errorf("%w: order %s does not exist", txerr.ErrUnknown, o.p.Order)
	}
	if obj.(*core.LimitOrder).Seller != o.p.Seller {
		return nil, fmt.Errorf("%w: %s does not own order %s", txerr.ErrUnauthorized, o.p.Seller, o.p.Order)
	}
	return nil, nil
}

func (o *limitCancelOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	return engineOf(ctx).CancelLimitOrder(o.p.Order, o.p.Seller)
}

// --- short_order_create ---

type ShortOrderCreatePayload struct {
	Seller                     objdb.ID    `json:"seller"`
	Collateral                 core.Amount `json:"collateral"`
	MaxDebt                    core.Amount `json:"max_debt"`
	InitialCollateralRatio     uint16      `json:"initial_collateral_ratio"`
	MaintenanceCollateralRatio uint16      `json:"maintenance_collateral_ratio"`
	Expiration                 int64       `json:"expiration"`
}

type shortCreateOp struct{ p ShortOrderCreatePayload }

func decodeShortOrderCreate(raw json.RawMessage) (vm.Op, error) {
	var p ShortOrderCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode short_order_create: %w", err)
	}
	if p.Collateral.Value <= 0 || p.MaxDebt.Value <= 0 {
		return nil, fmt.Errorf("%w: amounts must be positive", txerr.ErrMalformed)
	}
	if p.MaintenanceCollateralRatio != 0 && p.MaintenanceCollateralRatio > p.InitialCollateralRatio {
		return nil, fmt.Errorf("%w: maintenance_collateral_ratio must not exceed initial_collateral_ratio", txerr.ErrMalformed)
	}
	return &shortCreateOp{p}, nil
}

func (o *shortCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Seller} }
func (o *shortCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *shortCreateOp) FeePayer() objdb.ID         { return o.p.Seller }
func (o *shortCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *shortCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	debtObj, ok := ctx.Chain.Assets.Get(o.p.MaxDebt.AssetID)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.MaxDebt.AssetID)
	}
	if !debtObj.(*core.Asset).IsMarketIssued() {
		return nil, fmt.Errorf("%w: asset %s is not market-issued", txerr.ErrMarketRule, o.p.MaxDebt.AssetID)
	}
	sellerObj, ok := ctx.Chain.Accounts.Get(o.p.Seller)
	if !ok {
		return nil, fmt.Errorf("%w: seller %s does not exist", txerr.ErrUnknown, o.p.Seller)
	}
	bal := ctx.Chain.BalanceOf(sellerObj.(*core.Account))
	if bal.Get(o.p.Collateral.AssetID) < o.p.Collateral.Value {
		return nil, fmt.Errorf("%w: insufficient collateral", txerr.ErrInsufficientCollateral)
	}
	return nil, nil
}

func (o *shortCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	sellerObj, _ := ctx.Chain.Accounts.Get(o.p.Seller)
	bal := ctx.Chain.BalanceOf(sellerObj.(*core.Account))
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(o.p.Collateral.AssetID, -o.p.Collateral.Value)
	})
	order := &core.ShortOrder{
		Seller:                     o.p.Seller,
		ForSale:                    o.p.MaxDebt.Value,
		AvailableCollateral:        o.p.Collateral.Value,
		SellPrice:                  core.Price{Base: o.p.MaxDebt, Quote: o.p.Collateral},
		CallPrice:                  market.CallPriceFor(o.p.MaxDebt, o.p.Collateral, o.p.MaintenanceCollateralRatio),
		InitialCollateralRatio:     o.p.InitialCollateralRatio,
		MaintenanceCollateralRatio: o.p.MaintenanceCollateralRatio,
		Expiration:                 o.p.Expiration,
	}
	id := ctx.Chain.ShortOrders.Create(order)
	ctx.NoteCreated(id)

	if _, err := engineOf(ctx).MatchShortOrder(order); err != nil {
		return err
	}
	return nil
}

// --- short_order_cancel ---

type ShortOrderCancelPayload struct {
	Seller objdb.ID `json:"seller"`
	Order  objdb.ID `json:"order"`
}

type shortCancelOp struct{ p ShortOrderCancelPayload }

func decodeShortOrderCancel(raw json.RawMessage) (vm.Op, error) {
	var p ShortOrderCancelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode short_order_cancel: %w", err)
	}
	return &shortCancelOp{p}, nil
}

func (o *shortCancelOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Seller} }
func (o *shortCancelOp) RequiredOwner() []objdb.ID  { return nil }
func (o *shortCancelOp) FeePayer() objdb.ID         { return o.p.Seller }
func (o *shortCancelOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *shortCancelOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.ShortOrders.Get(o.p.Order)
	if !ok {
		return nil, fmt.Errorf("%w: order %s does not exist", txerr.ErrUnknown, o.p.Order)
	}
	if obj.(*core.ShortOrder).Seller != o.p.Seller {
		return nil, fmt.Errorf("%w: %s does not own order %s", txerr.ErrUnauthorized, o.p.Seller, o.p.Order)
	}
	return nil, nil
}

func (o *shortCancelOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	obj, ok := ctx.Chain.ShortOrders.Get(o.p.Order)
	if !ok {
		return fmt.Errorf("%w: order %s does not exist", txerr.ErrUnknown, o.p.Order)
	}
	order := obj.(*core.ShortOrder)
	sellerObj, _ := ctx.Chain.Accounts.Get(order.Seller)
	bal := ctx.Chain.BalanceOf(sellerObj.(*core.Account))
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(o objdb.Object) {
		o.(*core.AccountBalance).Add(order.SellPrice.Quote.AssetID, order.AvailableCollateral)
	})
	ctx.Chain.ShortOrders.Remove(o.p.Order)
	return nil
}

// --- call_order_update ---

// CallOrderUpdatePayload adjusts the borrower's merged call order for
// DeltaDebt's asset, creating it on first use. Negative deltas repay debt
// or withdraw collateral.
type CallOrderUpdatePayload struct {
	Borrower        objdb.ID    `json:"borrower"`
	DeltaCollateral core.Amount `json:"delta_collateral"`
	DeltaDebt       core.Amount `json:"delta_debt"`
}

type callUpdateOp struct{ p CallOrderUpdatePayload }

func decodeCallOrderUpdate(raw json.RawMessage) (vm.Op, error) {
	var p CallOrderUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode call_order_update: %w", err)
	}
	return &callUpdateOp{p}, nil
}

func (o *callUpdateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Borrower} }
func (o *callUpdateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *callUpdateOp) FeePayer() objdb.ID         { return o.p.Borrower }
func (o *callUpdateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

// maintenanceRatioFor reads the debt asset's published median feed so a
// call order's CallPrice tracks the same ratio the network's margin calls
// are scored against (falls back to market.CallPriceFor's 175% default for
// an asset with no BitassetData or no live feed).
func maintenanceRatioFor(ctx *vm.Context, debtAsset objdb.ID) uint16 {
	assetObj, ok := ctx.Chain.Assets.Get(debtAsset)
	if !ok {
		return 0
	}
	asset := assetObj.(*core.Asset)
	if asset.BitassetData == (objdb.ID{}) {
		return 0
	}
	bitObj, ok := ctx.Chain.BitassetDatas.Get(asset.BitassetData)
	if !ok {
		return 0
	}
	return bitObj.(*core.BitassetData).MedianFeed.MaintenanceCollateralRatio
}

func (o *callUpdateOp) findCall(ctx *vm.Context) (*core.CallOrder, bool) {
	var found *core.CallOrder
	ctx.Chain.CallOrders.Each(func(obj objdb.Object) {
		c := obj.(*core.CallOrder)
		if c.Borrower == o.p.Borrower && c.DebtAsset == o.p.DeltaDebt.AssetID {
			found = c
		}
	})
	return found, found != nil
}

func (o *callUpdateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	borrowerObj, ok := ctx.Chain.Accounts.Get(o.p.Borrower)
	if !ok {
		return nil, fmt.Errorf("%w: borrower %s does not exist", txerr.ErrUnknown, o.p.Borrower)
	}
	bal := ctx.Chain.BalanceOf(borrowerObj.(*core.Account))
	if o.p.DeltaCollateral.Value > 0 && bal.Get(o.p.DeltaCollateral.AssetID) < o.p.DeltaCollateral.Value {
		return nil, fmt.Errorf("%w: insufficient collateral to add", txerr.ErrInsufficientBalance)
	}
	return nil, nil
}

func (o *callUpdateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	borrowerObj, _ := ctx.Chain.Accounts.Get(o.p.Borrower)
	bal := ctx.Chain.BalanceOf(borrowerObj.(*core.Account))

	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		b := obj.(*core.AccountBalance)
		b.Add(o.p.DeltaCollateral.AssetID, -o.p.DeltaCollateral.Value)
		b.Add(o.p.DeltaDebt.AssetID, o.p.DeltaDebt.Value)
	})
	if dynID := assetDynamicDataID(ctx, o.p.DeltaDebt.AssetID); dynID != (objdb.ID{}) {
		ctx.Chain.DynamicAssetDatas.Modify(dynID, func(obj objdb.Object) {
			obj.(*core.DynamicAssetData).CurrentSupply += o.p.DeltaDebt.Value
		})
	}

	maintenanceRatio := maintenanceRatioFor(ctx, o.p.DeltaDebt.AssetID)
	engine := engineOf(ctx)
	wasNew := false
	if _, ok := o.findCall(ctx); !ok {
		wasNew = true
	}
	id := engine.UpsertCallOrder(o.p.Borrower, o.p.DeltaDebt, o.p.DeltaCollateral, maintenanceRatio)
	if wasNew {
		ctx.NoteCreated(id)
	}
	return nil
}

func assetDynamicDataID(ctx *vm.Context, assetID objdb.ID) objdb.ID {
	obj, ok := ctx.Chain.Assets.Get(assetID)
	if !ok {
		return objdb.ID{}
	}
	return obj.(*core.Asset).DynamicData
}

// --- force_settle ---

type ForceSettlePayload struct {
	Owner  objdb.ID    `json:"owner"`
	Amount core.Amount `json:"amount"`
}

type forceSettleOp struct{ p ForceSettlePayload }

func decodeForceSettle(raw json.RawMessage) (vm.Op, error) {
	var p ForceSettlePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode force_settle: %w", err)
	}
	if p.Amount.Value <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", txerr.ErrMalformed)
	}
	return &forceSettleOp{p}, nil
}

func (o *forceSettleOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Owner} }
func (o *forceSettleOp) RequiredOwner() []objdb.ID  { return nil }
func (o *forceSettleOp) FeePayer() objdb.ID         { return o.p.Owner }
func (o *forceSettleOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *forceSettleOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	assetObj, ok := ctx.Chain.Assets.Get(o.p.Amount.AssetID)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.Amount.AssetID)
	}
	if !assetObj.(*core.Asset).IsMarketIssued() {
		return nil, fmt.Errorf("%w: asset %s is not market-issued", txerr.ErrMarketRule, o.p.Amount.AssetID)
	}
	ownerObj, ok := ctx.Chain.Accounts.Get(o.p.Owner)
	if !ok {
		return nil, fmt.Errorf("%w: owner %s does not exist", txerr.ErrUnknown, o.p.Owner)
	}
	bal := ctx.Chain.BalanceOf(ownerObj.(*core.Account))
	if bal.Get(o.p.Amount.AssetID) < o.p.Amount.Value {
		return nil, fmt.Errorf("%w: insufficient balance to settle", txerr.ErrInsufficientBalance)
	}
	return nil, nil
}

func (o *forceSettleOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	ownerObj, _ := ctx.Chain.Accounts.Get(o.p.Owner)
	bal := ctx.Chain.BalanceOf(ownerObj.(*core.Account))
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(o.p.Amount.AssetID, -o.p.Amount.Value)
	})
	id := ctx.Chain.ForceSettlements.Create(&core.ForceSettlement{
		Owner:      o.p.Owner,
		AssetID:    o.p.Amount.AssetID,
		Amount:     o.p.Amount.Value,
		Settlement: ctx.Now + forceSettlementDelay(ctx, o.p.Amount.AssetID),
	})
	ctx.NoteCreated(id)
	return nil
}

// forceSettlementDelay reads the asset's configured delay off its
// BitassetData (set at asset_create time), falling back to BitShares'
// canonical one-day delay when the asset was created without one.
func forceSettlementDelay(ctx *vm.Context, assetID objdb.ID) int64 {
	assetObj, ok := ctx.Chain.Assets.Get(assetID)
	if !ok {
		return 86400
	}
	asset := assetObj.(*core.Asset)
	if asset.BitassetData == (objdb.ID{}) {
		return 86400
	}
	bitObj, ok := ctx.Chain.BitassetDatas.Get(asset.BitassetData)
	if !ok {
		return 86400
	}
	if delay := bitObj.(*core.BitassetData).ForceSettlementDelaySec; delay > 0 {
		return delay
	}
	return 86400
}
