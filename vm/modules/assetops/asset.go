// Package assetops implements the asset lifecycle operations: creation,
// parameter update, issuance, fee-pool funding, whitelisting, feed
// publication, and global settlement of market-issued assets.
package assetops

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/vm"
)

func init() {
	vm.Register(core.OpAssetCreate, decodeAssetCreate)
	vm.Register(core.OpAssetUpdate, decodeAssetUpdate)
	vm.Register(core.OpAssetIssue, decodeAssetIssue)
	vm.Register(core.OpAssetFundFeePool, decodeFundFeePool)
	vm.Register(core.OpAssetWhitelist, decodeAssetWhitelist)
	vm.Register(core.OpAssetPublishFeed, decodePublishFeed)
	vm.Register(core.OpAssetGlobalSettle, decodeGlobalSettle)
}

// --- asset_create ---

type AssetCreatePayload struct {
	Issuer                       objdb.ID             `json:"issuer"`
	Symbol                       string               `json:"symbol"`
	Precision                    uint8                `json:"precision"`
	MaxSupply                    int64                `json:"max_supply"`
	Permissions                  core.AssetPermission `json:"permissions"`
	Flags                        core.AssetPermission `json:"flags"`
	CoreExchangeRate             core.Price           `json:"core_exchange_rate"`
	MarketFeePercent             uint16               `json:"market_fee_percent"`
	IsMarketIssued               bool                 `json:"is_market_issued"`
	BackingAsset                 objdb.ID             `json:"backing_asset,omitempty"`
	FeedLifetimeSec              int64                `json:"feed_lifetime_sec,omitempty"`
	ForceSettlementOffsetPercent uint16               `json:"force_settlement_offset_percent,omitempty"`
	ForceSettlementDelaySec      int64                `json:"force_settlement_delay_sec,omitempty"`
}

type assetCreateOp struct{ p AssetCreatePayload }

func decodeAssetCreate(raw json.RawMessage) (vm.Op, error) {
	var p AssetCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode asset_create: %w", err)
	}
	if p.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", txerr.ErrMalformed)
	}
	if p.MaxSupply <= 0 || p.MaxSupply > core.MaxShares {
		return nil, fmt.Errorf("%w: max_supply out of range", txerr.ErrMalformed)
	}
	if p.FeedLifetimeSec == 0 {
		p.FeedLifetimeSec = 86400
	}
	if p.IsMarketIssued {
		if p.ForceSettlementDelaySec == 0 {
			p.ForceSettlementDelaySec = 86400
		}
		if p.ForceSettlementOffsetPercent == 0 {
			p.ForceSettlementOffsetPercent = 100 // 1%, BitShares' default
		}
	}
	return &assetCreateOp{p}, nil
}

func (o *assetCreateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Issuer} }
func (o *assetCreateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *assetCreateOp) FeePayer() objdb.ID         { return o.p.Issuer }
func (o *assetCreateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *assetCreateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	if _, ok := ctx.Chain.Accounts.Get(o.p.Issuer); !ok {
		return nil, fmt.Errorf("%w: issuer %s does not exist", txerr.ErrUnknown, o.p.Issuer)
	}
	if _, exists := ctx.Chain.AssetBySymbol(o.p.Symbol); exists {
		return nil, fmt.Errorf("%w: symbol %q already registered", txerr.ErrDuplicate, o.p.Symbol)
	}
	if o.p.IsMarketIssued {
		if _, ok := ctx.Chain.Assets.Get(o.p.BackingAsset); !ok {
			return nil, fmt.Errorf("%w: backing asset %s does not exist", txerr.ErrUnknown, o.p.BackingAsset)
		}
	}
	return nil, nil
}

func (o *assetCreateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	perms := o.p.Permissions
	if o.p.IsMarketIssued {
		perms |= core.PermMarketIssued
	}
	asset := &core.Asset{
		Symbol:           o.p.Symbol,
		Issuer:           o.p.Issuer,
		Precision:        o.p.Precision,
		MaxSupply:        o.p.MaxSupply,
		Permissions:      perms,
		Flags:            o.p.Flags,
		CoreExchangeRate: o.p.CoreExchangeRate,
		MarketFeePercent: o.p.MarketFeePercent,
	}
	assetID := ctx.Chain.Assets.Create(asset)
	dynID := ctx.Chain.DynamicAssetDatas.Create(&core.DynamicAssetData{AssetID: assetID})
	ctx.Chain.Assets.Modify(assetID, func(obj objdb.Object) {
		obj.(*core.Asset).DynamicData = dynID
	})

	if o.p.IsMarketIssued {
		bitID := ctx.Chain.BitassetDatas.Create(&core.BitassetData{
			AssetID:                      assetID,
			BackingAsset:                 o.p.BackingAsset,
			FeedLifetimeSec:              o.p.FeedLifetimeSec,
			ForceSettlementOffsetPercent: o.p.ForceSettlementOffsetPercent,
			ForceSettlementDelaySec:      o.p.ForceSettlementDelaySec,
		})
		ctx.Chain.Assets.Modify(assetID, func(obj objdb.Object) {
			obj.(*core.Asset).BitassetData = bitID
			obj.(*core.Asset).ShortBackingAsset = o.p.BackingAsset
		})
	}

	ctx.NoteCreated(assetID)
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{Type: events.EventAssetCreate, TxID: ctx.Tx.ID, Data: map[string]any{"asset": assetID.String(), "symbol": o.p.Symbol}})
	}
	return nil
}

// --- asset_update ---

type AssetUpdatePayload struct {
	Issuer              objdb.ID              `json:"issuer"`
	Asset               objdb.ID              `json:"asset"`
	NewCoreExchange     *core.Price           `json:"new_core_exchange_rate,omitempty"`
	NewMarketFeePercent *uint16               `json:"new_market_fee_percent,omitempty"`
	NewFlags            *core.AssetPermission `json:"new_flags,omitempty"`
}

type assetUpdateOp struct{ p AssetUpdatePayload }

func decodeAssetUpdate(raw json.RawMessage) (vm.Op, error) {
	var p AssetUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode asset_update: %w", err)
	}
	return &assetUpdateOp{p}, nil
}

func (o *assetUpdateOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Issuer} }
func (o *assetUpdateOp) RequiredOwner() []objdb.ID  { return nil }
func (o *assetUpdateOp) FeePayer() objdb.ID         { return o.p.Issuer }
func (o *assetUpdateOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *assetUpdateOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.Assets.Get(o.p.Asset)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.Asset)
	}
	asset := obj.(*core.Asset)
	if asset.Issuer != o.p.Issuer {
		return nil, fmt.Errorf("%w: %s is not the issuer of %s", txerr.ErrUnauthorized, o.p.Issuer, o.p.Asset)
	}
	return nil, nil
}

func (o *assetUpdateOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	ctx.Chain.Assets.Modify(o.p.Asset, func(obj objdb.Object) {
		a := obj.(*core.Asset)
		if o.p.NewCoreExchange != nil {
			a.CoreExchangeRate = *o.p.NewCoreExchange
		}
		if o.p.NewMarketFeePercent != nil {
			a.MarketFeePercent = *o.p.NewMarketFeePercent
		}
		if o.p.NewFlags != nil {
			a.Flags = *o.p.NewFlags
		}
	})
	return nil
}

// --- asset_issue ---

type AssetIssuePayload struct {
	Issuer    objdb.ID    `json:"issuer"`
	AssetIssue core.Amount `json:"asset_to_issue"`
	IssueTo   objdb.ID    `json:"issue_to_account"`
}

type assetIssueOp struct{ p AssetIssuePayload }

func decodeAssetIssue(raw json.RawMessage) (vm.Op, error) {
	var p AssetIssuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode asset_issue: %w", err)
	}
	if p.AssetIssue.Value <= 0 {
		return nil, fmt.Errorf("%w: issue amount must be positive", txerr.ErrMalformed)
	}
	return &assetIssueOp{p}, nil
}

func (o *assetIssueOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Issuer} }
func (o *assetIssueOp) RequiredOwner() []objdb.ID  { return nil }
func (o *assetIssueOp) FeePayer() objdb.ID         { return o.p.Issuer }
func (o *assetIssueOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *assetIssueOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.Assets.Get(o.p.AssetIssue.AssetID)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.AssetIssue.AssetID)
	}
	asset := obj.(*core.Asset)
	if asset.Issuer != o.p.Issuer {
		return nil, fmt.Errorf("%w: %s is not the issuer of %s", txerr.ErrUnauthorized, o.p.Issuer, o.p.AssetIssue.AssetID)
	}
	if asset.IsMarketIssued() {
		return nil, fmt.Errorf("%w: market-issued assets cannot be issued directly", txerr.ErrMarketRule)
	}
	if _, ok := ctx.Chain.Accounts.Get(o.p.IssueTo); !ok {
		return nil, fmt.Errorf("%w: recipient %s does not exist", txerr.ErrUnknown, o.p.IssueTo)
	}
	dynObj, _ := ctx.Chain.DynamicAssetDatas.Get(asset.DynamicData)
	dyn := dynObj.(*core.DynamicAssetData)
	if dyn.CurrentSupply+o.p.AssetIssue.Value > asset.MaxSupply {
		return nil, fmt.Errorf("%w: issuing %d would exceed max supply %d", txerr.ErrInvariantViolated, o.p.AssetIssue.Value, asset.MaxSupply)
	}
	return nil, nil
}

func (o *assetIssueOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	obj, _ := ctx.Chain.Assets.Get(o.p.AssetIssue.AssetID)
	asset := obj.(*core.Asset)
	ctx.Chain.DynamicAssetDatas.Modify(asset.DynamicData, func(obj objdb.Object) {
		obj.(*core.DynamicAssetData).CurrentSupply += o.p.AssetIssue.Value
	})
	toObj, _ := ctx.Chain.Accounts.Get(o.p.IssueTo)
	bal := ctx.Chain.BalanceOf(toObj.(*core.Account))
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(o.p.AssetIssue.AssetID, o.p.AssetIssue.Value)
	})
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{Type: events.EventAssetIssue, TxID: ctx.Tx.ID, Data: map[string]any{"asset": o.p.AssetIssue.AssetID.String(), "amount": o.p.AssetIssue.Value, "to": o.p.IssueTo.String()}})
	}
	return nil
}

// --- asset_fund_fee_pool ---

type FundFeePoolPayload struct {
	Funder objdb.ID `json:"funder"`
	Asset  objdb.ID `json:"asset"`
	Amount int64    `json:"amount"` // core asset
}

type fundFeePoolOp struct{ p FundFeePoolPayload }

func decodeFundFeePool(raw json.RawMessage) (vm.Op, error) {
	var p FundFeePoolPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode asset_fund_fee_pool: %w", err)
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", txerr.ErrMalformed)
	}
	return &fundFeePoolOp{p}, nil
}

func (o *fundFeePoolOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Funder} }
func (o *fundFeePoolOp) RequiredOwner() []objdb.ID  { return nil }
func (o *fundFeePoolOp) FeePayer() objdb.ID         { return o.p.Funder }
func (o *fundFeePoolOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *fundFeePoolOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	funderObj, ok := ctx.Chain.Accounts.Get(o.p.Funder)
	if !ok {
		return nil, fmt.Errorf("%w: funder %s does not exist", txerr.ErrUnknown, o.p.Funder)
	}
	if _, ok := ctx.Chain.Assets.Get(o.p.Asset); !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.Asset)
	}
	bal := ctx.Chain.BalanceOf(funderObj.(*core.Account))
	if bal.Get(core.CoreAssetID) < o.p.Amount {
		return nil, fmt.Errorf("%w: need %d core to fund fee pool", txerr.ErrInsufficientBalance, o.p.Amount)
	}
	return nil, nil
}

func (o *fundFeePoolOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	funderObj, _ := ctx.Chain.Accounts.Get(o.p.Funder)
	bal := ctx.Chain.BalanceOf(funderObj.(*core.Account))
	ctx.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(core.CoreAssetID, -o.p.Amount)
	})
	assetObj, _ := ctx.Chain.Assets.Get(o.p.Asset)
	asset := assetObj.(*core.Asset)
	ctx.Chain.DynamicAssetDatas.Modify(asset.DynamicData, func(obj objdb.Object) {
		obj.(*core.DynamicAssetData).FeePool += o.p.Amount
	})
	return nil
}

// --- asset_whitelist ---

type AssetWhitelistPayload struct {
	Issuer       objdb.ID `json:"issuer"`
	Asset        objdb.ID `json:"asset"`
	AccountToList objdb.ID `json:"account_to_list"`
	Listed       bool     `json:"listed"`
}

type assetWhitelistOp struct{ p AssetWhitelistPayload }

func decodeAssetWhitelist(raw json.RawMessage) (vm.Op, error) {
	var p AssetWhitelistPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode asset_whitelist: %w", err)
	}
	return &assetWhitelistOp{p}, nil
}

func (o *assetWhitelistOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Issuer} }
func (o *assetWhitelistOp) RequiredOwner() []objdb.ID  { return nil }
func (o *assetWhitelistOp) FeePayer() objdb.ID         { return o.p.Issuer }
func (o *assetWhitelistOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *assetWhitelistOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.Assets.Get(o.p.Asset)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.Asset)
	}
	asset := obj.(*core.Asset)
	if asset.Issuer != o.p.Issuer {
		return nil, fmt.Errorf("%w: %s is not the issuer of %s", txerr.ErrUnauthorized, o.p.Issuer, o.p.Asset)
	}
	if asset.Permissions&core.PermWhitelist == 0 {
		return nil, fmt.Errorf("%w: asset %s does not use whitelisting", txerr.ErrMarketRule, o.p.Asset)
	}
	if _, ok := ctx.Chain.Accounts.Get(o.p.AccountToList); !ok {
		return nil, fmt.Errorf("%w: account %s does not exist", txerr.ErrUnknown, o.p.AccountToList)
	}
	return nil, nil
}

func (o *assetWhitelistOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{Type: events.EventAssetCreate, TxID: ctx.Tx.ID, Data: map[string]any{"whitelist_asset": o.p.Asset.String(), "account": o.p.AccountToList.String(), "listed": o.p.Listed}})
	}
	return nil
}

// --- asset_publish_feed ---

type PublishFeedPayload struct {
	Publisher objdb.ID       `json:"publisher"`
	Asset     objdb.ID       `json:"asset"`
	Feed      core.PriceFeed `json:"feed"`
}

type publishFeedOp struct{ p PublishFeedPayload }

func decodePublishFeed(raw json.RawMessage) (vm.Op, error) {
	var p PublishFeedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode asset_publish_feed: %w", err)
	}
	return &publishFeedOp{p}, nil
}

func (o *publishFeedOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Publisher} }
func (o *publishFeedOp) RequiredOwner() []objdb.ID  { return nil }
func (o *publishFeedOp) FeePayer() objdb.ID         { return o.p.Publisher }
func (o *publishFeedOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *publishFeedOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.Assets.Get(o.p.Asset)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.Asset)
	}
	asset := obj.(*core.Asset)
	if !asset.IsMarketIssued() {
		return nil, fmt.Errorf("%w: asset %s is not market-issued", txerr.ErrMarketRule, o.p.Asset)
	}
	if _, ok := ctx.Chain.Accounts.Get(o.p.Publisher); !ok {
		return nil, fmt.Errorf("%w: publisher %s does not exist", txerr.ErrUnknown, o.p.Publisher)
	}
	return nil, nil
}

func (o *publishFeedOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	obj, _ := ctx.Chain.Assets.Get(o.p.Asset)
	asset := obj.(*core.Asset)
	ctx.Chain.BitassetDatas.Modify(asset.BitassetData, func(bobj objdb.Object) {
		bit := bobj.(*core.BitassetData)
		if bit.Feeds == nil {
			bit.Feeds = make(map[uint64]core.FeedEntry)
		}
		bit.Feeds[o.p.Publisher.Instance] = core.FeedEntry{Feed: o.p.Feed, Published: ctx.Now}
		bit.MedianFeed = medianFeed(bit.Feeds, bit.FeedLifetimeSec, ctx.Now)
	})
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{Type: events.EventFeedPublish, TxID: ctx.Tx.ID, Data: map[string]any{"asset": o.p.Asset.String(), "publisher": o.p.Publisher.String()}})
	}
	return nil
}

// --- asset_global_settle ---

type GlobalSettlePayload struct {
	Issuer       objdb.ID `json:"issuer"`
	Asset        objdb.ID `json:"asset"`
	SettlePrice  core.Price `json:"settle_price"`
}

type globalSettleOp struct{ p GlobalSettlePayload }

func decodeGlobalSettle(raw json.RawMessage) (vm.Op, error) {
	var p GlobalSettlePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode asset_global_settle: %w", err)
	}
	return &globalSettleOp{p}, nil
}

func (o *globalSettleOp) RequiredActive() []objdb.ID { return []objdb.ID{o.p.Issuer} }
func (o *globalSettleOp) RequiredOwner() []objdb.ID  { return nil }
func (o *globalSettleOp) FeePayer() objdb.ID         { return o.p.Issuer }
func (o *globalSettleOp) DeclaredFee() core.Amount   { return core.Amount{AssetID: core.CoreAssetID} }

func (o *globalSettleOp) Evaluate(ctx *vm.Context) (vm.Delta, error) {
	obj, ok := ctx.Chain.Assets.Get(o.p.Asset)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s does not exist", txerr.ErrUnknown, o.p.Asset)
	}
	asset := obj.(*core.Asset)
	if !asset.IsMarketIssued() {
		return nil, fmt.Errorf("%w: asset %s is not market-issued", txerr.ErrMarketRule, o.p.Asset)
	}
	if asset.Issuer != o.p.Issuer {
		return nil, fmt.Errorf("%w: %s is not the issuer of %s", txerr.ErrUnauthorized, o.p.Issuer, o.p.Asset)
	}
	bitObj, _ := ctx.Chain.BitassetDatas.Get(asset.BitassetData)
	if bitObj.(*core.BitassetData).GlobalSettled {
		return nil, fmt.Errorf("%w: asset %s already globally settled", txerr.ErrInvariantViolated, o.p.Asset)
	}
	return nil, nil
}

// Apply marks the bitasset globally settled at the issuer-declared price.
// It closes no call orders and converts no holder balances: afterwards a
// force settlement of the asset is paid at that price (market's settleOne),
// and market.Engine.SettleGlobalHolder converts one holder's balance, but no
// operation calls it.
func (o *globalSettleOp) Apply(ctx *vm.Context, _ vm.Delta) error {
	obj, _ := ctx.Chain.Assets.Get(o.p.Asset)
	asset := obj.(*core.Asset)
	ctx.Chain.BitassetDatas.Modify(asset.BitassetData, func(bobj objdb.Object) {
		bit := bobj.(*core.BitassetData)
		bit.GlobalSettled = true
		bit.GlobalSettlePrice = o.p.SettlePrice
	})
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{Type: events.EventGlobalSettle, TxID: ctx.Tx.ID, Data: map[string]any{"asset": o.p.Asset.String()}})
	}
	return nil
}

// medianFeed drops expired entries and takes a field-wise median of the
// rest: each field is sorted across the live feeds on its own and its
// middle element kept, so the result need not equal any single published
// feed.
func medianFeed(feeds map[uint64]core.FeedEntry, lifetimeSec, now int64) core.PriceFeed {
	live := make([]core.PriceFeed, 0, len(feeds))
	for _, e := range feeds {
		if now-e.Published > lifetimeSec {
			continue
		}
		live = append(live, e.Feed)
	}
	if len(live) == 0 {
		return core.PriceFeed{}
	}
	mid := len(live) / 2
	pick := func(less func(a, b core.PriceFeed) bool) core.PriceFeed {
		sort.Slice(live, func(i, j int) bool { return less(live[i], live[j]) })
		return live[mid]
	}
	return core.PriceFeed{
		SettlementPrice:            pick(func(a, b core.PriceFeed) bool { return a.SettlementPrice.Less(b.SettlementPrice) }).SettlementPrice,
		CallLimit:                  pick(func(a, b core.PriceFeed) bool { return a.CallLimit.Less(b.CallLimit) }).CallLimit,
		ShortLimit:                 pick(func(a, b core.PriceFeed) bool { return a.ShortLimit.Less(b.ShortLimit) }).ShortLimit,
		MaxMarginPeriodSec:         pick(func(a, b core.PriceFeed) bool { return a.MaxMarginPeriodSec < b.MaxMarginPeriodSec }).MaxMarginPeriodSec,
		MaintenanceCollateralRatio: pick(func(a, b core.PriceFeed) bool { return a.MaintenanceCollateralRatio < b.MaintenanceCollateralRatio }).MaintenanceCollateralRatio,
		InitialCollateralRatio:     pick(func(a, b core.PriceFeed) bool { return a.InitialCollateralRatio < b.InitialCollateralRatio }).InitialCollateralRatio,
	}
}
