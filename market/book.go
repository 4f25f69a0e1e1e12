// Package market implements the matching engine (C7): limit order
// matching, short order conversion into call orders, margin call scanning
// and forced liquidation, and force settlement at the feed price.
package market

import (
	"math/big"

	"go.uber.org/zap"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/fees"
)

// packageLogger is the structured logger for the matching loop, which runs
// per resting order crossed and is too high-volume for plain log.Printf.
// SetLogger overrides it; the default is a no-op.
var packageLogger = zap.NewNop()

// SetLogger installs the *zap.Logger used for fill and margin-call logging.
func SetLogger(l *zap.Logger) { packageLogger = l }

// Fill is one matched trade, reported for events/indexing.
type Fill struct {
	Taker, Maker objdb.ID
	Price        core.Price
	BaseAmount   int64 // in taker.SellPrice.Base's asset
	QuoteAmount  int64 // in taker.SellPrice.Quote's asset
}

// Engine bundles the chain and fee schedule every matching operation needs
// to credit balances and charge market fees.
type Engine struct {
	Chain   *core.Chain
	Fees    *fees.Schedule
	Emitter *events.Emitter
}

func New(chain *core.Chain, sched *fees.Schedule, emitter *events.Emitter) *Engine {
	return &Engine{Chain: chain, Fees: sched, Emitter: emitter}
}

// crosses reports whether a taker order selling taker.Base for taker.Quote
// can trade against a resting maker order selling maker.Base(=taker.Quote's
// asset) for maker.Quote(=taker.Base's asset): cross-multiplied so no
// division rounds away a valid match (spec's 128-bit-safe arithmetic note).
func crosses(taker, maker core.Price) bool {
	lhs := new(big.Int).Mul(big.NewInt(taker.Quote.Value), big.NewInt(maker.Quote.Value))
	rhs := new(big.Int).Mul(big.NewInt(taker.Base.Value), big.NewInt(maker.Base.Value))
	return lhs.Cmp(rhs) <= 0
}

// restingOrders returns every live LimitOrder selling want for give,
// i.e. the opposite side of a market whose taker sells give for want.
func (e *Engine) restingOrders(give, want objdb.ID) []*core.LimitOrder {
	var out []*core.LimitOrder
	e.Chain.LimitOrders.Each(func(obj objdb.Object) {
		o := obj.(*core.LimitOrder)
		if o.SellPrice.Base.AssetID == want && o.SellPrice.Quote.AssetID == give {
			out = append(out, o)
		}
	})
	// Best price first: lowest maker.Quote/maker.Base (maker wants least of
	// the taker's asset per unit given), tie-broken by order id (FIFO).
	sortOrdersByPrice(out)
	return out
}

func sortOrdersByPrice(os []*core.LimitOrder) {
	for i := 1; i < len(os); i++ {
		for j := i; j > 0; j-- {
			a, b := os[j-1], os[j]
			if betterOrEqual(a, b) {
				break
			}
			os[j-1], os[j] = os[j], os[j-1]
		}
	}
}

// betterOrEqual reports whether a should match before b: a's price is
// better (buys more of the counter asset per unit sold) or, tied, a has
// the lower instance id (arrived first).
func betterOrEqual(a, b *core.LimitOrder) bool {
	lhs := new(big.Int).Mul(big.NewInt(a.SellPrice.Quote.Value), big.NewInt(b.SellPrice.Base.Value))
	rhs := new(big.Int).Mul(big.NewInt(b.SellPrice.Quote.Value), big.NewInt(a.SellPrice.Base.Value))
	c := lhs.Cmp(rhs)
	if c != 0 {
		return c < 0
	}
	return a.ObjID().Instance <= b.ObjID().Instance
}

// MatchLimitOrder matches a newly-created (and already persisted) taker
// order against resting opposite orders until it is either fully filled
// or no crossing liquidity remains. A fill-or-kill taker that is not fully
// filled by then returns txerr.ErrMarketRule (the fills already settled are
// undone when the caller discards its undo session). Otherwise a partial
// remainder stays resting in the order book (it is already an object in
// LimitOrders).
func (e *Engine) MatchLimitOrder(taker *core.LimitOrder) ([]Fill, error) {
	var fills []Fill
	giveAsset := taker.SellPrice.Base.AssetID
	wantAsset := taker.SellPrice.Quote.AssetID

	for taker.ForSale > 0 {
		resting := e.restingOrders(giveAsset, wantAsset)
		var maker *core.LimitOrder
		for _, m := range resting {
			if m.ObjID() == taker.ObjID() {
				continue
			}
			maker = m
			break
		}
		if maker == nil || !crosses(taker.SellPrice, maker.SellPrice) {
			break
		}

		price := maker.SellPrice // maker sets the trade price
		baseGive := taker.ForSale
		quoteForFullBase := price.Invert().Convert(baseGive)
		var baseTraded, quoteTraded int64
		if quoteForFullBase <= maker.ForSale {
			baseTraded = baseGive
			quoteTraded = quoteForFullBase
		} else {
			quoteTraded = maker.ForSale
			baseTraded = price.Convert(quoteTraded)
			if baseTraded > baseGive {
				baseTraded = baseGive
			}
		}
		if baseTraded == 0 || quoteTraded == 0 {
			break
		}

		if err := e.settleTrade(taker, maker, baseTraded, quoteTraded); err != nil {
			return fills, err
		}
		packageLogger.Debug("order matched",
			zap.String("taker", taker.ObjID().String()), zap.String("maker", maker.ObjID().String()),
			zap.Int64("base", baseTraded), zap.Int64("quote", quoteTraded))
		fills = append(fills, Fill{Taker: taker.ObjID(), Maker: maker.ObjID(), Price: price, BaseAmount: baseTraded, QuoteAmount: quoteTraded})

		taker.ForSale -= baseTraded
		e.Chain.LimitOrders.Modify(maker.ObjID(), func(obj objdb.Object) {
			obj.(*core.LimitOrder).ForSale -= quoteTraded
		})
		if maker.ForSale-quoteTraded <= 0 {
			e.closeLimitOrder(maker.ObjID())
		}
	}

	if taker.FillOrKill && taker.ForSale > 0 {
		return fills, txerr.ErrMarketRule
	}
	e.Chain.LimitOrders.Modify(taker.ObjID(), func(obj objdb.Object) {
		obj.(*core.LimitOrder).ForSale = taker.ForSale
	})
	if taker.ForSale == 0 {
		e.closeLimitOrder(taker.ObjID())
	}
	if e.Emitter != nil {
		for _, f := range fills {
			e.Emitter.Emit(events.Event{Type: events.EventOrderFill, Data: map[string]any{
				"taker": f.Taker.String(), "maker": f.Maker.String(), "base": f.BaseAmount, "quote": f.QuoteAmount,
			}})
		}
	}
	return fills, nil
}

// settleTrade credits each side with what it is owed from the trade. The
// asset each side gave was already moved out of its balance into escrow
// when its order was created (see limitCreateOp.Apply in
// vm/modules/marketops); settleTrade
// only ever credits, net of the market fee withheld on the receiving side.
func (e *Engine) settleTrade(taker, maker *core.LimitOrder, baseTraded, quoteTraded int64) error {
	takerBal, err := e.balanceOfAccount(taker.Seller)
	if err != nil {
		return err
	}
	makerBal, err := e.balanceOfAccount(maker.Seller)
	if err != nil {
		return err
	}

	giveAsset := taker.SellPrice.Base.AssetID
	wantAsset := taker.SellPrice.Quote.AssetID

	baseFee := e.marketFee(giveAsset, baseTraded)
	quoteFee := e.marketFee(wantAsset, quoteTraded)

	e.Chain.AccountBalances.Modify(takerBal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(wantAsset, quoteTraded-quoteFee)
	})
	e.Chain.AccountBalances.Modify(makerBal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(giveAsset, baseTraded-baseFee)
	})
	return nil
}

// marketFee returns the fee withheld from an amount of asset traded,
// credited to the asset's accumulated_fees, per its market_fee_percent
// (basis points out of 10000).
func (e *Engine) marketFee(assetID objdb.ID, amount int64) int64 {
	obj, ok := e.Chain.Assets.Get(assetID)
	if !ok {
		return 0
	}
	asset := obj.(*core.Asset)
	if asset.Permissions&core.PermChargeMarketFee == 0 || asset.MarketFeePercent == 0 {
		return 0
	}
	fee := amount * int64(asset.MarketFeePercent) / 10000
	if fee > 0 {
		e.Chain.DynamicAssetDatas.Modify(asset.DynamicData, func(obj objdb.Object) {
			obj.(*core.DynamicAssetData).AccumulatedFees += fee
		})
	}
	return fee
}

func (e *Engine) balanceOfAccount(account objdb.ID) (*core.AccountBalance, error) {
	obj, ok := e.Chain.Accounts.Get(account)
	if !ok {
		return nil, txerr.ErrUnknown
	}
	bal := e.Chain.BalanceOf(obj.(*core.Account))
	if bal == nil {
		return nil, txerr.ErrUnknown
	}
	return bal, nil
}

func (e *Engine) closeLimitOrder(id objdb.ID) {
	obj, ok := e.Chain.LimitOrders.Get(id)
	if !ok {
		return
	}
	order := obj.(*core.LimitOrder)
	if order.DeferredFee > 0 {
		bal, err := e.balanceOfAccount(order.Seller)
		if err == nil {
			e.Chain.AccountBalances.Modify(bal.ObjID(), func(o objdb.Object) {
				o.(*core.AccountBalance).Add(core.CoreAssetID, order.DeferredFee)
			})
		}
	}
	e.Chain.LimitOrders.Remove(id)
}

// CancelLimitOrder removes order, returning its unsold balance and
// deferred fee to the seller.
func (e *Engine) CancelLimitOrder(id objdb.ID, canceller objdb.ID) error {
	obj, ok := e.Chain.LimitOrders.Get(id)
	if !ok {
		return txerr.ErrUnknown
	}
	order := obj.(*core.LimitOrder)
	if order.Seller != canceller {
		return txerr.ErrUnauthorized
	}
	bal, err := e.balanceOfAccount(order.Seller)
	if err != nil {
		return err
	}
	e.Chain.AccountBalances.Modify(bal.ObjID(), func(o objdb.Object) {
		o.(*core.AccountBalance).Add(order.SellPrice.Base.AssetID, order.ForSale)
	})
	e.closeLimitOrder(id)
	if e.Emitter != nil {
		e.Emitter.Emit(events.Event{Type: events.EventOrderCancel, Data: map[string]any{"order": id.String()}})
	}
	return nil
}

// ExpireOrders cancels every limit order whose expiration has passed, run
// once per block from the end-of-block hook (§4.5).
func (e *Engine) ExpireOrders(now int64) {
	var expired []objdb.ID
	e.Chain.LimitOrders.Each(func(obj objdb.Object) {
		o := obj.(*core.LimitOrder)
		if o.Expiration != 0 && o.Expiration <= now {
			expired = append(expired, o.ObjID())
		}
	})
	for _, id := range expired {
		obj, ok := e.Chain.LimitOrders.Get(id)
		if !ok {
			continue
		}
		e.CancelLimitOrder(id, obj.(*core.LimitOrder).Seller)
	}
}
