package market

import (
	"go.uber.org/zap"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/events"
)

// defaultMaintenanceCollateralRatio is BitShares' canonical 175% fallback,
// used whenever a short or call order carries no explicit ratio of its own.
const defaultMaintenanceCollateralRatio uint16 = 1750

// CallPriceFor computes the call price for a debt/collateral pair at
// maintenanceRatio (basis 1000, e.g. 1750 = 175.0%): the price at which
// collateral/debt-in-collateral-terms equals exactly maintenanceRatio, so
// collateralRatio reads maintenanceRatio precisely at this debt and
// collateral. A ratio of 0 falls back to defaultMaintenanceCollateralRatio.
func CallPriceFor(debt, collateral core.Amount, maintenanceRatio uint16) core.Price {
	if maintenanceRatio == 0 {
		maintenanceRatio = defaultMaintenanceCollateralRatio
	}
	return core.Price{
		Base:  collateral,
		Quote: core.Amount{AssetID: debt.AssetID, Value: core.Mul(debt.Value, int64(maintenanceRatio), 1000)},
	}
}

// UpsertCallOrder creates the caller's call order for deltaDebt's asset or
// merges into the one that already exists (at most one per borrower+asset,
// per CallOrder's invariant), recomputing CallPrice from the resulting
// totals so it always reflects the current debt and collateral.
func (e *Engine) UpsertCallOrder(borrower objdb.ID, deltaDebt, deltaCollateral core.Amount, maintenanceRatio uint16) objdb.ID {
	var found *core.CallOrder
	e.Chain.CallOrders.Each(func(obj objdb.Object) {
		c := obj.(*core.CallOrder)
		if c.Borrower == borrower && c.DebtAsset == deltaDebt.AssetID {
			found = c
		}
	})
	if found == nil {
		call := &core.CallOrder{
			Borrower:                   borrower,
			DebtAsset:                  deltaDebt.AssetID,
			Debt:                       deltaDebt.Value,
			Collateral:                 deltaCollateral.Value,
			MaintenanceCollateralRatio: maintenanceRatio,
		}
		call.CallPrice = CallPriceFor(core.Amount{AssetID: deltaDebt.AssetID, Value: call.Debt}, deltaCollateral, maintenanceRatio)
		return e.Chain.CallOrders.Create(call)
	}
	id := found.ObjID()
	e.Chain.CallOrders.Modify(id, func(obj objdb.Object) {
		c := obj.(*core.CallOrder)
		c.Debt += deltaDebt.Value
		c.Collateral += deltaCollateral.Value
		c.MaintenanceCollateralRatio = maintenanceRatio
		c.CallPrice = CallPriceFor(core.Amount{AssetID: c.DebtAsset, Value: c.Debt}, core.Amount{AssetID: deltaCollateral.AssetID, Value: c.Collateral}, maintenanceRatio)
	})
	return id
}

// MatchShortOrder matches a newly-created short order against resting
// limit orders buying its debt asset, mirroring MatchLimitOrder's loop and
// price-setting rules exactly (a short's SellPrice plays the taker role).
// The debt traded is minted to the buyer; the short's proportional share of
// its reserved collateral, plus the collateral the buyer paid, fold into
// the seller's call order (created or merged) rather than the seller's own
// balance, since a filled short is a debt position, not a sale.
func (e *Engine) MatchShortOrder(short *core.ShortOrder) ([]Fill, error) {
	var fills []Fill
	debtAsset := short.SellPrice.Base.AssetID
	collateralAsset := short.SellPrice.Quote.AssetID

	for short.ForSale > 0 {
		resting := e.restingOrders(debtAsset, collateralAsset)
		var maker *core.LimitOrder
		for _, m := range resting {
			maker = m
			break
		}
		if maker == nil || !crosses(short.SellPrice, maker.SellPrice) {
			break
		}

		price := maker.SellPrice // maker sets the trade price
		debtGive := short.ForSale
		collateralForFullDebt := price.Invert().Convert(debtGive)
		var debtTraded, collateralTraded int64
		if collateralForFullDebt <= maker.ForSale {
			debtTraded = debtGive
			collateralTraded = collateralForFullDebt
		} else {
			collateralTraded = maker.ForSale
			debtTraded = price.Convert(collateralTraded)
			if debtTraded > debtGive {
				debtTraded = debtGive
			}
		}
		if debtTraded == 0 || collateralTraded == 0 {
			break
		}

		makerBal, err := e.balanceOfAccount(maker.Seller)
		if err != nil {
			return fills, err
		}
		fee := e.marketFee(debtAsset, debtTraded)
		e.Chain.AccountBalances.Modify(makerBal.ObjID(), func(obj objdb.Object) {
			obj.(*core.AccountBalance).Add(debtAsset, debtTraded-fee)
		})
		e.Chain.LimitOrders.Modify(maker.ObjID(), func(obj objdb.Object) {
			obj.(*core.LimitOrder).ForSale -= collateralTraded
		})
		if maker.ForSale-collateralTraded <= 0 {
			e.closeLimitOrder(maker.ObjID())
		}

		collateralMoved := core.Mul(short.AvailableCollateral, debtTraded, short.ForSale)
		if collateralMoved > short.AvailableCollateral {
			collateralMoved = short.AvailableCollateral
		}
		e.UpsertCallOrder(short.Seller,
			core.Amount{AssetID: debtAsset, Value: debtTraded},
			core.Amount{AssetID: collateralAsset, Value: collateralMoved + collateralTraded},
			short.MaintenanceCollateralRatio)
		e.Chain.DynamicAssetDatas.Modify(assetDynamicData(e.Chain, debtAsset), func(obj objdb.Object) {
			obj.(*core.DynamicAssetData).CurrentSupply += debtTraded
		})

		packageLogger.Debug("short order matched",
			zap.String("short", short.ObjID().String()), zap.String("maker", maker.ObjID().String()),
			zap.Int64("debt", debtTraded), zap.Int64("collateral", collateralTraded))
		fills = append(fills, Fill{Taker: short.ObjID(), Maker: maker.ObjID(), Price: price, BaseAmount: debtTraded, QuoteAmount: collateralTraded})

		short.ForSale -= debtTraded
		short.AvailableCollateral -= collateralMoved
	}

	e.Chain.ShortOrders.Modify(short.ObjID(), func(obj objdb.Object) {
		o := obj.(*core.ShortOrder)
		o.ForSale = short.ForSale
		o.AvailableCollateral = short.AvailableCollateral
	})
	if short.ForSale == 0 {
		e.Chain.ShortOrders.Remove(short.ObjID())
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
