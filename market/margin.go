package market

import (
	"math/big"

	"go.uber.org/zap"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/events"
)

// collateralRatio returns collateral/debt scaled by 1000 (matching the
// basis used by MaintenanceCollateralRatio, e.g. 1750 = 175.0%), computed
// via cross-multiplication against call.CallPrice so no precision is lost
// converting debt into the collateral asset.
func collateralRatio(call *core.CallOrder) uint16 {
	if call.Debt == 0 {
		return ^uint16(0)
	}
	debtInCollateral := call.CallPrice.Invert().Convert(call.Debt)
	if debtInCollateral == 0 {
		return ^uint16(0)
	}
	ratio := new(big.Int).Mul(big.NewInt(call.Collateral), big.NewInt(1000))
	ratio.Div(ratio, big.NewInt(debtInCollateral))
	if !ratio.IsInt64() || ratio.Int64() > int64(^uint16(0)) {
		return ^uint16(0)
	}
	return uint16(ratio.Int64())
}

// UnderCollateralized reports whether call's collateral ratio has fallen
// below its maintenance threshold, i.e. it is due a margin call.
func UnderCollateralized(call *core.CallOrder) bool {
	return collateralRatio(call) < call.MaintenanceCollateralRatio
}

// ScanMarginCalls returns every call order currently below its
// maintenance collateral ratio, scanned once per block (§4.5 end-of-block
// hook) ahead of matching them against resting limit/short liquidity.
func (e *Engine) ScanMarginCalls() []*core.CallOrder {
	var calls []*core.CallOrder
	e.Chain.CallOrders.Each(func(obj objdb.Object) {
		c := obj.(*core.CallOrder)
		if UnderCollateralized(c) {
			calls = append(calls, c)
		}
	})
	return calls
}

// LiquidateCallOrder matches an under-collateralized call order against
// the best resting limit order selling the debt asset for the collateral
// asset, settling at that order's price up to the call's remaining debt
// or the maker's available size, whichever binds first. Forced
// liquidation trades directly against the book rather than the margin
// call's own CallPrice so an underwater position cannot be closed at a
// stale, favorable-to-the-borrower rate.
func (e *Engine) LiquidateCallOrder(call *core.CallOrder) error {
	collateralAsset := call.CallPrice.Base.AssetID
	debtAsset := call.DebtAsset

	resting := e.restingOrders(collateralAsset, debtAsset)
	var maker *core.LimitOrder
	for _, m := range resting {
		maker = m
		break
	}
	if maker == nil {
		return nil
	}

	price := maker.SellPrice
	debtForFullCollateral := price.Invert().Convert(call.Collateral)
	var debtTraded, collateralTraded int64
	if debtForFullCollateral <= call.Debt && debtForFullCollateral <= maker.ForSale {
		debtTraded = debtForFullCollateral
		collateralTraded = call.Collateral
	} else {
		debtTraded = call.Debt
		if maker.ForSale < debtTraded {
			debtTraded = maker.ForSale
		}
		collateralTraded = price.Convert(debtTraded)
		if collateralTraded > call.Collateral {
			collateralTraded = call.Collateral
		}
	}
	if debtTraded == 0 || collateralTraded == 0 {
		return nil
	}

	makerBal, err := e.balanceOfAccount(maker.Seller)
	if err != nil {
		return err
	}
	fee := e.marketFee(collateralAsset, collateralTraded)
	e.Chain.AccountBalances.Modify(makerBal.ObjID(), func(obj objdb.Object) {
		obj.(*core.AccountBalance).Add(collateralAsset, collateralTraded-fee)
	})
	e.Chain.LimitOrders.Modify(maker.ObjID(), func(obj objdb.Object) {
		obj.(*core.LimitOrder).ForSale -= debtTraded
	})
	if maker.ForSale-debtTraded <= 0 {
		e.closeLimitOrder(maker.ObjID())
	}

	e.Chain.CallOrders.Modify(call.ObjID(), func(obj objdb.Object) {
		c := obj.(*core.CallOrder)
		c.Debt -= debtTraded
		c.Collateral -= collateralTraded
	})
	e.Chain.DynamicAssetDatas.Modify(assetDynamicData(e.Chain, debtAsset), func(obj objdb.Object) {
		obj.(*core.DynamicAssetData).CurrentSupply -= debtTraded
	})

	packageLogger.Debug("margin call liquidated",
		zap.String("borrower", call.Borrower.String()), zap.Int64("debt_traded", debtTraded), zap.Int64("collateral_traded", collateralTraded))
	if e.Emitter != nil {
		e.Emitter.Emit(events.Event{Type: events.EventMarginCall, Data: map[string]any{
			"borrower": call.Borrower.String(), "debt_traded": debtTraded, "collateral_traded": collateralTraded,
		}})
	}

	obj, ok := e.Chain.CallOrders.Get(call.ObjID())
	if ok && obj.(*core.CallOrder).Debt <= 0 {
		remaining := obj.(*core.CallOrder).Collateral
		if remaining > 0 {
			if borrowerObj, found := e.Chain.Accounts.Get(call.Borrower); found {
				if borrowerBal := e.Chain.BalanceOf(borrowerObj.(*core.Account)); borrowerBal != nil {
					e.Chain.AccountBalances.Modify(borrowerBal.ObjID(), func(obj objdb.Object) {
						obj.(*core.AccountBalance).Add(collateralAsset, remaining)
					})
				}
			}
		}
		e.Chain.CallOrders.Remove(call.ObjID())
	}
	return nil
}

func assetDynamicData(chain *core.Chain, assetID objdb.ID) objdb.ID {
	obj, ok := chain.Assets.Get(assetID)
	if !ok {
		return objdb.ID{}
	}
	return obj.(*core.Asset).DynamicData
}

// RunMarginCalls scans and liquidates every under-collateralized call
// order once, run from the end-of-block hook alongside ExpireOrders.
func (e *Engine) RunMarginCalls() error {
	for _, call := range e.ScanMarginCalls() {
		if err := e.LiquidateCallOrder(call); err != nil {
			return err
		}
	}
	return nil
}
