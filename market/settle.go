package market

import (
	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/core/objdb"
	"github.com/ledgerforge/forgechain/core/txerr"
	"github.com/ledgerforge/forgechain/events"
)

// ProcessForceSettlements pays out every pending ForceSettlement whose
// Settlement time has arrived, at the bitasset's current median feed
// price, run from the end-of-block hook (§4.5) alongside ExpireOrders and
// RunMarginCalls.
func (e *Engine) ProcessForceSettlements(now int64) error {
	var due []objdb.ID
	e.Chain.ForceSettlements.Each(func(obj objdb.Object) {
		f := obj.(*core.ForceSettlement)
		if f.Settlement <= now {
			due = append(due, f.ObjID())
		}
	})
	for _, id := range due {
		obj, ok := e.Chain.ForceSettlements.Get(id)
		if !ok {
			continue
		}
		if err := e.settleOne(obj.(*core.ForceSettlement)); err != nil {
			return err
		}
		e.Chain.ForceSettlements.Remove(id)
	}
	return nil
}

// leastCollateralizedCall returns the call order backing debtAsset with the
// lowest collateral ratio, the position force settlement is matched
// against first (the one nearest a margin call, per §8).
func (e *Engine) leastCollateralizedCall(debtAsset objdb.ID) *core.CallOrder {
	var best *core.CallOrder
	var bestRatio uint16
	e.Chain.CallOrders.Each(func(obj objdb.Object) {
		c := obj.(*core.CallOrder)
		if c.DebtAsset != debtAsset || c.Debt <= 0 {
			return
		}
		r := collateralRatio(c)
		if best == nil || r < bestRatio {
			best, bestRatio = c, r
		}
	})
	return best
}

// settleOne matches a due ForceSettlement against the least-collateralized
// open call order backing its asset: the matched call order's debt and
// collateral are reduced by the traded amount, the settler is paid out of
// that collateral at the feed price net of the asset's settlement offset
// (kept by the call order's borrower as a cushion, discouraging routine use
// of forced settlement over the order book), and the retired debt is
// removed from current supply so sum(CallOrder.Debt) == CurrentSupply
// keeps holding. A settlement with no call order to match against expires
// unfilled: its escrowed balance is returned to the owner untouched.
func (e *Engine) settleOne(f *core.ForceSettlement) error {
	assetObj, ok := e.Chain.Assets.Get(f.AssetID)
	if !ok {
		return txerr.ErrUnknown
	}
	asset := assetObj.(*core.Asset)
	if asset.BitassetData == (objdb.ID{}) {
		return txerr.ErrMarketRule
	}
	bitObj, ok := e.Chain.BitassetDatas.Get(asset.BitassetData)
	if !ok {
		return txerr.ErrUnknown
	}
	bit := bitObj.(*core.BitassetData)

	bal, err := e.balanceOfAccount(f.Owner)
	if err != nil {
		return err
	}

	call := e.leastCollateralizedCall(f.AssetID)
	if call == nil {
		e.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
			obj.(*core.AccountBalance).Add(f.AssetID, f.Amount)
		})
		if e.Emitter != nil {
			e.Emitter.Emit(events.Event{Type: events.EventGlobalSettle, Data: map[string]any{
				"owner": f.Owner.String(), "asset": f.AssetID.String(), "expired_unfilled": true,
			}})
		}
		return nil
	}

	price := bit.MedianFeed.SettlementPrice
	if bit.GlobalSettled {
		price = bit.GlobalSettlePrice
	}
	settled := f.Amount
	if settled > call.Debt {
		settled = call.Debt
	}
	grossPayout := price.Convert(settled)
	payout := grossPayout - core.Mul(grossPayout, int64(bit.ForceSettlementOffsetPercent), 10000)
	collateralAsset := call.CallPrice.Base.AssetID

	e.Chain.CallOrders.Modify(call.ObjID(), func(obj objdb.Object) {
		c := obj.(*core.CallOrder)
		c.Debt -= settled
		c.Collateral -= payout
	})
	e.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		b := obj.(*core.AccountBalance)
		b.Add(collateralAsset, payout)
		if remainder := f.Amount - settled; remainder > 0 {
			b.Add(f.AssetID, remainder)
		}
	})
	e.Chain.DynamicAssetDatas.Modify(asset.DynamicData, func(obj objdb.Object) {
		obj.(*core.DynamicAssetData).CurrentSupply -= settled
	})

	if e.Emitter != nil {
		e.Emitter.Emit(events.Event{Type: events.EventGlobalSettle, Data: map[string]any{
			"owner": f.Owner.String(), "asset": f.AssetID.String(), "payout": payout, "settled": settled,
		}})
	}
	return nil
}

// SettleGlobalHolder converts a holder's balance of a globally-settled
// bitasset into its backing asset at the declared settlement price. No
// operation or block hook calls it, so a holder's balance of a globally
// settled asset stays unconverted until it is called for that holder.
func (e *Engine) SettleGlobalHolder(account objdb.ID, assetID objdb.ID) error {
	assetObj, ok := e.Chain.Assets.Get(assetID)
	if !ok {
		return txerr.ErrUnknown
	}
	asset := assetObj.(*core.Asset)
	if asset.BitassetData == (objdb.ID{}) {
		return nil
	}
	bitObj, ok := e.Chain.BitassetDatas.Get(asset.BitassetData)
	if !ok {
		return nil
	}
	bit := bitObj.(*core.BitassetData)
	if !bit.GlobalSettled {
		return nil
	}

	bal, err := e.balanceOfAccount(account)
	if err != nil {
		return err
	}
	held := bal.Get(assetID)
	if held == 0 {
		return nil
	}
	payout := bit.GlobalSettlePrice.Convert(held)
	e.Chain.AccountBalances.Modify(bal.ObjID(), func(obj objdb.Object) {
		b := obj.(*core.AccountBalance)
		b.Add(assetID, -held)
		b.Add(bit.BackingAsset, payout)
	})
	return nil
}
