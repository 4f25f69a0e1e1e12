package core

import "github.com/ledgerforge/forgechain/core/objdb"

// Chain owns the object database and the handles to every registered
// index, so evaluators and the matching engine hold typed *objdb.Index
// values instead of re-resolving (space,type) on every access.
type Chain struct {
	DB *objdb.Database

	Keys                 *objdb.Index
	Accounts             *objdb.Index
	AccountBalances       *objdb.Index
	Assets               *objdb.Index
	DynamicAssetDatas     *objdb.Index
	BitassetDatas         *objdb.Index
	Delegates            *objdb.Index
	Witnesses            *objdb.Index
	LimitOrders          *objdb.Index
	ShortOrders          *objdb.Index
	CallOrders           *objdb.Index
	ForceSettlements     *objdb.Index
	Proposals            *objdb.Index
	WithdrawPermissions   *objdb.Index
	VestingBalances       *objdb.Index
	Workers              *objdb.Index
	GlobalProperties     *objdb.Index

	// Names and symbols must be unique; these are the secondary indices
	// referenced by §4.1 ("account-by-name, asset-by-symbol, ..."). Built
	// from Subscribe hooks rather than scanning Each on every lookup.
	accountsByName map[string]objdb.ID
	assetsBySymbol map[string]objdb.ID
}

// NewChain builds an empty Chain with every index registered and secondary
// name/symbol indices wired via observer hooks.
func NewChain() *Chain {
	db := objdb.New()
	c := &Chain{
		DB:                  db,
		Keys:                db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeKey),
		Accounts:            db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeAccount),
		Assets:              db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeAsset),
		Delegates:           db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeDelegate),
		Witnesses:           db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeWitness),
		LimitOrders:         db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeLimitOrder),
		ShortOrders:         db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeShortOrder),
		CallOrders:          db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeCallOrder),
		Proposals:           db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeProposal),
		WithdrawPermissions: db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeWithdrawPermission),
		VestingBalances:     db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeVestingBalance),
		Workers:             db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeWorker),
		ForceSettlements:    db.RegisterIndex(objdb.SpaceProtocol, objdb.TypeForceSettlement),

		AccountBalances:   db.RegisterIndex(objdb.SpaceImplementation, objdb.TypeAccountBalance),
		DynamicAssetDatas: db.RegisterIndex(objdb.SpaceImplementation, objdb.TypeDynamicAssetData),
		BitassetDatas:     db.RegisterIndex(objdb.SpaceImplementation, objdb.TypeBitassetData),
		GlobalProperties:  db.RegisterIndex(objdb.SpaceImplementation, objdb.TypeGlobalProperty),

		accountsByName: make(map[string]objdb.ID),
		assetsBySymbol: make(map[string]objdb.ID),
	}

	c.Accounts.Subscribe(func(kind string, obj objdb.Object) {
		a := obj.(*Account)
		switch kind {
		case "create":
			c.accountsByName[a.Name] = a.ObjID()
		case "remove":
			delete(c.accountsByName, a.Name)
		}
	})
	c.Assets.Subscribe(func(kind string, obj objdb.Object) {
		a := obj.(*Asset)
		switch kind {
		case "create":
			c.assetsBySymbol[a.Symbol] = a.ObjID()
		case "remove":
			delete(c.assetsBySymbol, a.Symbol)
		}
	})

	return c
}

func (c *Chain) AccountByName(name string) (*Account, bool) {
	id, ok := c.accountsByName[name]
	if !ok {
		return nil, false
	}
	obj, ok := c.Accounts.Get(id)
	if !ok {
		return nil, false
	}
	return obj.(*Account), true
}

func (c *Chain) AssetBySymbol(symbol string) (*Asset, bool) {
	id, ok := c.assetsBySymbol[symbol]
	if !ok {
		return nil, false
	}
	obj, ok := c.Assets.Get(id)
	if !ok {
		return nil, false
	}
	return obj.(*Asset), true
}

func (c *Chain) BalanceOf(account *Account) *AccountBalance {
	obj, ok := c.AccountBalances.Get(account.Balance)
	if !ok {
		return nil
	}
	return obj.(*AccountBalance)
}

func (c *Chain) Global() *GlobalProperty {
	obj, ok := c.GlobalProperties.Get(objdb.New(objdb.SpaceImplementation, objdb.TypeGlobalProperty, 0))
	if !ok {
		return nil
	}
	return obj.(*GlobalProperty)
}
