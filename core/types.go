package core

import (
	"encoding/json"

	"github.com/ledgerforge/forgechain/core/objdb"
)

// CoreAssetID is the protocol-reserved asset used for fees, stake, and
// collateral accounting. It is always object 1.2.0.
var CoreAssetID = objdb.New(objdb.SpaceProtocol, objdb.TypeAsset, 0)

// Key is a public-key entry; authorities reference keys by ID rather than
// embedding the raw key material everywhere.
type Key struct {
	objdb.Base
	PublicKey string `json:"public_key"` // hex-encoded ed25519 pubkey
}

func (k *Key) Clone() objdb.Object { c := *k; return &c }

// AuthEntry is one weighted child of an Authority: either a key or an
// account, never both. IsKey disambiguates since a zero-value ID cannot
// (object instance 0 is a valid id for either type).
type AuthEntry struct {
	IsKey   bool     `json:"is_key"`
	Key     objdb.ID `json:"key,omitempty"`
	Account objdb.ID `json:"account,omitempty"`
	Weight  uint16   `json:"weight"`
}

// Authority is a threshold-weighted set of keys and/or accounts (C4).
type Authority struct {
	WeightThreshold uint32      `json:"weight_threshold"`
	Auths           []AuthEntry `json:"auths"`
}

// Account is the primary protocol identity object.
type Account struct {
	objdb.Base
	Name             string    `json:"name"`
	Owner            Authority `json:"owner"`
	Active           Authority `json:"active"`
	MemoKey          objdb.ID  `json:"memo_key"`
	VotingKey        objdb.ID  `json:"voting_key"`
	Votes            []objdb.ID `json:"votes"` // sorted delegate/witness vote-object ids
	Referrer         objdb.ID  `json:"referrer,omitempty"`
	ReferrerPercent  uint16    `json:"referrer_percent"` // basis points out of 10000, <= 10000
	Prime            bool      `json:"prime"`
	Balance          objdb.ID  `json:"balance"` // owned AccountBalance object
}

func (a *Account) Clone() objdb.Object {
	c := *a
	c.Votes = append([]objdb.ID(nil), a.Votes...)
	c.Owner.Auths = append([]AuthEntry(nil), a.Owner.Auths...)
	c.Active.Auths = append([]AuthEntry(nil), a.Active.Auths...)
	return &c
}

// AccountBalance is split from Account so hot-path balance mutation does
// not carry the authority/vote lists into every undo pre-image.
type AccountBalance struct {
	objdb.Base
	Owner             objdb.ID         `json:"owner"` // Account id
	Balances          map[uint64]int64 `json:"balances"` // asset instance -> amount
	TotalCoreInOrders int64            `json:"total_core_in_orders"`
}

func (b *AccountBalance) Clone() objdb.Object {
	c := *b
	c.Balances = make(map[uint64]int64, len(b.Balances))
	for k, v := range b.Balances {
		c.Balances[k] = v
	}
	return &c
}

func (b *AccountBalance) Get(asset objdb.ID) int64 { return b.Balances[asset.Instance] }

func (b *AccountBalance) Add(asset objdb.ID, delta int64) {
	if b.Balances == nil {
		b.Balances = make(map[uint64]int64)
	}
	b.Balances[asset.Instance] += delta
}

// AssetPermission bits (subset in use on an asset's flags/permissions).
type AssetPermission uint32

const (
	PermChargeTransferFee AssetPermission = 1 << iota
	PermChargeMarketFee
	PermWhitelist
	PermHaltMarket
	PermHaltTransfer
	PermOverrideAuthority
	PermMarketIssued
)

// Price is a ratio of two asset amounts; Base and Quote denominate the rate
// as quote-per-base. Comparisons and products use 128-bit arithmetic (see
// price.go) to avoid overflow on MAX_SHARES-scale quantities.
type Price struct {
	Base  Amount `json:"base"`
	Quote Amount `json:"quote"`
}

// Amount is a quantity of one asset.
type Amount struct {
	AssetID objdb.ID `json:"asset_id"`
	Value   int64    `json:"value"`
}

// Asset is a tradeable unit of account; core asset (instance 0) and every
// user-created asset share this type.
type Asset struct {
	objdb.Base
	Symbol            string          `json:"symbol"`
	Issuer            objdb.ID        `json:"issuer"` // Account id
	Precision         uint8           `json:"precision"`
	MaxSupply         int64           `json:"max_supply"`
	Permissions       AssetPermission `json:"permissions"`
	Flags             AssetPermission `json:"flags"`
	CoreExchangeRate  Price           `json:"core_exchange_rate"`
	ShortBackingAsset objdb.ID        `json:"short_backing_asset,omitempty"`
	DynamicData       objdb.ID        `json:"dynamic_data"`
	BitassetData      objdb.ID        `json:"bitasset_data,omitempty"`
	MarketFeePercent  uint16          `json:"market_fee_percent"` // basis points of MAX_FEE_PERCENT
}

func (a *Asset) Clone() objdb.Object { c := *a; return &c }

func (a *Asset) IsMarketIssued() bool { return a.Permissions&PermMarketIssued != 0 }

// DynamicAssetData tracks the mutable per-asset counters touched on nearly
// every operation, split out so Asset's rarely-changing fields stay out of
// the undo hot path.
type DynamicAssetData struct {
	objdb.Base
	AssetID         objdb.ID `json:"asset_id"`
	CurrentSupply   int64    `json:"current_supply"`
	AccumulatedFees int64    `json:"accumulated_fees"`
	FeePool         int64    `json:"fee_pool"`
}

func (d *DynamicAssetData) Clone() objdb.Object { c := *d; return &c }

// PriceFeed is one delegate-published quote for a market-issued asset.
type PriceFeed struct {
	SettlementPrice         Price `json:"settlement_price"`
	CallLimit               Price `json:"call_limit"`
	ShortLimit              Price `json:"short_limit"`
	MaxMarginPeriodSec      uint32 `json:"max_margin_period_sec"`
	MaintenanceCollateralRatio uint16 `json:"maintenance_collateral_ratio"` // e.g. 1750 = 175.0%
	InitialCollateralRatio     uint16 `json:"initial_collateral_ratio"`
}

// BitassetData is the side object for market-issued assets carrying
// per-publisher feeds and the derived field-wise median.
type BitassetData struct {
	objdb.Base
	AssetID       objdb.ID               `json:"asset_id"`
	BackingAsset  objdb.ID               `json:"backing_asset"`
	Feeds         map[uint64]FeedEntry   `json:"feeds"` // publisher account instance -> feed+time
	MedianFeed    PriceFeed              `json:"median_feed"`
	FeedLifetimeSec int64                `json:"feed_lifetime_sec"`
	SettlementFund  int64                `json:"settlement_fund"`
	GlobalSettled   bool                 `json:"global_settled"`
	GlobalSettlePrice Price              `json:"global_settle_price,omitempty"`
	// ForceSettlementOffsetPercent is withheld from a force settlement's
	// feed-price payout (basis points of 10000), favoring the matched call
	// order's borrower so force settlement is never the cheapest way out.
	ForceSettlementOffsetPercent uint16 `json:"force_settlement_offset_percent"`
	// ForceSettlementDelaySec is how long a force_settle operation waits
	// before ProcessForceSettlements pays it out.
	ForceSettlementDelaySec int64 `json:"force_settlement_delay_sec"`
}

// FeedEntry is one publisher's price feed submission and its publish time.
type FeedEntry struct {
	Feed      PriceFeed `json:"feed"`
	Published int64     `json:"published"`
}

func (b *BitassetData) Clone() objdb.Object {
	c := *b
	c.Feeds = make(map[uint64]FeedEntry, len(b.Feeds))
	for k, v := range b.Feeds {
		c.Feeds[k] = v
	}
	return &c
}

// Delegate is a stakeholder-elected entity publishing fees, feeds, and
// parameter proposals.
type Delegate struct {
	objdb.Base
	Account          objdb.ID `json:"account"`
	VoteID           objdb.ID `json:"vote_id"`
	TotalVotes       int64    `json:"total_votes"`
}

func (d *Delegate) Clone() objdb.Object { c := *d; return &c }

// Witness is a block producer selected from the active set, scheduled by
// deterministic rotation, committing to chained secret reveals.
type Witness struct {
	objdb.Base
	Account        objdb.ID `json:"account"`
	SigningKey     objdb.ID `json:"signing_key"`
	NextSecretHash string   `json:"next_secret_hash"` // hex sha256
	LastSecret     string   `json:"last_secret"`      // hex, "" until first reveal
	TotalVotes     int64    `json:"total_votes"`
	TotalMissed    uint64   `json:"total_missed"`
	PayPendingBalance int64 `json:"pay_pending_balance"` // claimable via ClaimWitnessPay
}

func (w *Witness) Clone() objdb.Object { c := *w; return &c }

// LimitOrder is an ordinary bid or ask.
type LimitOrder struct {
	objdb.Base
	Seller      objdb.ID `json:"seller"`
	ForSale     int64    `json:"for_sale"` // remaining amount, denominated in SellPrice.Base.AssetID
	SellPrice   Price    `json:"sell_price"`
	Expiration  int64    `json:"expiration"` // unix seconds, 0 = never
	FillOrKill  bool     `json:"fill_or_kill"`
	DeferredFee int64    `json:"deferred_fee"`
}

func (o *LimitOrder) Clone() objdb.Object { c := *o; return &c }

// ShortOrder is an open offer to borrow a market-issued asset against
// backing collateral.
type ShortOrder struct {
	objdb.Base
	Seller                   objdb.ID `json:"seller"`
	ForSale                  int64    `json:"for_sale"` // debt asset remaining
	AvailableCollateral      int64    `json:"available_collateral"`
	SellPrice                Price    `json:"sell_price"`
	CallPrice                Price    `json:"call_price"`
	InitialCollateralRatio   uint16   `json:"initial_collateral_ratio"`
	MaintenanceCollateralRatio uint16 `json:"maintenance_collateral_ratio"`
	Expiration               int64   `json:"expiration"`
}

func (o *ShortOrder) Clone() objdb.Object { c := *o; return &c }

// CallOrder is the merged open debt position for one (borrower,debt-asset)
// pair; at most one exists per pair (market.UpsertCallOrder scans for the
// pair's existing order and merges into it before creating one).
type CallOrder struct {
	objdb.Base
	Borrower   objdb.ID `json:"borrower"`
	DebtAsset  objdb.ID `json:"debt_asset"`
	Debt       int64    `json:"debt"`
	Collateral int64    `json:"collateral"`
	CallPrice  Price    `json:"call_price"`
	MaintenanceCollateralRatio uint16 `json:"maintenance_collateral_ratio"`
}

func (o *CallOrder) Clone() objdb.Object { c := *o; return &c }

// ForceSettlement is a pending settlement of a market-issued asset balance
// at a delayed, feed-derived price.
type ForceSettlement struct {
	objdb.Base
	Owner     objdb.ID `json:"owner"`
	AssetID   objdb.ID `json:"asset_id"`
	Amount    int64    `json:"amount"`
	Settlement int64   `json:"settlement_date"` // unix seconds
}

func (f *ForceSettlement) Clone() objdb.Object { c := *f; return &c }

// Proposal queues a transaction for deferred, multi-sig-gated execution.
type Proposal struct {
	objdb.Base
	Author               objdb.ID         `json:"author"`
	Expiration           int64            `json:"expiration"`
	ReviewPeriodSec      int64            `json:"review_period_sec"`
	ProposedTransaction  json.RawMessage  `json:"proposed_transaction"`
	RequiredActiveApprovals []objdb.ID    `json:"required_active_approvals"`
	RequiredOwnerApprovals  []objdb.ID    `json:"required_owner_approvals"`
	AvailableActiveApprovals []objdb.ID   `json:"available_active_approvals"`
	AvailableOwnerApprovals  []objdb.ID   `json:"available_owner_approvals"`
	AvailableKeyApprovals    []objdb.ID   `json:"available_key_approvals"`
}

func (p *Proposal) Clone() objdb.Object {
	c := *p
	c.RequiredActiveApprovals = append([]objdb.ID(nil), p.RequiredActiveApprovals...)
	c.RequiredOwnerApprovals = append([]objdb.ID(nil), p.RequiredOwnerApprovals...)
	c.AvailableActiveApprovals = append([]objdb.ID(nil), p.AvailableActiveApprovals...)
	c.AvailableOwnerApprovals = append([]objdb.ID(nil), p.AvailableOwnerApprovals...)
	c.AvailableKeyApprovals = append([]objdb.ID(nil), p.AvailableKeyApprovals...)
	return &c
}

// WithdrawPermission authorizes a recurring pull-withdrawal.
type WithdrawPermission struct {
	objdb.Base
	Withdrawer        objdb.ID `json:"withdrawer"`
	Authorized        objdb.ID `json:"authorized"` // account allowed to claim
	AssetID           objdb.ID `json:"asset_id"`
	PeriodAmount      int64    `json:"period_amount"`
	PeriodStartTime   int64    `json:"period_start_time"`
	PeriodSec         int64    `json:"period_sec"`
	RemainingPeriods  uint32   `json:"remaining_periods"`
}

func (w *WithdrawPermission) Clone() objdb.Object { c := *w; return &c }

// VestingPolicyKind selects the withdrawable-amount function for a
// VestingBalance.
type VestingPolicyKind uint8

const (
	VestingLinear VestingPolicyKind = iota
	VestingCDD                      // coin-days-destroyed
)

// VestingBalance holds a gradually-unlocking balance, either linear
// (begin+duration) or coin-seconds (CDD) policy.
type VestingBalance struct {
	objdb.Base
	Owner        objdb.ID          `json:"owner"`
	AssetID      objdb.ID          `json:"asset_id"`
	Balance      int64             `json:"balance"`
	Policy       VestingPolicyKind `json:"policy"`
	BeginTime    int64             `json:"begin_time"`
	DurationSec  int64             `json:"duration_sec"` // linear
	CoinSeconds  int64             `json:"coin_seconds"` // CDD accumulator
	LastUpdate   int64             `json:"last_update"`  // CDD
}

func (v *VestingBalance) Clone() objdb.Object { c := *v; return &c }

// WorkerKind selects how a Worker's approved daily pay is distributed.
type WorkerKind uint8

const (
	RefundWorker WorkerKind = iota
	VestingWorker
)

// Worker is a funding proposal voted on by stakeholders; approved workers
// draw daily pay from the reserve during maintenance (C10).
type Worker struct {
	objdb.Base
	Owner        objdb.ID   `json:"owner"`
	DailyPay     int64      `json:"daily_pay"`
	WorkBegin    int64      `json:"work_begin"`
	WorkEnd      int64      `json:"work_end"`
	Kind         WorkerKind `json:"kind"`
	VestingSpec  VestingBalance `json:"vesting_spec,omitempty"` // template used to create the payout VestingBalance
	TotalVotesFor int64     `json:"total_votes_for"`
}

func (w *Worker) Clone() objdb.Object { c := *w; return &c }

// GlobalProperty carries the chain-wide tunable parameters (§6) plus the
// current active witness/delegate sets maintained by C10.
type GlobalProperty struct {
	objdb.Base
	BlockIntervalSec        uint32     `json:"block_interval_sec"`
	MaintenanceIntervalSec  uint32     `json:"maintenance_interval_sec"`
	MaxBlockSize            uint32     `json:"max_block_size"`
	MaxTransactionSize      uint32     `json:"max_transaction_size"`
	MaxTransactionExpirationSec uint32 `json:"max_transaction_expiration_sec"`
	MaxUndoHistory          uint32     `json:"max_undo_history"`
	MaxFeedProducers        uint32     `json:"max_feed_producers"`
	MaxMarketFeePercent     uint16     `json:"max_market_fee_percent"`
	MaxSigCheckDepth        uint8      `json:"max_sig_check_depth"`
	GenesisProposalReviewPeriodSec uint32 `json:"genesis_proposal_review_period_sec"`

	ActiveWitnesses  []objdb.ID `json:"active_witnesses"`
	ActiveDelegates  []objdb.ID `json:"active_delegates"`
	RandomSeed       string     `json:"random_seed"` // hex sha256, rolling
	NextMaintenance  int64      `json:"next_maintenance"`
}

func (g *GlobalProperty) Clone() objdb.Object {
	c := *g
	c.ActiveWitnesses = append([]objdb.ID(nil), g.ActiveWitnesses...)
	c.ActiveDelegates = append([]objdb.ID(nil), g.ActiveDelegates...)
	return &c
}
