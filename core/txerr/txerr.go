// Package txerr defines the sentinel error taxonomy every evaluator reports
// through. Evaluators never return a bare fmt.Errorf for a rule violation —
// they wrap one of these sentinels so callers (mempool admission, RPC,
// proposal execution) can distinguish retryable from terminal failures with
// errors.Is.
package txerr

import "errors"

var (
	// ErrMalformed marks a transaction or operation that fails structural
	// validation (bad field, out-of-range value, missing required field).
	ErrMalformed = errors.New("txerr: malformed")

	// ErrUnknown marks a reference to an object id that does not exist.
	ErrUnknown = errors.New("txerr: unknown object")

	// ErrUnauthorized marks a failed authority check (C4).
	ErrUnauthorized = errors.New("txerr: unauthorized")

	// ErrInsufficientBalance marks a balance too low to cover a debit.
	ErrInsufficientBalance = errors.New("txerr: insufficient balance")

	// ErrInsufficientFeePool marks an asset's fee pool too low to cover the
	// core-asset-equivalent fee it was asked to subsidize.
	ErrInsufficientFeePool = errors.New("txerr: insufficient fee pool")

	// ErrInsufficientCollateral marks a short or call order whose collateral
	// ratio would fall below the asset's required maintenance ratio.
	ErrInsufficientCollateral = errors.New("txerr: insufficient collateral")

	// ErrInvariantViolated marks a mutation that would break an invariant
	// the evaluator is responsible for holding (supply conservation, order
	// book ordering, ...).
	ErrInvariantViolated = errors.New("txerr: invariant violated")

	// ErrExpired marks a transaction or proposal past its expiration time.
	ErrExpired = errors.New("txerr: expired")

	// ErrDuplicate marks a transaction already seen (mempool/chain dedup) or
	// a uniqueness constraint violation (asset symbol, account name).
	ErrDuplicate = errors.New("txerr: duplicate")

	// ErrMarketRule marks a market or asset-kind rule violation that is not a
	// collateral shortfall (a fill-or-kill order left unfilled, a market-only
	// operation on a plain asset or the reverse, a whitelist change on an
	// asset that does not use whitelisting).
	ErrMarketRule = errors.New("txerr: market rule violated")
)
