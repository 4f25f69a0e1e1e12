package core

import "math/big"

// MaxShares bounds any single share quantity; intermediate products use
// 128-bit arithmetic and the final result is asserted to fit in this range.
const MaxShares = int64(1) << 53 // generous headroom under int64, matches teacher's uint64 token amounts

// Mul computes a*b/c using big.Int to avoid 64-bit overflow on
// MAX_SHARES-scale quantities, matching the teacher's style of keeping
// amount math in plain integers rather than introducing a numeric type.
func Mul(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	r.Div(r, big.NewInt(c))
	return r.Int64()
}

// Less compares a.Quote/a.Base against b.Quote/b.Base without rational
// overflow by cross-multiplying in 128 bits: a < b iff
// a.Quote*b.Base < b.Quote*a.Base (for same base/quote asset pair).
func (a Price) Less(b Price) bool {
	lhs := new(big.Int).Mul(big.NewInt(a.Quote.Value), big.NewInt(b.Base.Value))
	rhs := new(big.Int).Mul(big.NewInt(b.Quote.Value), big.NewInt(a.Base.Value))
	return lhs.Cmp(rhs) < 0
}

// Invert swaps base and quote, matching the teacher-adjacent operator~
// semantics described in the numeric-semantics section.
func (a Price) Invert() Price {
	return Price{Base: a.Quote, Quote: a.Base}
}

// Convert multiplies an amount by a price, rounding down, using 128-bit
// intermediate precision: amount (in price.Base's asset) * price.Quote /
// price.Base = result in price.Quote's asset.
func (p Price) Convert(amount int64) int64 {
	return Mul(amount, p.Quote.Value, p.Base.Value)
}
