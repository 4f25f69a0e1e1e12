package core

// Available returns the portion of a vesting balance withdrawable at now,
// under its policy. Linear vests uniformly over DurationSec starting at
// BeginTime. CDD (coin-days-destroyed) does not use BeginTime: it adds
// Balance times the seconds since LastUpdate to CoinSeconds and divides by
// Balance to get an average age; that age over (seconds since LastUpdate
// plus one) is the fraction of Balance available, all of it once the age
// reaches that count.
func (v *VestingBalance) Available(now int64) int64 {
	switch v.Policy {
	case VestingLinear:
		if now <= v.BeginTime {
			return 0
		}
		elapsed := now - v.BeginTime
		if elapsed >= v.DurationSec {
			return v.Balance
		}
		return Mul(v.Balance, elapsed, v.DurationSec)
	case VestingCDD:
		elapsed := now - v.LastUpdate
		if elapsed < 0 {
			elapsed = 0
		}
		seconds := v.CoinSeconds + v.Balance*elapsed
		if v.Balance == 0 {
			return 0
		}
		avg := seconds / v.Balance
		if avg <= 0 {
			return 0
		}
		if avg >= elapsed+1 {
			return v.Balance
		}
		return Mul(v.Balance, avg, elapsed+1)
	default:
		return 0
	}
}

// Withdraw computes the withdrawable cap before mutating state (Open
// Question ii: the cap is always computed against pre-withdrawal
// CoinSeconds, never recomputed mid-call), then debits Balance and, for
// CDD, resets CoinSeconds proportionally to the remaining balance.
func (v *VestingBalance) Withdraw(amount, now int64) bool {
	if amount <= 0 || amount > v.Available(now) {
		return false
	}
	if v.Policy == VestingCDD {
		elapsed := now - v.LastUpdate
		if elapsed < 0 {
			elapsed = 0
		}
		v.CoinSeconds += v.Balance * elapsed
		if v.Balance > 0 {
			v.CoinSeconds = Mul(v.CoinSeconds, v.Balance-amount, v.Balance)
		}
		v.LastUpdate = now
	}
	v.Balance -= amount
	return true
}
