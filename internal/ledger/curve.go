package ledger

import (
	"math/big"
)

// Stage of a bonding. Stages only move forward.
type Stage uint8

const (
	StageFairLaunch  Stage = 1
	StageMintLimited Stage = 2
	StageOpen        Stage = 3
)

func (s Stage) String() string {
	switch s {
	case StageFairLaunch:
		return "fair_launch"
	case StageMintLimited:
		return "mint_limited"
	case StageOpen:
		return "open"
	default:
		return "unknown"
	}
}

// stageFor returns the stage implied by total alone.
func stageFor(total, fairLaunch, maxSupply uint64) Stage {
	switch {
	case total >= maxSupply:
		return StageOpen
	case total >= fairLaunch:
		return StageMintLimited
	default:
		return StageFairLaunch
	}
}

// advance never lets the stage go backwards.
func advance(cur Stage, total, fairLaunch, maxSupply uint64) Stage {
	if next := stageFor(total, fairLaunch, maxSupply); next > cur {
		return next
	}
	return cur
}

// sumOfSquares returns 1² + 2² + ... + m² = m(m+1)(2m+1)/6.
func sumOfSquares(m uint64) *big.Int {
	n := new(big.Int).SetUint64(m)
	out := new(big.Int).Add(n, big.NewInt(1))
	out.Mul(out, n)
	out.Mul(out, new(big.Int).Add(new(big.Int).Lsh(n, 1), big.NewInt(1)))
	return out.Quo(out, big.NewInt(6))
}

// Curve prices the units supply+1 .. supply+amount, unit k costing
// priceUnit*k². Buying amount at supply and selling amount back at
// supply+amount use the same value.
func Curve(priceUnit *big.Int, supply, amount uint64) *big.Int {
	hi := sumOfSquares(supply + amount)
	hi.Sub(hi, sumOfSquares(supply))
	return hi.Mul(hi, priceUnit)
}

// Fee is value*bps/10000, truncated.
func Fee(value *big.Int, bps uint64) *big.Int {
	fee := new(big.Int).Mul(value, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, big.NewInt(10_000))
}
