package policy

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotAuthorized = errors.New("Not authorized!")
	ErrInvalidPolicy = errors.New("Invalid policy!")
)

// MaxFeeRateBps is 100% expressed in basis points.
const MaxFeeRateBps = 10_000

// Policy holds the process-wide parameters of the bonding ledger. Changes
// apply to later ledger operations only.
type Policy struct {
	Admin             common.Address   `json:"admin"`
	HoldLimit         uint64           `json:"hold_limit"`
	MintLimit         uint64           `json:"mint_limit"`
	MaxSupply         uint64           `json:"max_supply"`
	FairLaunchSupply  uint64           `json:"fair_launch_supply"`
	RewardTokenSupply *big.Int         `json:"reward_token_supply"`
	Operators         []common.Address `json:"operators"`
	TrustedSigner     common.Address   `json:"trusted_signer"`
	FeeDestination    common.Address   `json:"fee_destination"`
	FeeRateBps        uint64           `json:"fee_rate_bps"`
	PriceUnit         *big.Int         `json:"price_unit"`

	UpdatedAt time.Time      `json:"updated_at"`
	UpdatedBy common.Address `json:"updated_by"`
}

// Default returns the standard launch parameters.
func Default() *Policy {
	supply := new(big.Int).Mul(big.NewInt(1_000_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return &Policy{
		HoldLimit:         300,
		MintLimit:         300,
		MaxSupply:         3000,
		FairLaunchSupply:  300,
		RewardTokenSupply: supply,
		FeeRateBps:        300,
		PriceUnit:         big.NewInt(1),
	}
}

// Validate checks policy values for sanity
func (p *Policy) Validate() error {
	switch {
	case p.Admin == (common.Address{}):
		return fmt.Errorf("%w: admin must be set", ErrInvalidPolicy)
	case p.HoldLimit == 0:
		return fmt.Errorf("%w: hold_limit must be positive", ErrInvalidPolicy)
	case p.MintLimit == 0:
		return fmt.Errorf("%w: mint_limit must be positive", ErrInvalidPolicy)
	case p.MaxSupply == 0:
		return fmt.Errorf("%w: max_supply must be positive", ErrInvalidPolicy)
	case p.FairLaunchSupply == 0:
		return fmt.Errorf("%w: fair_launch_supply must be positive", ErrInvalidPolicy)
	case p.FairLaunchSupply > p.MaxSupply:
		return fmt.Errorf("%w: fair_launch_supply %d exceeds max_supply %d", ErrInvalidPolicy, p.FairLaunchSupply, p.MaxSupply)
	case p.FeeRateBps > MaxFeeRateBps:
		return fmt.Errorf("%w: fee_rate_bps must be 0-%d", ErrInvalidPolicy, MaxFeeRateBps)
	case p.RewardTokenSupply == nil || p.RewardTokenSupply.Sign() <= 0:
		return fmt.Errorf("%w: reward_token_supply must be positive", ErrInvalidPolicy)
	case p.PriceUnit == nil || p.PriceUnit.Sign() <= 0:
		return fmt.Errorf("%w: price_unit must be positive", ErrInvalidPolicy)
	}
	return nil
}

// IsOperator reports whether addr may retrieve settled funds.
func (p *Policy) IsOperator(addr common.Address) bool {
	for _, op := range p.Operators {
		if op == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	cp := *p
	if p.RewardTokenSupply != nil {
		cp.RewardTokenSupply = new(big.Int).Set(p.RewardTokenSupply)
	}
	if p.PriceUnit != nil {
		cp.PriceUnit = new(big.Int).Set(p.PriceUnit)
	}
	cp.Operators = append([]common.Address(nil), p.Operators...)
	return &cp
}

func (p *Policy) setOperator(addr common.Address, enabled bool) {
	ops := p.Operators[:0:0]
	for _, op := range p.Operators {
		if op != addr {
			ops = append(ops, op)
		}
	}
	if enabled {
		ops = append(ops, addr)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Cmp(ops[j]) < 0 })
	p.Operators = ops
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	HoldLimit         *uint64         `json:"hold_limit,omitempty"`
	MintLimit         *uint64         `json:"mint_limit,omitempty"`
	MaxSupply         *uint64         `json:"max_supply,omitempty"`
	FairLaunchSupply  *uint64         `json:"fair_launch_supply,omitempty"`
	RewardTokenSupply *big.Int        `json:"reward_token_supply,omitempty"`
	TrustedSigner     *common.Address `json:"trusted_signer,omitempty"`
	FeeDestination    *common.Address `json:"fee_destination,omitempty"`
	FeeRateBps        *uint64         `json:"fee_rate_bps,omitempty"`
	PriceUnit         *big.Int        `json:"price_unit,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (pt Patch) Empty() bool {
	return pt == (Patch{})
}

func (pt Patch) apply(p *Policy) {
	if pt.HoldLimit != nil {
		p.HoldLimit = *pt.HoldLimit
	}
	if pt.MintLimit != nil {
		p.MintLimit = *pt.MintLimit
	}
	if pt.MaxSupply != nil {
		p.MaxSupply = *pt.MaxSupply
	}
	if pt.FairLaunchSupply != nil {
		p.FairLaunchSupply = *pt.FairLaunchSupply
	}
	if pt.RewardTokenSupply != nil {
		p.RewardTokenSupply = new(big.Int).Set(pt.RewardTokenSupply)
	}
	if pt.TrustedSigner != nil {
		p.TrustedSigner = *pt.TrustedSigner
	}
	if pt.FeeDestination != nil {
		p.FeeDestination = *pt.FeeDestination
	}
	if pt.FeeRateBps != nil {
		p.FeeRateBps = *pt.FeeRateBps
	}
	if pt.PriceUnit != nil {
		p.PriceUnit = new(big.Int).Set(pt.PriceUnit)
	}
}
