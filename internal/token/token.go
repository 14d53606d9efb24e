// Package token provides the payment-token primitives the bonding ledger
// settles through and the factory that deploys per-bonding reward tokens.
package token

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotCustodian          = errors.New("account is not controlled by this facility")
	ErrInvalidAmount         = errors.New("invalid amount")
)

// Ledger moves payment tokens between accounts.
type Ledger interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	// Transfer moves amount out of an account the facility controls.
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	// TransferFrom pulls amount out of from, which must have approved spender.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}

// Factory deploys a fresh token minting supply to recipient.
type Factory interface {
	Deploy(ctx context.Context, name, symbol string, supply *big.Int, recipient common.Address) (common.Address, error)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
