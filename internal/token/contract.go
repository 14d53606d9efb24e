package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/bondings/bondings/internal/logging"
	"github.com/bondings/bondings/internal/util"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ContractToken adapts an on-chain ERC20 to Ledger. Only the custody
// account held by the ChainClient can send; everyone else reaches custody
// through TransferFrom after approving it.
type ContractToken struct {
	chain    *ChainClient
	contract *bind.BoundContract
	address  common.Address
}

// NewContractToken binds the ERC20 at address.
func NewContractToken(chain *ChainClient, address common.Address) (*ContractToken, error) {
	client, err := chain.backend()
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}
	return &ContractToken{
		chain:    chain,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		address:  address,
	}, nil
}

// Address returns the token contract address.
func (t *ContractToken) Address() common.Address {
	return t.address
}

func (t *ContractToken) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return t.callUint(ctx, "balanceOf", account)
}

// Allowance returns what owner has approved spender to pull.
func (t *ContractToken) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.callUint(ctx, "allowance", owner, spender)
}

func (t *ContractToken) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	value, result := util.RetryWithValue(ctx, t.chain.config.RetryConfig, func() (*big.Int, error) {
		var out []any
		if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return new(big.Int), nil
		}
		v, ok := out[0].(*big.Int)
		if !ok {
			return nil, util.MarkNonRetryable(fmt.Errorf("%s: unexpected return type %T", method, out[0]))
		}
		return v, nil
	})
	if result.LastError != nil {
		return nil, fmt.Errorf("%s: %w", method, result.LastError)
	}
	return value, nil
}

func (t *ContractToken) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if from != t.chain.Address() {
		return fmt.Errorf("%w: %s", ErrNotCustodian, from.Hex())
	}
	if amount.Sign() == 0 {
		return nil
	}
	_, err := t.send(ctx, "transfer", to, amount)
	return err
}

func (t *ContractToken) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender != t.chain.Address() {
		return fmt.Errorf("%w: %s", ErrNotCustodian, spender.Hex())
	}
	if amount.Sign() == 0 {
		return nil
	}

	// Check up front so an unapproved buy fails fast instead of reverting on chain.
	allowance, err := t.Allowance(ctx, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %s, need %s", ErrInsufficientAllowance, from.Hex(), allowance, amount)
	}

	_, err = t.send(ctx, "transferFrom", from, to, amount)
	return err
}

func (t *ContractToken) send(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	return transactAndWait(ctx, t.chain, t.contract, method, args...)
}

// transactAndWait signs, sends and confirms one call. Once signing starts
// the work runs on a context detached from ctx: a transaction can land even
// when the caller has gone away, and the outcome must still be reported.
func transactAndWait(ctx context.Context, chain *ChainClient, contract *bind.BoundContract, method string, args ...any) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chain.receiptTimeout())
	defer cancel()

	auth, err := chain.TransactOpts(sendCtx)
	if err != nil {
		return nil, err
	}

	tx, err := contract.Transact(auth, method, args...)
	if err != nil {
		if syncErr := chain.SyncNonce(sendCtx); syncErr != nil {
			logging.Warn("nonce resync failed", logging.Err(syncErr), logging.Component("token"))
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	logging.Debug("transaction sent",
		"method", method,
		"tx", tx.Hash().Hex(),
		logging.Component("token"))

	receipt, err := chain.WaitMined(sendCtx, tx)
	if err != nil {
		if sendCtx.Err() != nil {
			logging.Error("transaction unconfirmed",
				"method", method,
				"tx", tx.Hash().Hex(),
				logging.Err(err),
				logging.Component("token"))
			return receipt, fmt.Errorf("%s: %w: %s", method, ErrTransactionPending, tx.Hash().Hex())
		}
		return receipt, fmt.Errorf("%s: %w", method, err)
	}
	return receipt, nil
}

// ContractFactory deploys reward tokens through an on-chain factory.
type ContractFactory struct {
	chain    *ChainClient
	contract *bind.BoundContract
	address  common.Address
}

// NewContractFactory binds the token factory at address.
func NewContractFactory(chain *ChainClient, address common.Address) (*ContractFactory, error) {
	client, err := chain.backend()
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(TokenFactoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse factory ABI: %w", err)
	}
	return &ContractFactory{
		chain:    chain,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		address:  address,
	}, nil
}

type tokenDeployed struct {
	Token     common.Address
	Name      string
	Symbol    string
	Supply    *big.Int
	Recipient common.Address
}

func (f *ContractFactory) Deploy(ctx context.Context, name, symbol string, supply *big.Int, recipient common.Address) (common.Address, error) {
	if err := checkAmount(supply); err != nil {
		return common.Address{}, err
	}

	receipt, err := transactAndWait(ctx, f.chain, f.contract, "deploy", name, symbol, supply, recipient)
	if err != nil {
		return common.Address{}, err
	}

	addr, err := f.deployedToken(receipt)
	if err != nil {
		return common.Address{}, err
	}

	logging.Info("reward token deployed",
		"token", symbol,
		logging.Address("address", addr),
		"tx", receipt.TxHash.Hex(),
		logging.Component("token"))
	return addr, nil
}

func (f *ContractFactory) deployedToken(receipt *types.Receipt) (common.Address, error) {
	for _, lg := range receipt.Logs {
		if lg.Address != f.address {
			continue
		}
		var ev tokenDeployed
		if err := f.contract.UnpackLog(&ev, "TokenDeployed", *lg); err != nil {
			continue
		}
		if ev.Token != (common.Address{}) {
			return ev.Token, nil
		}
	}
	return common.Address{}, errors.New("deploy receipt carries no TokenDeployed event")
}
