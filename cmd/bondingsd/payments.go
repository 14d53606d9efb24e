package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bondings/bondings/internal/config"
	"github.com/bondings/bondings/internal/identity"
	"github.com/bondings/bondings/internal/logging"
	"github.com/bondings/bondings/internal/token"
	"github.com/bondings/bondings/internal/util"
)

// payments is the token facility the ledger settles through.
type payments struct {
	Custody common.Address
	Payment token.Ledger
	Factory token.Factory
	close   func()
}

func (p *payments) Close() {
	if p.close != nil {
		p.close()
	}
}

func openPayments(ctx context.Context, cfg *config.Config) (*payments, error) {
	if cfg.Chain.MockPayments {
		return openMockPayments(cfg)
	}
	return openChainPayments(ctx, cfg)
}

// openMockPayments funds each configured mock account and approves custody
// to spend its whole balance.
func openMockPayments(cfg *config.Config) (*payments, error) {
	custody := common.HexToAddress(cfg.Ledger.Custody)
	pay := token.NewMemoryToken("Mock USD", "mUSD")

	for _, acct := range cfg.Chain.MockAccounts {
		amount, err := token.ParseAmount(acct.Balance)
		if err != nil {
			return nil, fmt.Errorf("mock account %s: %w", acct.Address, err)
		}
		owner := common.HexToAddress(acct.Address)
		if err := pay.Mint(owner, amount); err != nil {
			return nil, fmt.Errorf("mock account %s: %w", acct.Address, err)
		}
		if err := pay.Approve(owner, custody, amount); err != nil {
			return nil, fmt.Errorf("mock account %s: %w", acct.Address, err)
		}
	}

	logging.Warn("using in-memory payment token; balances are lost on restart",
		"accounts", len(cfg.Chain.MockAccounts),
		logging.Component("daemon"))

	return &payments{
		Custody: custody,
		Payment: pay,
		Factory: token.NewMemoryFactory(custody),
	}, nil
}

// openChainPayments unlocks the custody key and binds the payment token and
// reward token factory contracts.
func openChainPayments(ctx context.Context, cfg *config.Config) (*payments, error) {
	c := cfg.Chain

	password, err := identity.ResolvePassword(c.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("custody key password: %w", err)
	}
	key, err := identity.LoadKeyFile(c.CustodyKeyFile, password)
	if err != nil {
		return nil, fmt.Errorf("custody key: %w", err)
	}

	chain, err := token.DialChain(ctx, &token.ChainConfig{
		RPCURL:             c.RPCURL,
		ChainID:            c.ChainID,
		BlockConfirmations: c.BlockConfirmations,
		MaxGasPrice:        new(big.Int).Mul(big.NewInt(c.MaxGasPriceGwei), big.NewInt(1e9)),
		RetryConfig:        util.ChainRetryConfig(),
		ReceiptTimeout:     time.Duration(c.ReceiptTimeoutSecs) * time.Second,
	}, key)
	if err != nil {
		return nil, err
	}

	pay, err := token.NewContractToken(chain, common.HexToAddress(c.PaymentToken))
	if err != nil {
		chain.Close()
		return nil, err
	}
	factory, err := token.NewContractFactory(chain, common.HexToAddress(c.TokenFactory))
	if err != nil {
		chain.Close()
		return nil, err
	}

	logging.Info("connected to chain",
		"chain_id", c.ChainID,
		logging.Address("payment_token", pay.Address()),
		logging.Address("custody", chain.Address()),
		logging.Component("daemon"))

	return &payments{
		Custody: chain.Address(),
		Payment: pay,
		Factory: factory,
		close:   chain.Close,
	}, nil
}
