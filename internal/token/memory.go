package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/bondings/bondings/internal/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MemoryToken is an in-process ERC20 with balances and allowances. It backs
// tests and the daemon's mock mode.
type MemoryToken struct {
	name   string
	symbol string

	mu         sync.RWMutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

// NewMemoryToken creates an empty token.
func NewMemoryToken(name, symbol string) *MemoryToken {
	return &MemoryToken{
		name:       name,
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     new(big.Int),
	}
}

func (t *MemoryToken) Name() string   { return t.name }
func (t *MemoryToken) Symbol() string { return t.symbol }

// TotalSupply returns the amount minted so far.
func (t *MemoryToken) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.supply)
}

// Mint credits amount to account.
func (t *MemoryToken) Mint(account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.creditLocked(account, amount)
	t.supply.Add(t.supply, amount)
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (t *MemoryToken) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.allowances[owner]; !ok {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns spender's remaining allowance over owner's balance.
func (t *MemoryToken) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (t *MemoryToken) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (t *MemoryToken) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.debitLocked(from, amount); err != nil {
		return err
	}
	t.creditLocked(to, amount)

	logging.Debug("memory token transfer",
		"token", t.symbol,
		logging.Address("from", from),
		logging.Address("to", to),
		"amount", amount.String())
	return nil
}

func (t *MemoryToken) TransferFrom(_ context.Context, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := new(big.Int)
	if a, ok := t.allowances[from][spender]; ok {
		allowance = a
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %s, need %s", ErrInsufficientAllowance, from.Hex(), allowance, amount)
	}
	if err := t.debitLocked(from, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = new(big.Int).Sub(allowance, amount)
	t.creditLocked(to, amount)

	logging.Debug("memory token transferFrom",
		"token", t.symbol,
		logging.Address("spender", spender),
		logging.Address("from", from),
		logging.Address("to", to),
		"amount", amount.String())
	return nil
}

func (t *MemoryToken) debitLocked(account common.Address, amount *big.Int) error {
	balance, ok := t.balances[account]
	if !ok || balance.Cmp(amount) < 0 {
		have := "0"
		if ok {
			have = balance.String()
		}
		return fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientBalance, account.Hex(), have, amount)
	}
	t.balances[account] = new(big.Int).Sub(balance, amount)
	return nil
}

func (t *MemoryToken) creditLocked(account common.Address, amount *big.Int) {
	if b, ok := t.balances[account]; ok {
		t.balances[account] = new(big.Int).Add(b, amount)
		return
	}
	t.balances[account] = new(big.Int).Set(amount)
}

// MemoryFactory deploys MemoryTokens at deterministic addresses derived
// from a deployer address and a nonce, like CREATE.
type MemoryFactory struct {
	deployer common.Address

	mu     sync.Mutex
	nonce  uint64
	tokens map[common.Address]*MemoryToken
}

// NewMemoryFactory creates a factory deploying from deployer.
func NewMemoryFactory(deployer common.Address) *MemoryFactory {
	return &MemoryFactory{
		deployer: deployer,
		tokens:   make(map[common.Address]*MemoryToken),
	}
}

func (f *MemoryFactory) Deploy(_ context.Context, name, symbol string, supply *big.Int, recipient common.Address) (common.Address, error) {
	if err := checkAmount(supply); err != nil {
		return common.Address{}, err
	}
	tok := NewMemoryToken(name, symbol)
	if err := tok.Mint(recipient, supply); err != nil {
		return common.Address{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	addr := crypto.CreateAddress(f.deployer, f.nonce)
	f.nonce++
	f.tokens[addr] = tok

	logging.Info("reward token deployed",
		"token", symbol,
		logging.Address("address", addr),
		logging.Address("recipient", recipient),
		logging.Component("token"))
	return addr, nil
}

// Token returns a token deployed by this factory.
func (f *MemoryFactory) Token(addr common.Address) (*MemoryToken, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[addr]
	return tok, ok
}
