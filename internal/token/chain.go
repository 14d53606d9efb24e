package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/bondings/bondings/internal/logging"
	"github.com/bondings/bondings/internal/util"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var errNotConnected = errors.New("chain client not connected")

// ErrTransactionPending means a transaction was broadcast but its receipt
// did not arrive in time. It may still be mined.
var ErrTransactionPending = errors.New("transaction pending")

// DefaultReceiptTimeout bounds the wait for a broadcast transaction.
const DefaultReceiptTimeout = 5 * time.Minute

// ChainConfig holds the settings for the custody account's RPC connection.
type ChainConfig struct {
	RPCURL             string
	ChainID            int64
	BlockConfirmations int
	MaxGasPrice        *big.Int
	RetryConfig        *util.RetryConfig
	// ReceiptTimeout bounds send plus confirmation of one transaction,
	// independent of the caller's context. Zero means DefaultReceiptTimeout.
	ReceiptTimeout time.Duration
}

// DefaultChainConfig targets Blast mainnet.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		RPCURL:             "https://rpc.blast.io",
		ChainID:            81457,
		BlockConfirmations: 2,
		MaxGasPrice:        big.NewInt(100e9),
		RetryConfig:        util.ChainRetryConfig(),
		ReceiptTimeout:     DefaultReceiptTimeout,
	}
}

// Backend is the RPC surface ChainClient needs. *ethclient.Client
// implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// ChainClient signs and submits transactions for the custody key.
type ChainClient struct {
	config  *ChainConfig
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	mu     sync.RWMutex
	client Backend

	nonceMu      sync.Mutex
	pendingNonce uint64
}

// DialChain connects to the RPC endpoint, checks the chain ID and primes
// the custody account's nonce.
func DialChain(ctx context.Context, config *ChainConfig, key *ecdsa.PrivateKey) (*ChainClient, error) {
	if config == nil {
		config = DefaultChainConfig()
	}
	if key == nil {
		return nil, errors.New("custody key required")
	}

	client, result := util.RetryWithValue(ctx, config.RetryConfig, func() (*ethclient.Client, error) {
		return ethclient.DialContext(ctx, config.RPCURL)
	})
	if result.LastError != nil {
		return nil, fmt.Errorf("dial %s: %w", config.RPCURL, result.LastError)
	}

	cc, err := NewChainClient(ctx, config, key, client)
	if err != nil {
		client.Close()
		return nil, err
	}

	logging.Info("connected to chain",
		"rpc", config.RPCURL,
		"chain_id", config.ChainID,
		logging.Address("custody", cc.address),
		logging.Component("token"))
	return cc, nil
}

// NewChainClient wraps an already connected backend, checking its chain ID
// and priming the custody account's nonce. The caller keeps ownership of
// backend until this returns successfully.
func NewChainClient(ctx context.Context, config *ChainConfig, key *ecdsa.PrivateKey, backend Backend) (*ChainClient, error) {
	if config == nil {
		config = DefaultChainConfig()
	}
	if key == nil {
		return nil, errors.New("custody key required")
	}

	cc := &ChainClient{
		config:  config,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(config.ChainID),
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	if chainID.Cmp(cc.chainID) != 0 {
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", cc.chainID, chainID)
	}

	nonce, err := backend.PendingNonceAt(ctx, cc.address)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	cc.client = backend
	cc.pendingNonce = nonce
	return cc, nil
}

// Close closes the connection
func (cc *ChainClient) Close() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.client != nil {
		cc.client.Close()
		cc.client = nil
	}
}

// Address returns the custody account.
func (cc *ChainClient) Address() common.Address {
	return cc.address
}

func (cc *ChainClient) receiptTimeout() time.Duration {
	if cc.config.ReceiptTimeout <= 0 {
		return DefaultReceiptTimeout
	}
	return cc.config.ReceiptTimeout
}

func (cc *ChainClient) backend() (Backend, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	if cc.client == nil {
		return nil, errNotConnected
	}
	return cc.client, nil
}

// TransactOpts returns signing options with the next local nonce.
func (cc *ChainClient) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	client, err := cc.backend()
	if err != nil {
		return nil, err
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	if cc.config.MaxGasPrice != nil && gasPrice.Cmp(cc.config.MaxGasPrice) > 0 {
		gasPrice = cc.config.MaxGasPrice
	}

	auth, err := bind.NewKeyedTransactorWithChainID(cc.key, cc.chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasPrice = gasPrice

	cc.nonceMu.Lock()
	auth.Nonce = new(big.Int).SetUint64(cc.pendingNonce)
	cc.pendingNonce++
	cc.nonceMu.Unlock()

	return auth, nil
}

// SyncNonce resets the local nonce from the network, used after a failed send.
func (cc *ChainClient) SyncNonce(ctx context.Context) error {
	client, err := cc.backend()
	if err != nil {
		return err
	}
	nonce, err := client.PendingNonceAt(ctx, cc.address)
	if err != nil {
		return fmt.Errorf("get nonce: %w", err)
	}
	cc.nonceMu.Lock()
	cc.pendingNonce = nonce
	cc.nonceMu.Unlock()
	return nil
}

// WaitMined waits for tx to be mined with the configured confirmations.
// A reverted transaction is reported as a non-retryable error.
func (cc *ChainClient) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	client, err := cc.backend()
	if err != nil {
		return nil, err
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, util.MarkNonRetryable(fmt.Errorf("transaction reverted: %s", tx.Hash().Hex()))
	}

	if cc.config.BlockConfirmations <= 0 {
		return receipt, nil
	}
	target := receipt.BlockNumber.Uint64() + uint64(cc.config.BlockConfirmations)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		head, result := util.RetryWithValue(ctx, cc.config.RetryConfig, func() (uint64, error) {
			return client.BlockNumber(ctx)
		})
		if result.LastError != nil {
			return receipt, fmt.Errorf("poll block number: %w", result.LastError)
		}
		if head >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-ticker.C:
		}
	}
}
