package client

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bondings/bondings/internal/api"
	"github.com/bondings/bondings/internal/identity"
	"github.com/bondings/bondings/internal/signature"
)

// AuthSigner produces EIP-191 personal signatures for inline auth headers.
type AuthSigner interface {
	Address() common.Address
	SignMessage(msg []byte) ([]byte, error)
}

// WalletSigner signs with an encrypted keystore wallet.
type WalletSigner struct {
	wallet   *identity.Wallet
	password string
}

// NewWalletSigner creates a signer from an existing wallet and password.
func NewWalletSigner(wallet *identity.Wallet, password string) *WalletSigner {
	return &WalletSigner{wallet: wallet, password: password}
}

func (s *WalletSigner) Address() common.Address {
	return s.wallet.Address()
}

func (s *WalletSigner) SignMessage(msg []byte) ([]byte, error) {
	return s.wallet.SignMessage(msg, s.password)
}

// KeySigner signs with an unencrypted private key.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *KeySigner) SignMessage(msg []byte) ([]byte, error) {
	return signature.Sign(msg, s.key)
}

// SignAuth produces the three inline-auth header values for time at:
// address, signature (hex), and message.
func SignAuth(s AuthSigner, at time.Time) (address, sig, message string, err error) {
	message = api.AuthMessage(at)
	raw, err := s.SignMessage([]byte(message))
	if err != nil {
		return "", "", "", fmt.Errorf("failed to sign auth message: %w", err)
	}
	return s.Address().Hex(), hexutil.Encode(raw), message, nil
}
