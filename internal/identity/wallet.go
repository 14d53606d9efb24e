package identity

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bondings/bondings/internal/signature"
)

// ErrNoWallet is returned when a keystore directory holds no account.
var ErrNoWallet = errors.New("no wallet in keystore")

// Wallet is a single-account encrypted keystore. The backend signer that
// issues registration signatures and the on-chain custody account both
// live in one.
type Wallet struct {
	keystore   *keystore.KeyStore
	dir        string
	address    common.Address
	privateKey *ecdsa.PrivateKey
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP), nil
}

// LoadWallet opens the first account in dir. It returns ErrNoWallet when
// the directory is empty.
func LoadWallet(dir string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	accounts := ks.Accounts()
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoWallet, dir)
	}
	return &Wallet{keystore: ks, dir: dir, address: accounts[0].Address}, nil
}

// CreateWallet generates a fresh key in dir. It fails if dir already holds
// a wallet.
func CreateWallet(dir, password string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", dir)
	}

	account, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Wallet{keystore: ks, dir: dir, address: account.Address}, nil
}

// ImportWallet stores a hex private key (with or without 0x) in dir.
func ImportWallet(dir, privKeyHex, password string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", dir)
	}

	if len(privKeyHex) > 1 && privKeyHex[0] == '0' && (privKeyHex[1] == 'x' || privKeyHex[1] == 'X') {
		privKeyHex = privKeyHex[2:]
	}
	privateKey, err := crypto.HexToECDSA(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}

	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Wallet{keystore: ks, dir: dir, address: account.Address}, nil
}

// LoadKeyFile decrypts a single keystore JSON file.
func LoadKeyFile(path, password string) (*ecdsa.PrivateKey, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	return key.PrivateKey, nil
}

// Address returns the wallet's address
func (w *Wallet) Address() common.Address {
	return w.address
}

// KeystoreDir returns the path to the keystore directory
func (w *Wallet) KeystoreDir() string {
	return w.dir
}

// KeyFile returns the path of the account's encrypted key file.
func (w *Wallet) KeyFile() string {
	for _, a := range w.keystore.Accounts() {
		if a.Address == w.address {
			return a.URL.Path
		}
	}
	return ""
}

// Unlock decrypts and caches the private key.
func (w *Wallet) Unlock(password string) (*ecdsa.PrivateKey, error) {
	if w.privateKey != nil {
		return w.privateKey, nil
	}
	path := w.KeyFile()
	if path == "" {
		return nil, fmt.Errorf("no key file for %s", w.address.Hex())
	}
	key, err := LoadKeyFile(path, password)
	if err != nil {
		return nil, err
	}
	w.privateKey = key
	return key, nil
}

// Lock zeros and drops the cached private key.
func (w *Wallet) Lock() {
	if w.privateKey != nil {
		w.privateKey.D.SetUint64(0)
		w.privateKey = nil
	}
}

// SignMessage produces an EIP-191 personal signature over msg.
func (w *Wallet) SignMessage(msg []byte, password string) ([]byte, error) {
	key, err := w.Unlock(password)
	if err != nil {
		return nil, err
	}
	return signature.Sign(msg, key)
}

// SignRegistration authorizes user to launch name at timestamp. The result
// is what LaunchBondings expects from the trusted signer.
func (w *Wallet) SignRegistration(name string, user common.Address, timestamp uint64, password string) ([]byte, error) {
	return w.SignMessage(signature.PackRegister(name, user, timestamp), password)
}
