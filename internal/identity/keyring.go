package identity

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
)

const (
	keyringServiceName = "bondings"
	walletPasswordKey  = "signer-password"
)

// PasswordEnv overrides every other password source when set.
const PasswordEnv = "BONDINGS_WALLET_PASSWORD"

// ErrNoPassword is returned when no password source yields a value.
var ErrNoPassword = errors.New("no wallet password available")

// StoreWalletPassword stores the wallet password in the platform keyring
// and returns the backend name.
func StoreWalletPassword(password string) (string, error) {
	ring, backend, err := openKeyring()
	if err != nil {
		return "", err
	}

	err = ring.Set(keyring.Item{
		Key:         walletPasswordKey,
		Data:        []byte(password),
		Label:       "Bondings Signer Password",
		Description: "Password for the bondings signer keystore",
	})
	if err != nil {
		return "", fmt.Errorf("failed to store in %s: %w", backend, err)
	}
	return backend, nil
}

// RetrieveWalletPassword returns ("", nil) when the keyring works but holds
// no password.
func RetrieveWalletPassword() (string, error) {
	ring, _, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(walletPasswordKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// DeleteWalletPassword removes the wallet password from the platform keyring.
func DeleteWalletPassword() error {
	ring, _, err := openKeyring()
	if err != nil {
		return err
	}
	err = ring.Remove(walletPasswordKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// ResolvePassword looks for the wallet password in the environment, then
// passwordFile (if set), then the platform keyring.
func ResolvePassword(passwordFile string) (string, error) {
	if pw, ok := os.LookupEnv(PasswordEnv); ok {
		return pw, nil
	}
	if passwordFile != "" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	pw, err := RetrieveWalletPassword()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoPassword, err)
	}
	if pw == "" {
		return "", ErrNoPassword
	}
	return pw, nil
}

// openKeyring opens the platform-native keyring and returns the backend name.
func openKeyring() (keyring.Keyring, string, error) {
	backends := platformKeyringBackends()
	if len(backends) == 0 {
		return nil, "", fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringServiceName,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		KeychainSynchronizable:         false,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, keyringBackendName(), nil
}

func platformKeyringBackends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend}
	case "linux":
		return []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
		}
	default:
		return nil
	}
}

func keyringBackendName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "linux":
		return "Secret Service (GNOME Keyring / KDE Wallet)"
	default:
		return "system keyring"
	}
}
