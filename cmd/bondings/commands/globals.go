package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bondings/bondings/internal/client"
	"github.com/bondings/bondings/internal/config"
	"github.com/bondings/bondings/internal/identity"
)

// Global flag values shared by every subcommand.
var (
	APIEndpoint string
	KeystoreDir string
	ConfigPath  string
	JSONOutput  bool
)

// RegisterGlobalFlags adds the persistent flags to root.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&APIEndpoint, "api", envOr("BONDINGS_API", "http://localhost:8080"), "Daemon API endpoint")
	root.PersistentFlags().StringVar(&KeystoreDir, "keystore", "", "Wallet keystore directory (default: ~/.bondings/wallet)")
	root.PersistentFlags().StringVar(&ConfigPath, "config", config.DefaultConfigPath(), "Path to daemon config file")
	root.PersistentFlags().BoolVar(&JSONOutput, "json", false, "Print raw JSON instead of formatted output")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetKeystoreDir returns the user's wallet keystore directory.
func GetKeystoreDir() string {
	if KeystoreDir != "" {
		return KeystoreDir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".bondings", "wallet")
}

// readOnlyClient returns an unsigned API client.
func readOnlyClient() *client.APIClient {
	return client.NewAPIClient(APIEndpoint, nil)
}

// signedClient unlocks the user's wallet and returns a client that signs
// write requests with it.
func signedClient() (*client.APIClient, error) {
	wallet, password, err := unlockWallet(GetKeystoreDir())
	if err != nil {
		return nil, err
	}
	return client.NewAPIClient(APIEndpoint, client.NewWalletSigner(wallet, password)), nil
}

// unlockWallet loads the wallet in dir and resolves its password from the
// environment or keyring, prompting on a terminal as a last resort.
func unlockWallet(dir string) (*identity.Wallet, string, error) {
	wallet, err := identity.LoadWallet(dir)
	if errors.Is(err, identity.ErrNoWallet) {
		return nil, "", fmt.Errorf("no wallet in %s (run: bondings wallet create)", dir)
	}
	if err != nil {
		return nil, "", err
	}

	password, err := identity.ResolvePassword("")
	if errors.Is(err, identity.ErrNoPassword) && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Wallet password: ")
		password, err = readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return nil, "", err
	}

	if _, err := wallet.Unlock(password); err != nil {
		return nil, "", fmt.Errorf("failed to unlock wallet: %w", err)
	}
	return wallet, password, nil
}

func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
