package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bondings/bondings/internal/identity"
)

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the local Ethereum wallet",
		Long: `Manage the wallet that signs your API requests. The trusted signer and the
custody account use the same keystore format.

The wallet is stored as an encrypted keystore file (geth V3 format).
The password is looked up in BONDINGS_WALLET_PASSWORD, then your platform
keyring (macOS Keychain, GNOME Keyring / KDE Wallet).`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletShowCmd())
	cmd.AddCommand(newWalletForgetPasswordCmd())
	return cmd
}

func loadWallet() (*identity.Wallet, error) {
	dir := GetKeystoreDir()
	w, err := identity.LoadWallet(dir)
	if errors.Is(err, identity.ErrNoWallet) {
		return nil, fmt.Errorf("no wallet in %s (run: bondings wallet create)", dir)
	}
	return w, err
}

// promptNewPassword reads and confirms a new wallet password.
func promptNewPassword() (string, error) {
	if pw, ok := os.LookupEnv(identity.PasswordEnv); ok {
		return pw, nil
	}

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter wallet password: ")
		password, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if len(password) < 8 {
			Warning("Password must be at least 8 characters. Try again.")
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm wallet password: ")
		again, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		if password != again {
			Warning("Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

// storePasswordInKeyring saves password for later unlocks, falling back to
// instructions when no keyring is reachable.
func storePasswordInKeyring(password string) {
	backend, err := identity.StoreWalletPassword(password)
	if err == nil {
		Info("Password saved to " + backend)
		return
	}
	Warning("Could not store password in system keyring: " + err.Error())
	fmt.Println(Hint("Set " + identity.PasswordEnv + " for non-interactive use."))
}

func newWalletCreateCmd() *cobra.Command {
	var noKeyring bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			w, err := identity.CreateWallet(GetKeystoreDir(), password)
			if err != nil {
				return err
			}
			Success("Wallet created: " + w.Address().Hex())
			if !noKeyring {
				storePasswordInKeyring(password)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noKeyring, "no-keyring", false, "Do not save the password in the system keyring")
	return cmd
}

func newWalletImportCmd() *cobra.Command {
	var noKeyring bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a hex private key",
		Long:  "Import a wallet from a hex private key read from stdin (not echoed on a terminal).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Private key (hex): ")
			keyHex, err := readPasswordNoEcho()
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read private key: %w", err)
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			w, err := identity.ImportWallet(GetKeystoreDir(), strings.TrimSpace(keyHex), password)
			if err != nil {
				return err
			}
			Success("Wallet imported: " + w.Address().Hex())
			if !noKeyring {
				storePasswordInKeyring(password)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noKeyring, "no-keyring", false, "Do not save the password in the system keyring")
	return cmd
}

func newWalletShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show wallet address and keystore path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWallet()
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(map[string]string{
					"address":  w.Address().Hex(),
					"keystore": w.KeystoreDir(),
					"key_file": w.KeyFile(),
				})
			}
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", w.Address().Hex()},
				{"Keystore", w.KeystoreDir()},
				{"Key File", w.KeyFile()},
			}))
			return nil
		},
	}
}

func newWalletForgetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget-password",
		Short: "Remove the wallet password from the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := identity.DeleteWalletPassword(); err != nil {
				return err
			}
			Success("Password removed from keyring")
			return nil
		},
	}
}
