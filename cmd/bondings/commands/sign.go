package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

// NewSignCmd creates the sign command group
func NewSignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Produce trusted-signer authorizations",
	}
	cmd.AddCommand(newSignRegisterCmd())
	return cmd
}

func newSignRegisterCmd() *cobra.Command {
	var (
		signerDir string
		timestamp uint64
	)

	cmd := &cobra.Command{
		Use:   "register <name> <user>",
		Short: "Authorize user to launch name",
		Long: `Sign a registration for user to launch name, using the trusted signer
keystore. The signature is valid for the daemon's signature window starting
at the timestamp.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !common.IsHexAddress(args[1]) {
				return fmt.Errorf("invalid user address %q", args[1])
			}
			user := common.HexToAddress(args[1])
			if timestamp == 0 {
				timestamp = uint64(time.Now().Unix())
			}

			sig, err := signRegistration(signerDir, name, user, timestamp)
			if err != nil {
				return err
			}

			if JSONOutput {
				return printJSON(map[string]any{
					"name":      name,
					"user":      user,
					"timestamp": timestamp,
					"signature": hexutil.Encode(sig),
				})
			}
			fmt.Println(StatusBox("Registration", [][2]string{
				{"Name", name},
				{"User", user.Hex()},
				{"Timestamp", strconv.FormatUint(timestamp, 10)},
				{"Signature", hexutil.Encode(sig)},
			}))
			return nil
		},
	}
	cmd.Flags().StringVar(&signerDir, "signer-keystore", "", "Trusted signer keystore directory (default: --keystore)")
	cmd.Flags().Uint64Var(&timestamp, "timestamp", 0, "Unix time to sign (default: now)")
	return cmd
}

func signRegistration(signerDir, name string, user common.Address, timestamp uint64) ([]byte, error) {
	if signerDir == "" {
		signerDir = GetKeystoreDir()
	}
	wallet, password, err := unlockWallet(signerDir)
	if err != nil {
		return nil, err
	}
	defer wallet.Lock()
	return wallet.SignRegistration(name, user, timestamp, password)
}
