package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/bondings/bondings/internal/api"
	"github.com/bondings/bondings/internal/ledger"
)

func receiptFields(rc *ledger.Receipt) [][2]string {
	return [][2]string{
		{"Side", string(rc.Side)},
		{"Amount", strconv.FormatUint(rc.Amount, 10)},
		{"Curve Value", formatValue(rc.Value)},
		{"Fee", formatValue(rc.Fee)},
		{"Total", formatValue(rc.Total)},
		{"Your Share", strconv.FormatUint(rc.UserShare, 10)},
		{"Total Share", strconv.FormatUint(rc.TotalShare, 10)},
		{"Stage", StageBadge(rc.Stage)},
	}
}

// confirm asks a yes/no question on a terminal. Non-interactive runs must
// pass --yes.
func confirm(title, description string, yes bool) (bool, error) {
	if yes {
		return true, nil
	}
	if !isTTY() {
		return false, fmt.Errorf("refusing to proceed without --yes on a non-interactive terminal")
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Proceed").
		Negative("Cancel").
		Value(&ok).
		Run()
	return ok, err
}

func NewLaunchCmd() *cobra.Command {
	var (
		symbol    string
		timestamp uint64
		sig       string
		signerDir string
	)

	cmd := &cobra.Command{
		Use:   "launch <name>",
		Short: "Launch a new bonding",
		Long: `Launch a new bonding with a registration signature from the trusted signer.

Pass the signature and the timestamp it covers with --signature and
--timestamp. Operators holding the signer keystore can sign in one step
with --signer-keystore.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			c, err := signedClient()
			if err != nil {
				return err
			}

			if signerDir != "" {
				wallet, err := loadWallet()
				if err != nil {
					return err
				}
				timestamp = uint64(time.Now().Unix())
				raw, err := signRegistration(signerDir, name, wallet.Address(), timestamp)
				if err != nil {
					return err
				}
				sig = hexutil.Encode(raw)
			}
			if sig == "" || timestamp == 0 {
				return fmt.Errorf("--signature and --timestamp are required")
			}

			var resp *api.LaunchResponse
			err = WithSpinner("Launching "+name, func() error {
				resp, err = c.Launch(cmd.Context(), &api.LaunchRequest{
					Name:      name,
					Symbol:    symbol,
					Timestamp: timestamp,
					Signature: sig,
				})
				return err
			})
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(resp)
			}
			Success(fmt.Sprintf("Launched %s (id %d, symbol %s)", resp.Name, resp.ID, resp.Symbol))
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "Reward token symbol (default: name)")
	cmd.Flags().Uint64Var(&timestamp, "timestamp", 0, "Unix time the signature covers")
	cmd.Flags().StringVar(&sig, "signature", "", "Hex registration signature from the trusted signer")
	cmd.Flags().StringVar(&signerDir, "signer-keystore", "", "Sign locally with the trusted signer keystore in this directory")
	return cmd
}

func newTradeCmd(side ledger.Side) *cobra.Command {
	var limit string

	use, short, limitHelp := "buy", "Buy bonding shares", "Maximum payment in base units"
	if side == ledger.SideSell {
		use, short, limitHelp = "sell", "Sell bonding shares back to the curve", "Minimum payout in base units"
	}

	cmd := &cobra.Command{
		Use:   use + " <name> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			amount, err := parseShares(args[1])
			if err != nil {
				return err
			}
			bound, err := parseLimit(limit)
			if err != nil {
				return err
			}
			c, err := signedClient()
			if err != nil {
				return err
			}

			var rc *ledger.Receipt
			err = WithSpinner(fmt.Sprintf("Submitting %s of %d %s", side, amount, name), func() error {
				if side == ledger.SideBuy {
					rc, err = c.Buy(cmd.Context(), name, amount, bound)
				} else {
					rc, err = c.Sell(cmd.Context(), name, amount, bound)
				}
				return err
			})
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(rc)
			}
			fmt.Println(StatusBox(fmt.Sprintf("%s %s", use, rc.Name), receiptFields(rc)))
			return nil
		},
	}
	cmd.Flags().StringVar(&limit, "limit", "", limitHelp+" (default: unbounded)")
	return cmd
}

func NewBuyCmd() *cobra.Command  { return newTradeCmd(ledger.SideBuy) }
func NewSellCmd() *cobra.Command { return newTradeCmd(ledger.SideSell) }

func NewTransferCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "transfer <name> <to> <amount>",
		Short: "Transfer shares of an open bonding",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !common.IsHexAddress(args[1]) {
				return fmt.Errorf("invalid recipient %q", args[1])
			}
			to := common.HexToAddress(args[1])
			amount, err := parseShares(args[2])
			if err != nil {
				return err
			}

			ok, err := confirm(fmt.Sprintf("Transfer %d %s?", amount, name), "to "+to.Hex(), yes)
			if err != nil || !ok {
				return err
			}

			c, err := signedClient()
			if err != nil {
				return err
			}
			resp, err := c.Transfer(cmd.Context(), name, to, amount)
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(resp)
			}
			Success(fmt.Sprintf("Transferred %d %s to %s", resp.Amount, resp.Name, FormatAddress(resp.To.Hex())))
			fmt.Println(Hint(fmt.Sprintf("your share: %d, recipient share: %d", resp.FromShare, resp.ToShare)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func NewRetrieveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "retrieve <name>",
		Short: "Settle an open bonding (operators only)",
		Long: `Withdraw a stage 3 bonding's collected funds to the operator and deploy
its reward token. Each bonding settles once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ok, err := confirm("Retrieve funds for "+name+"?", "This deploys the reward token and can only happen once.", yes)
			if err != nil || !ok {
				return err
			}

			c, err := signedClient()
			if err != nil {
				return err
			}

			var st *ledger.Settlement
			err = WithSpinner("Settling "+name, func() error {
				st, err = c.Retrieve(cmd.Context(), name)
				return err
			})
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(st)
			}
			fmt.Println(StatusBox("Settled "+st.Name, [][2]string{
				{"Operator", st.Operator.Hex()},
				{"Amount", formatValue(st.Amount)},
				{"Reward Token", st.RewardToken.Hex()},
				{"Token Supply", st.Supply.String()},
			}))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}
