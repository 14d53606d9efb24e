package commands

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/bondings/bondings/internal/ledger"
	"github.com/bondings/bondings/internal/policy"
	"github.com/bondings/bondings/internal/token"
)

// formatValue renders base units with the decimal token amount alongside.
func formatValue(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return fmt.Sprintf("%s (%s)", v.String(), token.FormatAmount(v))
}

// parseLimit parses a slippage bound in base units. Empty means unbounded.
func parseLimit(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid limit %q: want a non-negative integer in base units", s)
	}
	return v, nil
}

func parseShares(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid share amount %q", s)
	}
	return n, nil
}

func bondingFields(b *ledger.Bonding) [][2]string {
	fields := [][2]string{
		{"ID", strconv.FormatUint(uint64(b.ID), 10)},
		{"Symbol", b.Symbol},
		{"Creator", b.Creator.Hex()},
		{"Created", b.CreatedAt.Format("2006-01-02 15:04:05 MST")},
		{"Stage", StageBadge(b.Stage)},
		{"Total Share", strconv.FormatUint(b.TotalShare, 10)},
		{"Holders", strconv.Itoa(b.Holders)},
		{"Collected", formatValue(b.CollectedFunds)},
	}
	if b.RewardToken != (common.Address{}) {
		fields = append(fields, [2]string{"Reward Token", b.RewardToken.Hex()})
	}
	if b.Retrieved {
		fields = append(fields, [2]string{"Retrieved", "yes"})
	}
	return fields
}

func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all bondings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := readOnlyClient().List(cmd.Context())
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(list)
			}
			if len(list) == 0 {
				Info("No bondings launched yet")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, b := range list {
				rows = append(rows, []string{
					strconv.FormatUint(uint64(b.ID), 10),
					b.Name,
					b.Stage.String(),
					strconv.FormatUint(b.TotalShare, 10),
					strconv.Itoa(b.Holders),
					token.FormatAmount(b.CollectedFunds),
				})
			}
			fmt.Println(RenderTable([]string{"ID", "NAME", "STAGE", "SUPPLY", "HOLDERS", "COLLECTED"}, rows))
			return nil
		},
	}
}

func NewShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one bonding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readOnlyClient().Bonding(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(b)
			}
			fmt.Println(StatusBox(b.Name, bondingFields(b)))
			return nil
		},
	}
}

func NewShareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <name> [address]",
		Short: "Show an account's share of a bonding",
		Long:  "Show an account's share of a bonding. Defaults to the local wallet's address.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := accountArg(args[1:])
			if err != nil {
				return err
			}
			resp, err := readOnlyClient().Share(cmd.Context(), args[0], account)
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(resp)
			}
			fmt.Println(StatusBox(resp.Name, [][2]string{
				{"Account", resp.Account.Hex()},
				{"Share", strconv.FormatUint(resp.Share, 10)},
				{"Total Share", strconv.FormatUint(resp.TotalShare, 10)},
			}))
			return nil
		},
	}
}

// accountArg returns the address in args, or the local wallet's address.
func accountArg(args []string) (common.Address, error) {
	if len(args) > 0 {
		if !common.IsHexAddress(args[0]) {
			return common.Address{}, fmt.Errorf("invalid address %q", args[0])
		}
		return common.HexToAddress(args[0]), nil
	}
	w, err := loadWallet()
	if err != nil {
		return common.Address{}, err
	}
	return w.Address(), nil
}

func quoteFields(q *ledger.Quote) [][2]string {
	totalLabel := "You Pay"
	if q.Side == ledger.SideSell {
		totalLabel = "You Receive"
	}
	return [][2]string{
		{"Side", string(q.Side)},
		{"Amount", strconv.FormatUint(q.Amount, 10)},
		{"Supply Before", strconv.FormatUint(q.TotalShare, 10)},
		{"Curve Value", formatValue(q.Value)},
		{"Fee", formatValue(q.Fee)},
		{totalLabel, formatValue(q.Total)},
	}
}

func NewQuoteCmd() *cobra.Command {
	var sell bool

	cmd := &cobra.Command{
		Use:   "quote <name> <amount>",
		Short: "Price a trade against a bonding's current supply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseShares(args[1])
			if err != nil {
				return err
			}
			side := ledger.SideBuy
			if sell {
				side = ledger.SideSell
			}

			q, err := readOnlyClient().Quote(cmd.Context(), args[0], side, amount)
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(q)
			}
			fmt.Println(StatusBox("Quote: "+q.Name, quoteFields(q)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&sell, "sell", false, "Quote a sell instead of a buy")
	return cmd
}

// NewCurveCmd prices trades offline, without a daemon.
func NewCurveCmd() *cobra.Command {
	var (
		supply    uint64
		sell      bool
		priceUnit string
		feeBps    uint64
		maxSupply uint64
	)

	cmd := &cobra.Command{
		Use:   "curve <amount>",
		Short: "Price a trade offline at a given supply",
		Long: `Price a trade on the bonding curve without contacting a daemon.

The price of n units at supply s is price_unit * (S(s+n) - S(s)) where
S(m) = m(m+1)(2m+1)/6, plus or minus the fee.`,
		Example: `  bondings curve 9
  bondings curve 5 --supply 9
  bondings curve 7 --supply 14 --sell`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseShares(args[0])
			if err != nil {
				return err
			}

			p := policy.Default()
			p.FeeRateBps = feeBps
			p.MaxSupply = maxSupply
			if _, ok := p.PriceUnit.SetString(priceUnit, 10); !ok {
				return fmt.Errorf("invalid price unit %q", priceUnit)
			}

			side := ledger.SideBuy
			if sell {
				side = ledger.SideSell
			}
			q, err := ledger.PriceTrade(p, side, supply, amount)
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(q)
			}
			fmt.Println(StatusBox("Curve", quoteFields(q)))
			return nil
		},
	}

	defaults := policy.Default()
	cmd.Flags().Uint64Var(&supply, "supply", 0, "Total share before the trade")
	cmd.Flags().BoolVar(&sell, "sell", false, "Price a sell instead of a buy")
	cmd.Flags().StringVar(&priceUnit, "price-unit", defaults.PriceUnit.String(), "Base units per k²")
	cmd.Flags().Uint64Var(&feeBps, "fee-bps", defaults.FeeRateBps, "Fee rate in basis points")
	cmd.Flags().Uint64Var(&maxSupply, "max-supply", defaults.MaxSupply, "Maximum total share")
	return cmd
}
