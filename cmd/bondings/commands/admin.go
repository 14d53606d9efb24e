package commands

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/bondings/bondings/internal/api"
	"github.com/bondings/bondings/internal/policy"
)

// NewAdminCmd creates the admin command group
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect and change the ledger policy",
	}
	cmd.AddCommand(newAdminPolicyCmd())
	cmd.AddCommand(newAdminSetCmd())
	cmd.AddCommand(newAdminOperatorCmd("add", true))
	cmd.AddCommand(newAdminOperatorCmd("remove", false))
	return cmd
}

func policyFields(p *policy.Policy) [][2]string {
	ops := make([]string, len(p.Operators))
	for i, op := range p.Operators {
		ops[i] = FormatAddress(op.Hex())
	}
	if len(ops) == 0 {
		ops = []string{"none"}
	}
	return [][2]string{
		{"Admin", p.Admin.Hex()},
		{"Trusted Signer", p.TrustedSigner.Hex()},
		{"Fee Destination", p.FeeDestination.Hex()},
		{"Operators", strings.Join(ops, ", ")},
		{"Fee Rate", fmt.Sprintf("%d bps", p.FeeRateBps)},
		{"Price Unit", p.PriceUnit.String()},
		{"Fair Launch", strconv.FormatUint(p.FairLaunchSupply, 10)},
		{"Max Supply", strconv.FormatUint(p.MaxSupply, 10)},
		{"Mint Limit", strconv.FormatUint(p.MintLimit, 10)},
		{"Hold Limit", strconv.FormatUint(p.HoldLimit, 10)},
		{"Reward Supply", p.RewardTokenSupply.String()},
	}
}

func newAdminPolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Show the current policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readOnlyClient().Policy(cmd.Context())
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(p)
			}
			fmt.Println(StatusBox("Policy", policyFields(p)))
			return nil
		},
	}
}

type policyFlags struct {
	holdLimit, mintLimit, maxSupply, fairLaunch, feeBps uint64
	rewardSupply, priceUnit                             string
	signer, feeDest, admin                              string
}

// patch builds a PolicyUpdateRequest from the flags the user set.
func (f *policyFlags) patch(cmd *cobra.Command) (*api.PolicyUpdateRequest, error) {
	req := &api.PolicyUpdateRequest{}
	changed := cmd.Flags().Changed

	uints := []struct {
		flag string
		src  *uint64
		dst  **uint64
	}{
		{"hold-limit", &f.holdLimit, &req.HoldLimit},
		{"mint-limit", &f.mintLimit, &req.MintLimit},
		{"max-supply", &f.maxSupply, &req.MaxSupply},
		{"fair-launch-supply", &f.fairLaunch, &req.FairLaunchSupply},
		{"fee-bps", &f.feeBps, &req.FeeRateBps},
	}
	for _, u := range uints {
		if changed(u.flag) {
			*u.dst = u.src
		}
	}

	ints := []struct {
		flag string
		src  string
		dst  **big.Int
	}{
		{"reward-supply", f.rewardSupply, &req.RewardTokenSupply},
		{"price-unit", f.priceUnit, &req.PriceUnit},
	}
	for _, i := range ints {
		if !changed(i.flag) {
			continue
		}
		v, ok := new(big.Int).SetString(i.src, 10)
		if !ok {
			return nil, fmt.Errorf("--%s: invalid integer %q", i.flag, i.src)
		}
		*i.dst = v
	}

	addrs := []struct {
		flag string
		src  string
		dst  **common.Address
	}{
		{"trusted-signer", f.signer, &req.TrustedSigner},
		{"fee-destination", f.feeDest, &req.FeeDestination},
		{"admin", f.admin, &req.Admin},
	}
	for _, a := range addrs {
		if !changed(a.flag) {
			continue
		}
		if !common.IsHexAddress(a.src) {
			return nil, fmt.Errorf("--%s: invalid address %q", a.flag, a.src)
		}
		addr := common.HexToAddress(a.src)
		*a.dst = &addr
	}

	if req.Patch.Empty() && req.Admin == nil {
		return nil, fmt.Errorf("no policy flags given")
	}
	return req, nil
}

func newAdminSetCmd() *cobra.Command {
	var f policyFlags

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update policy fields (admin only)",
		Example: `  bondings admin set --hold-limit 500 --mint-limit 500
  bondings admin set --fee-destination 0x... --fee-bps 250
  bondings admin set --admin 0xNEW_ADMIN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.patch(cmd)
			if err != nil {
				return err
			}
			c, err := signedClient()
			if err != nil {
				return err
			}
			p, err := c.UpdatePolicy(cmd.Context(), req)
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(p)
			}
			Success("Policy updated")
			fmt.Println(StatusBox("Policy", policyFields(p)))
			return nil
		},
	}

	fl := cmd.Flags()
	fl.Uint64Var(&f.holdLimit, "hold-limit", 0, "Max shares one account may hold while limits apply")
	fl.Uint64Var(&f.mintLimit, "mint-limit", 0, "Max shares per buy while limits apply")
	fl.Uint64Var(&f.maxSupply, "max-supply", 0, "Supply at which a bonding opens")
	fl.Uint64Var(&f.fairLaunch, "fair-launch-supply", 0, "Supply at which fair launch ends")
	fl.Uint64Var(&f.feeBps, "fee-bps", 0, "Fee rate in basis points")
	fl.StringVar(&f.rewardSupply, "reward-supply", "", "Reward token supply in base units")
	fl.StringVar(&f.priceUnit, "price-unit", "", "Curve price unit in base units")
	fl.StringVar(&f.signer, "trusted-signer", "", "Registration signer address")
	fl.StringVar(&f.feeDest, "fee-destination", "", "Fee recipient address")
	fl.StringVar(&f.admin, "admin", "", "Hand admin rights to this address")
	return cmd
}

func newAdminOperatorCmd(use string, enabled bool) *cobra.Command {
	short := "Grant settlement rights to an operator"
	if !enabled {
		short = "Revoke an operator's settlement rights"
	}
	return &cobra.Command{
		Use:   "operator-" + use + " <address>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("invalid address %q", args[0])
			}
			c, err := signedClient()
			if err != nil {
				return err
			}
			ops, err := c.SetOperator(cmd.Context(), common.HexToAddress(args[0]), enabled)
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(map[string]any{"operators": ops})
			}
			Success(fmt.Sprintf("%d operator(s) configured", len(ops)))
			for _, op := range ops {
				fmt.Println(Hint(op.Hex()))
			}
			return nil
		},
	}
}
