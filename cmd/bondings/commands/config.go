package commands

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bondings/bondings/internal/config"
)

// NewConfigCmd creates the config command group
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the daemon configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

type initOptions struct {
	admin, signer, feeDest string
	operators              []string
	force                  bool
}

// buildConfig applies opts to the default configuration and validates it.
func buildConfig(opts initOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Ledger.Admin = opts.admin
	cfg.Ledger.TrustedSigner = opts.signer
	cfg.Ledger.FeeDestination = opts.feeDest
	cfg.Ledger.Operators = opts.operators
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateAddressInput(s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("must be a 0x-prefixed 20-byte address")
	}
	return nil
}

// promptInit fills in missing required addresses interactively.
func promptInit(opts *initOptions) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Admin address").
				Description("May change the policy and operator set").
				Validate(validateAddressInput).
				Value(&opts.admin),
			huh.NewInput().
				Title("Trusted signer address").
				Description("Signs launch registrations").
				Validate(validateAddressInput).
				Value(&opts.signer),
			huh.NewInput().
				Title("Fee destination").
				Description("Leave empty to keep fees in custody").
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					return validateAddressInput(s)
				}).
				Value(&opts.feeDest),
		),
	).WithTheme(huh.ThemeBase())
	return form.Run()
}

func newConfigInitCmd() *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter daemon config",
		Long: `Write a daemon config with mock payments enabled. The admin and trusted
signer addresses are required; on a terminal you are prompted for any
that are missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(ConfigPath); err == nil && !opts.force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", ConfigPath)
			}
			if (opts.admin == "" || opts.signer == "") && isTTY() {
				if err := promptInit(&opts); err != nil {
					return err
				}
			}

			cfg, err := buildConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.Save(ConfigPath); err != nil {
				return err
			}
			Success("Config written to " + ConfigPath)
			fmt.Println(Hint("Start the daemon with: bondingsd --config " + ConfigPath))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.admin, "admin", "", "Admin address")
	cmd.Flags().StringVar(&opts.signer, "trusted-signer", "", "Trusted signer address")
	cmd.Flags().StringVar(&opts.feeDest, "fee-destination", "", "Fee destination address")
	cmd.Flags().StringSliceVar(&opts.operators, "operator", nil, "Operator address (repeatable)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing config")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective daemon config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ConfigPath)
			if err != nil {
				return err
			}
			if JSONOutput {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}
