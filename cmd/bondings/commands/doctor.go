package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bondings/bondings/internal/config"
	"github.com/bondings/bondings/internal/doctor"
)

// NewDoctorCmd creates the doctor command
func NewDoctorCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the local bondings setup",
		Long: `Run diagnostics on the config file, policy file, wallets and daemon.

Categories: config, wallet, network, system`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch doctor.Category(category) {
			case "", doctor.CategoryConfig, doctor.CategoryWallet, doctor.CategoryNetwork, doctor.CategorySystem:
			default:
				return fmt.Errorf("unknown category %q", category)
			}

			d := doctor.New(doctor.DoctorOptions{
				JSON:     JSONOutput,
				Category: doctor.Category(category),
			}, doctorCheckers()...)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			report, err := d.Run(ctx)
			if err != nil {
				return err
			}
			if !report.Summary.IsHealthy() {
				return fmt.Errorf("%d check(s) failed", report.Summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only run checks in this category")
	return cmd
}

// doctorCheckers builds the checks for the current global flags. A config
// that fails to load still gets checked by ConfigChecker; the remaining
// checks fall back to defaults.
func doctorCheckers() []doctor.Checker {
	cfg, err := config.Load(ConfigPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	return []doctor.Checker{
		&doctor.ConfigChecker{Path: ConfigPath},
		&doctor.PolicyFileChecker{Path: cfg.Ledger.PolicyFile},
		&doctor.WalletChecker{Label: "Wallet", KeystoreDir: GetKeystoreDir(), FixCommand: "bondings wallet create"},
		&doctor.PasswordChecker{PasswordFile: cfg.Chain.PasswordFile},
		&doctor.CustodyKeyChecker{Config: cfg},
		&doctor.DaemonChecker{Endpoint: APIEndpoint, Client: readOnlyClient()},
		doctor.NewFileDescriptorChecker(),
	}
}
