package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bondings/bondings/cmd/bondings/commands"
)

var rootCmd = &cobra.Command{
	Use:           "bondings",
	Short:         "Bondings staged bonding-curve ledger",
	Long:          "Launch, trade and settle bondings against a bondings daemon.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	commands.RegisterGlobalFlags(rootCmd)
}

func main() {
	rootCmd.AddCommand(commands.NewListCmd())
	rootCmd.AddCommand(commands.NewShowCmd())
	rootCmd.AddCommand(commands.NewShareCmd())
	rootCmd.AddCommand(commands.NewQuoteCmd())
	rootCmd.AddCommand(commands.NewCurveCmd())
	rootCmd.AddCommand(commands.NewLaunchCmd())
	rootCmd.AddCommand(commands.NewBuyCmd())
	rootCmd.AddCommand(commands.NewSellCmd())
	rootCmd.AddCommand(commands.NewTransferCmd())
	rootCmd.AddCommand(commands.NewRetrieveCmd())
	rootCmd.AddCommand(commands.NewEventsCmd())
	rootCmd.AddCommand(commands.NewSignCmd())
	rootCmd.AddCommand(commands.NewAdminCmd())
	rootCmd.AddCommand(commands.NewWalletCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewDoctorCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
