package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "posd",
		Short:         "Single-register point of sale",
		Long:          "posd runs the point-of-sale HTTP API and offers back-office commands against the same store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("POS_CONFIG", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (same as POS_CONFIG)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newProductsCmd(),
		newDrawerCmd(),
		newSalesCmd(),
	)
	return root
}
