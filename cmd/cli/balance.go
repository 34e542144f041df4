package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	balanceCmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the provider account balance",
		Long:  `Query the Trustly API for the current account balance in the configured currency.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newTrustlyClient()
			if err != nil {
				return err
			}
			balance, err := client.GetBalance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Balance: %s\n", balance)
			return nil
		},
	}

	rootCmd.AddCommand(balanceCmd)
}
