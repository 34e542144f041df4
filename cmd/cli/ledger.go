package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	ledgerCmd := &cobra.Command{
		Use:   "ledger [date]",
		Short: "Show the provider account ledger for a day",
		Long:  `Print the Trustly account ledger for one day (default today), as reported by the provider.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now().Truncate(24 * time.Hour)
			if len(args) == 1 {
				var err error
				if day, err = time.Parse(time.DateOnly, args[0]); err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", args[0])
				}
			}

			client, err := newTrustlyClient()
			if err != nil {
				return err
			}
			entries, err := client.GetLedgerForDay(cmd.Context(), day)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No ledger entries found")
				return nil
			}

			fmt.Printf("Found %d ledger entries:\n\n", len(entries))
			fmt.Printf("%-28s %-15s %-15s %12s %10s %-20s\n", "Date", "Order ID", "Type", "Amount", "Fee", "Message ID")
			fmt.Println(strings.Repeat("-", 105))
			for _, e := range entries {
				fmt.Printf("%-28s %-15s %-15s %12s %10s %-20s\n",
					e.Datestamp, e.OrderID, e.TransactionType, e.Amount+" "+e.Currency, e.Fee, e.MessageID)
			}
			return nil
		},
	}

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List transactions awaiting invoice matching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			pending, err := database.GetPendingBankTransactions()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Println("No pending bank transactions")
				return nil
			}

			fmt.Printf("Found %d pending bank transactions:\n\n", len(pending))
			fmt.Printf("%-8s %-12s %15s %-30s %-8s\n", "ID", "Method", "Amount", "Reference", "Trusted")
			fmt.Println(strings.Repeat("-", 80))
			for _, p := range pending {
				fmt.Printf("%-8d %-12d %15s %-30s %-8t\n",
					p.ID, p.MethodID, p.Amount.String(), p.Reference, p.TrustedIBAN)
			}
			return nil
		},
	}

	rootCmd.AddCommand(ledgerCmd, pendingCmd)
}
