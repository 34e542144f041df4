package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lofe-w/banksync/pkg/config"
	"github.com/lofe-w/banksync/pkg/models"
)

var refundID int64

func init() {
	refundCmd := &cobra.Command{
		Use:   "refund <method> <transfer-or-order-id> [amount]",
		Short: "Issue a refund and track its completion",
		Long: `Record a refund request so the reconciler can match the provider's
outgoing transfer against it. For Trustly methods an amount is required
and the refund is also issued through the API; for Wise methods the
transfer is initiated at the provider and only tracked here.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			method, err := findMethod(database, args[0])
			if err != nil {
				return err
			}
			transferID := args[1]

			if method.Kind == models.MethodKindTrustly {
				if len(args) < 3 {
					return fmt.Errorf("an amount is required to refund a Trustly order")
				}
				opts, err := config.GetTrustlyOptions()
				if err != nil {
					return err
				}
				client, err := newTrustlyClient()
				if err != nil {
					return err
				}
				amount := models.Amount{Value: args[2], Currency: opts.Currency}
				if err := client.Refund(cmd.Context(), transferID, amount); err != nil {
					return err
				}
			}

			refund := &models.RefundRequest{
				MethodID:   method.ID,
				TransferID: transferID,
				RefundID:   refundID,
				IssuedAt:   time.Now(),
			}
			if err := database.CreateRefundRequest(refund); err != nil {
				return fmt.Errorf("error recording refund request: %w", err)
			}

			log.Info().
				Str("method", method.Name).
				Str("transferId", transferID).
				Int64("refund", refundID).
				Msg("Refund request recorded")
			return nil
		},
	}
	refundCmd.Flags().Int64Var(&refundID, "refund-id", 0, "Invoice refund id this transfer pays out")
	refundCmd.MarkFlagRequired("refund-id")

	rootCmd.AddCommand(refundCmd)
}
