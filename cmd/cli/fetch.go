package cli

import (
	"github.com/spf13/cobra"

	"github.com/lofe-w/banksync/pkg/config"
	"github.com/lofe-w/banksync/pkg/services"
)

var fetchWatch bool

func init() {
	fetchCmd := &cobra.Command{
		Use:   "fetch [method]",
		Short: "Fetch and reconcile provider transactions",
		Long: `Fetch the transaction feed for one payment method, or for all
active methods when none is given, and reconcile every new transaction.
With --watch the command keeps running and reconciles on an interval.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			reconciler, err := buildReconciler(database)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				method, err := findMethod(database, args[0])
				if err != nil {
					return err
				}
				return reconciler.ReconcileMethod(cmd.Context(), method)
			}

			if fetchWatch {
				cfg, err := config.GetConfig()
				if err != nil {
					return err
				}
				services.NewScheduler(database, reconciler, cfg.FetchInterval()).Run(cmd.Context())
				return nil
			}
			return reconciler.ReconcileAll(cmd.Context())
		},
	}
	fetchCmd.Flags().BoolVar(&fetchWatch, "watch", false, "Keep running and reconcile on an interval")

	rootCmd.AddCommand(fetchCmd)
}
