package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/lofe-w/banksync/db"
	"github.com/lofe-w/banksync/pkg/config"
	"github.com/lofe-w/banksync/pkg/models"
	"github.com/lofe-w/banksync/pkg/provider"
	"github.com/lofe-w/banksync/pkg/provider/trustly"
	"github.com/lofe-w/banksync/pkg/provider/wise"
	"github.com/lofe-w/banksync/pkg/services"
)

var (
	configPath string
	dbPath     string
	rootCmd    *cobra.Command
)

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "banksync",
		Short: "A tool for reconciling payment provider accounts",
		Long: `A tool that pulls transaction feeds from payment providers,
matches refunds and returned payments against local records, and books
the results as balanced accounting entries in a SQLite database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitGlobalConfig(configPath); err != nil {
				return err
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the SQLite database (overrides configuration)")

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// openDatabase opens the store and syncs the configured chart of accounts
// and payment methods into it, so the reconciler always sees the current
// configuration.
func openDatabase() (db.DBInterface, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}

	path := dbPath
	if path == "" {
		path = cfg.DatabasePath
	}
	if path == "" {
		path = "banksync.db"
	}

	database, err := db.New(path)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	for _, a := range cfg.Accounts {
		if err := database.UpsertAccount(&models.Account{
			Num:               a.Num,
			Name:              a.Name,
			ObjectRequirement: a.ObjectRequirement,
			InBalance:         a.InBalance,
		}); err != nil {
			database.Close()
			return nil, fmt.Errorf("error syncing account %d: %w", a.Num, err)
		}
	}
	for _, m := range cfg.Methods {
		if err := database.UpsertPaymentMethod(&models.PaymentMethod{
			Name:          m.Name,
			Kind:          m.Kind,
			Active:        m.Active,
			BankAccount:   m.BankAccount,
			FeeAccount:    m.FeeAccount,
			RefundAccount: m.RefundAccount,
		}); err != nil {
			database.Close()
			return nil, fmt.Errorf("error syncing payment method %s: %w", m.Name, err)
		}
	}
	return database, nil
}

func newTrustlyClient() (*trustly.Client, error) {
	opts, err := config.GetTrustlyOptions()
	if err != nil {
		return nil, err
	}

	privateKey, err := os.ReadFile(opts.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("error reading private key: %w", err)
	}
	publicKey, err := os.ReadFile(opts.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("error reading public key: %w", err)
	}

	return trustly.New(trustly.Config{
		APIBase:           opts.APIBase,
		Username:          opts.Username,
		Password:          opts.Password,
		PrivateKeyPEM:     privateKey,
		PublicKeyPEM:      publicKey,
		NotificationURL:   opts.NotificationURL,
		Currency:          opts.Currency,
		HoldNotifications: opts.HoldNotifications,
		Debug:             opts.Debug,
	})
}

func newWiseClient() (*wise.Client, error) {
	opts, err := config.GetWiseOptions()
	if err != nil {
		return nil, err
	}
	return wise.New(wise.Config{
		APIBase:   opts.APIBase,
		APIToken:  opts.APIToken,
		ProfileID: opts.ProfileID,
		Currency:  opts.Currency,
		Debug:     opts.Debug,
	}), nil
}

// feedForMethod builds the feed client matching a payment method's kind.
func feedForMethod(method *models.PaymentMethod) (provider.FeedClient, error) {
	switch method.Kind {
	case models.MethodKindTrustly:
		return newTrustlyClient()
	case models.MethodKindWise:
		return newWiseClient()
	default:
		return nil, fmt.Errorf("unknown payment method kind %q", method.Kind)
	}
}

func buildReconciler(database db.DBInterface) (*services.Reconciler, error) {
	shortname, err := config.GetOrganizationShortName()
	if err != nil {
		return nil, err
	}
	return services.NewReconciler(database, &services.StoreInvoiceManager{}, feedForMethod, shortname), nil
}

// findMethod resolves a configured payment method by name.
func findMethod(database db.DBInterface, name string) (*models.PaymentMethod, error) {
	methods, err := database.GetActivePaymentMethods("")
	if err != nil {
		return nil, err
	}
	method, ok := lo.Find(methods, func(m *models.PaymentMethod) bool {
		return m.Name == name
	})
	if !ok {
		return nil, fmt.Errorf("unknown or inactive payment method %q", name)
	}
	return method, nil
}
