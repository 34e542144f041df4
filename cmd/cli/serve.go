package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lofe-w/banksync/pkg/config"
	"github.com/lofe-w/banksync/pkg/provider/trustly"
)

var listenAddr string

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the provider notification endpoint",
		Long: `Run an HTTP server accepting signed Trustly notifications. Every
notification is acknowledged with a signed response; payloads failing
signature verification are acknowledged as FAILED and never processed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newTrustlyClient()
			if err != nil {
				return err
			}

			addr := listenAddr
			if addr == "" {
				cfg, err := config.GetConfig()
				if err != nil {
					return err
				}
				addr = cfg.ListenAddr
			}
			if addr == "" {
				addr = ":8080"
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/trustly/notification", func(w http.ResponseWriter, r *http.Request) {
				handleNotification(client, w, r)
			})

			server := &http.Server{Addr: addr, Handler: mux}
			go func() {
				<-cmd.Context().Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				server.Shutdown(shutdownCtx)
			}()

			log.Info().Str("addr", addr).Msg("Notification server listening")
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (overrides configuration)")

	rootCmd.AddCommand(serveCmd)
}

func handleNotification(client *trustly.Client, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	notification, err := client.ParseNotification(body)
	if err != nil {
		log.Warn().Err(err).Msg("Received malformed notification")
		http.Error(w, "malformed notification", http.StatusBadRequest)
		return
	}

	status := "OK"
	if !notification.SignatureValid {
		log.Warn().
			Str("uuid", notification.UUID).
			Str("method", notification.Method).
			Msg("Received notification with invalid signature")
		status = "FAILED"
	} else {
		event := log.Info().
			Str("uuid", notification.UUID).
			Str("method", notification.Method).
			Interface("data", notification.Data)
		switch notification.Method {
		case "credit":
			event.Msg("Payment credited")
		case "pending":
			event.Msg("Payment pending")
		case "cancel":
			event.Msg("Order cancelled")
		case "debit":
			event.Msg("Account debited")
		default:
			event.Msg("Received notification")
		}
	}

	response, err := client.CreateNotificationResponse(notification.UUID, notification.Method, status)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign notification response")
		http.Error(w, "failed to sign response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(response)
}
