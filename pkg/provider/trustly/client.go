package trustly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lofe-w/banksync/pkg/models"
	"github.com/lofe-w/banksync/pkg/provider"
)

const defaultTimeout = 30 * time.Second

// Config carries the merchant credentials and key material for one provider
// account.
type Config struct {
	APIBase           string
	Username          string
	Password          string
	PrivateKeyPEM     []byte
	PublicKeyPEM      []byte
	NotificationURL   string
	Currency          string
	HoldNotifications bool
	Timeout           time.Duration
	Debug             bool
}

// Client talks to the provider's signed JSON-RPC API.
type Client struct {
	apiBase           string
	username          string
	password          string
	notificationURL   string
	currency          string
	holdNotifications bool
	signer            *Signer
	verifier          *Verifier
	httpClient        *http.Client
}

var _ provider.FeedClient = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	signer, err := NewSigner(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	verifier, err := NewVerifier(cfg.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification key: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	if cfg.Debug {
		httpClient.Transport = provider.DebugRoundTripper()
	}

	return &Client{
		apiBase:           cfg.APIBase,
		username:          cfg.Username,
		password:          cfg.Password,
		notificationURL:   cfg.NotificationURL,
		currency:          cfg.Currency,
		holdNotifications: cfg.HoldNotifications,
		signer:            signer,
		verifier:          verifier,
		httpClient:        httpClient,
	}, nil
}

type rpcRequest struct {
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	Version string    `json:"version"`
}

type rpcParams struct {
	UUID      string         `json:"UUID"`
	Data      map[string]any `json:"Data"`
	Signature string         `json:"Signature"`
}

type rpcResult struct {
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
}

type rpcEnvelope struct {
	Result *rpcResult `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// DepositOptions are the optional end-user attributes on a deposit call.
type DepositOptions struct {
	FirstName string
	LastName  string
	Email     string
	IP        string
}

// DepositResult is the provider's answer to a deposit call: the order it
// created and the URL the end user should be sent to.
type DepositResult struct {
	OrderID string `json:"orderid"`
	URL     string `json:"url"`
}

// Deposit initiates a payment for an invoice. The message id is unique per
// call so a retried invoice payment never collides with an earlier order.
func (c *Client) Deposit(ctx context.Context, endUserID string, invoiceID int64, amount models.Amount, statementText, successURL, failURL string, opts *DepositOptions) (*DepositResult, error) {
	attrs := map[string]any{
		"Currency":         c.currency,
		"SuccessURL":       successURL,
		"FailURL":          failURL,
		"ShopperStatement": statementText,
		"Amount":           amount.Value,
	}
	if opts != nil {
		attrs["Firstname"] = opts.FirstName
		attrs["Lastname"] = opts.LastName
		attrs["Email"] = opts.Email
		attrs["IP"] = opts.IP
	}
	if c.holdNotifications {
		attrs["HoldNotifications"] = "1"
	}

	data := map[string]any{
		"NotificationURL": c.notificationURL,
		"EndUserID":       endUserID,
		"MessageID":       fmt.Sprintf("%d-%d", invoiceID, time.Now().Unix()),
		"Attributes":      attrs,
	}

	res, err := c.call(ctx, "Deposit", data)
	if err != nil {
		return nil, err
	}

	var dep DepositResult
	if err := json.Unmarshal(res.Data, &dep); err != nil {
		return nil, provider.Errorf("Deposit", "malformed deposit response: %v", err)
	}
	return &dep, nil
}

// Refund refunds a previously completed order. The provider must echo the
// order id back; a mismatch means the refund landed on the wrong order and
// is treated as a failure.
func (c *Client) Refund(ctx context.Context, orderID string, amount models.Amount) error {
	res, err := c.call(ctx, "Refund", map[string]any{
		"OrderID":  orderID,
		"Amount":   amount.Value,
		"Currency": c.currency,
	})
	if err != nil {
		return err
	}

	var ref struct {
		Result  string `json:"result"`
		OrderID string `json:"orderid"`
	}
	if err := json.Unmarshal(res.Data, &ref); err != nil {
		return provider.Errorf("Refund", "malformed refund response: %v", err)
	}
	if ref.Result != "1" {
		return provider.Errorf("Refund", "failed to refund order %s", orderID)
	}
	if ref.OrderID != orderID {
		return provider.Errorf("Refund", "refunded orderid %s does not match requested orderid %s", ref.OrderID, orderID)
	}
	return nil
}

// GetBalance returns the balance in the configured currency. Any non-zero
// balance in another currency violates the single-currency setup of the
// account and fails the call.
func (c *Client) GetBalance(ctx context.Context) (models.Amount, error) {
	res, err := c.call(ctx, "Balance", map[string]any{})
	if err != nil {
		return models.Amount{}, err
	}

	var balances []struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
	}
	if err := json.Unmarshal(res.Data, &balances); err != nil {
		return models.Amount{}, provider.Errorf("Balance", "malformed balance response: %v", err)
	}

	var balance *models.Amount
	for _, b := range balances {
		a := models.Amount{Value: b.Balance, Currency: b.Currency}
		if b.Currency == c.currency {
			balance = &a
		} else if !a.IsZero() {
			return models.Amount{}, provider.Errorf("Balance", "found non-zero balance %s for non-standard currency %s", b.Balance, b.Currency)
		}
	}
	if balance == nil {
		return models.Amount{}, provider.Errorf("Balance", "found no balance for %s", c.currency)
	}
	return *balance, nil
}

// GetWithdrawal returns the withdrawal matching an order, nil when the
// provider has none yet. More than one result for a single order is
// ambiguous and never silently resolved.
func (c *Client) GetWithdrawal(ctx context.Context, orderID string) (map[string]any, error) {
	res, err := c.call(ctx, "GetWithdrawals", map[string]any{"OrderID": orderID})
	if err != nil {
		return nil, err
	}

	var withdrawals []map[string]any
	if err := json.Unmarshal(res.Data, &withdrawals); err != nil {
		return nil, provider.Errorf("GetWithdrawals", "malformed withdrawals response: %v", err)
	}
	if len(withdrawals) == 0 {
		// No withdrawal found, so nothing to match yet
		return nil, nil
	}
	if len(withdrawals) != 1 {
		return nil, provider.Errorf("GetWithdrawals", "received more than one withdrawal for order %s", orderID)
	}
	return withdrawals[0], nil
}

// LedgerEntry is one row of the provider's account ledger.
type LedgerEntry struct {
	Datestamp       string `json:"datestamp"`
	OrderID         string `json:"orderid"`
	AccountName     string `json:"accountname"`
	MessageID       string `json:"messageid"`
	TransactionType string `json:"transactiontype"`
	Currency        string `json:"currency"`
	Amount          string `json:"amount"`
	Fee             string `json:"fee"`
}

func (c *Client) GetLedgerForRange(ctx context.Context, from, to time.Time) ([]LedgerEntry, error) {
	res, err := c.call(ctx, "AccountLedger", map[string]any{
		"FromDate": from.Format(time.DateOnly),
		"ToDate":   to.Format(time.DateOnly),
		"Currency": c.currency,
	})
	if err != nil {
		return nil, err
	}

	var entries []LedgerEntry
	if err := json.Unmarshal(res.Data, &entries); err != nil {
		return nil, provider.Errorf("AccountLedger", "malformed ledger response: %v", err)
	}
	return entries, nil
}

// GetLedgerForDay returns the ledger for the 24 hours starting at day.
func (c *Client) GetLedgerForDay(ctx context.Context, day time.Time) ([]LedgerEntry, error) {
	return c.GetLedgerForRange(ctx, day, day.Add(24*time.Hour))
}

// ListTransactions implements provider.FeedClient on top of the account
// ledger, so the reconciliation engine can treat this provider like any
// other transaction feed.
func (c *Client) ListTransactions(ctx context.Context, from, to time.Time) ([]models.RemoteTransaction, error) {
	entries, err := c.GetLedgerForRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var result []models.RemoteTransaction
	for _, e := range entries {
		date, err := parseLedgerDate(e.Datestamp)
		if err != nil {
			return nil, provider.Errorf("AccountLedger", "failed to parse ledger datestamp %q: %v", e.Datestamp, err)
		}
		result = append(result, models.RemoteTransaction{
			ReferenceNumber: e.OrderID,
			Date:            date,
			Amount:          models.Amount{Value: e.Amount, Currency: e.Currency},
			FeeAmount:       models.Amount{Value: e.Fee, Currency: e.Currency},
			TransType:       e.TransactionType,
			PaymentRef:      e.MessageID,
			Description:     e.AccountName,
		})
	}
	return result, nil
}

func parseLedgerDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05.999999-07", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datestamp format")
}

// call performs one signed JSON-RPC request. The merchant credentials ride
// inside Data and are covered by the signature together with the method name
// and the per-call nonce.
func (c *Client) call(ctx context.Context, method string, data map[string]any) (*rpcResult, error) {
	id := uuid.New().String()
	data["Username"] = c.username
	data["Password"] = c.password

	signature, err := c.signer.Sign(method + id + SerializeStruct(data))
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s call: %w", method, err)
	}

	body, err := json.Marshal(rpcRequest{
		Method: method,
		Params: rpcParams{
			UUID:      id,
			Data:      data,
			Signature: signature,
		},
		Version: "1.1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s call: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and transport failures are worth retrying on the
		// next cycle, unlike protocol errors.
		return nil, provider.TransportErrorf(method, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.Errorf(method, "bad http response code %d", resp.StatusCode)
	}

	var envelope rpcEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, provider.Errorf(method, "failed to decode response: %v", err)
	}
	if envelope.Error != nil {
		log.Error().Str("method", method).Str("message", envelope.Error.Message).Msg("Provider returned error envelope")
		return nil, provider.Errorf(method, "%s", envelope.Error.Message)
	}
	if envelope.Result == nil {
		return nil, provider.Errorf(method, "response carries neither result nor error")
	}
	if envelope.Result.Method != method {
		return nil, provider.Errorf(method, "bad method %q in response", envelope.Result.Method)
	}
	return envelope.Result, nil
}
