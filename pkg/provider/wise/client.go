package wise

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lofe-w/banksync/pkg/models"
	"github.com/lofe-w/banksync/pkg/provider"
)

const defaultTimeout = 30 * time.Second

// Config carries the API credentials for one provider profile.
type Config struct {
	APIBase   string
	APIToken  string
	ProfileID int64
	Currency  string
	Timeout   time.Duration
	Debug     bool
}

// Client fetches the account statement feed from the provider's REST API.
type Client struct {
	apiBase    string
	token      string
	profileID  int64
	currency   string
	httpClient *http.Client
}

var _ provider.FeedClient = (*Client)(nil)

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	if cfg.Debug {
		httpClient.Transport = provider.DebugRoundTripper()
	}
	return &Client{
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		token:      cfg.APIToken,
		profileID:  cfg.ProfileID,
		currency:   cfg.Currency,
		httpClient: httpClient,
	}
}

type statementAmount struct {
	Value    json.Number `json:"value"`
	Currency string      `json:"currency"`
}

func (a statementAmount) toAmount() models.Amount {
	return models.Amount{Value: a.Value.String(), Currency: a.Currency}
}

type statementTransaction struct {
	ReferenceNumber string          `json:"referenceNumber"`
	Date            time.Time       `json:"date"`
	Amount          statementAmount `json:"amount"`
	TotalFees       statementAmount `json:"totalFees"`
	Details         struct {
		Type             string `json:"type"`
		PaymentReference string `json:"paymentReference"`
		Description      string `json:"description"`
		SenderName       string `json:"senderName"`
		SenderAccount    string `json:"senderAccount"`
	} `json:"details"`
}

type statementResponse struct {
	Transactions []statementTransaction `json:"transactions"`
}

// ListTransactions implements provider.FeedClient against the profile
// statement endpoint.
func (c *Client) ListTransactions(ctx context.Context, from, to time.Time) ([]models.RemoteTransaction, error) {
	q := url.Values{}
	q.Set("currency", c.currency)
	q.Set("intervalStart", from.UTC().Format(time.RFC3339))
	q.Set("intervalEnd", to.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/v1/profiles/%d/statement?%s", c.apiBase, c.profileID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build statement request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.TransportErrorf("statement", "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.Errorf("statement", "bad http response code %d", resp.StatusCode)
	}

	var statement statementResponse
	if err := json.NewDecoder(resp.Body).Decode(&statement); err != nil {
		return nil, provider.Errorf("statement", "malformed statement response: %v", err)
	}

	var result []models.RemoteTransaction
	for _, t := range statement.Transactions {
		rt := models.RemoteTransaction{
			ReferenceNumber:    t.ReferenceNumber,
			Date:               t.Date,
			Amount:             t.Amount.toAmount(),
			FeeAmount:          t.TotalFees.toAmount(),
			TransType:          t.Details.Type,
			PaymentRef:         t.Details.PaymentReference,
			Description:        t.Details.Description,
			CounterpartName:    t.Details.SenderName,
			CounterpartAccount: strings.ReplaceAll(t.Details.SenderAccount, " ", ""),
		}
		if rt.CounterpartAccount != "" {
			// If the account looks like an IBAN, validating it gives
			// the invoice matcher a trust signal.
			rt.CounterpartValidIBAN = ValidateIBAN(rt.CounterpartAccount)
		}
		result = append(result, rt)
	}
	return result, nil
}
