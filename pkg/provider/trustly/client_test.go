package trustly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lofe-w/banksync/pkg/models"
	"github.com/lofe-w/banksync/pkg/provider"
)

// newTestServer runs a provider stub that authenticates each request with
// the merchant's public key and answers via respond.
func newTestServer(t *testing.T, respond func(method string, data map[string]any) (any, *string)) (*Client, *httptest.Server) {
	t.Helper()
	privPEM, pubPEM := testKeyPair(t)

	verifier, err := NewVerifier(pubPEM)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		tosign := req.Method + req.Params.UUID + SerializeStruct(req.Params.Data)
		if !verifier.Verify(tosign, req.Params.Signature) {
			t.Errorf("Request signature did not verify for method %s", req.Method)
		}
		if req.Params.Data["Username"] != "merchant" || req.Params.Data["Password"] != "secret" {
			t.Errorf("Expected credentials inside Data, got %v", req.Params.Data)
		}

		data, errMsg := respond(req.Method, req.Params.Data)
		w.Header().Set("Content-Type", "application/json")
		if errMsg != nil {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": *errMsg},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"method": req.Method, "data": data},
		})
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{
		APIBase:         server.URL,
		Username:        "merchant",
		Password:        "secret",
		PrivateKeyPEM:   privPEM,
		PublicKeyPEM:    pubPEM,
		NotificationURL: "https://example.org/notify",
		Currency:        "EUR",
	})
	require.NoError(t, err)
	return client, server
}

func TestDeposit(t *testing.T) {
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		assert.Equal(t, "Deposit", method)
		assert.Equal(t, "enduser-7", data["EndUserID"])
		assert.NotEmpty(t, data["MessageID"])
		attrs := data["Attributes"].(map[string]any)
		assert.Equal(t, "EUR", attrs["Currency"])
		assert.Equal(t, "100.00", attrs["Amount"])
		return map[string]any{"orderid": "98765", "url": "https://pay.example.org/98765"}, nil
	})

	dep, err := client.Deposit(context.Background(), "enduser-7", 42,
		models.Amount{Value: "100.00", Currency: "EUR"},
		"CONF INV 42", "https://ok", "https://fail", nil)
	require.NoError(t, err)
	assert.Equal(t, "98765", dep.OrderID)
	assert.Equal(t, "https://pay.example.org/98765", dep.URL)
}

func TestDepositErrorEnvelope(t *testing.T) {
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		msg := "ERROR_INVALID_CREDENTIALS"
		return nil, &msg
	})

	_, err := client.Deposit(context.Background(), "enduser-7", 42,
		models.Amount{Value: "100.00", Currency: "EUR"},
		"CONF INV 42", "https://ok", "https://fail", nil)

	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "ERROR_INVALID_CREDENTIALS")
	assert.False(t, perr.Retryable)
}

func TestRefund(t *testing.T) {
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		return map[string]any{"result": "1", "orderid": "555"}, nil
	})

	err := client.Refund(context.Background(), "555", models.Amount{Value: "20.00", Currency: "EUR"})
	assert.NoError(t, err)
}

func TestRefundOrderIDMismatch(t *testing.T) {
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		return map[string]any{"result": "1", "orderid": "999"}, nil
	})

	err := client.Refund(context.Background(), "555", models.Amount{Value: "20.00", Currency: "EUR"})
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "does not match")
}

func TestRefundNonSuccessResult(t *testing.T) {
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		return map[string]any{"result": "0", "orderid": "555"}, nil
	})

	err := client.Refund(context.Background(), "555", models.Amount{Value: "20.00", Currency: "EUR"})
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
}

func TestGetBalance(t *testing.T) {
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		return []map[string]any{
			{"currency": "SEK", "balance": "0.00"},
			{"currency": "EUR", "balance": "1234.56"},
		}, nil
	})

	balance, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Amount{Value: "1234.56", Currency: "EUR"}, balance)
}

func TestGetBalanceNonZeroForeignCurrency(t *testing.T) {
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		return []map[string]any{
			{"currency": "EUR", "balance": "1234.56"},
			{"currency": "SEK", "balance": "3.50"},
		}, nil
	})

	_, err := client.GetBalance(context.Background())
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "non-standard currency")
}

func TestGetBalanceMissingPrimaryCurrency(t *testing.T) {
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		return []map[string]any{
			{"currency": "SEK", "balance": "0.00"},
		}, nil
	})

	_, err := client.GetBalance(context.Background())
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "no balance")
}

func TestGetWithdrawal(t *testing.T) {
	tests := []struct {
		name      string
		results   []map[string]any
		wantNil   bool
		wantError bool
	}{
		{name: "no results", results: []map[string]any{}, wantNil: true},
		{name: "single result", results: []map[string]any{{"orderid": "1", "amount": "10.00"}}},
		{name: "ambiguous results", results: []map[string]any{{"orderid": "1"}, {"orderid": "1"}}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
				return tt.results, nil
			})

			w, err := client.GetWithdrawal(context.Background(), "1")
			if tt.wantError {
				var perr *provider.Error
				require.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, w)
			} else {
				assert.Equal(t, "10.00", w["amount"])
			}
		})
	}
}

func TestLedgerDayWindow(t *testing.T) {
	var gotFrom, gotTo string
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		gotFrom = data["FromDate"].(string)
		gotTo = data["ToDate"].(string)
		return []map[string]any{}, nil
	})

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	_, err := client.GetLedgerForDay(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", gotFrom)
	assert.Equal(t, "2025-03-15", gotTo)
}

func TestListTransactionsFromLedger(t *testing.T) {
	client, _ := newTestServer(t, func(method string, data map[string]any) (any, *string) {
		assert.Equal(t, "AccountLedger", method)
		return []map[string]any{
			{
				"datestamp":       "2025-03-14T10:30:00Z",
				"orderid":         "ORD-1",
				"accountname":     "Deposits",
				"messageid":       "42-1700000000",
				"transactiontype": "DEPOSIT",
				"currency":        "EUR",
				"amount":          "100.00",
				"fee":             "-2.00",
			},
		}, nil
	})

	txs, err := client.ListTransactions(context.Background(),
		time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "ORD-1", txs[0].ReferenceNumber)
	assert.Equal(t, "42-1700000000", txs[0].PaymentRef)
	assert.Equal(t, models.Amount{Value: "100.00", Currency: "EUR"}, txs[0].Amount)
}

func TestBadHTTPStatus(t *testing.T) {
	privPEM, pubPEM := testKeyPair(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := New(Config{
		APIBase:       server.URL,
		Username:      "merchant",
		Password:      "secret",
		PrivateKeyPEM: privPEM,
		PublicKeyPEM:  pubPEM,
		Currency:      "EUR",
	})
	require.NoError(t, err)

	_, err = client.GetBalance(context.Background())
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "bad http response code 503")
}

func TestMethodMismatch(t *testing.T) {
	privPEM, pubPEM := testKeyPair(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": {"method": "SomethingElse", "data": []}}`)
	}))
	defer server.Close()

	client, err := New(Config{
		APIBase:       server.URL,
		Username:      "merchant",
		Password:      "secret",
		PrivateKeyPEM: privPEM,
		PublicKeyPEM:  pubPEM,
		Currency:      "EUR",
	})
	require.NoError(t, err)

	_, err = client.GetBalance(context.Background())
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "bad method")
}

func TestTransportErrorIsRetryable(t *testing.T) {
	privPEM, pubPEM := testKeyPair(t)
	client, err := New(Config{
		// Nothing listens here; the request fails at the transport level.
		APIBase:       "http://127.0.0.1:1",
		Username:      "merchant",
		Password:      "secret",
		PrivateKeyPEM: privPEM,
		PublicKeyPEM:  pubPEM,
		Currency:      "EUR",
		Timeout:       2 * time.Second,
	})
	require.NoError(t, err)

	_, err = client.GetBalance(context.Background())
	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Retryable)
}
