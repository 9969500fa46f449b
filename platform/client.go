package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the platform payment service: the ledger of record for
// payouts. The service assigns payment identifiers, resolves recipient
// blockchain addresses, and verifies the memo/amount linkage on completion.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type CreatePaymentRequest struct {
	Amount   float64        `json:"amount"`
	Memo     string         `json:"memo"`
	Metadata map[string]any `json:"metadata"`
	UID      string         `json:"uid"`
}

type PaymentRecord struct {
	Identifier string `json:"identifier"`
	Recipient  string `json:"recipient"`
	Status     string `json:"status"`
}

// CreatePayment registers an app-to-user payment with the platform.
// Payments in this direction are auto-approved; the response carries the
// identifier (which becomes the transaction memo) and the recipient's
// blockchain address.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentRecord, error) {
	var record PaymentRecord
	if err := c.post(ctx, "/v2/payments", req, &record); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	if record.Identifier == "" {
		return nil, fmt.Errorf("platform returned no payment identifier")
	}
	return &record, nil
}

// CompletePayment reports the transaction hash for a submitted payment.
// Idempotent on the platform side by identifier: repeating the call with the
// same txid is safe.
func (c *Client) CompletePayment(ctx context.Context, identifier, txid string) error {
	body := map[string]string{"txid": txid}
	if err := c.post(ctx, "/v2/payments/"+identifier+"/complete", body, nil); err != nil {
		return fmt.Errorf("failed to complete payment %s: %w", identifier, err)
	}
	return nil
}

// CancelPayment abandons a payment record before any transaction was
// submitted for it.
func (c *Client) CancelPayment(ctx context.Context, identifier string) error {
	if err := c.post(ctx, "/v2/payments/"+identifier+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("failed to cancel payment %s: %w", identifier, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
