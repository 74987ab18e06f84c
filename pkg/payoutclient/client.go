/**
 * @description
 * This package provides a client for the payout provider's transfer API. The rental
 * ledger uses it as its outgoing transfer primitive: every rent forward, deposit
 * refund and owner withdrawal becomes one book transfer at the provider.
 *
 * @dependencies
 * - internal/app: The TransferOrder this client executes.
 */

package payoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/transfa/rental-service/internal/app"
)

// ErrTransferRejected is returned when the provider refuses or fails a transfer.
var ErrTransferRejected = errors.New("payout transfer rejected")

// Client is a client for the payout provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	Currency   string
	HTTPClient *http.Client
}

// NewClient creates a new payout API client.
func NewClient(baseURL, apiKey, currency string) *Client {
	if strings.TrimSpace(currency) == "" {
		currency = "NGN"
	}
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		APIKey:   apiKey,
		Currency: currency,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TransferRequest is the JSON:API body for POST /api/v1/transfers.
type TransferRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Currency  string `json:"currency"`
			Amount    int64  `json:"amount"`
			Reason    string `json:"reason"`
			Reference string `json:"reference"`
		} `json:"attributes"`
		Relationships struct {
			Recipient struct {
				Data struct {
					ID   string `json:"id"`
					Type string `json:"type"`
				} `json:"data"`
			} `json:"recipient"`
		} `json:"relationships"`
	} `json:"data"`
}

// TransferResponse is the provider's answer to a transfer request.
type TransferResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status    string `json:"status"`
			Reference string `json:"reference"`
			Fee       int64  `json:"fee"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse is the provider's JSON:API error body.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("payout API error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown payout API error"
}

// Transfer moves order.Amount from the custody account to order.To.
// It satisfies app.Transferer.
func (c *Client) Transfer(ctx context.Context, order app.TransferOrder) error {
	if order.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrTransferRejected)
	}

	var payload TransferRequest
	payload.Data.Type = "BookTransfer"
	payload.Data.Attributes.Currency = c.Currency
	payload.Data.Attributes.Amount = order.Amount
	payload.Data.Attributes.Reason = transferReason(order)
	payload.Data.Attributes.Reference = order.Reference.String()
	payload.Data.Relationships.Recipient.Data.ID = order.To
	payload.Data.Relationships.Recipient.Data.Type = "Account"

	resp, err := c.doTransfer(ctx, payload)
	if err != nil {
		return err
	}

	switch strings.ToLower(resp.Data.Attributes.Status) {
	case "failed", "rejected", "cancelled":
		log.Printf("level=warn component=payout_client op=transfer reference=%s status=%s", order.Reference, resp.Data.Attributes.Status)
		return fmt.Errorf("%w: provider status %s", ErrTransferRejected, resp.Data.Attributes.Status)
	}
	return nil
}

func transferReason(order app.TransferOrder) string {
	if order.PropertyID == "" {
		return string(order.Kind)
	}
	return string(order.Kind) + ":" + order.PropertyID
}

func (c *Client) doTransfer(ctx context.Context, payload TransferRequest) (*TransferResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/transfers", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Idempotency-Key", payload.Data.Attributes.Reference)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || len(errResp.Errors) == 0 {
			log.Printf("level=warn component=payout_client op=transfer status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("%w: status %s", ErrTransferRejected, strconv.Itoa(resp.StatusCode))
		}
		log.Printf("level=warn component=payout_client op=transfer status=%d title=%q detail=%q", resp.StatusCode, errResp.Errors[0].Title, errResp.Errors[0].Detail)
		return nil, fmt.Errorf("%w: %w", ErrTransferRejected, &errResp)
	}

	var successResp TransferResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}
	return &successResp, nil
}
