/**
 * @description
 * This package provides a typed HTTP client for the rental-service API. It is used by
 * the rentalctl command and by other services that need to drive the ledger.
 *
 * @dependencies
 * - internal/domain: Request and response models shared with the server.
 */

package rentalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/transfa/rental-service/internal/domain"
)

// Client calls the rental-service API on behalf of one bearer token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new rental-service API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Kind       string `json:"kind"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("rental API error (%d %s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("rental API error (%d): %s", e.StatusCode, e.Message)
}

// Deposit is the deposit balance of one account.
type Deposit struct {
	Account    string `json:"account"`
	PropertyID string `json:"property_id,omitempty"`
	Deposit    int64  `json:"deposit"`
}

// EventPage is one page of the ledger audit trail.
type EventPage struct {
	Events    []domain.LedgerEvent `json:"events"`
	NextAfter int64                `json:"next_after"`
}

func (c *Client) CreateRental(ctx context.Context, params domain.CreateRentalParams) (*domain.Rental, error) {
	var rental domain.Rental
	if err := c.do(ctx, http.MethodPost, "/rentals", params, &rental); err != nil {
		return nil, err
	}
	return &rental, nil
}

func (c *Client) GetRental(ctx context.Context, propertyID string) (*domain.Rental, error) {
	var rental domain.Rental
	if err := c.do(ctx, http.MethodGet, rentalPath(propertyID, ""), nil, &rental); err != nil {
		return nil, err
	}
	return &rental, nil
}

func (c *Client) ActivateRental(ctx context.Context, propertyID string, payment int64) (*domain.Rental, error) {
	return c.postPayment(ctx, rentalPath(propertyID, "/activate"), payment)
}

func (c *Client) PayRent(ctx context.Context, propertyID string, payment int64) (*domain.Rental, error) {
	return c.postPayment(ctx, rentalPath(propertyID, "/rent"), payment)
}

func (c *Client) EndRental(ctx context.Context, propertyID string) (*domain.Rental, error) {
	var rental domain.Rental
	if err := c.do(ctx, http.MethodPost, rentalPath(propertyID, "/end"), struct{}{}, &rental); err != nil {
		return nil, err
	}
	return &rental, nil
}

// GetDeposit returns the caller's deposit balance, as seen through propertyID.
func (c *Client) GetDeposit(ctx context.Context, propertyID string) (*Deposit, error) {
	var deposit Deposit
	if err := c.do(ctx, http.MethodGet, rentalPath(propertyID, "/deposit"), nil, &deposit); err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (c *Client) DepositOf(ctx context.Context, account string) (*Deposit, error) {
	var deposit Deposit
	if err := c.do(ctx, http.MethodGet, "/deposits/"+url.PathEscape(account), nil, &deposit); err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (c *Client) LedgerState(ctx context.Context) (*domain.LedgerSummary, error) {
	var summary domain.LedgerSummary
	if err := c.do(ctx, http.MethodGet, "/ledger", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) SetPaused(ctx context.Context, paused bool) (*domain.LedgerSummary, error) {
	var summary domain.LedgerSummary
	body := map[string]bool{"paused": paused}
	if err := c.do(ctx, http.MethodPut, "/ledger/pause", body, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Withdraw moves the uncommitted custody balance to the owner and returns the amount.
func (c *Client) Withdraw(ctx context.Context) (int64, error) {
	var resp struct {
		Amount int64 `json:"amount"`
	}
	if err := c.do(ctx, http.MethodPost, "/ledger/withdraw", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (c *Client) Events(ctx context.Context, after int64, limit int) (*EventPage, error) {
	query := url.Values{}
	query.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var page EventPage
	if err := c.do(ctx, http.MethodGet, "/ledger/events?"+query.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) postPayment(ctx context.Context, path string, payment int64) (*domain.Rental, error) {
	var rental domain.Rental
	body := map[string]int64{"payment_amount": payment}
	if err := c.do(ctx, http.MethodPost, path, body, &rental); err != nil {
		return nil, err
	}
	return &rental, nil
}

func rentalPath(propertyID, suffix string) string {
	return "/rentals/" + url.PathEscape(propertyID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
