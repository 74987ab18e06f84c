package rentalclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/rental-service/internal/api"
	"github.com/transfa/rental-service/internal/app"
	"github.com/transfa/rental-service/internal/domain"
	"github.com/transfa/rental-service/internal/store"
)

var signingKey = []byte("client-test-key")

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := store.NewMemoryRepository()
	if _, err := repo.EnsureLedgerState(context.Background(), "owner"); err != nil {
		t.Fatalf("EnsureLedgerState returned error: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := app.NewLedger(repo, app.LoggingTransferer{Logger: logger}, nil, logger, nil)
	handler := api.RentalRoutes(api.NewRentalHandlers(ledger, logger), api.RouterConfig{
		Auth:   api.AuthConfig{SigningKey: signingKey},
		Logger: logger,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func tokenFor(t *testing.T, account string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": account,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(signingKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestClientDrivesRentalLifecycle(t *testing.T) {
	server := newServer(t)
	ctx := context.Background()
	owner := NewClient(server.URL, tokenFor(t, "owner"))
	tenant := NewClient(server.URL, tokenFor(t, "tenant"))

	created, err := owner.CreateRental(ctx, domain.CreateRentalParams{
		PropertyID:    "flat-4b",
		Tenant:        "tenant",
		RentAmount:    1000,
		DepositAmount: 2000,
		LateFee:       100,
		RentInterval:  86400,
	})
	if err != nil {
		t.Fatalf("CreateRental returned error: %v", err)
	}
	if created.Status != domain.RentalStatusPending {
		t.Fatalf("expected pending rental, got %s", created.Status)
	}

	active, err := tenant.ActivateRental(ctx, "flat-4b", 3000)
	if err != nil {
		t.Fatalf("ActivateRental returned error: %v", err)
	}
	if active.Status != domain.RentalStatusActive {
		t.Fatalf("expected active rental, got %s", active.Status)
	}

	deposit, err := tenant.GetDeposit(ctx, "flat-4b")
	if err != nil {
		t.Fatalf("GetDeposit returned error: %v", err)
	}
	if deposit.Deposit != 2000 {
		t.Fatalf("expected deposit 2000, got %d", deposit.Deposit)
	}

	if _, err := tenant.PayRent(ctx, "flat-4b", 1000); err != nil {
		t.Fatalf("PayRent returned error: %v", err)
	}

	ended, err := owner.EndRental(ctx, "flat-4b")
	if err != nil {
		t.Fatalf("EndRental returned error: %v", err)
	}
	if ended.Status != domain.RentalStatusExpired {
		t.Fatalf("expected expired rental, got %s", ended.Status)
	}

	after, err := owner.DepositOf(ctx, "tenant")
	if err != nil {
		t.Fatalf("DepositOf returned error: %v", err)
	}
	if after.Deposit != 0 {
		t.Fatalf("expected refunded deposit, got %d", after.Deposit)
	}

	page, err := owner.Events(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Events returned error: %v", err)
	}
	if len(page.Events) == 0 || page.NextAfter != page.Events[len(page.Events)-1].Seq {
		t.Fatalf("unexpected event page: %+v", page)
	}
}

func TestClientDecodesAPIError(t *testing.T) {
	server := newServer(t)
	tenant := NewClient(server.URL, tokenFor(t, "tenant"))

	_, err := tenant.SetPaused(context.Background(), true)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Kind != "unauthorized" {
		t.Fatalf("unexpected API error: %+v", apiErr)
	}
}

func TestClientWithdrawAndPause(t *testing.T) {
	server := newServer(t)
	ctx := context.Background()
	owner := NewClient(server.URL, tokenFor(t, "owner"))

	if _, err := owner.Withdraw(ctx); err == nil {
		t.Fatal("expected nothing to withdraw on an empty ledger")
	}

	summary, err := owner.SetPaused(ctx, true)
	if err != nil {
		t.Fatalf("SetPaused returned error: %v", err)
	}
	if !summary.Paused {
		t.Fatal("expected ledger to be paused")
	}

	_, err = owner.CreateRental(ctx, domain.CreateRentalParams{PropertyID: "p", Tenant: "t", RentInterval: 60})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusLocked {
		t.Fatalf("expected 423 while paused, got %v", err)
	}

	state, err := owner.LedgerState(ctx)
	if err != nil {
		t.Fatalf("LedgerState returned error: %v", err)
	}
	if state.Owner != "owner" {
		t.Fatalf("unexpected owner %q", state.Owner)
	}
}

func TestClientMissingTokenIsUnauthenticated(t *testing.T) {
	server := newServer(t)
	_, err := NewClient(server.URL, "").GetRental(context.Background(), "any")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
