/**
 * @description
 * This file contains the HTTP handlers for the rental-service API. Handlers decode the
 * request, resolve the caller from the auth context, call the ledger and map ledger
 * error kinds to HTTP status codes.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app: The ledger.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/rental-service/internal/app"
	"github.com/transfa/rental-service/internal/domain"
	"github.com/transfa/rental-service/internal/store"
)

const maxEventPageSize = 500

// RentalHandlers holds the dependencies for the HTTP handlers.
type RentalHandlers struct {
	ledger *app.Ledger
	logger *slog.Logger
}

// NewRentalHandlers creates a new RentalHandlers.
func NewRentalHandlers(ledger *app.Ledger, logger *slog.Logger) *RentalHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &RentalHandlers{ledger: ledger, logger: logger}
}

type paymentRequest struct {
	PaymentAmount *int64 `json:"payment_amount"`
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

type depositResponse struct {
	Account    string `json:"account"`
	PropertyID string `json:"property_id,omitempty"`
	Deposit    int64  `json:"deposit"`
}

type withdrawResponse struct {
	Amount int64 `json:"amount"`
}

type eventsResponse struct {
	Events    []domain.LedgerEvent `json:"events"`
	NextAfter int64                `json:"next_after"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// CreateRentalHandler handles POST /rentals.
func (h *RentalHandlers) CreateRentalHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req domain.CreateRentalParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_input", "Invalid request body")
		return
	}

	rental, err := h.ledger.CreateRental(r.Context(), caller, req)
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, rental)
}

// GetRentalHandler handles GET /rentals/{propertyID}.
func (h *RentalHandlers) GetRentalHandler(w http.ResponseWriter, r *http.Request) {
	rental, err := h.ledger.GetRental(r.Context(), chi.URLParam(r, "propertyID"))
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rental)
}

// ActivateRentalHandler handles POST /rentals/{propertyID}/activate.
func (h *RentalHandlers) ActivateRentalHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	payment, ok := decodePayment(w, r)
	if !ok {
		return
	}

	rental, err := h.ledger.ActivateRental(r.Context(), caller, chi.URLParam(r, "propertyID"), payment)
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rental)
}

// PayRentHandler handles POST /rentals/{propertyID}/rent.
func (h *RentalHandlers) PayRentHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	payment, ok := decodePayment(w, r)
	if !ok {
		return
	}

	rental, err := h.ledger.PayRent(r.Context(), caller, chi.URLParam(r, "propertyID"), payment)
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rental)
}

// EndRentalHandler handles POST /rentals/{propertyID}/end.
func (h *RentalHandlers) EndRentalHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	rental, err := h.ledger.EndRental(r.Context(), caller, chi.URLParam(r, "propertyID"))
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rental)
}

// GetDepositHandler handles GET /rentals/{propertyID}/deposit. Tenant only.
func (h *RentalHandlers) GetDepositHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	propertyID := chi.URLParam(r, "propertyID")
	deposit, err := h.ledger.GetDeposit(r.Context(), caller, propertyID)
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, depositResponse{Account: caller, PropertyID: propertyID, Deposit: deposit})
}

// DepositOfHandler handles GET /deposits/{account}.
func (h *RentalHandlers) DepositOfHandler(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(chi.URLParam(r, "account"))
	deposit, err := h.ledger.DepositOf(r.Context(), account)
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, depositResponse{Account: account, Deposit: deposit})
}

// LedgerStateHandler handles GET /ledger.
func (h *RentalHandlers) LedgerStateHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.Summary(r.Context())
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// SetPausedHandler handles PUT /ledger/pause.
func (h *RentalHandlers) SetPausedHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Paused == nil {
		respondWithError(w, http.StatusBadRequest, "invalid_input", "paused is required")
		return
	}

	if err := h.ledger.SetPaused(r.Context(), caller, *req.Paused); err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	h.LedgerStateHandler(w, r)
}

// WithdrawHandler handles POST /ledger/withdraw.
func (h *RentalHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	amount, err := h.ledger.WithdrawFunds(r.Context(), caller)
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, withdrawResponse{Amount: amount})
}

// ListEventsHandler handles GET /ledger/events?after=&limit=.
func (h *RentalHandlers) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	after, err := parseIntParam(r, "after", 0)
	if err != nil || after < 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_input", "after must be a non-negative integer")
		return
	}
	limit, err := parseIntParam(r, "limit", 100)
	if err != nil || limit <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
		return
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}

	events, err := h.ledger.Events(r.Context(), after, int(limit))
	if err != nil {
		h.respondWithLedgerError(w, err)
		return
	}
	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	if events == nil {
		events = []domain.LedgerEvent{}
	}
	respondWithJSON(w, http.StatusOK, eventsResponse{Events: events, NextAfter: next})
}

func (h *RentalHandlers) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthenticated", "Could not get caller from context")
		return "", false
	}
	return caller, true
}

func (h *RentalHandlers) respondWithLedgerError(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("ledger request failed", "kind", kind, "error", err)
		message := "Internal server error"
		if kind == "transfer_failed" {
			message = "Transfer could not be completed; nothing was changed"
		}
		respondWithError(w, status, kind, message)
		return
	}
	respondWithError(w, status, kind, err.Error())
}

// statusForError maps ledger errors to an HTTP status and a stable kind label.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	case errors.Is(err, store.ErrLedgerNotInitialized):
		return http.StatusServiceUnavailable, "not_initialized"
	}

	kind := domain.ErrorKind(err)
	switch kind {
	case "unauthorized":
		return http.StatusForbidden, kind
	case "invalid_state", "already_rented", "nothing_to_withdraw":
		return http.StatusConflict, kind
	case "insufficient_payment":
		return http.StatusPaymentRequired, kind
	case "paused":
		return http.StatusLocked, kind
	case "not_found":
		return http.StatusNotFound, kind
	case "invalid_input":
		return http.StatusBadRequest, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func decodePayment(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentAmount == nil {
		respondWithError(w, http.StatusBadRequest, "invalid_input", "payment_amount is required")
		return 0, false
	}
	return *req.PaymentAmount, true
}

func parseIntParam(r *http.Request, name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, kind, message string) {
	respondWithJSON(w, code, errorResponse{Error: message, Kind: kind})
}
