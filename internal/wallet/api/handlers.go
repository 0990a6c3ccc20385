/**
 * @description
 * This file contains the HTTP handlers for the wallet service's API
 * endpoints. Handlers parse incoming requests, call the wallet engine, and
 * map business errors onto HTTP status codes. They act as the bridge between
 * the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/wallet/app, internal/wallet/store: Engine logic and data errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/finx/finx-backend/internal/wallet/app"
	"github.com/finx/finx-backend/internal/wallet/store"
	"github.com/finx/finx-backend/pkg/middleware"
)

// WalletHandlers holds the wallet engine that handlers will use.
type WalletHandlers struct {
	service *app.Service
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service) *WalletHandlers {
	return &WalletHandlers{service: service}
}

type mutationRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference *string         `json:"reference,omitempty"`
}

type transferRequest struct {
	ToOwnerID string          `json:"to_owner_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference *string         `json:"reference,omitempty"`
}

// GetOrCreateWalletHandler returns the caller's wallet, creating it on first access.
func (h *WalletHandlers) GetOrCreateWalletHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Owner id missing from request context")
		return
	}

	wallet, err := h.service.GetOrCreate(r.Context(), ownerID)
	if err != nil {
		log.Printf("level=error component=api msg=\"get-or-create wallet failed\" owner_id=%s err=%v", ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load wallet")
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// GetWalletHandler returns the caller's wallet without creating one.
func (h *WalletHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Owner id missing from request context")
		return
	}

	wallet, err := h.service.GetOrCreate(r.Context(), ownerID)
	if err != nil {
		log.Printf("level=error component=api msg=\"wallet lookup failed\" owner_id=%s err=%v", ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load wallet")
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// CreditHandler handles requests to credit the caller's wallet.
func (h *WalletHandlers) CreditHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Owner id missing from request context")
		return
	}

	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wallet, err := h.service.Credit(r.Context(), ownerID, req.Amount, req.Reference)
	if err != nil {
		h.writeServiceError(w, ownerID, "credit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// DebitHandler handles requests to debit the caller's wallet.
func (h *WalletHandlers) DebitHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Owner id missing from request context")
		return
	}

	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wallet, err := h.service.Debit(r.Context(), ownerID, req.Amount, req.Reference)
	if err != nil {
		h.writeServiceError(w, ownerID, "debit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// TransferHandler handles requests to move funds to another owner.
func (h *WalletHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Owner id missing from request context")
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ToOwnerID == "" {
		h.writeError(w, http.StatusBadRequest, "to_owner_id is required")
		return
	}

	wallet, err := h.service.Transfer(r.Context(), ownerID, req.ToOwnerID, req.Amount, req.Reference)
	if err != nil {
		h.writeServiceError(w, ownerID, "transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// ListTransactionsHandler returns the caller's transaction records newest-first.
func (h *WalletHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Owner id missing from request context")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	txns, err := h.service.ListTransactions(r.Context(), ownerID, limit)
	if err != nil {
		h.writeServiceError(w, ownerID, "list transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

func (h *WalletHandlers) writeServiceError(w http.ResponseWriter, ownerID, operation string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, "Amount must be positive")
	case errors.Is(err, app.ErrSameAccount):
		h.writeError(w, http.StatusBadRequest, "Cannot transfer to the same account")
	case errors.Is(err, store.ErrWalletNotFound):
		h.writeError(w, http.StatusNotFound, "Wallet not found")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, "Insufficient funds")
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many wallet operations. Please slow down.")
	default:
		log.Printf("level=error component=api msg=\"wallet operation failed\" operation=%s owner_id=%s err=%v", operation, ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "Wallet operation failed")
	}
}

func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
