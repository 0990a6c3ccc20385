/**
 * @description
 * This file contains the HTTP handlers for the ledger service's read-only
 * API: an owner's own entries, and an entries-by-time-range query.
 *
 * @dependencies
 * - encoding/json, log, net/http, time: Standard Go libraries.
 * - internal/ledger/app: The ledger read service.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/finx/finx-backend/internal/ledger/app"
	"github.com/finx/finx-backend/pkg/middleware"
)

// LedgerHandlers holds the ledger read service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// ListOwnEntriesHandler returns the caller's ledger entries newest-first.
func (h *LedgerHandlers) ListOwnEntriesHandler(w http.ResponseWriter, r *http.Request) {
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

	entries, err := h.service.EntriesForOwner(r.Context(), ownerID, limit)
	if err != nil {
		log.Printf("level=error component=api msg=\"ledger entries lookup failed\" owner_id=%s err=%v", ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load ledger entries")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ListEntriesByRangeHandler returns all entries inside [from, to).
func (h *LedgerHandlers) ListEntriesByRangeHandler(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "from must be an RFC3339 timestamp")
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "to must be an RFC3339 timestamp")
		return
	}

	entries, err := h.service.EntriesInRange(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, app.ErrInvalidRange) {
			h.writeError(w, http.StatusBadRequest, "from must precede to")
			return
		}
		log.Printf("level=error component=api msg=\"ledger range lookup failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load ledger entries")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, errors.New("missing " + name)
	}
	return time.Parse(time.RFC3339, raw)
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
