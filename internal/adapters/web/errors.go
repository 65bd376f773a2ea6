package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"pharmstock/internal/core"
)

type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	RequestID         string `json:"request_id,omitempty"`
	AvailableQuantity *int   `json:"availableQuantity,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, r, status, errorResponse{Error: message, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, resp errorResponse) {
	resp.RequestID = requestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps an inventory error onto its HTTP status and code.
// Anything that is not a known business outcome is logged and reported as 500
// without leaking details.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ise *core.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		available := ise.Available
		writeErrorResponse(w, r, http.StatusConflict, errorResponse{
			Error:             err.Error(),
			Code:              "INSUFFICIENT_STOCK",
			AvailableQuantity: &available,
		})
	case errors.Is(err, core.ErrInsufficientStock):
		writeError(w, r, err.Error(), "INSUFFICIENT_STOCK", http.StatusConflict)
	case errors.Is(err, core.ErrExceedsHeld):
		writeError(w, r, err.Error(), "EXCEEDS_HELD", http.StatusUnprocessableEntity)
	case errors.Is(err, core.ErrInvalidStockLevel):
		writeError(w, r, err.Error(), "INVALID_STOCK_LEVEL", http.StatusUnprocessableEntity)
	case errors.Is(err, core.ErrInvalidQuantity):
		writeError(w, r, err.Error(), "INVALID_QUANTITY", http.StatusBadRequest)
	case errors.Is(err, core.ErrInvalidArgument):
		writeError(w, r, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
	case errors.Is(err, core.ErrSKUTaken):
		writeError(w, r, err.Error(), "SKU_TAKEN", http.StatusConflict)
	case errors.Is(err, core.ErrAlreadyExists):
		writeError(w, r, err.Error(), "ALREADY_EXISTS", http.StatusConflict)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrTimeout):
		writeError(w, r, "inventory is busy, retry shortly", "LEDGER_TIMEOUT", http.StatusServiceUnavailable)
	default:
		h.log.Error().Err(err).Str("request_id", requestIDFromContext(r.Context())).
			Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
