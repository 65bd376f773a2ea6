package web

import (
	"net/http"
	"time"

	"pharmstock/internal/app"
	"pharmstock/internal/core"
)

// quantityBody is the request body of every cart line mutation.
type quantityBody struct {
	Quantity *int `json:"quantity" jsonschema:"required,minimum=0" jsonschema_description:"Number of units. Must be positive except when setting a line to an absolute quantity, where 0 removes it."`
}

type cartItemResponse struct {
	ProductID         string     `json:"productId"`
	SessionQuantity   int        `json:"sessionQuantity"`
	ReservedQuantity  int        `json:"reservedQuantity"`
	StockQuantity     int        `json:"stockQuantity"`
	AvailableQuantity int        `json:"availableQuantity"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

func toCartItemResponse(res *core.ReservationResult) cartItemResponse {
	return cartItemResponse{
		ProductID:         res.ProductID,
		SessionQuantity:   res.SessionQuantity,
		ReservedQuantity:  res.ReservedQuantity,
		StockQuantity:     res.StockQuantity,
		AvailableQuantity: res.AvailableQuantity,
		ExpiresAt:         res.ExpiresAt,
	}
}

type holdResponse struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// sessionID returns the cart session of the authenticated caller.
func sessionID(r *http.Request) string {
	if c := authFromContext(r.Context()); c != nil {
		return c.SessionID
	}
	return ""
}

// getCart handles GET /api/cart.
func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetCart(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	holds := make([]holdResponse, 0, len(result.Holds))
	for _, hold := range result.Holds {
		holds = append(holds, holdResponse{ProductID: hold.ProductID, Quantity: hold.Quantity, ExpiresAt: hold.ExpiresAt})
	}
	writeJSON(w, map[string]any{
		"sessionId":  result.SessionID,
		"items":      holds,
		"totalUnits": result.TotalUnits,
	})
}

// clearCart handles DELETE /api/cart.
func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ClearCart(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]int{"released": result.Released})
}

// renewCart handles POST /api/cart/renew.
func (h *Handler) renewCart(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RenewCart(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]int{"renewed": result.Renewed})
}

// cartItemAction decodes the quantity body and runs op for the caller's session.
func (h *Handler) cartItemAction(op func(*http.Request, app.CartItemRequest) (*app.CartItemResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body quantityBody
		if !decodeJSON(w, r, &body) {
			return
		}
		if body.Quantity == nil {
			writeError(w, r, "quantity is required", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		result, err := op(r, app.CartItemRequest{
			SessionID: sessionID(r),
			ProductID: productID(r),
			Quantity:  *body.Quantity,
		})
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, toCartItemResponse(result.Item))
	}
}

// reserveItem handles POST /api/cart/items/{productID}/reserve.
func (h *Handler) reserveItem(w http.ResponseWriter, r *http.Request) {
	h.cartItemAction(func(r *http.Request, req app.CartItemRequest) (*app.CartItemResult, error) {
		return h.svc.ReserveItem(r.Context(), req)
	})(w, r)
}

// releaseItem handles POST /api/cart/items/{productID}/release.
func (h *Handler) releaseItem(w http.ResponseWriter, r *http.Request) {
	h.cartItemAction(func(r *http.Request, req app.CartItemRequest) (*app.CartItemResult, error) {
		return h.svc.ReleaseItem(r.Context(), req)
	})(w, r)
}

// setItemQuantity handles PUT /api/cart/items/{productID}.
func (h *Handler) setItemQuantity(w http.ResponseWriter, r *http.Request) {
	h.cartItemAction(func(r *http.Request, req app.CartItemRequest) (*app.CartItemResult, error) {
		return h.svc.SetItemQuantity(r.Context(), req)
	})(w, r)
}

// fulfillItem handles POST /api/cart/items/{productID}/fulfill.
func (h *Handler) fulfillItem(w http.ResponseWriter, r *http.Request) {
	h.cartItemAction(func(r *http.Request, req app.CartItemRequest) (*app.CartItemResult, error) {
		return h.svc.FulfillItem(r.Context(), req)
	})(w, r)
}
