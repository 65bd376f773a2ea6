package web

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"pharmstock/internal/app"
	"pharmstock/internal/core"
)

type initializeBody struct {
	ProductID    string           `json:"productId" jsonschema:"required,minLength=1" jsonschema_description:"Catalog product identifier"`
	SKU          string           `json:"sku" jsonschema:"required,minLength=1" jsonschema_description:"Stock keeping unit, unique across products"`
	InitialStock int              `json:"initialStock" jsonschema:"minimum=0"`
	ReorderLevel int              `json:"reorderLevel" jsonschema:"minimum=0" jsonschema_description:"Restock is flagged once available stock falls to this level"`
	CostPrice    *decimal.Decimal `json:"costPrice,omitempty" jsonschema:"type=string" jsonschema_description:"Unit cost as a decimal string, informational only"`
}

type adjustBody struct {
	StockQuantity *int             `json:"stockQuantity" jsonschema:"required,minimum=0" jsonschema_description:"Absolute physical stock after a count. Cannot drop below the units currently reserved."`
	ReorderLevel  *int             `json:"reorderLevel,omitempty" jsonschema:"minimum=0"`
	CostPrice     *decimal.Decimal `json:"costPrice,omitempty" jsonschema:"type=string"`
	SKU           *string          `json:"sku,omitempty" jsonschema:"minLength=1"`
}

type restockBody struct {
	Quantity int `json:"quantity" jsonschema:"required,minimum=1" jsonschema_description:"Units received"`
}

type inventoryResponse struct {
	ProductID         string           `json:"productId"`
	SKU               string           `json:"sku"`
	StockQuantity     int              `json:"stockQuantity"`
	ReservedQuantity  int              `json:"reservedQuantity"`
	AvailableQuantity int              `json:"availableQuantity"`
	ReorderLevel      int              `json:"reorderLevel"`
	BelowReorderLevel bool             `json:"belowReorderLevel"`
	CostPrice         *decimal.Decimal `json:"costPrice,omitempty"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

func toInventoryResponse(rec core.InventoryRecord) inventoryResponse {
	return inventoryResponse{
		ProductID:         rec.ProductID,
		SKU:               rec.SKU,
		StockQuantity:     rec.StockQuantity,
		ReservedQuantity:  rec.ReservedQuantity,
		AvailableQuantity: rec.AvailableQuantity(),
		ReorderLevel:      rec.ReorderLevel,
		BelowReorderLevel: rec.BelowReorderLevel(),
		CostPrice:         rec.CostPrice,
		UpdatedAt:         rec.UpdatedAt,
	}
}

// availability handles GET /api/inventory/{productID}/availability?quantity=n.
func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	qty, err := intQuery(r, "quantity", 1)
	if err != nil {
		writeError(w, r, "quantity must be an integer", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	res, err := h.svc.CheckAvailability(r.Context(), productID(r), qty)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"productId":         res.ProductID,
		"requested":         res.Requested,
		"available":         res.Available,
		"availableQuantity": res.AvailableQuantity,
	})
}

// initializeInventory handles POST /api/admin/inventory.
func (h *Handler) initializeInventory(w http.ResponseWriter, r *http.Request) {
	var body initializeBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ProductID == "" {
		writeError(w, r, "productId is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.SKU == "" {
		writeError(w, r, "sku is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.ReorderLevel < 0 {
		writeError(w, r, "reorderLevel cannot be negative", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.CostPrice != nil && body.CostPrice.IsNegative() {
		writeError(w, r, "costPrice cannot be negative", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.InitializeInventory(r.Context(), app.InitializeInventoryRequest{
		ProductID:    body.ProductID,
		SKU:          body.SKU,
		InitialStock: body.InitialStock,
		ReorderLevel: body.ReorderLevel,
		CostPrice:    body.CostPrice,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, toInventoryResponse(*result.Record))
}

// listInventory handles GET /api/admin/inventory?after=&limit=.
func (h *Handler) listInventory(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		writeError(w, r, "limit must be an integer", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.ListInventory(r.Context(), r.URL.Query().Get("after"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	items := make([]inventoryResponse, 0, len(result.Page.Levels))
	for _, lvl := range result.Page.Levels {
		items = append(items, toInventoryResponse(lvl.InventoryRecord))
	}
	writeJSON(w, map[string]any{"items": items, "nextAfter": result.Page.NextAfter})
}

// belowReorder handles GET /api/admin/inventory/below-reorder.
func (h *Handler) belowReorder(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		writeError(w, r, "limit must be an integer", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.ListBelowReorderLevel(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	items := make([]inventoryResponse, 0, len(result.Levels))
	for _, lvl := range result.Levels {
		items = append(items, toInventoryResponse(lvl.InventoryRecord))
	}
	writeJSON(w, map[string]any{"items": items})
}

// getInventory handles GET /api/admin/inventory/{productID}.
func (h *Handler) getInventory(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetInventory(r.Context(), productID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	type detailResponse struct {
		inventoryResponse
		HeldQuantity int  `json:"heldQuantity"`
		Drift        int  `json:"drift"`
		Consistent   bool `json:"consistent"`
	}
	writeJSON(w, detailResponse{
		inventoryResponse: toInventoryResponse(*result.Record),
		HeldQuantity:      result.Reconcile.HeldQuantity,
		Drift:             result.Reconcile.Drift,
		Consistent:        result.Reconcile.Consistent(),
	})
}

// adjustInventory handles PUT /api/admin/inventory/{productID}.
func (h *Handler) adjustInventory(w http.ResponseWriter, r *http.Request) {
	var body adjustBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.StockQuantity == nil {
		writeError(w, r, "stockQuantity is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.ReorderLevel != nil && *body.ReorderLevel < 0 {
		writeError(w, r, "reorderLevel cannot be negative", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.SKU != nil && *body.SKU == "" {
		writeError(w, r, "sku cannot be empty", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if body.CostPrice != nil && body.CostPrice.IsNegative() {
		writeError(w, r, "costPrice cannot be negative", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.AdjustInventory(r.Context(), app.AdjustInventoryRequest{
		ProductID:     productID(r),
		StockQuantity: *body.StockQuantity,
		ReorderLevel:  body.ReorderLevel,
		CostPrice:     body.CostPrice,
		SKU:           body.SKU,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, toInventoryResponse(*result.Record))
}

// restockInventory handles POST /api/admin/inventory/{productID}/restock.
func (h *Handler) restockInventory(w http.ResponseWriter, r *http.Request) {
	var body restockBody
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := h.svc.RestockInventory(r.Context(), app.RestockRequest{
		ProductID: productID(r),
		Quantity:  body.Quantity,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, toInventoryResponse(*result.Record))
}
