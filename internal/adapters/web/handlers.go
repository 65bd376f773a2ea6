package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pharmstock/internal/app"
	"pharmstock/internal/metrics"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	jwtSecret string
	log       zerolog.Logger
}

// NewHandler creates and wires the chi router with all routes.
// m may be nil, in which case /metrics answers 404.
func NewHandler(svc app.ApplicationService, allowedOrigins, jwtSecret string, log zerolog.Logger, m *metrics.Metrics) http.Handler {
	h := &Handler{
		svc:       svc,
		jwtSecret: jwtSecret,
		log:       log,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Metrics(m))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/api/inventory/schema", h.schema)
	r.Get("/api/inventory/{productID}/availability", h.availability)

	// ── Cart (session token required) ────────────────────────────────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		r.Get("/api/cart", h.getCart)
		r.Delete("/api/cart", h.clearCart)
		r.Post("/api/cart/renew", h.renewCart)
		r.Post("/api/cart/items/{productID}/reserve", h.reserveItem)
		r.Post("/api/cart/items/{productID}/release", h.releaseItem)
		r.Post("/api/cart/items/{productID}/fulfill", h.fulfillItem)
		r.Put("/api/cart/items/{productID}", h.setItemQuantity)
	})

	// ── Administration (admin role required) ─────────────────────────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAdmin)
		r.Use(RequestBodyLimit(1 << 20))

		r.Post("/api/admin/inventory", h.initializeInventory)
		r.Get("/api/admin/inventory", h.listInventory)
		r.Get("/api/admin/inventory/below-reorder", h.belowReorder)
		r.Get("/api/admin/inventory/{productID}", h.getInventory)
		r.Put("/api/admin/inventory/{productID}", h.adjustInventory)
		r.Post("/api/admin/inventory/{productID}/restock", h.restockInventory)
	})

	h.router = r
	return r
}

// health reports whether the backing store answers.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Health(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("health check failed")
		writeError(w, r, "store unavailable", "STORE_UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// productID extracts the {productID} URL parameter.
func productID(r *http.Request) string {
	return chi.URLParam(r, "productID")
}

// intQuery parses an optional integer query parameter. Missing means def.
func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
