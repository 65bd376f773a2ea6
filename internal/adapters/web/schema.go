package web

import (
	"net/http"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
)

func requestSchemas() map[string]*jsonschema.Schema {
	schemasOnce.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		schemas = map[string]*jsonschema.Schema{
			"cartItemQuantity":    reflector.Reflect(&quantityBody{}),
			"initializeInventory": reflector.Reflect(&initializeBody{}),
			"adjustInventory":     reflector.Reflect(&adjustBody{}),
			"restockInventory":    reflector.Reflect(&restockBody{}),
		}
	})
	return schemas
}

// schema handles GET /api/inventory/schema, publishing the JSON Schema of every request body.
func (h *Handler) schema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, requestSchemas())
}
