package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ayusman/steadyscan/internal/inventory"
)

// EntityHandler serves the codes currently in view.
type EntityHandler struct {
	inventory *inventory.Inventory
}

// NewEntityHandler creates a new EntityHandler over inv.
func NewEntityHandler(inv *inventory.Inventory) *EntityHandler {
	return &EntityHandler{inventory: inv}
}

type entityListResponse struct {
	Entities []inventory.Item `json:"entities"`
	Counts   map[string]int   `json:"counts"`
	Total    int              `json:"total"`
}

// List handles GET /api/entities.
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := entityListResponse{
		Entities: h.inventory.Snapshot(),
		Counts:   map[string]int{},
	}
	if c := h.inventory.Counter(); c != nil {
		resp.Counts = c.Snapshot()
		resp.Total = c.Total()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/entities/{id}.
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entity id")
		return
	}

	item, ok := h.inventory.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Entity not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}
