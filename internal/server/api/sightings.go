package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ayusman/steadyscan/internal/store"
)

// SightingHandler serves the sighting ledger.
type SightingHandler struct {
	store *store.Store
}

// NewSightingHandler creates a new SightingHandler with the given store.
func NewSightingHandler(s *store.Store) *SightingHandler {
	return &SightingHandler{store: s}
}

type sightingListResponse struct {
	Sightings []*store.Sighting `json:"sightings"`
	Counts    map[string]int    `json:"counts"`
}

// List handles GET /api/sightings. The active query parameter restricts the
// result to sightings that have not disappeared.
func (h *SightingHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid active parameter")
			return
		}
		activeOnly = b
	}

	repo := h.store.Sightings()
	sightings, err := repo.List(activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sightings")
		return
	}
	counts, err := repo.Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count sightings")
		return
	}

	if sightings == nil {
		sightings = []*store.Sighting{}
	}
	writeJSON(w, http.StatusOK, sightingListResponse{Sightings: sightings, Counts: counts})
}

// Get handles GET /api/sightings/{id}.
func (h *SightingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sg, err := h.store.Sightings().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Sighting not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get sighting")
		return
	}
	writeJSON(w, http.StatusOK, sg)
}
