package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ayusman/steadyscan/internal/inventory"
	"github.com/ayusman/steadyscan/internal/payload"
	"github.com/ayusman/steadyscan/internal/store"
	"github.com/ayusman/steadyscan/internal/tracking"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSightings(t *testing.T, s *store.Store) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := s.Sightings()
	for i, sg := range []*store.Sighting{
		{ID: "first", Symbology: "qr", Value: "A"},
		{ID: "second", Symbology: "ean13", Value: "4006381333931"},
	} {
		sg.FirstSeen = base.Add(time.Duration(i) * time.Second)
		if err := repo.Open(sg); err != nil {
			t.Fatalf("failed to seed sighting: %v", err)
		}
	}
	if err := repo.End("first", base.Add(time.Minute)); err != nil {
		t.Fatalf("failed to end sighting: %v", err)
	}
}

func TestSightingHandler_List(t *testing.T) {
	s := newTestStore(t)
	seedSightings(t, s)
	h := NewSightingHandler(s)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{name: "all sightings", query: "", wantCode: http.StatusOK, wantCount: 2},
		{name: "active only", query: "?active=1", wantCode: http.StatusOK, wantCount: 1},
		{name: "explicit false", query: "?active=false", wantCode: http.StatusOK, wantCount: 2},
		{name: "invalid flag", query: "?active=maybe", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sightings"+tt.query, nil)
			rec := httptest.NewRecorder()

			h.List(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp struct {
				Sightings []store.Sighting `json:"sightings"`
				Counts    map[string]int   `json:"counts"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(resp.Sightings) != tt.wantCount {
				t.Errorf("expected %d sightings, got %d", tt.wantCount, len(resp.Sightings))
			}
			if resp.Counts["qr"] != 1 || resp.Counts["ean13"] != 1 {
				t.Errorf("unexpected counts %v", resp.Counts)
			}
		})
	}
}

func TestSightingHandler_ListEmpty(t *testing.T) {
	h := NewSightingHandler(newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/sightings", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var resp map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(resp["sightings"]) != "[]" {
		t.Errorf("expected empty list, got %s", resp["sightings"])
	}
}

func TestSightingHandler_Get(t *testing.T) {
	s := newTestStore(t)
	seedSightings(t, s)
	h := NewSightingHandler(s)

	t.Run("existing sighting", func(t *testing.T) {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/sightings/second", nil), map[string]string{"id": "second"})
		rec := httptest.NewRecorder()
		h.Get(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var sg store.Sighting
		if err := json.NewDecoder(rec.Body).Decode(&sg); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if sg.Value != "4006381333931" || !sg.Active() {
			t.Errorf("unexpected sighting %+v", sg)
		}
	})

	t.Run("missing sighting", func(t *testing.T) {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/sightings/nope", nil), map[string]string{"id": "nope"})
		rec := httptest.NewRecorder()
		h.Get(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestEntityHandler(t *testing.T) {
	counter := inventory.NewCounter()
	inv := inventory.New(nil, counter)
	id := uuid.New()
	inv.Apply(tracking.AppearedChange(id, payload.Payload{Symbology: payload.QRCode, Value: "SKU-7"}, payload.Metadata{}))
	h := NewEntityHandler(inv)

	t.Run("list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
		rec := httptest.NewRecorder()
		h.List(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var resp struct {
			Entities []inventory.Item `json:"entities"`
			Counts   map[string]int   `json:"counts"`
			Total    int              `json:"total"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(resp.Entities) != 1 || resp.Entities[0].ID != id {
			t.Errorf("unexpected entities %+v", resp.Entities)
		}
		if resp.Counts["qr"] != 1 || resp.Total != 1 {
			t.Errorf("unexpected counts %v total %d", resp.Counts, resp.Total)
		}
	})

	t.Run("get", func(t *testing.T) {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": id.String()})
		rec := httptest.NewRecorder()
		h.Get(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": uuid.NewString()})
		rec := httptest.NewRecorder()
		h.Get(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("get malformed id", func(t *testing.T) {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "not-a-uuid"})
		rec := httptest.NewRecorder()
		h.Get(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}
