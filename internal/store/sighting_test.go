package store

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSightingRepository_Lifecycle(t *testing.T) {
	repo := newTestStore(t).Sightings()

	sg := &Sighting{ID: "a", Symbology: "qr", Value: "SKU-1", FirstSeen: t0}
	if err := repo.Open(sg); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := repo.Touch("a", t0.Add(time.Second)); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if err := repo.Touch("a", t0.Add(2*time.Second)); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	got, err := repo.GetByID("a")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Moves != 2 {
		t.Errorf("Moves = %d, want 2", got.Moves)
	}
	if !got.LastSeen.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, t0.Add(2*time.Second))
	}
	if !got.Active() {
		t.Error("expected sighting to be active")
	}

	if err := repo.End("a", t0.Add(3*time.Second)); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	got, err = repo.GetByID("a")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Active() {
		t.Fatal("expected sighting to have ended")
	}
	if !got.DisappearedAt.Equal(t0.Add(3 * time.Second)) {
		t.Errorf("DisappearedAt = %v, want %v", got.DisappearedAt, t0.Add(3*time.Second))
	}

	if err := repo.Touch("a", t0.Add(4*time.Second)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound touching an ended sighting, got %v", err)
	}
	if err := repo.End("a", t0.Add(4*time.Second)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound ending twice, got %v", err)
	}
}

func TestSightingRepository_GetByID_NotFound(t *testing.T) {
	repo := newTestStore(t).Sightings()

	if _, err := repo.GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSightingRepository_OpenDuplicate(t *testing.T) {
	repo := newTestStore(t).Sightings()

	sg := &Sighting{ID: "a", Symbology: "qr", Value: "x", FirstSeen: t0}
	if err := repo.Open(sg); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := repo.Open(sg); err == nil {
		t.Error("expected error opening a duplicate id")
	}
}

func TestSightingRepository_ListAndCount(t *testing.T) {
	repo := newTestStore(t).Sightings()

	for i, sg := range []*Sighting{
		{ID: "c", Symbology: "ean13", Value: "4006381333931"},
		{ID: "a", Symbology: "qr", Value: "one"},
		{ID: "b", Symbology: "qr", Value: "two"},
	} {
		sg.FirstSeen = t0.Add(time.Duration(i) * time.Second)
		if err := repo.Open(sg); err != nil {
			t.Fatalf("Open(%s) error = %v", sg.ID, err)
		}
	}
	if err := repo.End("a", t0.Add(time.Minute)); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	all, err := repo.List(false)
	if err != nil {
		t.Fatalf("List(false) error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sightings, got %d", len(all))
	}
	for i, want := range []string{"c", "a", "b"} {
		if all[i].ID != want {
			t.Errorf("List(false)[%d].ID = %q, want %q", i, all[i].ID, want)
		}
	}

	active, err := repo.List(true)
	if err != nil {
		t.Fatalf("List(true) error = %v", err)
	}
	if len(active) != 2 || active[0].ID != "c" || active[1].ID != "b" {
		t.Errorf("unexpected active sightings %v", active)
	}

	counts, err := repo.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if counts["qr"] != 2 || counts["ean13"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestSightingRepository_EndAll(t *testing.T) {
	repo := newTestStore(t).Sightings()

	for _, id := range []string{"a", "b"} {
		if err := repo.Open(&Sighting{ID: id, Symbology: "qr", Value: id, FirstSeen: t0}); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
	}

	n, err := repo.EndAll(t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("EndAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("EndAll() = %d, want 2", n)
	}

	active, err := repo.List(true)
	if err != nil {
		t.Fatalf("List(true) error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active sightings, got %d", len(active))
	}
}
