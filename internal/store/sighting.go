package store

import (
	"database/sql"
	"errors"
	"time"
)

// Sighting is one stable appearance of a code, from Appeared to Disappeared.
type Sighting struct {
	ID            string     `json:"id"`
	Symbology     string     `json:"symbology"`
	Value         string     `json:"value"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	DisappearedAt *time.Time `json:"disappeared_at,omitempty"`
	Moves         int        `json:"moves"`
}

// Active reports whether the sighting has not ended yet.
func (s *Sighting) Active() bool {
	return s.DisappearedAt == nil
}

// SightingRepository provides access to the sighting ledger.
type SightingRepository struct {
	db *sql.DB
}

// Sightings returns the sighting repository for this store.
func (s *Store) Sightings() *SightingRepository {
	return &SightingRepository{db: s.db}
}

const sightingColumns = `id, symbology, value, first_seen, last_seen, disappeared_at, moves`

// Open inserts a new active sighting.
func (r *SightingRepository) Open(sg *Sighting) error {
	if sg.LastSeen.IsZero() {
		sg.LastSeen = sg.FirstSeen
	}
	_, err := r.db.Exec(
		`INSERT INTO sightings (id, symbology, value, first_seen, last_seen, moves)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sg.ID, sg.Symbology, sg.Value, sg.FirstSeen.UTC(), sg.LastSeen.UTC(), sg.Moves,
	)
	return err
}

// Touch records a move of an active sighting.
func (r *SightingRepository) Touch(id string, at time.Time) error {
	result, err := r.db.Exec(
		`UPDATE sightings SET last_seen = ?, moves = moves + 1
		 WHERE id = ? AND disappeared_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// End marks an active sighting as disappeared.
func (r *SightingRepository) End(id string, at time.Time) error {
	result, err := r.db.Exec(
		`UPDATE sightings SET last_seen = ?, disappeared_at = ?
		 WHERE id = ? AND disappeared_at IS NULL`,
		at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// GetByID retrieves a sighting by its stable id.
func (r *SightingRepository) GetByID(id string) (*Sighting, error) {
	row := r.db.QueryRow(`SELECT `+sightingColumns+` FROM sightings WHERE id = ?`, id)
	sg, err := scanSighting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sg, nil
}

// List returns sightings ordered by first appearance, oldest first. With
// activeOnly set, only sightings that have not disappeared are returned.
func (r *SightingRepository) List(activeOnly bool) ([]*Sighting, error) {
	query := `SELECT ` + sightingColumns + ` FROM sightings`
	if activeOnly {
		query += ` WHERE disappeared_at IS NULL`
	}
	query += ` ORDER BY first_seen, id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sightings []*Sighting
	for rows.Next() {
		sg, err := scanSighting(rows)
		if err != nil {
			return nil, err
		}
		sightings = append(sightings, sg)
	}
	return sightings, rows.Err()
}

// Count returns the number of sightings per symbology name.
func (r *SightingRepository) Count() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT symbology, COUNT(*) FROM sightings GROUP BY symbology`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sym string
		var n int
		if err := rows.Scan(&sym, &n); err != nil {
			return nil, err
		}
		counts[sym] = n
	}
	return counts, rows.Err()
}

// EndAll marks every active sighting as disappeared at the given time and
// returns how many were closed. Used to clean up after an unclean shutdown.
func (r *SightingRepository) EndAll(at time.Time) (int, error) {
	result, err := r.db.Exec(
		`UPDATE sightings SET disappeared_at = ? WHERE disappeared_at IS NULL`,
		at.UTC(),
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSighting(row rowScanner) (*Sighting, error) {
	sg := &Sighting{}
	var ended sql.NullTime
	if err := row.Scan(&sg.ID, &sg.Symbology, &sg.Value, &sg.FirstSeen, &sg.LastSeen, &ended, &sg.Moves); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		sg.DisappearedAt = &t
	}
	return sg, nil
}

func expectOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
