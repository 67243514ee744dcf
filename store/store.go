// Package store persists compiled Strategy Specs in sqlite: a CREATE
// TABLE IF NOT EXISTS schema with an updated_at trigger, JSON-serialized
// config in a single column, and a Create/Update/Delete/List/Get/SetActive
// shape re-themed from per-user AI-trading strategy configs onto
// per-ticker compiled Specs.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hybridtrader/spec"

	_ "modernc.org/sqlite"
)

// SpecStore persists spec.Strategy records.
type SpecStore struct {
	db *sql.DB
}

// Open opens (or creates) a sqlite database at path and ensures the
// schema exists.
func Open(path string) (*SpecStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &SpecStore{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SpecStore) Close() error { return s.db.Close() }

func (s *SpecStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS specs (
			id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			is_active BOOLEAN DEFAULT 0,
			config TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_specs_ticker ON specs(ticker)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_specs_is_active ON specs(is_active)`)

	_, err = s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS update_specs_updated_at
		AFTER UPDATE ON specs
		BEGIN
			UPDATE specs SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
		END
	`)
	return err
}

// Create inserts a new Spec, marshaling it to JSON for the config column.
func (s *SpecStore) Create(st *spec.Strategy) error {
	cfg, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: marshal spec: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO specs (id, ticker, is_active, config)
		VALUES (?, ?, 0, ?)
	`, st.ID, st.Ticker, string(cfg))
	return err
}

// Update overwrites an existing Spec's config by id.
func (s *SpecStore) Update(st *spec.Strategy) error {
	cfg, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: marshal spec: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE specs SET config = ? WHERE id = ?
	`, string(cfg), st.ID)
	return err
}

// Delete removes a Spec by id.
func (s *SpecStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM specs WHERE id = ?`, id)
	return err
}

// List returns every stored Spec for ticker, newest first.
func (s *SpecStore) List(ticker string) ([]*spec.Strategy, error) {
	rows, err := s.db.Query(`
		SELECT config FROM specs WHERE ticker = ? ORDER BY created_at DESC
	`, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*spec.Strategy
	for rows.Next() {
		var cfg string
		if err := rows.Scan(&cfg); err != nil {
			return nil, err
		}
		st, err := decode(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Get returns a single Spec by id.
func (s *SpecStore) Get(id string) (*spec.Strategy, error) {
	var cfg string
	err := s.db.QueryRow(`SELECT config FROM specs WHERE id = ?`, id).Scan(&cfg)
	if err != nil {
		return nil, err
	}
	return decode(cfg)
}

// GetActive returns the currently active Spec for ticker, or sql.ErrNoRows
// if none is marked active.
func (s *SpecStore) GetActive(ticker string) (*spec.Strategy, error) {
	var cfg string
	err := s.db.QueryRow(`
		SELECT config FROM specs WHERE ticker = ? AND is_active = 1
	`, ticker).Scan(&cfg)
	if err != nil {
		return nil, err
	}
	return decode(cfg)
}

// SetActive marks id as the sole active Spec for ticker, deactivating
// any previously active Spec for that ticker first with a
// deactivate-then-activate pattern.
func (s *SpecStore) SetActive(ticker, id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE specs SET is_active = 0 WHERE ticker = ?`, ticker); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`UPDATE specs SET is_active = 1 WHERE id = ? AND ticker = ?`, id, ticker); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Duplicate copies an existing Spec under a new id, leaving it inactive.
func (s *SpecStore) Duplicate(sourceID, newID string) error {
	src, err := s.Get(sourceID)
	if err != nil {
		return err
	}
	src.ID = newID
	src.CompiledAt = time.Now()
	return s.Create(src)
}

func decode(cfg string) (*spec.Strategy, error) {
	var st spec.Strategy
	if err := json.Unmarshal([]byte(cfg), &st); err != nil {
		return nil, fmt.Errorf("store: unmarshal spec: %w", err)
	}
	if err := st.Recompile(); err != nil {
		return nil, fmt.Errorf("store: recompile spec %s: %w", st.ID, err)
	}
	return &st, nil
}
