// Package memory implements the persistent project-memory engine.
//
// It stores architectural decisions, code patterns and key/value project
// context in SQLite, enforcing capacity limits inside the same write
// transaction so no client ever observes an over-capacity table.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/calebrios/promem/internal/config"
	"github.com/calebrios/promem/internal/validate"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// now is swappable in tests.
var now = time.Now

// ─── Types ───────────────────────────────────────────────────────────────────

// Decision is one entry of the append-only decision log.
type Decision struct {
	ID           int64  `json:"id"`
	Timestamp    string `json:"timestamp"`
	Decision     string `json:"decision"`
	Rationale    string `json:"rationale,omitempty"`
	Context      string `json:"context,omitempty"`
	Alternatives string `json:"alternatives,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// RememberDecisionParams holds the input for recording a decision.
type RememberDecisionParams struct {
	Decision     string `json:"decision"`
	Rationale    string `json:"rationale,omitempty"`
	Context      string `json:"context,omitempty"`
	Alternatives string `json:"alternatives,omitempty"`
}

// Pattern is a named, reusable code pattern. Name is the unique key.
type Pattern struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
	WhenToUse   string `json:"when_to_use,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

// StorePatternParams holds the input for storing or updating a pattern.
type StorePatternParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
	WhenToUse   string `json:"when_to_use,omitempty"`
}

// ContextEntry is one key/value pair of project context.
type ContextEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

// Stats holds aggregate memory statistics with the configured limits.
type Stats struct {
	Decisions      int    `json:"decisions"`
	MaxDecisions   int    `json:"max_decisions"`
	Patterns       int    `json:"patterns"`
	MaxPatterns    int    `json:"max_patterns"`
	ContextKeys    int    `json:"context_keys"`
	MaxContextKeys int    `json:"max_context_keys"`
	DBPath         string `json:"db_path"`
	DBSizeBytes    int64  `json:"db_size_bytes"`
}

// PurgeResult holds per-table deletion counts from a purge.
type PurgeResult struct {
	Decisions int `json:"decisions_deleted"`
	Patterns  int `json:"patterns_deleted"`
	Context   int `json:"context_deleted"`
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persistent memory engine backed by SQLite.
type Store struct {
	db  *sql.DB
	cfg config.Config
}

// New creates the data directory if needed, opens SQLite with WAL mode,
// and runs the idempotent schema migration.
func New(cfg config.Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	db, err := openDB("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	// SQLite concurrency pragmas: WAL lets readers proceed during a
	// write, busy_timeout makes writers queue instead of failing.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, Errorf(KindStorageIntegrity, "pragma %q: %v", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, Errorf(KindStorageIntegrity, "migration: %v", err)
	}

	return s, nil
}

// DB exposes the underlying handle for the connection pool and the
// persistent rate limiter, which share this database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Config returns the store's configuration.
func (s *Store) Config() config.Config {
	return s.cfg
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS decisions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    TEXT NOT NULL,
			decision     TEXT NOT NULL,
			rationale    TEXT,
			context      TEXT,
			alternatives TEXT,
			created_at   TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at DESC);

		CREATE TABLE IF NOT EXISTS patterns (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL,
			example     TEXT,
			when_to_use TEXT,
			updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_patterns_name ON patterns(name);

		CREATE TABLE IF NOT EXISTS context (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// timestamp returns the canonical UTC storage timestamp.
func timestamp() string {
	return now().UTC().Format("2006-01-02 15:04:05")
}

// execTx runs fn inside a single transaction, rolling back on error.
func (s *Store) execTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("memory: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func countRows(tx *sql.Tx, table string) (int, error) {
	var n int
	err := tx.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
	return n, err
}

func nullableString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// ─── Decisions ───────────────────────────────────────────────────────────────

// RememberDecision records an architectural decision. At capacity, the
// oldest decision is evicted inside the same transaction, so the log
// behaves as a ring buffer and never rejects a write.
func (s *Store) RememberDecision(p RememberDecisionParams) (Decision, error) {
	d := Decision{
		Timestamp:    timestamp(),
		Decision:     validate.SanitizeText(p.Decision, s.cfg.MaxTextLen),
		Rationale:    validate.SanitizeText(p.Rationale, s.cfg.MaxTextLen),
		Context:      validate.SanitizeText(p.Context, s.cfg.MaxTextLen),
		Alternatives: validate.SanitizeText(p.Alternatives, s.cfg.MaxTextLen),
	}
	if d.Decision == "" {
		return Decision{}, Errorf(KindValidation, "decision text is required")
	}

	err := s.execTx(func(tx *sql.Tx) error {
		n, err := countRows(tx, "decisions")
		if err != nil {
			return fmt.Errorf("memory: count decisions: %w", err)
		}
		if n >= s.cfg.MaxDecisions {
			if _, err := tx.Exec(
				`DELETE FROM decisions WHERE id = (SELECT MIN(id) FROM decisions)`,
			); err != nil {
				return fmt.Errorf("memory: evict oldest decision: %w", err)
			}
		}
		res, err := tx.Exec(
			`INSERT INTO decisions (timestamp, decision, rationale, context, alternatives, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			d.Timestamp, d.Decision, d.Rationale, d.Context, d.Alternatives, d.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("memory: insert decision: %w", err)
		}
		d.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("memory: decision id: %w", err)
		}
		d.CreatedAt = d.Timestamp
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// RecallDecisions returns decisions newest first, optionally filtered by
// a keyword matched case-insensitively against the decision, rationale
// and context fields. LIKE wildcards in the keyword match literally.
// limit is clamped to [1, 100]; zero means the default of 20.
func (s *Store) RecallDecisions(keyword string, limit int) ([]Decision, error) {
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}

	query := `SELECT id, timestamp, decision, rationale, context, alternatives, created_at
		FROM decisions`
	var args []any
	if keyword != "" {
		pat := "%" + validate.EscapeLike(keyword) + "%"
		query += ` WHERE decision LIKE ? ESCAPE '\'
			OR rationale LIKE ? ESCAPE '\'
			OR context LIKE ? ESCAPE '\'`
		args = append(args, pat, pat, pat)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: recall decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var rationale, context, alternatives sql.NullString
		if err := rows.Scan(&d.ID, &d.Timestamp, &d.Decision, &rationale, &context, &alternatives, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan decision: %w", err)
		}
		d.Rationale = nullableString(rationale)
		d.Context = nullableString(context)
		d.Alternatives = nullableString(alternatives)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ─── Patterns ────────────────────────────────────────────────────────────────

// StorePattern inserts or updates a pattern by name. A new name is
// rejected once the table is at capacity; updates to an existing name
// always succeed.
func (s *Store) StorePattern(p StorePatternParams) (Pattern, error) {
	if !validate.ValidKey(p.Name) {
		return Pattern{}, Errorf(KindValidation,
			"invalid pattern name %q: use 1-100 alphanumeric, underscore, hyphen or dot characters", p.Name)
	}
	pat := Pattern{
		Name:        p.Name,
		Description: validate.SanitizeText(p.Description, s.cfg.MaxTextLen),
		Example:     validate.SanitizeText(p.Example, s.cfg.MaxTextLen),
		WhenToUse:   validate.SanitizeText(p.WhenToUse, s.cfg.MaxTextLen),
		UpdatedAt:   timestamp(),
	}
	if pat.Description == "" {
		return Pattern{}, Errorf(KindValidation, "pattern description is required")
	}

	err := s.execTx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM patterns WHERE name = ?`, pat.Name).Scan(&exists); err != nil {
			return fmt.Errorf("memory: check pattern: %w", err)
		}
		if exists == 0 {
			n, err := countRows(tx, "patterns")
			if err != nil {
				return fmt.Errorf("memory: count patterns: %w", err)
			}
			if n >= s.cfg.MaxPatterns {
				return Errorf(KindCapacity,
					"pattern limit reached (%d): delete or update existing patterns", s.cfg.MaxPatterns)
			}
		}
		_, err := tx.Exec(
			`INSERT INTO patterns (name, description, example, when_to_use, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET
				description = excluded.description,
				example     = excluded.example,
				when_to_use = excluded.when_to_use,
				updated_at  = excluded.updated_at`,
			pat.Name, pat.Description, pat.Example, pat.WhenToUse, pat.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("memory: upsert pattern: %w", err)
		}
		return nil
	})
	if err != nil {
		return Pattern{}, err
	}
	return pat, nil
}

// GetPatterns returns patterns ordered by name. A non-empty name
// restricts the result to that single pattern.
func (s *Store) GetPatterns(name string) ([]Pattern, error) {
	query := `SELECT name, description, example, when_to_use, updated_at FROM patterns`
	var args []any
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: get patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		var example, whenToUse sql.NullString
		if err := rows.Scan(&p.Name, &p.Description, &example, &whenToUse, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan pattern: %w", err)
		}
		p.Example = nullableString(example)
		p.WhenToUse = nullableString(whenToUse)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ─── Context ─────────────────────────────────────────────────────────────────

// SetContext stores a key/value pair. A new key is rejected once the
// table is at capacity; overwriting an existing key always succeeds.
func (s *Store) SetContext(key, value string) (ContextEntry, error) {
	if !validate.ValidKey(key) {
		return ContextEntry{}, Errorf(KindValidation,
			"invalid context key %q: use 1-100 alphanumeric, underscore, hyphen or dot characters", key)
	}
	entry := ContextEntry{
		Key:       key,
		Value:     validate.SanitizeText(value, s.cfg.MaxTextLen),
		UpdatedAt: timestamp(),
	}

	err := s.execTx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM context WHERE key = ?`, entry.Key).Scan(&exists); err != nil {
			return fmt.Errorf("memory: check context key: %w", err)
		}
		if exists == 0 {
			n, err := countRows(tx, "context")
			if err != nil {
				return fmt.Errorf("memory: count context keys: %w", err)
			}
			if n >= s.cfg.MaxContextKeys {
				return Errorf(KindCapacity,
					"context key limit reached (%d): remove or reuse existing keys", s.cfg.MaxContextKeys)
			}
		}
		_, err := tx.Exec(
			`INSERT INTO context (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
				value      = excluded.value,
				updated_at = excluded.updated_at`,
			entry.Key, entry.Value, entry.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("memory: upsert context: %w", err)
		}
		return nil
	})
	if err != nil {
		return ContextEntry{}, err
	}
	return entry, nil
}

// GetContext returns context entries ordered by key. A non-empty key
// restricts the result to that single entry; a missing key yields an
// empty slice, not an error.
func (s *Store) GetContext(key string) ([]ContextEntry, error) {
	query := `SELECT key, value, updated_at FROM context`
	var args []any
	if key != "" {
		query += ` WHERE key = ?`
		args = append(args, key)
	}
	query += ` ORDER BY key`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: get context: %w", err)
	}
	defer rows.Close()

	var out []ContextEntry
	for rows.Next() {
		var e ContextEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan context: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Stats / Purge / Integrity ───────────────────────────────────────────────

// Stats returns table counts alongside the configured limits and the
// database file size.
func (s *Store) Stats() (Stats, error) {
	st := Stats{
		MaxDecisions:   s.cfg.MaxDecisions,
		MaxPatterns:    s.cfg.MaxPatterns,
		MaxContextKeys: s.cfg.MaxContextKeys,
		DBPath:         s.cfg.DBPath,
	}
	counts := []struct {
		table string
		dst   *int
	}{
		{"decisions", &st.Decisions},
		{"patterns", &st.Patterns},
		{"context", &st.ContextKeys},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("memory: count %s: %w", c.table, err)
		}
	}
	if fi, err := os.Stat(s.cfg.DBPath); err == nil {
		st.DBSizeBytes = fi.Size()
	}
	return st, nil
}

// Purge deletes all stored memory in one transaction and reports how
// many rows each table lost. VACUUM afterwards is best-effort.
func (s *Store) Purge() (PurgeResult, error) {
	var res PurgeResult
	err := s.execTx(func(tx *sql.Tx) error {
		targets := []struct {
			table string
			dst   *int
		}{
			{"decisions", &res.Decisions},
			{"patterns", &res.Patterns},
			{"context", &res.Context},
		}
		for _, t := range targets {
			r, err := tx.Exec("DELETE FROM " + t.table)
			if err != nil {
				return fmt.Errorf("memory: purge %s: %w", t.table, err)
			}
			n, err := r.RowsAffected()
			if err != nil {
				return fmt.Errorf("memory: purge %s count: %w", t.table, err)
			}
			*t.dst = int(n)
		}
		return nil
	})
	if err != nil {
		return PurgeResult{}, err
	}
	// Reclaim file space; a failure here does not undo the purge.
	_, _ = s.db.Exec("VACUUM")
	return res, nil
}

// IntegrityCheck runs SQLite's integrity check and classifies any
// problem as a storage-integrity error.
func (s *Store) IntegrityCheck() error {
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return Errorf(KindStorageIntegrity, "integrity check failed: %v", err)
	}
	if !strings.EqualFold(result, "ok") {
		return Errorf(KindStorageIntegrity, "integrity check: %s", result)
	}
	return nil
}
