package memory

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/calebrios/promem/internal/validate"
)

// ExportVersion is the snapshot format version. Imports require the
// same major version.
const ExportVersion = "1.0"

// ExportData is the full serializable snapshot of project memory.
type ExportData struct {
	Version    string         `json:"version"`
	ExportedAt string         `json:"exported_at"`
	Decisions  []Decision     `json:"decisions"`
	Patterns   []Pattern      `json:"patterns"`
	Context    []ContextEntry `json:"context"`
	Stats      Stats          `json:"stats"`
}

// ImportResult holds counts of imported and skipped records.
type ImportResult struct {
	Decisions int `json:"decisions_imported"`
	Patterns  int `json:"patterns_imported"`
	Context   int `json:"context_imported"`
	Skipped   int `json:"skipped"`
}

// Export snapshots all three tables in one transaction so the result is
// internally consistent even under concurrent writes.
func (s *Store) Export() (ExportData, error) {
	data := ExportData{
		Version:    ExportVersion,
		ExportedAt: timestamp(),
	}

	err := s.execTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT id, timestamp, decision, rationale, context, alternatives, created_at
			 FROM decisions ORDER BY id`)
		if err != nil {
			return fmt.Errorf("memory: export decisions: %w", err)
		}
		for rows.Next() {
			var d Decision
			var rationale, context, alternatives sql.NullString
			if err := rows.Scan(&d.ID, &d.Timestamp, &d.Decision, &rationale, &context, &alternatives, &d.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("memory: scan decision: %w", err)
			}
			d.Rationale = nullableString(rationale)
			d.Context = nullableString(context)
			d.Alternatives = nullableString(alternatives)
			data.Decisions = append(data.Decisions, d)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.Query(
			`SELECT name, description, example, when_to_use, updated_at FROM patterns ORDER BY name`)
		if err != nil {
			return fmt.Errorf("memory: export patterns: %w", err)
		}
		for rows.Next() {
			var p Pattern
			var example, whenToUse sql.NullString
			if err := rows.Scan(&p.Name, &p.Description, &example, &whenToUse, &p.UpdatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("memory: scan pattern: %w", err)
			}
			p.Example = nullableString(example)
			p.WhenToUse = nullableString(whenToUse)
			data.Patterns = append(data.Patterns, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.Query(`SELECT key, value, updated_at FROM context ORDER BY key`)
		if err != nil {
			return fmt.Errorf("memory: export context: %w", err)
		}
		for rows.Next() {
			var e ContextEntry
			if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("memory: scan context: %w", err)
			}
			data.Context = append(data.Context, e)
		}
		rows.Close()
		return rows.Err()
	})
	if err != nil {
		return ExportData{}, err
	}

	stats, err := s.Stats()
	if err != nil {
		return ExportData{}, err
	}
	data.Stats = stats
	return data, nil
}

// Import replaces all stored memory with the snapshot, atomically. Every
// field is re-sanitized as if written live; rows with invalid pattern
// names or context keys are skipped and counted. Either the whole
// snapshot lands or nothing changes.
func (s *Store) Import(data ExportData) (ImportResult, error) {
	if err := checkVersion(data.Version); err != nil {
		return ImportResult{}, err
	}
	if len(data.Decisions) > s.cfg.MaxImportDecisions ||
		len(data.Patterns) > s.cfg.MaxImportPatterns ||
		len(data.Context) > s.cfg.MaxImportContextKeys {
		return ImportResult{}, Errorf(KindValidation,
			"import too large: %d decisions / %d patterns / %d context keys exceed the import limits",
			len(data.Decisions), len(data.Patterns), len(data.Context))
	}

	var res ImportResult
	err := s.execTx(func(tx *sql.Tx) error {
		for _, table := range []string{"decisions", "patterns", "context"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("memory: clear %s: %w", table, err)
			}
		}

		// Capacity applies to imports too: keep the newest decisions,
		// matching the ring buffer's eviction order.
		decisions := data.Decisions
		if len(decisions) > s.cfg.MaxDecisions {
			skipped := len(decisions) - s.cfg.MaxDecisions
			decisions = decisions[skipped:]
			res.Skipped += skipped
		}
		for _, d := range decisions {
			text := validate.SanitizeText(d.Decision, s.cfg.MaxTextLen)
			if text == "" {
				res.Skipped++
				continue
			}
			ts := d.Timestamp
			if ts == "" {
				ts = timestamp()
			}
			created := d.CreatedAt
			if created == "" {
				created = ts
			}
			if _, err := tx.Exec(
				`INSERT INTO decisions (timestamp, decision, rationale, context, alternatives, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				ts, text,
				validate.SanitizeText(d.Rationale, s.cfg.MaxTextLen),
				validate.SanitizeText(d.Context, s.cfg.MaxTextLen),
				validate.SanitizeText(d.Alternatives, s.cfg.MaxTextLen),
				created,
			); err != nil {
				return fmt.Errorf("memory: import decision: %w", err)
			}
			res.Decisions++
		}

		// Snapshots are untrusted: duplicate pattern names or context
		// keys would trip the UNIQUE constraints, so the first
		// occurrence wins and the rest count as skipped.
		seenPatterns := make(map[string]bool, len(data.Patterns))
		for _, p := range data.Patterns {
			if !validate.ValidKey(p.Name) || seenPatterns[p.Name] || res.Patterns >= s.cfg.MaxPatterns {
				res.Skipped++
				continue
			}
			seenPatterns[p.Name] = true
			desc := validate.SanitizeText(p.Description, s.cfg.MaxTextLen)
			if desc == "" {
				res.Skipped++
				continue
			}
			updated := p.UpdatedAt
			if updated == "" {
				updated = timestamp()
			}
			if _, err := tx.Exec(
				`INSERT INTO patterns (name, description, example, when_to_use, updated_at)
				 VALUES (?, ?, ?, ?, ?)`,
				p.Name, desc,
				validate.SanitizeText(p.Example, s.cfg.MaxTextLen),
				validate.SanitizeText(p.WhenToUse, s.cfg.MaxTextLen),
				updated,
			); err != nil {
				return fmt.Errorf("memory: import pattern: %w", err)
			}
			res.Patterns++
		}

		seenKeys := make(map[string]bool, len(data.Context))
		for _, e := range data.Context {
			if !validate.ValidKey(e.Key) || seenKeys[e.Key] || res.Context >= s.cfg.MaxContextKeys {
				res.Skipped++
				continue
			}
			seenKeys[e.Key] = true
			updated := e.UpdatedAt
			if updated == "" {
				updated = timestamp()
			}
			if _, err := tx.Exec(
				`INSERT INTO context (key, value, updated_at) VALUES (?, ?, ?)`,
				e.Key, validate.SanitizeText(e.Value, s.cfg.MaxTextLen), updated,
			); err != nil {
				return fmt.Errorf("memory: import context: %w", err)
			}
			res.Context++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// checkVersion accepts snapshots whose major version matches.
func checkVersion(v string) error {
	if v == "" {
		return Errorf(KindSchemaVersion, "snapshot has no version")
	}
	major := func(s string) string {
		if i := strings.IndexByte(s, '.'); i >= 0 {
			return s[:i]
		}
		return s
	}
	if major(v) != major(ExportVersion) {
		return Errorf(KindSchemaVersion,
			"snapshot version %s is incompatible with %s", v, ExportVersion)
	}
	return nil
}
