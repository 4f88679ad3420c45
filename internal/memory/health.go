package memory

import (
	"fmt"
)

// Health status values, in increasing order of trouble.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check is the outcome of one health probe.
type Check struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport aggregates the storage-side health probes.
type HealthReport struct {
	Status      string             `json:"status"`
	Connection  Check              `json:"connection"`
	Integrity   Check              `json:"integrity"`
	Writable    Check              `json:"writable"`
	Utilization map[string]float64 `json:"utilization"`
}

// HealthCheck probes the storage engine: connectivity, file integrity,
// write capability, and table utilization. Any failed probe makes the
// report unhealthy; utilization above 90% on any table degrades it.
func (s *Store) HealthCheck() HealthReport {
	r := HealthReport{
		Status:      StatusHealthy,
		Connection:  Check{OK: true},
		Integrity:   Check{OK: true},
		Writable:    Check{OK: true},
		Utilization: make(map[string]float64),
	}

	var one int
	if err := s.db.QueryRow("SELECT 1").Scan(&one); err != nil {
		r.Connection = Check{Detail: err.Error()}
		r.Status = StatusUnhealthy
		return r
	}

	if err := s.IntegrityCheck(); err != nil {
		r.Integrity = Check{Detail: err.Error()}
		r.Status = StatusUnhealthy
	}

	if err := s.writeProbe(); err != nil {
		r.Writable = Check{Detail: err.Error()}
		r.Status = StatusUnhealthy
	}

	stats, err := s.Stats()
	if err != nil {
		r.Status = StatusUnhealthy
		return r
	}
	r.Utilization["decisions"] = fill(stats.Decisions, stats.MaxDecisions)
	r.Utilization["patterns"] = fill(stats.Patterns, stats.MaxPatterns)
	r.Utilization["context"] = fill(stats.ContextKeys, stats.MaxContextKeys)

	if r.Status == StatusHealthy {
		for _, u := range r.Utilization {
			if u > 0.9 {
				r.Status = StatusDegraded
				break
			}
		}
	}
	return r
}

// writeProbe verifies write capability without leaving a trace: the
// sentinel row is inserted and the transaction rolled back.
func (s *Store) writeProbe() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin write probe: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(
		`INSERT INTO context (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		"__health_probe__", "ok", timestamp(),
	); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}
	return nil
}

func fill(n, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(n) / float64(max)
}
