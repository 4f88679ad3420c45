// Package ratelimit implements the sliding-window operation limiter.
// One limiter guards the whole service: every non-exempt operation
// passes through Allow before it may touch storage.
package ratelimit

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// now is swappable in tests.
var now = time.Now

var (
	allowedTotal = metrics.GetOrCreateCounter("promem_rate_limit_allowed_total")
	deniedTotal  = metrics.GetOrCreateCounter("promem_rate_limit_denied_total")
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed     bool
	Remaining   int
	Utilization float64
	RetryAfter  time.Duration
}

// Limiter is a sliding-window rate limiter: at most limit operations
// within any window. Timestamps of recent operations are kept in order;
// expired ones are pruned on every call.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []time.Time

	// usage counts allowed operations by name, for stats and health.
	usage *xsync.MapOf[string, int64]

	// db, when non-nil, journals the window across restarts.
	db *sql.DB
}

// New returns an in-memory limiter allowing limit operations per window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		usage:  xsync.NewMapOf[string, int64](),
	}
}

// NewPersistent returns a limiter whose window survives restarts by
// journaling allowed operations into db. The schema is created if
// missing and timestamps still inside the window are loaded back.
func NewPersistent(db *sql.DB, limit int, window time.Duration) (*Limiter, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS rate_limit_ops (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		at_unix   INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create rate_limit_ops: %w", err)
	}

	l := New(limit, window)
	l.db = db

	cutoff := now().Add(-window).UnixMilli()
	rows, err := db.Query(`SELECT at_unix FROM rate_limit_ops WHERE at_unix > ? ORDER BY at_unix`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load rate limit window: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scan rate limit row: %w", err)
		}
		l.events = append(l.events, time.UnixMilli(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load rate limit window: %w", err)
	}
	return l, nil
}

// Allow records one attempt of op and reports whether it is within the
// quota. Denied attempts are not counted against the window.
func (l *Limiter) Allow(op string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := now()
	l.prune(t)

	if len(l.events) >= l.limit {
		deniedTotal.Inc()
		retry := l.events[0].Add(l.window).Sub(t)
		if retry < 0 {
			retry = 0
		}
		return Decision{
			Allowed:     false,
			Remaining:   0,
			Utilization: 1,
			RetryAfter:  retry,
		}
	}

	l.events = append(l.events, t)
	allowedTotal.Inc()
	l.usage.Compute(op, func(old int64, _ bool) (int64, bool) {
		return old + 1, false
	})
	l.journal(op, t)

	return Decision{
		Allowed:     true,
		Remaining:   l.limit - len(l.events),
		Utilization: float64(len(l.events)) / float64(l.limit),
	}
}

// Utilization reports the current window fill as a fraction of the limit.
func (l *Limiter) Utilization() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now())
	return float64(len(l.events)) / float64(l.limit)
}

// Usage returns a copy of per-operation allowed counts since startup
// (or since the last Reset).
func (l *Limiter) Usage() map[string]int64 {
	out := make(map[string]int64)
	l.usage.Range(func(op string, n int64) bool {
		out[op] = n
		return true
	})
	return out
}

// Reset clears the window and the per-operation counts.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	l.usage.Clear()
	if l.db != nil {
		if _, err := l.db.Exec(`DELETE FROM rate_limit_ops`); err != nil {
			log.Printf("rate limit journal reset failed: %v", err)
		}
	}
}

// prune drops events that have slid out of the window. Caller holds mu.
func (l *Limiter) prune(t time.Time) {
	cutoff := t.Add(-l.window)
	i := 0
	for i < len(l.events) && !l.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.events = append(l.events[:0], l.events[i:]...)
		if l.db != nil {
			if _, err := l.db.Exec(`DELETE FROM rate_limit_ops WHERE at_unix <= ?`, cutoff.UnixMilli()); err != nil {
				log.Printf("rate limit journal prune failed: %v", err)
			}
		}
	}
}

// journal records an allowed operation when persistence is on. Journal
// failures degrade to in-memory behavior rather than blocking the call.
func (l *Limiter) journal(op string, t time.Time) {
	if l.db == nil {
		return
	}
	if _, err := l.db.Exec(`INSERT INTO rate_limit_ops (operation, at_unix) VALUES (?, ?)`, op, t.UnixMilli()); err != nil {
		log.Printf("rate limit journal write failed: %v", err)
	}
}
