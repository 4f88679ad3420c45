// Package pool provides a fixed-size database connection pool. The pool
// gates reader fan-out: when all connections are busy, callers block up
// to a timeout and then fail fast, which is the service's backpressure
// signal.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// ErrExhausted is returned by Acquire when no connection frees up
// within the acquire timeout.
var ErrExhausted = errors.New("connection pool exhausted")

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("connection pool closed")

var exhaustedTotal = metrics.GetOrCreateCounter("promem_pool_exhausted_total")

// activePool is the pool the promem_pool_in_use gauge reads. New sets
// it; Close clears it only if it still points at the closing pool, so
// short-lived pools (tests, rebuilds) never skew the live gauge.
var activePool atomic.Pointer[Pool]

func init() {
	metrics.GetOrCreateGauge("promem_pool_in_use", func() float64 {
		if p := activePool.Load(); p != nil {
			return float64(p.inUse.Load())
		}
		return 0
	})
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Size  int `json:"size"`
	InUse int `json:"in_use"`
}

// Pool holds size pre-warmed connections in a buffered channel.
type Pool struct {
	conns   chan *sql.Conn
	size    int
	timeout time.Duration
	inUse   atomic.Int64

	mu     sync.Mutex
	closed bool
}

// New warms size connections from db. On any failure the already-opened
// connections are returned to db before the error is surfaced.
func New(ctx context.Context, db *sql.DB, size int, timeout time.Duration) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	p := &Pool{
		conns:   make(chan *sql.Conn, size),
		size:    size,
		timeout: timeout,
	}
	for i := 0; i < size; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("warm connection %d/%d: %w", i+1, size, err)
		}
		p.conns <- c
	}
	activePool.Store(p)
	return p, nil
}

// Acquire returns a pooled connection, blocking until one is free, the
// timeout elapses (ErrExhausted), or ctx is done. Every successful
// Acquire must be paired with Release.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	select {
	case c := <-p.conns:
		p.inUse.Add(1)
		return c, nil
	default:
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case c := <-p.conns:
		p.inUse.Add(1)
		return c, nil
	case <-timer.C:
		exhaustedTotal.Inc()
		return nil, ErrExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a connection to the pool. Releasing after Close
// closes the connection instead.
func (p *Pool) Release(c *sql.Conn) {
	if c == nil {
		return
	}
	p.inUse.Add(-1)
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		c.Close()
		return
	}
	p.conns <- c
}

// Stats reports pool occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:  p.size,
		InUse: int(p.inUse.Load()),
	}
}

// Close closes all idle connections. Connections still out on loan are
// closed when released. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	activePool.CompareAndSwap(p, nil)

	var firstErr error
	for {
		select {
		case c := <-p.conns:
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}
