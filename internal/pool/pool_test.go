package pool

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAcquireRelease(t *testing.T) {
	db := openTestDB(t)
	p, err := New(context.Background(), db, 2, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Stats().InUse; got != 1 {
		t.Errorf("InUse = %d, want 1", got)
	}

	var one int
	if err := c.QueryRowContext(context.Background(), "SELECT 1").Scan(&one); err != nil {
		t.Fatalf("pooled connection unusable: %v", err)
	}

	p.Release(c)
	if got := p.Stats().InUse; got != 0 {
		t.Errorf("InUse after release = %d, want 0", got)
	}
}

func TestAcquire_TimesOutWhenExhausted(t *testing.T) {
	db := openTestDB(t)
	p, err := New(context.Background(), db, 1, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(c)

	_, err = p.Acquire(context.Background())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestAcquire_UnblocksOnRelease(t *testing.T) {
	db := openTestDB(t)
	p, err := New(context.Background(), db, 1, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		c2, err := p.Acquire(context.Background())
		if err == nil {
			p.Release(c2)
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(c)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiting acquire failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestAcquire_HonorsContext(t *testing.T) {
	db := openTestDB(t)
	p, err := New(context.Background(), db, 1, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestStats_IndependentAcrossPools(t *testing.T) {
	db := openTestDB(t)
	p1, err := New(context.Background(), db, 2, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer p1.Close()
	p2, err := New(context.Background(), db, 2, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()

	c, err := p1.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer p1.Release(c)

	if got := p1.Stats().InUse; got != 1 {
		t.Errorf("p1 InUse = %d, want 1", got)
	}
	if got := p2.Stats().InUse; got != 0 {
		t.Errorf("p2 InUse = %d, want 0", got)
	}
}

func TestClose_Idempotent(t *testing.T) {
	db := openTestDB(t)
	p, err := New(context.Background(), db, 2, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestRelease_AfterCloseClosesConn(t *testing.T) {
	db := openTestDB(t)
	p, err := New(context.Background(), db, 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	p.Release(c)
	if err := c.QueryRowContext(context.Background(), "SELECT 1").Scan(new(int)); err == nil {
		t.Fatal("connection should be closed after release into a closed pool")
	}
}
