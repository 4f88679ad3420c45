package memory

import (
	"fmt"
	"testing"
)

func TestHealthCheck_FreshStoreHealthy(t *testing.T) {
	s := newTestStore(t, testConfig(t))

	r := s.HealthCheck()
	if r.Status != StatusHealthy {
		t.Fatalf("Status = %q, want %q", r.Status, StatusHealthy)
	}
	if !r.Connection.OK || !r.Integrity.OK || !r.Writable.OK {
		t.Errorf("all probes should pass on a fresh store: %+v", r)
	}
	if r.Utilization["decisions"] != 0 {
		t.Errorf("decisions utilization = %v, want 0", r.Utilization["decisions"])
	}
}

func TestHealthCheck_DegradedNearCapacity(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxContextKeys = 10
	s := newTestStore(t, cfg)

	// 10/10 keys puts context utilization at 100%, past the 90% line.
	for i := 0; i < 10; i++ {
		if _, err := s.SetContext(fmt.Sprintf("key%d", i), "v"); err != nil {
			t.Fatal(err)
		}
	}

	r := s.HealthCheck()
	if r.Status != StatusDegraded {
		t.Fatalf("Status = %q, want %q (context at %v)", r.Status, StatusDegraded, r.Utilization["context"])
	}
	if !r.Connection.OK {
		t.Error("degraded store should still report a working connection")
	}
}

func TestHealthCheck_WriteProbeLeavesNoTrace(t *testing.T) {
	s := newTestStore(t, testConfig(t))

	s.HealthCheck()

	entries, err := s.GetContext("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("write probe leaked rows: %v", entries)
	}
}

func TestHealthCheck_UnhealthyOnClosedDB(t *testing.T) {
	s := newTestStore(t, testConfig(t))
	s.Close()

	r := s.HealthCheck()
	if r.Status != StatusUnhealthy {
		t.Fatalf("Status = %q, want %q", r.Status, StatusUnhealthy)
	}
	if r.Connection.OK {
		t.Error("connection probe should fail on a closed database")
	}
}
