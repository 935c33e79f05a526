package db

import "testing"

func TestPoolStats_Fields(t *testing.T) {
	stats := &PoolStats{
		TotalConns:    10,
		IdleConns:     5,
		AcquiredConns: 5,
		MaxConns:      20,
		Healthy:       true,
	}

	if stats.TotalConns != 10 {
		t.Errorf("expected TotalConns 10, got %d", stats.TotalConns)
	}
	if stats.MaxConns != 20 {
		t.Errorf("expected MaxConns 20, got %d", stats.MaxConns)
	}
	if !stats.Healthy {
		t.Error("expected Healthy to be true")
	}
}

func TestPoolStats_UnhealthyWhenNoConns(t *testing.T) {
	stats := &PoolStats{TotalConns: 0, Healthy: false}
	if stats.Healthy {
		t.Error("expected Healthy to be false with zero connections")
	}
}
