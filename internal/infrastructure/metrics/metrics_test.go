package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iho/tripledger/internal/domain"
)

func TestNewRegistersMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.RecordsAppended.WithLabelValues("payment_received").Inc()
	m.HTTPRequests.WithLabelValues("GET", "/health", "200").Inc()

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Fatalf("expected registered metrics, got none")
	}

	if got := testutil.ToFloat64(m.RecordsAppended.WithLabelValues("payment_received")); got != 1 {
		t.Fatalf("expected one appended record, got %v", got)
	}
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate registration to panic")
		}
	}()
	New(registry)
}

func TestCacheLookup(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CacheLookup(true)
	m.CacheLookup(true)
	m.CacheLookup(false)

	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); got != 1 {
		t.Fatalf("expected 1 miss, got %v", got)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{domain.NewValidationError(domain.RuleCurrency, "currency", errors.New("bad")), "validation"},
		{fmt.Errorf("append: %w", domain.ErrDuplicateID), "duplicate_id"},
		{domain.ErrInvalidTransition, "invalid_transition"},
		{domain.ErrConcurrentModification, "concurrent_modification"},
		{domain.ErrTransactionNotFound, "not_found"},
		{domain.ErrStorageUnavailable, "storage_unavailable"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestStorageRetriesByState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.StorageRetries.WithLabelValues("40001").Inc()
	m.StorageRetries.WithLabelValues("40001").Inc()
	m.StorageRetries.WithLabelValues("40P01").Inc()

	if got := testutil.ToFloat64(m.StorageRetries.WithLabelValues("40001")); got != 2 {
		t.Fatalf("expected 2 serialization retries, got %v", got)
	}
	if got := testutil.CollectAndCount(m.StorageRetries); got != 2 {
		t.Fatalf("expected 2 label sets, got %d", got)
	}
}
