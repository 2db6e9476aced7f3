package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "autumn",
		Environment: "test",
	})

	metrics.AddBatchProcessed("reset_grants", "grants", 3)
	metrics.AddRolloversCreated(2)

	got := testutil.ToFloat64(metrics.batchProcessedV2.WithLabelValues("reset_grants", "grants"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.rolloversCreated); got != 2 {
		t.Fatalf("expected 2 rollovers, got %v", got)
	}
}

func TestSyncMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSyncMetrics(registry, Config{ServiceName: "autumn", Environment: "test"})

	m.IncItem(SyncStatusApplied)
	m.IncItem(SyncStatusApplied)
	m.IncItem(SyncStatusDiscarded)
	m.SetQueueDepth(7)

	if got := testutil.ToFloat64(m.items.WithLabelValues(SyncStatusApplied)); got != 2 {
		t.Fatalf("expected 2 applied, got %v", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 7 {
		t.Fatalf("expected depth 7, got %v", got)
	}
}
