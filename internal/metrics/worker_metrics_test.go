package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestWorkerMetrics_OutboxBacklog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWorkerMetricsWithRegisterer(reg)

	now := time.Now()
	m.SetOutboxBacklog(3, now.Add(-10*time.Second), now)
	if got := counterValue(t, m.outboxPending); got != 3 {
		t.Fatalf("expected 3 pending, got %v", got)
	}
	if got := counterValue(t, m.outboxOldestAge); got != 10 {
		t.Fatalf("expected age 10s, got %v", got)
	}

	m.SetOutboxBacklog(0, time.Time{}, now)
	if got := counterValue(t, m.outboxOldestAge); got != 0 {
		t.Fatalf("expected zero age for empty backlog, got %v", got)
	}

	m.RecordOutboxPublish("sent")
	m.RecordOutboxPublish("sent")
	if got := counterValue(t, m.outboxPublish.WithLabelValues("sent")); got != 2 {
		t.Fatalf("expected 2 sent, got %v", got)
	}
}

func TestWorkerMetrics_Cleanup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWorkerMetricsWithRegisterer(reg)

	m.RecordCleanupDeleted(4)
	m.RecordCleanupDeleted(0)
	m.RecordCleanupRun(4, nil)
	m.RecordCleanupRun(0, errors.New("boom"))

	if got := counterValue(t, m.cleanupDeleted); got != 4 {
		t.Fatalf("expected 4 deleted, got %v", got)
	}
	if got := counterValue(t, m.cleanupLastDeleted); got != 4 {
		t.Fatalf("failed run must not reset last deleted, got %v", got)
	}
	if got := counterValue(t, m.cleanupRuns.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
}

func TestWorkerMetrics_NilSafe(t *testing.T) {
	var m *WorkerMetrics
	m.RecordOutboxPublish("sent")
	m.SetOutboxBacklog(1, time.Now(), time.Now())
	m.RecordCleanupRun(1, nil)
	m.RecordCleanupDeleted(1)
}
