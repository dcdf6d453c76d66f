package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/validrx/validrx/internal/domain/clinical"
)

func TestObserveItem(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveItem(clinical.StatusBlocked, []clinical.Alert{
		{Severity: clinical.SeverityBlock, Code: clinical.CodeAllergy},
		{Severity: clinical.SeverityWarning, Code: clinical.CodeDuplicateClass},
	})
	m.ObserveItem(clinical.StatusApproved, nil)

	if got := testutil.ToFloat64(m.ChecksTotal.WithLabelValues("BLOCKED")); got != 1 {
		t.Errorf("blocked checks = %v", got)
	}
	if got := testutil.ToFloat64(m.ChecksTotal.WithLabelValues("APPROVED")); got != 1 {
		t.Errorf("approved checks = %v", got)
	}
	if got := testutil.ToFloat64(m.AlertsTotal.WithLabelValues("allergy", "BLOCK")); got != 1 {
		t.Errorf("allergy alerts = %v", got)
	}
}

func TestObserveHTTP(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveHTTP("POST", "/api/v1/clinical-check", 200, 15*time.Millisecond)
	m.ObserveHTTP("POST", "/api/v1/clinical-check", 400, time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/v1/clinical-check", "200")); got != 1 {
		t.Errorf("200 requests = %v", got)
	}
	if n := testutil.CollectAndCount(m.HTTPDuration); n != 1 {
		t.Errorf("duration series = %d", n)
	}
}

func TestNewRegistersIndependently(t *testing.T) {
	// separate registries must not collide
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
