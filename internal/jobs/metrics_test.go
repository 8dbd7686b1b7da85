package jobs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if got := len(m.Collectors()); got != 3 {
		t.Errorf("Collectors() returned %d collectors, want 3", got)
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m.IncJobsTotal(JobTypeIntegrityCheck, StatusSuccess)
	m.ObserveJobDuration(JobTypeIntegrityCheck, 0.5)
	m.IncJobErrors(JobTypeAuditArchive, "upload_failed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := map[string]bool{
		MetricBackgroundJobsTotal:      false,
		MetricBackgroundJobsDuration:   false,
		MetricBackgroundJobErrorsTotal: false,
	}
	for _, family := range families {
		if _, ok := found[family.GetName()]; ok {
			found[family.GetName()] = true
		}
	}
	for name, ok := range found {
		if !ok {
			t.Errorf("metric %s not found in gathered metrics", name)
		}
	}
}

func TestMetrics_JobTypeLabels(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m.IncJobsTotal(JobTypeIntegrityCheck, StatusSuccess)
	m.IncJobsTotal(JobTypeIntegrityCheck, StatusSuccess)
	m.IncJobsTotal(JobTypeRateLimitCleanup, StatusFailure)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var jobsTotal *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == MetricBackgroundJobsTotal {
			jobsTotal = family
		}
	}
	if jobsTotal == nil {
		t.Fatalf("metric %s not gathered", MetricBackgroundJobsTotal)
	}
	if got := len(jobsTotal.GetMetric()); got != 2 {
		t.Fatalf("label combinations = %d, want 2", got)
	}

	for _, metric := range jobsTotal.GetMetric() {
		labels := make(map[string]string)
		for _, pair := range metric.GetLabel() {
			labels[pair.GetName()] = pair.GetValue()
		}
		switch labels["job_type"] {
		case JobTypeIntegrityCheck:
			if labels["status"] != StatusSuccess {
				t.Errorf("integrity check status = %q, want %q", labels["status"], StatusSuccess)
			}
			if got := metric.GetCounter().GetValue(); got != 2 {
				t.Errorf("integrity check count = %v, want 2", got)
			}
		case JobTypeRateLimitCleanup:
			if got := metric.GetCounter().GetValue(); got != 1 {
				t.Errorf("cleanup count = %v, want 1", got)
			}
		default:
			t.Errorf("unexpected job_type label %q", labels["job_type"])
		}
	}
}
