package audit

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingAlerter captures critical alerts for assertions.
type recordingAlerter struct {
	mu      sync.Mutex
	alerts  []string
	results []*VerificationResult
}

func (a *recordingAlerter) CriticalAlert(ctx context.Context, summary string, result *VerificationResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, summary)
	a.results = append(a.results, result)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func newTestIntegrityJob(t *testing.T, logger *Logger, alerter Alerter) *IntegrityJob {
	t.Helper()
	return NewIntegrityJob(IntegrityJobConfig{
		Interval: time.Hour,
		Timeout:  time.Second,
		Logger:   slog.Default(),
		Alerter:  alerter,
	}, logger)
}

func TestIntegrityJob_RunOnceHealthyChain(t *testing.T) {
	logger, _ := newTestLogger(t)
	appendEvents(t, logger, 3)

	alerter := &recordingAlerter{}
	job := newTestIntegrityJob(t, logger, alerter)

	result := job.RunOnce(context.Background())
	if result == nil {
		t.Fatal("RunOnce() returned nil")
	}
	if !result.Valid {
		t.Errorf("Valid = false, want true: %v", result.Errors)
	}
	if alerter.count() != 0 {
		t.Errorf("alert count = %d, want 0", alerter.count())
	}
}

func TestIntegrityJob_RunOnceAlertsOnTampering(t *testing.T) {
	logger, repo := newTestLogger(t)
	appendEvents(t, logger, 3)
	repo.tamper(1, func(e *Event) { e.UserID = "attacker" })

	alerter := &recordingAlerter{}
	job := newTestIntegrityJob(t, logger, alerter)

	result := job.RunOnce(context.Background())
	if result == nil {
		t.Fatal("RunOnce() returned nil")
	}
	if result.Valid {
		t.Error("Valid = true for tampered chain, want false")
	}
	if alerter.count() != 1 {
		t.Fatalf("alert count = %d, want 1", alerter.count())
	}
	if len(alerter.results[0].TamperedEvents) != 1 {
		t.Errorf("alerted TamperedEvents = %v, want one entry", alerter.results[0].TamperedEvents)
	}
}

func TestIntegrityJob_StartStop(t *testing.T) {
	logger, _ := newTestLogger(t)
	alerter := &recordingAlerter{}
	job := newTestIntegrityJob(t, logger, alerter)

	if job.IsRunning() {
		t.Fatal("IsRunning() = true before Start")
	}
	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !job.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	// Start is idempotent while running.
	if err := job.Start(context.Background()); err != nil {
		t.Errorf("second Start() error = %v", err)
	}

	job.Stop()
	if job.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	// Stop is idempotent.
	job.Stop()
}
