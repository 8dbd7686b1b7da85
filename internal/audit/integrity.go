package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Alerter receives escalations from the integrity check. A broken chain
// signals irreversible tampering and requires immediate human response, so
// implementations should page rather than just log.
type Alerter interface {
	CriticalAlert(ctx context.Context, summary string, result *VerificationResult)
}

// SlogAlerter is an Alerter that writes critical-level log records. Used as
// the default when no paging integration is configured.
type SlogAlerter struct {
	Logger *slog.Logger
}

// CriticalAlert logs the verification failure with full detail.
func (a *SlogAlerter) CriticalAlert(ctx context.Context, summary string, result *VerificationResult) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, summary,
		"severity", "critical",
		"broken_chain_at", result.BrokenChainAt,
		"tampered_events", result.TamperedEvents,
		"errors", result.Errors,
	)
}

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// IntegrityJobConfig configures the periodic integrity check.
type IntegrityJobConfig struct {
	// Interval is the duration between full-chain verifications.
	Interval time.Duration
	// Timeout for a single verification pass.
	Timeout time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// Alerter for escalating failed verifications. Defaults to SlogAlerter.
	Alerter Alerter
	// JobMetrics for centralized background job tracking. Optional.
	JobMetrics JobMetrics
}

// DefaultIntegrityInterval is the default time between integrity checks.
const DefaultIntegrityInterval = 15 * time.Minute

// DefaultIntegrityTimeout is the default timeout for one verification pass.
const DefaultIntegrityTimeout = 5 * time.Minute

const integrityJobType = "audit_integrity_check"

// IntegrityJob periodically verifies the full audit chain and escalates
// any failure via the configured Alerter.
type IntegrityJob struct {
	config IntegrityJobConfig
	logger *Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewIntegrityJob creates a new integrity check job.
func NewIntegrityJob(config IntegrityJobConfig, logger *Logger) *IntegrityJob {
	if config.Interval == 0 {
		config.Interval = DefaultIntegrityInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultIntegrityTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Alerter == nil {
		config.Alerter = &SlogAlerter{Logger: config.Logger}
	}

	return &IntegrityJob{
		config: config,
		logger: logger,
	}
}

// Start begins the periodic integrity check.
// Returns immediately; the job runs in a background goroutine.
func (j *IntegrityJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for it to finish.
func (j *IntegrityJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *IntegrityJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *IntegrityJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("integrity check job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("integrity check job stopping due to stop signal")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single full-chain verification. Exposed for testing
// and for forcing a check outside the ticker schedule.
func (j *IntegrityJob) RunOnce(parentCtx context.Context) *VerificationResult {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	startTime := time.Now()
	result, err := j.logger.VerifyChain(ctx, time.Time{}, time.Time{})
	duration := time.Since(startTime).Seconds()

	if j.config.JobMetrics != nil {
		j.config.JobMetrics.ObserveJobDuration(integrityJobType, duration)
	}

	if err != nil {
		j.config.Logger.Error("integrity check failed to run", "error", err)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(integrityJobType, "failure")
			j.config.JobMetrics.IncJobErrors(integrityJobType, "verify_error")
		}
		return nil
	}

	if !result.Valid {
		j.config.Alerter.CriticalAlert(ctx, "audit chain integrity check failed", result)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(integrityJobType, "failure")
			j.config.JobMetrics.IncJobErrors(integrityJobType, "chain_invalid")
		}
		return result
	}

	j.config.Logger.Info("audit chain integrity check passed",
		"events_checked", result.EventsChecked,
		"duration_seconds", duration)
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(integrityJobType, "success")
	}
	return result
}
