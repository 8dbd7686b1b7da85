package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/antevus/labtrail/internal/audit"
	"github.com/antevus/labtrail/internal/jobs"
)

// DefaultArchiveInterval is the default time between archive uploads.
const DefaultArchiveInterval = 24 * time.Hour

// DefaultArchiveTimeout is the default timeout for one export-and-upload pass.
const DefaultArchiveTimeout = 10 * time.Minute

// JobConfig configures the periodic archive job.
type JobConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	// JobMetrics for centralized background job tracking. Optional.
	JobMetrics audit.JobMetrics
}

// Job periodically exports the audit window since the last upload and
// stores the signed bundle in object storage.
type Job struct {
	config  JobConfig
	service *Service
	auditor *audit.Logger

	mu        sync.Mutex
	running   bool
	lastUpper time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewJob creates a new archive job.
func NewJob(config JobConfig, service *Service, auditor *audit.Logger) *Job {
	if config.Interval == 0 {
		config.Interval = DefaultArchiveInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultArchiveTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Job{
		config:  config,
		service: service,
		auditor: auditor,
	}
}

// Start begins the periodic archival. Returns immediately; the job runs in
// a background goroutine.
func (j *Job) Start(ctx context.Context) error {
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
func (j *Job) Stop() {
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

func (j *Job) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("archive job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("archive job stopping due to stop signal")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce exports and uploads one window. The window starts where the
// previous successful upload ended, so a failed pass is retried in full on
// the next tick. Exposed for testing and for forcing an upload.
func (j *Job) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	j.mu.Lock()
	start := j.lastUpper
	j.mu.Unlock()
	end := time.Now().UTC()

	startTime := time.Now()
	err := j.archiveWindow(ctx, start, end)
	duration := time.Since(startTime).Seconds()

	if j.config.JobMetrics != nil {
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeAuditArchive, duration)
	}
	if err != nil {
		j.config.Logger.Error("audit archive failed", "error", err)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(jobs.JobTypeAuditArchive, jobs.StatusFailure)
			j.config.JobMetrics.IncJobErrors(jobs.JobTypeAuditArchive, "upload_error")
		}
		return err
	}

	j.mu.Lock()
	j.lastUpper = end
	j.mu.Unlock()

	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeAuditArchive, jobs.StatusSuccess)
	}
	return nil
}

func (j *Job) archiveWindow(ctx context.Context, start, end time.Time) error {
	export, err := j.auditor.ExportWithProof(ctx, start, end)
	if err != nil {
		return err
	}
	if len(export.Events) == 0 {
		j.config.Logger.Debug("no audit events in archive window",
			"start", start, "end", end)
		return nil
	}
	if !export.Proof.ChainValid {
		// Archive anyway; the bundle records the verdict so auditors see
		// exactly what the chain looked like at archive time.
		j.config.Logger.Error("archiving audit window with invalid chain",
			"start", start, "end", end)
	}

	key, err := j.service.Store(ctx, export, start, end)
	if err != nil {
		return err
	}

	j.config.Logger.Info("audit window archived",
		"key", key,
		"events", len(export.Events),
		"chain_valid", export.Proof.ChainValid,
	)
	return nil
}
