// Package scheduler drives the recurring pipeline work: regulatory source
// checks, due assessments, feedback processing, and report generation. Jobs
// are persisted so schedules survive restarts. Runs a single instance; there
// is no cross-instance lease.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a persisted recurring task with a cron schedule.
type Job struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Description string            `json:"description" db:"description"`
	Schedule    string            `json:"schedule" db:"schedule"` // cron expression
	JobType     JobType           `json:"job_type" db:"job_type"`
	Config      map[string]string `json:"config" db:"config"`
	Enabled     bool              `json:"enabled" db:"enabled"`
	LastRun     *time.Time        `json:"last_run,omitempty" db:"last_run"`
	NextRun     *time.Time        `json:"next_run,omitempty" db:"next_run"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

type JobType string

const (
	JobTypeRegulatoryChecks JobType = "run_regulatory_checks"
	JobTypeRunAssessments   JobType = "run_scheduled_assessments"
	JobTypeProcessFeedback  JobType = "process_feedback"
	JobTypeReviewDigest     JobType = "review_digest"
	JobTypeGenerateReport   JobType = "generate_report"
)

// JobExecution is one run of a job, kept for the execution history.
type JobExecution struct {
	ID        string          `json:"id" db:"id"`
	JobID     string          `json:"job_id" db:"job_id"`
	Status    ExecutionStatus `json:"status" db:"status"`
	StartedAt time.Time       `json:"started_at" db:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty" db:"ended_at"`
	Error     string          `json:"error,omitempty" db:"error"`
	Output    string          `json:"output,omitempty" db:"output"`
}

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// JobHandler executes one job run. The returned output string is stored on
// the execution record.
type JobHandler func(ctx context.Context, job *Job) (string, error)

// Store persists jobs and their execution history.
type Store interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
	UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error
	CreateExecution(ctx context.Context, exec *JobExecution) error
	UpdateExecution(ctx context.Context, exec *JobExecution) error
	GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error)
}

// Scheduler loads persisted jobs into a cron runner and dispatches them to
// registered handlers.
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	handlers map[JobType]JobHandler
	entries  map[string]cron.EntryID
	mu       sync.RWMutex
	logger   *slog.Logger
}

func New(store Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		store:    store,
		handlers: make(map[JobType]JobHandler),
		entries:  make(map[string]cron.EntryID),
		logger:   logger,
	}
}

func (s *Scheduler) RegisterHandler(jobType JobType, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// Start loads all persisted jobs and begins running the enabled ones.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("loading jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Enabled {
			if err := s.scheduleJob(job); err != nil {
				s.logger.Error("failed to schedule job",
					"job_id", job.ID,
					"job_name", job.Name,
					"error", err)
			}
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs))

	return nil
}

// Stop stops the cron runner; the returned context is done when in-flight
// runs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) AddJob(ctx context.Context, job *Job) error {
	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}

	if job.Enabled {
		return s.scheduleJob(job)
	}
	return nil
}

func (s *Scheduler) UpdateJob(ctx context.Context, job *Job) error {
	s.unscheduleJob(job.ID)

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	if job.Enabled {
		return s.scheduleJob(job)
	}
	return nil
}

func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	s.unscheduleJob(id)
	return s.store.DeleteJob(ctx, id)
}

func (s *Scheduler) EnableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = true
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	return s.scheduleJob(job)
}

func (s *Scheduler) DisableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = false
	s.unscheduleJob(id)

	return s.store.UpdateJob(ctx, job)
}

// RunJobNow triggers a job out of schedule. The run is recorded in the
// execution history like any other.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	go s.executeJob(job)
	return nil
}

func (s *Scheduler) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.store.ListJobs(ctx)
}

func (s *Scheduler) JobHistory(ctx context.Context, jobID string, limit int) ([]*JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.GetJobExecutions(ctx, jobID, limit)
}

// GetNextRuns returns the next count fire times for a scheduled job.
func (s *Scheduler) GetNextRuns(id string, count int) []time.Time {
	s.mu.RLock()
	entryID, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil
	}

	runs := make([]time.Time, 0, count)
	next := entry.Next
	for i := 0; i < count; i++ {
		runs = append(runs, next)
		next = entry.Schedule.Next(next)
	}

	return runs
}

func (s *Scheduler) scheduleJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.ID)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.entries[job.ID] = entryID

	entry := s.cron.Entry(entryID)
	nextRun := entry.Next
	job.NextRun = &nextRun

	s.logger.Info("scheduled job",
		"job_id", job.ID,
		"job_name", job.Name,
		"schedule", job.Schedule,
		"next_run", nextRun)

	return nil
}

func (s *Scheduler) unscheduleJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

func (s *Scheduler) executeJob(job *Job) {
	ctx := context.Background()
	startTime := time.Now()

	exec := &JobExecution{
		ID:        fmt.Sprintf("exec-%d", startTime.UnixNano()),
		JobID:     job.ID,
		Status:    StatusRunning,
		StartedAt: startTime,
	}

	if err := s.store.CreateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to create execution record", "error", err)
	}

	s.logger.Info("executing job",
		"job_id", job.ID,
		"job_name", job.Name,
		"execution_id", exec.ID)

	s.mu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.mu.RUnlock()

	if !ok {
		exec.Status = StatusFailed
		exec.Error = fmt.Sprintf("no handler registered for job type: %s", job.JobType)
		endTime := time.Now()
		exec.EndedAt = &endTime
		_ = s.store.UpdateExecution(ctx, exec)
		return
	}

	output, err := handler(ctx, job)
	endTime := time.Now()
	exec.EndedAt = &endTime
	exec.Output = output

	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		s.logger.Error("job execution failed",
			"job_id", job.ID,
			"job_name", job.Name,
			"error", err,
			"duration", endTime.Sub(startTime))
	} else {
		exec.Status = StatusCompleted
		s.logger.Info("job execution completed",
			"job_id", job.ID,
			"job_name", job.Name,
			"duration", endTime.Sub(startTime))
	}

	_ = s.store.UpdateExecution(ctx, exec)
	_ = s.store.UpdateLastRun(ctx, job.ID, startTime)
}

// PipelineHandlers wires the compliance pipeline stages into the scheduler.
type PipelineHandlers struct {
	CheckSourcesFunc func(ctx context.Context) (checked, changes, errors int, err error)
	AssessFunc       func(ctx context.Context) (executed, succeeded, failed int, err error)
	FeedbackFunc     func(ctx context.Context) (processed, applied int, err error)
	DigestFunc       func(ctx context.Context) (flagged, pending, drafts int, err error)
	ReportFunc       func(ctx context.Context, config map[string]string) (string, error)
}

func (h *PipelineHandlers) Register(s *Scheduler) {
	if h.CheckSourcesFunc != nil {
		s.RegisterHandler(JobTypeRegulatoryChecks, func(ctx context.Context, job *Job) (string, error) {
			checked, changes, errs, err := h.CheckSourcesFunc(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("checked=%d changes=%d errors=%d", checked, changes, errs), nil
		})
	}

	if h.AssessFunc != nil {
		s.RegisterHandler(JobTypeRunAssessments, func(ctx context.Context, job *Job) (string, error) {
			executed, succeeded, failed, err := h.AssessFunc(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("executed=%d succeeded=%d failed=%d", executed, succeeded, failed), nil
		})
	}

	if h.FeedbackFunc != nil {
		s.RegisterHandler(JobTypeProcessFeedback, func(ctx context.Context, job *Job) (string, error) {
			processed, applied, err := h.FeedbackFunc(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("processed=%d applied=%d", processed, applied), nil
		})
	}

	if h.DigestFunc != nil {
		s.RegisterHandler(JobTypeReviewDigest, func(ctx context.Context, job *Job) (string, error) {
			flagged, pending, drafts, err := h.DigestFunc(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("flagged=%d pending=%d drafts=%d", flagged, pending, drafts), nil
		})
	}

	if h.ReportFunc != nil {
		s.RegisterHandler(JobTypeGenerateReport, func(ctx context.Context, job *Job) (string, error) {
			return h.ReportFunc(ctx, job.Config)
		})
	}
}

// DefaultJobs returns the baseline schedule set seeded on first boot.
func DefaultJobs() []*Job {
	return []*Job{
		{
			ID:          "regulatory-checks",
			Name:        "Regulatory source checks",
			Description: "Poll due regulatory sources and detect content changes",
			Schedule:    "0 */4 * * *",
			JobType:     JobTypeRegulatoryChecks,
			Enabled:     true,
		},
		{
			ID:          "scheduled-assessments",
			Name:        "Scheduled assessments",
			Description: "Execute due automated compliance assessments",
			Schedule:    "15 * * * *",
			JobType:     JobTypeRunAssessments,
			Enabled:     true,
		},
		{
			ID:          "feedback-processing",
			Name:        "Feedback processing",
			Description: "Apply unprocessed learning feedback to controls",
			Schedule:    "*/30 * * * *",
			JobType:     JobTypeProcessFeedback,
			Enabled:     true,
		},
		{
			ID:          "review-digest",
			Name:        "Review backlog digest",
			Description: "Notify reviewers of flagged findings, pending feedback and unapproved controls",
			Schedule:    "0 8 * * 1",
			JobType:     JobTypeReviewDigest,
			Enabled:     true,
		},
	}
}

// EnsureDefaultJobs creates any baseline job that does not exist yet.
// Existing jobs are left untouched so operator edits survive restarts.
func (s *Scheduler) EnsureDefaultJobs(ctx context.Context) error {
	for _, job := range DefaultJobs() {
		existing, err := s.store.GetJob(ctx, job.ID)
		if err == nil && existing != nil {
			continue
		}
		if err := s.AddJob(ctx, job); err != nil {
			return fmt.Errorf("seeding job %s: %w", job.ID, err)
		}
	}
	return nil
}
