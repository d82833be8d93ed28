package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store for scheduler tests.
type memStore struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	execs map[string][]*JobExecution
}

func newMemStore() *memStore {
	return &memStore{
		jobs:  make(map[string]*Job),
		execs: make(map[string][]*JobExecution),
	}
}

func (m *memStore) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (m *memStore) ListJobs(ctx context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (m *memStore) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) UpdateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStore) UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.LastRun = &lastRun
	}
	return nil
}

func (m *memStore) CreateExecution(ctx context.Context, exec *JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs[exec.JobID] = append(m.execs[exec.JobID], exec)
	return nil
}

func (m *memStore) UpdateExecution(ctx context.Context, exec *JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.execs[exec.JobID] {
		if e.ID == exec.ID {
			m.execs[exec.JobID][i] = exec
		}
	}
	return nil
}

func (m *memStore) GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	execs := m.execs[jobID]
	if len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddJob_InvalidCronExpression(t *testing.T) {
	s := New(newMemStore(), testLogger())

	err := s.AddJob(context.Background(), &Job{
		ID:       "bad",
		Schedule: "not a cron expression",
		JobType:  JobTypeRegulatoryChecks,
		Enabled:  true,
	})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestAddJob_DisabledJobNotScheduled(t *testing.T) {
	store := newMemStore()
	s := New(store, testLogger())

	err := s.AddJob(context.Background(), &Job{
		ID:       "disabled",
		Schedule: "also not valid cron",
		JobType:  JobTypeRegulatoryChecks,
		Enabled:  false,
	})
	if err != nil {
		t.Fatalf("disabled jobs must persist without schedule validation: %v", err)
	}
	if _, ok := store.jobs["disabled"]; !ok {
		t.Error("expected job to be persisted")
	}
}

func TestDefaultJobs(t *testing.T) {
	jobs := DefaultJobs()
	if len(jobs) != 4 {
		t.Fatalf("expected 4 baseline jobs, got %d", len(jobs))
	}

	types := map[JobType]bool{}
	for _, j := range jobs {
		if !j.Enabled {
			t.Errorf("baseline job %s must be enabled", j.ID)
		}
		if j.Schedule == "" {
			t.Errorf("baseline job %s missing schedule", j.ID)
		}
		types[j.JobType] = true
	}

	for _, want := range []JobType{JobTypeRegulatoryChecks, JobTypeRunAssessments, JobTypeProcessFeedback, JobTypeReviewDigest} {
		if !types[want] {
			t.Errorf("baseline jobs missing type %s", want)
		}
	}
}

func TestEnsureDefaultJobs_Idempotent(t *testing.T) {
	store := newMemStore()
	s := New(store, testLogger())
	ctx := context.Background()

	if err := s.EnsureDefaultJobs(ctx); err != nil {
		t.Fatalf("first seed failed: %v", err)
	}

	// Simulate an operator edit, then reseed.
	edited := store.jobs["regulatory-checks"]
	edited.Schedule = "0 */8 * * *"

	if err := s.EnsureDefaultJobs(ctx); err != nil {
		t.Fatalf("reseed failed: %v", err)
	}

	if store.jobs["regulatory-checks"].Schedule != "0 */8 * * *" {
		t.Error("reseeding must not overwrite operator edits")
	}
	if len(store.jobs) != 4 {
		t.Errorf("expected 4 jobs after reseed, got %d", len(store.jobs))
	}
}

func TestRunJobNow_UnknownJob(t *testing.T) {
	s := New(newMemStore(), testLogger())

	if err := s.RunJobNow(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestExecuteJob_NoHandlerRecordsFailure(t *testing.T) {
	store := newMemStore()
	s := New(store, testLogger())

	job := &Job{ID: "orphan", JobType: "unregistered_type"}
	s.executeJob(job)

	execs := store.execs["orphan"]
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution record, got %d", len(execs))
	}
	if execs[0].Status != StatusFailed {
		t.Errorf("expected failed status, got %s", execs[0].Status)
	}
}

func TestExecuteJob_HandlerOutputStored(t *testing.T) {
	store := newMemStore()
	s := New(store, testLogger())

	s.RegisterHandler(JobTypeProcessFeedback, func(ctx context.Context, job *Job) (string, error) {
		return "processed=4 applied=2", nil
	})

	job := &Job{ID: "feedback", JobType: JobTypeProcessFeedback}
	s.executeJob(job)

	execs := store.execs["feedback"]
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution record, got %d", len(execs))
	}
	if execs[0].Status != StatusCompleted {
		t.Errorf("expected completed status, got %s", execs[0].Status)
	}
	if execs[0].Output != "processed=4 applied=2" {
		t.Errorf("expected handler output stored, got %q", execs[0].Output)
	}
	if execs[0].EndedAt == nil {
		t.Error("expected end time on execution")
	}
}

func TestPipelineHandlers_Register(t *testing.T) {
	s := New(newMemStore(), testLogger())

	h := &PipelineHandlers{
		CheckSourcesFunc: func(ctx context.Context) (int, int, int, error) { return 5, 2, 1, nil },
		FeedbackFunc:     func(ctx context.Context) (int, int, error) { return 10, 7, nil },
		DigestFunc:       func(ctx context.Context) (int, int, int, error) { return 3, 12, 6, nil },
	}
	h.Register(s)

	out, err := s.handlers[JobTypeRegulatoryChecks](context.Background(), &Job{})
	if err != nil {
		t.Fatalf("check handler failed: %v", err)
	}
	if out != "checked=5 changes=2 errors=1" {
		t.Errorf("unexpected check output %q", out)
	}

	out, err = s.handlers[JobTypeProcessFeedback](context.Background(), &Job{})
	if err != nil {
		t.Fatalf("feedback handler failed: %v", err)
	}
	if out != "processed=10 applied=7" {
		t.Errorf("unexpected feedback output %q", out)
	}

	out, err = s.handlers[JobTypeReviewDigest](context.Background(), &Job{})
	if err != nil {
		t.Fatalf("digest handler failed: %v", err)
	}
	if out != "flagged=3 pending=12 drafts=6" {
		t.Errorf("unexpected digest output %q", out)
	}

	if _, ok := s.handlers[JobTypeRunAssessments]; ok {
		t.Error("nil pipeline funcs must not register handlers")
	}
}
