package assessor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/complyer/complyer/internal/models"
	"github.com/complyer/complyer/internal/store"
)

var ErrScheduleNotFound = errors.New("assessment schedule not found")

// Scheduled runs execute at 02:00 local time to stay off peak hours.
const runHour = 2

// CalculateNextRunTime maps a frequency to a fixed calendar offset from the
// given time, normalized to the configured run hour. Pure function; for
// every frequency the result is strictly after from.
func CalculateNextRunTime(frequency models.AssessmentFrequency, from time.Time) time.Time {
	var next time.Time
	switch frequency {
	case models.FreqDaily:
		next = from.AddDate(0, 0, 1)
	case models.FreqWeekly:
		next = from.AddDate(0, 0, 7)
	case models.FreqBiweekly:
		next = from.AddDate(0, 0, 14)
	case models.FreqMonthly:
		next = from.AddDate(0, 1, 0)
	case models.FreqQuarterly:
		next = from.AddDate(0, 3, 0)
	case models.FreqAnnually:
		next = from.AddDate(1, 0, 0)
	default:
		next = from.AddDate(0, 1, 0)
	}
	return time.Date(next.Year(), next.Month(), next.Day(), runHour, 0, 0, 0, next.Location())
}

// RatingForRatio maps an evidence verification ratio to a compliance rating.
// Zero evidence is always non-compliant regardless of the ratio formula.
func RatingForRatio(verified, total int) models.ComplianceRating {
	if total == 0 {
		return models.RatingNonCompliant
	}
	ratio := float64(verified) / float64(total)
	switch {
	case ratio >= 0.8:
		return models.RatingCompliant
	case ratio >= 0.5:
		return models.RatingPartiallyCompliant
	default:
		return models.RatingNonCompliant
	}
}

// baseConfidence is the starting confidence band per rating.
func baseConfidence(rating models.ComplianceRating) float64 {
	switch rating {
	case models.RatingCompliant:
		return 0.85
	case models.RatingPartiallyCompliant:
		return 0.75
	default:
		return 0.7
	}
}

// FailureNotifier receives scheduled runs that could not complete.
type FailureNotifier interface {
	NotifyAssessmentFailure(ctx context.Context, frameworkID string, err error) error
}

// Service executes automated assessments against collected evidence.
type Service struct {
	store              *store.Store
	batchSize          int
	evidenceWindowDays int
	notifier           FailureNotifier
	logger             *slog.Logger
}

type Config struct {
	BatchSize          int
	EvidenceWindowDays int
}

func NewService(st *store.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.EvidenceWindowDays == 0 {
		cfg.EvidenceWindowDays = 90
	}
	return &Service{
		store:              st,
		batchSize:          cfg.BatchSize,
		evidenceWindowDays: cfg.EvidenceWindowDays,
		logger:             logger,
	}
}

// SetFailureNotifier attaches an alerting sink for failed scheduled runs.
// Without one, failures are only logged and stored.
func (s *Service) SetFailureNotifier(n FailureNotifier) {
	s.notifier = n
}

func (s *Service) CreateSchedule(ctx context.Context, sched *models.AutoAssessmentSchedule) error {
	if sched.Frequency == "" {
		sched.Frequency = models.FreqMonthly
	}
	if sched.NextRunAt.IsZero() {
		sched.NextRunAt = CalculateNextRunTime(sched.Frequency, time.Now())
	}
	sched.Active = true

	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}

	s.logger.Info("assessment schedule created",
		"schedule_id", sched.ID,
		"tenant_id", sched.TenantID,
		"framework_id", sched.FrameworkID,
		"frequency", sched.Frequency,
		"next_run_at", sched.NextRunAt)
	return nil
}

func (s *Service) ListSchedules(ctx context.Context, tenantID *uuid.UUID) ([]models.AutoAssessmentSchedule, error) {
	return s.store.ListSchedules(ctx, tenantID)
}

func (s *Service) SetScheduleActive(ctx context.Context, id uuid.UUID, active bool) error {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}
	if sched == nil {
		return ErrScheduleNotFound
	}
	return s.store.SetScheduleActive(ctx, id, active)
}

// RunStats aggregates one scheduled-assessment batch.
type RunStats struct {
	Executed  int `json:"executed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RunScheduledAssessments processes up to batchSize due schedules. Success
// or failure, every schedule is advanced and its last run status recorded;
// a failing run still stores a failed result carrying the error so the run
// history has no gaps.
func (s *Service) RunScheduledAssessments(ctx context.Context) (*RunStats, error) {
	schedules, err := s.store.ListDueSchedules(ctx, time.Now(), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}

	stats := &RunStats{}
	for i := range schedules {
		sched := &schedules[i]
		stats.Executed++

		result, runErr := s.runForSchedule(ctx, sched)
		status := models.RunStatusCompleted
		if runErr != nil {
			status = models.RunStatusFailed
			stats.Failed++
			s.logger.Error("scheduled assessment failed",
				"schedule_id", sched.ID,
				"tenant_id", sched.TenantID,
				"error", runErr)

			failed := &models.AutoAssessmentResult{
				TenantID:    sched.TenantID,
				FrameworkID: sched.FrameworkID,
				ScheduleID:  &sched.ID,
				Status:      models.RunStatusFailed,
				Error:       runErr.Error(),
			}
			if err := s.store.CreateResult(ctx, failed); err != nil {
				s.logger.Error("failed to store failed result", "schedule_id", sched.ID, "error", err)
			}
			if s.notifier != nil {
				if nerr := s.notifier.NotifyAssessmentFailure(ctx, sched.FrameworkID, runErr); nerr != nil {
					s.logger.Warn("assessment failure notification", "schedule_id", sched.ID, "error", nerr)
				}
			}
		} else {
			stats.Succeeded++
			_ = result
		}

		nextRun := CalculateNextRunTime(sched.Frequency, time.Now())
		if err := s.store.AdvanceSchedule(ctx, sched.ID, nextRun, status); err != nil {
			s.logger.Error("failed to advance schedule", "schedule_id", sched.ID, "error", err)
		}
	}

	s.logger.Info("scheduled assessments complete",
		"executed", stats.Executed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed)

	return stats, nil
}

func (s *Service) runForSchedule(ctx context.Context, sched *models.AutoAssessmentSchedule) (*models.AutoAssessmentResult, error) {
	result, err := s.RunAssessment(ctx, sched.TenantID, sched.FrameworkID)
	if err != nil {
		return nil, err
	}
	result.ScheduleID = &sched.ID
	return result, nil
}

// RunAssessment evaluates every implemented control in a framework against
// the tenant's recent verified evidence and stores an immutable result.
func (s *Service) RunAssessment(ctx context.Context, tenantID uuid.UUID, frameworkID string) (*models.AutoAssessmentResult, error) {
	controls, err := s.store.ListControlsByFramework(ctx, frameworkID, []models.ControlStatus{models.ControlStatusImplemented})
	if err != nil {
		return nil, fmt.Errorf("loading controls: %w", err)
	}
	if len(controls) == 0 {
		return nil, fmt.Errorf("no implemented controls for framework %s", frameworkID)
	}

	since := time.Now().AddDate(0, 0, -s.evidenceWindowDays)
	result := &models.AutoAssessmentResult{
		TenantID:    tenantID,
		FrameworkID: frameworkID,
		Status:      models.RunStatusCompleted,
	}

	for i := range controls {
		control := &controls[i]
		finding, err := s.assessControl(ctx, tenantID, control, since)
		if err != nil {
			return nil, fmt.Errorf("assessing control %s: %w", control.ControlID, err)
		}

		switch finding.Rating {
		case models.RatingCompliant:
			result.CompliantCount++
		case models.RatingPartiallyCompliant:
			result.PartialCount++
		case models.RatingNonCompliant:
			result.NonCompliantCount++
		case models.RatingNotApplicable:
			result.NotApplicableCount++
		}
		result.Findings = append(result.Findings, *finding)
	}

	assessed := result.CompliantCount + result.PartialCount + result.NonCompliantCount
	if assessed > 0 {
		result.OverallScore = float64(result.CompliantCount*100+result.PartialCount*50) / float64(assessed)
	}

	if err := s.store.CreateResult(ctx, result); err != nil {
		return nil, fmt.Errorf("storing result: %w", err)
	}

	s.logger.Info("assessment complete",
		"tenant_id", tenantID,
		"framework_id", frameworkID,
		"score", result.OverallScore,
		"controls", len(result.Findings))

	return result, nil
}

func (s *Service) assessControl(ctx context.Context, tenantID uuid.UUID, control *models.GeneratedControl, since time.Time) (*models.ControlFinding, error) {
	evidence, err := s.store.ListRecentEvidence(ctx, tenantID, control.ID, since)
	if err != nil {
		return nil, fmt.Errorf("loading evidence: %w", err)
	}

	verified := 0
	for _, e := range evidence {
		if e.Verified {
			verified++
		}
	}

	rating := RatingForRatio(verified, len(evidence))
	confidence := baseConfidence(rating)

	// Applied learning improvements nudge confidence upward, capped at 5.
	improvements, err := s.store.CountImprovementsForControl(ctx, control.ID)
	if err != nil {
		return nil, fmt.Errorf("counting improvements: %w", err)
	}
	if improvements > 5 {
		improvements = 5
	}
	confidence += 0.05 * float64(improvements)
	if confidence > 1.0 {
		confidence = 1.0
	}

	previous, err := s.store.LatestRatingForControl(ctx, tenantID, control.ID)
	if err != nil {
		return nil, fmt.Errorf("loading prior rating: %w", err)
	}

	finding := &models.ControlFinding{
		ControlID:      control.ID,
		ControlRef:     control.ControlID,
		Rating:         rating,
		PreviousRating: previous,
		Confidence:     confidence,
		EvidenceCount:  len(evidence),
		VerifiedCount:  verified,
		Rationale: fmt.Sprintf("%d of %d evidence items verified within the last %d days",
			verified, len(evidence), s.evidenceWindowDays),
	}

	// Route uncertain or changed verdicts to a human.
	if confidence < 0.7 || (previous != "" && previous != rating) {
		finding.RequiresReview = true
	}

	return finding, nil
}

func (s *Service) ListResults(ctx context.Context, tenantID uuid.UUID, frameworkID *string, limit int) ([]models.AutoAssessmentResult, error) {
	return s.store.ListResults(ctx, tenantID, frameworkID, limit)
}
