package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/complyer/complyer/internal/models"
	"github.com/complyer/complyer/internal/store"
)

var (
	ErrAssessmentNotFound = errors.New("assessment result not found")
	ErrControlNotFound    = errors.New("control not found")
)

// A control flagged for review this many times earns a prompt-improvement
// suggestion.
const reviewFlagThreshold = 3

// decision captures how one feedback event type is handled.
type decision struct {
	apply  bool
	action string
}

// decisionTable is fixed per event type. Unknown types resolve to the safe
// default: do not apply, leave for manual review.
var decisionTable = map[models.FeedbackEventType]decision{
	models.FeedbackRatingOverride:       {apply: true, action: "rating_adjustment"},
	models.FeedbackAssessmentCorrection: {apply: true, action: "rating_adjustment"},
	models.FeedbackFalsePositive:        {apply: true, action: "tighten_specificity"},
	models.FeedbackFalseNegative:        {apply: true, action: "loosen_sensitivity"},
	models.FeedbackPromptImprovement:    {apply: true, action: "prompt_rewrite"},
	models.FeedbackEvidencePattern:      {apply: true, action: "record_evidence_pattern"},
}

// Metrics reports aggregate learning activity.
type Metrics struct {
	TotalFeedback     int                             `json:"total_feedback"`
	AppliedFeedback   int                             `json:"applied_feedback"`
	FalsePositiveRate float64                         `json:"false_positive_rate"`
	FalseNegativeRate float64                         `json:"false_negative_rate"`
	PendingReview     int                             `json:"pending_review"`
	TopControls       []store.ControlImprovementCount `json:"top_controls"`
}

// ProcessStats aggregates one feedback-processing batch.
type ProcessStats struct {
	Processed int `json:"processed"`
	Applied   int `json:"applied"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Service ingests human corrections and turns them into assessment
// improvements.
type Service struct {
	store     *store.Store
	batchSize int
	logger    *slog.Logger
}

func NewService(st *store.Store, batchSize int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize == 0 {
		batchSize = 50
	}
	return &Service{store: st, batchSize: batchSize, logger: logger}
}

// RecordFeedback captures a correction, snapshotting the original rationale
// at write time so later prompt rewrites cannot alter the audit trail.
func (s *Service) RecordFeedback(ctx context.Context, f *models.LearningFeedback) error {
	control, err := s.store.GetControl(ctx, f.ControlID)
	if err != nil {
		return fmt.Errorf("loading control: %w", err)
	}
	if control == nil {
		return ErrControlNotFound
	}

	result, err := s.store.GetResult(ctx, f.AssessmentID)
	if err != nil {
		return fmt.Errorf("loading assessment: %w", err)
	}
	if result == nil {
		return ErrAssessmentNotFound
	}

	if f.OriginalRationale == "" {
		for _, finding := range result.Findings {
			if finding.ControlID == f.ControlID {
				f.OriginalRationale = finding.Rationale
				if f.OriginalRating == "" {
					f.OriginalRating = finding.Rating
				}
				break
			}
		}
	}

	if err := s.store.CreateFeedback(ctx, f); err != nil {
		return fmt.Errorf("recording feedback: %w", err)
	}

	s.logger.Info("feedback recorded",
		"feedback_id", f.ID,
		"control_id", f.ControlID,
		"event_type", f.EventType)
	return nil
}

// ProcessFeedback drains up to batchSize unprocessed feedback rows in
// creation order. Applying is idempotent per feedback id; individual
// failures are logged and counted so one bad row cannot stall the batch.
func (s *Service) ProcessFeedback(ctx context.Context) (*ProcessStats, error) {
	feedback, err := s.store.ListUnprocessedFeedback(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("listing unprocessed feedback: %w", err)
	}

	stats := &ProcessStats{}
	for i := range feedback {
		f := &feedback[i]
		applied, err := s.processOne(ctx, f)
		if err != nil {
			stats.Errors++
			s.logger.Error("feedback processing failed", "feedback_id", f.ID, "error", err)
			continue
		}
		stats.Processed++
		if applied {
			stats.Applied++
		} else {
			stats.Skipped++
		}
	}

	s.logger.Info("feedback batch complete",
		"processed", stats.Processed,
		"applied", stats.Applied,
		"skipped", stats.Skipped,
		"errors", stats.Errors)

	return stats, nil
}

func (s *Service) processOne(ctx context.Context, f *models.LearningFeedback) (bool, error) {
	dec, known := decisionTable[f.EventType]
	if !known {
		dec = decision{apply: false, action: "manual_review"}
	}
	// Prompt improvements require an actual suggestion to act on.
	if f.EventType == models.FeedbackPromptImprovement && strings.TrimSpace(f.Suggestion) == "" {
		dec.apply = false
	}

	if !dec.apply {
		if err := s.store.MarkFeedbackProcessed(ctx, f.ID, false); err != nil {
			return false, fmt.Errorf("marking processed: %w", err)
		}
		return false, nil
	}

	exists, err := s.store.ImprovementExistsForFeedback(ctx, f.ID)
	if err != nil {
		return false, fmt.Errorf("checking existing improvement: %w", err)
	}
	if exists {
		if err := s.store.MarkFeedbackProcessed(ctx, f.ID, true); err != nil {
			return false, fmt.Errorf("marking processed: %w", err)
		}
		return false, nil
	}

	if err := s.applyImprovement(ctx, f, dec); err != nil {
		return false, err
	}

	if err := s.store.MarkFeedbackProcessed(ctx, f.ID, true); err != nil {
		return false, fmt.Errorf("marking processed: %w", err)
	}
	return true, nil
}

func (s *Service) applyImprovement(ctx context.Context, f *models.LearningFeedback, dec decision) error {
	detail := f.FeedbackText
	if f.Suggestion != "" {
		detail = f.Suggestion
	}

	imp := &models.ControlImprovement{
		ControlID:  f.ControlID,
		FeedbackID: f.ID,
		Action:     dec.action,
		Detail:     detail,
	}
	if err := s.store.CreateImprovement(ctx, imp); err != nil {
		return fmt.Errorf("recording improvement: %w", err)
	}

	// Prompt-affecting feedback appends derived guidance to the control's
	// assessment prompt.
	if dec.action == "prompt_rewrite" || dec.action == "tighten_specificity" || dec.action == "loosen_sensitivity" {
		control, err := s.store.GetControl(ctx, f.ControlID)
		if err != nil {
			return fmt.Errorf("loading control: %w", err)
		}
		if control == nil {
			return ErrControlNotFound
		}

		clause := guidanceClause(f, dec)
		if clause != "" && !strings.Contains(control.AssessmentPrompt, clause) {
			prompt := strings.TrimSpace(control.AssessmentPrompt + " " + clause)
			if err := s.store.UpdateControlPrompt(ctx, control.ID, prompt); err != nil {
				return fmt.Errorf("updating prompt: %w", err)
			}
		}
	}

	return nil
}

func guidanceClause(f *models.LearningFeedback, dec decision) string {
	switch dec.action {
	case "prompt_rewrite":
		return fmt.Sprintf("Reviewer guidance: %s", strings.TrimSpace(f.Suggestion))
	case "tighten_specificity":
		return "Reviewer guidance: require direct evidence of the specific obligation; do not credit adjacent or generic evidence."
	case "loosen_sensitivity":
		return "Reviewer guidance: accept equivalent or compensating evidence when it demonstrably satisfies the obligation."
	default:
		return ""
	}
}

// LearnFromAssessment scans a stored result and suggests prompt improvements
// for controls whose review flag has fired repeatedly.
func (s *Service) LearnFromAssessment(ctx context.Context, resultID uuid.UUID) (int, error) {
	result, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		return 0, fmt.Errorf("loading result: %w", err)
	}
	if result == nil {
		return 0, ErrAssessmentNotFound
	}

	suggestions := 0
	for _, finding := range result.Findings {
		if !finding.RequiresReview {
			continue
		}
		flags, err := s.store.CountReviewFlags(ctx, result.TenantID, finding.ControlID)
		if err != nil {
			s.logger.Error("counting review flags failed", "control_id", finding.ControlID, "error", err)
			continue
		}
		if flags < reviewFlagThreshold {
			continue
		}

		f := &models.LearningFeedback{
			TenantID:          result.TenantID,
			ControlID:         finding.ControlID,
			AssessmentID:      result.ID,
			EventType:         models.FeedbackPromptImprovement,
			OriginalRating:    finding.Rating,
			OriginalRationale: finding.Rationale,
			FeedbackText:      fmt.Sprintf("control flagged for review %d times", flags),
			Suggestion:        fmt.Sprintf("Clarify the evidence expected for %s; repeated low-confidence verdicts suggest the prompt is ambiguous.", finding.ControlRef),
			SubmittedBy:       "system",
		}
		if err := s.store.CreateFeedback(ctx, f); err != nil {
			s.logger.Error("recording system feedback failed", "control_id", finding.ControlID, "error", err)
			continue
		}
		suggestions++
	}

	return suggestions, nil
}

// GetLearningMetrics reports totals, false-positive/negative rates, the
// pending backlog, and the controls with the most applied improvements.
func (s *Service) GetLearningMetrics(ctx context.Context, tenantID *uuid.UUID) (*Metrics, error) {
	stats, err := s.store.GetFeedbackStats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading feedback stats: %w", err)
	}

	metrics := &Metrics{
		TotalFeedback:   stats.Total,
		AppliedFeedback: stats.Applied,
		PendingReview:   stats.Pending,
	}
	if stats.Total > 0 {
		metrics.FalsePositiveRate = float64(stats.FalsePositives) / float64(stats.Total)
		metrics.FalseNegativeRate = float64(stats.FalseNegatives) / float64(stats.Total)
	}

	top, err := s.store.TopImprovedControls(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("loading top controls: %w", err)
	}
	metrics.TopControls = top

	return metrics, nil
}
