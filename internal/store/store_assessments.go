package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/complyer/complyer/internal/models"
)

// ---- Assessment schedules ----

func (s *Store) CreateSchedule(ctx context.Context, sched *models.AutoAssessmentSchedule) error {
	query := `
		INSERT INTO assessment_schedules (
			id, tenant_id, framework_id, frequency, next_run_at, config, notifications,
			active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	sched.ID = uuid.New()
	now := time.Now()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		sched.ID, sched.TenantID, sched.FrameworkID, sched.Frequency, sched.NextRunAt,
		sched.Config, sched.Notifications, sched.Active, sched.CreatedAt, sched.UpdatedAt,
	)
	return err
}

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*models.AutoAssessmentSchedule, error) {
	var sched models.AutoAssessmentSchedule
	query := `SELECT * FROM assessment_schedules WHERE id = $1`
	err := s.db.GetContext(ctx, &sched, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &sched, err
}

func (s *Store) ListSchedules(ctx context.Context, tenantID *uuid.UUID) ([]models.AutoAssessmentSchedule, error) {
	query := `SELECT * FROM assessment_schedules WHERE 1=1`
	args := make([]interface{}, 0)

	if tenantID != nil {
		query += ` AND tenant_id = $1`
		args = append(args, *tenantID)
	}

	query += ` ORDER BY next_run_at ASC`

	var schedules []models.AutoAssessmentSchedule
	err := s.db.SelectContext(ctx, &schedules, query, args...)
	return schedules, err
}

// ListDueSchedules returns active schedules whose next_run_at has passed,
// bounded by limit. Single-scheduler deployments only: there is no lease on
// the returned rows.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.AutoAssessmentSchedule, error) {
	query := `
		SELECT * FROM assessment_schedules
		WHERE active = true AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
	`
	var schedules []models.AutoAssessmentSchedule
	err := s.db.SelectContext(ctx, &schedules, query, now, limit)
	return schedules, err
}

func (s *Store) AdvanceSchedule(ctx context.Context, id uuid.UUID, nextRunAt time.Time, lastRunStatus models.RunStatus) error {
	query := `
		UPDATE assessment_schedules SET
			next_run_at = $1, last_run_at = $2, last_run_status = $3, updated_at = $2
		WHERE id = $4
	`
	_, err := s.db.ExecContext(ctx, query, nextRunAt, time.Now(), lastRunStatus, id)
	return err
}

func (s *Store) SetScheduleActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE assessment_schedules SET active = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, active, time.Now(), id)
	return err
}

// ---- Assessment results ----

func (s *Store) CreateResult(ctx context.Context, r *models.AutoAssessmentResult) error {
	query := `
		INSERT INTO assessment_results (
			id, tenant_id, framework_id, schedule_id, status,
			compliant_count, partial_count, non_compliant_count, not_applicable_count,
			overall_score, findings, error, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	r.ID = uuid.New()
	r.ExecutedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.TenantID, r.FrameworkID, r.ScheduleID, r.Status,
		r.CompliantCount, r.PartialCount, r.NonCompliantCount, r.NotApplicableCount,
		r.OverallScore, r.Findings, r.Error, r.ExecutedAt,
	)
	return err
}

func (s *Store) GetResult(ctx context.Context, id uuid.UUID) (*models.AutoAssessmentResult, error) {
	var r models.AutoAssessmentResult
	query := `SELECT * FROM assessment_results WHERE id = $1`
	err := s.db.GetContext(ctx, &r, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &r, err
}

func (s *Store) ListResults(ctx context.Context, tenantID uuid.UUID, frameworkID *string, limit int) ([]models.AutoAssessmentResult, error) {
	query := `SELECT * FROM assessment_results WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argIdx := 2

	if frameworkID != nil {
		query += fmt.Sprintf(" AND framework_id = $%d", argIdx)
		args = append(args, *frameworkID)
		argIdx++
	}

	query += ` ORDER BY executed_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	var results []models.AutoAssessmentResult
	err := s.db.SelectContext(ctx, &results, query, args...)
	return results, err
}

// LatestRatingForControl returns the most recent rating a control received in
// any stored result for the tenant, or empty when never assessed.
func (s *Store) LatestRatingForControl(ctx context.Context, tenantID, controlID uuid.UUID) (models.ComplianceRating, error) {
	query := `
		SELECT f->>'rating'
		FROM assessment_results r, jsonb_array_elements(r.findings) f
		WHERE r.tenant_id = $1 AND (f->>'control_id')::uuid = $2
		ORDER BY r.executed_at DESC
		LIMIT 1
	`
	var rating string
	err := s.db.GetContext(ctx, &rating, query, tenantID, controlID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return models.ComplianceRating(rating), err
}

// CountReviewFlags counts how many stored results flagged the control for
// review, feeding the learn-from-assessment heuristic.
func (s *Store) CountReviewFlags(ctx context.Context, tenantID, controlID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM assessment_results r, jsonb_array_elements(r.findings) f
		WHERE r.tenant_id = $1
		  AND (f->>'control_id')::uuid = $2
		  AND (f->>'requires_review')::boolean = true
	`
	var count int
	err := s.db.GetContext(ctx, &count, query, tenantID, controlID)
	return count, err
}

// CountFlaggedFindings counts findings flagged for review across all
// tenants since the given time, feeding the review-backlog digest.
func (s *Store) CountFlaggedFindings(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM assessment_results r, jsonb_array_elements(r.findings) f
		WHERE r.executed_at >= $1
		  AND (f->>'requires_review')::boolean = true
	`
	var count int
	err := s.db.GetContext(ctx, &count, query, since)
	return count, err
}

// ---- Evidence ----

func (s *Store) ListRecentEvidence(ctx context.Context, tenantID, controlID uuid.UUID, since time.Time) ([]models.EvidenceItem, error) {
	query := `
		SELECT * FROM evidence_items
		WHERE tenant_id = $1 AND control_id = $2 AND collected_at >= $3
		ORDER BY collected_at DESC
	`
	var items []models.EvidenceItem
	err := s.db.SelectContext(ctx, &items, query, tenantID, controlID, since)
	return items, err
}

func (s *Store) CreateEvidence(ctx context.Context, e *models.EvidenceItem) error {
	query := `
		INSERT INTO evidence_items (id, tenant_id, control_id, title, verified, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CollectedAt.IsZero() {
		e.CollectedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query, e.ID, e.TenantID, e.ControlID, e.Title, e.Verified, e.CollectedAt)
	return err
}

// ---- Learning feedback ----

func (s *Store) CreateFeedback(ctx context.Context, f *models.LearningFeedback) error {
	query := `
		INSERT INTO learning_feedback (
			id, tenant_id, control_id, assessment_id, event_type,
			original_rating, corrected_rating, original_rationale,
			feedback_text, suggestion, submitted_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	f.ID = uuid.New()
	f.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		f.ID, f.TenantID, f.ControlID, f.AssessmentID, f.EventType,
		f.OriginalRating, f.CorrectedRating, f.OriginalRationale,
		f.FeedbackText, f.Suggestion, f.SubmittedBy, f.CreatedAt,
	)
	return err
}

func (s *Store) ListUnprocessedFeedback(ctx context.Context, limit int) ([]models.LearningFeedback, error) {
	query := `
		SELECT * FROM learning_feedback
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	var feedback []models.LearningFeedback
	err := s.db.SelectContext(ctx, &feedback, query, limit)
	return feedback, err
}

func (s *Store) MarkFeedbackProcessed(ctx context.Context, id uuid.UUID, applied bool) error {
	query := `
		UPDATE learning_feedback SET
			processed_at = $1,
			applied_at = CASE WHEN $2 THEN $1 ELSE applied_at END
		WHERE id = $3
	`
	_, err := s.db.ExecContext(ctx, query, time.Now(), applied, id)
	return err
}

type FeedbackStats struct {
	Total          int `db:"total"`
	Applied        int `db:"applied"`
	FalsePositives int `db:"false_positives"`
	FalseNegatives int `db:"false_negatives"`
	Pending        int `db:"pending"`
}

func (s *Store) GetFeedbackStats(ctx context.Context, tenantID *uuid.UUID) (*FeedbackStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(applied_at) AS applied,
			COUNT(*) FILTER (WHERE event_type = 'false_positive') AS false_positives,
			COUNT(*) FILTER (WHERE event_type = 'false_negative') AS false_negatives,
			COUNT(*) FILTER (WHERE processed_at IS NULL) AS pending
		FROM learning_feedback
	`
	args := make([]interface{}, 0)
	if tenantID != nil {
		query += ` WHERE tenant_id = $1`
		args = append(args, *tenantID)
	}

	var stats FeedbackStats
	err := s.db.GetContext(ctx, &stats, query, args...)
	return &stats, err
}

// ---- Control improvements ----

func (s *Store) CreateImprovement(ctx context.Context, imp *models.ControlImprovement) error {
	query := `
		INSERT INTO control_improvements (id, control_id, feedback_id, action, detail, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	imp.ID = uuid.New()
	imp.AppliedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		imp.ID, imp.ControlID, imp.FeedbackID, imp.Action, imp.Detail, imp.AppliedAt,
	)
	return err
}

func (s *Store) ImprovementExistsForFeedback(ctx context.Context, feedbackID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM control_improvements WHERE feedback_id = $1)`
	err := s.db.GetContext(ctx, &exists, query, feedbackID)
	return exists, err
}

func (s *Store) CountImprovementsForControl(ctx context.Context, controlID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM control_improvements WHERE control_id = $1`
	err := s.db.GetContext(ctx, &count, query, controlID)
	return count, err
}

type ControlImprovementCount struct {
	ControlID uuid.UUID `db:"control_id" json:"control_id"`
	Count     int       `db:"count" json:"count"`
}

func (s *Store) TopImprovedControls(ctx context.Context, limit int) ([]ControlImprovementCount, error) {
	query := `
		SELECT control_id, COUNT(*) AS count
		FROM control_improvements
		GROUP BY control_id
		ORDER BY count DESC
		LIMIT $1
	`
	var counts []ControlImprovementCount
	err := s.db.SelectContext(ctx, &counts, query, limit)
	return counts, err
}
