package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/complyer/complyer/internal/models"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

// ---- Entity profiles ----

func (s *Store) CreateProfile(ctx context.Context, p *models.EntityProfile) error {
	query := `
		INSERT INTO entity_profiles (
			id, tenant_id, industry, jurisdictions, size_class,
			publicly_traded, processes_personal_data, uses_ai_systems, critical_infrastructure,
			data_categories, applicable_frameworks, annual_revenue, employee_count,
			last_updated_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	p.ID = uuid.New()
	now := time.Now()
	p.LastUpdatedAt = now
	p.CreatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.TenantID, p.Industry, p.Jurisdictions, p.SizeClass,
		p.PubliclyTraded, p.ProcessesPersonalData, p.UsesAISystems, p.CriticalInfrastructure,
		p.DataCategories, p.ApplicableFrameworks, p.AnnualRevenue, p.EmployeeCount,
		p.LastUpdatedAt, p.CreatedAt,
	)
	return err
}

func (s *Store) GetProfileByTenant(ctx context.Context, tenantID uuid.UUID) (*models.EntityProfile, error) {
	var p models.EntityProfile
	query := `SELECT * FROM entity_profiles WHERE tenant_id = $1`
	err := s.db.GetContext(ctx, &p, query, tenantID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &p, err
}

func (s *Store) UpdateProfile(ctx context.Context, p *models.EntityProfile) error {
	query := `
		UPDATE entity_profiles SET
			industry = $1, jurisdictions = $2, size_class = $3,
			publicly_traded = $4, processes_personal_data = $5, uses_ai_systems = $6,
			critical_infrastructure = $7, data_categories = $8, applicable_frameworks = $9,
			annual_revenue = $10, employee_count = $11, last_updated_at = $12
		WHERE tenant_id = $13
	`
	p.LastUpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, query,
		p.Industry, p.Jurisdictions, p.SizeClass,
		p.PubliclyTraded, p.ProcessesPersonalData, p.UsesAISystems,
		p.CriticalInfrastructure, p.DataCategories, p.ApplicableFrameworks,
		p.AnnualRevenue, p.EmployeeCount, p.LastUpdatedAt, p.TenantID,
	)
	return err
}

func (s *Store) TouchFrameworkScan(ctx context.Context, tenantID uuid.UUID) error {
	query := `UPDATE entity_profiles SET last_framework_scan_at = $1 WHERE tenant_id = $2`
	_, err := s.db.ExecContext(ctx, query, time.Now(), tenantID)
	return err
}

func (s *Store) DeleteProfile(ctx context.Context, tenantID uuid.UUID) error {
	query := `DELETE FROM entity_profiles WHERE tenant_id = $1`
	_, err := s.db.ExecContext(ctx, query, tenantID)
	return err
}

// ---- Discovered frameworks ----

func (s *Store) CreateDiscoveredFramework(ctx context.Context, f *models.DiscoveredFramework) error {
	query := `
		INSERT INTO discovered_frameworks (id, name, jurisdiction, category, discovery_source, relevance_score, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	f.ID = uuid.New()
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now
	if f.Status == "" {
		f.Status = models.DiscoveryStatusDiscovered
	}

	_, err := s.db.ExecContext(ctx, query,
		f.ID, f.Name, f.Jurisdiction, f.Category, f.DiscoverySource, f.RelevanceScore, f.Status, f.CreatedAt, f.UpdatedAt,
	)
	return err
}

func (s *Store) GetDiscoveredFramework(ctx context.Context, id uuid.UUID) (*models.DiscoveredFramework, error) {
	var f models.DiscoveredFramework
	query := `SELECT * FROM discovered_frameworks WHERE id = $1`
	err := s.db.GetContext(ctx, &f, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &f, err
}

func (s *Store) GetDiscoveredFrameworkByName(ctx context.Context, name string) (*models.DiscoveredFramework, error) {
	var f models.DiscoveredFramework
	query := `SELECT * FROM discovered_frameworks WHERE LOWER(name) = LOWER($1)`
	err := s.db.GetContext(ctx, &f, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &f, err
}

func (s *Store) ListDiscoveredFrameworks(ctx context.Context, status *models.DiscoveryStatus) ([]models.DiscoveredFramework, error) {
	query := `SELECT * FROM discovered_frameworks WHERE 1=1`
	args := make([]interface{}, 0)

	if status != nil {
		query += ` AND status = $1`
		args = append(args, *status)
	}

	query += ` ORDER BY relevance_score DESC, created_at DESC`

	var frameworks []models.DiscoveredFramework
	err := s.db.SelectContext(ctx, &frameworks, query, args...)
	return frameworks, err
}

func (s *Store) UpdateDiscoveryStatus(ctx context.Context, id uuid.UUID, status models.DiscoveryStatus, generatedFrameworkID *string) error {
	query := `UPDATE discovered_frameworks SET status = $1, generated_framework_id = COALESCE($2, generated_framework_id), updated_at = $3 WHERE id = $4`
	_, err := s.db.ExecContext(ctx, query, status, generatedFrameworkID, time.Now(), id)
	return err
}

// ---- Regulatory sources ----

func (s *Store) CreateSource(ctx context.Context, src *models.RegulatorySource) error {
	query := `
		INSERT INTO regulatory_sources (
			id, url, name, jurisdiction, category, related_frameworks, check_frequency,
			consecutive_failures, active, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	src.ID = uuid.New()
	now := time.Now()
	src.CreatedAt = now
	src.UpdatedAt = now
	if src.Status == "" {
		src.Status = models.SourceStatusActive
	}
	src.Active = src.Status == models.SourceStatusActive

	_, err := s.db.ExecContext(ctx, query,
		src.ID, src.URL, src.Name, src.Jurisdiction, src.Category, src.RelatedFrameworks, src.CheckFrequency,
		src.ConsecutiveFailures, src.Active, src.Status, src.CreatedAt, src.UpdatedAt,
	)
	return err
}

func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*models.RegulatorySource, error) {
	var src models.RegulatorySource
	query := `SELECT * FROM regulatory_sources WHERE id = $1`
	err := s.db.GetContext(ctx, &src, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &src, err
}

func (s *Store) ListSources(ctx context.Context, status *models.SourceStatus, jurisdiction *string) ([]models.RegulatorySource, error) {
	query := `SELECT * FROM regulatory_sources WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}
	if jurisdiction != nil {
		query += fmt.Sprintf(" AND jurisdiction = $%d", argIdx)
		args = append(args, *jurisdiction)
	}

	query += " ORDER BY created_at DESC"

	var sources []models.RegulatorySource
	err := s.db.SelectContext(ctx, &sources, query, args...)
	return sources, err
}

// ListDueSources returns active sources whose last check is older than their
// frequency window (or never checked), bounded by limit. Paused and errored
// sources are excluded.
func (s *Store) ListDueSources(ctx context.Context, now time.Time, limit int) ([]models.RegulatorySource, error) {
	query := `
		SELECT * FROM regulatory_sources
		WHERE status = 'active'
		  AND (
			last_checked_at IS NULL
			OR (check_frequency = 'hourly' AND last_checked_at <= $1 - INTERVAL '1 hour')
			OR (check_frequency = 'daily' AND last_checked_at <= $1 - INTERVAL '1 day')
			OR (check_frequency = 'weekly' AND last_checked_at <= $1 - INTERVAL '7 days')
		  )
		ORDER BY last_checked_at ASC NULLS FIRST
		LIMIT $2
	`
	var sources []models.RegulatorySource
	err := s.db.SelectContext(ctx, &sources, query, now, limit)
	return sources, err
}

func (s *Store) RecordSourceCheck(ctx context.Context, id uuid.UUID, contentHash string, changed bool) error {
	query := `
		UPDATE regulatory_sources SET
			last_checked_at = $1,
			last_content_hash = $2,
			last_change_at = CASE WHEN $3 THEN $1 ELSE last_change_at END,
			consecutive_failures = 0,
			updated_at = $1
		WHERE id = $4
	`
	_, err := s.db.ExecContext(ctx, query, time.Now(), contentHash, changed, id)
	return err
}

// RecordSourceFailure increments the failure counter and flips the source to
// error status once the threshold is reached. Returns the new counter value.
func (s *Store) RecordSourceFailure(ctx context.Context, id uuid.UUID, threshold int) (int, error) {
	query := `
		UPDATE regulatory_sources SET
			last_checked_at = $1,
			consecutive_failures = consecutive_failures + 1,
			status = CASE WHEN consecutive_failures + 1 >= $2 THEN 'error' ELSE status END,
			active = CASE WHEN consecutive_failures + 1 >= $2 THEN false ELSE active END,
			updated_at = $1
		WHERE id = $3
		RETURNING consecutive_failures
	`
	var failures int
	err := s.db.GetContext(ctx, &failures, query, time.Now(), threshold, id)
	return failures, err
}

func (s *Store) UpdateSourceStatus(ctx context.Context, id uuid.UUID, status models.SourceStatus) error {
	query := `UPDATE regulatory_sources SET status = $1, active = $2, consecutive_failures = CASE WHEN $1 = 'active' THEN 0 ELSE consecutive_failures END, updated_at = $3 WHERE id = $4`
	_, err := s.db.ExecContext(ctx, query, status, status == models.SourceStatusActive, time.Now(), id)
	return err
}

// ---- Regulatory updates ----

func (s *Store) CreateUpdate(ctx context.Context, u *models.RegulatoryUpdate) error {
	query := `
		INSERT INTO regulatory_updates (
			id, source_id, title, snippet, update_type, impact_level, analysis,
			generated_controls, controls_implemented, status, detected_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	u.ID = uuid.New()
	now := time.Now()
	u.DetectedAt = now
	u.UpdatedAt = now
	if u.Status == "" {
		u.Status = models.UpdateStatusPending
	}

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.SourceID, u.Title, u.Snippet, u.UpdateType, u.ImpactLevel, u.Analysis,
		u.GeneratedControls, u.ControlsImplemented, u.Status, u.DetectedAt, u.UpdatedAt,
	)
	return err
}

func (s *Store) GetUpdate(ctx context.Context, id uuid.UUID) (*models.RegulatoryUpdate, error) {
	var u models.RegulatoryUpdate
	query := `SELECT * FROM regulatory_updates WHERE id = $1`
	err := s.db.GetContext(ctx, &u, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

type ListUpdateFilters struct {
	Status      *models.UpdateStatus
	ImpactLevel *models.ImpactLevel
	SourceID    *uuid.UUID
	Limit       int
	Offset      int
}

func (s *Store) ListUpdates(ctx context.Context, filters ListUpdateFilters) ([]models.RegulatoryUpdate, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filters.Status)
		argIdx++
	}
	if filters.ImpactLevel != nil {
		where += fmt.Sprintf(" AND impact_level = $%d", argIdx)
		args = append(args, *filters.ImpactLevel)
		argIdx++
	}
	if filters.SourceID != nil {
		where += fmt.Sprintf(" AND source_id = $%d", argIdx)
		args = append(args, *filters.SourceID)
		argIdx++
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM regulatory_updates`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT * FROM regulatory_updates` + where + ` ORDER BY detected_at DESC`
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
		args = append(args, filters.Limit, filters.Offset)
	}

	var updates []models.RegulatoryUpdate
	err := s.db.SelectContext(ctx, &updates, query, args...)
	return updates, total, err
}

func (s *Store) UpdateUpdateStatus(ctx context.Context, id uuid.UUID, status models.UpdateStatus) error {
	query := `UPDATE regulatory_updates SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

// MarkUpdateImplemented records the implementing control ids and moves the
// update to implemented. controls_implemented is only ever set here.
func (s *Store) MarkUpdateImplemented(ctx context.Context, id uuid.UUID, controlIDs []string) error {
	query := `
		UPDATE regulatory_updates SET
			status = 'implemented',
			controls_implemented = true,
			generated_controls = $1,
			updated_at = $2
		WHERE id = $3
	`
	_, err := s.db.ExecContext(ctx, query, models.StringArray(controlIDs), time.Now(), id)
	return err
}

// ---- Generated controls ----

func (s *Store) CreateControl(ctx context.Context, c *models.GeneratedControl) error {
	query := `
		INSERT INTO generated_controls (
			id, framework_id, control_id, title, description, category, control_type,
			difficulty, evidence_types, assessment_prompt, confidence, source_update_id,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = models.ControlStatusGenerated
	}

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.FrameworkID, c.ControlID, c.Title, c.Description, c.Category, c.ControlType,
		c.Difficulty, c.EvidenceTypes, c.AssessmentPrompt, c.Confidence, c.SourceUpdateID,
		c.Status, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *Store) GetControl(ctx context.Context, id uuid.UUID) (*models.GeneratedControl, error) {
	var c models.GeneratedControl
	query := `SELECT * FROM generated_controls WHERE id = $1`
	err := s.db.GetContext(ctx, &c, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &c, err
}

func (s *Store) ControlIDExists(ctx context.Context, frameworkID, controlID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM generated_controls WHERE framework_id = $1 AND control_id = $2)`
	err := s.db.GetContext(ctx, &exists, query, frameworkID, controlID)
	return exists, err
}

func (s *Store) CountControlsByStatus(ctx context.Context, statuses []models.ControlStatus) (int, error) {
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}
	var count int
	query := `SELECT COUNT(*) FROM generated_controls WHERE status = ANY($1)`
	err := s.db.GetContext(ctx, &count, query, models.StringArray(strs))
	return count, err
}

func (s *Store) ListControlsByFramework(ctx context.Context, frameworkID string, statuses []models.ControlStatus) ([]models.GeneratedControl, error) {
	query := `SELECT * FROM generated_controls WHERE framework_id = $1`
	args := []interface{}{frameworkID}

	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, models.StringArray(strs))
	}

	query += ` ORDER BY control_id ASC`

	var controls []models.GeneratedControl
	err := s.db.SelectContext(ctx, &controls, query, args...)
	return controls, err
}

// ListActiveControlsExcludingFramework feeds cross-framework similarity
// mapping: every implemented control outside the given framework.
func (s *Store) ListActiveControlsExcludingFramework(ctx context.Context, frameworkID string) ([]models.GeneratedControl, error) {
	query := `SELECT * FROM generated_controls WHERE framework_id != $1 AND status = 'implemented' ORDER BY framework_id, control_id`
	var controls []models.GeneratedControl
	err := s.db.SelectContext(ctx, &controls, query, frameworkID)
	return controls, err
}

func (s *Store) UpdateControlStatus(ctx context.Context, id uuid.UUID, status models.ControlStatus) error {
	query := `UPDATE generated_controls SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

// ImplementControl transitions an approved control to implemented. Returns
// false when the control was not in approved status (already implemented,
// rejected, or still under review).
func (s *Store) ImplementControl(ctx context.Context, id uuid.UUID, reviewer string) (bool, error) {
	query := `
		UPDATE generated_controls SET
			status = 'implemented', implemented_by = $1, implemented_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'approved'
	`
	res, err := s.db.ExecContext(ctx, query, reviewer, time.Now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) UpdateControlPrompt(ctx context.Context, id uuid.UUID, prompt string) error {
	query := `UPDATE generated_controls SET assessment_prompt = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, prompt, time.Now(), id)
	return err
}

// ---- Control mappings ----

func (s *Store) CreateMapping(ctx context.Context, m *models.ControlMapping) error {
	query := `
		INSERT INTO control_mappings (id, control_id, mapped_control_id, mapped_framework, similarity, mapping_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (control_id, mapped_control_id) DO UPDATE SET
			similarity = EXCLUDED.similarity,
			mapping_type = EXCLUDED.mapping_type
	`
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ControlID, m.MappedControlID, m.MappedFramework, m.Similarity, m.MappingType, m.CreatedAt,
	)
	return err
}

func (s *Store) ListMappingsForControl(ctx context.Context, controlID uuid.UUID) ([]models.ControlMapping, error) {
	query := `SELECT * FROM control_mappings WHERE control_id = $1 ORDER BY similarity DESC`
	var mappings []models.ControlMapping
	err := s.db.SelectContext(ctx, &mappings, query, controlID)
	return mappings, err
}
