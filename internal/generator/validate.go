package generator

import (
	"context"
	"fmt"

	"github.com/complyer/complyer/internal/models"
)

type IssueSeverity string

const (
	SeverityCritical   IssueSeverity = "critical"
	SeverityError      IssueSeverity = "error"
	SeverityWarning    IssueSeverity = "warning"
	SeveritySuggestion IssueSeverity = "suggestion"
)

// ValidationIssue is one problem found in a candidate control. Critical
// issues block implementation; warnings and suggestions are advisory.
type ValidationIssue struct {
	ControlID string        `json:"control_id"`
	Severity  IssueSeverity `json:"severity"`
	Field     string        `json:"field"`
	Message   string        `json:"message"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues"`
}

// ValidateControls checks candidate controls against the catalog. Catalog id
// collisions and too-short ids are critical; everything else is advisory or
// a plain error.
func (s *Service) ValidateControls(ctx context.Context, controls []*models.GeneratedControl) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}
	seen := make(map[string]bool)

	for _, c := range controls {
		if len(c.ControlID) < 3 {
			result.add(c.ControlID, SeverityCritical, "control_id", "control id must be at least 3 characters")
		}

		key := c.FrameworkID + "/" + c.ControlID
		if seen[key] {
			result.add(c.ControlID, SeverityCritical, "control_id", "duplicate control id within batch")
		}
		seen[key] = true

		exists, err := s.store.ControlIDExists(ctx, c.FrameworkID, c.ControlID)
		if err != nil {
			return nil, fmt.Errorf("checking control id collision: %w", err)
		}
		if exists {
			result.add(c.ControlID, SeverityCritical, "control_id", fmt.Sprintf("control id %s already exists in framework %s", c.ControlID, c.FrameworkID))
		}

		if len(c.Title) < 10 {
			result.add(c.ControlID, SeverityError, "title", "title must be at least 10 characters")
		}

		if len(c.Description) < 30 {
			result.add(c.ControlID, SeverityWarning, "description", "description is short; reviewers may lack context")
		}
		if len(c.EvidenceTypes) == 0 {
			result.add(c.ControlID, SeverityWarning, "evidence_types", "no evidence types inferred; automated assessment will have nothing to verify")
		}
		if c.Confidence < 0.7 {
			result.add(c.ControlID, SeverityWarning, "confidence", fmt.Sprintf("low extraction confidence (%.2f)", c.Confidence))
		}

		if c.AssessmentPrompt == "" {
			result.add(c.ControlID, SeveritySuggestion, "assessment_prompt", "add an assessment prompt to improve automated scoring")
		}
	}

	return result, nil
}

func (r *ValidationResult) add(controlID string, severity IssueSeverity, field, message string) {
	r.Issues = append(r.Issues, ValidationIssue{
		ControlID: controlID,
		Severity:  severity,
		Field:     field,
		Message:   message,
	})
	if severity == SeverityCritical || severity == SeverityError {
		r.Valid = false
	}
}

// HasBlockingIssues reports whether any critical issue is present. Plain
// errors fail validation but only critical issues block implementation.
func (r *ValidationResult) HasBlockingIssues() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
