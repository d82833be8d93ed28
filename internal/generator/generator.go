package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/complyer/complyer/internal/models"
	"github.com/complyer/complyer/internal/store"
)

var (
	ErrControlNotFound = errors.New("control not found")
	ErrUpdateNotFound  = errors.New("regulatory update not found")
)

type GenerationStatus string

const (
	GenerationCompleted GenerationStatus = "completed"
	GenerationPartial   GenerationStatus = "partial"
)

// GenerationError is a recoverable per-section failure. The batch continues
// past it.
type GenerationError struct {
	Section string `json:"section"`
	Message string `json:"message"`
}

// GenerationResult is the outcome of one generation run.
type GenerationResult struct {
	Status        GenerationStatus          `json:"status"`
	FrameworkID   string                    `json:"framework_id"`
	FrameworkName string                    `json:"framework_name"`
	Sections      int                       `json:"sections"`
	Requirements  int                       `json:"requirements"`
	Controls      []*models.GeneratedControl `json:"controls"`
	Errors        []GenerationError         `json:"errors,omitempty"`
}

// ExistingControlMapping is one cross-framework similarity hit.
type ExistingControlMapping struct {
	MappedControlID uuid.UUID          `json:"mapped_control_id"`
	MappedControl   string             `json:"mapped_control"`
	MappedFramework string             `json:"mapped_framework"`
	Similarity      float64            `json:"similarity"`
	MappingType     models.MappingType `json:"mapping_type"`
}

// Service synthesizes candidate controls from regulatory text.
type Service struct {
	store      *store.Store
	classifier TextClassifier
	scorer     SimilarityScorer
	logger     *slog.Logger
}

type Option func(*Service)

// WithClassifier swaps the extraction strategy (e.g. for an LLM-backed one).
func WithClassifier(c TextClassifier) Option {
	return func(s *Service) { s.classifier = c }
}

func WithScorer(sc SimilarityScorer) Option {
	return func(s *Service) { s.scorer = sc }
}

func NewService(st *store.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:      st,
		classifier: NewPatternClassifier(),
		scorer:     NewTokenOverlapScorer(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateControlsFromText runs the full pipeline: segment, extract,
// synthesize, persist. Per-section failures are recorded and skipped; an
// empty or unusable document degrades to a partial result with zero
// controls rather than an error.
func (s *Service) GenerateControlsFromText(ctx context.Context, text, frameworkID, frameworkName string) (*GenerationResult, error) {
	result := &GenerationResult{
		Status:        GenerationCompleted,
		FrameworkID:   frameworkID,
		FrameworkName: frameworkName,
	}

	sections := s.classifier.Segment(text)
	result.Sections = len(sections)
	if len(sections) == 0 {
		result.Status = GenerationPartial
		result.Errors = append(result.Errors, GenerationError{
			Section: "document",
			Message: "no usable content in document",
		})
		return result, nil
	}

	seq := 1
	for _, section := range sections {
		requirements, err := s.extractSection(section)
		if err != nil {
			result.Errors = append(result.Errors, GenerationError{
				Section: section.Heading,
				Message: err.Error(),
			})
			result.Status = GenerationPartial
			continue
		}
		result.Requirements += len(requirements)

		for _, req := range requirements {
			control := synthesizeControl(req, frameworkID, seq)
			seq++

			// Skip ids already taken in the catalog rather than failing the
			// whole run; validation reports the collision to the caller.
			exists, err := s.store.ControlIDExists(ctx, frameworkID, control.ControlID)
			if err != nil {
				return nil, fmt.Errorf("checking control id: %w", err)
			}
			for exists {
				seq++
				control.ControlID = synthesizeControl(req, frameworkID, seq).ControlID
				exists, err = s.store.ControlIDExists(ctx, frameworkID, control.ControlID)
				if err != nil {
					return nil, fmt.Errorf("checking control id: %w", err)
				}
			}

			if err := s.store.CreateControl(ctx, control); err != nil {
				return nil, fmt.Errorf("persisting control %s: %w", control.ControlID, err)
			}
			result.Controls = append(result.Controls, control)
		}
	}

	s.logger.Info("control generation complete",
		"framework_id", frameworkID,
		"sections", result.Sections,
		"requirements", result.Requirements,
		"controls", len(result.Controls),
		"status", result.Status)

	return result, nil
}

func (s *Service) extractSection(section Section) (reqs []Requirement, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()
	return s.classifier.ExtractRequirements(section), nil
}

// GenerateControlsFromUpdate reuses the synthesis step against an update's
// extracted-requirements payload instead of raw text. Falls back to the
// update snippet when no analysis has been attached yet.
func (s *Service) GenerateControlsFromUpdate(ctx context.Context, updateID uuid.UUID) (*GenerationResult, error) {
	update, err := s.store.GetUpdate(ctx, updateID)
	if err != nil {
		return nil, fmt.Errorf("loading update: %w", err)
	}
	if update == nil {
		return nil, ErrUpdateNotFound
	}

	frameworkID := "reg-update-" + update.ID.String()[:8]
	if len(update.Analysis.AffectedFrameworks) > 0 {
		frameworkID = update.Analysis.AffectedFrameworks[0]
	}

	var result *GenerationResult
	if len(update.Analysis.ExtractedRequirements) > 0 {
		result = &GenerationResult{
			Status:      GenerationCompleted,
			FrameworkID: frameworkID,
			Sections:    1,
		}
		seq := 1
		for _, reqText := range update.Analysis.ExtractedRequirements {
			if len(reqText) < minRequirementLength {
				continue
			}
			req := Requirement{
				Text:        reqText,
				Section:     update.Title,
				Modal:       modalRe.MatchString(reqText),
				HasCitation: citationRe.MatchString(reqText),
			}
			control := synthesizeControl(req, frameworkID, seq)
			control.SourceUpdateID = &update.ID
			seq++
			if err := s.store.CreateControl(ctx, control); err != nil {
				return nil, fmt.Errorf("persisting control: %w", err)
			}
			result.Controls = append(result.Controls, control)
			result.Requirements++
		}
	} else {
		result, err = s.GenerateControlsFromText(ctx, update.Snippet, frameworkID, update.Title)
		if err != nil {
			return nil, err
		}
		for _, c := range result.Controls {
			c.SourceUpdateID = &update.ID
		}
	}

	if len(result.Controls) > 0 {
		if err := s.store.UpdateUpdateStatus(ctx, update.ID, models.UpdateStatusImplementing); err != nil {
			s.logger.Warn("failed to advance update status", "update_id", update.ID, "error", err)
		}
	}

	return result, nil
}

// ImplementControls transitions approved controls to implemented and
// computes their cross-framework mappings. Implementing a control that is
// not approved (including one already implemented) is an error.
func (s *Service) ImplementControls(ctx context.Context, controlIDs []uuid.UUID, reviewer string) error {
	for _, id := range controlIDs {
		control, err := s.store.GetControl(ctx, id)
		if err != nil {
			return fmt.Errorf("loading control %s: %w", id, err)
		}
		if control == nil {
			return ErrControlNotFound
		}

		ok, err := s.store.ImplementControl(ctx, id, reviewer)
		if err != nil {
			return fmt.Errorf("implementing control %s: %w", control.ControlID, err)
		}
		if !ok {
			return fmt.Errorf("control %s cannot be implemented from status %s", control.ControlID, control.Status)
		}

		if _, err := s.MapToExistingControls(ctx, id); err != nil {
			s.logger.Warn("cross-framework mapping failed", "control_id", id, "error", err)
		}

		s.logger.Info("control implemented", "control_id", control.ControlID, "reviewer", reviewer)
	}
	return nil
}

// MapToExistingControls computes similarity against every implemented
// control in other frameworks and persists mappings at or above the
// threshold.
func (s *Service) MapToExistingControls(ctx context.Context, controlID uuid.UUID) ([]ExistingControlMapping, error) {
	control, err := s.store.GetControl(ctx, controlID)
	if err != nil {
		return nil, fmt.Errorf("loading control: %w", err)
	}
	if control == nil {
		return nil, ErrControlNotFound
	}

	candidates, err := s.store.ListActiveControlsExcludingFramework(ctx, control.FrameworkID)
	if err != nil {
		return nil, fmt.Errorf("listing catalog controls: %w", err)
	}

	var mappings []ExistingControlMapping
	for i := range candidates {
		candidate := &candidates[i]
		similarity := s.scorer.Score(control, candidate)
		if similarity < mappingThreshold {
			continue
		}

		mapping := ExistingControlMapping{
			MappedControlID: candidate.ID,
			MappedControl:   candidate.ControlID,
			MappedFramework: candidate.FrameworkID,
			Similarity:      similarity,
			MappingType:     mappingTypeFor(similarity),
		}
		mappings = append(mappings, mapping)

		if err := s.store.CreateMapping(ctx, &models.ControlMapping{
			ControlID:       control.ID,
			MappedControlID: candidate.ID,
			MappedFramework: candidate.FrameworkID,
			Similarity:      similarity,
			MappingType:     mapping.MappingType,
		}); err != nil {
			return nil, fmt.Errorf("persisting mapping: %w", err)
		}
	}

	return mappings, nil
}

// ApproveControls moves generated or pending-review controls to approved.
func (s *Service) ApproveControls(ctx context.Context, controlIDs []uuid.UUID) error {
	for _, id := range controlIDs {
		control, err := s.store.GetControl(ctx, id)
		if err != nil {
			return fmt.Errorf("loading control %s: %w", id, err)
		}
		if control == nil {
			return ErrControlNotFound
		}
		if control.Status != models.ControlStatusGenerated && control.Status != models.ControlStatusPendingReview {
			return fmt.Errorf("control %s cannot be approved from status %s", control.ControlID, control.Status)
		}
		if err := s.store.UpdateControlStatus(ctx, id, models.ControlStatusApproved); err != nil {
			return fmt.Errorf("approving control: %w", err)
		}
	}
	return nil
}
