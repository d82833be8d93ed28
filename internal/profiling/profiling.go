package profiling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/complyer/complyer/internal/models"
	"github.com/complyer/complyer/internal/store"
)

var (
	ErrProfileNotFound   = errors.New("profile not found")
	ErrProfileExists     = errors.New("profile already exists for tenant")
	ErrFrameworkNotFound = errors.New("framework not found")
)

// Service evaluates framework applicability for tenant entity profiles.
type Service struct {
	store  *store.Store
	rules  []ApplicabilityRule
	logger *slog.Logger
}

func NewService(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		rules:  BuiltinRules(),
		logger: logger,
	}
}

func (s *Service) CreateProfile(ctx context.Context, p *models.EntityProfile) error {
	existing, err := s.store.GetProfileByTenant(ctx, p.TenantID)
	if err != nil {
		return fmt.Errorf("checking existing profile: %w", err)
	}
	if existing != nil {
		return ErrProfileExists
	}

	if err := s.store.CreateProfile(ctx, p); err != nil {
		return fmt.Errorf("creating profile: %w", err)
	}

	s.logger.Info("entity profile created", "tenant_id", p.TenantID, "industry", p.Industry)
	return nil
}

func (s *Service) UpdateProfile(ctx context.Context, p *models.EntityProfile) error {
	existing, err := s.store.GetProfileByTenant(ctx, p.TenantID)
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}
	if existing == nil {
		return ErrProfileNotFound
	}

	if err := s.store.UpdateProfile(ctx, p); err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	return nil
}

func (s *Service) GetProfile(ctx context.Context, tenantID uuid.UUID) (*models.EntityProfile, error) {
	profile, err := s.store.GetProfileByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}
	return profile, nil
}

// DiscoverFrameworks scores every known framework (built-in rules plus the
// shared discovered-framework catalog) against the tenant profile and returns
// ranked suggestions. Frameworks the profile already lists are skipped.
func (s *Service) DiscoverFrameworks(ctx context.Context, tenantID uuid.UUID) ([]models.FrameworkSuggestion, error) {
	profile, err := s.GetProfile(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(profile.ApplicableFrameworks))
	for _, id := range profile.ApplicableFrameworks {
		applied[id] = true
	}

	var suggestions []models.FrameworkSuggestion

	for _, rule := range s.rules {
		if applied[rule.FrameworkID] {
			continue
		}
		assessment := Evaluate(rule, profile)
		if assessment.Score < 0.5 {
			continue
		}
		suggestions = append(suggestions, models.FrameworkSuggestion{
			FrameworkID:    rule.FrameworkID,
			FrameworkName:  rule.FrameworkName,
			Category:       rule.Category,
			RelevanceScore: assessment.Score,
			Priority:       assessment.Priority,
			Reasons:        satisfiedReasons(assessment),
			IsNew:          false,
		})
	}

	discovered, err := s.store.ListDiscoveredFrameworks(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing discovered frameworks: %w", err)
	}
	for i := range discovered {
		f := &discovered[i]
		if f.Status == models.DiscoveryStatusRejected || applied[f.ID.String()] {
			continue
		}
		score, reasons := HeuristicScore(f, profile)
		if score < 0.5 {
			continue
		}
		suggestions = append(suggestions, models.FrameworkSuggestion{
			FrameworkID:    f.ID.String(),
			FrameworkName:  f.Name,
			Category:       f.Category,
			RelevanceScore: score,
			Priority:       models.PriorityForScore(score),
			Reasons:        reasons,
			IsNew:          true,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].RelevanceScore > suggestions[j].RelevanceScore
	})

	if err := s.store.TouchFrameworkScan(ctx, tenantID); err != nil {
		s.logger.Warn("failed to record framework scan time", "tenant_id", tenantID, "error", err)
	}

	s.logger.Info("framework discovery complete",
		"tenant_id", tenantID,
		"suggestions", len(suggestions))

	return suggestions, nil
}

// AnalyzeRelevance computes the full assessment for one framework, using the
// built-in rule set when modeled and the category heuristic otherwise.
func (s *Service) AnalyzeRelevance(ctx context.Context, tenantID uuid.UUID, frameworkID string) (*RelevanceAssessment, error) {
	profile, err := s.GetProfile(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	for _, rule := range s.rules {
		if rule.FrameworkID == frameworkID {
			assessment := Evaluate(rule, profile)
			return &assessment, nil
		}
	}

	if id, parseErr := uuid.Parse(frameworkID); parseErr == nil {
		f, err := s.store.GetDiscoveredFramework(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading discovered framework: %w", err)
		}
		if f != nil {
			score, reasons := HeuristicScore(f, profile)
			return &RelevanceAssessment{
				FrameworkID:   frameworkID,
				FrameworkName: f.Name,
				Score:         score,
				Priority:      models.PriorityForScore(score),
				Rationale:     fmt.Sprintf("%s scored %.2f: %s", f.Name, score, strings.Join(reasons, "; ")),
			}, nil
		}
	}

	return nil, ErrFrameworkNotFound
}

// AcceptSuggestion adds a framework to the tenant's applicable list. For
// discovered frameworks it also advances the discovery lifecycle.
func (s *Service) AcceptSuggestion(ctx context.Context, tenantID uuid.UUID, frameworkID string) error {
	profile, err := s.GetProfile(ctx, tenantID)
	if err != nil {
		return err
	}

	for _, id := range profile.ApplicableFrameworks {
		if id == frameworkID {
			return nil
		}
	}

	if id, parseErr := uuid.Parse(frameworkID); parseErr == nil {
		f, err := s.store.GetDiscoveredFramework(ctx, id)
		if err != nil {
			return fmt.Errorf("loading discovered framework: %w", err)
		}
		if f != nil && f.Status == models.DiscoveryStatusDiscovered {
			if err := s.store.UpdateDiscoveryStatus(ctx, id, models.DiscoveryStatusAnalyzing, nil); err != nil {
				return fmt.Errorf("advancing discovery status: %w", err)
			}
		}
	} else if !s.isBuiltinFramework(frameworkID) {
		return ErrFrameworkNotFound
	}

	profile.ApplicableFrameworks = append(profile.ApplicableFrameworks, frameworkID)
	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}

	s.logger.Info("framework suggestion accepted", "tenant_id", tenantID, "framework_id", frameworkID)
	return nil
}

// RejectSuggestion marks a discovered framework as rejected. Rejection is
// terminal except for frameworks that already went active.
func (s *Service) RejectSuggestion(ctx context.Context, tenantID uuid.UUID, frameworkID string) error {
	if id, parseErr := uuid.Parse(frameworkID); parseErr == nil {
		f, err := s.store.GetDiscoveredFramework(ctx, id)
		if err != nil {
			return fmt.Errorf("loading discovered framework: %w", err)
		}
		if f == nil {
			return ErrFrameworkNotFound
		}
		if f.Status == models.DiscoveryStatusActive {
			return fmt.Errorf("framework %s is already active and cannot be rejected", f.Name)
		}
		if err := s.store.UpdateDiscoveryStatus(ctx, id, models.DiscoveryStatusRejected, nil); err != nil {
			return fmt.Errorf("rejecting framework: %w", err)
		}
		s.logger.Info("framework suggestion rejected", "tenant_id", tenantID, "framework_id", frameworkID)
		return nil
	}

	if !s.isBuiltinFramework(frameworkID) {
		return ErrFrameworkNotFound
	}
	// Built-in frameworks are never removed from the catalog; rejection just
	// leaves them off the tenant's applicable list.
	return nil
}

func (s *Service) isBuiltinFramework(frameworkID string) bool {
	for _, rule := range s.rules {
		if rule.FrameworkID == frameworkID {
			return true
		}
	}
	return false
}

func satisfiedReasons(a RelevanceAssessment) []string {
	var reasons []string
	for _, cr := range a.Conditions {
		if cr.Satisfied {
			reasons = append(reasons, cr.Condition.Description)
		}
	}
	return reasons
}
