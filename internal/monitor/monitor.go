package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/complyer/complyer/internal/models"
	"github.com/complyer/complyer/internal/store"
)

// A source moves to error status after this many consecutive failed checks.
const failureThreshold = 5

var ErrSourceNotFound = errors.New("regulatory source not found")

// Fetcher retrieves the current content of a monitored source.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Analyzer turns a detected change into a structured analysis. Optional;
// when nil, updates are created in pending status for later analysis.
type Analyzer interface {
	AnalyzeChange(ctx context.Context, source *models.RegulatorySource, snippet string) (*models.UpdateAnalysis, error)
}

// Enqueuer schedules follow-up control generation for a detected update.
type Enqueuer interface {
	EnqueueGeneration(ctx context.Context, updateID uuid.UUID) error
}

// DetectedChange is one content change observed at a source.
type DetectedChange struct {
	SourceID    uuid.UUID `json:"source_id"`
	SourceName  string    `json:"source_name"`
	Snippet     string    `json:"snippet"`
	ContentHash string    `json:"content_hash"`
	DetectedAt  time.Time `json:"detected_at"`
	UpdateID    uuid.UUID `json:"update_id"`
}

// CheckStats aggregates one scheduled-check batch.
type CheckStats struct {
	Checked         int `json:"checked"`
	ChangesDetected int `json:"changes_detected"`
	Errors          int `json:"errors"`
}

// Service tracks regulatory sources and detects content changes.
type Service struct {
	store     *store.Store
	fetcher   Fetcher
	analyzer  Analyzer
	enqueuer  Enqueuer
	batchSize int
	logger    *slog.Logger
}

type Option func(*Service)

func WithAnalyzer(a Analyzer) Option {
	return func(s *Service) { s.analyzer = a }
}

func WithEnqueuer(e Enqueuer) Option {
	return func(s *Service) { s.enqueuer = e }
}

func WithBatchSize(n int) Option {
	return func(s *Service) { s.batchSize = n }
}

func NewService(st *store.Store, fetcher Fetcher, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		fetcher:   fetcher,
		batchSize: 10,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) AddSource(ctx context.Context, src *models.RegulatorySource) error {
	if src.URL == "" {
		return errors.New("source url is required")
	}
	if src.CheckFrequency == "" {
		src.CheckFrequency = models.CheckDaily
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		return fmt.Errorf("creating source: %w", err)
	}
	s.logger.Info("regulatory source added", "source_id", src.ID, "url", src.URL, "frequency", src.CheckFrequency)
	return nil
}

func (s *Service) ListSources(ctx context.Context, status *models.SourceStatus, jurisdiction *string) ([]models.RegulatorySource, error) {
	return s.store.ListSources(ctx, status, jurisdiction)
}

func (s *Service) PauseSource(ctx context.Context, id uuid.UUID) error {
	return s.store.UpdateSourceStatus(ctx, id, models.SourceStatusPaused)
}

func (s *Service) ResumeSource(ctx context.Context, id uuid.UUID) error {
	return s.store.UpdateSourceStatus(ctx, id, models.SourceStatusActive)
}

// CheckForUpdates fetches a source, hashes its content, and records a
// regulatory update when the hash differs from the last observed one.
// Fetch failures are booked against the source health counter before the
// error is returned, so batch callers keep accurate failure state.
func (s *Service) CheckForUpdates(ctx context.Context, sourceID uuid.UUID) ([]DetectedChange, error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}
	if src == nil {
		return nil, ErrSourceNotFound
	}

	content, err := s.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		failures, recErr := s.store.RecordSourceFailure(ctx, src.ID, failureThreshold)
		if recErr != nil {
			s.logger.Error("failed to record source failure", "source_id", src.ID, "error", recErr)
		} else if failures >= failureThreshold {
			s.logger.Warn("source moved to error status", "source_id", src.ID, "consecutive_failures", failures)
		}
		return nil, fmt.Errorf("fetching %s: %w", src.URL, err)
	}

	hash := contentHash(content)
	changed := src.LastContentHash != "" && src.LastContentHash != hash
	firstCheck := src.LastContentHash == ""

	if err := s.store.RecordSourceCheck(ctx, src.ID, hash, changed); err != nil {
		return nil, fmt.Errorf("recording check: %w", err)
	}

	if firstCheck || !changed {
		return nil, nil
	}

	change := DetectedChange{
		SourceID:    src.ID,
		SourceName:  src.Name,
		Snippet:     snippet(content, 500),
		ContentHash: hash,
		DetectedAt:  time.Now(),
	}

	update, err := s.recordUpdate(ctx, src, change)
	if err != nil {
		return nil, err
	}
	change.UpdateID = update.ID

	s.logger.Info("regulatory change detected",
		"source_id", src.ID,
		"update_id", update.ID,
		"impact", update.ImpactLevel)

	return []DetectedChange{change}, nil
}

func (s *Service) recordUpdate(ctx context.Context, src *models.RegulatorySource, change DetectedChange) (*models.RegulatoryUpdate, error) {
	update := &models.RegulatoryUpdate{
		SourceID:    src.ID,
		Title:       fmt.Sprintf("Change detected at %s", src.Name),
		Snippet:     change.Snippet,
		UpdateType:  classifyUpdateType(change.Snippet),
		ImpactLevel: classifyImpact(change.Snippet, src),
		Status:      models.UpdateStatusPending,
	}

	if s.analyzer != nil {
		analysis, err := s.analyzer.AnalyzeChange(ctx, src, change.Snippet)
		if err != nil {
			s.logger.Warn("change analysis failed, update stays pending", "source_id", src.ID, "error", err)
		} else if analysis != nil {
			update.Analysis = *analysis
			update.Status = models.UpdateStatusAnalyzed
		}
	}

	if err := s.store.CreateUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("creating update: %w", err)
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueGeneration(ctx, update.ID); err != nil {
			s.logger.Warn("failed to enqueue control generation", "update_id", update.ID, "error", err)
		}
	}

	return update, nil
}

// RunScheduledChecks processes up to batchSize due sources. Per-source
// failures are counted, not propagated, so one bad source cannot stall the
// batch.
func (s *Service) RunScheduledChecks(ctx context.Context) (*CheckStats, error) {
	sources, err := s.store.ListDueSources(ctx, time.Now(), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("listing due sources: %w", err)
	}

	stats := &CheckStats{}
	for i := range sources {
		src := &sources[i]
		changes, err := s.CheckForUpdates(ctx, src.ID)
		stats.Checked++
		if err != nil {
			stats.Errors++
			s.logger.Error("source check failed", "source_id", src.ID, "error", err)
			continue
		}
		stats.ChangesDetected += len(changes)
	}

	s.logger.Info("scheduled checks complete",
		"checked", stats.Checked,
		"changes", stats.ChangesDetected,
		"errors", stats.Errors)

	return stats, nil
}

func (s *Service) ListUpdates(ctx context.Context, filters store.ListUpdateFilters) ([]models.RegulatoryUpdate, int, error) {
	return s.store.ListUpdates(ctx, filters)
}

func (s *Service) MarkImplemented(ctx context.Context, updateID uuid.UUID, controlIDs []string) error {
	update, err := s.store.GetUpdate(ctx, updateID)
	if err != nil {
		return fmt.Errorf("loading update: %w", err)
	}
	if update == nil {
		return errors.New("regulatory update not found")
	}
	if err := s.store.MarkUpdateImplemented(ctx, updateID, controlIDs); err != nil {
		return fmt.Errorf("marking update implemented: %w", err)
	}
	return nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func snippet(content string, max int) string {
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	return content[:max]
}

// classifyUpdateType is the heuristic used when no analyzer is configured.
func classifyUpdateType(text string) models.UpdateType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "repeal"):
		return models.UpdateRepeal
	case strings.Contains(lower, "amendment") || strings.Contains(lower, "amended"):
		return models.UpdateAmendment
	case strings.Contains(lower, "enforcement") || strings.Contains(lower, "penalty") || strings.Contains(lower, "fine"):
		return models.UpdateEnforcement
	case strings.Contains(lower, "deadline") || strings.Contains(lower, "effective date"):
		return models.UpdateDeadline
	case strings.Contains(lower, "regulation") || strings.Contains(lower, "directive") || strings.Contains(lower, "act "):
		return models.UpdateNewFramework
	default:
		return models.UpdateGuidance
	}
}

func classifyImpact(text string, src *models.RegulatorySource) models.ImpactLevel {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "immediate") || strings.Contains(lower, "mandatory"):
		return models.ImpactCritical
	case strings.Contains(lower, "must") || strings.Contains(lower, "shall") || strings.Contains(lower, "required"):
		return models.ImpactHigh
	case strings.Contains(lower, "should") || strings.Contains(lower, "recommended"):
		return models.ImpactMedium
	case len(src.RelatedFrameworks) > 0:
		return models.ImpactLow
	default:
		return models.ImpactInformational
	}
}

// HTTPFetcher is the default Fetcher backed by net/http.
type HTTPFetcher struct {
	client  *http.Client
	maxSize int64
}

func NewHTTPFetcher(timeout time.Duration, maxSize int64) *HTTPFetcher {
	if maxSize == 0 {
		maxSize = 5 * 1024 * 1024
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		maxSize: maxSize,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "complyer-monitor/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize))
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(body), nil
}
