// Package api exposes the compliance pipeline over HTTP and is the
// composition root where every service is constructed and wired.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/complyer/complyer/internal/ai"
	"github.com/complyer/complyer/internal/assessor"
	"github.com/complyer/complyer/internal/auth"
	"github.com/complyer/complyer/internal/config"
	"github.com/complyer/complyer/internal/generator"
	"github.com/complyer/complyer/internal/learning"
	"github.com/complyer/complyer/internal/models"
	"github.com/complyer/complyer/internal/monitor"
	"github.com/complyer/complyer/internal/notifications"
	"github.com/complyer/complyer/internal/profiling"
	"github.com/complyer/complyer/internal/queue"
	"github.com/complyer/complyer/internal/reports"
	"github.com/complyer/complyer/internal/scheduler"
	"github.com/complyer/complyer/internal/store"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	authService *auth.Service
	userStore   auth.UserStore

	profiling *profiling.Service
	monitor   *monitor.Service
	generator *generator.Service
	assessor  *assessor.Service
	learning  *learning.Service

	queue *queue.Queue

	scheduler      *scheduler.Scheduler
	schedulerStore scheduler.Store

	reportGenerator *reports.Generator

	notificationService *notifications.Service
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		store:  st,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	// The generation queue is optional: without redis, detected updates stay
	// pending and can be generated synchronously through the API.
	q, err := queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		s.logger.Warn("generation queue unavailable, async generation disabled", "error", err)
	} else {
		s.queue = q
	}

	s.profiling = profiling.NewService(st, s.logger)

	monitorOpts := []monitor.Option{monitor.WithBatchSize(cfg.Monitor.BatchSize)}
	if cfg.AI.Enabled() {
		monitorOpts = append(monitorOpts, monitor.WithAnalyzer(ai.NewClient(cfg.AI.APIKey, cfg.AI.Model)))
	}
	if s.queue != nil {
		monitorOpts = append(monitorOpts, monitor.WithEnqueuer(s.queue))
	}
	fetcher := monitor.NewHTTPFetcher(cfg.Monitor.FetchTimeout, cfg.Monitor.MaxContentSize)
	s.monitor = monitor.NewService(st, fetcher, s.logger, monitorOpts...)

	s.generator = generator.NewService(st, s.logger)
	s.assessor = assessor.NewService(st, assessor.Config{
		BatchSize:          cfg.Assessor.BatchSize,
		EvidenceWindowDays: cfg.Assessor.EvidenceWindowDays,
	}, s.logger)
	s.learning = learning.NewService(st, cfg.Assessor.FeedbackBatchSize, s.logger)

	s.notificationService = notifications.NewService(notifications.Config{
		Slack: notifications.SlackConfig{
			WebhookURL: cfg.Notifications.Slack.WebhookURL,
			Channel:    cfg.Notifications.Slack.Channel,
			Username:   "Complyer",
			IconEmoji:  ":scales:",
			Enabled:    cfg.Notifications.Slack.Enabled,
			MinImpact:  cfg.Notifications.MinImpact,
		},
		Email: notifications.EmailConfig{
			SMTPHost:  cfg.Notifications.Email.SMTPHost,
			SMTPPort:  cfg.Notifications.Email.SMTPPort,
			Username:  cfg.Notifications.Email.Username,
			Password:  cfg.Notifications.Email.Password,
			From:      cfg.Notifications.Email.From,
			To:        cfg.Notifications.Email.To,
			Enabled:   cfg.Notifications.Email.Enabled,
			MinImpact: cfg.Notifications.MinImpact,
		},
	}, s.logger)

	// Scheduled runs alert on failure; interactive runs surface errors to the
	// caller directly.
	s.assessor.SetFailureNotifier(s.notificationService)

	s.reportGenerator = reports.NewGenerator(&reportDataProvider{store: st})

	s.schedulerStore = scheduler.NewPostgresStore(st.DB())
	s.scheduler = scheduler.New(s.schedulerStore, s.logger)
	s.registerPipelineJobs()

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) registerPipelineJobs() {
	handlers := &scheduler.PipelineHandlers{
		CheckSourcesFunc: func(ctx context.Context) (int, int, int, error) {
			stats, err := s.monitor.RunScheduledChecks(ctx)
			if err != nil {
				return 0, 0, 0, err
			}
			return stats.Checked, stats.ChangesDetected, stats.Errors, nil
		},
		AssessFunc: func(ctx context.Context) (int, int, int, error) {
			stats, err := s.assessor.RunScheduledAssessments(ctx)
			if err != nil {
				return 0, 0, 0, err
			}
			return stats.Executed, stats.Succeeded, stats.Failed, nil
		},
		FeedbackFunc: func(ctx context.Context) (int, int, error) {
			stats, err := s.learning.ProcessFeedback(ctx)
			if err != nil {
				return 0, 0, err
			}
			return stats.Processed, stats.Applied, nil
		},
		DigestFunc: func(ctx context.Context) (int, int, int, error) {
			flagged, err := s.store.CountFlaggedFindings(ctx, time.Now().AddDate(0, 0, -7))
			if err != nil {
				return 0, 0, 0, fmt.Errorf("counting flagged findings: %w", err)
			}
			fb, err := s.store.GetFeedbackStats(ctx, nil)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("loading feedback stats: %w", err)
			}
			drafts, err := s.store.CountControlsByStatus(ctx, []models.ControlStatus{
				models.ControlStatusGenerated, models.ControlStatusPendingReview,
			})
			if err != nil {
				return 0, 0, 0, fmt.Errorf("counting unapproved controls: %w", err)
			}

			if err := s.notificationService.NotifyReviewBacklog(ctx, notifications.DigestStats{
				Period:          "weekly",
				PendingFeedback: fb.Pending,
				FlaggedFindings: flagged,
				DraftControls:   drafts,
				AppliedChanges:  fb.Applied,
			}); err != nil {
				s.logger.Warn("review digest notification", "error", err)
			}
			return flagged, fb.Pending, drafts, nil
		},
		ReportFunc: func(ctx context.Context, jobConfig map[string]string) (string, error) {
			tenantID, err := uuid.Parse(jobConfig["tenant_id"])
			if err != nil {
				return "", fmt.Errorf("job config tenant_id: %w", err)
			}
			report, err := s.reportGenerator.Generate(ctx, &reports.ReportRequest{
				Type:     reports.ReportTypeExecutive,
				Format:   reports.FormatPDF,
				Title:    "Compliance Posture Summary",
				TenantID: tenantID,
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("generated %s (%d bytes)", report.Filename, len(report.Data)), nil
		},
	}
	handlers.Register(s.scheduler)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
			})

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", s.getProfile)
				r.Put("/", s.upsertProfile)
				r.Post("/discover", s.discoverFrameworks)
				r.Get("/frameworks/{frameworkID}/relevance", s.analyzeRelevance)
				r.Post("/frameworks/{frameworkID}/accept", s.acceptSuggestion)
				r.Post("/frameworks/{frameworkID}/reject", s.rejectSuggestion)
			})

			r.Route("/sources", func(r chi.Router) {
				r.Get("/", s.listSources)
				r.Post("/", s.createSource)
				r.Post("/{sourceID}/check", s.checkSource)
				r.Post("/{sourceID}/pause", s.pauseSource)
				r.Post("/{sourceID}/resume", s.resumeSource)
			})

			r.Route("/updates", func(r chi.Router) {
				r.Get("/", s.listUpdates)
				r.Get("/{updateID}", s.getUpdate)
				r.Post("/{updateID}/generate", s.generateFromUpdate)
			})

			r.Route("/controls", func(r chi.Router) {
				r.Get("/", s.listControls)
				r.Post("/generate", s.generateFromText)
				r.Post("/validate", s.validateControls)
				r.Post("/approve", s.approveControls)
				r.Post("/implement", s.implementControls)
				r.Get("/{controlID}/mappings", s.getControlMappings)
				r.Post("/{controlID}/map", s.mapControl)
			})

			r.Route("/assessments", func(r chi.Router) {
				r.Get("/schedules", s.listSchedules)
				r.Post("/schedules", s.createSchedule)
				r.Patch("/schedules/{scheduleID}", s.setScheduleActive)
				r.Post("/run", s.runAssessment)
				r.Get("/results", s.listResults)
				r.Get("/results/{resultID}", s.getResult)
			})

			r.Route("/evidence", func(r chi.Router) {
				r.Post("/", s.createEvidence)
			})

			r.Route("/learning", func(r chi.Router) {
				r.Post("/feedback", s.submitFeedback)
				r.Post("/process", s.processFeedback)
				r.Get("/metrics", s.getLearningMetrics)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/", s.listScheduledJobs)
				r.Post("/{jobID}/run", s.runScheduledJobNow)
				r.Get("/{jobID}/executions", s.getJobExecutions)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Post("/generate", s.generateReport)
				r.Get("/stream", s.streamCSVReport)
			})

			r.Get("/queue/status", s.getQueueStatus)
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduler.EnsureDefaultJobs(ctx); err != nil {
		s.logger.Error("failed to seed default jobs", "error", err)
	}
	if err := s.scheduler.Start(ctx); err != nil {
		s.logger.Error("failed to start scheduler", "error", err)
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		if s.queue != nil {
			_ = s.queue.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type reportDataProvider struct {
	store *store.Store
}

func (p *reportDataProvider) GetAssessment(ctx context.Context, tenantID, resultID uuid.UUID) (*reports.ReportAssessment, error) {
	result, err := p.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result == nil || result.TenantID != tenantID {
		return nil, fmt.Errorf("assessment result not found")
	}

	assessment := &reports.ReportAssessment{
		ID:           result.ID,
		FrameworkID:  result.FrameworkID,
		OverallScore: result.OverallScore,
		Compliant:    result.CompliantCount,
		Partial:      result.PartialCount,
		NonCompliant: result.NonCompliantCount,
		ExecutedAt:   result.ExecutedAt,
	}

	for _, f := range result.Findings {
		title := ""
		if control, err := p.store.GetControl(ctx, f.ControlID); err == nil && control != nil {
			title = control.Title
		}
		assessment.Findings = append(assessment.Findings, reports.ReportFinding{
			ControlRef:     f.ControlRef,
			Title:          title,
			Rating:         string(f.Rating),
			PreviousRating: string(f.PreviousRating),
			Confidence:     f.Confidence,
			EvidenceCount:  f.EvidenceCount,
			VerifiedCount:  f.VerifiedCount,
			RequiresReview: f.RequiresReview,
			Rationale:      f.Rationale,
		})
	}

	return assessment, nil
}

func (p *reportDataProvider) GetControls(ctx context.Context, frameworkID string) ([]reports.ReportControl, error) {
	controls, err := p.store.ListControlsByFramework(ctx, frameworkID, nil)
	if err != nil {
		return nil, err
	}

	result := make([]reports.ReportControl, len(controls))
	for i, c := range controls {
		result[i] = reports.ReportControl{
			ControlID:   c.ControlID,
			Title:       c.Title,
			FrameworkID: c.FrameworkID,
			Category:    string(c.Category),
			Type:        string(c.ControlType),
			Status:      string(c.Status),
			Difficulty:  string(c.Difficulty),
			Confidence:  c.Confidence,
			CreatedAt:   c.CreatedAt,
		}
	}
	return result, nil
}

func (p *reportDataProvider) GetUpdates(ctx context.Context, from, to *time.Time) ([]reports.ReportUpdate, error) {
	updates, _, err := p.store.ListUpdates(ctx, store.ListUpdateFilters{Limit: 10000})
	if err != nil {
		return nil, err
	}

	sourceNames := map[uuid.UUID]string{}
	var result []reports.ReportUpdate
	for _, u := range updates {
		if from != nil && u.DetectedAt.Before(*from) {
			continue
		}
		if to != nil && u.DetectedAt.After(*to) {
			continue
		}

		name, ok := sourceNames[u.SourceID]
		if !ok {
			if src, err := p.store.GetSource(ctx, u.SourceID); err == nil && src != nil {
				name = src.Name
			}
			sourceNames[u.SourceID] = name
		}

		result = append(result, reports.ReportUpdate{
			SourceName:  name,
			Title:       u.Title,
			UpdateType:  string(u.UpdateType),
			ImpactLevel: string(u.ImpactLevel),
			Status:      string(u.Status),
			DetectedAt:  u.DetectedAt,
		})
	}
	return result, nil
}

// awaitingApproval reports whether a control still needs reviewer action
// before it can be implemented.
func awaitingApproval(status models.ControlStatus) bool {
	return status == models.ControlStatusGenerated || status == models.ControlStatusPendingReview
}

func (p *reportDataProvider) GetPostureStats(ctx context.Context, tenantID uuid.UUID) (*reports.PostureStats, error) {
	stats := &reports.PostureStats{
		LatestScores: make(map[string]float64),
	}

	profile, err := p.store.GetProfileByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return stats, nil
	}

	stats.Frameworks = len(profile.ApplicableFrameworks)
	for _, fw := range profile.ApplicableFrameworks {
		controls, err := p.store.ListControlsByFramework(ctx, fw, nil)
		if err != nil {
			continue
		}
		stats.TotalControls += len(controls)
		for _, c := range controls {
			switch {
			case c.Status == models.ControlStatusImplemented:
				stats.ImplementedCount++
			case awaitingApproval(c.Status):
				stats.PendingCount++
			}
		}

		fwID := fw
		results, err := p.store.ListResults(ctx, tenantID, &fwID, 1)
		if err == nil && len(results) > 0 {
			stats.LatestScores[fw] = results[0].OverallScore
		}
	}

	cutoff := time.Now().AddDate(0, 0, -30)
	updates, _, err := p.store.ListUpdates(ctx, store.ListUpdateFilters{Limit: 10000})
	if err == nil {
		for _, u := range updates {
			if u.DetectedAt.Before(cutoff) {
				continue
			}
			stats.UpdatesLast30Days++
			if u.ImpactLevel == models.ImpactCritical {
				stats.CriticalUpdates++
			}
		}
	}

	fb, err := p.store.GetFeedbackStats(ctx, &tenantID)
	if err == nil {
		stats.PendingFeedback = fb.Pending
	}

	return stats, nil
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
