package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/complyer/complyer/internal/assessor"
	"github.com/complyer/complyer/internal/auth"
	"github.com/complyer/complyer/internal/generator"
	"github.com/complyer/complyer/internal/learning"
	"github.com/complyer/complyer/internal/models"
	"github.com/complyer/complyer/internal/monitor"
	"github.com/complyer/complyer/internal/profiling"
	"github.com/complyer/complyer/internal/reports"
	"github.com/complyer/complyer/internal/store"
)

// --- auth ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	tokens, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	tokens, err := s.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired refresh token")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.UserFromContext(r.Context())

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.RefreshToken != "" {
		_ = s.authService.Logout(r.Context(), claims.UserID, req.RefreshToken)
	} else {
		_ = s.authService.LogoutAll(r.Context(), claims.UserID)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	user, err := s.userStore.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	users, err := s.userStore.ListUsers(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list users")
		return
	}

	respondJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "Email and password are required")
		return
	}

	user, err := s.authService.Register(r.Context(), tenantID, req.Email, req.Name, req.Password, req.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// --- entity profile & framework discovery ---

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	profile, err := s.profiling.GetProfile(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, profiling.ErrProfileNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Entity profile not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to load profile")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) upsertProfile(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	var profile models.EntityProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	profile.TenantID = tenantID

	err := s.profiling.UpdateProfile(r.Context(), &profile)
	if errors.Is(err, profiling.ErrProfileNotFound) {
		err = s.profiling.CreateProfile(r.Context(), &profile)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to save profile")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) discoverFrameworks(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	suggestions, err := s.profiling.DiscoverFrameworks(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, profiling.ErrProfileNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Create an entity profile before discovery")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Framework discovery failed")
		return
	}

	respondJSON(w, http.StatusOK, suggestions)
}

func (s *Server) analyzeRelevance(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	frameworkID := chi.URLParam(r, "frameworkID")
	assessment, err := s.profiling.AnalyzeRelevance(r.Context(), tenantID, frameworkID)
	if err != nil {
		switch {
		case errors.Is(err, profiling.ErrProfileNotFound):
			respondError(w, http.StatusNotFound, "not_found", "Entity profile not found")
		case errors.Is(err, profiling.ErrFrameworkNotFound):
			respondError(w, http.StatusNotFound, "not_found", "Unknown framework")
		default:
			respondError(w, http.StatusInternalServerError, "internal_error", "Relevance analysis failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, assessment)
}

func (s *Server) acceptSuggestion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	frameworkID := chi.URLParam(r, "frameworkID")
	if err := s.profiling.AcceptSuggestion(r.Context(), tenantID, frameworkID); err != nil {
		if errors.Is(err, profiling.ErrFrameworkNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Unknown framework")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to accept suggestion")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"framework_id": frameworkID, "status": "accepted"})
}

func (s *Server) rejectSuggestion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	frameworkID := chi.URLParam(r, "frameworkID")
	if err := s.profiling.RejectSuggestion(r.Context(), tenantID, frameworkID); err != nil {
		if errors.Is(err, profiling.ErrFrameworkNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Unknown framework")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to reject suggestion")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"framework_id": frameworkID, "status": "rejected"})
}

// --- regulatory sources & updates ---

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	var status *models.SourceStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := models.SourceStatus(v)
		status = &st
	}
	var jurisdiction *string
	if v := r.URL.Query().Get("jurisdiction"); v != "" {
		jurisdiction = &v
	}

	sources, err := s.monitor.ListSources(r.Context(), status, jurisdiction)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list sources")
		return
	}

	respondJSON(w, http.StatusOK, sources)
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var src models.RegulatorySource
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := s.monitor.AddSource(r.Context(), &src); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, src)
}

func (s *Server) checkSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid source ID")
		return
	}

	changes, err := s.monitor.CheckForUpdates(r.Context(), sourceID)
	if err != nil {
		if errors.Is(err, monitor.ErrSourceNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Source not found")
			return
		}
		respondError(w, http.StatusBadGateway, "check_failed", err.Error())
		return
	}

	s.notifyDetectedChanges(r, changes)

	respondJSON(w, http.StatusOK, changes)
}

// notifyDetectedChanges pushes per-update notifications for manual checks.
// Failures only log; detection already succeeded.
func (s *Server) notifyDetectedChanges(r *http.Request, changes []monitor.DetectedChange) {
	for _, change := range changes {
		update, err := s.store.GetUpdate(r.Context(), change.UpdateID)
		if err != nil || update == nil {
			continue
		}
		src, err := s.store.GetSource(r.Context(), change.SourceID)
		if err != nil || src == nil {
			continue
		}
		if err := s.notificationService.NotifyUpdateDetected(r.Context(), src, update); err != nil {
			s.logger.Warn("update notification failed", "update_id", update.ID, "error", err)
		}
	}
}

func (s *Server) pauseSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid source ID")
		return
	}

	if err := s.monitor.PauseSource(r.Context(), sourceID); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to pause source")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) resumeSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid source ID")
		return
	}

	if err := s.monitor.ResumeSource(r.Context(), sourceID); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to resume source")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (s *Server) listUpdates(w http.ResponseWriter, r *http.Request) {
	filters := store.ListUpdateFilters{
		Limit:  50,
		Offset: 0,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filters.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := models.UpdateStatus(v)
		filters.Status = &st
	}
	if v := r.URL.Query().Get("impact"); v != "" {
		lvl := models.ImpactLevel(v)
		filters.ImpactLevel = &lvl
	}
	if v := r.URL.Query().Get("source_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			filters.SourceID = &id
		}
	}

	updates, total, err := s.monitor.ListUpdates(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list updates")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, updates, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

func (s *Server) getUpdate(w http.ResponseWriter, r *http.Request) {
	updateID, err := uuid.Parse(chi.URLParam(r, "updateID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid update ID")
		return
	}

	update, err := s.store.GetUpdate(r.Context(), updateID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to load update")
		return
	}
	if update == nil {
		respondError(w, http.StatusNotFound, "not_found", "Update not found")
		return
	}

	respondJSON(w, http.StatusOK, update)
}

// generateFromUpdate enqueues control generation when the queue is up and
// falls back to generating inline otherwise.
func (s *Server) generateFromUpdate(w http.ResponseWriter, r *http.Request) {
	updateID, err := uuid.Parse(chi.URLParam(r, "updateID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid update ID")
		return
	}

	if s.queue != nil {
		if err := s.queue.EnqueueGeneration(r.Context(), updateID); err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "Failed to enqueue generation")
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	result, err := s.generator.GenerateControlsFromUpdate(r.Context(), updateID)
	if err != nil {
		if errors.Is(err, generator.ErrUpdateNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Update not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Control generation failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// --- controls ---

func (s *Server) listControls(w http.ResponseWriter, r *http.Request) {
	frameworkID := r.URL.Query().Get("framework_id")
	if frameworkID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "framework_id query parameter is required")
		return
	}

	var statuses []models.ControlStatus
	if v := r.URL.Query().Get("status"); v != "" {
		statuses = append(statuses, models.ControlStatus(v))
	}

	controls, err := s.store.ListControlsByFramework(r.Context(), frameworkID, statuses)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list controls")
		return
	}

	respondJSON(w, http.StatusOK, controls)
}

type generateFromTextRequest struct {
	Text          string `json:"text"`
	FrameworkID   string `json:"framework_id"`
	FrameworkName string `json:"framework_name"`
}

func (s *Server) generateFromText(w http.ResponseWriter, r *http.Request) {
	var req generateFromTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.FrameworkID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "framework_id is required")
		return
	}

	result, err := s.generator.GenerateControlsFromText(r.Context(), req.Text, req.FrameworkID, req.FrameworkName)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Control generation failed")
		return
	}

	if len(result.Controls) > 0 {
		if err := s.notificationService.NotifyGenerated(r.Context(), req.FrameworkID, len(result.Controls)); err != nil {
			s.logger.Warn("generation notification failed", "framework_id", req.FrameworkID, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, result)
}

type controlIDsRequest struct {
	ControlIDs []uuid.UUID `json:"control_ids"`
	Reviewer   string      `json:"reviewer,omitempty"`
}

func (s *Server) validateControls(w http.ResponseWriter, r *http.Request) {
	var req controlIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if len(req.ControlIDs) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "control_ids is required")
		return
	}

	controls := make([]*models.GeneratedControl, 0, len(req.ControlIDs))
	for _, id := range req.ControlIDs {
		control, err := s.store.GetControl(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "Failed to load controls")
			return
		}
		if control == nil {
			respondError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Control %s not found", id))
			return
		}
		controls = append(controls, control)
	}

	result, err := s.generator.ValidateControls(r.Context(), controls)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Validation failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) approveControls(w http.ResponseWriter, r *http.Request) {
	var req controlIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if len(req.ControlIDs) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "control_ids is required")
		return
	}

	if err := s.generator.ApproveControls(r.Context(), req.ControlIDs); err != nil {
		if errors.Is(err, generator.ErrControlNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Control not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Approval failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"approved": len(req.ControlIDs)})
}

func (s *Server) implementControls(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.UserFromContext(r.Context())

	var req controlIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if len(req.ControlIDs) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "control_ids is required")
		return
	}

	reviewer := req.Reviewer
	if reviewer == "" && claims != nil {
		reviewer = claims.Email
	}

	if err := s.generator.ImplementControls(r.Context(), req.ControlIDs, reviewer); err != nil {
		if errors.Is(err, generator.ErrControlNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Control not found")
			return
		}
		respondError(w, http.StatusConflict, "not_approved", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"implemented": len(req.ControlIDs)})
}

func (s *Server) getControlMappings(w http.ResponseWriter, r *http.Request) {
	controlID, err := uuid.Parse(chi.URLParam(r, "controlID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid control ID")
		return
	}

	mappings, err := s.store.ListMappingsForControl(r.Context(), controlID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list mappings")
		return
	}

	respondJSON(w, http.StatusOK, mappings)
}

func (s *Server) mapControl(w http.ResponseWriter, r *http.Request) {
	controlID, err := uuid.Parse(chi.URLParam(r, "controlID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid control ID")
		return
	}

	mappings, err := s.generator.MapToExistingControls(r.Context(), controlID)
	if err != nil {
		if errors.Is(err, generator.ErrControlNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Control not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Mapping failed")
		return
	}

	respondJSON(w, http.StatusOK, mappings)
}

// --- assessments ---

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	schedules, err := s.assessor.ListSchedules(r.Context(), &tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list schedules")
		return
	}

	respondJSON(w, http.StatusOK, schedules)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	var sched models.AutoAssessmentSchedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if sched.FrameworkID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "framework_id is required")
		return
	}
	sched.TenantID = tenantID

	if err := s.assessor.CreateSchedule(r.Context(), &sched); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to create schedule")
		return
	}

	respondJSON(w, http.StatusCreated, sched)
}

type scheduleActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) setScheduleActive(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := uuid.Parse(chi.URLParam(r, "scheduleID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid schedule ID")
		return
	}

	var req scheduleActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := s.assessor.SetScheduleActive(r.Context(), scheduleID, req.Active); err != nil {
		if errors.Is(err, assessor.ErrScheduleNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Schedule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to update schedule")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

type runAssessmentRequest struct {
	FrameworkID string `json:"framework_id"`
}

func (s *Server) runAssessment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	var req runAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.FrameworkID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "framework_id is required")
		return
	}

	result, err := s.assessor.RunAssessment(r.Context(), tenantID, req.FrameworkID)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "assessment_failed", err.Error())
		return
	}

	if err := s.notificationService.NotifyAssessmentResult(r.Context(), result); err != nil {
		s.logger.Warn("assessment notification failed", "result_id", result.ID, "error", err)
	}

	// Feed repeated review flags back into the learning loop.
	if _, err := s.learning.LearnFromAssessment(r.Context(), result.ID); err != nil {
		s.logger.Warn("post-assessment learning failed", "result_id", result.ID, "error", err)
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	var frameworkID *string
	if v := r.URL.Query().Get("framework_id"); v != "" {
		frameworkID = &v
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	results, err := s.assessor.ListResults(r.Context(), tenantID, frameworkID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list results")
		return
	}

	respondJSON(w, http.StatusOK, results)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	resultID, err := uuid.Parse(chi.URLParam(r, "resultID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid result ID")
		return
	}

	result, err := s.store.GetResult(r.Context(), resultID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to load result")
		return
	}
	if result == nil || result.TenantID != tenantID {
		respondError(w, http.StatusNotFound, "not_found", "Result not found")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// --- evidence ---

func (s *Server) createEvidence(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	var evidence models.EvidenceItem
	if err := json.NewDecoder(r.Body).Decode(&evidence); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if evidence.ControlID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "control_id is required")
		return
	}
	evidence.TenantID = tenantID

	if err := s.store.CreateEvidence(r.Context(), &evidence); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to store evidence")
		return
	}

	respondJSON(w, http.StatusCreated, evidence)
}

// --- learning ---

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}
	claims, _ := auth.UserFromContext(r.Context())

	var feedback models.LearningFeedback
	if err := json.NewDecoder(r.Body).Decode(&feedback); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if feedback.ControlID == uuid.Nil || feedback.AssessmentID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "control_id and assessment_id are required")
		return
	}
	feedback.TenantID = tenantID
	if feedback.SubmittedBy == "" && claims != nil {
		feedback.SubmittedBy = claims.Email
	}

	if err := s.learning.RecordFeedback(r.Context(), &feedback); err != nil {
		switch {
		case errors.Is(err, learning.ErrControlNotFound), errors.Is(err, learning.ErrAssessmentNotFound):
			respondError(w, http.StatusNotFound, "not_found", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal_error", "Failed to record feedback")
		}
		return
	}

	respondJSON(w, http.StatusCreated, feedback)
}

func (s *Server) processFeedback(w http.ResponseWriter, r *http.Request) {
	stats, err := s.learning.ProcessFeedback(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Feedback processing failed")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) getLearningMetrics(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	metrics, err := s.learning.GetLearningMetrics(r.Context(), &tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to load metrics")
		return
	}

	respondJSON(w, http.StatusOK, metrics)
}

// --- scheduler admin ---

func (s *Server) listScheduledJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.scheduler.ListJobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list jobs")
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) runScheduledJobNow(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.scheduler.RunJobNow(r.Context(), jobID); err != nil {
		respondError(w, http.StatusNotFound, "not_found", "Job not found")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) getJobExecutions(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	execs, err := s.scheduler.JobHistory(r.Context(), jobID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to load executions")
		return
	}

	respondJSON(w, http.StatusOK, execs)
}

// --- reports ---

type generateReportRequest struct {
	Type        reports.ReportType   `json:"type"`
	Format      reports.ReportFormat `json:"format"`
	Title       string               `json:"title"`
	FrameworkID string               `json:"framework_id,omitempty"`
	ResultID    *uuid.UUID           `json:"result_id,omitempty"`
	DateFrom    *time.Time           `json:"date_from,omitempty"`
	DateTo      *time.Time           `json:"date_to,omitempty"`
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	var req generateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Title == "" {
		req.Title = "Compliance Report"
	}

	report, err := s.reportGenerator.Generate(r.Context(), &reports.ReportRequest{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		TenantID:    tenantID,
		FrameworkID: req.FrameworkID,
		ResultID:    req.ResultID,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "report_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", report.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Data)
}

func (s *Server) streamCSVReport(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "No tenant in token")
		return
	}

	reportType := reports.ReportType(r.URL.Query().Get("type"))
	if reportType == "" {
		reportType = reports.ReportTypeControls
	}

	req := &reports.ReportRequest{
		Type:        reportType,
		Format:      reports.FormatCSV,
		TenantID:    tenantID,
		FrameworkID: r.URL.Query().Get("framework_id"),
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_%s.csv", reportType, time.Now().Format("20060102")))

	if err := s.reportGenerator.StreamCSV(r.Context(), w, req); err != nil {
		s.logger.Error("streaming report failed", "type", reportType, "error", err)
	}
}

// --- queue ---

func (s *Server) getQueueStatus(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}

	pending, processing, err := s.queue.QueueDepth(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to read queue depth")
		return
	}

	workers, err := s.queue.ActiveWorkers(r.Context(), time.Minute)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to read workers")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":    true,
		"pending":    pending,
		"processing": processing,
		"workers":    workers,
	})
}
