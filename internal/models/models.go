package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

type SizeClass string

const (
	SizeMicro      SizeClass = "micro"
	SizeSmall      SizeClass = "small"
	SizeMedium     SizeClass = "medium"
	SizeLarge      SizeClass = "large"
	SizeEnterprise SizeClass = "enterprise"
)

type FrameworkCategory string

const (
	CategoryDataProtection FrameworkCategory = "data_protection"
	CategoryFinancial      FrameworkCategory = "financial"
	CategoryHealthcare     FrameworkCategory = "healthcare"
	CategorySecurity       FrameworkCategory = "security"
	CategoryAIGovernance   FrameworkCategory = "ai_governance"
	CategoryIndustry       FrameworkCategory = "industry"
)

type DiscoveryStatus string

const (
	DiscoveryStatusDiscovered DiscoveryStatus = "discovered"
	DiscoveryStatusAnalyzing  DiscoveryStatus = "analyzing"
	DiscoveryStatusGenerating DiscoveryStatus = "generating"
	DiscoveryStatusActive     DiscoveryStatus = "active"
	DiscoveryStatusRejected   DiscoveryStatus = "rejected"
)

type PriorityTier string

const (
	PriorityCritical PriorityTier = "critical"
	PriorityHigh     PriorityTier = "high"
	PriorityMedium   PriorityTier = "medium"
	PriorityLow      PriorityTier = "low"
)

type CheckFrequency string

const (
	CheckHourly CheckFrequency = "hourly"
	CheckDaily  CheckFrequency = "daily"
	CheckWeekly CheckFrequency = "weekly"
)

// Window returns the duration after which a source becomes due again.
func (f CheckFrequency) Window() time.Duration {
	switch f {
	case CheckHourly:
		return time.Hour
	case CheckWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

type SourceStatus string

const (
	SourceStatusActive  SourceStatus = "active"
	SourceStatusPaused  SourceStatus = "paused"
	SourceStatusError   SourceStatus = "error"
	SourceStatusRetired SourceStatus = "retired"
)

type UpdateType string

const (
	UpdateNewFramework UpdateType = "new_framework"
	UpdateAmendment    UpdateType = "amendment"
	UpdateGuidance     UpdateType = "guidance"
	UpdateEnforcement  UpdateType = "enforcement"
	UpdateDeadline     UpdateType = "deadline"
	UpdateRepeal       UpdateType = "repeal"
)

type ImpactLevel string

const (
	ImpactCritical      ImpactLevel = "critical"
	ImpactHigh          ImpactLevel = "high"
	ImpactMedium        ImpactLevel = "medium"
	ImpactLow           ImpactLevel = "low"
	ImpactInformational ImpactLevel = "informational"
)

type UpdateStatus string

const (
	UpdateStatusPending      UpdateStatus = "pending"
	UpdateStatusAnalyzed     UpdateStatus = "analyzed"
	UpdateStatusImplementing UpdateStatus = "implementing"
	UpdateStatusImplemented  UpdateStatus = "implemented"
	UpdateStatusRejected     UpdateStatus = "rejected"
	UpdateStatusArchived     UpdateStatus = "archived"
)

type ControlCategory string

const (
	ControlOrganizational ControlCategory = "organizational"
	ControlPeople         ControlCategory = "people"
	ControlPhysical       ControlCategory = "physical"
	ControlTechnological  ControlCategory = "technological"
)

type ControlType string

const (
	ControlPreventive ControlType = "preventive"
	ControlDetective  ControlType = "detective"
	ControlCorrective ControlType = "corrective"
	ControlDeterrent  ControlType = "deterrent"
)

type Difficulty string

const (
	DifficultyLow      Difficulty = "low"
	DifficultyMedium   Difficulty = "medium"
	DifficultyHigh     Difficulty = "high"
	DifficultyVeryHigh Difficulty = "very_high"
)

type ControlStatus string

const (
	ControlStatusGenerated     ControlStatus = "generated"
	ControlStatusPendingReview ControlStatus = "pending_review"
	ControlStatusApproved      ControlStatus = "approved"
	ControlStatusRejected      ControlStatus = "rejected"
	ControlStatusImplemented   ControlStatus = "implemented"
)

type MappingType string

const (
	MappingEquivalent MappingType = "equivalent"
	MappingPartial    MappingType = "partial"
	MappingRelated    MappingType = "related"
)

type AssessmentFrequency string

const (
	FreqDaily     AssessmentFrequency = "daily"
	FreqWeekly    AssessmentFrequency = "weekly"
	FreqBiweekly  AssessmentFrequency = "biweekly"
	FreqMonthly   AssessmentFrequency = "monthly"
	FreqQuarterly AssessmentFrequency = "quarterly"
	FreqAnnually  AssessmentFrequency = "annually"
)

type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ComplianceRating string

const (
	RatingCompliant          ComplianceRating = "compliant"
	RatingPartiallyCompliant ComplianceRating = "partially_compliant"
	RatingNonCompliant       ComplianceRating = "non_compliant"
	RatingNotApplicable      ComplianceRating = "not_applicable"
)

type FeedbackEventType string

const (
	FeedbackRatingOverride       FeedbackEventType = "rating_override"
	FeedbackAssessmentCorrection FeedbackEventType = "assessment_correction"
	FeedbackFalsePositive        FeedbackEventType = "false_positive"
	FeedbackFalseNegative        FeedbackEventType = "false_negative"
	FeedbackPromptImprovement    FeedbackEventType = "prompt_improvement"
	FeedbackEvidencePattern      FeedbackEventType = "evidence_pattern"
)

// JSONB wraps a map for jsonb columns where the shape is caller-defined.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// EntityProfile is the business-characteristics record driving framework
// applicability. Exactly one per tenant.
type EntityProfile struct {
	ID                     uuid.UUID   `json:"id" db:"id"`
	TenantID               uuid.UUID   `json:"tenant_id" db:"tenant_id"`
	Industry               string      `json:"industry" db:"industry"`
	Jurisdictions          StringArray `json:"jurisdictions" db:"jurisdictions"`
	SizeClass              SizeClass   `json:"size_class" db:"size_class"`
	PubliclyTraded         bool        `json:"publicly_traded" db:"publicly_traded"`
	ProcessesPersonalData  bool        `json:"processes_personal_data" db:"processes_personal_data"`
	UsesAISystems          bool        `json:"uses_ai_systems" db:"uses_ai_systems"`
	CriticalInfrastructure bool        `json:"critical_infrastructure" db:"critical_infrastructure"`
	DataCategories         StringArray `json:"data_categories" db:"data_categories"`
	ApplicableFrameworks   StringArray `json:"applicable_frameworks" db:"applicable_frameworks"`
	AnnualRevenue          *int64      `json:"annual_revenue,omitempty" db:"annual_revenue"`
	EmployeeCount          *int        `json:"employee_count,omitempty" db:"employee_count"`
	LastUpdatedAt          time.Time   `json:"last_updated_at" db:"last_updated_at"`
	LastFrameworkScanAt    *time.Time  `json:"last_framework_scan_at,omitempty" db:"last_framework_scan_at"`
	CreatedAt              time.Time   `json:"created_at" db:"created_at"`
}

// DiscoveredFramework is a candidate regulatory framework not yet in the
// control catalog. Shared across tenants.
type DiscoveredFramework struct {
	ID                   uuid.UUID         `json:"id" db:"id"`
	Name                 string            `json:"name" db:"name"`
	Jurisdiction         string            `json:"jurisdiction" db:"jurisdiction"`
	Category             FrameworkCategory `json:"category" db:"category"`
	DiscoverySource      string            `json:"discovery_source" db:"discovery_source"`
	RelevanceScore       float64           `json:"relevance_score" db:"relevance_score"`
	Status               DiscoveryStatus   `json:"status" db:"status"`
	GeneratedFrameworkID *string           `json:"generated_framework_id,omitempty" db:"generated_framework_id"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// FrameworkSuggestion is computed per discovery run and never persisted.
type FrameworkSuggestion struct {
	FrameworkID    string            `json:"framework_id"`
	FrameworkName  string            `json:"framework_name"`
	Category       FrameworkCategory `json:"category"`
	RelevanceScore float64           `json:"relevance_score"`
	Priority       PriorityTier      `json:"priority"`
	Reasons        []string          `json:"reasons"`
	IsNew          bool              `json:"is_new"`
}

// RegulatorySource is a monitored external endpoint.
type RegulatorySource struct {
	ID                  uuid.UUID         `json:"id" db:"id"`
	URL                 string            `json:"url" db:"url"`
	Name                string            `json:"name" db:"name"`
	Jurisdiction        string            `json:"jurisdiction" db:"jurisdiction"`
	Category            FrameworkCategory `json:"category" db:"category"`
	RelatedFrameworks   StringArray       `json:"related_frameworks" db:"related_frameworks"`
	CheckFrequency      CheckFrequency    `json:"check_frequency" db:"check_frequency"`
	LastCheckedAt       *time.Time        `json:"last_checked_at,omitempty" db:"last_checked_at"`
	LastChangeAt        *time.Time        `json:"last_change_at,omitempty" db:"last_change_at"`
	LastContentHash     string            `json:"last_content_hash,omitempty" db:"last_content_hash"`
	ConsecutiveFailures int               `json:"consecutive_failures" db:"consecutive_failures"`
	Active              bool              `json:"active" db:"active"`
	Status              SourceStatus      `json:"status" db:"status"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at" db:"updated_at"`
}

// UpdateAnalysis is the structured analysis payload attached to a
// RegulatoryUpdate by the change analyzer.
type UpdateAnalysis struct {
	Summary               string   `json:"summary"`
	AffectedFrameworks    []string `json:"affected_frameworks,omitempty"`
	ExtractedRequirements []string `json:"extracted_requirements,omitempty"`
	SuggestedActions      []string `json:"suggested_actions,omitempty"`
	EffectiveDate         string   `json:"effective_date,omitempty"`
	AnalyzedBy            string   `json:"analyzed_by,omitempty"`
}

func (a UpdateAnalysis) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *UpdateAnalysis) Scan(value interface{}) error {
	if value == nil {
		*a = UpdateAnalysis{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, a)
}

// RegulatoryUpdate is one detected change event at a monitored source.
type RegulatoryUpdate struct {
	ID                  uuid.UUID      `json:"id" db:"id"`
	SourceID            uuid.UUID      `json:"source_id" db:"source_id"`
	Title               string         `json:"title" db:"title"`
	Snippet             string         `json:"snippet" db:"snippet"`
	UpdateType          UpdateType     `json:"update_type" db:"update_type"`
	ImpactLevel         ImpactLevel    `json:"impact_level" db:"impact_level"`
	Analysis            UpdateAnalysis `json:"analysis" db:"analysis"`
	GeneratedControls   StringArray    `json:"generated_controls" db:"generated_controls"`
	ControlsImplemented bool           `json:"controls_implemented" db:"controls_implemented"`
	Status              UpdateStatus   `json:"status" db:"status"`
	DetectedAt          time.Time      `json:"detected_at" db:"detected_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

// GeneratedControl is a candidate control synthesized from regulatory text.
type GeneratedControl struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	FrameworkID      string          `json:"framework_id" db:"framework_id"`
	ControlID        string          `json:"control_id" db:"control_id"`
	Title            string          `json:"title" db:"title"`
	Description      string          `json:"description" db:"description"`
	Category         ControlCategory `json:"category" db:"category"`
	ControlType      ControlType     `json:"control_type" db:"control_type"`
	Difficulty       Difficulty      `json:"difficulty" db:"difficulty"`
	EvidenceTypes    StringArray     `json:"evidence_types" db:"evidence_types"`
	AssessmentPrompt string          `json:"assessment_prompt" db:"assessment_prompt"`
	Confidence       float64         `json:"confidence" db:"confidence"`
	SourceUpdateID   *uuid.UUID      `json:"source_update_id,omitempty" db:"source_update_id"`
	Status           ControlStatus   `json:"status" db:"status"`
	ImplementedBy    string          `json:"implemented_by,omitempty" db:"implemented_by"`
	ImplementedAt    *time.Time      `json:"implemented_at,omitempty" db:"implemented_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// ControlMapping links a generated control to a similar control in another
// framework.
type ControlMapping struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	ControlID       uuid.UUID   `json:"control_id" db:"control_id"`
	MappedControlID uuid.UUID   `json:"mapped_control_id" db:"mapped_control_id"`
	MappedFramework string      `json:"mapped_framework" db:"mapped_framework"`
	Similarity      float64     `json:"similarity" db:"similarity"`
	MappingType     MappingType `json:"mapping_type" db:"mapping_type"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

// AssessmentConfig tunes how an automated assessment run treats evidence.
type AssessmentConfig struct {
	EvidenceWindowDays int      `json:"evidence_window_days,omitempty"`
	IncludeControls    []string `json:"include_controls,omitempty"`
	ExcludeControls    []string `json:"exclude_controls,omitempty"`
	MinConfidence      float64  `json:"min_confidence,omitempty"`
}

func (c AssessmentConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *AssessmentConfig) Scan(value interface{}) error {
	if value == nil {
		*c = AssessmentConfig{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, c)
}

// NotificationPrefs controls where schedule run outcomes are delivered.
type NotificationPrefs struct {
	NotifyOnComplete bool     `json:"notify_on_complete"`
	NotifyOnFailure  bool     `json:"notify_on_failure"`
	Channels         []string `json:"channels,omitempty"`
	Recipients       []string `json:"recipients,omitempty"`
}

func (n NotificationPrefs) Value() (driver.Value, error) {
	return json.Marshal(n)
}

func (n *NotificationPrefs) Scan(value interface{}) error {
	if value == nil {
		*n = NotificationPrefs{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, n)
}

// AutoAssessmentSchedule is a tenant+framework recurrence.
type AutoAssessmentSchedule struct {
	ID            uuid.UUID           `json:"id" db:"id"`
	TenantID      uuid.UUID           `json:"tenant_id" db:"tenant_id"`
	FrameworkID   string              `json:"framework_id" db:"framework_id"`
	Frequency     AssessmentFrequency `json:"frequency" db:"frequency"`
	NextRunAt     time.Time           `json:"next_run_at" db:"next_run_at"`
	LastRunAt     *time.Time          `json:"last_run_at,omitempty" db:"last_run_at"`
	LastRunStatus RunStatus           `json:"last_run_status,omitempty" db:"last_run_status"`
	Config        AssessmentConfig    `json:"config" db:"config"`
	Notifications NotificationPrefs   `json:"notifications" db:"notifications"`
	Active        bool                `json:"active" db:"active"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
}

// ControlFinding is the per-control outcome of one assessment run.
type ControlFinding struct {
	ControlID      uuid.UUID        `json:"control_id"`
	ControlRef     string           `json:"control_ref"`
	Rating         ComplianceRating `json:"rating"`
	PreviousRating ComplianceRating `json:"previous_rating,omitempty"`
	Confidence     float64          `json:"confidence"`
	EvidenceCount  int              `json:"evidence_count"`
	VerifiedCount  int              `json:"verified_count"`
	Rationale      string           `json:"rationale"`
	RequiresReview bool             `json:"requires_review"`
}

// FindingList stores findings as a jsonb column.
type FindingList []ControlFinding

func (f FindingList) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal([]ControlFinding{})
	}
	return json.Marshal(f)
}

func (f *FindingList) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, f)
}

// AutoAssessmentResult is one execution of a schedule or ad-hoc run.
// Immutable once stored.
type AutoAssessmentResult struct {
	ID                 uuid.UUID   `json:"id" db:"id"`
	TenantID           uuid.UUID   `json:"tenant_id" db:"tenant_id"`
	FrameworkID        string      `json:"framework_id" db:"framework_id"`
	ScheduleID         *uuid.UUID  `json:"schedule_id,omitempty" db:"schedule_id"`
	Status             RunStatus   `json:"status" db:"status"`
	CompliantCount     int         `json:"compliant_count" db:"compliant_count"`
	PartialCount       int         `json:"partial_count" db:"partial_count"`
	NonCompliantCount  int         `json:"non_compliant_count" db:"non_compliant_count"`
	NotApplicableCount int         `json:"not_applicable_count" db:"not_applicable_count"`
	OverallScore       float64     `json:"overall_score" db:"overall_score"`
	Findings           FindingList `json:"findings" db:"findings"`
	Error              string      `json:"error,omitempty" db:"error"`
	ExecutedAt         time.Time   `json:"executed_at" db:"executed_at"`
}

// LearningFeedback is one human correction tied to a control+assessment.
type LearningFeedback struct {
	ID                uuid.UUID         `json:"id" db:"id"`
	TenantID          uuid.UUID         `json:"tenant_id" db:"tenant_id"`
	ControlID         uuid.UUID         `json:"control_id" db:"control_id"`
	AssessmentID      uuid.UUID         `json:"assessment_id" db:"assessment_id"`
	EventType         FeedbackEventType `json:"event_type" db:"event_type"`
	OriginalRating    ComplianceRating  `json:"original_rating" db:"original_rating"`
	CorrectedRating   ComplianceRating  `json:"corrected_rating,omitempty" db:"corrected_rating"`
	OriginalRationale string            `json:"original_rationale" db:"original_rationale"`
	FeedbackText      string            `json:"feedback_text" db:"feedback_text"`
	Suggestion        string            `json:"suggestion,omitempty" db:"suggestion"`
	SubmittedBy       string            `json:"submitted_by" db:"submitted_by"`
	ProcessedAt       *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
	AppliedAt         *time.Time        `json:"applied_at,omitempty" db:"applied_at"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
}

// ControlImprovement records one applied learning adjustment. Keyed on the
// feedback id so re-processing the same feedback is a no-op.
type ControlImprovement struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ControlID  uuid.UUID `json:"control_id" db:"control_id"`
	FeedbackID uuid.UUID `json:"feedback_id" db:"feedback_id"`
	Action     string    `json:"action" db:"action"`
	Detail     string    `json:"detail" db:"detail"`
	AppliedAt  time.Time `json:"applied_at" db:"applied_at"`
}

// EvidenceItem is a piece of evidence attached to a control, supplied by the
// surrounding application and read during assessment.
type EvidenceItem struct {
	ID          uuid.UUID `json:"id" db:"id"`
	TenantID    uuid.UUID `json:"tenant_id" db:"tenant_id"`
	ControlID   uuid.UUID `json:"control_id" db:"control_id"`
	Title       string    `json:"title" db:"title"`
	Verified    bool      `json:"verified" db:"verified"`
	CollectedAt time.Time `json:"collected_at" db:"collected_at"`
}

// PriorityForScore maps a relevance score to its priority tier.
func PriorityForScore(score float64) PriorityTier {
	switch {
	case score >= 0.9:
		return PriorityCritical
	case score >= 0.7:
		return PriorityHigh
	case score >= 0.5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
