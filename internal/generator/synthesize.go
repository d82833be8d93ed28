package generator

import (
	"fmt"
	"strings"

	"github.com/complyer/complyer/internal/models"
)

// Keyword tables for inferring control attributes from requirement text.
// Order matters: the first table with a hit wins.
var categoryKeywords = []struct {
	category models.ControlCategory
	words    []string
}{
	{models.ControlPeople, []string{"staff", "training", "awareness", "personnel", "employee", "background check"}},
	{models.ControlPhysical, []string{"physical", "facility", "premises", "badge", "cctv", "visitor"}},
	{models.ControlTechnological, []string{"encrypt", "firewall", "access control", "logging", "monitoring", "backup", "authentication", "software", "system", "network"}},
}

var typeKeywords = []struct {
	controlType models.ControlType
	words       []string
}{
	{models.ControlPreventive, []string{"prevent", "restrict", "block", "prohibit", "limit"}},
	{models.ControlDetective, []string{"detect", "monitor", "audit", "review", "log", "inspect"}},
	{models.ControlCorrective, []string{"remediate", "correct", "restore", "recover", "respond"}},
}

var difficultyKeywords = []struct {
	difficulty models.Difficulty
	words      []string
}{
	{models.DifficultyVeryHigh, []string{"complex", "enterprise-wide", "organization-wide", "comprehensive program"}},
	{models.DifficultyHigh, []string{"continuous", "all systems", "regularly audit", "independent"}},
	{models.DifficultyLow, []string{"document", "designate", "notify", "publish"}},
}

var evidenceKeywords = []struct {
	evidence string
	words    []string
}{
	{"policy_document", []string{"policy", "procedure", "document"}},
	{"training_record", []string{"training", "awareness"}},
	{"audit_log", []string{"log", "monitor", "audit"}},
	{"configuration_snapshot", []string{"encrypt", "configure", "firewall", "access control"}},
	{"assessment_report", []string{"assess", "review", "test", "evaluate"}},
	{"incident_record", []string{"incident", "breach", "respond"}},
}

// synthesizeControl builds one candidate control from an extracted
// requirement. Deterministic given the same requirement text.
func synthesizeControl(req Requirement, frameworkID string, seq int) *models.GeneratedControl {
	lower := strings.ToLower(req.Text)

	category := models.ControlOrganizational
	for _, entry := range categoryKeywords {
		if anyKeyword(lower, entry.words) {
			category = entry.category
			break
		}
	}

	// Deterrent is the fallback when no preventive/detective/corrective
	// language is present.
	controlType := models.ControlDeterrent
	for _, entry := range typeKeywords {
		if anyKeyword(lower, entry.words) {
			controlType = entry.controlType
			break
		}
	}

	difficulty := models.DifficultyMedium
	for _, entry := range difficultyKeywords {
		if anyKeyword(lower, entry.words) {
			difficulty = entry.difficulty
			break
		}
	}

	var evidenceTypes []string
	for _, entry := range evidenceKeywords {
		if anyKeyword(lower, entry.words) {
			evidenceTypes = append(evidenceTypes, entry.evidence)
		}
	}

	return &models.GeneratedControl{
		FrameworkID:   frameworkID,
		ControlID:     fmt.Sprintf("%s-AG-%03d", strings.ToUpper(shortFrameworkCode(frameworkID)), seq),
		Title:         titleFromRequirement(req.Text),
		Description:   req.Text,
		Category:      category,
		ControlType:   controlType,
		Difficulty:    difficulty,
		EvidenceTypes: models.StringArray(evidenceTypes),
		AssessmentPrompt: fmt.Sprintf(
			"Assess whether the organization satisfies the following obligation: %s Consider recency and verification status of collected evidence.",
			req.Text,
		),
		Confidence: confidenceFor(req),
		Status:     models.ControlStatusGenerated,
	}
}

// confidenceFor is a weighted heuristic: +0.2 for modal language, +0.1 for
// length over 100 chars, +0.1 for an article/section citation, capped at 0.95.
func confidenceFor(req Requirement) float64 {
	confidence := 0.55
	if req.Modal {
		confidence += 0.2
	}
	if len(req.Text) > 100 {
		confidence += 0.1
	}
	if req.HasCitation {
		confidence += 0.1
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}

// titleFromRequirement takes the leading clause of the requirement,
// truncated to a readable length.
func titleFromRequirement(text string) string {
	title := text
	if idx := strings.IndexAny(title, ",;:"); idx > 20 {
		title = title[:idx]
	}
	title = strings.TrimSpace(title)
	if len(title) > 80 {
		cut := title[:80]
		if sp := strings.LastIndex(cut, " "); sp > 40 {
			cut = cut[:sp]
		}
		title = cut
	}
	return strings.ToUpper(title[:1]) + title[1:]
}

func shortFrameworkCode(frameworkID string) string {
	code := strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return -1
		}
		return r
	}, frameworkID)
	if len(code) > 6 {
		code = code[:6]
	}
	return code
}

func anyKeyword(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
