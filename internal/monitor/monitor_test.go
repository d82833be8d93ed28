package monitor

import (
	"strings"
	"testing"

	"github.com/complyer/complyer/internal/models"
)

func TestContentHash(t *testing.T) {
	a := contentHash("regulation text v1")
	b := contentHash("regulation text v1")
	c := contentHash("regulation text v2")

	if a != b {
		t.Error("identical content must hash identically")
	}
	if a == c {
		t.Error("different content must produce different hashes")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256 digest, got length %d", len(a))
	}
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
		want    string
	}{
		{"short content untouched", "short text", 100, "short text"},
		{"whitespace trimmed", "  padded  ", 100, "padded"},
		{"long content truncated", strings.Repeat("a", 50), 10, strings.Repeat("a", 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snippet(tt.content, tt.max); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestClassifyUpdateType(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected models.UpdateType
	}{
		{"repeal wins", "Repeal of the prior amendment to the directive", models.UpdateRepeal},
		{"amendment", "The regulation was amended effective next year", models.UpdateAmendment},
		{"enforcement", "A penalty of 4% of turnover applies", models.UpdateEnforcement},
		{"deadline", "Compliance deadline extended to 2027", models.UpdateDeadline},
		{"new framework", "A new directive on digital resilience", models.UpdateNewFramework},
		{"fallback guidance", "Clarifying notes for practitioners", models.UpdateGuidance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyUpdateType(tt.text); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestClassifyImpact(t *testing.T) {
	plain := &models.RegulatorySource{}
	related := &models.RegulatorySource{RelatedFrameworks: models.StringArray{"gdpr"}}

	tests := []struct {
		name     string
		text     string
		source   *models.RegulatorySource
		expected models.ImpactLevel
	}{
		{"immediate is critical", "Immediate action required by operators", plain, models.ImpactCritical},
		{"mandatory is critical", "This control is mandatory for all entities", plain, models.ImpactCritical},
		{"shall is high", "Controllers shall notify within 72 hours", plain, models.ImpactHigh},
		{"should is medium", "Entities should review their policies", plain, models.ImpactMedium},
		{"related source is low", "General commentary on the framework", related, models.ImpactLow},
		{"otherwise informational", "General commentary on the framework", plain, models.ImpactInformational},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyImpact(tt.text, tt.source); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}
