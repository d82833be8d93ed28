package generator

import (
	"math"
	"strings"
	"testing"

	"github.com/complyer/complyer/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSynthesizeControl_Category(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected models.ControlCategory
	}{
		{"training maps to people", "Staff shall receive annual security awareness training on data handling.", models.ControlPeople},
		{"encryption maps to technological", "The organization must encrypt personal data at rest using strong algorithms.", models.ControlTechnological},
		{"facility maps to physical", "Access to the facility shall be restricted to authorized visitors with badges.", models.ControlPhysical},
		{"default is organizational", "The entity shall designate a responsible officer for compliance oversight.", models.ControlOrganizational},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			control := synthesizeControl(Requirement{Text: tt.text}, "gdpr", 1)
			if control.Category != tt.expected {
				t.Errorf("expected category %s, got %s", tt.expected, control.Category)
			}
		})
	}
}

func TestSynthesizeControl_Type(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected models.ControlType
	}{
		{"restrict is preventive", "The controller shall restrict access to personal data to authorized staff.", models.ControlPreventive},
		{"monitor is detective", "Systems shall be monitored continuously for unauthorized activity.", models.ControlDetective},
		{"remediate is corrective", "The organization must remediate identified vulnerabilities within thirty days.", models.ControlCorrective},
		{"fallback is deterrent", "A privacy notice shall be published on the entity website.", models.ControlDeterrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			control := synthesizeControl(Requirement{Text: tt.text}, "gdpr", 1)
			if control.ControlType != tt.expected {
				t.Errorf("expected type %s, got %s", tt.expected, control.ControlType)
			}
		})
	}
}

func TestSynthesizeControl_IDAndStatus(t *testing.T) {
	control := synthesizeControl(Requirement{Text: "The controller shall maintain records."}, "pci-dss", 7)

	if control.ControlID != "PCIDSS-AG-007" {
		t.Errorf("unexpected control id %q", control.ControlID)
	}
	if control.Status != models.ControlStatusGenerated {
		t.Errorf("expected generated status, got %s", control.Status)
	}
	if control.AssessmentPrompt == "" {
		t.Error("expected assessment prompt to be populated")
	}
}

func TestConfidenceFor(t *testing.T) {
	long := strings.Repeat("the organization shall maintain records ", 4)

	tests := []struct {
		name     string
		req      Requirement
		expected float64
	}{
		{"base", Requirement{Text: "short obligation text"}, 0.55},
		{"modal bonus", Requirement{Text: "short obligation text", Modal: true}, 0.75},
		{"modal and citation", Requirement{Text: "short obligation text", Modal: true, HasCitation: true}, 0.85},
		{"all signals capped", Requirement{Text: long, Modal: true, HasCitation: true}, 0.95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := confidenceFor(tt.req)
			if !approx(got, tt.expected) {
				t.Errorf("expected confidence %.2f, got %.2f", tt.expected, got)
			}
		})
	}
}

func TestTitleFromRequirement(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"clause before comma",
			"The controller shall maintain records of processing, including categories of recipients and transfers.",
			"The controller shall maintain records of processing",
		},
		{
			"capitalizes first letter",
			"ensure backups are tested quarterly",
			"Ensure backups are tested quarterly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := titleFromRequirement(tt.text)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTitleFromRequirement_Truncation(t *testing.T) {
	long := strings.Repeat("requirement ", 20)
	got := titleFromRequirement(long)
	if len(got) > 80 {
		t.Errorf("title should be at most 80 chars, got %d", len(got))
	}
	if strings.HasSuffix(got, " ") {
		t.Errorf("title should not end mid-word with trailing space: %q", got)
	}
}

func TestShortFrameworkCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gdpr", "gdpr"},
		{"pci-dss", "pcidss"},
		{"eu-ai-act", "euaiac"},
	}

	for _, tt := range tests {
		if got := shortFrameworkCode(tt.in); got != tt.want {
			t.Errorf("shortFrameworkCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
