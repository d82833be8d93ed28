package generator

import (
	"testing"

	"github.com/complyer/complyer/internal/models"
)

func TestTokenOverlapScorer_IdenticalControls(t *testing.T) {
	sc := NewTokenOverlapScorer()
	c := &models.GeneratedControl{
		Title:       "Encrypt personal data at rest",
		Description: "All stored personal data must be encrypted using industry standard algorithms.",
		Category:    models.ControlTechnological,
	}

	score := sc.Score(c, c)
	if score < mappingThreshold {
		t.Errorf("identical controls must clear the mapping threshold, got %.2f", score)
	}
	if score > 1.0+1e-9 {
		t.Errorf("score must not exceed 1.0, got %.2f", score)
	}
}

func TestTokenOverlapScorer_UnrelatedControls(t *testing.T) {
	sc := NewTokenOverlapScorer()
	a := &models.GeneratedControl{
		Title:       "Quarterly penetration testing",
		Description: "External testers probe network perimeter defenses every quarter.",
		Category:    models.ControlTechnological,
	}
	b := &models.GeneratedControl{
		Title:       "Visitor badge issuance",
		Description: "Front desk issues temporary badges and escorts guests.",
		Category:    models.ControlPhysical,
	}

	score := sc.Score(a, b)
	if score >= mappingThreshold {
		t.Errorf("unrelated controls should stay below the mapping threshold, got %.2f", score)
	}
}

func TestTokenOverlapScorer_CategoryContribution(t *testing.T) {
	sc := NewTokenOverlapScorer()
	a := &models.GeneratedControl{Title: "Alpha bravo charlie", Description: "delta echo foxtrot", Category: models.ControlPeople}
	b := &models.GeneratedControl{Title: "Golf hotel india", Description: "juliett kilo lima", Category: models.ControlPeople}

	score := sc.Score(a, b)
	if score != 0.2 {
		t.Errorf("expected only the category weight 0.2, got %.2f", score)
	}
}

func TestTokenOverlap(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"empty sets", "", "retention policy", 0},
		{"disjoint", "backup restore", "vendor onboarding", 0},
		{"identical", "incident response plan", "incident response plan", 1},
		{"subset scores against smaller set", "incident response", "incident response plan testing", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenOverlap(tokenize(tt.a, 0), tokenize(tt.b, 0))
			if got != tt.expected {
				t.Errorf("expected %.2f, got %.2f", tt.expected, got)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("The Encryption of the data, and ALL keys!", 0)

	for _, stop := range []string{"the", "of", "and", "all"} {
		if tokens[stop] {
			t.Errorf("stopword %q should be dropped", stop)
		}
	}
	if !tokens["encryption"] || !tokens["data"] || !tokens["keys"] {
		t.Errorf("expected content tokens, got %v", tokens)
	}
}

func TestMappingTypeFor(t *testing.T) {
	tests := []struct {
		similarity float64
		expected   models.MappingType
	}{
		{0.95, models.MappingEquivalent},
		{0.9, models.MappingEquivalent},
		{0.8, models.MappingPartial},
		{0.75, models.MappingPartial},
		{0.6, models.MappingRelated},
	}

	for _, tt := range tests {
		if got := mappingTypeFor(tt.similarity); got != tt.expected {
			t.Errorf("mappingTypeFor(%.2f) = %s, want %s", tt.similarity, got, tt.expected)
		}
	}
}
