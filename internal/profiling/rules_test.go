package profiling

import (
	"math"
	"testing"

	"github.com/complyer/complyer/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func gdprRule(t *testing.T) ApplicabilityRule {
	t.Helper()
	for _, r := range BuiltinRules() {
		if r.FrameworkID == "gdpr" {
			return r
		}
	}
	t.Fatal("gdpr rule missing from builtin set")
	return ApplicabilityRule{}
}

func TestEvaluate_GDPR(t *testing.T) {
	rule := gdprRule(t)

	tests := []struct {
		name          string
		profile       models.EntityProfile
		expectedScore float64
	}{
		{
			"eu entity processing personal data",
			models.EntityProfile{
				Jurisdictions:         models.StringArray{"eu", "us"},
				ProcessesPersonalData: true,
			},
			1.0,
		},
		{
			"eu entity without personal data",
			models.EntityProfile{
				Jurisdictions: models.StringArray{"eu"},
			},
			0.5,
		},
		{
			"non-eu entity processing personal data",
			models.EntityProfile{
				Jurisdictions:         models.StringArray{"us"},
				ProcessesPersonalData: true,
			},
			0.5,
		},
		{
			"no conditions satisfied",
			models.EntityProfile{
				Jurisdictions: models.StringArray{"apac"},
			},
			0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(rule, &tt.profile)
			if !approx(got.Score, tt.expectedScore) {
				t.Errorf("expected score %.2f, got %.2f", tt.expectedScore, got.Score)
			}
			if got.Priority != models.PriorityForScore(tt.expectedScore) {
				t.Errorf("priority %s does not match score %.2f", got.Priority, tt.expectedScore)
			}
			if len(got.Conditions) != len(rule.Conditions) {
				t.Errorf("expected %d condition results, got %d", len(rule.Conditions), len(got.Conditions))
			}
		})
	}
}

func TestEvaluate_JurisdictionCaseInsensitive(t *testing.T) {
	rule := gdprRule(t)
	profile := &models.EntityProfile{
		Jurisdictions:         models.StringArray{"EU"},
		ProcessesPersonalData: true,
	}

	got := Evaluate(rule, profile)
	if !approx(got.Score, 1.0) {
		t.Errorf("expected uppercase jurisdiction to match, score %.2f", got.Score)
	}
}

func TestEvaluate_RevenueThreshold(t *testing.T) {
	var ccpa ApplicabilityRule
	for _, r := range BuiltinRules() {
		if r.FrameworkID == "ccpa" {
			ccpa = r
		}
	}

	below := int64(10_000_000)
	above := int64(50_000_000)

	profile := &models.EntityProfile{
		Jurisdictions:         models.StringArray{"us-ca"},
		ProcessesPersonalData: true,
		AnnualRevenue:         &below,
	}
	got := Evaluate(ccpa, profile)
	if !approx(got.Score, 0.8) {
		t.Errorf("expected 0.8 below revenue threshold, got %.2f", got.Score)
	}

	profile.AnnualRevenue = &above
	got = Evaluate(ccpa, profile)
	if !approx(got.Score, 1.0) {
		t.Errorf("expected 1.0 above revenue threshold, got %.2f", got.Score)
	}
}

func TestEvaluate_MissingFieldNeverSatisfies(t *testing.T) {
	rule := ApplicabilityRule{
		FrameworkID:   "test",
		FrameworkName: "Test",
		Conditions: []Condition{
			{Field: "annual_revenue", Operator: OpGreaterThan, Value: 0, Weight: 1.0},
		},
	}

	got := Evaluate(rule, &models.EntityProfile{})
	if got.Score != 0 {
		t.Errorf("nil revenue should not satisfy, got %.2f", got.Score)
	}
}

func TestHeuristicScore(t *testing.T) {
	tests := []struct {
		name      string
		framework models.DiscoveredFramework
		profile   models.EntityProfile
		expected  float64
	}{
		{
			"jurisdiction and category and enterprise size",
			models.DiscoveredFramework{Jurisdiction: "eu", Category: models.CategoryDataProtection},
			models.EntityProfile{
				Jurisdictions:         models.StringArray{"eu"},
				ProcessesPersonalData: true,
				SizeClass:             models.SizeEnterprise,
			},
			1.0,
		},
		{
			"global jurisdiction always matches",
			models.DiscoveredFramework{Jurisdiction: "global", Category: models.CategoryAIGovernance},
			models.EntityProfile{
				Jurisdictions: models.StringArray{"us"},
				SizeClass:     models.SizeSmall,
			},
			0.45,
		},
		{
			"nothing matches",
			models.DiscoveredFramework{Jurisdiction: "uk", Category: models.CategoryHealthcare},
			models.EntityProfile{Jurisdictions: models.StringArray{"us"}},
			0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _ := HeuristicScore(&tt.framework, &tt.profile)
			if !approx(score, tt.expected) {
				t.Errorf("expected %.2f, got %.2f", tt.expected, score)
			}
		})
	}
}

func TestHeuristicScore_CappedAtOne(t *testing.T) {
	f := &models.DiscoveredFramework{Jurisdiction: "global", Category: models.CategoryIndustry}
	p := &models.EntityProfile{
		Jurisdictions: models.StringArray{"us"},
		SizeClass:     models.SizeEnterprise,
	}

	score, _ := HeuristicScore(f, p)
	if score > 1.0 {
		t.Errorf("score must be capped at 1.0, got %.2f", score)
	}
}
