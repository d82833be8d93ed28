package learning

import (
	"strings"
	"testing"

	"github.com/complyer/complyer/internal/models"
)

func TestDecisionTable(t *testing.T) {
	tests := []struct {
		event  models.FeedbackEventType
		apply  bool
		action string
	}{
		{models.FeedbackRatingOverride, true, "rating_adjustment"},
		{models.FeedbackAssessmentCorrection, true, "rating_adjustment"},
		{models.FeedbackFalsePositive, true, "tighten_specificity"},
		{models.FeedbackFalseNegative, true, "loosen_sensitivity"},
		{models.FeedbackPromptImprovement, true, "prompt_rewrite"},
		{models.FeedbackEvidencePattern, true, "record_evidence_pattern"},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			dec, ok := decisionTable[tt.event]
			if !ok {
				t.Fatalf("event %s missing from decision table", tt.event)
			}
			if dec.apply != tt.apply || dec.action != tt.action {
				t.Errorf("expected {%v %s}, got {%v %s}", tt.apply, tt.action, dec.apply, dec.action)
			}
		})
	}
}

func TestDecisionTable_UnknownEventSafeDefault(t *testing.T) {
	if _, ok := decisionTable["made_up_event"]; ok {
		t.Fatal("unknown events must not resolve through the table")
	}
}

func TestGuidanceClause(t *testing.T) {
	tests := []struct {
		name     string
		feedback models.LearningFeedback
		dec      decision
		contains string
	}{
		{
			"prompt rewrite quotes the suggestion",
			models.LearningFeedback{Suggestion: "check backup evidence recency"},
			decision{apply: true, action: "prompt_rewrite"},
			"check backup evidence recency",
		},
		{
			"false positive tightens",
			models.LearningFeedback{},
			decision{apply: true, action: "tighten_specificity"},
			"direct evidence",
		},
		{
			"false negative loosens",
			models.LearningFeedback{},
			decision{apply: true, action: "loosen_sensitivity"},
			"compensating evidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := guidanceClause(&tt.feedback, tt.dec)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("expected clause containing %q, got %q", tt.contains, got)
			}
			if !strings.HasPrefix(got, "Reviewer guidance:") {
				t.Errorf("clause must be attributed to reviewer guidance, got %q", got)
			}
		})
	}
}

func TestGuidanceClause_NonPromptActions(t *testing.T) {
	got := guidanceClause(&models.LearningFeedback{}, decision{apply: true, action: "rating_adjustment"})
	if got != "" {
		t.Errorf("non-prompt actions must not produce a clause, got %q", got)
	}
}
