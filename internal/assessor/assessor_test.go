package assessor

import (
	"testing"
	"time"

	"github.com/complyer/complyer/internal/models"
)

func TestCalculateNextRunTime(t *testing.T) {
	from := time.Date(2026, time.March, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		frequency models.AssessmentFrequency
		expected  time.Time
	}{
		{models.FreqDaily, time.Date(2026, time.March, 11, 2, 0, 0, 0, time.UTC)},
		{models.FreqWeekly, time.Date(2026, time.March, 17, 2, 0, 0, 0, time.UTC)},
		{models.FreqBiweekly, time.Date(2026, time.March, 24, 2, 0, 0, 0, time.UTC)},
		{models.FreqMonthly, time.Date(2026, time.April, 10, 2, 0, 0, 0, time.UTC)},
		{models.FreqQuarterly, time.Date(2026, time.June, 10, 2, 0, 0, 0, time.UTC)},
		{models.FreqAnnually, time.Date(2027, time.March, 10, 2, 0, 0, 0, time.UTC)},
		{"unknown", time.Date(2026, time.April, 10, 2, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.frequency), func(t *testing.T) {
			got := CalculateNextRunTime(tt.frequency, from)
			if !got.Equal(tt.expected) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestCalculateNextRunTime_StrictlyFuture(t *testing.T) {
	// Even when the reference time is already past the run hour, the next
	// run lands on a later day.
	from := time.Date(2026, time.March, 10, 1, 0, 0, 0, time.UTC)

	for _, freq := range []models.AssessmentFrequency{
		models.FreqDaily, models.FreqWeekly, models.FreqBiweekly,
		models.FreqMonthly, models.FreqQuarterly, models.FreqAnnually,
	} {
		next := CalculateNextRunTime(freq, from)
		if !next.After(from) {
			t.Errorf("%s: next run %s is not after %s", freq, next, from)
		}
		if next.Hour() != 2 || next.Minute() != 0 {
			t.Errorf("%s: next run not normalized to 02:00, got %s", freq, next)
		}
	}
}

func TestRatingForRatio(t *testing.T) {
	tests := []struct {
		name     string
		verified int
		total    int
		expected models.ComplianceRating
	}{
		{"no evidence is non-compliant", 0, 0, models.RatingNonCompliant},
		{"all verified", 10, 10, models.RatingCompliant},
		{"exactly 80 percent", 8, 10, models.RatingCompliant},
		{"exactly half", 5, 10, models.RatingPartiallyCompliant},
		{"just under half", 4, 10, models.RatingNonCompliant},
		{"none verified", 0, 5, models.RatingNonCompliant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RatingForRatio(tt.verified, tt.total)
			if got != tt.expected {
				t.Errorf("RatingForRatio(%d, %d) = %s, want %s", tt.verified, tt.total, got, tt.expected)
			}
		})
	}
}

func TestBaseConfidence(t *testing.T) {
	tests := []struct {
		rating   models.ComplianceRating
		expected float64
	}{
		{models.RatingCompliant, 0.85},
		{models.RatingPartiallyCompliant, 0.75},
		{models.RatingNonCompliant, 0.7},
	}

	for _, tt := range tests {
		if got := baseConfidence(tt.rating); got != tt.expected {
			t.Errorf("baseConfidence(%s) = %.2f, want %.2f", tt.rating, got, tt.expected)
		}
	}
}
