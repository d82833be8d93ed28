package models

import (
	"testing"
	"time"
)

func TestPriorityForScore(t *testing.T) {
	tests := []struct {
		score    float64
		expected PriorityTier
	}{
		{1.0, PriorityCritical},
		{0.9, PriorityCritical},
		{0.89, PriorityHigh},
		{0.7, PriorityHigh},
		{0.5, PriorityMedium},
		{0.49, PriorityLow},
		{0.0, PriorityLow},
	}

	for _, tt := range tests {
		if got := PriorityForScore(tt.score); got != tt.expected {
			t.Errorf("PriorityForScore(%.2f) = %s, want %s", tt.score, got, tt.expected)
		}
	}
}

func TestCheckFrequencyWindow(t *testing.T) {
	tests := []struct {
		frequency CheckFrequency
		expected  time.Duration
	}{
		{CheckHourly, time.Hour},
		{CheckDaily, 24 * time.Hour},
		{CheckWeekly, 7 * 24 * time.Hour},
		{"unknown", 24 * time.Hour},
	}

	for _, tt := range tests {
		if got := tt.frequency.Window(); got != tt.expected {
			t.Errorf("%s.Window() = %s, want %s", tt.frequency, got, tt.expected)
		}
	}
}

func TestJSONBRoundTrip(t *testing.T) {
	original := JSONB{"selector": "h1.title", "depth": "2"}

	value, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned JSONB
	if err := scanned.Scan(value); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if scanned["selector"] != "h1.title" {
		t.Errorf("expected selector preserved, got %v", scanned["selector"])
	}
}

func TestFindingListScanNil(t *testing.T) {
	var findings FindingList
	if err := findings.Scan(nil); err != nil {
		t.Errorf("scanning nil must not fail: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("expected empty list, got %d entries", len(findings))
	}
}
