package generator

import "testing"

func TestValidationResult_Add(t *testing.T) {
	tests := []struct {
		name       string
		severity   IssueSeverity
		stillValid bool
	}{
		{"critical invalidates", SeverityCritical, false},
		{"error invalidates", SeverityError, false},
		{"warning is advisory", SeverityWarning, true},
		{"suggestion is advisory", SeveritySuggestion, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ValidationResult{Valid: true}
			r.add("GDPR-AG-001", tt.severity, "title", "test issue")

			if r.Valid != tt.stillValid {
				t.Errorf("expected valid=%v after %s issue", tt.stillValid, tt.severity)
			}
			if len(r.Issues) != 1 {
				t.Fatalf("expected 1 issue, got %d", len(r.Issues))
			}
			if r.Issues[0].Severity != tt.severity {
				t.Errorf("issue severity mismatch: %s", r.Issues[0].Severity)
			}
		})
	}
}

func TestValidationResult_HasBlockingIssues(t *testing.T) {
	r := &ValidationResult{Valid: true}
	r.add("GDPR-AG-001", SeverityError, "title", "title too short")

	if r.Valid {
		t.Error("error severity should fail validation")
	}
	if r.HasBlockingIssues() {
		t.Error("plain errors must not block implementation")
	}

	r.add("GDPR-AG-002", SeverityCritical, "control_id", "duplicate id")
	if !r.HasBlockingIssues() {
		t.Error("critical issues must block implementation")
	}
}
