package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/complyer/complyer/internal/models"
)

func TestAwaitingApproval(t *testing.T) {
	tests := []struct {
		status   models.ControlStatus
		expected bool
	}{
		{models.ControlStatusGenerated, true},
		{models.ControlStatusPendingReview, true},
		{models.ControlStatusApproved, false},
		{models.ControlStatusRejected, false},
		{models.ControlStatusImplemented, false},
	}

	for _, tt := range tests {
		if got := awaitingApproval(tt.status); got != tt.expected {
			t.Errorf("awaitingApproval(%s) = %v, want %v", tt.status, got, tt.expected)
		}
	}
}

func TestRespondJSON_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	respondJSON(rec, 200, map[string]string{"status": "ok"})

	var resp apiResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if !resp.Success {
		t.Error("2xx responses must report success")
	}
	if resp.Error != nil {
		t.Errorf("unexpected error payload %+v", resp.Error)
	}
}

func TestRespondError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, 404, "not_found", "Control not found")

	var resp apiResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if resp.Success {
		t.Error("error responses must not report success")
	}
	if resp.Error == nil || resp.Error.Code != "not_found" {
		t.Errorf("unexpected error payload %+v", resp.Error)
	}
	if rec.Code != 404 {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}
