package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/complyer/complyer/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMeetsThreshold(t *testing.T) {
	tests := []struct {
		actual   models.ImpactLevel
		minimum  models.ImpactLevel
		expected bool
	}{
		{models.ImpactCritical, models.ImpactLow, true},
		{models.ImpactHigh, models.ImpactHigh, true},
		{models.ImpactMedium, models.ImpactHigh, false},
		{models.ImpactLow, models.ImpactCritical, false},
		{models.ImpactLow, models.ImpactLow, true},
	}

	for _, tt := range tests {
		if got := meetsThreshold(tt.actual, tt.minimum); got != tt.expected {
			t.Errorf("meetsThreshold(%s, %s) = %v, want %v", tt.actual, tt.minimum, got, tt.expected)
		}
	}
}

func TestSend_NoChannelsEnabled(t *testing.T) {
	svc := NewService(Config{}, testLogger())

	err := svc.Send(context.Background(), &Notification{
		Type:   NotifyRegulatoryUpdate,
		Title:  "Test",
		Impact: models.ImpactCritical,
	})
	if err != nil {
		t.Errorf("sending with no channels must be a no-op, got %v", err)
	}
}

func TestSend_SlackBelowThresholdSkipped(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	svc := NewService(Config{
		Slack: SlackConfig{
			Enabled:    true,
			WebhookURL: server.URL,
			MinImpact:  models.ImpactHigh,
		},
	}, testLogger())

	err := svc.Send(context.Background(), &Notification{
		Type:   NotifyReviewDigest,
		Title:  "Digest",
		Impact: models.ImpactLow,
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if called {
		t.Error("below-threshold notification must not hit the webhook")
	}
}

func TestSend_SlackPayload(t *testing.T) {
	var payload SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decoding webhook payload: %v", err)
		}
	}))
	defer server.Close()

	svc := NewService(Config{
		Slack: SlackConfig{
			Enabled:    true,
			WebhookURL: server.URL,
			Channel:    "#compliance",
			Username:   "Complyer",
		},
	}, testLogger())

	err := svc.Send(context.Background(), &Notification{
		Type:    NotifyRegulatoryUpdate,
		Title:   "GDPR amendment detected",
		Message: "Change detected at EUR-Lex",
		Impact:  models.ImpactHigh,
		Data: map[string]interface{}{
			"source":       "EUR-Lex",
			"framework_id": "gdpr",
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if payload.Channel != "#compliance" {
		t.Errorf("expected channel to pass through, got %q", payload.Channel)
	}
	if len(payload.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Title != "GDPR amendment detected" {
		t.Errorf("unexpected attachment title %q", att.Title)
	}
	if len(att.Fields) != 2 {
		t.Errorf("expected source and framework fields, got %d", len(att.Fields))
	}
}

func TestSend_SlackErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewService(Config{
		Slack: SlackConfig{Enabled: true, WebhookURL: server.URL},
	}, testLogger())

	err := svc.Send(context.Background(), &Notification{
		Type:   NotifyAssessmentFailed,
		Title:  "Assessment failed",
		Impact: models.ImpactHigh,
	})
	if err == nil {
		t.Error("expected webhook failure to surface")
	}
}

func TestImpactColor(t *testing.T) {
	colors := map[models.ImpactLevel]bool{}
	for _, impact := range []models.ImpactLevel{
		models.ImpactCritical, models.ImpactHigh, models.ImpactMedium, models.ImpactLow,
	} {
		colors[models.ImpactLevel(impactColor(impact))] = true
	}
	if len(colors) < 3 {
		t.Error("impact levels should map to distinct colors")
	}
}

func TestNotifyAssessmentResult_ImpactFromScore(t *testing.T) {
	var got models.ImpactLevel
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		// impact is encoded as attachment color; resolve by comparing known colors
		for _, lvl := range []models.ImpactLevel{models.ImpactCritical, models.ImpactHigh, models.ImpactMedium, models.ImpactLow} {
			if len(msg.Attachments) > 0 && msg.Attachments[0].Color == impactColor(lvl) {
				got = lvl
				break
			}
		}
	}))
	defer server.Close()

	svc := NewService(Config{
		Slack: SlackConfig{Enabled: true, WebhookURL: server.URL},
	}, testLogger())

	tests := []struct {
		score    float64
		expected models.ImpactLevel
	}{
		{30, models.ImpactCritical},
		{60, models.ImpactHigh},
		{85, models.ImpactMedium},
		{95, models.ImpactLow},
	}

	for _, tt := range tests {
		got = ""
		result := &models.AutoAssessmentResult{
			FrameworkID:  "gdpr",
			OverallScore: tt.score,
			ExecutedAt:   time.Now(),
		}
		if err := svc.NotifyAssessmentResult(context.Background(), result); err != nil {
			t.Fatalf("NotifyAssessmentResult(%.0f) failed: %v", tt.score, err)
		}
		if got != tt.expected {
			t.Errorf("score %.0f: expected impact %s, got %s", tt.score, tt.expected, got)
		}
	}
}

func TestNotifyAssessmentFailure(t *testing.T) {
	var payload SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer server.Close()

	svc := NewService(Config{
		Slack: SlackConfig{Enabled: true, WebhookURL: server.URL},
	}, testLogger())

	runErr := errors.New("no active controls for framework")
	if err := svc.NotifyAssessmentFailure(context.Background(), "gdpr", runErr); err != nil {
		t.Fatalf("NotifyAssessmentFailure failed: %v", err)
	}

	if len(payload.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Title != "Assessment failed: gdpr" {
		t.Errorf("unexpected title %q", att.Title)
	}
	if att.Text != runErr.Error() {
		t.Errorf("expected the run error in the message, got %q", att.Text)
	}
	if att.Color != impactColor(models.ImpactHigh) {
		t.Error("assessment failures must carry high impact")
	}
}

func TestNotifyReviewBacklog(t *testing.T) {
	var payload SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer server.Close()

	svc := NewService(Config{
		Slack: SlackConfig{Enabled: true, WebhookURL: server.URL},
	}, testLogger())

	err := svc.NotifyReviewBacklog(context.Background(), DigestStats{
		Period:          "weekly",
		PendingFeedback: 4,
		FlaggedFindings: 2,
		DraftControls:   9,
	})
	if err != nil {
		t.Fatalf("NotifyReviewBacklog failed: %v", err)
	}

	if len(payload.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Color != impactColor(models.ImpactLow) {
		t.Error("a small backlog should stay low impact")
	}
	if !strings.Contains(att.Text, "9 draft controls") {
		t.Errorf("expected draft control count in digest, got %q", att.Text)
	}

	// A large backlog escalates the digest.
	payload = SlackMessage{}
	err = svc.NotifyReviewBacklog(context.Background(), DigestStats{
		Period:          "weekly",
		PendingFeedback: 40,
		FlaggedFindings: 15,
	})
	if err != nil {
		t.Fatalf("NotifyReviewBacklog (large backlog) failed: %v", err)
	}
	if payload.Attachments[0].Color != impactColor(models.ImpactMedium) {
		t.Error("a large backlog should escalate to medium impact")
	}
}
