// Package notifications delivers pipeline events to Slack and email. Each
// channel filters on a minimum impact level so routine activity stays quiet
// while critical regulatory changes page someone.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/complyer/complyer/internal/models"
)

type NotificationType string

const (
	NotifyRegulatoryUpdate   NotificationType = "regulatory_update"
	NotifyControlsGenerated  NotificationType = "controls_generated"
	NotifyAssessmentComplete NotificationType = "assessment_complete"
	NotifyAssessmentFailed   NotificationType = "assessment_failed"
	NotifyReviewDigest       NotificationType = "review_digest"
)

type Channel string

const (
	ChannelSlack Channel = "slack"
	ChannelEmail Channel = "email"
)

// Notification is one event to be fanned out to enabled channels.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Impact    models.ImpactLevel
	Data      map[string]interface{}
	Timestamp time.Time
}

type Config struct {
	Slack SlackConfig
	Email EmailConfig
}

type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	Enabled    bool
	MinImpact  models.ImpactLevel
}

type EmailConfig struct {
	SMTPHost  string
	SMTPPort  int
	Username  string
	Password  string
	From      string
	To        []string
	Enabled   bool
	MinImpact models.ImpactLevel
}

type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send fans the notification out to every enabled channel whose minimum
// impact threshold it meets. Channel failures are collected, not fatal.
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	var errs []error

	if s.config.Slack.Enabled && meetsThreshold(notif.Impact, s.config.Slack.MinImpact) {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled && meetsThreshold(notif.Impact, s.config.Email.MinImpact) {
		if err := s.sendEmail(notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}

	return nil
}

var impactOrder = map[models.ImpactLevel]int{
	models.ImpactLow:      1,
	models.ImpactMedium:   2,
	models.ImpactHigh:     3,
	models.ImpactCritical: 4,
}

func meetsThreshold(actual, minimum models.ImpactLevel) bool {
	return impactOrder[actual] >= impactOrder[minimum]
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	fields := []SlackField{}
	for _, key := range []string{"source", "framework_id", "controls", "score", "jurisdiction"} {
		if v, ok := notif.Data[key]; ok {
			fields = append(fields, SlackField{
				Title: strings.ReplaceAll(key, "_", " "),
				Value: fmt.Sprintf("%v", v),
				Short: true,
			})
		}
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     impactColor(notif.Impact),
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "Complyer",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", notif.Type,
		"title", notif.Title)

	return nil
}

func impactColor(impact models.ImpactLevel) string {
	switch impact {
	case models.ImpactCritical:
		return "#FF0000"
	case models.ImpactHigh:
		return "#FFA500"
	case models.ImpactMedium:
		return "#FFFF00"
	default:
		return "#36A64F"
	}
}

func (s *Service) sendEmail(notif *Notification) error {
	subject := fmt.Sprintf("[Complyer] %s", notif.Title)
	body, err := s.formatEmailBody(notif)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	if err := smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg)); err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", notif.Type,
		"title", notif.Title,
		"recipients", len(s.config.Email.To))

	return nil
}

func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

func (s *Service) formatEmailBody(notif *Notification) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { padding: 20px; background: {{.HeaderColor}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .impact { display: inline-block; padding: 4px 8px; border-radius: 4px; font-weight: bold; background: {{.ImpactColor}}; color: white; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 30%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2 style="margin:0;">{{.Title}}</h2>
        </div>
        <div class="content">
            <p>{{.Message}}</p>
            <p>Impact: <span class="impact">{{.Impact}}</span></p>
            {{if .HasData}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr>
                    <td>{{$key}}</td>
                    <td>{{$value}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>This is an automated notification from Complyer.</p>
            <p>Generated at: {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>
`
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}

	headerColor := "#2196F3"
	switch notif.Impact {
	case models.ImpactCritical:
		headerColor = "#F44336"
	case models.ImpactHigh:
		headerColor = "#FF9800"
	case models.ImpactMedium:
		headerColor = "#FFC107"
	}

	data := map[string]interface{}{
		"Title":       notif.Title,
		"Message":     notif.Message,
		"Impact":      string(notif.Impact),
		"HeaderColor": headerColor,
		"ImpactColor": impactColor(notif.Impact),
		"Data":        notif.Data,
		"HasData":     len(notif.Data) > 0,
		"Timestamp":   notif.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// NotifyUpdateDetected announces a detected regulatory change. Critical and
// high impact changes are where the channel thresholds usually bite.
func (s *Service) NotifyUpdateDetected(ctx context.Context, source *models.RegulatorySource, update *models.RegulatoryUpdate) error {
	notif := &Notification{
		Type:    NotifyRegulatoryUpdate,
		Title:   fmt.Sprintf("Regulatory change detected: %s", source.Name),
		Message: update.Title,
		Impact:  update.ImpactLevel,
		Data: map[string]interface{}{
			"source":       source.Name,
			"jurisdiction": source.Jurisdiction,
			"update_type":  string(update.UpdateType),
			"update_id":    update.ID,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyGenerated announces freshly generated draft controls awaiting
// review.
func (s *Service) NotifyGenerated(ctx context.Context, frameworkID string, count int) error {
	notif := &Notification{
		Type:    NotifyControlsGenerated,
		Title:   "Draft controls generated",
		Message: fmt.Sprintf("%d draft controls generated for %s are awaiting review", count, frameworkID),
		Impact:  models.ImpactMedium,
		Data: map[string]interface{}{
			"framework_id": frameworkID,
			"controls":     count,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyAssessmentResult reports a completed assessment; the impact scales
// with how bad the score is.
func (s *Service) NotifyAssessmentResult(ctx context.Context, result *models.AutoAssessmentResult) error {
	impact := models.ImpactLow
	switch {
	case result.OverallScore < 50:
		impact = models.ImpactCritical
	case result.OverallScore < 70:
		impact = models.ImpactHigh
	case result.OverallScore < 90:
		impact = models.ImpactMedium
	}

	notif := &Notification{
		Type:    NotifyAssessmentComplete,
		Title:   fmt.Sprintf("Assessment complete: %s", result.FrameworkID),
		Message: fmt.Sprintf("Overall score %.1f (%d compliant, %d partial, %d non-compliant)", result.OverallScore, result.CompliantCount, result.PartialCount, result.NonCompliantCount),
		Impact:  impact,
		Data: map[string]interface{}{
			"framework_id": result.FrameworkID,
			"score":        fmt.Sprintf("%.1f", result.OverallScore),
			"result_id":    result.ID,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyAssessmentFailure reports a scheduled run that could not complete.
func (s *Service) NotifyAssessmentFailure(ctx context.Context, frameworkID string, err error) error {
	notif := &Notification{
		Type:    NotifyAssessmentFailed,
		Title:   fmt.Sprintf("Assessment failed: %s", frameworkID),
		Message: err.Error(),
		Impact:  models.ImpactHigh,
		Data: map[string]interface{}{
			"framework_id": frameworkID,
			"error":        err.Error(),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// DigestStats summarizes the human-review backlog for the periodic digest.
type DigestStats struct {
	Period          string
	PendingFeedback int
	FlaggedFindings int
	DraftControls   int
	AppliedChanges  int
}

// NotifyReviewBacklog sends the periodic review-backlog digest.
func (s *Service) NotifyReviewBacklog(ctx context.Context, stats DigestStats) error {
	impact := models.ImpactLow
	if stats.FlaggedFindings > 10 || stats.PendingFeedback > 25 {
		impact = models.ImpactMedium
	}

	notif := &Notification{
		Type:    NotifyReviewDigest,
		Title:   "Review backlog digest",
		Message: fmt.Sprintf("%d findings flagged for review, %d feedback items pending, %d draft controls awaiting approval", stats.FlaggedFindings, stats.PendingFeedback, stats.DraftControls),
		Impact:  impact,
		Data: map[string]interface{}{
			"period":           stats.Period,
			"pending_feedback": stats.PendingFeedback,
			"flagged_findings": stats.FlaggedFindings,
			"draft_controls":   stats.DraftControls,
			"applied_changes":  stats.AppliedChanges,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}
