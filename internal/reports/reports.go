// Package reports renders compliance data as CSV or PDF exports: assessment
// results, the control catalog, regulatory update history, and an executive
// posture summary.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

type ReportType string

const (
	ReportTypeAssessment ReportType = "assessment"
	ReportTypeControls   ReportType = "controls"
	ReportTypeUpdates    ReportType = "updates"
	ReportTypeExecutive  ReportType = "executive"
)

type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

type ReportRequest struct {
	Type        ReportType
	Format      ReportFormat
	Title       string
	TenantID    uuid.UUID
	FrameworkID string
	ResultID    *uuid.UUID
	DateFrom    *time.Time
	DateTo      *time.Time
}

type Report struct {
	Type        ReportType
	Format      ReportFormat
	Title       string
	GeneratedAt time.Time
	Data        []byte
	Filename    string
	MimeType    string
}

// ReportFinding is one control verdict flattened for rendering.
type ReportFinding struct {
	ControlRef     string
	Title          string
	Rating         string
	PreviousRating string
	Confidence     float64
	EvidenceCount  int
	VerifiedCount  int
	RequiresReview bool
	Rationale      string
}

// ReportAssessment is one assessment run plus its findings.
type ReportAssessment struct {
	ID           uuid.UUID
	FrameworkID  string
	OverallScore float64
	Compliant    int
	Partial      int
	NonCompliant int
	ExecutedAt   time.Time
	Findings     []ReportFinding
}

// ReportControl is one catalog entry flattened for rendering.
type ReportControl struct {
	ControlID   string
	Title       string
	FrameworkID string
	Category    string
	Type        string
	Status      string
	Difficulty  string
	Confidence  float64
	CreatedAt   time.Time
}

// ReportUpdate is one detected regulatory change flattened for rendering.
type ReportUpdate struct {
	SourceName  string
	Title       string
	UpdateType  string
	ImpactLevel string
	Status      string
	DetectedAt  time.Time
}

// PostureStats is the aggregate picture for the executive summary.
type PostureStats struct {
	Frameworks        int
	TotalControls     int
	ImplementedCount  int
	PendingCount      int
	LatestScores      map[string]float64
	UpdatesLast30Days int
	CriticalUpdates   int
	PendingFeedback   int
}

// DataProvider supplies report data; the API layer backs it with the store.
type DataProvider interface {
	GetAssessment(ctx context.Context, tenantID, resultID uuid.UUID) (*ReportAssessment, error)
	GetControls(ctx context.Context, frameworkID string) ([]ReportControl, error)
	GetUpdates(ctx context.Context, from, to *time.Time) ([]ReportUpdate, error)
	GetPostureStats(ctx context.Context, tenantID uuid.UUID) (*PostureStats, error)
}

type Generator struct {
	provider DataProvider
}

func NewGenerator(provider DataProvider) *Generator {
	return &Generator{provider: provider}
}

func (g *Generator) Generate(ctx context.Context, req *ReportRequest) (*Report, error) {
	switch req.Type {
	case ReportTypeAssessment:
		return g.generateAssessmentReport(ctx, req)
	case ReportTypeControls:
		return g.generateControlsReport(ctx, req)
	case ReportTypeUpdates:
		return g.generateUpdatesReport(ctx, req)
	case ReportTypeExecutive:
		return g.generateExecutiveReport(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported report type: %s", req.Type)
	}
}

func (g *Generator) finishReport(req *ReportRequest, data []byte, prefix string) *Report {
	stamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.csv", prefix, stamp)
	mimeType := "text/csv"
	if req.Format == FormatPDF {
		filename = fmt.Sprintf("%s_%s.pdf", prefix, stamp)
		mimeType = "application/pdf"
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}
}

func (g *Generator) generateAssessmentReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	if req.ResultID == nil {
		return nil, fmt.Errorf("assessment report requires a result id")
	}

	assessment, err := g.provider.GetAssessment(ctx, req.TenantID, *req.ResultID)
	if err != nil {
		return nil, fmt.Errorf("fetching assessment: %w", err)
	}

	var data []byte
	switch req.Format {
	case FormatCSV:
		data, err = g.assessmentToCSV(assessment)
	case FormatPDF:
		data, err = g.assessmentToPDF(assessment, req.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	return g.finishReport(req, data, "assessment"), nil
}

func (g *Generator) assessmentToCSV(a *ReportAssessment) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Assessment Report", a.FrameworkID})
	_ = w.Write([]string{"Executed", a.ExecutedAt.Format(time.RFC3339)})
	_ = w.Write([]string{"Overall Score", fmt.Sprintf("%.1f", a.OverallScore)})
	_ = w.Write([]string{""})

	header := []string{
		"Control", "Title", "Rating", "Previous Rating", "Confidence",
		"Evidence", "Verified", "Requires Review", "Rationale",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, f := range a.Findings {
		row := []string{
			f.ControlRef,
			f.Title,
			f.Rating,
			f.PreviousRating,
			fmt.Sprintf("%.2f", f.Confidence),
			fmt.Sprintf("%d", f.EvidenceCount),
			fmt.Sprintf("%d", f.VerifiedCount),
			fmt.Sprintf("%t", f.RequiresReview),
			f.Rationale,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) assessmentToPDF(a *ReportAssessment, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Summary")
	pdf.AddParagraph(fmt.Sprintf("Framework %s assessed on %s. Overall score: %.1f.",
		a.FrameworkID, a.ExecutedAt.Format("January 2, 2006"), a.OverallScore))
	pdf.AddSummaryTable(map[string]int{
		"Compliant":         a.Compliant,
		"Partially":         a.Partial,
		"Non-compliant":     a.NonCompliant,
		"Controls assessed": len(a.Findings),
	})

	pdf.AddSection("Control Findings")
	headers := []string{"Control", "Rating", "Confidence", "Evidence", "Review"}
	rows := make([][]string, len(a.Findings))
	for i, f := range a.Findings {
		review := ""
		if f.RequiresReview {
			review = "yes"
		}
		rows[i] = []string{
			f.ControlRef,
			f.Rating,
			fmt.Sprintf("%.2f", f.Confidence),
			fmt.Sprintf("%d/%d", f.VerifiedCount, f.EvidenceCount),
			review,
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateControlsReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	controls, err := g.provider.GetControls(ctx, req.FrameworkID)
	if err != nil {
		return nil, fmt.Errorf("fetching controls: %w", err)
	}

	var data []byte
	switch req.Format {
	case FormatCSV:
		data, err = g.controlsToCSV(controls)
	case FormatPDF:
		data, err = g.controlsToPDF(controls, req.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	return g.finishReport(req, data, "controls"), nil
}

func (g *Generator) controlsToCSV(controls []ReportControl) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Control ID", "Title", "Framework", "Category", "Type",
		"Status", "Difficulty", "Confidence", "Created At",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, c := range controls {
		row := []string{
			c.ControlID,
			c.Title,
			c.FrameworkID,
			c.Category,
			c.Type,
			c.Status,
			c.Difficulty,
			fmt.Sprintf("%.2f", c.Confidence),
			c.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) controlsToPDF(controls []ReportControl, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Control Catalog")

	byStatus := map[string]int{}
	for _, c := range controls {
		byStatus[c.Status]++
	}
	pdf.AddSummaryTable(byStatus)

	headers := []string{"Control", "Title", "Category", "Status", "Difficulty"}
	rows := make([][]string, len(controls))
	for i, c := range controls {
		rows[i] = []string{
			c.ControlID,
			truncate(c.Title, 40),
			c.Category,
			c.Status,
			c.Difficulty,
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateUpdatesReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	updates, err := g.provider.GetUpdates(ctx, req.DateFrom, req.DateTo)
	if err != nil {
		return nil, fmt.Errorf("fetching updates: %w", err)
	}

	var data []byte
	switch req.Format {
	case FormatCSV:
		data, err = g.updatesToCSV(updates)
	case FormatPDF:
		data, err = g.updatesToPDF(updates, req.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	return g.finishReport(req, data, "updates"), nil
}

func (g *Generator) updatesToCSV(updates []ReportUpdate) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"Source", "Title", "Type", "Impact", "Status", "Detected At"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, u := range updates {
		row := []string{
			u.SourceName,
			u.Title,
			u.UpdateType,
			u.ImpactLevel,
			u.Status,
			u.DetectedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) updatesToPDF(updates []ReportUpdate, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Regulatory Changes")

	byImpact := map[string]int{}
	for _, u := range updates {
		byImpact[u.ImpactLevel]++
	}
	pdf.AddSummaryTable(byImpact)

	headers := []string{"Source", "Title", "Impact", "Status", "Detected"}
	rows := make([][]string, len(updates))
	for i, u := range updates {
		rows[i] = []string{
			truncate(u.SourceName, 25),
			truncate(u.Title, 35),
			u.ImpactLevel,
			u.Status,
			u.DetectedAt.Format("2006-01-02"),
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateExecutiveReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	stats, err := g.provider.GetPostureStats(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("fetching posture stats: %w", err)
	}

	var data []byte
	switch req.Format {
	case FormatCSV:
		data, err = g.executiveToCSV(stats)
	case FormatPDF:
		data, err = g.executiveToPDF(stats, req.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	return g.finishReport(req, data, "executive"), nil
}

func (g *Generator) executiveToCSV(stats *PostureStats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Compliance Posture Summary"})
	_ = w.Write([]string{"Generated", time.Now().Format(time.RFC1123)})
	_ = w.Write([]string{""})

	_ = w.Write([]string{"Metric", "Value"})
	_ = w.Write([]string{"Frameworks", fmt.Sprintf("%d", stats.Frameworks)})
	_ = w.Write([]string{"Total Controls", fmt.Sprintf("%d", stats.TotalControls)})
	_ = w.Write([]string{"Implemented Controls", fmt.Sprintf("%d", stats.ImplementedCount)})
	_ = w.Write([]string{"Controls Pending Approval", fmt.Sprintf("%d", stats.PendingCount)})
	_ = w.Write([]string{"Updates (30 days)", fmt.Sprintf("%d", stats.UpdatesLast30Days)})
	_ = w.Write([]string{"Critical Updates", fmt.Sprintf("%d", stats.CriticalUpdates)})
	_ = w.Write([]string{"Pending Feedback", fmt.Sprintf("%d", stats.PendingFeedback)})

	_ = w.Write([]string{""})
	_ = w.Write([]string{"Framework", "Latest Score"})
	for fw, score := range stats.LatestScores {
		_ = w.Write([]string{fw, fmt.Sprintf("%.1f", score)})
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) executiveToPDF(stats *PostureStats, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Compliance Posture")
	pdf.AddParagraph(fmt.Sprintf("Report generated on %s.", time.Now().Format(time.RFC1123)))

	pdf.AddSummaryTable(map[string]int{
		"Frameworks":                stats.Frameworks,
		"Total Controls":            stats.TotalControls,
		"Implemented Controls":      stats.ImplementedCount,
		"Controls Pending Approval": stats.PendingCount,
		"Updates (30 days)":         stats.UpdatesLast30Days,
		"Critical Updates":          stats.CriticalUpdates,
	})

	pdf.AddSection("Latest Scores by Framework")
	pdf.AddScoreBars(stats.LatestScores)

	return pdf.Output()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

// StreamCSV writes a CSV report directly to w without buffering the whole
// document, for download endpoints.
func (g *Generator) StreamCSV(ctx context.Context, w io.Writer, req *ReportRequest) error {
	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	switch req.Type {
	case ReportTypeControls:
		controls, err := g.provider.GetControls(ctx, req.FrameworkID)
		if err != nil {
			return err
		}

		header := []string{"Control ID", "Title", "Framework", "Category", "Status"}
		if err := csvWriter.Write(header); err != nil {
			return err
		}

		for _, c := range controls {
			row := []string{c.ControlID, c.Title, c.FrameworkID, c.Category, c.Status}
			if err := csvWriter.Write(row); err != nil {
				return err
			}
		}

	case ReportTypeUpdates:
		updates, err := g.provider.GetUpdates(ctx, req.DateFrom, req.DateTo)
		if err != nil {
			return err
		}

		header := []string{"Source", "Title", "Type", "Impact", "Status", "Detected At"}
		if err := csvWriter.Write(header); err != nil {
			return err
		}

		for _, u := range updates {
			row := []string{
				u.SourceName, u.Title, u.UpdateType,
				u.ImpactLevel, u.Status, u.DetectedAt.Format(time.RFC3339),
			}
			if err := csvWriter.Write(row); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("streaming not supported for report type: %s", req.Type)
	}

	return nil
}
