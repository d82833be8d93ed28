package generator

import (
	"strings"
	"testing"
)

func TestSegment(t *testing.T) {
	c := NewPatternClassifier()

	tests := []struct {
		name     string
		text     string
		sections int
	}{
		{"empty input", "   ", 0},
		{"no headings is one section", "The controller shall maintain records of processing activities at all times.", 1},
		{
			"article headings split sections",
			"Article 5\nData shall be processed lawfully.\nArticle 6\nProcessing shall be lawful only if consented.",
			2,
		},
		{
			"preamble before first heading",
			"This regulation lays down rules.\nArticle 1\nSubject matter and objectives.",
			2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Segment(tt.text)
			if len(got) != tt.sections {
				t.Errorf("expected %d sections, got %d", tt.sections, len(got))
			}
		})
	}
}

func TestSegment_HeadingCaptured(t *testing.T) {
	c := NewPatternClassifier()
	sections := c.Segment("Article 32\nThe controller shall implement appropriate technical measures.")

	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if sections[0].Heading != "Article 32" {
		t.Errorf("expected heading 'Article 32', got %q", sections[0].Heading)
	}
}

func TestExtractRequirements(t *testing.T) {
	c := NewPatternClassifier()

	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{
			"modal sentence extracted",
			"The controller shall maintain a record of all processing activities.",
			1,
		},
		{
			"action verb without modal extracted",
			"Organizations are expected to implement encryption for data at rest and in transit.",
			1,
		},
		{
			"descriptive sentence skipped",
			"This chapter describes the background of the regulation in general terms without verbs of interest.",
			0,
		},
		{
			"short fragments skipped",
			"Data shall be kept. It must.",
			0,
		},
		{
			"duplicates collapse",
			"The processor must notify the controller of any breach. The processor must notify the controller of any breach.\n",
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ExtractRequirements(Section{Heading: "Test", Body: tt.body})
			if len(got) != tt.expected {
				t.Errorf("expected %d requirements, got %d", tt.expected, len(got))
			}
		})
	}
}

func TestExtractRequirements_Flags(t *testing.T) {
	c := NewPatternClassifier()

	reqs := c.ExtractRequirements(Section{
		Heading: "Article 30",
		Body:    "The controller shall maintain a record of processing under Article 30. Organizations implement reasonable safeguards for stored records.",
	})
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(reqs))
	}

	modal := reqs[0]
	if !modal.Modal {
		t.Error("expected first requirement to be modal")
	}
	if !modal.HasCitation {
		t.Error("expected citation flag from Article reference")
	}

	action := reqs[1]
	if action.Modal {
		t.Error("expected second requirement to be non-modal")
	}
	// Heading citation carries over to every requirement in the section.
	if !action.HasCitation {
		t.Error("expected heading citation to apply")
	}
}

func TestExtractRequirements_SectionName(t *testing.T) {
	c := NewPatternClassifier()
	reqs := c.ExtractRequirements(Section{
		Heading: "Section 4.2",
		Body:    "Entities must establish an incident response procedure covering detection and recovery.",
	})
	if len(reqs) != 1 {
		t.Fatalf("expected 1 requirement, got %d", len(reqs))
	}
	if reqs[0].Section != "Section 4.2" {
		t.Errorf("expected section name carried, got %q", reqs[0].Section)
	}
	if !strings.HasPrefix(reqs[0].Text, "Entities must") {
		t.Errorf("unexpected requirement text %q", reqs[0].Text)
	}
}
