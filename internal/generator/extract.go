package generator

import (
	"regexp"
	"strings"
)

// Section is one segment of a regulatory document.
type Section struct {
	Heading string
	Body    string
}

// Requirement is one obligation statement extracted from a section.
type Requirement struct {
	Text        string
	Section     string
	Modal       bool // matched the modal-obligation family (shall/must/...)
	HasCitation bool
}

// TextClassifier extracts obligation statements from regulatory text. The
// default implementation is pattern-based; an LLM-backed one can be swapped
// in without touching the pipeline.
type TextClassifier interface {
	Segment(text string) []Section
	ExtractRequirements(section Section) []Requirement
}

var (
	headingRe = regexp.MustCompile(`(?m)^\s*(?:Article\s+\d+[a-z]?|Section\s+\d+(?:\.\d+)*|§+\s*\d+(?:\.\d+)*|ARTICLE\s+[IVXLC]+|\d+\.\d*\s+[A-Z][^\n]{3,80})\s*[:.\-]?\s*$`)

	// Two pattern families: modal-obligation language and action-obligation
	// language. A sentence matching either is a candidate requirement.
	modalRe  = regexp.MustCompile(`(?i)\b(shall|must|required to|obligated to|needs to)\b`)
	actionRe = regexp.MustCompile(`(?i)\b(ensure|maintain|implement|establish|provide)\b`)

	citationRe = regexp.MustCompile(`(?i)(article|section|§)\s*\d+`)

	sentenceSplitRe = regexp.MustCompile(`(?m)(?:[.;]\s+|[.;]?\n)`)
)

// minRequirementLength filters out sentence fragments.
const minRequirementLength = 20

// PatternClassifier is the default heuristic TextClassifier.
type PatternClassifier struct{}

func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Segment splits text into sections at heading or article markers. When no
// marker is found the whole document becomes one section.
func (c *PatternClassifier) Segment(text string) []Section {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	locs := headingRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []Section{{Heading: "Document", Body: text}}
	}

	var sections []Section
	if locs[0][0] > 0 {
		preamble := strings.TrimSpace(text[:locs[0][0]])
		if preamble != "" {
			sections = append(sections, Section{Heading: "Preamble", Body: preamble})
		}
	}

	for i, loc := range locs {
		heading := strings.TrimSpace(text[loc[0]:loc[1]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		sections = append(sections, Section{Heading: heading, Body: body})
	}

	return sections
}

// ExtractRequirements pulls obligation sentences out of a section,
// de-duplicated and filtered to a minimum length.
func (c *PatternClassifier) ExtractRequirements(section Section) []Requirement {
	sentences := sentenceSplitRe.Split(section.Body, -1)

	seen := make(map[string]bool)
	var requirements []Requirement

	for _, raw := range sentences {
		sentence := strings.TrimSpace(raw)
		if len(sentence) < minRequirementLength {
			continue
		}

		modal := modalRe.MatchString(sentence)
		if !modal && !actionRe.MatchString(sentence) {
			continue
		}

		key := strings.ToLower(sentence)
		if seen[key] {
			continue
		}
		seen[key] = true

		requirements = append(requirements, Requirement{
			Text:        sentence,
			Section:     section.Heading,
			Modal:       modal,
			HasCitation: citationRe.MatchString(sentence) || citationRe.MatchString(section.Heading),
		})
	}

	return requirements
}
