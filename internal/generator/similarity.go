package generator

import (
	"strings"

	"github.com/complyer/complyer/internal/models"
)

// Similarity thresholds for persisting and bucketing mappings.
const (
	mappingThreshold    = 0.6
	equivalentThreshold = 0.9
	partialThreshold    = 0.75
)

// SimilarityScorer computes pairwise similarity between two controls.
// The default is a weighted token-overlap heuristic; an embedding-backed
// scorer can be substituted.
type SimilarityScorer interface {
	Score(a, b *models.GeneratedControl) float64
}

// TokenOverlapScorer blends category match (0.2), domain substring overlap
// (0.2), title token overlap (0.3), and description token overlap on the
// first 50 tokens (0.3).
type TokenOverlapScorer struct{}

func NewTokenOverlapScorer() *TokenOverlapScorer {
	return &TokenOverlapScorer{}
}

func (sc *TokenOverlapScorer) Score(a, b *models.GeneratedControl) float64 {
	var score float64

	if a.Category == b.Category {
		score += 0.2
	}

	score += 0.2 * domainOverlap(a, b)
	score += 0.3 * tokenOverlap(tokenize(a.Title, 0), tokenize(b.Title, 0))
	score += 0.3 * tokenOverlap(tokenize(a.Description, 50), tokenize(b.Description, 50))

	return score
}

// domainOverlap checks whether the controls share compliance-domain
// vocabulary (encryption, access, training, ...).
func domainOverlap(a, b *models.GeneratedControl) float64 {
	domains := []string{
		"encrypt", "access", "training", "incident", "backup", "retention",
		"audit", "monitor", "vendor", "risk", "privacy", "authentication",
	}
	aText := strings.ToLower(a.Title + " " + a.Description)
	bText := strings.ToLower(b.Title + " " + b.Description)

	var shared, either int
	for _, d := range domains {
		inA := strings.Contains(aText, d)
		inB := strings.Contains(bText, d)
		if inA || inB {
			either++
		}
		if inA && inB {
			shared++
		}
	}
	if either == 0 {
		return 0
	}
	return float64(shared) / float64(either)
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "is": true, "are": true,
	"be": true, "that": true, "with": true, "by": true, "all": true,
}

// tokenize lowercases and splits text into non-stopword tokens, keeping at
// most limit tokens (0 = unlimited).
func tokenize(text string, limit int) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	tokens := make(map[string]bool)
	count := 0
	for _, f := range fields {
		if limit > 0 && count >= limit {
			break
		}
		count++
		if len(f) < 3 || stopwords[f] {
			continue
		}
		tokens[f] = true
	}
	return tokens
}

// tokenOverlap is |intersection| / |smaller set|, so a short title that is
// fully contained in a longer one still scores high.
func tokenOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var shared int
	for t := range a {
		if b[t] {
			shared++
		}
	}
	denom := len(a)
	if len(b) < denom {
		denom = len(b)
	}
	return float64(shared) / float64(denom)
}

// mappingTypeFor buckets a similarity score.
func mappingTypeFor(similarity float64) models.MappingType {
	switch {
	case similarity >= equivalentThreshold:
		return models.MappingEquivalent
	case similarity >= partialThreshold:
		return models.MappingPartial
	default:
		return models.MappingRelated
	}
}
