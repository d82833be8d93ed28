// Package ai provides the optional LLM-backed analyzer for regulatory
// change analysis. When no API key is configured the rest of the system
// falls back to pattern-based heuristics.
package ai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/complyer/complyer/internal/models"
)

const maxTokens = 2048

const systemPrompt = `You are a regulatory compliance analyst. You receive an excerpt of changed
content from a monitored regulatory source. Respond with a JSON object with
these fields:
  "summary": one-paragraph summary of the change,
  "affected_frameworks": array of framework identifiers likely affected,
  "extracted_requirements": array of obligation statements quoted or
    paraphrased from the excerpt,
  "suggested_actions": array of short recommended follow-ups,
  "effective_date": the effective date if stated, else empty string.`

type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{client: openai.NewClient(apiKey), model: model}
}

// AnalyzeChange implements monitor.Analyzer.
func (c *Client) AnalyzeChange(ctx context.Context, source *models.RegulatorySource, snippet string) (*models.UpdateAnalysis, error) {
	user := fmt.Sprintf("Source: %s (%s, jurisdiction %s)\nRelated frameworks: %v\n\nChanged content:\n%s",
		source.Name, source.URL, source.Jurisdiction, []string(source.RelatedFrameworks), snippet)

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}

	var analysis models.UpdateAnalysis
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &analysis); err != nil {
		return nil, fmt.Errorf("parsing analysis response: %w", err)
	}
	analysis.AnalyzedBy = c.model

	return &analysis, nil
}
