package compression

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/pkg/errors"

	"github.com/ollm-run/ollmcore/pkg/ollmerr"
)

// AnthropicSummarizer drives the Anthropic Messages API as a concrete
// Summarizer. It is used for the summarise and hybrid strategies when
// the session is configured against an Anthropic-compatible endpoint.
type AnthropicSummarizer struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicSummarizer creates a summarizer over an existing client.
// An empty model selects a small default suitable for utility calls.
func NewAnthropicSummarizer(client anthropic.Client, model anthropic.Model) *AnthropicSummarizer {
	if model == "" {
		model = anthropic.ModelClaudeHaiku4_5_20251001
	}
	return &AnthropicSummarizer{client: client, model: model}
}

// Summarize implements Summarizer.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error) {
	prompt := BuildSummaryPrompt(req)

	message, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: int64(req.TokenBudget),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return SummarizeResult{}, ollmerr.Wrap(ollmerr.ProviderUnavailable, err, "summarisation request failed")
	}

	var text strings.Builder
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	if text.Len() == 0 {
		return SummarizeResult{}, ollmerr.New(ollmerr.ProviderUnavailable, "summarisation returned no text")
	}

	if req.Structured {
		return parseStructuredSummary(text.String())
	}
	return SummarizeResult{Summary: text.String()}, nil
}

// parseStructuredSummary decodes the JSON reply requested by
// structured-preservation prompts, degrading to plain text when the
// model did not comply.
func parseStructuredSummary(raw string) (SummarizeResult, error) {
	var decoded struct {
		Summary       string   `json:"summary"`
		KeyDecisions  []string `json:"key_decisions"`
		FilesModified []string `json:"files_modified"`
		NextSteps     []string `json:"next_steps"`
	}

	trimmed := strings.TrimSpace(raw)
	// Models occasionally wrap JSON in a fenced block.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return SummarizeResult{Summary: raw}, nil
	}
	if decoded.Summary == "" {
		return SummarizeResult{}, errors.New("structured summary missing summary field")
	}
	return SummarizeResult{
		Summary:       decoded.Summary,
		KeyDecisions:  decoded.KeyDecisions,
		FilesModified: decoded.FilesModified,
		NextSteps:     decoded.NextSteps,
	}, nil
}
