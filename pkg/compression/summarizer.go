package compression

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollm-run/ollmcore/pkg/types"
)

// SummarizeRequest carries one summarisation call's inputs.
type SummarizeRequest struct {
	// Transcript is the rendered span of messages to compress.
	Transcript string
	// TokenBudget bounds the summary's size.
	TokenBudget int
	// Structured requests the key_decisions / files_modified /
	// next_steps preservation fields alongside the free-text summary.
	Structured bool
	// MaximalDetail loosens the brevity instruction for the top tier.
	MaximalDetail bool
	// Prior fields from checkpoints being merged hierarchically; they
	// are re-embedded verbatim into the new summary's fields.
	PriorKeyDecisions  []string
	PriorFilesModified []string
	PriorNextSteps     []string
}

// SummarizeResult is the provider's summary plus extracted
// preservation fields.
type SummarizeResult struct {
	Summary       string
	KeyDecisions  []string
	FilesModified []string
	NextSteps     []string
}

// Summarizer abstracts the model-provider call that turns a transcript
// span into a summary. Implementations must be safe for sequential
// reuse; the engine never calls Summarize concurrently.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error)
}

// BuildSummaryPrompt renders the instruction given to the provider for
// a summarisation call.
func BuildSummaryPrompt(req SummarizeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarise the following conversation excerpt in at most %d tokens. ", req.TokenBudget)
	if req.MaximalDetail {
		b.WriteString("Preserve as much specific detail as the budget allows. ")
	} else {
		b.WriteString("Keep only what later turns will need. ")
	}
	if req.Structured {
		b.WriteString("Reply as JSON: {\"summary\": string, \"key_decisions\": [string], \"files_modified\": [string], \"next_steps\": [string]}. ")
	} else {
		b.WriteString("Reply with the summary text only. ")
	}
	if len(req.PriorKeyDecisions)+len(req.PriorFilesModified)+len(req.PriorNextSteps) > 0 {
		b.WriteString("Carry these earlier facts forward verbatim:\n")
		for _, d := range req.PriorKeyDecisions {
			fmt.Fprintf(&b, "- decision: %s\n", d)
		}
		for _, f := range req.PriorFilesModified {
			fmt.Fprintf(&b, "- file: %s\n", f)
		}
		for _, n := range req.PriorNextSteps {
			fmt.Fprintf(&b, "- next: %s\n", n)
		}
	}
	b.WriteString("\n---\n")
	b.WriteString(req.Transcript)
	return b.String()
}

// RenderTranscript flattens a span of messages into the text handed to
// the summariser.
func RenderTranscript(messages []types.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Text())
	}
	return b.String()
}
