package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/recaphq/recap/pkg/config"
)

const systemPrompt = `You summarize corporate meeting transcripts. Respond with a single JSON object and nothing else, using exactly these keys:
{
  "summary": "2-4 paragraph prose summary",
  "action_items": [{"description": "...", "owner": "...", "due_date": "..."}],
  "decisions": ["..."],
  "topics": ["..."],
  "highlights": ["..."],
  "mentions": [{"name": "...", "context": "..."}],
  "key_numbers": [{"value": "...", "context": "..."}],
  "meeting_type": "standup|planning|1:1|review|all-hands|other",
  "sentiment": "positive|neutral|tense"
}
Omit array entries you cannot ground in the transcript. Never invent owners or dates.`

// Pricing per million tokens, used for the cost ledger. Unknown models fall
// back to the sonnet rate.
var modelPricing = map[string]struct{ in, out float64 }{
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-haiku-4-5":  {1.00, 5.00},
	"claude-opus-4-1":   {15.00, 75.00},
}

// messagesClient is the subset of the Anthropic SDK used here, satisfied by
// *sdk.MessageService and by mocks in tests.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicSummarizer implements Summarizer on the Anthropic Messages API.
type AnthropicSummarizer struct {
	msg       messagesClient
	model     string
	maxTokens int
}

// NewAnthropicSummarizer builds the default summarizer from configuration.
func NewAnthropicSummarizer(cfg *config.SummarizerConfig) *AnthropicSummarizer {
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicSummarizer{
		msg:       &client.Messages,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Summarize sends the transcript to the model and decodes the structured
// JSON response.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, in *Input) (*Result, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return nil, fmt.Errorf("transcript is empty")
	}

	msg, err := s.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildUserPrompt(in))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("model returned no text content")
	}

	result, err := decodeResult(text)
	if err != nil {
		return nil, err
	}

	result.Model = s.model
	result.InputTokens = int(msg.Usage.InputTokens)
	result.OutputTokens = int(msg.Usage.OutputTokens)
	result.CostUSD = cost(s.model, result.InputTokens, result.OutputTokens)
	return result, nil
}

// buildUserPrompt assembles the meeting context and transcript.
func buildUserPrompt(in *Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting: %s\n", in.Subject)
	if !in.StartTime.IsZero() {
		fmt.Fprintf(&b, "When: %s", in.StartTime.Format("Monday, 2 January 2006 15:04 MST"))
		if !in.EndTime.IsZero() {
			fmt.Fprintf(&b, " (%s)", in.EndTime.Sub(in.StartTime).Round(time.Minute))
		}
		b.WriteByte('\n')
	}
	if len(in.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(in.Participants, ", "))
	}
	if in.CustomInstructions != "" {
		fmt.Fprintf(&b, "\nAdditional instructions from the requester: %s\n", in.CustomInstructions)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(in.Transcript)
	return b.String()
}

// decodeResult parses the model's JSON, tolerating a markdown code fence
// around it.
func decodeResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("decoding summary JSON: %w", err)
	}
	if strings.TrimSpace(result.SummaryText) == "" {
		return nil, fmt.Errorf("summary JSON has no summary text")
	}
	return &result, nil
}

func cost(model string, inputTokens, outputTokens int) float64 {
	rate, ok := modelPricing[model]
	if !ok {
		rate = modelPricing["claude-sonnet-4-5"]
	}
	return float64(inputTokens)/1e6*rate.in + float64(outputTokens)/1e6*rate.out
}
