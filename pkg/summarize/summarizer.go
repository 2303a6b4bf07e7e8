// Package summarize turns parsed meeting transcripts into structured
// summaries. The default implementation calls the Anthropic Messages API;
// the interface keeps processors testable without network access.
package summarize

import (
	"context"
	"time"
)

// Input is everything the summarizer needs about one meeting.
type Input struct {
	Subject      string
	StartTime    time.Time
	EndTime      time.Time
	Participants []string
	Transcript   string

	// CustomInstructions carries operator guidance from a reprocess
	// command, empty otherwise.
	CustomInstructions string
}

// ActionItem is one follow-up extracted from the transcript.
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// Mention is a person or team referenced in a notable context.
type Mention struct {
	Name    string `json:"name"`
	Context string `json:"context,omitempty"`
}

// KeyNumber is a figure quoted in the meeting worth surfacing.
type KeyNumber struct {
	Value   string `json:"value"`
	Context string `json:"context,omitempty"`
}

// Result is the structured summary of one meeting.
type Result struct {
	SummaryText string       `json:"summary"`
	ActionItems []ActionItem `json:"action_items,omitempty"`
	Decisions   []string     `json:"decisions,omitempty"`
	Topics      []string     `json:"topics,omitempty"`
	Highlights  []string     `json:"highlights,omitempty"`
	Mentions    []Mention    `json:"mentions,omitempty"`
	KeyNumbers  []KeyNumber  `json:"key_numbers,omitempty"`

	// MeetingType classifies the meeting (standup, planning, 1:1, review,
	// all-hands, other). Sentiment is positive, neutral, or tense.
	MeetingType string `json:"meeting_type,omitempty"`
	Sentiment   string `json:"sentiment,omitempty"`

	// Accounting, filled by the implementation.
	Model        string  `json:"-"`
	InputTokens  int     `json:"-"`
	OutputTokens int     `json:"-"`
	CostUSD      float64 `json:"-"`
}

// Summarizer produces a structured summary for a meeting transcript.
type Summarizer interface {
	Summarize(ctx context.Context, in *Input) (*Result, error)
}
