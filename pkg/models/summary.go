package models

import "time"

// Summary is one generated summary version for a meeting. Versions start at 1;
// exactly one row per meeting has SupersededBy == nil and that row is current.
type Summary struct {
	ID                 string    `db:"id" json:"id"`
	MeetingID          string    `db:"meeting_id" json:"meeting_id"`
	Version            int       `db:"version" json:"version"`
	SupersededBy       *string   `db:"superseded_by" json:"superseded_by,omitempty"`
	SummaryText        string    `db:"summary_text" json:"summary_text"`
	SummaryHTML        string    `db:"summary_html" json:"summary_html"`
	ActionItemsJSON    JSONMap   `db:"action_items_json" json:"action_items,omitempty"`
	DecisionsJSON      JSONMap   `db:"decisions_json" json:"decisions,omitempty"`
	TopicsJSON         JSONMap   `db:"topics_json" json:"topics,omitempty"`
	HighlightsJSON     JSONMap   `db:"highlights_json" json:"highlights,omitempty"`
	MentionsJSON       JSONMap   `db:"mentions_json" json:"mentions,omitempty"`
	KeyNumbersJSON     JSONMap   `db:"key_numbers_json" json:"key_numbers,omitempty"`
	MeetingType        *string   `db:"meeting_type" json:"meeting_type,omitempty"`
	Sentiment          *string   `db:"sentiment" json:"sentiment,omitempty"`
	Model              string    `db:"model" json:"model"`
	InputTokens        int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens       int       `db:"output_tokens" json:"output_tokens"`
	CostUSD            float64   `db:"cost_usd" json:"cost_usd"`
	CustomInstructions *string   `db:"custom_instructions" json:"custom_instructions,omitempty"`
	GeneratedAt        time.Time `db:"generated_at" json:"generated_at"`
}
