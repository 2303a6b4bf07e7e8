package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Utterance is one speaker-segmented span of a parsed transcript.
type Utterance struct {
	Speaker string `json:"speaker"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Text    string `json:"text"`
}

// Utterances maps the parsed_content JSONB column.
type Utterances []Utterance

// Value implements driver.Valuer.
func (u Utterances) Value() (driver.Value, error) {
	if u == nil {
		return nil, nil
	}
	return json.Marshal(u)
}

// Scan implements sql.Scanner.
func (u *Utterances) Scan(src any) error {
	if src == nil {
		*u = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Utterances", src)
	}
	return json.Unmarshal(data, u)
}

// Transcript holds the WebVTT content for a meeting, one row per meeting.
// Recurring meetings that deliver a newer transcript replace the row.
type Transcript struct {
	ID                      string     `db:"id" json:"id"`
	MeetingID               string     `db:"meeting_id" json:"meeting_id"`
	TranscriptID            *string    `db:"transcript_id" json:"transcript_id,omitempty"`
	VTTContent              string     `db:"vtt_content" json:"-"`
	VTTURL                  *string    `db:"vtt_url" json:"vtt_url,omitempty"`
	ParsedContent           Utterances `db:"parsed_content" json:"parsed_content,omitempty"`
	WordCount               int        `db:"word_count" json:"word_count"`
	SpeakerCount            int        `db:"speaker_count" json:"speaker_count"`
	TranscriptSharepointURL *string    `db:"transcript_sharepoint_url" json:"transcript_sharepoint_url,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
}
