package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/render"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/pkg/summarize"
	"github.com/recaphq/recap/pkg/vtt"
)

// GenerateSummary turns the stored transcript into a new summary version.
// Input data: meeting_id and optionally custom_instructions from a
// reprocess command.
type GenerateSummary struct {
	meetings    *store.MeetingStore
	parts       *store.ParticipantStore
	transcripts *store.TranscriptStore
	summaries   *store.SummaryStore
	summarizer  summarize.Summarizer
	log         *slog.Logger
}

// NewGenerateSummary builds the generate_summary processor.
func NewGenerateSummary(meetings *store.MeetingStore, parts *store.ParticipantStore, transcripts *store.TranscriptStore, summaries *store.SummaryStore, summarizer summarize.Summarizer) *GenerateSummary {
	return &GenerateSummary{
		meetings:    meetings,
		parts:       parts,
		transcripts: transcripts,
		summaries:   summaries,
		summarizer:  summarizer,
		log:         slog.With("component", "generate_summary"),
	}
}

// Process implements queue.Processor. Summarizer failures use the normal
// backoff; a meeting without a stored transcript cannot ever succeed and
// fails permanently.
func (p *GenerateSummary) Process(ctx context.Context, job *models.Job) (models.JSONMap, error) {
	meetingID := job.MeetingKey()
	if meetingID == "" {
		return nil, queue.NonRetryable(fmt.Errorf("generate_summary job %s has no meeting", job.ID))
	}

	meeting, err := p.meetings.GetByMeetingID(ctx, meetingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, queue.NonRetryable(fmt.Errorf("meeting %s does not exist", meetingID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading meeting %s: %w", meetingID, err)
	}

	tr, err := p.transcripts.GetByMeetingID(ctx, meetingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, queue.NonRetryable(fmt.Errorf("meeting %s has no stored transcript", meetingID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}

	names := p.participantNames(ctx, meetingID)
	instructions := job.InputData.GetString("custom_instructions")

	in := &summarize.Input{
		Subject:            meeting.Subject,
		Participants:       names,
		Transcript:         vtt.PlainText(tr.ParsedContent),
		CustomInstructions: instructions,
	}
	if meeting.StartTime != nil {
		in.StartTime = *meeting.StartTime
	}
	if meeting.EndTime != nil {
		in.EndTime = *meeting.EndTime
	}

	res, err := p.summarizer.Summarize(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("summarizing meeting %s: %w", meetingID, err)
	}

	html, err := render.Email(meeting, names, res)
	if err != nil {
		return nil, queue.NonRetryable(err)
	}

	row := summaryRow(meetingID, res, html, instructions)
	if err := p.summaries.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("storing summary: %w", err)
	}
	if err := p.meetings.MarkSummaryGenerated(ctx, meetingID); err != nil {
		return nil, fmt.Errorf("marking summary generated: %w", err)
	}

	p.log.Info("Summary generated", "meeting_id", meetingID, "version", row.Version,
		"model", res.Model, "input_tokens", res.InputTokens, "output_tokens", res.OutputTokens)
	return models.JSONMap{
		"summary_id":    row.ID,
		"version":       row.Version,
		"model":         res.Model,
		"input_tokens":  res.InputTokens,
		"output_tokens": res.OutputTokens,
		"cost_usd":      res.CostUSD,
	}, nil
}

// participantNames lists attendee display names for the prompt and the
// rendered email header. A listing failure degrades to an empty list rather
// than blocking the summary.
func (p *GenerateSummary) participantNames(ctx context.Context, meetingID string) []string {
	parts, err := p.parts.ListByMeeting(ctx, meetingID)
	if err != nil {
		p.log.Warn("Participant listing failed", "meeting_id", meetingID, "error", err)
		return nil
	}
	var names []string
	for _, part := range parts {
		if !part.Attended {
			continue
		}
		switch {
		case part.DisplayName != "":
			names = append(names, part.DisplayName)
		case part.Email != nil && *part.Email != "":
			names = append(names, *part.Email)
		}
	}
	return names
}
