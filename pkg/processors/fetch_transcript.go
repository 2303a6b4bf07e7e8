package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/pkg/vtt"
)

// TranscriptAPI is the Graph slice the transcript processor needs.
type TranscriptAPI interface {
	ListTranscripts(ctx context.Context, userID, meetingID string) ([]graph.TranscriptInfo, error)
	GetTranscriptContent(ctx context.Context, userID, meetingID, transcriptID string) ([]byte, error)
}

// FetchTranscript downloads and parses the WebVTT transcript of a meeting.
// Input data: meeting_id, organizer_user_id, and optionally transcript_id
// when a transcript-ready notification named one.
type FetchTranscript struct {
	graph       TranscriptAPI
	meetings    *store.MeetingStore
	parts       *store.ParticipantStore
	transcripts *store.TranscriptStore
	log         *slog.Logger
}

// NewFetchTranscript builds the fetch_transcript processor.
func NewFetchTranscript(g TranscriptAPI, meetings *store.MeetingStore, parts *store.ParticipantStore, transcripts *store.TranscriptStore) *FetchTranscript {
	return &FetchTranscript{
		graph:       g,
		meetings:    meetings,
		parts:       parts,
		transcripts: transcripts,
		log:         slog.With("component", "fetch_transcript"),
	}
}

// Process implements queue.Processor. A provider that has no transcript yet
// yields ErrTranscriptNotReady for the bounded wait ladder; a 403 under the
// organizer's identity is retried once under a pilot participant's before
// failing permanently.
func (p *FetchTranscript) Process(ctx context.Context, job *models.Job) (models.JSONMap, error) {
	meetingID := job.MeetingKey()
	if meetingID == "" {
		return nil, queue.NonRetryable(fmt.Errorf("fetch_transcript job %s has no meeting", job.ID))
	}

	meeting, err := p.meetings.GetByMeetingID(ctx, meetingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, queue.NonRetryable(fmt.Errorf("meeting %s does not exist", meetingID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading meeting %s: %w", meetingID, err)
	}

	organizer := job.InputData.GetString("organizer_user_id")
	if organizer == "" && meeting.OrganizerUserID != nil {
		organizer = *meeting.OrganizerUserID
	}
	if organizer == "" {
		return nil, queue.NonRetryable(fmt.Errorf("meeting %s has no organizer identity for transcript access", meetingID))
	}

	wantID := job.InputData.GetString("transcript_id")

	content, transcriptID, err := p.download(ctx, organizer, meetingID, wantID)
	if graph.IsPermissionDenied(err) {
		if alt := p.pilotIdentity(ctx, meetingID, organizer); alt != "" {
			p.log.Info("Transcript access denied as organizer, retrying as pilot participant",
				"meeting_id", meetingID, "user_id", alt)
			content, transcriptID, err = p.download(ctx, alt, meetingID, wantID)
		}
	}
	if err != nil {
		return nil, classifyFetchError(err)
	}

	parsed, err := vtt.Parse(string(content))
	if err != nil {
		return nil, queue.NonRetryable(fmt.Errorf("parsing transcript %s: %w", transcriptID, err))
	}

	tr := &models.Transcript{
		MeetingID:     meetingID,
		TranscriptID:  &transcriptID,
		VTTContent:    string(content),
		ParsedContent: parsed.Utterances,
		WordCount:     parsed.WordCount,
		SpeakerCount:  parsed.SpeakerCount,
	}
	if err := p.transcripts.Upsert(ctx, tr); err != nil {
		return nil, fmt.Errorf("storing transcript for meeting %s: %w", meetingID, err)
	}
	if err := p.meetings.MarkTranscriptFetched(ctx, meetingID); err != nil {
		return nil, fmt.Errorf("marking transcript fetched: %w", err)
	}

	p.log.Info("Transcript stored", "meeting_id", meetingID,
		"transcript_id", transcriptID, "words", parsed.WordCount, "speakers", parsed.SpeakerCount)
	return models.JSONMap{
		"transcript_id": transcriptID,
		"word_count":    parsed.WordCount,
		"speaker_count": parsed.SpeakerCount,
	}, nil
}

// download fetches the transcript content under the given identity. With no
// transcript id it lists the meeting's transcripts and takes the newest;
// none existing yet means not-ready, not failure.
func (p *FetchTranscript) download(ctx context.Context, userID, meetingID, transcriptID string) ([]byte, string, error) {
	if transcriptID == "" {
		infos, err := p.graph.ListTranscripts(ctx, userID, meetingID)
		if err != nil {
			return nil, "", err
		}
		if len(infos) == 0 {
			return nil, "", queue.ErrTranscriptNotReady
		}
		newest := infos[0]
		for _, info := range infos[1:] {
			if info.CreatedDateTime.After(newest.CreatedDateTime) {
				newest = info
			}
		}
		transcriptID = newest.ID
	}

	content, err := p.graph.GetTranscriptContent(ctx, userID, meetingID, transcriptID)
	if err != nil {
		if graph.IsNotFound(err) {
			// A notified transcript id that 404s has not propagated yet.
			return nil, "", fmt.Errorf("transcript %s: %w", transcriptID, queue.ErrTranscriptNotReady)
		}
		return nil, "", err
	}
	return content, transcriptID, nil
}

// pilotIdentity returns a pilot participant's user id for the 403 fallback,
// or "" when the meeting has none besides the excluded identity.
func (p *FetchTranscript) pilotIdentity(ctx context.Context, meetingID, exclude string) string {
	parts, err := p.parts.ListByMeeting(ctx, meetingID)
	if err != nil {
		p.log.Warn("Participant listing for permission fallback failed",
			"meeting_id", meetingID, "error", err)
		return ""
	}
	for _, part := range parts {
		if part.IsPilotUser && part.UserID != nil && *part.UserID != exclude {
			return *part.UserID
		}
	}
	return ""
}

// classifyFetchError maps Graph failures onto the worker's retry taxonomy:
// not-ready keeps the wait ladder, transient provider errors keep the normal
// backoff, and remaining 4xx (including a 403 that survived the fallback)
// fail permanently.
func classifyFetchError(err error) error {
	if errors.Is(err, queue.ErrTranscriptNotReady) {
		return err
	}
	if graph.IsRetryable(err) || graph.IsAuthError(err) {
		return err
	}
	var apiErr *graph.APIError
	if errors.As(err, &apiErr) {
		return queue.NonRetryable(err)
	}
	return err
}
