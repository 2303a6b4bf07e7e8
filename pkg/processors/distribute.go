package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/distribution"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/render"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/pkg/summarize"
)

// DeliveryAPI is the Graph slice the distribute processor needs.
type DeliveryAPI interface {
	PostChatMessage(ctx context.Context, chatID, htmlContent string) error
	SendMail(ctx context.Context, from string, to []string, subject, htmlBody string) error
}

// Distribute delivers the current summary: a post to the meeting chat
// first, then one email per opted-in recipient. Chat goes first because it
// is the more reliable channel; the job counts as success when at least one
// channel delivered, with per-recipient statuses in the output either way.
type Distribute struct {
	graph     DeliveryAPI
	meetings  *store.MeetingStore
	parts     *store.ParticipantStore
	summaries *store.SummaryStore
	resolver  *distribution.Resolver
	cfg       *config.Config
	log       *slog.Logger
}

// NewDistribute builds the distribute processor.
func NewDistribute(g DeliveryAPI, meetings *store.MeetingStore, parts *store.ParticipantStore, summaries *store.SummaryStore, resolver *distribution.Resolver, cfg *config.Config) *Distribute {
	return &Distribute{
		graph:     g,
		meetings:  meetings,
		parts:     parts,
		summaries: summaries,
		resolver:  resolver,
		cfg:       cfg,
		log:       slog.With("component", "distribute"),
	}
}

// Process implements queue.Processor.
func (p *Distribute) Process(ctx context.Context, job *models.Job) (models.JSONMap, error) {
	meetingID := job.MeetingKey()
	if meetingID == "" {
		return nil, queue.NonRetryable(fmt.Errorf("distribute job %s has no meeting", job.ID))
	}

	meeting, err := p.meetings.GetByMeetingID(ctx, meetingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, queue.NonRetryable(fmt.Errorf("meeting %s does not exist", meetingID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading meeting %s: %w", meetingID, err)
	}

	summary, err := p.summaries.GetCurrent(ctx, meetingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, queue.NonRetryable(fmt.Errorf("meeting %s has no summary to distribute", meetingID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading summary: %w", err)
	}

	if !meeting.DistributionEnabled {
		// Disabled mid-chain: the job still runs, delivers nothing, and the
		// meeting keeps its summary without the distribution flags.
		if err := p.meetings.SetStatus(ctx, meetingID, models.MeetingStatusTranscriptOnly); err != nil {
			return nil, fmt.Errorf("marking meeting transcript-only: %w", err)
		}
		p.log.Info("Distribution disabled, nothing delivered", "meeting_id", meetingID)
		return models.JSONMap{"skipped": "distribution_disabled", "summary_version": summary.Version}, nil
	}

	res, err := summaryResult(summary)
	if err != nil {
		return nil, queue.NonRetryable(err)
	}

	out := models.JSONMap{"summary_version": summary.Version}

	chatAttempted, chatDelivered := p.postChat(ctx, meeting, res, out)

	resolution, err := p.resolver.Resolve(ctx, meeting, p.candidates(ctx, meetingID))
	if err != nil {
		return nil, fmt.Errorf("resolving recipients: %w", err)
	}
	if len(resolution.Excluded) > 0 {
		out["excluded"] = resolution.Excluded
	}

	sent, statuses := p.sendEmails(ctx, meeting, summary, resolution.Recipients)
	if len(statuses) > 0 {
		out["recipients"] = statuses
	}

	emailAttempted := len(resolution.Recipients) > 0
	if (chatAttempted || emailAttempted) && !chatDelivered && sent == 0 {
		return nil, fmt.Errorf("no channel delivered for meeting %s", meetingID)
	}

	if err := p.meetings.MarkDistributed(ctx, meetingID); err != nil {
		return nil, fmt.Errorf("marking meeting distributed: %w", err)
	}
	p.log.Info("Summary distributed", "meeting_id", meetingID,
		"chat_delivered", chatDelivered, "emails_sent", sent, "excluded", len(resolution.Excluded))
	return out, nil
}

// postChat posts the short summary into the meeting chat. Failures are
// recorded in the output and never block the email batch.
func (p *Distribute) postChat(ctx context.Context, meeting *models.Meeting, res *summarize.Result, out models.JSONMap) (attempted, delivered bool) {
	if meeting.ChatID == nil || *meeting.ChatID == "" {
		out["chat"] = models.JSONMap{"delivered": false, "reason": "no_chat_thread"}
		return false, false
	}

	msg, err := render.ChatMessage(meeting, res)
	if err == nil {
		err = p.graph.PostChatMessage(ctx, *meeting.ChatID, msg)
	}
	if err != nil {
		p.log.Warn("Chat post failed", "meeting_id", meeting.MeetingID, "error", err)
		out["chat"] = models.JSONMap{"delivered": false, "error": err.Error()}
		return true, false
	}
	out["chat"] = models.JSONMap{"delivered": true}
	return true, true
}

// sendEmails sends one message per recipient so a single bounce never sinks
// the batch; each recipient's outcome lands in the returned statuses.
func (p *Distribute) sendEmails(ctx context.Context, meeting *models.Meeting, summary *models.Summary, recipients []distribution.Recipient) (int, []models.JSONMap) {
	if len(recipients) == 0 {
		return 0, nil
	}

	from := ""
	if p.cfg != nil && p.cfg.Graph != nil {
		from = p.cfg.Graph.SharedMailbox
	}
	if from == "" {
		p.log.Warn("No shared mailbox configured, skipping email delivery",
			"meeting_id", meeting.MeetingID, "recipients", len(recipients))
		statuses := make([]models.JSONMap, 0, len(recipients))
		for _, r := range recipients {
			statuses = append(statuses, models.JSONMap{"email": r.Email, "status": "skipped", "error": "no shared mailbox configured"})
		}
		return 0, statuses
	}

	subject := render.EmailSubject(meeting)
	sent := 0
	statuses := make([]models.JSONMap, 0, len(recipients))
	for _, r := range recipients {
		if err := p.graph.SendMail(ctx, from, []string{r.Email}, subject, summary.SummaryHTML); err != nil {
			p.log.Warn("Summary email failed", "meeting_id", meeting.MeetingID,
				"recipient", r.Email, "error", err)
			statuses = append(statuses, models.JSONMap{"email": r.Email, "status": "failed", "error": err.Error()})
			continue
		}
		sent++
		statuses = append(statuses, models.JSONMap{"email": r.Email, "status": "sent"})
	}
	return sent, statuses
}

// candidates lists attendees with an email; a listing failure degrades to
// chat-only delivery.
func (p *Distribute) candidates(ctx context.Context, meetingID string) []models.MeetingParticipant {
	parts, err := p.parts.ListAttendedWithEmail(ctx, meetingID)
	if err != nil {
		p.log.Warn("Participant listing failed", "meeting_id", meetingID, "error", err)
		return nil
	}
	return parts
}
