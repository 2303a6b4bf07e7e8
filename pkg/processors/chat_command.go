package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/recaphq/recap/pkg/distribution"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
)

// Operator commands accepted over the shared mailbox.
const (
	CommandResend    = "resend"
	CommandDisable   = "disable"
	CommandEnable    = "enable"
	CommandReprocess = "reprocess"
)

// ChatCommand executes operator commands parsed by the inbox reader. Input
// data: command, requested_by, and optionally meeting_id (also mirrored on
// the job row) and custom_instructions for a reprocess.
//
// disable/enable with a meeting toggles that meeting's distribution; without
// one it flips the requester's org-wide email preference.
type ChatCommand struct {
	meetings *store.MeetingStore
	prefs    *store.PreferenceStore
	queue    *queue.Queue
	log      *slog.Logger
}

// NewChatCommand builds the process_chat_command processor.
func NewChatCommand(meetings *store.MeetingStore, prefs *store.PreferenceStore, q *queue.Queue) *ChatCommand {
	return &ChatCommand{
		meetings: meetings,
		prefs:    prefs,
		queue:    q,
		log:      slog.With("component", "chat_command"),
	}
}

// Process implements queue.Processor. Malformed commands fail permanently;
// a retry would parse the same text again.
func (p *ChatCommand) Process(ctx context.Context, job *models.Job) (models.JSONMap, error) {
	command := strings.ToLower(strings.TrimSpace(job.InputData.GetString("command")))
	requestedBy := job.InputData.GetString("requested_by")
	meetingID := job.MeetingKey()
	if meetingID == "" {
		meetingID = job.InputData.GetString("meeting_id")
	}

	p.log.Info("Executing operator command", "command", command,
		"meeting_id", meetingID, "requested_by", requestedBy)

	var err error
	switch command {
	case CommandResend:
		err = p.resend(ctx, meetingID, requestedBy)
	case CommandDisable, CommandEnable:
		err = p.toggle(ctx, meetingID, requestedBy, command == CommandEnable)
	case CommandReprocess:
		err = p.reprocess(ctx, meetingID, requestedBy, job.InputData.GetString("custom_instructions"))
	default:
		return nil, queue.NonRetryable(fmt.Errorf("unknown command %q", command))
	}
	if err != nil {
		return nil, err
	}

	out := models.JSONMap{"command": command}
	if meetingID != "" {
		out["meeting_id"] = meetingID
	}
	if requestedBy != "" {
		out["requested_by"] = requestedBy
	}
	return out, nil
}

// resend enqueues a fresh distribute job for a meeting that already has a
// summary.
func (p *ChatCommand) resend(ctx context.Context, meetingID, requestedBy string) error {
	meeting, err := p.loadMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if !meeting.HasSummary {
		return queue.NonRetryable(fmt.Errorf("meeting %s has no summary to resend", meetingID))
	}

	job := &models.Job{
		JobType:   models.JobTypeDistribute,
		MeetingID: &meetingID,
		InputData: models.JSONMap{"meeting_id": meetingID, "requested_by": requestedBy},
	}
	if err := p.queue.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("enqueueing resend for meeting %s: %w", meetingID, err)
	}
	return nil
}

// toggle flips distribution for one meeting, or the requester's org-wide
// email preference when no meeting is named.
func (p *ChatCommand) toggle(ctx context.Context, meetingID, requestedBy string, enable bool) error {
	if meetingID != "" {
		if _, err := p.loadMeeting(ctx, meetingID); err != nil {
			return err
		}
		if err := p.meetings.SetDistributionEnabled(ctx, meetingID, enable, requestedBy); err != nil {
			return fmt.Errorf("updating distribution for meeting %s: %w", meetingID, err)
		}
		return nil
	}

	if requestedBy == "" {
		return queue.NonRetryable(errors.New("preference command without requester"))
	}
	err := p.prefs.SetReceiveEmails(ctx, nil, requestedBy,
		distribution.EmailKey(requestedBy), enable, "inbox")
	if err != nil {
		return fmt.Errorf("updating preference for %s: %w", requestedBy, err)
	}
	return nil
}

// reprocess cancels the meeting's live jobs and enqueues a fresh chain,
// carrying any operator instructions through to the summary job.
func (p *ChatCommand) reprocess(ctx context.Context, meetingID, requestedBy, instructions string) error {
	meeting, err := p.loadMeeting(ctx, meetingID)
	if err != nil {
		return err
	}

	cancelled, err := p.queue.CancelMeetingJobs(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("cancelling jobs for meeting %s: %w", meetingID, err)
	}
	if cancelled > 0 {
		p.log.Info("Cancelled live jobs before reprocess", "meeting_id", meetingID, "cancelled", cancelled)
	}

	input := models.JSONMap{"meeting_id": meetingID, "requested_by": requestedBy}
	if meeting.OrganizerUserID != nil {
		input["organizer_user_id"] = *meeting.OrganizerUserID
	}
	if instructions != "" {
		input["custom_instructions"] = instructions
	}
	if _, err := p.queue.EnqueueMeetingChain(ctx, meetingID, 1, input); err != nil {
		return fmt.Errorf("enqueueing reprocess chain for meeting %s: %w", meetingID, err)
	}
	return nil
}

func (p *ChatCommand) loadMeeting(ctx context.Context, meetingID string) (*models.Meeting, error) {
	if meetingID == "" {
		return nil, queue.NonRetryable(errors.New("command names no meeting"))
	}
	meeting, err := p.meetings.GetByMeetingID(ctx, meetingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, queue.NonRetryable(fmt.Errorf("meeting %s does not exist", meetingID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading meeting %s: %w", meetingID, err)
	}
	return meeting, nil
}
