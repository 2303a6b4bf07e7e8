// Package inbox reads operator commands from the shared mailbox and turns
// them into process_chat_command jobs. The worker pool invokes the reader
// as a periodic chore.
//
// Command grammar, first non-empty line of the message body:
//
//	<command> [meeting-id] [instructions...]
//
// where command is resend, disable, enable, or reprocess. disable/enable
// without a meeting id flip the sender's org-wide email preference.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/processors"
	"github.com/recaphq/recap/pkg/queue"
)

// maxMessages bounds one pass over the inbox.
const maxMessages = 25

// MailAPI is the Graph slice the reader needs.
type MailAPI interface {
	ListUnreadMessages(ctx context.Context, mailbox string, top int) ([]graph.MailMessage, error)
	MarkMessageRead(ctx context.Context, mailbox, messageID string) error
}

// Reader scans the shared mailbox for unread command messages. It
// implements queue.InboxRunner.
type Reader struct {
	graph MailAPI
	queue *queue.Queue
	cfg   *config.Config
	log   *slog.Logger
}

// NewReader builds the inbox command reader.
func NewReader(g MailAPI, q *queue.Queue, cfg *config.Config) *Reader {
	return &Reader{
		graph: g,
		queue: q,
		cfg:   cfg,
		log:   slog.With("component", "inbox"),
	}
}

// Run processes one inbox pass. Every message is marked read exactly once:
// valid commands after their job is enqueued, invalid ones immediately so
// they cannot poison the next pass.
func (r *Reader) Run(ctx context.Context) error {
	mailbox := ""
	if r.cfg != nil && r.cfg.Graph != nil {
		mailbox = r.cfg.Graph.SharedMailbox
	}
	if mailbox == "" {
		return nil
	}

	msgs, err := r.graph.ListUnreadMessages(ctx, mailbox, maxMessages)
	if err != nil {
		return fmt.Errorf("listing inbox commands: %w", err)
	}

	for i := range msgs {
		msg := &msgs[i]
		cmd, err := parseCommand(msg)
		if err != nil {
			r.log.Warn("Ignoring inbox message", "message_id", msg.ID,
				"from", msg.From.EmailAddress.Address, "error", err)
		} else if err := r.enqueue(ctx, msg, cmd); err != nil {
			// Leave the message unread; the next pass retries it.
			r.log.Error("Enqueueing inbox command failed", "message_id", msg.ID, "error", err)
			continue
		}
		if err := r.graph.MarkMessageRead(ctx, mailbox, msg.ID); err != nil {
			r.log.Error("Marking inbox message read failed", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

func (r *Reader) enqueue(ctx context.Context, msg *graph.MailMessage, cmd *command) error {
	input := models.JSONMap{
		"command":      cmd.name,
		"requested_by": msg.From.EmailAddress.Address,
		"message_id":   msg.ID,
	}
	if cmd.meetingID != "" {
		input["meeting_id"] = cmd.meetingID
	}
	if cmd.instructions != "" {
		input["custom_instructions"] = cmd.instructions
	}

	job := &models.Job{
		JobType:   models.JobTypeProcessChatCommand,
		InputData: input,
	}
	if cmd.meetingID != "" {
		job.MeetingID = &cmd.meetingID
	}
	if err := r.queue.EnqueueJob(ctx, job); err != nil {
		return err
	}
	r.log.Info("Inbox command accepted", "command", cmd.name,
		"meeting_id", cmd.meetingID, "requested_by", msg.From.EmailAddress.Address)
	return nil
}

type command struct {
	name         string
	meetingID    string
	instructions string
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// parseCommand extracts the command line from a message. The plain-text
// preview is preferred; an HTML body is crudely flattened as fallback.
func parseCommand(msg *graph.MailMessage) (*command, error) {
	text := msg.BodyPreview
	if strings.TrimSpace(text) == "" {
		text = msg.Body.Content
		if strings.EqualFold(msg.Body.ContentType, "html") {
			text = htmlTag.ReplaceAllString(text, " ")
		}
	}

	line := firstLine(text)
	if line == "" {
		return nil, fmt.Errorf("message has no text content")
	}

	fields := strings.Fields(line)
	cmd := &command{name: strings.ToLower(fields[0])}
	switch cmd.name {
	case processors.CommandResend, processors.CommandDisable,
		processors.CommandEnable, processors.CommandReprocess:
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.name)
	}

	if len(fields) > 1 {
		cmd.meetingID = fields[1]
	}
	if len(fields) > 2 {
		cmd.instructions = strings.Join(fields[2:], " ")
	}
	return cmd, nil
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
