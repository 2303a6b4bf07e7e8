package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/distribution"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
)

// Per-notification outcomes.
const (
	StatusQueued    = "queued"
	StatusDuplicate = "duplicate"
	StatusJobExists = "job_exists"
	StatusNoOptIn   = "no_optin"
	StatusIgnored   = "ignored"
	StatusError     = "error"
)

// NotificationStatus is the per-notification result returned to the caller.
type NotificationStatus struct {
	Resource  string `json:"resource,omitempty"`
	Kind      Kind   `json:"kind"`
	Status    string `json:"status"`
	MeetingID string `json:"meeting_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Directory resolves users by GUID or email. Satisfied by *graph.Client.
type Directory interface {
	GetUser(ctx context.Context, idOrEmail string) (*graph.User, error)
}

// GraphAPI is the Graph surface the handler needs. Satisfied by
// *graph.Client.
type GraphAPI interface {
	Directory
	GetCallRecord(ctx context.Context, id string) (*graph.CallRecord, error)
	GetOnlineMeetingByJoinURL(ctx context.Context, userID, joinURL string) (*graph.OnlineMeeting, error)
}

// StatusPublisher broadcasts meeting lifecycle transitions. May be nil.
type StatusPublisher interface {
	PublishMeetingStatus(ctx context.Context, meetingID string, status models.MeetingStatus) error
}

// Handler ingests notifications: classify, dedupe, persist, enqueue.
type Handler struct {
	meetings     *store.MeetingStore
	participants *store.ParticipantStore
	processed    *store.ProcessedStore
	prefs        *store.PreferenceStore
	queue        *queue.Queue
	graph        GraphAPI
	cfg          *config.Config
	pub          StatusPublisher
	log          *slog.Logger
}

// NewHandler wires the notification handler.
func NewHandler(
	meetings *store.MeetingStore,
	participants *store.ParticipantStore,
	processed *store.ProcessedStore,
	prefs *store.PreferenceStore,
	q *queue.Queue,
	g GraphAPI,
	cfg *config.Config,
	pub StatusPublisher,
) *Handler {
	return &Handler{
		meetings:     meetings,
		participants: participants,
		processed:    processed,
		prefs:        prefs,
		queue:        q,
		graph:        g,
		cfg:          cfg,
		pub:          pub,
		log:          slog.With("component", "webhook"),
	}
}

// HandleNotifications processes a batch, returning one status per
// notification. A failing notification never aborts the rest of the batch.
func (h *Handler) HandleNotifications(ctx context.Context, ns []Notification) []NotificationStatus {
	statuses := make([]NotificationStatus, 0, len(ns))
	for i := range ns {
		n := &ns[i]
		kind, ref, callRecordID := Classify(n)

		var st NotificationStatus
		switch kind {
		case KindTranscriptReady:
			st = h.handleTranscriptReady(ctx, ref)
		case KindCallRecord:
			st = h.HandleCallRecordID(ctx, callRecordID, models.DiscoverySourceWebhook)
		default:
			h.log.Debug("Ignoring notification", "resource", n.Resource, "change_type", n.ChangeType)
			st = NotificationStatus{Kind: KindUnknown, Status: StatusIgnored}
		}
		st.Resource = n.Resource
		statuses = append(statuses, st)
	}
	return statuses
}

// handleTranscriptReady ingests a transcript-ready notification. The job
// payload carries the transcript id so the fetcher skips time-based
// matching. Dedup is per (meeting, transcript): recurring meetings reuse a
// meeting id across instances.
func (h *Handler) handleTranscriptReady(ctx context.Context, ref *TranscriptRef) NotificationStatus {
	st := NotificationStatus{Kind: KindTranscriptReady, MeetingID: ref.MeetingID}

	exists, err := h.queue.HasJobForTranscript(ctx, ref.MeetingID, ref.TranscriptID)
	if err != nil {
		return h.fail(st, fmt.Errorf("transcript job dedup check: %w", err))
	}
	if exists {
		st.Status = StatusJobExists
		return st
	}

	if err := h.ensureMeeting(ctx, &models.Meeting{
		MeetingID:       ref.MeetingID,
		OrganizerUserID: &ref.UserID,
		Status:          models.MeetingStatusQueued,
		DiscoverySource: models.DiscoverySourceWebhook,
	}, ref.UserID); err != nil {
		return h.fail(st, err)
	}

	_, err = h.queue.EnqueueMeetingChain(ctx, ref.MeetingID, 0, models.JSONMap{
		"meeting_id":        ref.MeetingID,
		"organizer_user_id": ref.UserID,
		"transcript_id":     ref.TranscriptID,
	})
	if errors.Is(err, queue.ErrChainExists) {
		// A chain for an earlier transcript of this meeting is still live;
		// the safety net picks the new transcript up once it finishes.
		st.Status = StatusJobExists
		return st
	}
	if err != nil {
		return h.fail(st, fmt.Errorf("enqueue chain: %w", err))
	}

	h.publish(ctx, ref.MeetingID, models.MeetingStatusQueued)
	h.log.Info("Transcript-ready notification queued",
		"meeting_id", ref.MeetingID, "transcript_id", ref.TranscriptID)
	st.Status = StatusQueued
	return st
}

// HandleCallRecordID fetches the call record and runs the shared ingestion
// path.
func (h *Handler) HandleCallRecordID(ctx context.Context, callRecordID, source string) NotificationStatus {
	st := NotificationStatus{Kind: KindCallRecord}

	seen, err := h.processed.Exists(ctx, callRecordID)
	if err != nil {
		return h.fail(st, fmt.Errorf("dedup check: %w", err))
	}
	if seen {
		st.Status = StatusDuplicate
		return st
	}

	record, err := h.graph.GetCallRecord(ctx, callRecordID)
	if err != nil {
		return h.fail(st, fmt.Errorf("fetching call record %s: %w", callRecordID, err))
	}
	return h.IngestCallRecord(ctx, record, source)
}

// IngestCallRecord runs the shared ingestion path for one call record: it is
// the entry point for webhook notifications and for backfill. The record is
// marked processed on every terminal outcome except errors, so failed
// records are retried by a later backfill pass.
func (h *Handler) IngestCallRecord(ctx context.Context, record *graph.CallRecord, source string) NotificationStatus {
	st := NotificationStatus{Kind: KindCallRecord}

	seen, err := h.processed.Exists(ctx, record.ID)
	if err != nil {
		return h.fail(st, fmt.Errorf("dedup check: %w", err))
	}
	if seen {
		st.Status = StatusDuplicate
		return st
	}

	settings := h.cfg.Settings()
	parts := participantsFromSessions(ctx, h.graph, record, settings, h.log)

	if !h.anyOptedIn(ctx, parts, settings) {
		if _, err := h.processed.Mark(ctx, record.ID, source); err != nil {
			return h.fail(st, fmt.Errorf("marking processed: %w", err))
		}
		h.log.Info("Call record has no opted-in participant", "call_record_id", record.ID)
		st.Status = StatusNoOptIn
		return st
	}

	meeting, err := h.resolveMeeting(ctx, record, parts)
	if err != nil {
		return h.fail(st, err)
	}
	st.MeetingID = meeting.MeetingID

	if _, err := h.participants.AddMissing(ctx, meeting.MeetingID, parts); err != nil {
		return h.fail(st, fmt.Errorf("persisting participants: %w", err))
	}
	if err := h.meetings.SetParticipantCount(ctx, meeting.MeetingID, len(parts)); err != nil {
		h.log.Warn("Participant count update failed", "meeting_id", meeting.MeetingID, "error", err)
	}

	active, err := h.queue.HasActiveJobs(ctx, meeting.MeetingID)
	if err != nil {
		return h.fail(st, fmt.Errorf("job dedup check: %w", err))
	}
	if active {
		// A transcript-ready notification got here first; never create a
		// second fetch job for the same meeting instance.
		if _, err := h.processed.Mark(ctx, record.ID, source); err != nil {
			return h.fail(st, fmt.Errorf("marking processed: %w", err))
		}
		st.Status = StatusJobExists
		return st
	}

	fetchInput := models.JSONMap{
		"meeting_id":     meeting.MeetingID,
		"call_record_id": record.ID,
	}
	if meeting.OrganizerUserID != nil {
		fetchInput["organizer_user_id"] = *meeting.OrganizerUserID
	}
	if _, err := h.queue.EnqueueMeetingChain(ctx, meeting.MeetingID, 0, fetchInput); err != nil {
		if errors.Is(err, queue.ErrChainExists) {
			st.Status = StatusJobExists
		} else {
			return h.fail(st, fmt.Errorf("enqueue chain: %w", err))
		}
	} else {
		st.Status = StatusQueued
		h.publish(ctx, meeting.MeetingID, models.MeetingStatusQueued)
	}

	if _, err := h.processed.Mark(ctx, record.ID, source); err != nil {
		return h.fail(st, fmt.Errorf("marking processed: %w", err))
	}
	h.log.Info("Call record ingested", "call_record_id", record.ID,
		"meeting_id", meeting.MeetingID, "participants", len(parts), "status", st.Status)
	return st
}

// resolveMeeting finds or creates the meeting row for a call record. The
// join URL is the meeting identity: it is resolved to the organizer's
// online-meeting id so call-record and transcript-ready ingestion converge
// on the same key.
func (h *Handler) resolveMeeting(ctx context.Context, record *graph.CallRecord, parts []models.MeetingParticipant) (*models.Meeting, error) {
	if record.JoinWebURL == "" {
		return nil, fmt.Errorf("call record %s has no join URL", record.ID)
	}

	organizerID := ""
	if record.Organizer != nil && record.Organizer.User != nil {
		organizerID = record.Organizer.User.ID
	}
	if organizerID == "" {
		return nil, fmt.Errorf("call record %s has no organizer identity", record.ID)
	}

	om, err := h.graph.GetOnlineMeetingByJoinURL(ctx, organizerID, record.JoinWebURL)
	if err != nil {
		return nil, fmt.Errorf("resolving online meeting for call record %s: %w", record.ID, err)
	}

	joinURL := record.JoinWebURL
	start := record.StartDateTime
	end := record.EndDateTime
	duration := int(end.Sub(start) / time.Minute)
	callType := record.Type

	meeting := &models.Meeting{
		MeetingID:       om.ID,
		OrganizerUserID: &organizerID,
		StartTime:       &start,
		EndTime:         &end,
		DurationMinutes: &duration,
		JoinURL:         &joinURL,
		CallType:        &callType,
		Status:          models.MeetingStatusQueued,
		DiscoverySource: models.DiscoverySourceWebhook,
	}
	if om.ChatInfo.ThreadID != "" {
		chatID := om.ChatInfo.ThreadID
		meeting.ChatID = &chatID
	}
	// Display names from the sessions beat a directory round-trip for the
	// subject placeholder; the real subject comes from the calendar when
	// known.
	for i := range parts {
		if parts[i].Role == models.RoleOrganizer && meeting.OrganizerName == nil {
			name := parts[i].DisplayName
			meeting.OrganizerName = &name
			meeting.OrganizerEmail = parts[i].Email
		}
	}

	if err := h.ensureMeeting(ctx, meeting, organizerID); err != nil {
		return nil, err
	}
	return meeting, nil
}

// ensureMeeting creates the meeting row or reuses an existing one,
// backfilling organizer fields that the earlier ingestion path left empty.
func (h *Handler) ensureMeeting(ctx context.Context, meeting *models.Meeting, organizerID string) error {
	if meeting.OrganizerEmail == nil && organizerID != "" {
		if user, err := h.graph.GetUser(ctx, organizerID); err == nil {
			if email := user.Email(); email != "" {
				meeting.OrganizerEmail = &email
			}
			if user.DisplayName != "" && meeting.OrganizerName == nil {
				meeting.OrganizerName = &user.DisplayName
			}
		} else {
			h.log.Warn("Organizer lookup failed", "organizer_user_id", organizerID, "error", err)
		}
	}

	existing, err := h.meetings.GetByMeetingID(ctx, meeting.MeetingID)
	if errors.Is(err, store.ErrNotFound) {
		if err := h.meetings.Create(ctx, meeting); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return nil
			}
			return fmt.Errorf("creating meeting: %w", err)
		}
		h.publish(ctx, meeting.MeetingID, models.MeetingStatusDiscovered)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading meeting: %w", err)
	}

	if existing.OrganizerEmail == nil || existing.OrganizerUserID == nil {
		if err := h.meetings.BackfillOrganizer(ctx, meeting.MeetingID,
			meeting.OrganizerEmail, meeting.OrganizerName, meeting.OrganizerUserID); err != nil {
			h.log.Warn("Organizer backfill failed", "meeting_id", meeting.MeetingID, "error", err)
		}
	}
	*meeting = *existing
	return nil
}

// anyOptedIn reports whether any participant qualifies the meeting for
// processing: pilot-set membership is the canonical gate, stored opt-in
// preferences extend it, and default_opt_in waives it entirely.
func (h *Handler) anyOptedIn(ctx context.Context, parts []models.MeetingParticipant, settings *config.Settings) bool {
	if settings.DefaultOptIn {
		return true
	}
	for i := range parts {
		if parts[i].IsPilotUser {
			return true
		}
		if parts[i].Email == nil {
			continue
		}
		pref, err := h.prefs.GetUserPreference(ctx, "", distribution.EmailKey(*parts[i].Email))
		if err == nil && pref.ReceiveEmails {
			return true
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.log.Warn("Opt-in lookup failed", "error", err)
		}
	}
	return false
}

func (h *Handler) publish(ctx context.Context, meetingID string, status models.MeetingStatus) {
	if h.pub == nil {
		return
	}
	if err := h.pub.PublishMeetingStatus(ctx, meetingID, status); err != nil {
		h.log.Warn("Meeting status publish failed", "meeting_id", meetingID, "error", err)
	}
}

func (h *Handler) fail(st NotificationStatus, err error) NotificationStatus {
	h.log.Error("Notification ingestion failed", "kind", st.Kind, "error", err)
	st.Status = StatusError
	st.Error = err.Error()
	return st
}
