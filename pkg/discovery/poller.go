package discovery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
)

// GraphAPI is the Graph slice the poller needs.
type GraphAPI interface {
	ListCalendarView(ctx context.Context, userEmail string, start, end time.Time) ([]graph.CalendarEvent, error)
	GetOnlineMeetingByJoinURL(ctx context.Context, userID, joinURL string) (*graph.OnlineMeeting, error)
	GetUser(ctx context.Context, idOrEmail string) (*graph.User, error)
}

// StatusPublisher broadcasts meeting lifecycle transitions. May be nil.
type StatusPublisher interface {
	PublishMeetingStatus(ctx context.Context, meetingID string, status models.MeetingStatus) error
}

// Poller walks the pilot users' calendars every polling interval and feeds
// eligible meetings that never produced a notification into the pipeline.
// Deferred meetings are not persisted; they reappear on the next tick.
type Poller struct {
	graph    GraphAPI
	meetings *store.MeetingStore
	parts    *store.ParticipantStore
	queue    *queue.Queue
	cfg      *config.Config
	pub      StatusPublisher
	now      func() time.Time
	log      *slog.Logger
}

// NewPoller wires the fallback calendar poller.
func NewPoller(g GraphAPI, meetings *store.MeetingStore, parts *store.ParticipantStore, q *queue.Queue, cfg *config.Config, pub StatusPublisher) *Poller {
	return &Poller{
		graph:    g,
		meetings: meetings,
		parts:    parts,
		queue:    q,
		cfg:      cfg,
		pub:      pub,
		now:      time.Now,
		log:      slog.With("component", "poller"),
	}
}

// Run ticks at the configured polling interval until ctx is cancelled. The
// interval is re-read every tick so settings reloads take effect live.
func (p *Poller) Run(ctx context.Context) error {
	for {
		interval := p.cfg.Settings().PollingInterval()
		select {
		case <-time.After(interval):
			p.Tick(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tick runs one discovery pass over all pilot users' calendars.
func (p *Poller) Tick(ctx context.Context) {
	settings := p.cfg.Settings()
	if len(settings.PilotUsers) == 0 {
		p.log.Debug("Poller idle, no pilot users configured")
		return
	}

	now := p.now().UTC()
	start := now.Add(-time.Duration(settings.LookbackHours) * time.Hour)

	seen := map[string]bool{} // join URLs handled this tick
	var discovered, skipped int
	for _, user := range settings.PilotUsers {
		events, err := p.graph.ListCalendarView(ctx, user, start, now)
		if err != nil {
			p.log.Error("Calendar listing failed", "user", user, "error", err)
			continue
		}
		for i := range events {
			if ctx.Err() != nil {
				return
			}
			d, s := p.consider(ctx, now, &events[i], settings, seen)
			discovered += d
			skipped += s
		}
	}
	if discovered > 0 || skipped > 0 {
		p.log.Info("Poller pass finished", "discovered", discovered, "skipped", skipped)
	}
}

// consider evaluates one calendar event. Returns (discovered, skipped)
// increments.
func (p *Poller) consider(ctx context.Context, now time.Time, ev *graph.CalendarEvent, settings *config.Settings, seen map[string]bool) (int, int) {
	if !ev.IsOnlineMeeting || ev.OnlineMeeting == nil || ev.OnlineMeeting.JoinURL == "" {
		return 0, 0
	}
	joinURL := ev.OnlineMeeting.JoinURL
	if seen[joinURL] {
		return 0, 0
	}
	seen[joinURL] = true

	candidate, err := candidateFromEvent(ev)
	if err != nil {
		p.log.Warn("Skipping calendar event with unparseable times", "event_id", ev.ID, "error", err)
		return 0, 0
	}

	decision := Evaluate(now, candidate, settings)
	if decision.Deferred {
		return 0, 0
	}

	// Resolve the provider meeting key so both discovery paths converge on
	// the same identity. The lookup runs as the organizer; failures defer
	// to the next tick.
	organizer := ev.Organizer.EmailAddress.Address
	om, err := p.graph.GetOnlineMeetingByJoinURL(ctx, organizer, joinURL)
	if err != nil {
		p.log.Warn("Online meeting lookup failed, deferring",
			"organizer", organizer, "subject", ev.Subject, "error", err)
		return 0, 0
	}

	if _, err := p.meetings.GetByMeetingID(ctx, om.ID); err == nil {
		return 0, 0 // already known via webhook, backfill, or earlier tick
	}

	meeting := p.buildMeeting(ctx, om, ev, candidate)
	if !decision.Eligible {
		meeting.Status = models.MeetingStatusSkipped
		meeting.ErrorMessage = &decision.Reason
		if err := p.meetings.Create(ctx, meeting); err != nil {
			p.log.Error("Persisting skipped meeting failed", "meeting_id", om.ID, "error", err)
			return 0, 0
		}
		p.log.Info("Meeting skipped", "meeting_id", om.ID, "reason", decision.Reason)
		return 0, 1
	}

	if err := p.meetings.Create(ctx, meeting); err != nil {
		p.log.Error("Persisting discovered meeting failed", "meeting_id", om.ID, "error", err)
		return 0, 0
	}
	p.publish(ctx, om.ID, models.MeetingStatusDiscovered)

	parts := participantsFromEvent(ev, settings)
	if _, err := p.parts.AddMissing(ctx, om.ID, parts); err != nil {
		p.log.Error("Persisting participants failed", "meeting_id", om.ID, "error", err)
	}
	if err := p.meetings.SetParticipantCount(ctx, om.ID, len(parts)); err != nil {
		p.log.Error("Participant count update failed", "meeting_id", om.ID, "error", err)
	}

	input := models.JSONMap{"meeting_id": om.ID}
	if meeting.OrganizerUserID != nil {
		input["organizer_user_id"] = *meeting.OrganizerUserID
	}
	if _, err := p.queue.EnqueueMeetingChain(ctx, om.ID, 0, input); err != nil {
		p.log.Error("Enqueue failed", "meeting_id", om.ID, "error", err)
		return 0, 0
	}
	p.publish(ctx, om.ID, models.MeetingStatusQueued)
	p.log.Info("Meeting discovered by poller", "meeting_id", om.ID, "subject", ev.Subject)
	return 1, 0
}

func (p *Poller) buildMeeting(ctx context.Context, om *graph.OnlineMeeting, ev *graph.CalendarEvent, c *Candidate) *models.Meeting {
	start, _ := ev.StartTime()
	end := c.ScheduledEnd
	duration := int(c.Duration.Minutes())

	meeting := &models.Meeting{
		MeetingID:       om.ID,
		Subject:         ev.Subject,
		Status:          models.MeetingStatusDiscovered,
		DiscoverySource: models.DiscoverySourcePoller,
		DiscoveredAt:    p.now().UTC(),
		JoinURL:         &ev.OnlineMeeting.JoinURL,
		StartTime:       &start,
		EndTime:         &end,
		DurationMinutes: &duration,
	}
	if om.ChatInfo.ThreadID != "" {
		chatID := om.ChatInfo.ThreadID
		meeting.ChatID = &chatID
	}
	if addr := ev.Organizer.EmailAddress.Address; addr != "" {
		meeting.OrganizerEmail = &addr
		if name := ev.Organizer.EmailAddress.Name; name != "" {
			meeting.OrganizerName = &name
		}
		if u, err := p.graph.GetUser(ctx, addr); err == nil {
			meeting.OrganizerUserID = &u.ID
		} else {
			p.log.Warn("Organizer lookup failed", "organizer", addr, "error", err)
		}
	}
	return meeting
}

// candidateFromEvent maps a calendar event onto the filter input. Calendar
// entries carry only scheduled times; the actual end stays unknown.
func candidateFromEvent(ev *graph.CalendarEvent) (*Candidate, error) {
	start, err := ev.StartTime()
	if err != nil {
		return nil, err
	}
	end, err := ev.EndTime()
	if err != nil {
		return nil, err
	}

	c := &Candidate{
		Subject:        ev.Subject,
		OrganizerEmail: ev.Organizer.EmailAddress.Address,
		ScheduledEnd:   end.UTC(),
		Duration:       end.Sub(start),
	}
	for _, a := range ev.Attendees {
		if a.EmailAddress.Address != "" {
			c.ParticipantEmails = append(c.ParticipantEmails, a.EmailAddress.Address)
		}
	}
	if c.OrganizerEmail != "" {
		c.ParticipantEmails = append(c.ParticipantEmails, c.OrganizerEmail)
	}
	return c, nil
}

// participantsFromEvent builds participant rows from the invite list. The
// calendar knows invitees, not joiners, so everyone counts as attended; the
// call-record path refines this when a record arrives.
func participantsFromEvent(ev *graph.CalendarEvent, settings *config.Settings) []models.MeetingParticipant {
	organizer := strings.ToLower(ev.Organizer.EmailAddress.Address)

	var parts []models.MeetingParticipant
	add := func(email, name string, role models.ParticipantRole) {
		if email == "" {
			return
		}
		e := email
		parts = append(parts, models.MeetingParticipant{
			Email:        &e,
			DisplayName:  name,
			Role:         role,
			Attended:     true,
			IsPilotUser:  settings.IsPilotUser(email),
			IdentityKind: models.IdentityInternal,
		})
	}

	add(ev.Organizer.EmailAddress.Address, ev.Organizer.EmailAddress.Name, models.RoleOrganizer)
	for _, a := range ev.Attendees {
		if strings.EqualFold(a.EmailAddress.Address, organizer) {
			continue
		}
		add(a.EmailAddress.Address, a.EmailAddress.Name, models.RoleAttendee)
	}
	return parts
}

func (p *Poller) publish(ctx context.Context, meetingID string, status models.MeetingStatus) {
	if p.pub == nil {
		return
	}
	if err := p.pub.PublishMeetingStatus(ctx, meetingID, status); err != nil {
		p.log.Warn("Meeting status publish failed", "meeting_id", meetingID, "error", err)
	}
}
