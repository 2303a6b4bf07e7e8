package webhook

import (
	"context"
	"log/slog"
	"strings"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
)

// participantsFromSessions enumerates the people on a call from the record's
// session endpoints. Each endpoint identity maps to one of four kinds;
// duplicates are collapsed by user GUID or phone id.
func participantsFromSessions(ctx context.Context, directory Directory, record *graph.CallRecord, settings *config.Settings, log *slog.Logger) []models.MeetingParticipant {
	organizerID := ""
	if record.Organizer != nil && record.Organizer.User != nil {
		organizerID = record.Organizer.User.ID
	}

	var parts []models.MeetingParticipant
	seen := make(map[string]struct{})

	add := func(key string, p models.MeetingParticipant) {
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		parts = append(parts, p)
	}

	for _, session := range record.Sessions {
		for _, endpoint := range []*graph.Endpoint{session.Caller, session.Callee} {
			if endpoint == nil {
				continue
			}
			identity := endpoint.Identity

			switch {
			case identity.User != nil:
				p := internalParticipant(ctx, directory, identity.User, settings, log)
				if identity.User.ID == organizerID && organizerID != "" {
					p.Role = models.RoleOrganizer
				}
				add("user:"+identity.User.ID, p)

			case identity.Phone != nil:
				phone := identity.Phone.ID
				display := identity.Phone.DisplayName
				// PSTN rows carry no email, so the rendered name is the only
				// way to tell who dialed in. Always include the number.
				switch {
				case display == "":
					display = phone
				case phone != "" && !strings.Contains(display, phone):
					display = display + " (" + phone + ")"
				}
				add("phone:"+phone, models.MeetingParticipant{
					DisplayName:  display,
					Phone:        &phone,
					Attended:     true,
					IdentityKind: models.IdentityPSTN,
				})

			case identity.Guest != nil:
				p := models.MeetingParticipant{
					DisplayName:  identity.Guest.DisplayName,
					Attended:     true,
					IdentityKind: models.IdentityGuest,
				}
				add("guest:"+identity.Guest.ID, p)

			case identity.AcsUser != nil:
				add("acs:"+identity.AcsUser.ID, models.MeetingParticipant{
					DisplayName:  identity.AcsUser.DisplayName,
					Attended:     true,
					IdentityKind: models.IdentityACS,
				})
			}
		}
	}
	return parts
}

// internalParticipant resolves a tenant user's email and enrichment via the
// directory; the session payload carries only GUID and display name.
func internalParticipant(ctx context.Context, directory Directory, id *graph.Identity, settings *config.Settings, log *slog.Logger) models.MeetingParticipant {
	userID := id.ID
	p := models.MeetingParticipant{
		DisplayName:  id.DisplayName,
		UserID:       &userID,
		Attended:     true,
		IdentityKind: models.IdentityInternal,
	}

	user, err := directory.GetUser(ctx, userID)
	if err != nil {
		log.Warn("Participant directory lookup failed", "user_id", userID, "error", err)
		return p
	}

	if email := user.Email(); email != "" {
		p.Email = &email
		p.IsPilotUser = settings.IsPilotUser(email)
	}
	if user.DisplayName != "" {
		p.DisplayName = user.DisplayName
	}
	if user.JobTitle != "" {
		p.JobTitle = &user.JobTitle
	}
	if user.Department != "" {
		p.Department = &user.Department
	}
	if user.OfficeLocation != "" {
		p.OfficeLocation = &user.OfficeLocation
	}
	if user.CompanyName != "" {
		p.CompanyName = &user.CompanyName
	}
	return p
}
