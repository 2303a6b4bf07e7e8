package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/graph"
	"github.com/recaphq/recap/pkg/models"
	"github.com/recaphq/recap/pkg/store"
)

// Exclusion reasons recorded in the distribute job's output.
const (
	ReasonNoPreference  = "no_preference"
	ReasonOptedOut      = "opted_out"
	ReasonMeetingOptOut = "meeting_opt_out"
)

// Recipient is one resolved email recipient.
type Recipient struct {
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name,omitempty"`
	UserID      *string `json:"user_id,omitempty"`
}

// Exclusion records why a candidate attendee was not emailed.
type Exclusion struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// Resolution is the outcome of recipient resolution for one meeting.
type Resolution struct {
	Recipients []Recipient `json:"recipients"`
	Excluded   []Exclusion `json:"excluded,omitempty"`
}

// Directory looks up a user by GUID or email address. Satisfied by
// *graph.Client.
type Directory interface {
	GetUser(ctx context.Context, idOrEmail string) (*graph.User, error)
}

// Resolver computes email recipients from attendance, alias resolution, and
// stored preferences.
type Resolver struct {
	prefs     *store.PreferenceStore
	aliases   *store.AliasStore
	directory Directory
	cfg       *config.Config
	log       *slog.Logger
}

// NewResolver creates a recipient resolver. The DefaultOptIn setting decides
// what happens to addresses with no stored preference.
func NewResolver(prefs *store.PreferenceStore, aliases *store.AliasStore, directory Directory, cfg *config.Config) *Resolver {
	return &Resolver{
		prefs:     prefs,
		aliases:   aliases,
		directory: directory,
		cfg:       cfg,
		log:       slog.With("component", "distribution"),
	}
}

// Resolve returns the recipients for a meeting. Candidates are participants
// who attended and have an email. Each candidate's address is resolved to
// its primary form, then checked against the per-meeting override first and
// the org-wide preference second. Addresses with no stored preference are
// excluded unless the DefaultOptIn setting flips the policy.
func (r *Resolver) Resolve(ctx context.Context, meeting *models.Meeting, participants []models.MeetingParticipant) (*Resolution, error) {
	res := &Resolution{}
	seen := make(map[string]struct{})

	for _, p := range participants {
		if !p.Attended || p.Email == nil || *p.Email == "" {
			continue
		}

		primary, userID := r.resolveAlias(ctx, *p.Email, p.UserID)
		key := EmailKey(primary)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		allowed, reason, err := r.checkPreference(ctx, meeting.MeetingID, userID, key, EmailKey(*p.Email))
		if err != nil {
			return nil, err
		}
		if !allowed {
			res.Excluded = append(res.Excluded, Exclusion{Email: primary, Reason: reason})
			continue
		}
		res.Recipients = append(res.Recipients, Recipient{
			Email:       primary,
			DisplayName: p.DisplayName,
			UserID:      userID,
		})
	}
	return res, nil
}

// resolveAlias maps an address to its primary form via the cache, falling
// back to a directory lookup on miss or expiry. Resolution failures keep the
// original address; preferences then decide fail-closed.
func (r *Resolver) resolveAlias(ctx context.Context, email string, userID *string) (string, *string) {
	key := EmailKey(email)

	if alias, err := r.aliases.Get(ctx, key); err == nil {
		id := userID
		if alias.UserID != nil {
			id = alias.UserID
		}
		return alias.PrimaryEmail, id
	} else if !errors.Is(err, store.ErrNotFound) {
		r.log.Warn("Alias cache lookup failed", "email_key", key, "error", err)
	}

	user, err := r.directory.GetUser(ctx, email)
	if err != nil {
		if !graph.IsNotFound(err) {
			r.log.Warn("Directory alias resolution failed", "email_key", key, "error", err)
		}
		return email, userID
	}

	primary := user.Email()
	if primary == "" {
		return email, userID
	}
	alias := &models.EmailAlias{
		AliasKey:     key,
		PrimaryEmail: primary,
		UserID:       &user.ID,
	}
	if user.DisplayName != "" {
		alias.DisplayName = &user.DisplayName
	}
	if user.JobTitle != "" {
		alias.JobTitle = &user.JobTitle
	}
	if err := r.aliases.Put(ctx, alias); err != nil {
		r.log.Warn("Alias cache write failed", "email_key", key, "error", err)
	}
	return primary, &user.ID
}

// checkPreference applies the per-meeting override first, then the org-wide
// preference. No stored preference means no email.
func (r *Resolver) checkPreference(ctx context.Context, meetingID string, userID *string, primaryKey, originalKey string) (bool, string, error) {
	for _, key := range prefKeys(primaryKey, originalKey) {
		mp, err := r.prefs.GetMeetingPreference(ctx, meetingID, key)
		if err == nil {
			if mp.ReceiveEmails {
				return true, "", nil
			}
			return false, ReasonMeetingOptOut, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, "", fmt.Errorf("meeting preference lookup: %w", err)
		}
	}

	id := ""
	if userID != nil {
		id = *userID
	}
	for _, key := range prefKeys(primaryKey, originalKey) {
		up, err := r.prefs.GetUserPreference(ctx, id, key)
		if err == nil {
			if up.ReceiveEmails {
				return true, "", nil
			}
			return false, ReasonOptedOut, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, "", fmt.Errorf("user preference lookup: %w", err)
		}
		// The user id matched nothing either; only retry with the second
		// key when it differs.
		id = ""
	}
	if r.cfg != nil && r.cfg.Settings().DefaultOptIn {
		return true, "", nil
	}
	return false, ReasonNoPreference, nil
}

func prefKeys(primaryKey, originalKey string) []string {
	if originalKey == "" || originalKey == primaryKey {
		return []string{primaryKey}
	}
	return []string{primaryKey, originalKey}
}
