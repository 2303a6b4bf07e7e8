package models

import "time"

// Email preference values for UserPreference.EmailPreference.
const (
	EmailPreferenceAll      = "all"
	EmailPreferenceDisabled = "disabled"
)

// UserPreference is the org-wide email opt-in state for one user. The stable
// GUID is the primary correlation key; EmailKey stores the alias-tolerant
// form of the address (lowercased, dots stripped from the local part).
// Unknown users default to opt-in false.
type UserPreference struct {
	ID              string    `db:"id" json:"id"`
	UserID          *string   `db:"user_id" json:"user_id,omitempty"`
	UserEmail       string    `db:"user_email" json:"user_email"`
	EmailKey        string    `db:"email_key" json:"-"`
	ReceiveEmails   bool      `db:"receive_emails" json:"receive_emails"`
	EmailPreference string    `db:"email_preference" json:"email_preference"`
	UpdatedBy       *string   `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// MeetingPreference is a per-(user, meeting) override that supersedes the
// user's org-wide preference for that meeting only.
type MeetingPreference struct {
	ID            string    `db:"id" json:"id"`
	MeetingID     string    `db:"meeting_id" json:"meeting_id"`
	UserID        *string   `db:"user_id" json:"user_id,omitempty"`
	EmailKey      string    `db:"email_key" json:"-"`
	UserEmail     string    `db:"user_email" json:"user_email"`
	ReceiveEmails bool      `db:"receive_emails" json:"receive_emails"`
	UpdatedBy     *string   `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// EmailAlias caches an alias address → primary address resolution from the
// directory. Entries older than 7 days are expired and re-resolved on use.
type EmailAlias struct {
	ID           string    `db:"id" json:"id"`
	AliasKey     string    `db:"alias_key" json:"alias_key"`
	PrimaryEmail string    `db:"primary_email" json:"primary_email"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	DisplayName  *string   `db:"display_name" json:"display_name,omitempty"`
	JobTitle     *string   `db:"job_title" json:"job_title,omitempty"`
	ResolvedAt   time.Time `db:"resolved_at" json:"resolved_at"`
}

// AliasTTL is how long a cached alias resolution stays valid.
const AliasTTL = 7 * 24 * time.Hour

// Expired reports whether the cached resolution is older than AliasTTL.
func (a *EmailAlias) Expired(now time.Time) bool {
	return now.Sub(a.ResolvedAt) > AliasTTL
}
