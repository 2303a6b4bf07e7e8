// Package discovery is the fallback path for meetings the notification
// pipeline missed: eligibility filters shared with ingestion plus a
// calendar poller over the pilot users.
package discovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/recaphq/recap/pkg/config"
)

// Grace periods before a meeting counts as over: call records carry the
// actual end, calendar entries only the scheduled one, so the latter waits
// longer for the transcript to land.
const (
	callRecordGrace = 5 * time.Minute
	scheduledGrace  = 15 * time.Minute
)

// Candidate is a meeting under eligibility evaluation.
type Candidate struct {
	Subject           string
	OrganizerEmail    string
	ParticipantEmails []string
	ScheduledEnd      time.Time
	ActualEnd         *time.Time
	Duration          time.Duration
}

// Decision is a filter outcome. Deferred candidates are reconsidered on the
// next pass and never persisted; rejected ones are persisted as skipped with
// the reason.
type Decision struct {
	Eligible bool
	Deferred bool
	Reason   string
}

func eligible() Decision              { return Decision{Eligible: true} }
func deferred() Decision              { return Decision{Deferred: true} }
func rejected(reason string) Decision { return Decision{Reason: reason} }

// Evaluate applies the completion check, duration filter, exclusion rules,
// and pilot gate in that order.
func Evaluate(now time.Time, c *Candidate, settings *config.Settings) Decision {
	if !isOver(now, c) {
		return deferred()
	}

	if minDur := settings.MinMeetingDuration(); c.Duration < minDur {
		return rejected(fmt.Sprintf("duration %s below minimum %s", c.Duration.Round(time.Second), minDur))
	}

	if reason, excluded := matchExclusion(c, settings.Exclusions); excluded {
		return rejected(reason)
	}

	if settings.PilotMode && !anyPilotUser(c, settings) {
		return rejected("no pilot user on the meeting")
	}

	return eligible()
}

// isOver reports whether the meeting has been finished long enough for a
// transcript to exist.
func isOver(now time.Time, c *Candidate) bool {
	if c.ActualEnd != nil {
		return !now.Before(c.ActualEnd.Add(callRecordGrace))
	}
	if c.ScheduledEnd.IsZero() {
		return false
	}
	return !now.Before(c.ScheduledEnd.Add(scheduledGrace))
}

func matchExclusion(c *Candidate, rules []config.ExclusionRule) (string, bool) {
	for _, rule := range rules {
		if matchRule(c, rule) {
			reason := rule.Reason
			if reason == "" {
				reason = fmt.Sprintf("excluded by %s rule %q", rule.Type, rule.Value)
			}
			return reason, true
		}
	}
	return "", false
}

func matchRule(c *Candidate, rule config.ExclusionRule) bool {
	switch rule.Type {
	case config.ExclusionTypeUser:
		for _, email := range c.ParticipantEmails {
			if strings.EqualFold(email, rule.Value) {
				return true
			}
		}
	case config.ExclusionTypeDomain:
		suffix := "@" + strings.ToLower(strings.TrimPrefix(rule.Value, "@"))
		for _, email := range c.ParticipantEmails {
			if strings.HasSuffix(strings.ToLower(email), suffix) {
				return true
			}
		}
	case config.ExclusionTypeOrganizer:
		return strings.EqualFold(c.OrganizerEmail, rule.Value)
	}
	return false
}

func anyPilotUser(c *Candidate, settings *config.Settings) bool {
	if settings.IsPilotUser(c.OrganizerEmail) {
		return true
	}
	for _, email := range c.ParticipantEmails {
		if settings.IsPilotUser(email) {
			return true
		}
	}
	return false
}
