package graph

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// User is the directory profile subset used for organizer resolution,
// alias resolution, and participant enrichment.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	JobTitle          string `json:"jobTitle"`
	Department        string `json:"department"`
	OfficeLocation    string `json:"officeLocation"`
	CompanyName       string `json:"companyName"`
}

// Email returns the user's primary address: mail when set, otherwise the
// user principal name.
func (u *User) Email() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

const userSelect = "$select=id,displayName,mail,userPrincipalName,jobTitle,department,officeLocation,companyName"

// GetUser looks up a user by GUID or by email/UPN (Graph accepts both in
// the path segment).
func (c *Client) GetUser(ctx context.Context, idOrEmail string) (*User, error) {
	var user User
	u := c.url("/users/%s?%s", url.PathEscape(idOrEmail), userSelect)
	if err := c.get(ctx, u, &user); err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", idOrEmail, err)
	}
	return &user, nil
}

// CalendarEvent is one calendarView entry.
type CalendarEvent struct {
	ID              string `json:"id"`
	Subject         string `json:"subject"`
	IsOnlineMeeting bool   `json:"isOnlineMeeting"`
	Start           struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"end"`
	OnlineMeeting *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting"`
	Organizer struct {
		EmailAddress EmailAddress `json:"emailAddress"`
	} `json:"organizer"`
	Attendees []struct {
		EmailAddress EmailAddress `json:"emailAddress"`
	} `json:"attendees"`
}

// EmailAddress is the Graph name/address pair.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// StartTime parses the event start in its declared zone (Graph returns
// local wall time without offset).
func (e *CalendarEvent) StartTime() (time.Time, error) {
	return parseEventTime(e.Start.DateTime, e.Start.TimeZone)
}

// EndTime parses the event end.
func (e *CalendarEvent) EndTime() (time.Time, error) {
	return parseEventTime(e.End.DateTime, e.End.TimeZone)
}

func parseEventTime(value, zone string) (time.Time, error) {
	loc := time.UTC
	if zone != "" && zone != "UTC" {
		if l, err := time.LoadLocation(zone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.0000000", value, loc)
	if err != nil {
		// Some tenants omit fractional seconds.
		t, err = time.ParseInLocation("2006-01-02T15:04:05", value, loc)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing event time %q: %w", value, err)
	}
	return t, nil
}

// ListCalendarView returns a user's calendar events within a window,
// filtered server-side to the window and client-side to online meetings by
// the caller.
func (c *Client) ListCalendarView(ctx context.Context, userEmail string, start, end time.Time) ([]CalendarEvent, error) {
	u := c.url("/users/%s/calendarView?startDateTime=%s&endDateTime=%s&$top=100",
		url.PathEscape(userEmail),
		url.QueryEscape(start.UTC().Format(time.RFC3339)),
		url.QueryEscape(end.UTC().Format(time.RFC3339)))

	var out struct {
		Value []CalendarEvent `json:"value"`
	}
	if err := c.get(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("listing calendar view for %s: %w", userEmail, err)
	}
	return out.Value, nil
}
