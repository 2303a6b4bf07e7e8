package graph

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// TranscriptInfo is the metadata of one online-meeting transcript.
type TranscriptInfo struct {
	ID                   string    `json:"id"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	TranscriptContentURL string    `json:"transcriptContentUrl"`
}

// ListTranscripts lists the transcripts of an online meeting, newest last.
// The userID is the meeting organizer (or, for the 403 fallback path, a
// participant whose identity grants access).
func (c *Client) ListTranscripts(ctx context.Context, userID, meetingID string) ([]TranscriptInfo, error) {
	var out struct {
		Value []TranscriptInfo `json:"value"`
	}
	u := c.url("/users/%s/onlineMeetings/%s/transcripts",
		url.PathEscape(userID), url.PathEscape(meetingID))
	if err := c.get(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("listing transcripts for meeting %s: %w", meetingID, err)
	}
	return out.Value, nil
}

// GetTranscriptContent downloads a transcript's content as WebVTT.
func (c *Client) GetTranscriptContent(ctx context.Context, userID, meetingID, transcriptID string) ([]byte, error) {
	u := c.url("/users/%s/onlineMeetings/%s/transcripts/%s/content?$format=text/vtt",
		url.PathEscape(userID), url.PathEscape(meetingID), url.PathEscape(transcriptID))
	body, err := c.getRaw(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("downloading transcript %s: %w", transcriptID, err)
	}
	return body, nil
}

// OnlineMeeting is the subset of the onlineMeeting resource the pipeline
// uses: the chat thread for summary posts.
type OnlineMeeting struct {
	ID       string `json:"id"`
	ChatInfo struct {
		ThreadID string `json:"threadId"`
	} `json:"chatInfo"`
}

// GetOnlineMeetingByJoinURL resolves an online meeting (and its chat thread)
// from a join URL, in the context of the given user.
func (c *Client) GetOnlineMeetingByJoinURL(ctx context.Context, userID, joinURL string) (*OnlineMeeting, error) {
	filter := url.QueryEscape(fmt.Sprintf("JoinWebUrl eq '%s'", joinURL))
	u := c.url("/users/%s/onlineMeetings?$filter=%s", url.PathEscape(userID), filter)

	var out struct {
		Value []OnlineMeeting `json:"value"`
	}
	if err := c.get(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("resolving online meeting by join url: %w", err)
	}
	if len(out.Value) == 0 {
		return nil, &APIError{StatusCode: 404, Message: "no online meeting for join url"}
	}
	return &out.Value[0], nil
}
