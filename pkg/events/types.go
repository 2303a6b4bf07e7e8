// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-process distribution.
//
// All events here are transient: they are broadcast to currently connected
// WebSocket clients and never persisted. Clients that reconnect re-read
// current state from the REST API instead of replaying missed events.
package events

// Event types published over NOTIFY channels.
const (
	// Meeting lifecycle transitions (discovered, queued, processing, ...).
	EventTypeMeetingStatus = "meeting.status"

	// Job lifecycle transitions (pending, running, retrying, ...).
	EventTypeJobStatus = "job.status"
)

// GlobalMeetingsChannel is the channel for meeting-level status events.
// The dashboard meeting list subscribes to this for real-time updates.
const GlobalMeetingsChannel = "meetings"

// GlobalJobsChannel is the channel for job status transitions.
// The queue view subscribes to this.
const GlobalJobsChannel = "jobs"

// MeetingChannel returns the channel name for a specific meeting's events.
// Format: "meeting:{meeting_id}"
func MeetingChannel(meetingID string) string {
	return "meeting:" + meetingID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // Channel name (e.g., "meeting:abc-123")
}
