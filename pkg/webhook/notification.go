// Package webhook ingests Graph change notifications delivered over the
// relay: it classifies each notification, deduplicates it, persists the
// meeting, and enqueues the processing chain.
package webhook

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Notification is one Graph change notification.
type Notification struct {
	SubscriptionID string `json:"subscriptionId"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	ClientState    string `json:"clientState,omitempty"`
	TenantID       string `json:"tenantId,omitempty"`
}

// Kind classifies a notification by its resource path.
type Kind string

// Notification kinds.
const (
	KindTranscriptReady Kind = "transcript_ready"
	KindCallRecord      Kind = "call_record"
	KindUnknown         Kind = "unknown"
)

// TranscriptRef identifies one transcript of one online meeting.
type TranscriptRef struct {
	UserID       string
	MeetingID    string
	TranscriptID string
}

var (
	// users('{userId}')/onlineMeetings('{meetingId}')/transcripts('{transcriptId}')
	transcriptResource = regexp.MustCompile(`users\('([^']+)'\)/onlineMeetings\('([^']+)'\)/transcripts\('([^']+)'\)`)

	// communications/callRecords/{id}
	callRecordResource = regexp.MustCompile(`communications/callRecords/([^/?'\s]+)`)
)

// ParseEnvelope decodes either a `{value: [...]}` batch or a single
// notification object.
func ParseEnvelope(data []byte) ([]Notification, error) {
	var batch struct {
		Value []Notification `json:"value"`
	}
	if err := json.Unmarshal(data, &batch); err == nil && len(batch.Value) > 0 {
		return batch.Value, nil
	}

	var single Notification
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("decoding notification envelope: %w", err)
	}
	if single.Resource == "" {
		return nil, fmt.Errorf("notification envelope carries no notifications")
	}
	return []Notification{single}, nil
}

// Classify determines the notification kind and extracts the resource ids.
// For transcript-ready notifications ref is set; for call-record
// notifications callRecordID is set.
func Classify(n *Notification) (kind Kind, ref *TranscriptRef, callRecordID string) {
	if m := transcriptResource.FindStringSubmatch(n.Resource); m != nil {
		return KindTranscriptReady, &TranscriptRef{
			UserID:       m[1],
			MeetingID:    m[2],
			TranscriptID: m[3],
		}, ""
	}
	if m := callRecordResource.FindStringSubmatch(n.Resource); m != nil && n.ChangeType == "created" {
		return KindCallRecord, nil, m[1]
	}
	return KindUnknown, nil, ""
}
