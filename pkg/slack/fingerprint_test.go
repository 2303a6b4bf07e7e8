package slack

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase",
			input:    "Subscription DOWN: callRecords",
			expected: "subscription down: callrecords",
		},
		{
			name:     "collapse whitespace",
			input:    "subscription   down\t\tfor\n\ncallRecords",
			expected: "subscription down for callrecords",
		},
		{
			name:     "trim",
			input:    "  hello  ",
			expected: "hello",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "mixed case and whitespace",
			input:    "  ALERT:   Subscription   sub-42   expired  ",
			expected: "alert: subscription sub-42 expired",
		},
		{
			name:     "mrkdwn markup stripped",
			input:    "*Subscription down:* `/communications/callRecords`",
			expected: "subscription down: /communications/callrecords",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeText(tt.input))
		})
	}
}

func TestCollectMessageText(t *testing.T) {
	tests := []struct {
		name     string
		msg      goslack.Message
		expected string
	}{
		{
			name: "text only",
			msg: goslack.Message{
				Msg: goslack.Msg{Text: "hello world"},
			},
			expected: "hello world",
		},
		{
			name: "text with attachment text",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Text: "alert",
					Attachments: []goslack.Attachment{
						{Text: "subscription expired"},
					},
				},
			},
			expected: "alert subscription expired",
		},
		{
			name: "text with attachment fallback",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Text: "alert",
					Attachments: []goslack.Attachment{
						{Fallback: "subscription expired fallback"},
					},
				},
			},
			expected: "alert subscription expired fallback",
		},
		{
			name: "attachment with both text and fallback",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Attachments: []goslack.Attachment{
						{Text: "att text", Fallback: "att fallback"},
					},
				},
			},
			expected: "att text att fallback",
		},
		{
			name: "block kit section text",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Blocks: goslack.Blocks{BlockSet: []goslack.Block{
						goslack.NewSectionBlock(
							goslack.NewTextBlockObject(goslack.MarkdownType,
								":rotating_light: *Subscription down: callRecords*", false, false),
							nil, nil,
						),
					}},
				},
			},
			expected: ":rotating_light: *Subscription down: callRecords*",
		},
		{
			name:     "empty message",
			msg:      goslack.Message{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, collectMessageText(tt.msg))
		})
	}
}

func TestMatchesFingerprint(t *testing.T) {
	outage := goslack.Message{
		Msg: goslack.Msg{
			Blocks: goslack.Blocks{BlockSet: []goslack.Block{
				goslack.NewSectionBlock(
					goslack.NewTextBlockObject(goslack.MarkdownType,
						":rotating_light: *Subscription down: /communications/callRecords*", false, false),
					nil, nil,
				),
			}},
		},
	}

	assert.True(t, matchesFingerprint(outage,
		normalizeText("Subscription down: /communications/callRecords")),
		"block-only history entries still match")
	assert.False(t, matchesFingerprint(outage,
		normalizeText("Subscription down: /communications/onlineMeetings/getAllTranscripts")))
	assert.False(t, matchesFingerprint(outage, ""),
		"empty fingerprint never matches")
}
