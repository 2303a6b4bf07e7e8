package slack

import (
	"regexp"
	"strings"

	goslack "github.com/slack-go/slack"
)

// Matching is lowercase with mrkdwn markup stripped and whitespace
// collapsed: the outage header wraps the fingerprint in bold, and Slack may
// rewrap long resource paths, so a byte-exact comparison would miss the
// message we posted ourselves.
var (
	markupRe = regexp.MustCompile("[*_~`]")
	spaceRe  = regexp.MustCompile(`\s+`)
)

func normalizeText(s string) string {
	s = markupRe.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// matchesFingerprint reports whether any text in the message contains the
// already-normalized fingerprint.
func matchesFingerprint(msg goslack.Message, normalized string) bool {
	if normalized == "" {
		return false
	}
	return strings.Contains(normalizeText(collectMessageText(msg)), normalized)
}

// collectMessageText flattens everything searchable in a history entry.
// Outage notices are Block Kit sections, so section text is scanned
// alongside the top-level text and legacy attachments.
func collectMessageText(msg goslack.Message) string {
	var parts []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	for _, block := range msg.Blocks.BlockSet {
		if section, ok := block.(*goslack.SectionBlock); ok && section.Text != nil {
			parts = append(parts, section.Text.Text)
		}
	}
	for _, att := range msg.Attachments {
		if att.Text != "" {
			parts = append(parts, att.Text)
		}
		if att.Fallback != "" {
			parts = append(parts, att.Fallback)
		}
	}
	return strings.Join(parts, " ")
}
